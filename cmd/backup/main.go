// Command backup dumps the journal database, compresses it and uploads
// it to the backup bucket, rotating out the oldest copies.
package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/aman54kumar/ijdr/config"
	"github.com/aman54kumar/ijdr/storage"
)

// backupOptions covers the settings the API server does not need.
type backupOptions struct {
	Bucket string `envconfig:"BACKUP_S3_BUCKET" required:"true"`
	Keep   int    `envconfig:"KEEP_BACKUPS" default:"4"`
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting backup process")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	var opts backupOptions
	if err := envconfig.Process("", &opts); err != nil {
		logger.Fatal("Failed to load backup settings", zap.Error(err))
	}

	dumpData, err := createDump(cfg)
	if err != nil {
		logger.Fatal("Failed to create database dump", zap.Error(err))
	}

	client, err := storage.NewS3Client(cfg)
	if err != nil {
		logger.Fatal("Failed to create S3 client", zap.Error(err))
	}

	key := backupKey(cfg.DBName, time.Now().UTC())
	if err := upload(client, opts.Bucket, key, dumpData); err != nil {
		logger.Fatal("Failed to upload backup", zap.Error(err))
	}
	logger.Info("Backup uploaded",
		zap.String("bucket", opts.Bucket),
		zap.String("key", key))

	if err := rotateBackups(client, logger, opts, cfg.DBName); err != nil {
		logger.Fatal("Failed to rotate old backups", zap.Error(err))
	}

	logger.Info("Backup process completed")
}

// backupKey places dumps under a per-database prefix so several databases
// can share one backup bucket.
func backupKey(dbName string, now time.Time) string {
	return fmt.Sprintf("%s/backup-%s.sql.gz", dbName, now.Format("2006-01-02T15-04-05Z"))
}

func createDump(cfg *config.Config) ([]byte, error) {
	cmd := exec.Command("pg_dump",
		"-h", cfg.DBHost,
		"-p", strconv.Itoa(cfg.DBPort),
		"-U", cfg.DBUser,
		"-d", cfg.DBName,
		"-w", // password comes from PGPASSWORD
	)
	cmd.Env = append(os.Environ(), fmt.Sprintf("PGPASSWORD=%s", cfg.DBPassword))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)
	if _, err := io.Copy(gzipWriter, stdout); err != nil {
		return nil, err
	}
	if err := gzipWriter.Close(); err != nil {
		return nil, err
	}
	if err := cmd.Wait(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func upload(client *s3.Client, bucket, key string, data []byte) error {
	_, err := client.PutObject(context.TODO(), &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

func rotateBackups(client *s3.Client, logger *zap.Logger, opts backupOptions, dbName string) error {
	output, err := client.ListObjectsV2(context.TODO(), &s3.ListObjectsV2Input{
		Bucket: aws.String(opts.Bucket),
		Prefix: aws.String(dbName + "/"),
	})
	if err != nil {
		return err
	}

	expired := selectExpired(output.Contents, opts.Keep)
	if len(expired) == 0 {
		logger.Info("No expired backups to rotate", zap.Int("keep", opts.Keep))
		return nil
	}

	for _, key := range expired {
		logger.Info("Deleting old backup", zap.String("key", key))
		_, err := client.DeleteObject(context.TODO(), &s3.DeleteObjectInput{
			Bucket: aws.String(opts.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			logger.Error("Failed to delete backup", zap.String("key", key), zap.Error(err))
		}
	}

	return nil
}

// selectExpired returns the keys of all but the keep newest objects.
func selectExpired(objects []types.Object, keep int) []string {
	if len(objects) <= keep {
		return nil
	}
	sorted := make([]types.Object, len(objects))
	copy(sorted, objects)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].LastModified.After(*sorted[j].LastModified)
	})

	var keys []string
	for _, obj := range sorted[keep:] {
		keys = append(keys, *obj.Key)
	}
	return keys
}
