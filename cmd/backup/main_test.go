package main

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
)

func TestBackupKeyUsesDatabasePrefix(t *testing.T) {
	now := time.Date(2023, 7, 14, 9, 30, 0, 0, time.UTC)
	key := backupKey("ijdr", now)
	assert.Equal(t, "ijdr/backup-2023-07-14T09-30-00Z.sql.gz", key,
		"backup key should carry the database name and timestamp")
}

func TestSelectExpiredKeepsNewest(t *testing.T) {
	base := time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)
	var objects []types.Object
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Hour)
		objects = append(objects, types.Object{
			Key:          aws.String(backupKey("ijdr", ts)),
			LastModified: aws.Time(ts),
		})
	}

	expired := selectExpired(objects, 3)
	assert.Equal(t, []string{
		"ijdr/backup-2023-07-01T01-00-00Z.sql.gz",
		"ijdr/backup-2023-07-01T00-00-00Z.sql.gz",
	}, expired, "only the two oldest dumps should rotate out")
}

func TestSelectExpiredNoRotationUnderLimit(t *testing.T) {
	objects := []types.Object{
		{Key: aws.String("ijdr/backup-a.sql.gz"), LastModified: aws.Time(time.Now())},
	}
	assert.Nil(t, selectExpired(objects, 4))
}
