package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration parameters read from environment variables.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"8000"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// Root directory for locally stored journal and article PDFs.
	MediaRoot string `envconfig:"MEDIA_ROOT" default:"media"`
	// Root for per-ingestion scratch directories. Empty means os.TempDir.
	ScratchRoot string `envconfig:"SCRATCH_ROOT"`

	// External chapter-extraction tool.
	ExtractorBin     string        `envconfig:"EXTRACTOR_BIN" default:"pdf-chapters"`
	ExtractorTimeout time.Duration `envconfig:"EXTRACTOR_TIMEOUT" default:"5m"`
	// Extraction stops once this trailer section is reached.
	TrailerMarker string `envconfig:"TRAILER_MARKER" default:"Guidelines for Contributors"`

	// Tags attached to every newly created article.
	DefaultTags []string `envconfig:"DEFAULT_TAGS" default:"Science,Technology,Engineering"`

	S3Key    string `envconfig:"S3_KEY" required:"true"`
	S3Secret string `envconfig:"S3_SECRET" required:"true"`
	S3URL    string `envconfig:"S3_URL" required:"true"`
	S3Region string `envconfig:"S3_REGION" required:"true"`
	S3Bucket string `envconfig:"S3_BUCKET" required:"true"`

	FirestoreProject     string `envconfig:"FIRESTORE_PROJECT" required:"true"`
	FirestoreCredentials string `envconfig:"FIRESTORE_CREDENTIALS"`

	SyncTimeout time.Duration `envconfig:"SYNC_TIMEOUT" default:"30s"`
	// Schedule for the remote-sync reconciliation job.
	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"0 * * * *"`
}

// DSN returns the data source name for the PostgreSQL connection.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
