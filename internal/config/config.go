package config

import (
	"fmt"
	"time"

	"github.com/veranemoloko/model-downloader/internal/digest"
	"github.com/veranemoloko/model-downloader/internal/keepalive"
)

// Wake lock modes.
const (
	WakeLockSysfs  = "sysfs"
	WakeLockMemory = "memory"
)

// Config holds all application configuration settings.
type Config struct {
	Environment string `envconfig:"ENV" default:"development"`

	HTTPPort        int           `envconfig:"HTTP_PORT" default:"8080"`
	HTTPTimeout     time.Duration `envconfig:"HTTP_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	DownloadDir       string `envconfig:"DOWNLOAD_DIR" default:"./models"`
	AllowPrivateHosts bool   `envconfig:"ALLOW_PRIVATE_HOSTS" default:"false"`

	DigestAlgorithm string `envconfig:"DIGEST_ALGORITHM" default:"sha256"`
	DigestChunkSize int    `envconfig:"DIGEST_CHUNK_SIZE" default:"8388608"`

	WakeLockMode       string        `envconfig:"WAKE_LOCK_MODE" default:"memory"`
	WakeLockPath       string        `envconfig:"WAKE_LOCK_PATH" default:"/sys/power/wake_lock"`
	WakeUnlockPath     string        `envconfig:"WAKE_UNLOCK_PATH" default:"/sys/power/wake_unlock"`
	WakeLockTag        string        `envconfig:"WAKE_LOCK_TAG" default:"model-downloader"`
	WakeLockTimeout    time.Duration `envconfig:"WAKE_LOCK_TIMEOUT" default:"24h"`
	NotificationID     string        `envconfig:"NOTIFICATION_ID" default:"model-download"`
	NotificationTitle  string        `envconfig:"NOTIFICATION_TITLE" default:"Downloading Model"`
	NotificationBody   string        `envconfig:"NOTIFICATION_BODY" default:"Download in progress"`
	ProgressRate       float64       `envconfig:"PROGRESS_RATE" default:"4"`
	DownloadTimeout    time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"2h"`
	MaxRetries         int           `envconfig:"MAX_RETRIES" default:"3"`
	RetryDelay         time.Duration `envconfig:"RETRY_DELAY" default:"2s"`
	StorageBufferRatio float64       `envconfig:"STORAGE_BUFFER_RATIO" default:"1.2"`
	SkipExisting       bool          `envconfig:"SKIP_EXISTING" default:"true"`
	QueueSize          int           `envconfig:"QUEUE_SIZE" default:"16"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Validate checks the configuration for invalid or missing values.
// Returns an error describing the first invalid setting found.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.DownloadDir == "" {
		return fmt.Errorf("download directory cannot be empty")
	}

	if err := digest.Supported(c.DigestAlgorithm); err != nil {
		return fmt.Errorf("digest algorithm: %w", err)
	}
	if c.DigestChunkSize <= 0 {
		return fmt.Errorf("digest chunk size must be positive: %d", c.DigestChunkSize)
	}

	switch c.WakeLockMode {
	case WakeLockSysfs, WakeLockMemory:
	default:
		return fmt.Errorf("unknown wake lock mode: %q", c.WakeLockMode)
	}
	if c.WakeLockTag == "" {
		return fmt.Errorf("wake lock tag cannot be empty")
	}
	if c.WakeLockTimeout <= 0 || c.WakeLockTimeout > keepalive.MaxHold {
		return fmt.Errorf("wake lock timeout must be in (0, %s]: %s", keepalive.MaxHold, c.WakeLockTimeout)
	}

	if c.ProgressRate <= 0 {
		return fmt.Errorf("progress rate must be positive: %v", c.ProgressRate)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative: %d", c.MaxRetries)
	}
	if c.StorageBufferRatio < 1 {
		return fmt.Errorf("storage buffer ratio must be at least 1: %v", c.StorageBufferRatio)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive: %d", c.QueueSize)
	}

	return nil
}
