package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration. Secrets and endpoints come from
// the environment; tunables come from the YAML file and may be changed at
// run time through the detection_settings table.
type Config struct {
	HTTP struct {
		Port string `yaml:"port"`
	} `yaml:"http"`

	Schedule struct {
		Timezone      string `yaml:"timezone"`       // fixed offset, e.g. "+07:00"
		RecapHour     int    `yaml:"recap_hour"`     // 7
		RecapMinute   int    `yaml:"recap_minute"`   // 30
		RetentionDays int    `yaml:"retention_days"` // 32
	} `yaml:"schedule"`

	Pipeline struct {
		FrameSkip         int     `yaml:"frame_skip"`
		QueueSize         int     `yaml:"queue_size"`
		CooldownSeconds   float64 `yaml:"cooldown_seconds"`
		CleanupInterval   float64 `yaml:"cleanup_interval"`
		ConfidenceThresh  float64 `yaml:"confidence_threshold"`
		PaddingPercent    float64 `yaml:"padding_percent"`
		TargetMaxWidth    int     `yaml:"target_max_width"`
		RetryDelaySeconds int     `yaml:"retry_delay_seconds"`
		MaxRetries        int     `yaml:"max_retries"`
		FailureThreshold  int     `yaml:"failure_threshold"`
		ProcessorWorkers  int     `yaml:"processor_workers"`
		ProcessorQueue    int     `yaml:"processor_queue"`
	} `yaml:"pipeline"`

	Storage struct {
		Bucket string `yaml:"bucket"`
	} `yaml:"storage"`

	Events struct {
		NatsSubject     string `yaml:"nats_subject"`
		PublishRetryMax int    `yaml:"publish_retry_max"`
		DedupTTLSeconds int    `yaml:"dedup_ttl_seconds"`
		DedupMaxKeys    int    `yaml:"dedup_max_keys"`
	} `yaml:"events"`

	// Environment-sourced fields, not present in YAML.
	DBHost      string `yaml:"-"`
	DBPort      string `yaml:"-"`
	DBUser      string `yaml:"-"`
	DBPassword  string `yaml:"-"`
	DBName      string `yaml:"-"`
	DBSSLMode   string `yaml:"-"`
	RedisAddr   string `yaml:"-"`
	NatsURL     string `yaml:"-"`
	StorageURL  string `yaml:"-"`
	StorageKey  string `yaml:"-"`
	ModelPath   string `yaml:"-"`
	ModelLabels string `yaml:"-"`
	OrtLibPath  string `yaml:"-"`
	FFmpegPath  string `yaml:"-"`
}

// Load reads the YAML file, applies defaults, then overlays environment
// variables. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	if raw, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg.applyDefaults() // a partial YAML must not zero out required knobs
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Port == "" {
		c.HTTP.Port = "8080"
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "+07:00"
	}
	if c.Schedule.RecapHour == 0 {
		c.Schedule.RecapHour = 7
	}
	if c.Schedule.RecapMinute == 0 {
		c.Schedule.RecapMinute = 30
	}
	if c.Schedule.RetentionDays == 0 {
		c.Schedule.RetentionDays = 32
	}
	if c.Pipeline.FrameSkip == 0 {
		c.Pipeline.FrameSkip = 15
	}
	if c.Pipeline.QueueSize == 0 {
		c.Pipeline.QueueSize = 3
	}
	if c.Pipeline.CooldownSeconds == 0 {
		c.Pipeline.CooldownSeconds = 60
	}
	if c.Pipeline.CleanupInterval == 0 {
		c.Pipeline.CleanupInterval = 60
	}
	if c.Pipeline.ConfidenceThresh == 0 {
		c.Pipeline.ConfidenceThresh = 0.3
	}
	if c.Pipeline.PaddingPercent == 0 {
		c.Pipeline.PaddingPercent = 0.5
	}
	if c.Pipeline.TargetMaxWidth == 0 {
		c.Pipeline.TargetMaxWidth = 320
	}
	if c.Pipeline.RetryDelaySeconds == 0 {
		c.Pipeline.RetryDelaySeconds = 2
	}
	if c.Pipeline.MaxRetries == 0 {
		c.Pipeline.MaxRetries = 5
	}
	if c.Pipeline.FailureThreshold == 0 {
		c.Pipeline.FailureThreshold = 10
	}
	if c.Pipeline.ProcessorWorkers == 0 {
		c.Pipeline.ProcessorWorkers = 4
	}
	if c.Pipeline.ProcessorQueue == 0 {
		c.Pipeline.ProcessorQueue = 64
	}
	if c.Storage.Bucket == "" {
		c.Storage.Bucket = "evidence"
	}
	if c.Events.NatsSubject == "" {
		c.Events.NatsSubject = "ppe.violations"
	}
	if c.Events.PublishRetryMax == 0 {
		c.Events.PublishRetryMax = 3
	}
	if c.Events.DedupTTLSeconds == 0 {
		c.Events.DedupTTLSeconds = 60
	}
	if c.Events.DedupMaxKeys == 0 {
		c.Events.DedupMaxKeys = 4096
	}
}

func (c *Config) applyEnv() {
	c.DBHost = envOr("DB_HOST", "localhost")
	c.DBPort = envOr("DB_PORT", "5432")
	c.DBUser = os.Getenv("DB_USER")
	c.DBPassword = os.Getenv("DB_PASSWORD")
	c.DBName = os.Getenv("DB_NAME")
	c.DBSSLMode = envOr("DB_SSLMODE", "disable")
	c.RedisAddr = envOr("REDIS_ADDR", "localhost:6379")
	c.NatsURL = os.Getenv("NATS_URL")
	c.StorageURL = os.Getenv("STORAGE_URL")
	c.StorageKey = os.Getenv("STORAGE_KEY")
	if b := os.Getenv("STORAGE_BUCKET"); b != "" {
		c.Storage.Bucket = b
	}
	c.ModelPath = envOr("MODEL_PATH", "models/ppe.onnx")
	c.ModelLabels = envOr("MODEL_LABELS", "models/ppe.labels")
	c.OrtLibPath = os.Getenv("ONNXRUNTIME_LIB")
	c.FFmpegPath = envOr("FFMPEG_PATH", "ffmpeg")
	if p := os.Getenv("HTTP_PORT"); p != "" {
		c.HTTP.Port = p
	}
}

// DSN builds the postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// ScheduleLocation resolves the configured fixed-offset timezone.
func (c *Config) ScheduleLocation() *time.Location {
	loc, err := ParseFixedOffset(c.Schedule.Timezone)
	if err != nil {
		return time.FixedZone("WIB", 7*3600)
	}
	return loc
}

// ParseFixedOffset turns "+07:00" / "-05:30" into a fixed time.Location.
func ParseFixedOffset(s string) (*time.Location, error) {
	var sign int
	switch {
	case len(s) == 6 && s[0] == '+':
		sign = 1
	case len(s) == 6 && s[0] == '-':
		sign = -1
	default:
		return nil, fmt.Errorf("config: bad timezone offset %q", s)
	}
	var hh, mm int
	if _, err := fmt.Sscanf(s[1:], "%02d:%02d", &hh, &mm); err != nil {
		return nil, fmt.Errorf("config: bad timezone offset %q", s)
	}
	offset := sign * (hh*3600 + mm*60)
	return time.FixedZone(fmt.Sprintf("UTC%s", s), offset), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
