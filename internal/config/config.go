// Package config loads and validates rostertrack configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Archive      ArchiveConfig    `mapstructure:"archive"`
	Crawler      CrawlerConfig    `mapstructure:"crawler"`
	Pagination   PaginationConfig `mapstructure:"pagination"`
	Generator    GeneratorConfig  `mapstructure:"generator"`
	Validation   ValidationConfig `mapstructure:"validation"`
	Storage      StorageConfig    `mapstructure:"storage"`
	Dataset      DatasetConfig    `mapstructure:"dataset"`
	DB           DBConfig         `mapstructure:"db"`
	PubSub       PubSubConfig     `mapstructure:"pubsub"`
	Pipeline     PipelineConfig   `mapstructure:"pipeline"`
	Metrics      MetricsConfig    `mapstructure:"metrics"`
	Logging      LoggingConfig    `mapstructure:"logging"`
	ProgramsFile string           `mapstructure:"programs_file"`
}

// ArchiveConfig controls the snapshot resolver and page fetcher.
type ArchiveConfig struct {
	TimemapEndpoint string        `mapstructure:"timemap_endpoint"`
	RawContent      bool          `mapstructure:"raw_content"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialDelay    time.Duration `mapstructure:"initial_delay"`
	MaxDelay        time.Duration `mapstructure:"max_delay"`
	Jitter          float64       `mapstructure:"jitter"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// CrawlerConfig governs the HTTP client and per-host politeness.
type CrawlerConfig struct {
	UserAgent     string             `mapstructure:"user_agent"`
	RespectRobots bool               `mapstructure:"respect_robots"`
	RPS           float64            `mapstructure:"rps"`
	Burst         int                `mapstructure:"burst"`
	HostRPS       map[string]float64 `mapstructure:"host_rps"`
}

// PaginationConfig tunes page discovery.
type PaginationConfig struct {
	Param           string `mapstructure:"param"`
	HeadingSelector string `mapstructure:"heading_selector"`
	Threshold       int    `mapstructure:"threshold"`
	MaxPages        int    `mapstructure:"max_pages"`
}

// GeneratorConfig controls the rule generation service and repair loop.
type GeneratorConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	BaseURL           string        `mapstructure:"base_url"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute"`
	Timeout           time.Duration `mapstructure:"timeout"`
	ChunkSize         int           `mapstructure:"chunk_size"`
	ChunkCount        int           `mapstructure:"chunk_count"`
	MaxIterations     int           `mapstructure:"max_iterations"`
	MaxHistoryChars   int           `mapstructure:"max_history_chars"`
	ServiceAttempts   int           `mapstructure:"service_attempts"`
	ServiceDelay      time.Duration `mapstructure:"service_delay"`
	PromptsFile       string        `mapstructure:"prompts_file"`
}

// ValidationConfig toggles optional name checks.
type ValidationConfig struct {
	RequireInSource bool `mapstructure:"require_in_source"`
}

// StorageConfig selects the blob backend for rules and dataset versions.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// DatasetConfig places dataset versions inside the blob backend.
type DatasetConfig struct {
	Prefix string `mapstructure:"prefix"`
}

// DBConfig controls the optional Postgres mirror.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for dataset version notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// PipelineConfig bounds fan-out.
type PipelineConfig struct {
	ProgramConcurrency  int `mapstructure:"program_concurrency"`
	SnapshotConcurrency int `mapstructure:"snapshot_concurrency"`
}

// MetricsConfig enables the /metrics and /healthz listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ROSTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("archive.timemap_endpoint", "http://web.archive.org/web/timemap/link/")
	v.SetDefault("archive.raw_content", false)
	v.SetDefault("archive.max_attempts", 10)
	v.SetDefault("archive.initial_delay", 16*time.Second)
	v.SetDefault("archive.max_delay", 30*time.Minute)
	v.SetDefault("archive.jitter", 0.0)
	v.SetDefault("archive.request_timeout", 60*time.Second)
	v.SetDefault("crawler.user_agent", "rostertrack/0.1")
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.rps", 1.0)
	v.SetDefault("crawler.burst", 1)
	v.SetDefault("pagination.param", "pg")
	v.SetDefault("pagination.heading_selector", "h1.plain")
	v.SetDefault("pagination.threshold", 50)
	v.SetDefault("pagination.max_pages", 1000)
	v.SetDefault("generator.enabled", true)
	v.SetDefault("generator.model", "gpt-4o-mini")
	v.SetDefault("generator.requests_per_minute", 20.0)
	v.SetDefault("generator.timeout", 2*time.Minute)
	v.SetDefault("generator.chunk_size", 1000)
	v.SetDefault("generator.chunk_count", 10)
	v.SetDefault("generator.max_iterations", 30)
	v.SetDefault("generator.max_history_chars", 100000)
	v.SetDefault("generator.service_attempts", 5)
	v.SetDefault("generator.service_delay", 2*time.Second)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "data")
	v.SetDefault("dataset.prefix", "dataset/")
	v.SetDefault("db.table", "person_summaries")
	v.SetDefault("pubsub.topic_name", "dataset-versions")
	v.SetDefault("pipeline.program_concurrency", 1)
	v.SetDefault("pipeline.snapshot_concurrency", 4)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("programs_file", "programs.csv")

	// Bound explicitly so the environment can supply secrets that have no default.
	_ = v.BindEnv("generator.api_key", "ROSTER_GENERATOR_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("db.dsn")
	_ = v.BindEnv("pubsub.project_id")
	_ = v.BindEnv("storage.gcs_bucket")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Archive.TimemapEndpoint == "" {
		return fmt.Errorf("archive.timemap_endpoint is required")
	}
	if c.Archive.MaxAttempts <= 0 {
		return fmt.Errorf("archive.max_attempts must be > 0")
	}
	if c.Archive.RequestTimeout <= 0 {
		return fmt.Errorf("archive.request_timeout must be > 0")
	}
	if c.Archive.Jitter < 0 || c.Archive.Jitter > 1 {
		return fmt.Errorf("archive.jitter must be within [0,1]")
	}
	if c.Pagination.MaxPages < 1 {
		return fmt.Errorf("pagination.max_pages must be >= 1")
	}
	if c.Pagination.Param == "" {
		return fmt.Errorf("pagination.param is required")
	}
	if c.Generator.Enabled {
		if c.Generator.MaxIterations <= 0 {
			return fmt.Errorf("generator.max_iterations must be > 0")
		}
		if c.Generator.ChunkSize <= 0 || c.Generator.ChunkCount <= 0 {
			return fmt.Errorf("generator.chunk_size and generator.chunk_count must be > 0")
		}
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Pipeline.ProgramConcurrency <= 0 || c.Pipeline.SnapshotConcurrency <= 0 {
		return fmt.Errorf("pipeline concurrency must be > 0")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr must be set when metrics are enabled")
	}
	return nil
}
