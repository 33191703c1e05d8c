// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	AI       AIConfig       `mapstructure:"ai"`
	DB       DBConfig       `mapstructure:"db"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// PipelineConfig governs worker fan-out and pipeline stage behavior.
type PipelineConfig struct {
	Workers              int     `mapstructure:"workers"`
	QueueDepth           int     `mapstructure:"queue_depth"`
	MaxJourneys          int     `mapstructure:"max_journeys"`
	ScreensPerJourney    int     `mapstructure:"screens_per_journey"`
	AnalysisConcurrency  int     `mapstructure:"analysis_concurrency"`
	QualityFlagThreshold float64 `mapstructure:"quality_flag_threshold"`
}

// CrawlConfig bounds the browser crawl of one job.
type CrawlConfig struct {
	MaxScreens        int     `mapstructure:"max_screens"`
	NavTimeoutSeconds int     `mapstructure:"nav_timeout_seconds"`
	SettleIdleSeconds int     `mapstructure:"settle_idle_seconds"`
	SettleMaxSeconds  int     `mapstructure:"settle_max_seconds"`
	ViewportWidth     int     `mapstructure:"viewport_width"`
	ViewportHeight    int     `mapstructure:"viewport_height"`
	DedupThreshold    float64 `mapstructure:"dedup_threshold"`
	DOMTokenBudget    int     `mapstructure:"dom_token_budget"`
	UserAgent         string  `mapstructure:"user_agent"`
	Headless          bool    `mapstructure:"headless"`
}

// SweepConfig paces the pre-crawl route sweep.
type SweepConfig struct {
	PageTimeoutSeconds int     `mapstructure:"page_timeout_seconds"`
	RequestsPerSec     float64 `mapstructure:"requests_per_sec"`
}

// AIConfig selects the model vendor for analysis and planning.
type AIConfig struct {
	Vendor string `mapstructure:"vendor"`
	Model  string `mapstructure:"model"`
}

// DBConfig controls access to Postgres. An empty DSN selects the
// in-memory stores.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// StorageConfig selects blob persistence. An empty bucket selects the
// in-memory blob store.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	CompletionTopic string `mapstructure:"completion_topic"`
	FailureTopic    string `mapstructure:"failure_topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOCUAGENT")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("pipeline.workers", 2)
	v.SetDefault("pipeline.queue_depth", 64)
	v.SetDefault("pipeline.max_journeys", 8)
	v.SetDefault("pipeline.screens_per_journey", 6)
	v.SetDefault("pipeline.analysis_concurrency", 4)
	v.SetDefault("pipeline.quality_flag_threshold", 0.7)
	v.SetDefault("crawl.max_screens", 50)
	v.SetDefault("crawl.nav_timeout_seconds", 30)
	v.SetDefault("crawl.settle_idle_seconds", 10)
	v.SetDefault("crawl.settle_max_seconds", 30)
	v.SetDefault("crawl.viewport_width", 1440)
	v.SetDefault("crawl.viewport_height", 900)
	v.SetDefault("crawl.dedup_threshold", 0.95)
	v.SetDefault("crawl.dom_token_budget", 3000)
	v.SetDefault("crawl.user_agent", "docuagent/0.1")
	v.SetDefault("crawl.headless", true)
	v.SetDefault("sweep.page_timeout_seconds", 45)
	v.SetDefault("sweep.requests_per_sec", 2.0)
	v.SetDefault("ai.vendor", "claude")
	v.SetDefault("pubsub.completion_topic", "jobs.completed")
	v.SetDefault("pubsub.failure_topic", "jobs.failed")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Crawl.MaxScreens <= 0 {
		return fmt.Errorf("crawl.max_screens must be > 0")
	}
	if c.Crawl.DedupThreshold <= 0 || c.Crawl.DedupThreshold > 1 {
		return fmt.Errorf("crawl.dedup_threshold must be in (0, 1]")
	}
	if c.Pipeline.QualityFlagThreshold <= 0 || c.Pipeline.QualityFlagThreshold > 1 {
		return fmt.Errorf("pipeline.quality_flag_threshold must be in (0, 1]")
	}
	if c.AI.Vendor == "" {
		return fmt.Errorf("ai.vendor is required")
	}
	return nil
}

// ServerTimeout converts the server timeout into a duration.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}
