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
	Server    ServerConfig    `mapstructure:"server"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Store     StoreConfig     `mapstructure:"store"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Snapshots SnapshotsConfig `mapstructure:"snapshots"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs the frontier, politeness controller, and worker pool.
type CrawlerConfig struct {
	MaxDepth             int    `mapstructure:"max_depth"`
	Workers              int    `mapstructure:"workers"`
	PolitenessIntervalMs int    `mapstructure:"politeness_interval_ms"`
	DomainConcurrencyCap int    `mapstructure:"domain_concurrency_cap"`
	MaxRetries           int    `mapstructure:"max_retries"`
	RetryBackoffBaseMs   int    `mapstructure:"retry_backoff_base_ms"`
	FailureThreshold     int    `mapstructure:"failure_threshold"`
	CooldownMs           int    `mapstructure:"cooldown_ms"`
	LeaseTimeoutMs       int    `mapstructure:"lease_timeout_ms"`
	PollIntervalMs       int    `mapstructure:"poll_interval_ms"`
	UserAgent            string `mapstructure:"user_agent"`
}

// HTTPConfig configures the fetch client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the optional browser-based fetcher.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// DedupConfig selects and configures the dedup claim store.
type DedupConfig struct {
	Provider  string `mapstructure:"provider"`
	RedisAddr string `mapstructure:"redis_addr"`
	TTLHours  int    `mapstructure:"ttl_hours"`
}

// StoreConfig selects the frontier/result/job persistence backend.
type StoreConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
}

// PublisherConfig selects the result notification transport.
type PublisherConfig struct {
	Provider       string `mapstructure:"provider"`
	KafkaBroker    string `mapstructure:"kafka_broker"`
	KafkaTopic     string `mapstructure:"kafka_topic"`
	PubSubProject  string `mapstructure:"pubsub_project"`
	PubSubTopic    string `mapstructure:"pubsub_topic"`
	PublishTimeout int    `mapstructure:"publish_timeout_seconds"`
}

// SnapshotsConfig controls optional raw HTML persistence.
type SnapshotsConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	BaseDir   string `mapstructure:"base_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("crawler.max_depth", 3)
	v.SetDefault("crawler.workers", 4)
	v.SetDefault("crawler.politeness_interval_ms", 1000)
	v.SetDefault("crawler.domain_concurrency_cap", 2)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.retry_backoff_base_ms", 250)
	v.SetDefault("crawler.failure_threshold", 3)
	v.SetDefault("crawler.cooldown_ms", 30000)
	v.SetDefault("crawler.lease_timeout_ms", 120000)
	v.SetDefault("crawler.poll_interval_ms", 100)
	v.SetDefault("crawler.user_agent", "shopcrawler-bot/0.1")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("dedup.provider", "memory")
	v.SetDefault("dedup.ttl_hours", 24)
	v.SetDefault("store.provider", "memory")
	v.SetDefault("publisher.provider", "noop")
	v.SetDefault("publisher.publish_timeout_seconds", 10)
	v.SetDefault("snapshots.provider", "noop")
	v.SetDefault("snapshots.prefix", "pages")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.DomainConcurrencyCap <= 0 {
		return fmt.Errorf("crawler.domain_concurrency_cap must be > 0")
	}
	if c.Crawler.MaxRetries < 0 {
		return fmt.Errorf("crawler.max_retries must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Dedup.Provider {
	case "memory":
	case "redis":
		if c.Dedup.RedisAddr == "" {
			return fmt.Errorf("dedup.redis_addr must be set when dedup.provider is redis")
		}
	default:
		return fmt.Errorf("unknown dedup provider: %s", c.Dedup.Provider)
	}
	switch c.Store.Provider {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set when store.provider is postgres")
		}
	default:
		return fmt.Errorf("unknown store provider: %s", c.Store.Provider)
	}
	switch c.Publisher.Provider {
	case "noop":
	case "kafka":
		if c.Publisher.KafkaBroker == "" || c.Publisher.KafkaTopic == "" {
			return fmt.Errorf("publisher.kafka_broker and publisher.kafka_topic must be set for kafka")
		}
	case "pubsub":
		if c.Publisher.PubSubProject == "" || c.Publisher.PubSubTopic == "" {
			return fmt.Errorf("publisher.pubsub_project and publisher.pubsub_topic must be set for pubsub")
		}
	default:
		return fmt.Errorf("unknown publisher provider: %s", c.Publisher.Provider)
	}
	switch c.Snapshots.Provider {
	case "noop":
	case "gcs":
		if c.Snapshots.GCSBucket == "" {
			return fmt.Errorf("snapshots.gcs_bucket must be set when snapshots.provider is gcs")
		}
	case "local":
		if c.Snapshots.BaseDir == "" {
			return fmt.Errorf("snapshots.base_dir must be set when snapshots.provider is local")
		}
	default:
		return fmt.Errorf("unknown snapshots provider: %s", c.Snapshots.Provider)
	}
	return nil
}

// PolitenessInterval returns the per-domain minimum gap between dispatches.
func (c CrawlerConfig) PolitenessInterval() time.Duration {
	return time.Duration(c.PolitenessIntervalMs) * time.Millisecond
}

// RetryBackoffBase returns the base delay for exponential retry backoff.
func (c CrawlerConfig) RetryBackoffBase() time.Duration {
	return time.Duration(c.RetryBackoffBaseMs) * time.Millisecond
}

// Cooldown returns the circuit breaker open window.
func (c CrawlerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMs) * time.Millisecond
}

// LeaseTimeout returns how long an in-flight entry may live before it is
// considered lost and requeued.
func (c CrawlerConfig) LeaseTimeout() time.Duration {
	return time.Duration(c.LeaseTimeoutMs) * time.Millisecond
}

// PollInterval returns the worker idle backoff between empty dequeues.
func (c CrawlerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// FetchTimeout returns the per-fetch deadline.
func (c HTTPConfig) FetchTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
