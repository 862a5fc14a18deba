// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Broker drivers.
const (
	DriverRabbitMQ = "rabbitmq"
	DriverPubSub   = "pubsub"
	DriverMemory   = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Results   ResultsConfig   `mapstructure:"results"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	LogSink   LogSinkConfig   `mapstructure:"logsink"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls the operations HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// BrokerConfig selects the transport and the RabbitMQ connection settings.
type BrokerConfig struct {
	Driver            string `mapstructure:"driver"`
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	User              string `mapstructure:"user"`
	Password          string `mapstructure:"password"`
	VHost             string `mapstructure:"vhost"`
	MaxRetries        int    `mapstructure:"max_retries"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds"`
}

// QueueConfig describes the job queue.
type QueueConfig struct {
	Name               string `mapstructure:"name"`
	Prefetch           int    `mapstructure:"prefetch"`
	DeadLetterExchange string `mapstructure:"dead_letter_exchange"`
	Capacity           int    `mapstructure:"capacity"`
}

// ResultsConfig describes the fanout result channel.
type ResultsConfig struct {
	Exchange     string `mapstructure:"exchange"`
	PublishEmpty bool   `mapstructure:"publish_empty"`
}

// PubSubConfig holds the Google Cloud Pub/Sub driver settings.
type PubSubConfig struct {
	ProjectID    string `mapstructure:"project_id"`
	Subscription string `mapstructure:"subscription"`
	Topic        string `mapstructure:"topic"`
	EmulatorHost string `mapstructure:"emulator_host"`
	DeadLetter   bool   `mapstructure:"dead_letter"`
}

// BrowserConfig configures the page automation engine.
type BrowserConfig struct {
	Enabled             bool    `mapstructure:"enabled"`
	EndpointURL         string  `mapstructure:"endpoint_url"`
	UserAgent           string  `mapstructure:"user_agent"`
	MaxParallel         int     `mapstructure:"max_parallel"`
	HostQPS             float64 `mapstructure:"host_qps"`
	ConnectRetries      int     `mapstructure:"connect_retries"`
	ConnectDelaySeconds int     `mapstructure:"connect_delay_seconds"`
}

// StrategyConfig tunes the extraction strategies.
type StrategyConfig struct {
	ScriptsDir        string `mapstructure:"scripts_dir"`
	MagaluAPIFallback bool   `mapstructure:"magalu_api_fallback"`
	MagaluAPIBase     string `mapstructure:"magalu_api_base"`
}

// LogSinkConfig points at the HTTP progress log endpoint. An empty base URL
// disables the sink.
type LogSinkConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Path           string `mapstructure:"path"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ProgressConfig controls the progress relay batching.
type ProgressConfig struct {
	FlushIntervalMs int `mapstructure:"flush_interval_ms"`
	BatchSize       int `mapstructure:"batch_size"`
	GracePeriodMs   int `mapstructure:"grace_period_ms"`
	MaxBuffered     int `mapstructure:"max_buffered"`
}

// RedisConfig enables the cross-process live feed. An empty address disables
// it.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
	// Subscribe forwards the channel into this process's live feed.
	Subscribe bool `mapstructure:"subscribe"`
}

// Archive backends.
const (
	ArchiveLocal = "local"
	ArchiveGCS   = "gcs"
)

// ArchiveConfig selects where published batches are copied as JSON objects.
// An empty backend disables blob archiving.
type ArchiveConfig struct {
	Backend  string `mapstructure:"backend"`
	Dir      string `mapstructure:"dir"`
	Bucket   string `mapstructure:"bucket"`
	Endpoint string `mapstructure:"endpoint"`
	Prefix   string `mapstructure:"prefix"`
}

// DatabaseConfig enables the Postgres archive of offers and progress logs.
// An empty DSN disables it.
type DatabaseConfig struct {
	DSN                    string `mapstructure:"dsn"`
	OffersTable            string `mapstructure:"offers_table"`
	LogsTable              string `mapstructure:"logs_table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	Migrate                bool   `mapstructure:"migrate"`
	StoreLogs              bool   `mapstructure:"store_logs"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	Version     string  `mapstructure:"version"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
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
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("broker.driver", DriverRabbitMQ)
	v.SetDefault("broker.host", "rabbitmq")
	v.SetDefault("broker.port", 5672)
	v.SetDefault("broker.user", "guest")
	v.SetDefault("broker.password", "guest")
	v.SetDefault("broker.vhost", "/")
	v.SetDefault("broker.max_retries", 10)
	v.SetDefault("broker.retry_delay_seconds", 5)
	v.SetDefault("queue.name", "scrape_requests")
	v.SetDefault("queue.prefetch", 4)
	v.SetDefault("queue.dead_letter_exchange", "")
	v.SetDefault("queue.capacity", 64)
	v.SetDefault("results.exchange", "offers_exchange")
	v.SetDefault("results.publish_empty", true)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.subscription", "scrape-requests")
	v.SetDefault("pubsub.topic", "offers")
	v.SetDefault("pubsub.emulator_host", "")
	v.SetDefault("pubsub.dead_letter", false)
	v.SetDefault("browser.enabled", true)
	v.SetDefault("browser.endpoint_url", "")
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.max_parallel", 4)
	v.SetDefault("browser.host_qps", 0.5)
	v.SetDefault("browser.connect_retries", 10)
	v.SetDefault("browser.connect_delay_seconds", 5)
	v.SetDefault("strategy.scripts_dir", "")
	v.SetDefault("strategy.magalu_api_fallback", true)
	v.SetDefault("strategy.magalu_api_base", "https://www.magazineluiza.com.br/busca/api/v2/")
	v.SetDefault("logsink.base_url", "http://api:8080")
	v.SetDefault("logsink.path", "/api/offers/scrape/logs")
	v.SetDefault("logsink.timeout_seconds", 5)
	v.SetDefault("progress.flush_interval_ms", 500)
	v.SetDefault("progress.batch_size", 10)
	v.SetDefault("progress.grace_period_ms", 1000)
	v.SetDefault("progress.max_buffered", 4096)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "scrape:logs")
	v.SetDefault("redis.subscribe", false)
	v.SetDefault("archive.backend", "")
	v.SetDefault("archive.dir", "./archive")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.prefix", "offers")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.offers_table", "offers")
	v.SetDefault("database.logs_table", "scrape_logs")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime_minutes", 30)
	v.SetDefault("database.migrate", true)
	v.SetDefault("database.store_logs", true)
	v.SetDefault("telemetry.service_name", "offer-scraper")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Broker.Driver {
	case DriverRabbitMQ:
		if c.Broker.Host == "" {
			return fmt.Errorf("broker.host must be set for the rabbitmq driver")
		}
		if c.Broker.MaxRetries <= 0 {
			return fmt.Errorf("broker.max_retries must be > 0")
		}
		if c.Broker.RetryDelaySeconds < 0 {
			return fmt.Errorf("broker.retry_delay_seconds must be >= 0")
		}
		if c.Queue.Name == "" || c.Results.Exchange == "" {
			return fmt.Errorf("queue.name and results.exchange must be set")
		}
	case DriverPubSub:
		if c.PubSub.ProjectID == "" || c.PubSub.Subscription == "" || c.PubSub.Topic == "" {
			return fmt.Errorf("pubsub.project_id, pubsub.subscription and pubsub.topic are required for the pubsub driver")
		}
	case DriverMemory:
		if c.Queue.Capacity <= 0 {
			return fmt.Errorf("queue.capacity must be > 0")
		}
	default:
		return fmt.Errorf("broker.driver %q is not one of rabbitmq, pubsub, memory", c.Broker.Driver)
	}
	if c.Queue.Prefetch <= 0 {
		return fmt.Errorf("queue.prefetch must be > 0")
	}
	if c.Browser.MaxParallel < 0 || c.Browser.HostQPS < 0 {
		return fmt.Errorf("browser.max_parallel and browser.host_qps must be >= 0")
	}
	if c.Browser.Enabled && c.Browser.ConnectRetries <= 0 {
		return fmt.Errorf("browser.connect_retries must be > 0")
	}
	if c.Progress.FlushIntervalMs <= 0 || c.Progress.BatchSize <= 0 {
		return fmt.Errorf("progress.flush_interval_ms and progress.batch_size must be > 0")
	}
	if c.Progress.GracePeriodMs < 0 {
		return fmt.Errorf("progress.grace_period_ms must be >= 0")
	}
	if c.LogSink.BaseURL != "" && c.LogSink.TimeoutSeconds <= 0 {
		return fmt.Errorf("logsink.timeout_seconds must be > 0")
	}
	switch c.Archive.Backend {
	case "":
	case ArchiveLocal:
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive.dir must be set for the local archive")
		}
	case ArchiveGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.backend %q is not one of local, gcs", c.Archive.Backend)
	}
	if c.Database.DSN != "" && (c.Database.MaxConns < 0 || c.Database.MinConns < 0) {
		return fmt.Errorf("database.max_conns and database.min_conns must be >= 0")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	return nil
}

// RetryDelay is the fixed pause between broker connection attempts.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.Broker.RetryDelaySeconds) * time.Second
}

// BrowserConnectDelay is the fixed pause between browser connection attempts.
func (c Config) BrowserConnectDelay() time.Duration {
	return time.Duration(c.Browser.ConnectDelaySeconds) * time.Second
}

// LogSinkTimeout bounds one HTTP log delivery.
func (c Config) LogSinkTimeout() time.Duration {
	return time.Duration(c.LogSink.TimeoutSeconds) * time.Second
}

// FlushInterval is the progress relay tick.
func (c Config) FlushInterval() time.Duration {
	return time.Duration(c.Progress.FlushIntervalMs) * time.Millisecond
}

// GracePeriod bounds the progress drain on shutdown.
func (c Config) GracePeriod() time.Duration {
	return time.Duration(c.Progress.GracePeriodMs) * time.Millisecond
}

// DatabaseConnLifetime caps how long a pooled Postgres connection lives.
func (c Config) DatabaseConnLifetime() time.Duration {
	return time.Duration(c.Database.MaxConnLifetimeMinutes) * time.Minute
}
