// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Application ApplicationConfig `mapstructure:"application"`
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Search      SearchConfig      `mapstructure:"search"`
	Save        SaveConfig        `mapstructure:"save"`
	Webhooks    WebhooksConfig    `mapstructure:"webhooks"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Storage     StorageConfig     `mapstructure:"storage"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Events      EventsConfig      `mapstructure:"events"`
}

// ApplicationConfig describes the running service for telemetry resources.
type ApplicationConfig struct {
	ServiceName   string `mapstructure:"service_name"`
	Version       string `mapstructure:"version"`
	ProjectID     string `mapstructure:"project_id"`
	ProjectNumber string `mapstructure:"project_number"`
	Region        string `mapstructure:"region"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ShutdownSeconds int `mapstructure:"shutdown_seconds"`
}

// AuthConfig defines the admin API key. Requests carrying it are privileged.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DatabaseConfig selects and tunes the request store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig points at the scheduler RPC API.
type SchedulerConfig struct {
	URL              string `mapstructure:"url"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
}

// ArchiveConfig points at the archive API used for visit lookups.
type ArchiveConfig struct {
	URL            string `mapstructure:"url"`
	Token          string `mapstructure:"token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// SearchConfig selects the origin search index.
type SearchConfig struct {
	Backend   string `mapstructure:"backend"`
	IndexPath string `mapstructure:"index_path"`
}

// SaveConfig governs the save request lifecycle.
type SaveConfig struct {
	VisitTypes       []string      `mapstructure:"visit_types"`
	AllowedSchemes   []string      `mapstructure:"allowed_schemes"`
	GraceWindow      time.Duration `mapstructure:"grace_window"`
	RefreshInterval  time.Duration `mapstructure:"refresh_interval"`
	RefreshBatchSize int           `mapstructure:"refresh_batch_size"`
	Workers          int           `mapstructure:"workers"`
	QueueDepth       int           `mapstructure:"queue_depth"`
}

// WebhooksConfig configures forge webhook ingestion.
type WebhooksConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Secret   string        `mapstructure:"secret"`
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// RateLimitConfig throttles save submissions per client.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// StorageConfig selects the blob store used for exports.
type StorageConfig struct {
	Backend string      `mapstructure:"backend"`
	Bucket  string      `mapstructure:"bucket"`
	Prefix  string      `mapstructure:"prefix"`
	Local   LocalConfig `mapstructure:"local"`
}

// LocalConfig configures the local filesystem blob store.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PubSubConfig holds metadata for lifecycle notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// EventsConfig controls the lifecycle event hub.
type EventsConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	LogEnabled       bool `mapstructure:"log_enabled"`
	WebsocketEnabled bool `mapstructure:"websocket_enabled"`
	BufferSize       int  `mapstructure:"buffer_size"`
	MaxBatchEvents   int  `mapstructure:"max_batch_events"`
	MaxBatchWaitMs   int  `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutMs    int  `mapstructure:"sink_timeout_ms"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	cfg, _, err := LoadViper(path)
	return cfg, err
}

// LoadViper builds a Config and returns the Viper instance backing it.
func LoadViper(path string) (Config, *viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("SAVECODENOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, v, nil
}

// Watch re-decodes the config file whenever it changes and passes valid
// results to onChange. Invalid edits are logged and ignored.
func Watch(v *viper.Viper, logger *zap.Logger, onChange func(Config)) {
	if v == nil || v.ConfigFileUsed() == "" {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			logger.Warn("ignoring invalid config change", zap.String("file", e.Name), zap.Error(err))
			return
		}
		logger.Info("config reloaded", zap.String("file", e.Name))
		onChange(cfg)
	})
	v.WatchConfig()
}

func decode(v *viper.Viper) (Config, error) {
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
	v.SetDefault("application.service_name", "savecodenow")
	v.SetDefault("application.version", "dev")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_seconds", 10)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("scheduler.timeout_seconds", 10)
	v.SetDefault("scheduler.max_retries", 2)
	v.SetDefault("scheduler.backoff_initial_ms", 250)
	v.SetDefault("scheduler.backoff_max_ms", 2000)
	v.SetDefault("archive.timeout_seconds", 10)
	v.SetDefault("search.backend", "none")
	v.SetDefault("save.visit_types", []string{"git", "hg", "svn", "bzr", "cvs", "tarball-directory"})
	v.SetDefault("save.allowed_schemes", []string{"http", "https", "svn"})
	v.SetDefault("save.grace_window", "720h")
	v.SetDefault("save.refresh_interval", "5m")
	v.SetDefault("save.refresh_batch_size", 200)
	v.SetDefault("save.workers", 2)
	v.SetDefault("save.queue_depth", 256)
	v.SetDefault("webhooks.enabled", true)
	v.SetDefault("webhooks.cooldown", "1m")
	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.default_rps", 1.0)
	v.SetDefault("ratelimit.default_burst", 10)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "exports")
	v.SetDefault("events.enabled", true)
	v.SetDefault("events.log_enabled", true)
	v.SetDefault("events.websocket_enabled", true)
	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.max_batch_events", 100)
	v.SetDefault("events.max_batch_wait_ms", 500)
	v.SetDefault("events.sink_timeout_ms", 5000)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Database.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.Scheduler.URL != "" && c.Scheduler.TimeoutSeconds <= 0 {
		return fmt.Errorf("scheduler.timeout_seconds must be > 0")
	}
	switch c.Search.Backend {
	case "", "none", "bleve":
	default:
		return fmt.Errorf("search.backend %q is not supported", c.Search.Backend)
	}
	if len(c.Save.VisitTypes) == 0 {
		return fmt.Errorf("save.visit_types must not be empty")
	}
	if c.Save.GraceWindow <= 0 {
		return fmt.Errorf("save.grace_window must be > 0")
	}
	if c.Save.Workers <= 0 {
		return fmt.Errorf("save.workers must be > 0")
	}
	if c.Save.RefreshBatchSize <= 0 {
		return fmt.Errorf("save.refresh_batch_size must be > 0")
	}
	if c.Webhooks.Cooldown < 0 {
		return fmt.Errorf("webhooks.cooldown must be >= 0")
	}
	if c.RateLimit.Enabled && c.RateLimit.DefaultRPS <= 0 {
		return fmt.Errorf("ratelimit.default_rps must be > 0 when rate limiting is enabled")
	}
	switch c.Storage.Backend {
	case "", "memory":
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	return nil
}

// SchedulerTimeout converts the scheduler timeout into a duration.
func (c Config) SchedulerTimeout() time.Duration {
	return time.Duration(c.Scheduler.TimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Server.ShutdownSeconds) * time.Second
}
