package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds the complete configuration for the compliance tracker
type Config struct {
	Environment   string              `mapstructure:"environment" validate:"required"`
	Debug         bool                `mapstructure:"debug"`
	Server        ServerConfig        `mapstructure:"server"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Sweep         SweepConfig         `mapstructure:"sweep"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Calendar      CalendarConfig      `mapstructure:"calendar"`
	Dashboard     DashboardConfig     `mapstructure:"dashboard"`
	Security      SecurityConfig      `mapstructure:"security"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Seed          SeedConfig          `mapstructure:"seed"`
}

// ServerConfig contains server configuration
type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port" validate:"gt=0,lt=65536"`
	GRPCPort        int           `mapstructure:"grpc_port" validate:"gt=0,lt=65536"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=memory postgres"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds a lib/pq connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.Username, d.Password, d.Name, d.SSLMode)
}

// URL builds a postgres URL for golang-migrate
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// RedisConfig contains Redis configuration for notice dedupe and the sweep lock
type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	PoolSize  int           `mapstructure:"pool_size"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	NoticeTTL time.Duration `mapstructure:"notice_ttl"`
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig contains Kafka configuration
type KafkaConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Brokers        []string      `mapstructure:"brokers"`
	GroupID        string        `mapstructure:"group_id"`
	Topics         TopicsConfig  `mapstructure:"topics"`
	MinBytes       int           `mapstructure:"min_bytes"`
	MaxBytes       int           `mapstructure:"max_bytes"`
	CommitInterval time.Duration `mapstructure:"commit_interval"`
}

// TopicsConfig names the topics the tracker reads and writes
type TopicsConfig struct {
	StatusChanges string `mapstructure:"status_changes"`
	Notifications string `mapstructure:"notifications"`
}

// SweepConfig controls the periodic evaluation sweep
type SweepConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Schedule        string        `mapstructure:"schedule" validate:"required"`
	LockEnabled     bool          `mapstructure:"lock_enabled"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
	RedispatchLimit int           `mapstructure:"redispatch_limit"`
}

// NotificationsConfig controls how dispatch requests leave the process
type NotificationsConfig struct {
	Sink            string            `mapstructure:"sink" validate:"oneof=log webhook kafka"`
	QueueSize       int               `mapstructure:"queue_size" validate:"gt=0"`
	Workers         int               `mapstructure:"workers" validate:"gt=0"`
	Timeout         time.Duration     `mapstructure:"timeout"`
	RateLimitPerMin int               `mapstructure:"rate_limit_per_min"`
	Burst           int               `mapstructure:"burst"`
	Webhook         WebhookConfig     `mapstructure:"webhook"`
	Templates       map[string]string `mapstructure:"templates"`
}

// WebhookConfig configures the webhook sink
type WebhookConfig struct {
	URL        string            `mapstructure:"url"`
	MaxRetries int               `mapstructure:"max_retries"`
	RetryDelay time.Duration     `mapstructure:"retry_delay"`
	Headers    map[string]string `mapstructure:"headers"`
}

// CalendarConfig lists non-business dates
type CalendarConfig struct {
	Holidays []string `mapstructure:"holidays"`
	Timezone string   `mapstructure:"timezone"`
}

// DashboardConfig controls the last-known-good dashboard snapshot
type DashboardConfig struct {
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
}

// SecurityConfig contains authentication settings
type SecurityConfig struct {
	AuthEnabled  bool          `mapstructure:"auth_enabled"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
	JWTIssuer    string        `mapstructure:"jwt_issuer"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	APIKeyHeader string        `mapstructure:"api_key_header"`
	APIKeyHash   string        `mapstructure:"api_key_hash"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// Load reads configuration from an optional YAML file, the environment and defaults.
// An explicit path overrides the search paths.
func Load(path string) (Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/compliance-tracker")
	}

	setDefaults(v)

	v.SetEnvPrefix("COMPLIANCE_TRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks structural constraints and cross-field requirements
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Security.AuthEnabled && c.Security.JWTSecret == "" {
		return fmt.Errorf("invalid configuration: security.jwt_secret is required when auth is enabled")
	}
	if c.Notifications.Sink == "webhook" && c.Notifications.Webhook.URL == "" {
		return fmt.Errorf("invalid configuration: notifications.webhook.url is required for the webhook sink")
	}
	if (c.Kafka.Enabled || c.Notifications.Sink == "kafka") && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("invalid configuration: kafka.brokers is required")
	}
	if c.Sweep.LockEnabled && !c.Redis.Enabled {
		return fmt.Errorf("invalid configuration: sweep.lock_enabled requires redis")
	}
	return nil
}

// IsProduction reports whether the service runs in production
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// General
	v.SetDefault("environment", "development")
	v.SetDefault("debug", false)

	// Server
	v.SetDefault("server.http_port", 8090)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Storage
	v.SetDefault("storage.driver", "memory")

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "compliance_tracker")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.auto_migrate", true)

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.key_prefix", "compliance-tracker")
	v.SetDefault("redis.notice_ttl", "2160h")

	// Kafka
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "compliance-tracker")
	v.SetDefault("kafka.topics.status_changes", "background-check-status-changes")
	v.SetDefault("kafka.topics.notifications", "compliance-notifications")
	v.SetDefault("kafka.min_bytes", 1)
	v.SetDefault("kafka.max_bytes", 10000000)
	v.SetDefault("kafka.commit_interval", "1s")

	// Sweep
	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.schedule", "@every 5m")
	v.SetDefault("sweep.lock_enabled", false)
	v.SetDefault("sweep.lock_ttl", "4m")
	v.SetDefault("sweep.redispatch_limit", 500)

	// Notifications
	v.SetDefault("notifications.sink", "log")
	v.SetDefault("notifications.queue_size", 1000)
	v.SetDefault("notifications.workers", 4)
	v.SetDefault("notifications.timeout", "10s")
	v.SetDefault("notifications.rate_limit_per_min", 600)
	v.SetDefault("notifications.burst", 20)
	v.SetDefault("notifications.webhook.max_retries", 2)
	v.SetDefault("notifications.webhook.retry_delay", "500ms")

	// Calendar
	v.SetDefault("calendar.holidays", []string{})
	v.SetDefault("calendar.timezone", "UTC")

	// Dashboard
	v.SetDefault("dashboard.snapshot_ttl", "24h")

	// Security
	v.SetDefault("security.auth_enabled", false)
	v.SetDefault("security.jwt_issuer", "compliance-tracker")
	v.SetDefault("security.token_ttl", "1h")
	v.SetDefault("security.api_key_header", "X-API-Key")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
