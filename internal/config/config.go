package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the ratelimit service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port" default:"3006"`
	Host            string        `mapstructure:"host" default:"0.0.0.0"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" default:"5s"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" default:"10s"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" default:"60s"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" default:"10s"`
}

// DatabaseConfig contains PostgreSQL configuration for the decision audit
// log (internal/repository).
type DatabaseConfig struct {
	Host            string        `mapstructure:"host" default:"localhost"`
	Port            int           `mapstructure:"port" default:"5432"`
	Database        string        `mapstructure:"database" default:"ratelimit"`
	Username        string        `mapstructure:"username" default:"postgres"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode" default:"prefer"`
	MaxConnections  int           `mapstructure:"max_connections" default:"25"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" default:"5"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" default:"1h"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" default:"10m"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout" default:"5s"`
}

// RedisConfig contains Redis configuration backing the Store/RankingStore
// implementations in internal/store/redisstore.
type RedisConfig struct {
	Host         string        `mapstructure:"host" default:"localhost"`
	Port         int           `mapstructure:"port" default:"6379"`
	Password     string        `mapstructure:"password"`
	Database     int           `mapstructure:"database" default:"1"`
	PoolSize     int           `mapstructure:"pool_size" default:"20"`
	MinIdleConns int           `mapstructure:"min_idle_conns" default:"5"`
	MaxRetries   int           `mapstructure:"max_retries" default:"3"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" default:"5s"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" default:"2s"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" default:"2s"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" default:"5m"`
}

// RateLimitConfig mirrors the engine-wide configuration options enumerated
// in spec §6.
type RateLimitConfig struct {
	DefaultBlockTime time.Duration `mapstructure:"default_block_time" default:"300s"`
	EndpointTTL      time.Duration `mapstructure:"endpoint_ttl" default:"1h"`
	UserTTL          time.Duration `mapstructure:"user_ttl" default:"1h"`
	UserEndpointTTL  time.Duration `mapstructure:"user_endpoint_ttl" default:"1h"`
	NoBlockDelay     bool          `mapstructure:"no_block_delay" default:"true"`
	UseRawPath       bool          `mapstructure:"use_raw_path" default:"false"`

	// NoHitOnExceptions lists HTTP status codes that, when a handler raises
	// an api.AbortError carrying one, cause the just-appended hit to be reverted
	// before the error propagates (spec §6's no_hit_on_exceptions, empty by
	// default). Per-route callers can override this set via
	// api.WithNoHitOnExceptions.
	NoHitOnExceptions []string `mapstructure:"no_hit_on_exceptions"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" default:"true"`
	Path    string `mapstructure:"path" default:"/metrics"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level       string `mapstructure:"level" default:"info"`
	Development bool   `mapstructure:"development" default:"false"`
	Encoding    string `mapstructure:"encoding" default:"json"`
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("RATELIMIT")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; continue with environment variables and defaults.
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default values for configuration.
func setDefaults() {
	viper.SetDefault("server.port", 3006)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "5s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.idle_timeout", "60s")
	viper.SetDefault("server.shutdown_timeout", "10s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "ratelimit")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.ssl_mode", "prefer")
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "1h")
	viper.SetDefault("database.conn_max_idle_time", "10m")
	viper.SetDefault("database.query_timeout", "5s")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.database", 1)
	viper.SetDefault("redis.pool_size", 20)
	viper.SetDefault("redis.min_idle_conns", 5)
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "2s")
	viper.SetDefault("redis.write_timeout", "2s")
	viper.SetDefault("redis.idle_timeout", "5m")

	viper.SetDefault("ratelimit.default_block_time", "300s")
	viper.SetDefault("ratelimit.endpoint_ttl", "1h")
	viper.SetDefault("ratelimit.user_ttl", "1h")
	viper.SetDefault("ratelimit.user_endpoint_ttl", "1h")
	viper.SetDefault("ratelimit.no_block_delay", true)
	viper.SetDefault("ratelimit.use_raw_path", false)
	viper.SetDefault("ratelimit.no_hit_on_exceptions", []string{})

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.development", false)
	viper.SetDefault("logging.encoding", "json")
}

// validate validates the configuration.
func validate(config *Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max_connections must be positive")
	}

	if config.Redis.PoolSize <= 0 {
		return fmt.Errorf("redis pool_size must be positive")
	}

	if config.RateLimit.DefaultBlockTime <= 0 {
		return fmt.Errorf("ratelimit default_block_time must be positive")
	}

	return nil
}

// NewConfig creates a new configuration instance.
func NewConfig() (*Config, error) {
	return Load()
}
