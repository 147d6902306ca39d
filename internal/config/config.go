package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Discord  DiscordConfig  `mapstructure:"discord"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Admin    AdminConfig    `mapstructure:"admin"`
}

// ServerConfig defines listener addresses for the process
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	MetricsPort int    `mapstructure:"metrics_port"`
	Watchdog    string `mapstructure:"watchdog_interval"`
}

// DiscordConfig defines the gateway connection
type DiscordConfig struct {
	Token        string `mapstructure:"token"`
	ReadyTimeout string `mapstructure:"ready_timeout"`
	ChannelCache int    `mapstructure:"channel_cache_size"`
	EventQueue   int    `mapstructure:"event_queue_size"`
}

// TrackingConfig defines presence tracking settings
type TrackingConfig struct {
	MinSessionDuration string `mapstructure:"min_session_duration"`
	// Categories maps a guild ID to the ID of its tracked category.
	Categories map[string]string `mapstructure:"categories"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type   string       `mapstructure:"type"`
	Redis  RedisConfig  `mapstructure:"redis"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	KeyPrefix    string `mapstructure:"key_prefix"`
}

// SQLiteConfig defines the SQLite database location
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AdminConfig defines the admin API settings
type AdminConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Port        int    `mapstructure:"port"`
	BindAddress string `mapstructure:"bind_address"`
	Token       string `mapstructure:"token"`
	// RateLimit is the number of requests allowed per client per minute.
	RateLimit int `mapstructure:"rate_limit"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("PATROL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.watchdog_interval", "30s")

	// Discord defaults
	v.SetDefault("discord.token", "")
	v.SetDefault("discord.ready_timeout", "30s")
	v.SetDefault("discord.channel_cache_size", 512)
	v.SetDefault("discord.event_queue_size", 1024)

	// Tracking defaults
	v.SetDefault("tracking.min_session_duration", "3s")
	v.SetDefault("tracking.categories", map[string]string{})

	// Storage defaults
	v.SetDefault("storage.type", "redis")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.key_prefix", "patrol")
	v.SetDefault("storage.sqlite.path", "/var/lib/patrol/patrol.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Admin defaults
	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.port", 8088)
	v.SetDefault("admin.bind_address", "127.0.0.1")
	v.SetDefault("admin.token", "")
	v.SetDefault("admin.rate_limit", 100)
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}
	if cfg.Admin.Enabled && (cfg.Admin.Port <= 0 || cfg.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", cfg.Admin.Port)
	}

	if cfg.Discord.EventQueue <= 0 {
		return fmt.Errorf("invalid discord.event_queue_size: %d", cfg.Discord.EventQueue)
	}

	if _, err := time.ParseDuration(cfg.Tracking.MinSessionDuration); err != nil {
		return fmt.Errorf("invalid tracking.min_session_duration: %w", err)
	}

	for guildID, categoryID := range cfg.Tracking.Categories {
		if categoryID == "" {
			return fmt.Errorf("tracked category for guild %s is empty", guildID)
		}
	}

	switch cfg.Storage.Type {
	case "", "redis":
		cfg.Storage.Type = "redis"
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("storage.redis.host is required")
		}
	case "sqlite":
		if cfg.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s (must be 'redis' or 'sqlite')", cfg.Storage.Type)
	}

	return nil
}

// ParseDuration parses a duration string with a fallback
func ParseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
