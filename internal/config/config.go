package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Tracker TrackerConfig `mapstructure:"tracker"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
	Watch   WatchConfig   `mapstructure:"watch"`
}

// TrackerConfig selects how usage is recorded and projected
type TrackerConfig struct {
	Mode string `mapstructure:"mode"` // "absolute" or "percent"
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "file", "bolt" or "redis"
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines the Redis connection for the redis storage backend
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

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // "console" or "json"
	File       string `mapstructure:"file"`   // empty logs to stderr
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// WatchConfig defines the watch daemon schedule and its listeners
type WatchConfig struct {
	RefreshInterval string       `mapstructure:"refresh_interval"`
	API             ListenConfig `mapstructure:"api"`
	Metrics         ListenConfig `mapstructure:"metrics"`
	Watchdog        bool         `mapstructure:"watchdog"`
}

// ListenConfig is an optional local HTTP listener
type ListenConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// TickInterval returns the parsed refresh interval.
func (c *WatchConfig) TickInterval() time.Duration {
	d, err := time.ParseDuration(c.RefreshInterval)
	if err != nil {
		return time.Hour
	}
	return d
}

// Load loads configuration from file and environment variables. An empty
// configPath searches the default locations and tolerates a missing file;
// an explicit path must exist.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetEnvPrefix("PACEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "pacewatch"))
		}
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// Config file not found, use defaults and environment variables
		}
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns a configuration carrying only the default values.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	_ = v.Unmarshal(&config)
	_ = validate(&config)

	return &config
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Tracker defaults
	v.SetDefault("tracker.mode", "absolute")

	// Storage defaults
	v.SetDefault("storage.type", "file")
	v.SetDefault("storage.path", "~/.pacewatch/usage.json")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 5)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.key_prefix", "pacewatch")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 30)

	// Watch defaults
	v.SetDefault("watch.refresh_interval", "1h")
	v.SetDefault("watch.api.enabled", true)
	v.SetDefault("watch.api.listen", "127.0.0.1:7690")
	v.SetDefault("watch.metrics.enabled", true)
	v.SetDefault("watch.metrics.listen", "127.0.0.1:9690")
	v.SetDefault("watch.watchdog", true)
}

// ValidKeys returns the set of recognized configuration keys, for warning
// about typos and deprecated settings in config files.
func ValidKeys() map[string]bool {
	return map[string]bool{
		// Tracker
		"tracker.mode": true,

		// Storage
		"storage.type":                 true,
		"storage.path":                 true,
		"storage.redis.host":           true,
		"storage.redis.port":           true,
		"storage.redis.password":       true,
		"storage.redis.db":             true,
		"storage.redis.pool_size":      true,
		"storage.redis.min_idle_conns": true,
		"storage.redis.dial_timeout":   true,
		"storage.redis.read_timeout":   true,
		"storage.redis.write_timeout":  true,
		"storage.redis.key_prefix":     true,

		// Logging
		"logging.level":        true,
		"logging.format":       true,
		"logging.file":         true,
		"logging.max_size_mb":  true,
		"logging.max_backups":  true,
		"logging.max_age_days": true,

		// Watch
		"watch.refresh_interval": true,
		"watch.api.enabled":      true,
		"watch.api.listen":       true,
		"watch.metrics.enabled":  true,
		"watch.metrics.listen":   true,
		"watch.watchdog":         true,
	}
}

// ExpandPath resolves a leading "~" to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// validate validates the configuration
func validate(cfg *Config) error {
	switch cfg.Tracker.Mode {
	case "", "absolute", "percent":
	default:
		return fmt.Errorf("invalid tracker mode: %q (must be absolute or percent)", cfg.Tracker.Mode)
	}

	switch cfg.Storage.Type {
	case "", "file":
		cfg.Storage.Type = "file"
	case "bolt", "redis":
	default:
		return fmt.Errorf("invalid storage type: %q (must be file, bolt or redis)", cfg.Storage.Type)
	}

	if cfg.Storage.Type == "redis" {
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}
		for key, val := range map[string]string{
			"dial_timeout":  cfg.Storage.Redis.DialTimeout,
			"read_timeout":  cfg.Storage.Redis.ReadTimeout,
			"write_timeout": cfg.Storage.Redis.WriteTimeout,
		} {
			if _, err := time.ParseDuration(val); err != nil {
				return fmt.Errorf("invalid redis %s: %w", key, err)
			}
		}
	} else {
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		path, err := ExpandPath(cfg.Storage.Path)
		if err != nil {
			return err
		}
		cfg.Storage.Path = path
	}

	if cfg.Logging.File != "" {
		path, err := ExpandPath(cfg.Logging.File)
		if err != nil {
			return err
		}
		cfg.Logging.File = path
	}

	interval, err := time.ParseDuration(cfg.Watch.RefreshInterval)
	if err != nil {
		return fmt.Errorf("invalid refresh interval: %w", err)
	}
	if interval <= 0 {
		return fmt.Errorf("refresh interval must be positive: %s", cfg.Watch.RefreshInterval)
	}

	if cfg.Watch.API.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Watch.API.Listen); err != nil {
			return fmt.Errorf("invalid api listen address: %w", err)
		}
	}
	if cfg.Watch.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Watch.Metrics.Listen); err != nil {
			return fmt.Errorf("invalid metrics listen address: %w", err)
		}
	}

	return nil
}
