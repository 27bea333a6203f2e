// Package config loads tillsync configuration from file, environment
// and defaults, and resolves remote credentials.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	DataDir  string       `mapstructure:"data_dir" validate:"required"`
	AssetDir string       `mapstructure:"asset_dir" validate:"omitempty,dir"`
	Remote   RemoteConfig `mapstructure:"remote"`
	Sync     SyncConfig   `mapstructure:"sync"`

	// AssetIgnorePatterns are doublestar patterns excluded from asset
	// directory scans (editor droppings, temp files).
	AssetIgnorePatterns []string `mapstructure:"asset_ignore_patterns"`
}

// RemoteConfig holds remote backend settings. Endpoint and Secret are
// one credential source among several; see ResolveCredentials.
type RemoteConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Secret   string `mapstructure:"secret"`

	Database     string `mapstructure:"database" validate:"required"`
	DatabasePort int    `mapstructure:"database_port" validate:"required,min=1,max=65535"`
	DatabaseUser string `mapstructure:"database_user" validate:"required"`
	SSLMode      string `mapstructure:"sslmode"`

	Bucket           string `mapstructure:"bucket" validate:"required"`
	StoragePort      int    `mapstructure:"storage_port" validate:"required,min=1,max=65535"`
	StorageTLS       bool   `mapstructure:"storage_tls"`
	StorageAccessKey string `mapstructure:"storage_access_key"`
	StorageRegion    string `mapstructure:"storage_region"`
}

// SyncConfig holds sync behavior settings.
type SyncConfig struct {
	OpTimeoutSec int `mapstructure:"op_timeout_sec"`

	// AutoPushInterval is one of off, 1m, 5m, 15m, 30m.
	AutoPushInterval string `mapstructure:"auto_push_interval" validate:"oneof=off 1m 5m 15m 30m"`

	// DebounceMs coalesces asset directory change bursts in daemon mode.
	DebounceMs int `mapstructure:"debounce_ms"`
}

// DatabasePath returns the local SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "tillsync.db")
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			Database:         "tillsync",
			DatabasePort:     5432,
			DatabaseUser:     "tillsync",
			SSLMode:          "require",
			Bucket:           "till-assets",
			StoragePort:      9000,
			StorageTLS:       true,
			StorageAccessKey: "tillsync",
		},
		Sync: SyncConfig{
			OpTimeoutSec:     30,
			AutoPushInterval: "off",
			DebounceMs:       2000,
		},
		AssetIgnorePatterns: []string{
			"*.tmp",
			"*.part",
			".DS_Store",
			"Thumbs.db",
		},
	}
}

// Load reads configuration from file and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("data_dir", DefaultDataDir())
	// Endpoint and secret default empty so environment overrides bind
	// even without a config file entry.
	v.SetDefault("remote.endpoint", "")
	v.SetDefault("remote.secret", "")
	v.SetDefault("remote.storage_region", "")
	v.SetDefault("asset_dir", "")
	v.SetDefault("remote.database", defaults.Remote.Database)
	v.SetDefault("remote.database_port", defaults.Remote.DatabasePort)
	v.SetDefault("remote.database_user", defaults.Remote.DatabaseUser)
	v.SetDefault("remote.sslmode", defaults.Remote.SSLMode)
	v.SetDefault("remote.bucket", defaults.Remote.Bucket)
	v.SetDefault("remote.storage_port", defaults.Remote.StoragePort)
	v.SetDefault("remote.storage_tls", defaults.Remote.StorageTLS)
	v.SetDefault("remote.storage_access_key", defaults.Remote.StorageAccessKey)
	v.SetDefault("sync.op_timeout_sec", defaults.Sync.OpTimeoutSec)
	v.SetDefault("sync.auto_push_interval", defaults.Sync.AutoPushInterval)
	v.SetDefault("sync.debounce_ms", defaults.Sync.DebounceMs)
	v.SetDefault("asset_ignore_patterns", defaults.AssetIgnorePatterns)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(ConfigDir())
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("TILLSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine; environment and defaults may suffice.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Remote.Secret = os.ExpandEnv(cfg.Remote.Secret)
	cfg.DataDir = expandPath(cfg.DataDir)
	cfg.AssetDir = expandPath(cfg.AssetDir)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	if cfg.AssetDir != "" {
		if err := os.MkdirAll(cfg.AssetDir, 0755); err != nil {
			return nil, fmt.Errorf("create asset directory: %w", err)
		}
	}

	validate := validator.New()
	validate.RegisterValidation("dir", func(fl validator.FieldLevel) bool {
		path := fl.Field().String()
		if path == "" {
			return false
		}
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		return info.IsDir()
	})

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// ConfigDir returns the appropriate config directory for the OS.
func ConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "tillsync")
		}
		return filepath.Join(os.Getenv("USERPROFILE"), ".config", "tillsync")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			return filepath.Join(xdgConfig, "tillsync")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "tillsync")
	}
}

// DefaultDataDir returns where the local database lives when the
// config does not say otherwise.
func DefaultDataDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("LOCALAPPDATA"); appData != "" {
			return filepath.Join(appData, "tillsync")
		}
		return filepath.Join(os.Getenv("USERPROFILE"), ".local", "share", "tillsync")
	default:
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			return filepath.Join(xdgData, "tillsync")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "tillsync")
	}
}

// expandPath expands ~ and environment variables in a path.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[1:])
	}
	return os.ExpandEnv(path)
}
