package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vjranagit/tempomatch/pkg/matching"
	"github.com/vjranagit/tempomatch/pkg/storage"
)

// EnvPrefix prefixes environment overrides, e.g. TEMPOMATCH_SERVER_LISTEN_ADDR
const EnvPrefix = "TEMPOMATCH"

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Match   MatchConfig   `mapstructure:"match"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	ListenAddr string        `mapstructure:"listen_addr"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Path             string        `mapstructure:"path"`
	BlockDuration    time.Duration `mapstructure:"block_duration"`
	CompressionLevel int           `mapstructure:"compression_level"`
	EnableWAL        bool          `mapstructure:"enable_wal"`
}

// CacheConfig sizes the match result cache
type CacheConfig struct {
	Enabled    bool  `mapstructure:"enabled"`
	MaxEntries int64 `mapstructure:"max_entries"`
}

// MatchConfig holds defaults applied to match requests that leave them unset
type MatchConfig struct {
	Window    time.Duration `mapstructure:"window"`
	Asymmetry string        `mapstructure:"asymmetry"`
}

// LogConfig configures zap
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":9090")
	v.SetDefault("server.timeout", 30*time.Second)

	v.SetDefault("storage.path", "./data")
	v.SetDefault("storage.block_duration", 24*time.Hour)
	v.SetDefault("storage.compression_level", 3)
	v.SetDefault("storage.enable_wal", true)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.max_entries", 1024)

	v.SetDefault("match.window", time.Duration(0))
	v.SetDefault("match.asymmetry", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// DefaultConfig returns default configuration without file or
// environment overrides
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// defaults always decode
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads the configuration file at path (YAML, TOML or JSON by
// extension) on top of defaults and environment overrides. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &cfg, nil
}

// ToStorageConfig converts to storage.Config
func (c *Config) ToStorageConfig() *storage.Config {
	return &storage.Config{
		Path:             c.Storage.Path,
		BlockDuration:    c.Storage.BlockDuration,
		CompressionLevel: c.Storage.CompressionLevel,
		EnableWAL:        c.Storage.EnableWAL,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address is required")
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}

	if c.Storage.BlockDuration <= 0 {
		return fmt.Errorf("storage block duration must be positive")
	}

	if c.Storage.CompressionLevel < 1 || c.Storage.CompressionLevel > 4 {
		return fmt.Errorf("compression level must be between 1 and 4")
	}

	if c.Cache.Enabled && c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache max entries must be at least 1")
	}

	if c.Match.Window < 0 {
		return fmt.Errorf("match window must not be negative")
	}
	if _, err := matching.ParseAsymmetry(c.Match.Asymmetry); err != nil {
		return err
	}

	return nil
}
