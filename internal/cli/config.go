package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"
)

// Default configuration values
const (
	DefaultCacheDir = ".jitcache"
	DefaultPrefix   = ""
	DefaultVerbose  = false
)

// Holds the configuration options for jcc
type Config struct {
	// Directory holding the persisted cache entries
	CacheDir string

	// Persistence prefix to filter entries by; empty matches everything
	Prefix string

	// Enable verbose output
	Verbose bool
}

func Load() (*Config, error) {
	cfg := &Config{
		CacheDir: viper.GetString("cache_dir"),
		Prefix:   viper.GetString("prefix"),
		Verbose:  viper.GetBool("verbose"),
	}

	// Apply defaults if not set
	if cfg.CacheDir == "" {
		cfg.CacheDir = DefaultCacheDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	abs, err := filepath.Abs(c.CacheDir)
	if err != nil {
		return fmt.Errorf("invalid cache directory: %w", err)
	}

	c.CacheDir = abs

	return nil
}
