// Package config loads nbcache's configuration: the cache root, eviction
// limit, and execution defaults, from a YAML file with environment variable
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is nbcache's top-level configuration.
type Config struct {
	CacheRoot string          `yaml:"cache_root"`
	CacheLimit int            `yaml:"cache_limit"`
	Execution ExecutionConfig `yaml:"execution"`
}

// ExecutionConfig holds the execution parameters read from the config file.
// The CLI's execute commands do not read these values; they take timeout,
// allow-errors and parallel settings from their own flags.
type ExecutionConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	AllowErrors bool          `yaml:"allow_errors"`
	Parallel    bool          `yaml:"parallel"`
	Sandboxed   bool          `yaml:"sandboxed"`
}

// DefaultCacheDirName is the cache folder created under the current
// working directory when no other cache root is configured.
const DefaultCacheDirName = ".jupyter_cache"

func DefaultConfig() *Config {
	return &Config{
		CacheLimit: 1000,
		Execution: ExecutionConfig{
			Timeout:     30 * time.Second,
			AllowErrors: false,
			Parallel:    false,
			Sandboxed:   false,
		},
	}
}

// Load loads configuration using the real environment.
func Load() (*Config, error) {
	return LoadWithEnv(os.Getenv)
}

// LoadWithEnv loads configuration using the provided environment lookup
// function, so tests can provide isolated environment values.
func LoadWithEnv(getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()

	configPath := getConfigPathWithEnv(getenv)
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if cacheRoot := getenv("JUPYTERCACHE"); cacheRoot != "" {
		cfg.CacheRoot = cacheRoot
	}
	if cfg.CacheRoot == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determine default cache root: %w", err)
		}
		cfg.CacheRoot = filepath.Join(cwd, DefaultCacheDirName)
	}

	return cfg, nil
}

func getConfigPathWithEnv(getenv func(string) string) string {
	if xdgConfig := getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "nbcache", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "nbcache", "config.yaml")
}
