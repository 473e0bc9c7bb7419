package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// mockEnv creates an environment lookup function from a map.
func mockEnv(env map[string]string) func(string) string {
	return func(key string) string {
		return env[key]
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig() returned nil")
	}
	if cfg.CacheLimit != 1000 {
		t.Errorf("DefaultConfig() CacheLimit = %d, want 1000", cfg.CacheLimit)
	}
	if cfg.Execution.Timeout != 30*time.Second {
		t.Errorf("DefaultConfig() Execution.Timeout = %v, want %v", cfg.Execution.Timeout, 30*time.Second)
	}
	if cfg.Execution.AllowErrors != false {
		t.Error("DefaultConfig() Execution.AllowErrors should be false")
	}
	if cfg.CacheRoot != "" {
		t.Errorf("DefaultConfig() CacheRoot should be empty, got %q", cfg.CacheRoot)
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "nbcache")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	configContent := `
cache_root: /data/mycache
cache_limit: 250
execution:
  timeout: 120s
  allow_errors: true
  parallel: true
  sandboxed: true
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": tmpDir,
	})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.CacheRoot != "/data/mycache" {
		t.Errorf("LoadWithEnv() CacheRoot = %q, want %q", cfg.CacheRoot, "/data/mycache")
	}
	if cfg.CacheLimit != 250 {
		t.Errorf("LoadWithEnv() CacheLimit = %d, want 250", cfg.CacheLimit)
	}
	if cfg.Execution.Timeout != 120*time.Second {
		t.Errorf("LoadWithEnv() Execution.Timeout = %v, want %v", cfg.Execution.Timeout, 120*time.Second)
	}
	if !cfg.Execution.AllowErrors {
		t.Error("LoadWithEnv() Execution.AllowErrors should be true")
	}
	if !cfg.Execution.Parallel {
		t.Error("LoadWithEnv() Execution.Parallel should be true")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "nbcache")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	configContent := `cache_root: /data/file-cache`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": tmpDir,
		"JUPYTERCACHE":    "/data/env-cache",
	})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.CacheRoot != "/data/env-cache" {
		t.Errorf("LoadWithEnv() CacheRoot = %q, want %q (env override)", cfg.CacheRoot, "/data/env-cache")
	}
}

func TestLoadNoConfigFileDefaultsToCwd(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": tmpDir,
	})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.CacheLimit != 1000 {
		t.Errorf("LoadWithEnv() without file should use default CacheLimit, got %d", cfg.CacheLimit)
	}
	cwd, _ := os.Getwd()
	expected := filepath.Join(cwd, DefaultCacheDirName)
	if cfg.CacheRoot != expected {
		t.Errorf("LoadWithEnv() CacheRoot = %q, want default %q", cfg.CacheRoot, expected)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "nbcache")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	invalidContent := `
cache_root: [this is invalid yaml
execution:
  timeout: not a duration
`
	if err := os.WriteFile(configPath, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": tmpDir,
	})

	_, err := LoadWithEnv(env)
	if err == nil {
		t.Error("LoadWithEnv() with invalid YAML should return error")
	}
}

func TestGetConfigPathXDG(t *testing.T) {
	t.Parallel()
	tmpDir := "/custom/config/path"

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": tmpDir,
	})

	path := getConfigPathWithEnv(env)
	expected := filepath.Join(tmpDir, "nbcache", "config.yaml")
	if path != expected {
		t.Errorf("getConfigPathWithEnv() = %q, want %q", path, expected)
	}
}

func TestGetConfigPathFallback(t *testing.T) {
	t.Parallel()
	env := mockEnv(map[string]string{})

	path := getConfigPathWithEnv(env)
	home, _ := os.UserHomeDir()
	expected := filepath.Join(home, ".config", "nbcache", "config.yaml")
	if path != expected {
		t.Errorf("getConfigPathWithEnv() = %q, want %q", path, expected)
	}
}

func TestLoadPartialConfig(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "nbcache")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	configContent := `
cache_limit: 42
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": tmpDir,
	})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.CacheLimit != 42 {
		t.Errorf("LoadWithEnv() CacheLimit = %d, want 42", cfg.CacheLimit)
	}
	if cfg.Execution.Timeout != 30*time.Second {
		t.Errorf("LoadWithEnv() Execution.Timeout = %v, want default %v", cfg.Execution.Timeout, 30*time.Second)
	}
}
