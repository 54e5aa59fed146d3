package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, time.Duration(0), cfg.Server.WriteTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "./data/shipyard.db", cfg.Database.Path)
	assert.Equal(t, "./data/git", cfg.Git.Root)
	assert.Equal(t, 30*time.Second, cfg.Git.Timeout)
	assert.Equal(t, "localhost:5050", cfg.Registry.Host)
	assert.Equal(t, "127.0.0.1", cfg.Cluster.ServerIP)
	assert.Equal(t, 60*time.Second, cfg.Cluster.KubectlTimeout)
	assert.Equal(t, 90*time.Second, cfg.Cluster.RolloutTimeout)
	assert.Equal(t, "claude-3-5-sonnet-20241022", cfg.Codegen.Model)
	assert.Empty(t, cfg.Codegen.APIKey)
	assert.Equal(t, 2, cfg.Builds.MaxConcurrent)
	assert.Equal(t, 30*time.Second, cfg.Logs.IdleTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
server:
  host: "127.0.0.1"
  port: 9000
  shutdown_timeout: 15s

database:
  path: "/tmp/test.db"

git:
  root: "/srv/git"
  timeout: 10s

registry:
  host: "registry.internal:5000"

cluster:
  server_ip: "10.0.0.5"
  rollout_timeout: 2m

builds:
  max_concurrent: 4

log:
  level: "debug"
  format: "text"
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "/tmp/test.db", cfg.Database.Path)
	assert.Equal(t, "/srv/git", cfg.Git.Root)
	assert.Equal(t, 10*time.Second, cfg.Git.Timeout)
	assert.Equal(t, "registry.internal:5000", cfg.Registry.Host)
	assert.Equal(t, "10.0.0.5", cfg.Cluster.ServerIP)
	assert.Equal(t, 2*time.Minute, cfg.Cluster.RolloutTimeout)
	assert.Equal(t, 4, cfg.Builds.MaxConcurrent)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("SHIPYARD_SERVER_HOST", "192.168.1.1")
	t.Setenv("SHIPYARD_SERVER_PORT", "3000")
	t.Setenv("SHIPYARD_DATABASE_PATH", "/custom/path.db")
	t.Setenv("SHIPYARD_REGISTRY_HOST", "localhost:6000")
	t.Setenv("SHIPYARD_CODEGEN_API_KEY", "sk-test-key")
	t.Setenv("SHIPYARD_LOG_LEVEL", "warn")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.1", cfg.Server.Host)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/custom/path.db", cfg.Database.Path)
	assert.Equal(t, "localhost:6000", cfg.Registry.Host)
	assert.Equal(t, "sk-test-key", cfg.Codegen.APIKey)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_FileNotFound_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err) // Should not error, just use defaults

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid: yaml: content: [[["), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger_JSONFormat(t *testing.T) {
	cfg := &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}

	logger := SetupLogger(cfg)
	assert.NotNil(t, logger)
}

func TestSetupLogger_TextFormat(t *testing.T) {
	cfg := &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}

	logger := SetupLogger(cfg)
	assert.NotNil(t, logger)
}

func TestSetupLogger_InvalidLevel(t *testing.T) {
	cfg := &Config{
		Log: LogConfig{
			Level:  "invalid",
			Format: "json",
		},
	}

	// Should fall back to info level, not panic
	logger := SetupLogger(cfg)
	assert.NotNil(t, logger)
}

// =============================================================================
// Config Validation Tests
// =============================================================================

func TestConfig_Address(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
	}

	assert.Equal(t, "localhost:8080", cfg.Server.Address())
}

// =============================================================================
// Test Helpers
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"SHIPYARD_SERVER_HOST",
		"SHIPYARD_SERVER_PORT",
		"SHIPYARD_DATABASE_PATH",
		"SHIPYARD_REGISTRY_HOST",
		"SHIPYARD_CODEGEN_API_KEY",
		"SHIPYARD_LOG_LEVEL",
		"SHIPYARD_LOG_FORMAT",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}
