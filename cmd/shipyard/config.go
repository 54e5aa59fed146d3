package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Docker   DockerConfig   `mapstructure:"docker"`
	Git      GitConfig      `mapstructure:"git"`
	Registry RegistryConfig `mapstructure:"registry"`
	Cluster  ClusterConfig  `mapstructure:"cluster"`
	Codegen  CodegenConfig  `mapstructure:"codegen"`
	Builds   BuildsConfig   `mapstructure:"builds"`
	Logs     LogsConfig     `mapstructure:"logs"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// GitConfig holds repository storage configuration.
type GitConfig struct {
	// Root is the directory holding every bare repo and workspace.
	// Relative paths are resolved against the working directory.
	Root    string        `mapstructure:"root"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RegistryConfig holds image registry configuration.
type RegistryConfig struct {
	Host string `mapstructure:"host"`
}

// ClusterConfig holds cluster access configuration.
type ClusterConfig struct {
	// ServerIP is the ingress address nip.io hostnames resolve to.
	ServerIP string `mapstructure:"server_ip"`

	// KubectlTimeout bounds each kubectl invocation.
	KubectlTimeout time.Duration `mapstructure:"kubectl_timeout"`

	// RolloutTimeout bounds every rollout-readiness wait.
	RolloutTimeout time.Duration `mapstructure:"rollout_timeout"`
}

// CodegenConfig holds code-generation client configuration.
type CodegenConfig struct {
	// APIKey authenticates against the messages API. Set it via
	// SHIPYARD_CODEGEN_API_KEY rather than a config file.
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// BuildsConfig holds build pipeline configuration.
type BuildsConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// LogsConfig holds log tailing configuration.
type LogsConfig struct {
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	// Build and log streams run for minutes; zero disables the global
	// write deadline instead of cutting them off.
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("database.path", "./data/shipyard.db")
	v.SetDefault("docker.host", "")
	v.SetDefault("git.root", "./data/git")
	v.SetDefault("git.timeout", "30s")
	v.SetDefault("registry.host", "localhost:5050")
	v.SetDefault("cluster.server_ip", "127.0.0.1")
	v.SetDefault("cluster.kubectl_timeout", "60s")
	v.SetDefault("cluster.rollout_timeout", "90s")
	v.SetDefault("codegen.api_key", "")
	v.SetDefault("codegen.model", "claude-3-5-sonnet-20241022")
	v.SetDefault("codegen.base_url", "")
	v.SetDefault("builds.max_concurrent", 2)
	v.SetDefault("logs.idle_timeout", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("SHIPYARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
