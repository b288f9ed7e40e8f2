package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/artpar/stevedore/internal/core/deployment"
	"github.com/artpar/stevedore/internal/shell/docker"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Docker  DockerConfig  `mapstructure:"docker"`
	Deploy  DeployConfig  `mapstructure:"deploy"`
	Compose ComposeConfig `mapstructure:"compose"`
	Log     LogConfig     `mapstructure:"log"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// DeployConfig holds deployment run tuning.
type DeployConfig struct {
	// Project overrides the project name derived from the compose directory.
	Project string `mapstructure:"project"`

	CallTimeout        time.Duration `mapstructure:"call_timeout"`
	HealthPollInterval time.Duration `mapstructure:"health_poll_interval"`
	RollbackTimeout    time.Duration `mapstructure:"rollback_timeout"`

	// MaxParallel bounds the services started at once within a wave.
	// 0 means no limit.
	MaxParallel int `mapstructure:"max_parallel"`

	// SerializeRuntime sends every runtime call through a single gate, for
	// engines that misbehave under concurrent requests.
	SerializeRuntime bool `mapstructure:"serialize_runtime"`

	PullPlatform string `mapstructure:"pull_platform"`

	NetworkCreateAttempts int           `mapstructure:"network_create_attempts"`
	NetworkRetryDelay     time.Duration `mapstructure:"network_retry_delay"`

	// CheckHostPorts binds each published host port before anything is
	// created, failing the run early when one is taken.
	CheckHostPorts bool `mapstructure:"check_host_ports"`
}

// Options returns the orchestrator options for this configuration.
func (c DeployConfig) Options() docker.Options {
	return docker.Options{
		CallTimeout:        c.CallTimeout,
		HealthPollInterval: c.HealthPollInterval,
		RollbackTimeout:    c.RollbackTimeout,
		MaxParallel:        c.MaxParallel,
		SerializeRuntime:   c.SerializeRuntime,
		PullPlatform:       c.PullPlatform,

		NetworkCreateAttempts: c.NetworkCreateAttempts,
		NetworkRetryDelay:     c.NetworkRetryDelay,
		CheckHostPorts:        c.CheckHostPorts,
	}
}

// ComposeConfig holds compose loading configuration.
type ComposeConfig struct {
	// EnvFiles are dotenv files read for interpolation, later files winning.
	EnvFiles []string `mapstructure:"env_files"`

	// UseProcessEnv lets interpolation fall back to the process environment.
	UseProcessEnv bool `mapstructure:"use_process_env"`
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
	v.SetDefault("docker.host", "")
	v.SetDefault("deploy.project", "")
	v.SetDefault("deploy.call_timeout", docker.DefaultCallTimeout.String())
	v.SetDefault("deploy.health_poll_interval", docker.DefaultHealthPollInterval.String())
	v.SetDefault("deploy.rollback_timeout", docker.DefaultRollbackTimeout.String())
	v.SetDefault("deploy.max_parallel", 0)
	v.SetDefault("deploy.serialize_runtime", false)
	v.SetDefault("deploy.pull_platform", "")
	v.SetDefault("deploy.network_create_attempts", docker.DefaultNetworkCreateAttempts)
	v.SetDefault("deploy.network_retry_delay", docker.DefaultNetworkRetryDelay.String())
	v.SetDefault("deploy.check_host_ports", true)
	v.SetDefault("compose.env_files", []string{})
	v.SetDefault("compose.use_process_env", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			var parseErr viper.ConfigParseError
			if errors.As(err, &parseErr) {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("STEVEDORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

var (
	validLevels  = []string{"debug", "info", "warn", "warning", "error"}
	validFormats = []string{"json", "text"}
)

// Validate checks the loaded values and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Deploy.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("deploy.call_timeout must be positive, got %s", c.Deploy.CallTimeout))
	}
	if c.Deploy.HealthPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("deploy.health_poll_interval must be positive, got %s", c.Deploy.HealthPollInterval))
	}
	if c.Deploy.RollbackTimeout <= 0 {
		errs = append(errs, fmt.Errorf("deploy.rollback_timeout must be positive, got %s", c.Deploy.RollbackTimeout))
	}
	if c.Deploy.MaxParallel < 0 {
		errs = append(errs, fmt.Errorf("deploy.max_parallel must not be negative, got %d", c.Deploy.MaxParallel))
	}
	if c.Deploy.NetworkCreateAttempts <= 0 {
		errs = append(errs, fmt.Errorf("deploy.network_create_attempts must be positive, got %d", c.Deploy.NetworkCreateAttempts))
	}
	if c.Deploy.NetworkRetryDelay <= 0 {
		errs = append(errs, fmt.Errorf("deploy.network_retry_delay must be positive, got %s", c.Deploy.NetworkRetryDelay))
	}
	if p := c.Deploy.Project; p != "" && deployment.ProjectName(p) != p {
		errs = append(errs, fmt.Errorf("deploy.project %q is not a valid project name, try %q", p, deployment.ProjectName(p)))
	}
	if !slices.Contains(validLevels, strings.ToLower(c.Log.Level)) {
		errs = append(errs, fmt.Errorf("log.level must be one of %s, got %q", strings.Join(validLevels, ", "), c.Log.Level))
	}
	if !slices.Contains(validFormats, strings.ToLower(c.Log.Format)) {
		errs = append(errs, fmt.Errorf("log.format must be one of %s, got %q", strings.Join(validFormats, ", "), c.Log.Format))
	}

	return errors.Join(errs...)
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format. The
// CLI logs to stderr so command output on stdout stays clean.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
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
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
