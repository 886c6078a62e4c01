// Package config provides configuration types and defaults for coachrun.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/npratt/coachrun/internal/activity"
	"github.com/npratt/coachrun/internal/agentrun"
	"github.com/npratt/coachrun/internal/coach"
	"github.com/npratt/coachrun/internal/coachapi"
	"github.com/npratt/coachrun/internal/mockagent"
	"github.com/npratt/coachrun/internal/session"
)

// Config holds all configuration for coachrun.
type Config struct {
	Agent       AgentConfig       `yaml:"agent" mapstructure:"agent"`
	Retry       agentrun.Policy   `yaml:"retry" mapstructure:"retry"`
	Activity    ActivityConfig    `yaml:"activity" mapstructure:"activity"`
	Dedupe      DedupeConfig      `yaml:"dedupe" mapstructure:"dedupe"`
	Paths       PathsConfig       `yaml:"paths" mapstructure:"paths"`
	LogRotation LogRotationConfig `yaml:"log_rotation" mapstructure:"log_rotation"`
	Metrics     MetricsConfig     `yaml:"metrics" mapstructure:"metrics"`
	MockServer  MockServerConfig  `yaml:"mock_server" mapstructure:"mock_server"`
}

// AgentConfig holds the agent endpoint and coach API settings.
type AgentConfig struct {
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	APIBase   string `yaml:"api_base" mapstructure:"api_base"`
	ThreadID  string `yaml:"thread_id" mapstructure:"thread_id"` // Empty starts a new thread per invocation
	Token     string `yaml:"token" mapstructure:"token"`
	TokenFile string `yaml:"token_file" mapstructure:"token_file"` // Takes priority over Token
}

// ActivityConfig holds activity tracker timings.
type ActivityConfig struct {
	TickInterval     time.Duration `yaml:"tick_interval" mapstructure:"tick_interval"`
	DoneResetDelay   time.Duration `yaml:"done_reset_delay" mapstructure:"done_reset_delay"`
	ErrorResetDelay  time.Duration `yaml:"error_reset_delay" mapstructure:"error_reset_delay"`
	MemoryToolTokens []string      `yaml:"memory_tool_tokens" mapstructure:"memory_tool_tokens"` // Tool name fragments shown as reading memory
}

// DedupeConfig bounds the backend error signatures remembered per
// conversation.
type DedupeConfig struct {
	Capacity int `yaml:"capacity" mapstructure:"capacity"`
}

// PathsConfig holds file paths for state and logs.
type PathsConfig struct {
	State  string `yaml:"state" mapstructure:"state"`
	Log    string `yaml:"log" mapstructure:"log"`       // Debug log written while the indicator owns the terminal
	Events string `yaml:"events" mapstructure:"events"` // JSONL event log
}

// LogRotationConfig holds settings for log file rotation.
// Used for the debug log (lumberjack-based automatic rotation).
type LogRotationConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool `yaml:"compress" mapstructure:"compress"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"` // Empty disables the endpoint
}

// MockServerConfig holds settings for the local mock agent.
type MockServerConfig struct {
	Addr   string `yaml:"addr" mapstructure:"addr"`
	Script string `yaml:"script" mapstructure:"script"` // YAML scenario file; empty uses the built-in echo script
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Endpoint: session.DefaultEndpoint,
			APIBase:  coachapi.DefaultBaseURL,
		},
		Retry: agentrun.DefaultPolicy(),
		Activity: ActivityConfig{
			TickInterval:     activity.DefaultTickInterval,
			DoneResetDelay:   activity.DefaultDoneResetDelay,
			ErrorResetDelay:  activity.DefaultErrorResetDelay,
			MemoryToolTokens: append([]string{}, activity.DefaultMemoryTokens...),
		},
		Dedupe: DedupeConfig{
			Capacity: coach.DefaultDedupeCapacity,
		},
		Paths: PathsConfig{
			State:  ".coachrun/state.json",
			Log:    ".coachrun/coachrun-debug.log",
			Events: ".coachrun/events.jsonl",
		},
		LogRotation: LogRotationConfig{
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
		MockServer: MockServerConfig{
			Addr: mockagent.DefaultAddr,
		},
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if c.Agent.Endpoint == "" {
		return errors.New("agent.endpoint must not be empty")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.BaseDelay < 0 {
		return fmt.Errorf("retry.base_delay must not be negative, got %v", c.Retry.BaseDelay)
	}
	if c.Retry.AttemptTimeout <= 0 {
		return fmt.Errorf("retry.attempt_timeout must be positive, got %v", c.Retry.AttemptTimeout)
	}
	if c.Activity.TickInterval <= 0 {
		return fmt.Errorf("activity.tick_interval must be positive, got %v", c.Activity.TickInterval)
	}
	if c.Activity.DoneResetDelay < 0 || c.Activity.ErrorResetDelay < 0 {
		return errors.New("activity reset delays must not be negative")
	}
	if c.Dedupe.Capacity <= 0 {
		return fmt.Errorf("dedupe.capacity must be positive, got %d", c.Dedupe.Capacity)
	}
	return nil
}
