package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

// isolate points the global config at an empty directory and moves into a
// fresh working directory.
func isolate(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))
	oldWd, _ := os.Getwd()
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldWd) })
	return tmpDir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := LoadConfig(viper.New())
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Retry.MaxRetries != 2 {
		t.Errorf("Retry.MaxRetries = %d, want 2", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.BaseDelay != 1500*time.Millisecond {
		t.Errorf("Retry.BaseDelay = %v, want 1.5s", cfg.Retry.BaseDelay)
	}
	if cfg.Retry.AttemptTimeout != 90*time.Second {
		t.Errorf("Retry.AttemptTimeout = %v, want 90s", cfg.Retry.AttemptTimeout)
	}
	if cfg.Activity.DoneResetDelay != 1500*time.Millisecond {
		t.Errorf("Activity.DoneResetDelay = %v, want 1.5s", cfg.Activity.DoneResetDelay)
	}
	if len(cfg.Activity.MemoryToolTokens) != 3 {
		t.Errorf("Activity.MemoryToolTokens = %v, want 3 defaults", cfg.Activity.MemoryToolTokens)
	}
}

func TestLoadConfig_ProjectFile(t *testing.T) {
	isolate(t)

	writeFile(t, filepath.Join(ProjectConfigDir, ProjectConfigFile), `
agent:
  endpoint: http://coach.local/agui/run
  thread_id: thread-42
retry:
  max_retries: 4
  base_delay: 250ms
  attempt_timeout: 2m
activity:
  memory_tool_tokens: [journal, recall]
dedupe:
  capacity: 16
`)

	cfg, err := LoadConfig(viper.New())
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Agent.Endpoint != "http://coach.local/agui/run" {
		t.Errorf("Agent.Endpoint = %q", cfg.Agent.Endpoint)
	}
	if cfg.Agent.ThreadID != "thread-42" {
		t.Errorf("Agent.ThreadID = %q, want thread-42", cfg.Agent.ThreadID)
	}
	if cfg.Retry.MaxRetries != 4 {
		t.Errorf("Retry.MaxRetries = %d, want 4", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.BaseDelay != 250*time.Millisecond {
		t.Errorf("Retry.BaseDelay = %v, want 250ms", cfg.Retry.BaseDelay)
	}
	if cfg.Retry.AttemptTimeout != 2*time.Minute {
		t.Errorf("Retry.AttemptTimeout = %v, want 2m", cfg.Retry.AttemptTimeout)
	}
	if len(cfg.Activity.MemoryToolTokens) != 2 || cfg.Activity.MemoryToolTokens[0] != "journal" {
		t.Errorf("Activity.MemoryToolTokens = %v", cfg.Activity.MemoryToolTokens)
	}
	if cfg.Dedupe.Capacity != 16 {
		t.Errorf("Dedupe.Capacity = %d, want 16", cfg.Dedupe.Capacity)
	}
	// Untouched sections keep defaults
	if cfg.Paths.State != ".coachrun/state.json" {
		t.Errorf("Paths.State = %q, want default", cfg.Paths.State)
	}
}

func TestLoadConfig_GlobalThenProject(t *testing.T) {
	tmpDir := isolate(t)

	writeFile(t, filepath.Join(tmpDir, "xdg", GlobalConfigDir, GlobalConfigFile), `
agent:
  endpoint: http://global/agui/run
  api_base: http://global/api
`)
	writeFile(t, filepath.Join(ProjectConfigDir, ProjectConfigFile), `
agent:
  endpoint: http://project/agui/run
`)

	cfg, err := LoadConfig(viper.New())
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Agent.Endpoint != "http://project/agui/run" {
		t.Errorf("Agent.Endpoint = %q, want project value", cfg.Agent.Endpoint)
	}
	if cfg.Agent.APIBase != "http://global/api" {
		t.Errorf("Agent.APIBase = %q, want global value", cfg.Agent.APIBase)
	}
}

func TestLoadConfig_ExplicitFile(t *testing.T) {
	tmpDir := isolate(t)

	writeFile(t, filepath.Join(ProjectConfigDir, ProjectConfigFile), "metrics:\n  addr: 127.0.0.1:9000\n")
	explicit := filepath.Join(tmpDir, "custom.yaml")
	writeFile(t, explicit, "metrics:\n  addr: 127.0.0.1:9100\n")

	v := viper.New()
	v.Set("config", explicit)
	cfg, err := LoadConfig(v)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Metrics.Addr != "127.0.0.1:9100" {
		t.Errorf("Metrics.Addr = %q, want explicit value", cfg.Metrics.Addr)
	}
}

func TestLoadConfig_ExplicitFileMissing(t *testing.T) {
	isolate(t)

	v := viper.New()
	v.Set("config", "/nonexistent/coachrun.yaml")
	if _, err := LoadConfig(v); err == nil {
		t.Error("LoadConfig should fail for missing explicit config")
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	isolate(t)

	writeFile(t, filepath.Join(ProjectConfigDir, ProjectConfigFile), `
agent:
  endpoint: http://from-file/agui/run
`)
	t.Setenv("COACHRUN_AGENT_ENDPOINT", "http://from-env/agui/run")
	t.Setenv("COACHRUN_RETRY_MAX_RETRIES", "0")

	v := viper.New()
	BindEnv(v)
	cfg, err := LoadConfig(v)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Agent.Endpoint != "http://from-env/agui/run" {
		t.Errorf("Agent.Endpoint = %q, want env value", cfg.Agent.Endpoint)
	}
	if cfg.Retry.MaxRetries != 0 {
		t.Errorf("Retry.MaxRetries = %d, want 0", cfg.Retry.MaxRetries)
	}
}

func TestLoadConfig_DurationParsing(t *testing.T) {
	tmpDir := isolate(t)

	tests := []struct {
		name    string
		yaml    string
		wantDur time.Duration
		field   string
	}{
		{
			name:    "seconds",
			yaml:    "retry:\n  attempt_timeout: 30s",
			wantDur: 30 * time.Second,
			field:   "retry.attempt_timeout",
		},
		{
			name:    "milliseconds",
			yaml:    "activity:\n  tick_interval: 250ms",
			wantDur: 250 * time.Millisecond,
			field:   "activity.tick_interval",
		},
		{
			name:    "combined",
			yaml:    "retry:\n  attempt_timeout: 1m30s",
			wantDur: 90 * time.Second,
			field:   "retry.attempt_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tmpDir, tt.name+".yaml")
			writeFile(t, configPath, tt.yaml)

			v := viper.New()
			v.Set("config", configPath)

			cfg, err := LoadConfig(v)
			if err != nil {
				t.Fatalf("LoadConfig failed: %v", err)
			}

			var got time.Duration
			switch tt.field {
			case "retry.attempt_timeout":
				got = cfg.Retry.AttemptTimeout
			case "activity.tick_interval":
				got = cfg.Activity.TickInterval
			}

			if got != tt.wantDur {
				t.Errorf("got %v, want %v", got, tt.wantDur)
			}
		})
	}
}

func TestLoadConfig_RejectsInvalid(t *testing.T) {
	tmpDir := isolate(t)

	configPath := filepath.Join(tmpDir, "bad.yaml")
	writeFile(t, configPath, "retry:\n  attempt_timeout: 0s\n")

	v := viper.New()
	v.Set("config", configPath)
	if _, err := LoadConfig(v); err == nil {
		t.Error("expected error for zero attempt timeout")
	}
}

func TestGlobalConfigPath(t *testing.T) {
	// Just test that it doesn't panic and returns empty for non-existent
	path := globalConfigPath()
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("globalConfigPath returned %q but file doesn't exist", path)
		}
	}
}

func TestProjectConfigPath(t *testing.T) {
	isolate(t)
	if path := projectConfigPath(); path != "" {
		t.Errorf("projectConfigPath = %q, want empty", path)
	}
}
