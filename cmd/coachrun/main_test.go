package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/viper"

	"github.com/npratt/coachrun/internal/config"
	"github.com/npratt/coachrun/internal/events"
	"github.com/npratt/coachrun/internal/mockagent"
	"github.com/npratt/coachrun/internal/testutil"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers and readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// testEnv runs commands in a fresh project directory whose config points
// at a mock agent.
type testEnv struct {
	dir    string
	server *mockagent.Server
}

func newTestEnv(t *testing.T, script *mockagent.Script) *testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	oldWd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldWd) })

	srv := mockagent.New(script, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	cfg := `agent:
  endpoint: ` + ts.URL + `/agui/run
  api_base: ` + ts.URL + `/api
retry:
  base_delay: 1ms
activity:
  tick_interval: 10ms
`
	testutil.WriteFile(t, dir, filepath.Join(config.ProjectConfigDir, "config.yaml"), cfg)
	return &testEnv{dir: dir, server: srv}
}

func (e *testEnv) run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut syncBuffer
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	cmd := newRootCmd(viper.New(), &slog.LevelVar{}, logger, stdio{
		in:     strings.NewReader(stdin),
		out:    &out,
		errOut: &errOut,
	})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func (e *testEnv) state(t *testing.T) events.State {
	t.Helper()
	data := testutil.ReadFile(t, filepath.Join(e.dir, ".coachrun", "state.json"))
	var st events.State
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return st
}

func TestVersionCommand(t *testing.T) {
	env := newTestEnv(t, nil)
	out, _, err := env.run(t, "", "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if out != "coachrun dev\n" {
		t.Errorf("expected %q, got %q", "coachrun dev\n", out)
	}
}

func TestClassifyCommand(t *testing.T) {
	env := newTestEnv(t, nil)
	out, _, err := env.run(t, "", "classify", "HTTP", "503:", "unavailable")
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	for _, want := range []string{"kind:      server", "retryable: true", "toast:     Server error"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got %q", want, out)
		}
	}
}

func TestAskCommand(t *testing.T) {
	env := newTestEnv(t, nil)

	out, errOut, err := env.run(t, "", "ask", "--no-tui", "--memory-hits", "plan", "my", "morning")
	if err != nil {
		t.Fatalf("ask failed: %v (stderr %q)", err, errOut)
	}
	if !strings.Contains(out, "You said: plan my morning") {
		t.Errorf("expected echoed reply, got %q", out)
	}
	if !strings.Contains(out, "Prefers short morning routines") {
		t.Errorf("expected memory hits, got %q", out)
	}
	if !strings.Contains(errOut, "Reading memory...") {
		t.Errorf("expected progress lines on stderr, got %q", errOut)
	}

	st := env.state(t)
	if st.TotalRuns != 1 || st.Succeeded != 1 {
		t.Errorf("expected 1 successful run, got total=%d succeeded=%d", st.TotalRuns, st.Succeeded)
	}

	eventLog, _, err := env.run(t, "", "events", "--count", "50")
	if err != nil {
		t.Fatalf("events failed: %v", err)
	}
	if !strings.Contains(eventLog, "succeeded after 1 attempt(s)") || !strings.Contains(eventLog, "tool: search_memory") {
		t.Errorf("expected run events in log, got %q", eventLog)
	}
}

func TestAskCommand_RetriesServerErrors(t *testing.T) {
	script := mockagent.DefaultScript()
	script.Scenarios[0].Status = 503
	script.Scenarios[0].FailTimes = 1
	env := newTestEnv(t, script)

	out, errOut, err := env.run(t, "", "ask", "--no-tui", "hi")
	if err != nil {
		t.Fatalf("ask failed: %v (stderr %q)", err, errOut)
	}
	if !strings.Contains(out, "You said: hi") {
		t.Errorf("expected reply after retry, got %q", out)
	}
	if env.server.Runs() != 2 {
		t.Errorf("expected 2 runs, got %d", env.server.Runs())
	}
	if st := env.state(t); st.Retries != 1 {
		t.Errorf("expected 1 retry recorded, got %d", st.Retries)
	}
}

func TestAskCommand_AuthFailureShowsToast(t *testing.T) {
	script := mockagent.DefaultScript()
	script.Token = "secret"
	env := newTestEnv(t, script)

	_, errOut, err := env.run(t, "", "ask", "--no-tui", "hi")
	if err == nil {
		t.Fatal("expected error for missing token")
	}
	if !strings.Contains(errOut, "✗ Session expired: please log in again.") {
		t.Errorf("expected auth toast, got %q", errOut)
	}
	st := env.state(t)
	if st.Failed != 1 || st.FailureKind["auth"] != 1 || st.Retries != 0 {
		t.Errorf("expected one unretried auth failure, got failed=%d auth=%d retries=%d", st.Failed, st.FailureKind["auth"], st.Retries)
	}

	_, errOut, err = env.run(t, "", "ask", "--no-tui", "--token", "secret", "hi")
	if err != nil {
		t.Fatalf("ask with token failed: %v (stderr %q)", err, errOut)
	}
}

func TestChatCommand(t *testing.T) {
	env := newTestEnv(t, nil)

	out, errOut, err := env.run(t, "hello\n\n/review\n/quit\nignored\n", "chat", "--no-tui")
	if err != nil {
		t.Fatalf("chat failed: %v (stderr %q)", err, errOut)
	}
	for _, want := range []string{
		"coach: ",
		"You said: hello",
		"This week you checked in",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got %q", want, out)
		}
	}
	if strings.Contains(out, "ignored") {
		t.Errorf("expected input after /quit to be ignored, got %q", out)
	}
}

func TestChatCommand_SeedsFromHistory(t *testing.T) {
	env := newTestEnv(t, nil)

	if _, _, err := env.run(t, "", "ask", "--no-tui", "first"); err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	out, _, err := env.run(t, "", "chat", "--no-tui")
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}
	if !strings.Contains(out, "you: first") || !strings.Contains(out, "coach: You said: first") {
		t.Errorf("expected stored history, got %q", out)
	}
}

func TestInvalidConfigFlag(t *testing.T) {
	env := newTestEnv(t, nil)
	_, _, err := env.run(t, "", "ask", "--config", filepath.Join(env.dir, "missing.yaml"), "hi")
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Errorf("expected load config error, got %v", err)
	}
}

func TestReviewsAndMemoriesCommands(t *testing.T) {
	env := newTestEnv(t, nil)

	out, _, err := env.run(t, "", "reviews")
	if err != nil {
		t.Fatalf("reviews failed: %v", err)
	}
	if !strings.Contains(out, "No weekly reviews yet") {
		t.Errorf("expected empty notice, got %q", out)
	}

	if _, _, err := env.run(t, "/review\n/review\n", "chat", "--no-tui"); err != nil {
		t.Fatalf("chat failed: %v", err)
	}
	out, _, err = env.run(t, "", "reviews", "--limit", "1")
	if err != nil {
		t.Fatalf("reviews failed: %v", err)
	}
	if strings.Count(out, "completed=") != 1 {
		t.Errorf("expected exactly 1 review, got %q", out)
	}
	if !strings.Contains(out, "next: Keep the next step small.") {
		t.Errorf("expected suggestion, got %q", out)
	}

	out, _, err = env.run(t, "", "memories")
	if err != nil {
		t.Fatalf("memories failed: %v", err)
	}
	if !strings.Contains(out, "LONG_TERM_FACT") || !strings.Contains(out, "Prefers short morning routines") {
		t.Errorf("expected memories, got %q", out)
	}
}
