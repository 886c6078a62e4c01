package events

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func TestLogSinkCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "nested", "events.jsonl")

	sink := NewLogSink(path)
	ch := make(chan Event, 10)
	ctx, cancel := context.WithCancel(context.Background())

	if err := sink.Start(ctx, ch); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(path)); os.IsNotExist(err) {
		t.Error("expected directory to be created")
	}

	cancel()
	_ = sink.Stop()
}

func TestLogSinkWritesParseableLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	sink := NewLogSink(path)
	ch := make(chan Event, 10)
	if err := sink.Start(context.Background(), ch); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ch <- &AttemptStartEvent{BaseEvent: NewInternalEvent(EventAttemptStart), RunID: "run-1"}
	ch <- &AgentEvent{BaseEvent: NewAgentEvent(EventRunStarted), RunID: "run-1"}
	close(ch)
	if err := sink.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	for i, line := range lines {
		ev, err := ParseEvent([]byte(line))
		if err != nil || ev == nil {
			t.Errorf("line %d did not parse: %v", i, err)
			continue
		}
		if GetRunID(ev) != "run-1" {
			t.Errorf("line %d: expected run-1, got %q", i, GetRunID(ev))
		}
	}
	if sink.Written() != 2 {
		t.Errorf("expected 2 written, got %d", sink.Written())
	}
}

func TestLogSinkSkipDeltas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	sink := NewLogSink(path, WithSkipDeltas(true))
	ch := make(chan Event, 10)
	if err := sink.Start(context.Background(), ch); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ch <- &AgentEvent{BaseEvent: NewAgentEvent(EventTextMessageStart)}
	ch <- &AgentEvent{BaseEvent: NewAgentEvent(EventTextMessageContent), Delta: "hi"}
	ch <- &AgentEvent{BaseEvent: NewAgentEvent(EventToolCallArgs), Delta: "{"}
	ch <- &AgentEvent{BaseEvent: NewAgentEvent(EventTextMessageEnd)}
	close(ch)
	_ = sink.Stop()

	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Errorf("expected 2 lines, got %d: %v", len(lines), lines)
	}
}

func TestLogSinkRotatesExistingLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")
	if err := os.WriteFile(path, []byte("{\"type\":\"notice\"}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	sink := NewLogSink(path)
	ch := make(chan Event)
	if err := sink.Start(context.Background(), ch); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	close(ch)
	_ = sink.Stop()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var backups int
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".bak") {
			backups++
		}
	}
	if backups != 1 {
		t.Errorf("expected 1 backup, got %d", backups)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat new log: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("expected fresh empty log, got %d bytes", info.Size())
	}
}

func TestLogSinkStopsOnCancel(t *testing.T) {
	sink := NewLogSink(filepath.Join(t.TempDir(), "events.jsonl"))
	ctx, cancel := context.WithCancel(context.Background())
	if err := sink.Start(ctx, make(chan Event)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		_ = sink.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after cancel")
	}
}

func TestLogSinkPrunesOldBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")
	for _, stamp := range []string{"2026-01-01T09-00-00.000", "2026-01-02T09-00-00.000", "2026-01-03T09-00-00.000"} {
		if err := os.WriteFile(path+"."+stamp+".bak", []byte("{}\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(path, []byte("{}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	sink := NewLogSink(path, WithMaxBackups(2))
	ch := make(chan Event)
	if err := sink.Start(context.Background(), ch); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	close(ch)
	_ = sink.Stop()

	backups, err := filepath.Glob(path + ".*.bak")
	if err != nil {
		t.Fatal(err)
	}
	if len(backups) != 2 {
		t.Fatalf("expected 2 backups, got %v", backups)
	}
	for _, b := range backups {
		if strings.Contains(b, "2026-01-01") || strings.Contains(b, "2026-01-02") {
			t.Errorf("old backup %s was kept", b)
		}
	}
}
