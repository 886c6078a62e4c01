package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Sink consumes events from the router.
type Sink interface {
	Start(ctx context.Context, events <-chan Event) error
	Stop() error
}

// DefaultMaxBackups is how many rotated event logs are kept next to the
// live one.
const DefaultMaxBackups = 5

const backupTimeFormat = "2006-01-02T15-04-05.000"

// LogSink appends events as JSON lines to the file that `coachrun events`
// tails. A non-empty file left by an earlier process is rotated aside on
// Start.
type LogSink struct {
	path       string
	maxBackups int
	keep       func(Event) bool
	logger     *slog.Logger

	mu      sync.Mutex
	out     *os.File
	enc     *json.Encoder
	written int

	done chan struct{}
}

// LogSinkOption configures a LogSink.
type LogSinkOption func(*LogSink)

// WithSkipDeltas drops text content and tool argument chunks, which
// dominate the log for long replies.
func WithSkipDeltas(skip bool) LogSinkOption {
	return func(s *LogSink) {
		if skip {
			s.keep = notDelta
		} else {
			s.keep = nil
		}
	}
}

// WithMaxBackups bounds the rotated logs kept; zero or less keeps all.
func WithMaxBackups(n int) LogSinkOption {
	return func(s *LogSink) {
		s.maxBackups = n
	}
}

// WithSinkLogger sets where write and rotation problems are reported.
func WithSinkLogger(logger *slog.Logger) LogSinkOption {
	return func(s *LogSink) {
		s.logger = logger
	}
}

// NewLogSink creates a sink writing to path.
func NewLogSink(path string, opts ...LogSinkOption) *LogSink {
	s := &LogSink{
		path:       path,
		maxBackups: DefaultMaxBackups,
		logger:     slog.Default(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start rotates any previous log, opens a fresh one and consumes events
// until ctx is canceled or the channel closes.
func (s *LogSink) Start(ctx context.Context, events <-chan Event) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	if err := s.rotate(); err != nil {
		return err
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	s.mu.Lock()
	s.out = f
	s.enc = json.NewEncoder(f)
	s.mu.Unlock()

	go s.consume(ctx, events)
	return nil
}

func (s *LogSink) rotate() error {
	info, err := os.Stat(s.path)
	switch {
	case os.IsNotExist(err):
		return nil
	case err != nil:
		return fmt.Errorf("stat log file: %w", err)
	case info.Size() == 0:
		return nil
	}

	backup := s.path + "." + time.Now().Format(backupTimeFormat) + ".bak"
	if err := os.Rename(s.path, backup); err != nil {
		return fmt.Errorf("rotate log file: %w", err)
	}
	s.pruneBackups()
	return nil
}

// pruneBackups removes the oldest backups beyond maxBackups. The timestamp
// suffix sorts lexically in time order.
func (s *LogSink) pruneBackups() {
	if s.maxBackups <= 0 {
		return
	}
	backups, err := filepath.Glob(s.path + ".*.bak")
	if err != nil || len(backups) <= s.maxBackups {
		return
	}
	sort.Strings(backups)
	for _, old := range backups[:len(backups)-s.maxBackups] {
		if err := os.Remove(old); err != nil {
			s.logger.Warn("failed to remove old event log", "path", old, "error", err)
		}
	}
}

func (s *LogSink) consume(ctx context.Context, events <-chan Event) {
	defer close(s.done)

	for {
		var (
			ev Event
			ok bool
		)
		select {
		case <-ctx.Done():
			return
		case ev, ok = <-events:
		}
		if !ok {
			return
		}
		if s.keep != nil && !s.keep(ev) {
			continue
		}
		s.append(ev)
	}
}

func notDelta(ev Event) bool {
	t := ev.Type()
	return t != EventTextMessageContent && t != EventToolCallArgs
}

func (s *LogSink) append(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc == nil {
		return
	}
	if err := s.enc.Encode(ev); err != nil {
		s.logger.Warn("failed to write event", "type", ev.Type(), "error", err)
		return
	}
	s.written++
}

// Written returns how many events have been written.
func (s *LogSink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Stop waits for the consumer to finish and closes the file.
func (s *LogSink) Stop() error {
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return nil
	}
	err := s.out.Close()
	s.out, s.enc = nil, nil
	return err
}

// Path returns the log file path.
func (s *LogSink) Path() string {
	return s.path
}
