package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StateBufferSize is the recommended buffer size for state sink subscriptions.
const StateBufferSize = 1000

// CurrentStateVersion is the current state file format version.
// Increment this when making incompatible changes to the State struct.
const CurrentStateVersion = 1

// DefaultMaxHistory bounds the number of runs kept in the state file.
const DefaultMaxHistory = 50

// Run statuses recorded in RunHistory.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// RunHistory records one logical run across its attempts.
type RunHistory struct {
	RunID         string    `json:"run_id"`
	ThreadID      string    `json:"thread_id,omitempty"`
	AttemptRunIDs []string  `json:"attempt_run_ids"`
	Attempts      int       `json:"attempts"`
	Status        string    `json:"status"`
	LastErrorKind string    `json:"last_error_kind,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	DurationMs    int64     `json:"duration_ms,omitempty"`
}

// State is the persisted run history.
type State struct {
	Version     int            `json:"version"`
	TotalRuns   int            `json:"total_runs"`
	Succeeded   int            `json:"succeeded"`
	Failed      int            `json:"failed"`
	Retries     int            `json:"retries"`
	FailureKind map[string]int `json:"failure_kinds"`
	Runs        []*RunHistory  `json:"runs"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// DefaultMinSaveDelay is the minimum time between saves.
const DefaultMinSaveDelay = 5 * time.Second

// StateSink persists run history to a JSON file.
type StateSink struct {
	path       string
	maxHistory int
	minDelay   time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	state    *State
	current  *RunHistory
	dirty    bool
	lastSave time.Time

	done chan struct{}
}

// StateSinkOption configures a StateSink.
type StateSinkOption func(*StateSink)

// WithMinSaveDelay sets the minimum time between saves of in-progress runs.
// Outcomes are always saved immediately.
func WithMinSaveDelay(d time.Duration) StateSinkOption {
	return func(s *StateSink) {
		s.minDelay = d
	}
}

// WithMaxHistory bounds how many runs are kept.
func WithMaxHistory(n int) StateSinkOption {
	return func(s *StateSink) {
		if n > 0 {
			s.maxHistory = n
		}
	}
}

// WithStateLogger sets where save and load problems are reported.
func WithStateLogger(logger *slog.Logger) StateSinkOption {
	return func(s *StateSink) {
		s.logger = logger
	}
}

// NewStateSink creates a sink that persists to path.
func NewStateSink(path string, opts ...StateSinkOption) *StateSink {
	s := &StateSink{
		path:       path,
		state:      newState(),
		maxHistory: DefaultMaxHistory,
		minDelay:   DefaultMinSaveDelay,
		logger:     slog.Default(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newState() *State {
	return &State{
		Version:     CurrentStateVersion,
		FailureKind: make(map[string]int),
	}
}

// Start ensures the directory exists, loads existing state, and begins processing events.
func (s *StateSink) Start(ctx context.Context, events <-chan Event) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	if err := s.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load state: %w", err)
	}

	go s.run(ctx, events)
	return nil
}

func (s *StateSink) run(ctx context.Context, events <-chan Event) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			s.flushIfDirty()
			return
		case event, ok := <-events:
			if !ok {
				s.flushIfDirty()
				return
			}
			s.handleEvent(event)
		}
	}
}

func (s *StateSink) handleEvent(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := event.(type) {
	case *AttemptStartEvent:
		if e.Attempt == 0 || s.current == nil {
			s.current = &RunHistory{
				RunID:     e.RunID,
				ThreadID:  e.ThreadID,
				Status:    RunRunning,
				StartedAt: event.Timestamp(),
			}
			s.appendRunUnlocked(s.current)
		} else {
			s.state.Retries++
		}
		s.current.Attempts = e.Attempt + 1
		s.current.AttemptRunIDs = append(s.current.AttemptRunIDs, e.RunID)
		s.dirty = true

	case *AttemptFailedEvent:
		if s.current != nil {
			s.current.LastErrorKind = e.Kind
			s.current.LastError = e.Message
			s.dirty = true
		}

	case *RunOutcomeEvent:
		s.state.TotalRuns++
		h := s.current
		if h == nil {
			h = &RunHistory{RunID: e.RunID, ThreadID: e.ThreadID, StartedAt: event.Timestamp()}
			s.appendRunUnlocked(h)
		}
		h.Attempts = e.Attempts
		h.DurationMs = e.DurationMs
		if e.Success {
			s.state.Succeeded++
			h.Status = RunSucceeded
		} else {
			s.state.Failed++
			s.state.FailureKind[e.Kind]++
			h.Status = RunFailed
			h.LastErrorKind = e.Kind
			if e.Error != "" {
				h.LastError = e.Error
			}
		}
		s.current = nil
		s.dirty = true
		// Outcomes are rare and final; persist them immediately.
		s.saveUnlocked()
		return
	}

	if s.dirty && time.Since(s.lastSave) >= s.minDelay {
		s.saveUnlocked()
	}
}

func (s *StateSink) appendRunUnlocked(h *RunHistory) {
	s.state.Runs = append(s.state.Runs, h)
	if over := len(s.state.Runs) - s.maxHistory; over > 0 {
		s.state.Runs = append([]*RunHistory(nil), s.state.Runs[over:]...)
	}
}

func (s *StateSink) saveUnlocked() {
	s.state.UpdatedAt = time.Now()
	if err := writeJSONAtomic(s.path, s.state); err != nil {
		s.logger.Warn("failed to save state", "path", s.path, "error", err)
		return
	}
	s.dirty = false
	s.lastSave = time.Now()
}

// writeJSONAtomic writes v through a temp file and a rename so readers never
// see a partial file.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (s *StateSink) flushIfDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirty {
		s.saveUnlocked()
	}
}

// Stop waits for the run goroutine to finish. The final save happens there.
func (s *StateSink) Stop() error {
	<-s.done
	return nil
}

// Load reads the state file from disk.
// If the file is corrupt or from another version, it is backed up and a
// fresh state is used.
func (s *StateSink) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		s.backupAndReset("state file corrupted", "error", err)
		return nil
	}

	if state.Version != CurrentStateVersion {
		s.backupAndReset("incompatible state version",
			"file_version", state.Version,
			"current_version", CurrentStateVersion)
		return nil
	}

	if state.FailureKind == nil {
		state.FailureKind = make(map[string]int)
	}
	s.state = &state
	return nil
}

// backupAndReset moves the state file aside and starts fresh.
// Must be called with s.mu held.
func (s *StateSink) backupAndReset(reason string, attrs ...any) {
	attrs = append(attrs, "path", s.path)
	if err := os.Rename(s.path, s.path+".backup"); err != nil {
		s.logger.Warn(reason+", failed to backup", append(attrs, "backup_error", err)...)
	} else {
		s.logger.Warn(reason+", backed up and starting fresh", attrs...)
	}
	s.state = newState()
}

// Update applies fn to the state under the sink's lock and saves it.
// It is used to repair history loaded from disk before the sink starts.
func (s *StateSink) Update(fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
	s.saveUnlocked()
}

// State returns a deep copy of the current state.
func (s *StateSink) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *s.state
	cp.FailureKind = make(map[string]int, len(s.state.FailureKind))
	for k, v := range s.state.FailureKind {
		cp.FailureKind[k] = v
	}
	cp.Runs = make([]*RunHistory, len(s.state.Runs))
	for i, h := range s.state.Runs {
		hc := *h
		hc.AttemptRunIDs = append([]string(nil), h.AttemptRunIDs...)
		cp.Runs[i] = &hc
	}
	return cp
}

// Path returns the state file path.
func (s *StateSink) Path() string {
	return s.path
}
