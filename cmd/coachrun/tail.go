package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/npratt/coachrun/internal/events"
)

const (
	tailPollInterval = time.Second
	tailMaxLine      = 1024 * 1024
)

// runFilter selects log lines by the run id of their event. An empty
// prefix keeps every line.
type runFilter string

func (f runFilter) keep(line string) bool {
	if f == "" {
		return true
	}
	ev, err := events.ParseEvent([]byte(line))
	if err != nil || ev == nil {
		return false
	}
	return strings.HasPrefix(events.GetRunID(ev), string(f))
}

// tailLast prints the last n events of the log that pass filter, or all of
// them when n is not positive.
func tailLast(w io.Writer, path string, n int, filter runFilter) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(w, "No events yet (log file does not exist)")
		return nil
	}
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	window := newLineWindow(n)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), tailMaxLine)
	for sc.Scan() {
		if line := sc.Text(); filter.keep(line) {
			window.push(line)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read log file: %w", err)
	}

	lines := window.lines()
	if len(lines) == 0 {
		fmt.Fprintln(w, "No events yet")
		return nil
	}
	for _, line := range lines {
		printEventLine(w, line)
	}
	return nil
}

// lineWindow keeps the most recent lines in a fixed ring.
type lineWindow struct {
	buf  []string
	next int
	full bool
	all  bool
}

func newLineWindow(n int) *lineWindow {
	if n <= 0 {
		return &lineWindow{all: true}
	}
	return &lineWindow{buf: make([]string, n)}
}

func (lw *lineWindow) push(line string) {
	if lw.all {
		lw.buf = append(lw.buf, line)
		return
	}
	lw.buf[lw.next] = line
	lw.next = (lw.next + 1) % len(lw.buf)
	if lw.next == 0 {
		lw.full = true
	}
}

func (lw *lineWindow) lines() []string {
	if lw.all {
		return lw.buf
	}
	if !lw.full {
		return lw.buf[:lw.next]
	}
	return append(append([]string(nil), lw.buf[lw.next:]...), lw.buf[:lw.next]...)
}

// follower reads lines appended to the event log. A new coachrun process
// rotates the log on start, so the follower reopens the path when the file
// it holds has been replaced or truncated.
type follower struct {
	path   string
	file   *os.File
	reader *bufio.Reader
	offset int64
	carry  string
}

func (fl *follower) open(seekEnd bool) error {
	f, err := os.Open(fl.path)
	if err != nil {
		return err
	}
	var off int64
	if seekEnd {
		if off, err = f.Seek(0, io.SeekEnd); err != nil {
			_ = f.Close()
			return fmt.Errorf("seek to end: %w", err)
		}
	}
	fl.close()
	fl.file, fl.reader, fl.offset, fl.carry = f, bufio.NewReader(f), off, ""
	return nil
}

func (fl *follower) close() {
	if fl.file != nil {
		_ = fl.file.Close()
		fl.file = nil
	}
}

// replaced reports whether the path now names a different or shorter file
// than the one being read.
func (fl *follower) replaced() bool {
	onDisk, err := os.Stat(fl.path)
	if err != nil {
		return false
	}
	held, err := fl.file.Stat()
	if err != nil {
		return true
	}
	return !os.SameFile(onDisk, held) || onDisk.Size() < fl.offset
}

// drain emits every complete line available and keeps a trailing partial
// line for the next call.
func (fl *follower) drain(emit func(string)) error {
	for {
		chunk, err := fl.reader.ReadString('\n')
		fl.offset += int64(len(chunk))
		if errors.Is(err, io.EOF) {
			fl.carry += chunk
			return nil
		}
		if err != nil {
			return fmt.Errorf("read log: %w", err)
		}
		emit(strings.TrimSuffix(fl.carry+chunk, "\n"))
		fl.carry = ""
	}
}

// tailFollow prints events appended to the log that pass filter until ctx
// is done. Existing lines are skipped. Changes are picked up from fsnotify
// events on the log directory, with a slow poll as a fallback for
// filesystems that do not report them.
func tailFollow(ctx context.Context, w io.Writer, path string, filter runFilter) error {
	fl := &follower{path: path}
	defer fl.close()

	err := fl.open(true)
	switch {
	case errors.Is(err, os.ErrNotExist):
		fmt.Fprintln(w, "Waiting for log file to be created...")
	case err != nil:
		return fmt.Errorf("open log file: %w", err)
	default:
		fmt.Fprintln(w, "Following events (Ctrl+C to stop)...")
	}

	changes, closeWatch := watchLog(path)
	defer closeWatch()

	emit := func(line string) {
		if filter.keep(line) {
			printEventLine(w, line)
		}
	}
	poll := time.NewTicker(tailPollInterval)
	defer poll.Stop()

	for {
		if fl.file != nil {
			if err := fl.drain(emit); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-changes:
		case <-poll.C:
		}

		switch {
		case fl.file == nil:
			if err := fl.open(false); err == nil {
				fmt.Fprintln(w, "Following events (Ctrl+C to stop)...")
			} else if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("open log file: %w", err)
			}
		case fl.replaced():
			if err := fl.drain(emit); err != nil {
				return err
			}
			if err := fl.open(false); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("reopen log file: %w", err)
			}
		}
	}
}

// watchLog signals on the returned channel whenever the log file is
// written, created, renamed or removed. The directory is watched because
// the file is replaced on rotation. When no watcher can be set up the
// channel never fires and the caller's poll carries on alone.
func watchLog(path string) (<-chan struct{}, func()) {
	changes := make(chan struct{}, 1)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return changes, func() {}
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return changes, func() {}
	}

	target := filepath.Base(path)
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
					select {
					case changes <- struct{}{}:
					default:
					}
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return changes, func() { _ = watcher.Close() }
}

// printEventLine prints one log line in its human-readable form. Lines that
// do not decode to a known event are printed as they are.
func printEventLine(w io.Writer, line string) {
	ev, err := events.ParseEvent([]byte(line))
	if err != nil || ev == nil {
		fmt.Fprintln(w, line)
		return
	}
	fmt.Fprintln(w, events.FormatWithTimestamp(ev))
}
