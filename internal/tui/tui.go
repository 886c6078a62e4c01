// Package tui renders the activity of an agent run in the terminal: an
// inline bubbletea spinner line when attached to a TTY, plain timestamped
// lines otherwise.
package tui

import (
	"context"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/npratt/coachrun/internal/activity"
)

// Indicator shows activity snapshots until its context is cancelled or the
// snapshot channel closes.
type Indicator struct {
	updates     <-chan activity.Activity
	out         io.Writer
	in          io.Reader
	interactive bool
	onInterrupt func()
}

// Option configures the Indicator.
type Option func(*Indicator)

// New creates an Indicator reading from updates, typically a tracker
// subscription.
func New(updates <-chan activity.Activity, opts ...Option) *Indicator {
	i := &Indicator{
		updates:     updates,
		out:         os.Stdout,
		in:          os.Stdin,
		interactive: IsInteractive(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// WithOutput sets where the indicator draws.
func WithOutput(w io.Writer) Option {
	return func(i *Indicator) {
		i.out = w
	}
}

// WithInput sets the keyboard source of the interactive indicator. A nil
// reader disables keyboard handling, for callers that read stdin
// themselves.
func WithInput(r io.Reader) Option {
	return func(i *Indicator) {
		i.in = r
	}
}

// WithInteractive overrides TTY detection.
func WithInteractive(interactive bool) Option {
	return func(i *Indicator) {
		i.interactive = interactive
	}
}

// WithOnInterrupt sets the callback invoked when the user presses ctrl+c
// in the interactive indicator.
func WithOnInterrupt(fn func()) Option {
	return func(i *Indicator) {
		i.onInterrupt = fn
	}
}

// Run draws until ctx is done or the updates channel closes.
func (i *Indicator) Run(ctx context.Context) error {
	if !i.interactive {
		return i.runSimple(ctx)
	}

	p := tea.NewProgram(newModel(i.updates, i.onInterrupt),
		tea.WithOutput(i.out),
		tea.WithInput(i.in),
		tea.WithoutSignalHandler(),
	)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			p.Quit()
		case <-stop:
		}
	}()

	_, err := p.Run()
	return err
}
