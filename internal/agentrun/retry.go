package agentrun

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/npratt/coachrun/internal/runerr"
)

// Default retry policy: three attempts in total, 1.5s backoff doubling
// per retry, 90s per attempt.
const (
	DefaultMaxRetries     = 2
	DefaultBaseDelay      = 1500 * time.Millisecond
	DefaultAttemptTimeout = 90 * time.Second
)

// Policy bounds the retry loop.
type Policy struct {
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
	BaseDelay      time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" yaml:"attempt_timeout"`
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     DefaultMaxRetries,
		BaseDelay:      DefaultBaseDelay,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// MaxBackoff caps the delay between attempts.
const MaxBackoff = 5 * time.Minute

// Backoff returns the delay before the retry that follows the given
// 0-based attempt: BaseDelay * 2^attempt, capped at MaxBackoff.
func (p Policy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if p.BaseDelay >= MaxBackoff {
		return MaxBackoff
	}
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= MaxBackoff {
			return MaxBackoff
		}
	}
	return d
}

// Attempts returns the total number of attempts the policy allows.
func (p Policy) Attempts() int {
	return p.MaxRetries + 1
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Driver runs agent sessions with retry. A Driver is safe for concurrent
// use; all per-run state lives on the caller's stack.
type Driver struct {
	policy   Policy
	sleep    SleepFunc
	newRunID func() string
	observer Observer
	now      func() time.Time
}

// Option configures a Driver.
type Option func(*Driver)

// WithPolicy replaces the whole retry policy.
func WithPolicy(p Policy) Option {
	return func(d *Driver) {
		d.policy = p
	}
}

// WithMaxRetries sets how many retries follow the first attempt.
func WithMaxRetries(n int) Option {
	return func(d *Driver) {
		d.policy.MaxRetries = n
	}
}

// WithBaseDelay sets the backoff before the first retry.
func WithBaseDelay(delay time.Duration) Option {
	return func(d *Driver) {
		d.policy.BaseDelay = delay
	}
}

// WithAttemptTimeout sets the per-attempt budget.
func WithAttemptTimeout(timeout time.Duration) Option {
	return func(d *Driver) {
		d.policy.AttemptTimeout = timeout
	}
}

// WithSleep replaces the backoff sleep, for tests.
func WithSleep(sleep SleepFunc) Option {
	return func(d *Driver) {
		d.sleep = sleep
	}
}

// WithRunIDFunc replaces the generator of retry run ids.
func WithRunIDFunc(fn func() string) Option {
	return func(d *Driver) {
		d.newRunID = fn
	}
}

// WithObserver attaches an observer for attempt lifecycle.
func WithObserver(o Observer) Option {
	return func(d *Driver) {
		d.observer = o
	}
}

// WithClock replaces the clock used to measure run duration.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		d.now = now
	}
}

// NewDriver creates a Driver with the default policy and the given options.
func NewDriver(opts ...Option) *Driver {
	d := &Driver{
		policy:   DefaultPolicy(),
		sleep:    sleepContext,
		newRunID: NewRetryRunID,
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.policy.MaxRetries < 0 {
		d.policy.MaxRetries = 0
	}
	return d
}

// Policy returns the driver's retry policy.
func (d *Driver) Policy() Policy {
	return d.policy
}

// NewRunID returns a fresh id for the first attempt of a run.
func NewRunID() string {
	return "run-" + uuid.NewString()
}

// NewRetryRunID returns a fresh id for a retried attempt.
func NewRetryRunID() string {
	return "retry-" + uuid.NewString()
}

// RunWithRetry invokes s once per attempt until one succeeds or the policy
// is exhausted. Every attempt runs under the attempt timeout and every
// retry uses a new run id, since the agent deduplicates runs by id.
// On failure the returned error is the last attempt's *runerr.Error.
// Auth and aborted failures are returned at once without sleeping.
func (d *Driver) RunWithRetry(ctx context.Context, s Session, opts RunOptions) (*RunResult, error) {
	start := d.now()
	if opts.RunID == "" {
		opts.RunID = NewRunID()
	}

	attempt := newAttempt(0, d.policy.AttemptTimeout, opts, opts.RunID)
	outcome := Outcome{RunID: attempt.RunID, ThreadID: opts.ThreadID}

	finish := func(n int, err *runerr.Error) {
		outcome.FinalRunID = attempt.RunID
		outcome.Attempts = n + 1
		outcome.Err = err
		outcome.Duration = d.now().Sub(start)
		d.observer.RunFinished(outcome)
	}

	for n := 0; ; n++ {
		d.observer.AttemptStarted(attempt)

		result, err := WithDeadline(ctx, attempt.Deadline, attempt.Label(),
			func(ctx context.Context) (*RunResult, error) {
				return s.Run(ctx, attempt.Options())
			})
		if err == nil {
			if result == nil {
				result = &RunResult{}
			}
			if result.RunID == "" {
				result.RunID = attempt.RunID
			}
			finish(n, nil)
			return result, nil
		}

		classified := runerr.Classify(err)
		if !classified.Retryable() || n >= d.policy.MaxRetries {
			d.observer.AttemptFailed(attempt, classified, 0, false)
			finish(n, classified)
			return nil, classified
		}

		delay := d.policy.Backoff(n)
		d.observer.AttemptFailed(attempt, classified, delay, true)

		if err := d.sleep(ctx, delay); err != nil {
			aborted := runerr.Classify(err)
			finish(n, aborted)
			return nil, aborted
		}

		attempt = newAttempt(n+1, d.policy.AttemptTimeout, opts, d.newRunID())
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
