package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/npratt/coachrun/internal/activity"
	"github.com/npratt/coachrun/internal/agentrun"
	"github.com/npratt/coachrun/internal/coach"
	"github.com/npratt/coachrun/internal/coachapi"
	"github.com/npratt/coachrun/internal/config"
	"github.com/npratt/coachrun/internal/events"
	"github.com/npratt/coachrun/internal/httpkit"
	"github.com/npratt/coachrun/internal/metrics"
)

// app is the runtime shared by the conversation commands: the event
// router and its sinks, the activity tracker, the retry driver with its
// observers, and the conversation itself.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	router    *events.Router
	tracker   *activity.Tracker
	logSink   *events.LogSink
	stateSink *events.StateSink
	registry  *prometheus.Registry
	conv      *coach.Conversation

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type appOptions struct {
	memoryHits bool
	// toasts receives user-facing notices; nil discards them.
	toasts io.Writer
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	if _, err := cfg.LoadToken(); err != nil {
		return nil, err
	}
	for _, p := range []string{cfg.Paths.State, cfg.Paths.Events} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	a := &app{
		cfg:      cfg,
		logger:   logger,
		router:   events.NewRouter(events.DefaultBufferSize, events.WithRouterLogger(logger)),
		registry: prometheus.NewRegistry(),
		cancel:   cancel,
	}

	a.tracker = activity.New(
		activity.WithTickInterval(cfg.Activity.TickInterval),
		activity.WithDoneResetDelay(cfg.Activity.DoneResetDelay),
		activity.WithErrorResetDelay(cfg.Activity.ErrorResetDelay),
		activity.WithToolMatcher(activity.TokenMatcher(cfg.Activity.MemoryToolTokens...)),
		activity.WithLogger(logger),
	)

	logSink := events.NewLogSink(cfg.Paths.Events, events.WithSkipDeltas(true), events.WithSinkLogger(logger))
	if err := logSink.Start(ctx, a.router.Subscribe()); err != nil {
		a.Close()
		return nil, fmt.Errorf("start log sink: %w", err)
	}
	a.logSink = logSink

	stateSink := events.NewStateSink(cfg.Paths.State, events.WithStateLogger(logger))
	if err := stateSink.Start(ctx, a.router.SubscribeBuffered(events.StateBufferSize)); err != nil {
		a.Close()
		return nil, fmt.Errorf("start state sink: %w", err)
	}
	a.stateSink = stateSink
	a.stateSink.Update(normalizeHistoryForRecovery)

	if cfg.Metrics.Addr != "" {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, a.registry, logger); err != nil {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	driver := agentrun.NewDriver(
		agentrun.WithPolicy(cfg.Retry),
		agentrun.WithObserver(agentrun.Observers{
			agentrun.LogObserver{Logger: logger},
			agentrun.EventObserver{Router: a.router},
			metrics.NewRecorder(a.registry),
		}),
	)

	streamClient := httpkit.NewClient(httpkit.WithTimeout(0), httpkit.WithTokenSource(tokenSource(cfg, logger)))

	notifiers := multiNotifier{coach.RouterNotifier{Router: a.router}}
	if opts.toasts != nil {
		notifiers = append(notifiers, toastWriter{w: opts.toasts})
	}

	convOpts := []coach.Option{
		coach.WithThreadID(cfg.Agent.ThreadID),
		coach.WithRunner(driver),
		coach.WithTracker(a.tracker),
		coach.WithNotifier(notifiers),
		coach.WithAPI(newAPIClient(cfg, logger)),
		coach.WithHTTPClient(streamClient),
		coach.WithRouter(a.router),
		coach.WithDedupeCapacity(cfg.Dedupe.Capacity),
		coach.WithLogger(logger),
	}
	if opts.memoryHits {
		convOpts = append(convOpts, coach.WithMemoryHitLookup())
	}
	a.conv = coach.New(cfg.Agent.Endpoint, convOpts...)

	logger.Debug("coachrun ready",
		"endpoint", cfg.Agent.Endpoint,
		"thread_id", a.conv.ThreadID(),
		"max_retries", cfg.Retry.MaxRetries,
	)
	return a, nil
}

// tokenSource re-reads the bearer token for every request.
func tokenSource(cfg *config.Config, logger *slog.Logger) func() string {
	return func() string {
		tok, err := cfg.LoadToken()
		if err != nil {
			logger.Warn("failed to read token", "error", err)
		}
		return tok
	}
}

// newAPIClient builds the coach REST client.
func newAPIClient(cfg *config.Config, logger *slog.Logger) *coachapi.HTTPClient {
	return coachapi.NewHTTPClient(cfg.Agent.APIBase, httpkit.NewClient(httpkit.WithTokenSource(tokenSource(cfg, logger))))
}

// Close stops the sinks and the tracker. It is safe to call on a partly
// built app.
func (a *app) Close() {
	a.cancel()
	for name, n := range a.router.DroppedBy() {
		a.logger.Debug("subscriber dropped events", "subscriber", name, "count", n)
	}
	a.router.Close()
	if a.logSink != nil {
		_ = a.logSink.Stop()
	}
	if a.stateSink != nil {
		_ = a.stateSink.Stop()
	}
	if a.tracker != nil {
		a.tracker.Close()
	}
	a.wg.Wait()
	if dropped := a.router.Dropped(); dropped > 0 {
		a.logger.Debug("router dropped events", "count", dropped)
	}
}

// multiNotifier fans a notice out to several notifiers.
type multiNotifier []coach.Notifier

func (m multiNotifier) Notify(runID, severity, message string) {
	for _, n := range m {
		n.Notify(runID, severity, message)
	}
}

// toastWriter prints notices as single lines.
type toastWriter struct {
	w io.Writer
}

func (t toastWriter) Notify(_, severity, message string) {
	mark := "!"
	if severity == events.SeverityError {
		mark = "✗"
	}
	fmt.Fprintf(t.w, "%s %s\n", mark, message)
}
