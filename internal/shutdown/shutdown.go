// Package shutdown runs long-lived commands (the mock agent, the metrics
// endpoint, the chat loop) until they finish or a termination signal
// arrives.
package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Signals are the signals that trigger a graceful shutdown. A second one
// during the grace period abandons the wait.
var Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// RunWithGracefulShutdown runs runner until it returns on its own, ctx is
// done, or a signal arrives. In the latter two cases the runner's context
// is canceled, shutdown (if set) is called with a context bounded by
// timeout, and the runner has until that deadline to return. An error of
// context.Canceled from the runner counts as a clean exit, and so does
// running out of grace time.
func RunWithGracefulShutdown(
	ctx context.Context,
	logger *slog.Logger,
	timeout time.Duration,
	runner func(ctx context.Context) error,
	shutdown func(ctx context.Context) error,
) error {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, Signals...)
	defer signal.Stop(sigs)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	result := make(chan error, 1)
	go func() { result <- runner(runCtx) }()

	select {
	case err := <-result:
		return ignoreCanceled(err)
	case sig := <-sigs:
		logger.Info("received signal, initiating shutdown", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("context canceled, initiating shutdown", "cause", context.Cause(ctx))
	}
	stop()

	graceCtx, cancelGrace := context.WithTimeout(context.Background(), timeout)
	defer cancelGrace()

	if shutdown != nil {
		if err := shutdown(graceCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}

	select {
	case err := <-result:
		logger.Info("shutdown complete")
		return ignoreCanceled(err)
	case sig := <-sigs:
		logger.Warn("second signal, exiting without waiting", "signal", sig.String())
	case <-graceCtx.Done():
		logger.Warn("shutdown timeout exceeded", "timeout", timeout)
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
