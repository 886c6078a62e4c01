// Package metrics records agent run attempts and outcomes as Prometheus
// metrics.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/npratt/coachrun/internal/agentrun"
	"github.com/npratt/coachrun/internal/runerr"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Recorder implements agentrun.Observer using Prometheus metrics.
type Recorder struct {
	attemptsTotal *prometheus.CounterVec
	retriesTotal  *prometheus.CounterVec
	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
}

// NewRecorder registers the run metrics on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		attemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coachrun_attempts_total",
				Help: "Total number of agent run attempts by outcome and error kind",
			},
			[]string{"outcome", "kind"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coachrun_retries_total",
				Help: "Total number of retries scheduled, by the error kind that caused them",
			},
			[]string{"kind"},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coachrun_runs_total",
				Help: "Total number of logical agent runs by outcome and final error kind",
			},
			[]string{"outcome", "kind"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coachrun_run_duration_seconds",
				Help:    "Duration of logical agent runs including retries and backoff",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
	}
}

// AttemptStarted is a no-op; attempts are counted when they settle.
func (r *Recorder) AttemptStarted(agentrun.RunAttempt) {}

// AttemptFailed counts the failed attempt and any retry it causes.
func (r *Recorder) AttemptFailed(_ agentrun.RunAttempt, err *runerr.Error, _ time.Duration, willRetry bool) {
	kind := runerr.KindUnknown
	if err != nil {
		kind = err.Kind
	}
	r.attemptsTotal.WithLabelValues(OutcomeError, string(kind)).Inc()
	if willRetry {
		r.retriesTotal.WithLabelValues(string(kind)).Inc()
	}
}

// RunFinished counts the run and, for a successful run, its final attempt.
func (r *Recorder) RunFinished(o agentrun.Outcome) {
	outcome, kind := OutcomeSuccess, ""
	if !o.Success() {
		outcome, kind = OutcomeError, string(o.Err.Kind)
	} else {
		r.attemptsTotal.WithLabelValues(OutcomeSuccess, "").Inc()
	}
	r.runsTotal.WithLabelValues(outcome, kind).Inc()
	r.runDuration.WithLabelValues(outcome).Observe(o.Duration.Seconds())
}

var _ agentrun.Observer = (*Recorder)(nil)

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
