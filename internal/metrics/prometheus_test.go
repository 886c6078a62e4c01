package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npratt/coachrun/internal/agentrun"
	"github.com/npratt/coachrun/internal/runerr"
)

func TestRecorderCountsRetriesAndOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewRecorder(reg)

	serverErr := runerr.Classify(errors.New("HTTP 503: down"))
	rec.AttemptFailed(agentrun.RunAttempt{}, serverErr, time.Second, true)
	rec.AttemptFailed(agentrun.RunAttempt{}, serverErr, 2*time.Second, true)
	rec.AttemptFailed(agentrun.RunAttempt{}, serverErr, 0, false)
	rec.RunFinished(agentrun.Outcome{Attempts: 3, Err: serverErr, Duration: 5 * time.Second})

	assert.Equal(t, 3.0, testutil.ToFloat64(rec.attemptsTotal.WithLabelValues(OutcomeError, "server")))
	assert.Equal(t, 2.0, testutil.ToFloat64(rec.retriesTotal.WithLabelValues("server")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.runsTotal.WithLabelValues(OutcomeError, "server")))
	assert.Equal(t, 1, testutil.CollectAndCount(rec.runDuration))
}

func TestRecorderSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewRecorder(reg)

	rec.RunFinished(agentrun.Outcome{Attempts: 1, Duration: time.Second})

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.attemptsTotal.WithLabelValues(OutcomeSuccess, "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.runsTotal.WithLabelValues(OutcomeSuccess, "")))
}

func TestRecorderWithDriver(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewRecorder(reg)

	calls := 0
	session := agentrun.SessionFunc(func(ctx context.Context, _ agentrun.RunOptions) (*agentrun.RunResult, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connection refused")
		}
		return &agentrun.RunResult{}, nil
	})
	d := agentrun.NewDriver(
		agentrun.WithObserver(rec),
		agentrun.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	_, err := d.RunWithRetry(context.Background(), session, agentrun.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.retriesTotal.WithLabelValues("network")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.runsTotal.WithLabelValues(OutcomeSuccess, "")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewRecorder(reg)
	rec.RunFinished(agentrun.Outcome{Attempts: 1})

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(body), "coachrun_runs_total"), "metrics body: %s", body)
}
