package agentrun

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npratt/coachrun/internal/runerr"
)

func TestWithDeadlineReturnsResult(t *testing.T) {
	got, err := WithDeadline(context.Background(), time.Second, "attempt 1", func(context.Context) (string, error) {
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", got)
}

func TestWithDeadlineReturnsOperationError(t *testing.T) {
	cause := errors.New("boom")
	_, err := WithDeadline(context.Background(), time.Second, "attempt 1", func(context.Context) (int, error) {
		return 0, cause
	})
	assert.Same(t, cause, err)
}

func TestWithDeadlineTimesOutAndCancels(t *testing.T) {
	cancelled := make(chan struct{})
	_, err := WithDeadline(context.Background(), 20*time.Millisecond, "attempt 2", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		close(cancelled)
		return 1, nil
	})

	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "attempt 2", terr.Label)
	assert.True(t, terr.Timeout())
	assert.Equal(t, runerr.KindTimeout, runerr.Classify(err).Kind)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("operation context was not cancelled after timeout")
	}
}

func TestWithDeadlineParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WithDeadline(ctx, time.Minute, "attempt 1", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return 0, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, runerr.KindAborted, runerr.Classify(err).Kind)
}

func TestTimeoutErrorMessage(t *testing.T) {
	tests := []struct {
		budget time.Duration
		want   string
	}{
		{90 * time.Second, "attempt 1 timed out after 90s"},
		{1500 * time.Millisecond, "attempt 1 timed out after 2s"},
		{200 * time.Millisecond, "attempt 1 timed out after 0s"},
	}
	for _, tt := range tests {
		err := &TimeoutError{Label: "attempt 1", Budget: tt.budget}
		assert.Equal(t, tt.want, err.Error())
	}
}
