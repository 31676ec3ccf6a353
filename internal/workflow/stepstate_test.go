package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestHandle(now *int64) *StepStateHandle {
	return &StepStateHandle{
		id:    "s",
		state: &StepState{Type: StepRun, Status: StepActive},
		nowFn: func() int64 { return *now },
	}
}

func TestHandleCompleteSetsTimingAndResult(t *testing.T) {
	now := int64(1000)
	h := newTestHandle(&now)
	h.start()
	now = 1250
	require.NoError(t, h.complete("done"))

	require.Equal(t, StepCompleted, h.Status())
	require.JSONEq(t, `"done"`, string(h.state.Result))
	require.Equal(t, int64(1000), *h.state.Metrics.StartedAt)
	require.Equal(t, int64(1250), *h.state.Metrics.CompletedAt)
	require.Equal(t, int64(250), *h.state.Metrics.DurationMs)
}

func TestHandleCompleteWithoutStartZeroesDuration(t *testing.T) {
	now := int64(500)
	h := newTestHandle(&now)
	require.NoError(t, h.complete(true))
	require.Equal(t, int64(0), *h.state.Metrics.DurationMs)
}

func TestHandleFailRecordsError(t *testing.T) {
	now := int64(2000)
	h := newTestHandle(&now)
	h.start()
	h.fail(errors.New("connection reset"))

	require.Equal(t, StepFailed, h.Status())
	require.Equal(t, int64(2000), *h.state.Metrics.FailedAt)
	require.Contains(t, string(h.state.Error), "connection reset")
}

func TestTerminalStatesAreSticky(t *testing.T) {
	now := int64(0)
	h := newTestHandle(&now)
	require.NoError(t, h.complete(1))

	h.start()
	require.Equal(t, StepCompleted, h.Status(), "start must not reopen a completed step")

	failed := newTestHandle(&now)
	failed.fail(errors.New("x"))
	failed.start()
	require.Equal(t, StepFailed, failed.Status(), "start must not reopen a failed step")
}

func TestDelayedResumesToCompleted(t *testing.T) {
	now := int64(100)
	h := newTestHandle(&now)
	h.start()
	h.setDelayed()
	require.Equal(t, StepDelayed, h.Status())

	now = 400
	require.NoError(t, h.complete(true))
	require.Equal(t, StepCompleted, h.Status())
	require.Equal(t, int64(300), *h.state.Metrics.DurationMs)
}

func TestStartIsIdempotentOnStartedAt(t *testing.T) {
	now := int64(10)
	h := newTestHandle(&now)
	h.start()
	now = 99
	h.start()
	require.Equal(t, int64(10), *h.state.Metrics.StartedAt)
}
