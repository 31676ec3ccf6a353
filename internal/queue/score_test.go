package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowkit/durable/internal/workflow"
)

func TestWaitingScoreOrdersByPriorityThenArrival(t *testing.T) {
	t0 := time.Unix(1000, 0)
	t1 := t0.Add(time.Second)

	// ZPOPMIN claims the lowest score first.
	highEarly := waitingScore(10, workflow.OrderFIFO, t0)
	highLate := waitingScore(10, workflow.OrderFIFO, t1)
	lowEarly := waitingScore(0, workflow.OrderFIFO, t0)

	require.Less(t, highEarly, highLate, "fifo: earlier arrival pops first within a tier")
	require.Less(t, highLate, lowEarly, "higher priority pops before lower, regardless of arrival")
}

func TestWaitingScoreLIFOReversesArrival(t *testing.T) {
	t0 := time.Unix(1000, 0)
	t1 := t0.Add(time.Second)

	early := waitingScore(0, workflow.OrderLIFO, t0)
	late := waitingScore(0, workflow.OrderLIFO, t1)
	require.Less(t, late, early, "lifo: later arrival pops first")
}

func TestWaitingScoreDelayedPriorityTrailsFreshArrivals(t *testing.T) {
	now := time.Unix(2000, 0)
	fresh := waitingScore(0, workflow.OrderFIFO, now)
	resumed := waitingScore(-1, workflow.OrderFIFO, now)
	require.Less(t, fresh, resumed, "delayed-default priority sorts behind fresh jobs")
}

func TestLimiterCapsDispatchesPerWindow(t *testing.T) {
	w := &worker{opts: workflow.WorkerOptions{Limiter: workflow.Limiter{Max: 2, Duration: time.Hour}}}

	require.True(t, w.withinLimiter())
	require.True(t, w.withinLimiter())
	require.False(t, w.withinLimiter(), "third dispatch within the window must be held back")
}

func TestLimiterDisabledWhenUnset(t *testing.T) {
	w := &worker{}
	for i := 0; i < 100; i++ {
		require.True(t, w.withinLimiter())
	}
}
