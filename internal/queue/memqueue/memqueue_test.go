package memqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowkit/durable/internal/workflow"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func intPtr(v int) *int                         { return &v }
func orderPtr(o workflow.Order) *workflow.Order { return &o }
func durPtr(d time.Duration) *time.Duration     { return &d }

func TestClaimOrderFIFO(t *testing.T) {
	q := New()
	ctx := context.Background()
	a, err := q.Enqueue(ctx, "wf", []byte("a"), workflow.JobOptions{})
	require.NoError(t, err)
	b, err := q.Enqueue(ctx, "wf", []byte("b"), workflow.JobOptions{})
	require.NoError(t, err)

	require.Equal(t, a, q.claim("wf").ID())
	require.Equal(t, b, q.claim("wf").ID())
	require.Nil(t, q.claim("wf"))
}

func TestClaimOrderLIFO(t *testing.T) {
	q := New()
	ctx := context.Background()
	opts := workflow.JobOptions{Order: orderPtr(workflow.OrderLIFO)}
	a, err := q.Enqueue(ctx, "wf", []byte("a"), opts)
	require.NoError(t, err)
	b, err := q.Enqueue(ctx, "wf", []byte("b"), opts)
	require.NoError(t, err)

	require.Equal(t, b, q.claim("wf").ID())
	require.Equal(t, a, q.claim("wf").ID())
}

func TestHigherPriorityClaimsFirst(t *testing.T) {
	q := New()
	ctx := context.Background()
	low, err := q.Enqueue(ctx, "wf", nil, workflow.JobOptions{Priority: intPtr(0)})
	require.NoError(t, err)
	high, err := q.Enqueue(ctx, "wf", nil, workflow.JobOptions{Priority: intPtr(10)})
	require.NoError(t, err)

	require.Equal(t, high, q.claim("wf").ID())
	require.Equal(t, low, q.claim("wf").ID())
}

func TestDelayedJobsWaitForPromotion(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	q := New()
	q.SetClock(clock)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "wf", nil, workflow.JobOptions{Delay: durPtr(time.Minute)})
	require.NoError(t, err)
	require.Nil(t, q.claim("wf"), "delayed job must not be claimable")

	q.PromoteDue(ctx, "wf")
	require.Nil(t, q.claim("wf"), "not due yet")

	clock.Advance(2 * time.Minute)
	q.PromoteDue(ctx, "wf")
	claimed := q.claim("wf")
	require.NotNil(t, claimed)
	require.Equal(t, id, claimed.ID())
}

func TestDeduplicationReturnsExistingJob(t *testing.T) {
	q := New()
	ctx := context.Background()
	opts := workflow.JobOptions{Dedup: &workflow.Deduplication{TTL: time.Minute, ID: "once"}}

	first, err := q.Enqueue(ctx, "wf", []byte("a"), opts)
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, "wf", []byte("b"), opts)
	require.NoError(t, err)
	require.Equal(t, first, second)

	// A different dedup id creates a fresh job.
	other, err := q.Enqueue(ctx, "wf", nil, workflow.JobOptions{Dedup: &workflow.Deduplication{TTL: time.Minute, ID: "twice"}})
	require.NoError(t, err)
	require.NotEqual(t, first, other)
}

func TestMoveToDelayedAndPromoteRoundTrip(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	q := New()
	q.SetClock(clock)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "wf", nil, workflow.JobOptions{})
	require.NoError(t, err)
	job := q.claim("wf")
	require.Equal(t, id, job.ID())

	require.NoError(t, job.MoveToDelayed(ctx, clock.Now().Add(time.Second)))
	state, err := job.GetState(ctx)
	require.NoError(t, err)
	require.Equal(t, workflow.JobDelayed, state)

	delayed, err := q.GetDelayed(ctx, "wf")
	require.NoError(t, err)
	require.Len(t, delayed, 1)

	require.NoError(t, job.Promote(ctx))
	state, err = job.GetState(ctx)
	require.NoError(t, err)
	require.Equal(t, workflow.JobWaiting, state)
}

func TestUpdateDataIsDurableAcrossGetJob(t *testing.T) {
	q := New()
	ctx := context.Background()
	id, err := q.Enqueue(ctx, "wf", []byte("before"), workflow.JobOptions{})
	require.NoError(t, err)

	job, err := q.GetJob(ctx, "wf", id)
	require.NoError(t, err)
	require.NoError(t, job.UpdateData(ctx, []byte("after")))

	again, err := q.GetJob(ctx, "wf", id)
	require.NoError(t, err)
	require.Equal(t, []byte("after"), again.Data())
}

func TestGetJobMissingReturnsNil(t *testing.T) {
	q := New()
	job, err := q.GetJob(context.Background(), "wf", "nope")
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestWorkerRetriesThenFails(t *testing.T) {
	q := New()
	ctx := context.Background()
	id, err := q.Enqueue(ctx, "wf", nil, workflow.JobOptions{Retries: intPtr(2)})
	require.NoError(t, err)

	dispatches := 0
	done := make(chan struct{})
	handler := func(ctx context.Context, job workflow.Job) error {
		dispatches++
		if dispatches >= 2 {
			defer close(done)
		}
		return context.DeadlineExceeded
	}

	w := q.Worker("wf", handler, workflow.WorkerOptions{Concurrency: 1})
	w.Start(ctx)
	defer w.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never exhausted retries")
	}
	w.Stop()

	require.Equal(t, 2, dispatches)
	job, err := q.GetJob(ctx, "wf", id)
	require.NoError(t, err)
	state, err := job.GetState(ctx)
	require.NoError(t, err)
	require.Equal(t, workflow.JobFailed, state)
}
