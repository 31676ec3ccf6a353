// Package memqueue is an in-process, in-memory implementation of
// workflow.Queue, used by the core's own tests so they can drive
// suspend/resume and invoke/promote scenarios deterministically without a
// live Redis instance. It mirrors internal/queue's Redis-backed
// semantics (priority/order scoring, delayed-set promotion, a bounded
// retry policy on ordinary step failures) over plain Go maps.
package memqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowkit/durable/internal/workflow"
)

// Clock abstracts wall-clock time so tests can control delayed-job
// promotion without sleeping. Defaults to time.Now.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type jobRecord struct {
	id          string
	workflowID  string
	data        []byte
	returnValue []byte
	state       workflow.JobStatus
	priority    int
	order       workflow.Order
	retries     int
	attempts    int
	dueAt       time.Time
	seq         uint64
}

// Queue is an in-memory workflow.Queue. Zero value is not usable; use
// New.
type Queue struct {
	mu    sync.Mutex
	clock Clock
	seq   uint64
	jobs  map[string]map[string]*jobRecord // workflowID -> jobID -> record
	dedup map[string]string                // "workflowID\x00dedupID" -> jobID
}

// New constructs an empty in-memory queue using the system clock.
func New() *Queue {
	return &Queue{
		clock: systemClock{},
		jobs:  map[string]map[string]*jobRecord{},
		dedup: map[string]string{},
	}
}

// SetClock overrides the queue's clock, for deterministic tests of
// sleep/repeat/invoke pacing.
func (q *Queue) SetClock(c Clock) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.clock = c
}

func (q *Queue) now() time.Time {
	q.mu.Lock()
	c := q.clock
	q.mu.Unlock()
	return c.Now()
}

func score(priority int, order workflow.Order, seq uint64) float64 {
	tie := float64(seq)
	if order == workflow.OrderLIFO {
		tie = -tie
	}
	return -float64(priority)*1e15 + tie
}

// Enqueue implements workflow.Queue.Enqueue.
func (q *Queue) Enqueue(ctx context.Context, workflowID string, data []byte, opts workflow.JobOptions) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if opts.Dedup != nil && opts.Dedup.ID != "" {
		key := workflowID + "\x00" + opts.Dedup.ID
		if existing, ok := q.dedup[key]; ok {
			return existing, nil
		}
	}

	q.seq++
	id := fmt.Sprintf("job-%d", q.seq)
	if opts.UniqueJobID != nil && *opts.UniqueJobID != "" {
		id = *opts.UniqueJobID
		if _, exists := q.jobs[workflowID][id]; exists {
			return id, nil
		}
	}
	priority := 0
	if opts.Priority != nil {
		priority = *opts.Priority
	}
	order := workflow.OrderFIFO
	if opts.Order != nil {
		order = *opts.Order
	}
	retries := 3
	if opts.Retries != nil {
		retries = *opts.Retries
	}

	rec := &jobRecord{
		id:         id,
		workflowID: workflowID,
		data:       append([]byte(nil), data...),
		state:      workflow.JobWaiting,
		priority:   priority,
		order:      order,
		retries:    retries,
		seq:        q.seq,
	}
	if opts.Delay != nil && *opts.Delay > 0 {
		rec.state = workflow.JobDelayed
		rec.dueAt = q.clock.Now().Add(*opts.Delay)
	}

	if q.jobs[workflowID] == nil {
		q.jobs[workflowID] = map[string]*jobRecord{}
	}
	q.jobs[workflowID][id] = rec

	if opts.Dedup != nil && opts.Dedup.ID != "" {
		q.dedup[workflowID+"\x00"+opts.Dedup.ID] = id
	}

	return id, nil
}

// GetJob implements workflow.Queue.GetJob.
func (q *Queue) GetJob(ctx context.Context, workflowID, id string) (workflow.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.jobs[workflowID][id]
	if !ok {
		return nil, nil
	}
	return &memJob{q: q, rec: rec}, nil
}

// GetDelayed implements workflow.Queue.GetDelayed.
func (q *Queue) GetDelayed(ctx context.Context, workflowID string) ([]workflow.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []workflow.Job
	for _, rec := range q.jobs[workflowID] {
		if rec.state == workflow.JobDelayed {
			out = append(out, &memJob{q: q, rec: rec})
		}
	}
	return out, nil
}

// PromoteDue moves every delayed job of workflowID whose due time has
// passed (by the queue's clock) back onto the waiting set. Tests call
// this explicitly after advancing a fake clock, instead of racing a
// background ticker.
func (q *Queue) PromoteDue(ctx context.Context, workflowID string) {
	q.mu.Lock()
	now := q.clock.Now()
	var due []*jobRecord
	for _, rec := range q.jobs[workflowID] {
		if rec.state == workflow.JobDelayed && !rec.dueAt.After(now) {
			due = append(due, rec)
		}
	}
	q.mu.Unlock()
	for _, rec := range due {
		(&memJob{q: q, rec: rec}).Promote(ctx)
	}
}

// claim pops the lowest-scored waiting job of workflowID, or returns nil
// if none is ready.
func (q *Queue) claim(workflowID string) *memJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	var best *jobRecord
	var bestScore float64
	for _, rec := range q.jobs[workflowID] {
		if rec.state != workflow.JobWaiting {
			continue
		}
		s := score(rec.priority, rec.order, rec.seq)
		if best == nil || s < bestScore {
			best, bestScore = rec, s
		}
	}
	if best == nil {
		return nil
	}
	best.state = workflow.JobActive
	return &memJob{q: q, rec: best}
}

// Worker implements workflow.Queue.Worker.
func (q *Queue) Worker(workflowID string, handler workflow.JobHandler, opts workflow.WorkerOptions) workflow.Worker {
	return newWorker(q, workflowID, handler, opts)
}

// memJob implements workflow.Job over a *jobRecord guarded by the
// parent Queue's mutex.
type memJob struct {
	q   *Queue
	rec *jobRecord
}

func (j *memJob) ID() string         { return j.rec.id }
func (j *memJob) WorkflowID() string { return j.rec.workflowID }

func (j *memJob) Data() []byte {
	j.q.mu.Lock()
	defer j.q.mu.Unlock()
	return append([]byte(nil), j.rec.data...)
}

func (j *memJob) UpdateData(ctx context.Context, data []byte) error {
	j.q.mu.Lock()
	defer j.q.mu.Unlock()
	j.rec.data = append([]byte(nil), data...)
	return nil
}

func (j *memJob) MoveToDelayed(ctx context.Context, until time.Time) error {
	j.q.mu.Lock()
	defer j.q.mu.Unlock()
	j.rec.state = workflow.JobDelayed
	j.rec.dueAt = until
	return nil
}

func (j *memJob) ChangePriority(ctx context.Context, priority int) error {
	j.q.mu.Lock()
	defer j.q.mu.Unlock()
	j.rec.priority = priority
	return nil
}

func (j *memJob) Promote(ctx context.Context) error {
	j.q.mu.Lock()
	defer j.q.mu.Unlock()
	j.rec.state = workflow.JobWaiting
	return nil
}

func (j *memJob) GetState(ctx context.Context) (workflow.JobStatus, error) {
	j.q.mu.Lock()
	defer j.q.mu.Unlock()
	return j.rec.state, nil
}

func (j *memJob) ReturnValue() []byte {
	j.q.mu.Lock()
	defer j.q.mu.Unlock()
	return append([]byte(nil), j.rec.returnValue...)
}

func (j *memJob) SetReturnValue(ctx context.Context, value []byte) error {
	j.q.mu.Lock()
	defer j.q.mu.Unlock()
	j.rec.returnValue = append([]byte(nil), value...)
	return nil
}

func (j *memJob) Fail(ctx context.Context, errMsg string) error {
	j.q.mu.Lock()
	defer j.q.mu.Unlock()
	j.rec.state = workflow.JobFailed
	return nil
}

func (j *memJob) Complete(ctx context.Context) error {
	j.q.mu.Lock()
	defer j.q.mu.Unlock()
	j.rec.state = workflow.JobCompleted
	return nil
}

func (j *memJob) recordAttemptFailure() (attempts, retries int) {
	j.q.mu.Lock()
	defer j.q.mu.Unlock()
	j.rec.attempts++
	return j.rec.attempts, j.rec.retries
}

func (j *memJob) requeueForRetry(backoff time.Duration) {
	j.q.mu.Lock()
	defer j.q.mu.Unlock()
	if backoff <= 0 {
		j.rec.state = workflow.JobWaiting
		return
	}
	j.rec.state = workflow.JobDelayed
	j.rec.dueAt = j.q.clock.Now().Add(backoff)
}
