package queue

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowkit/durable/internal/workflow"
)

// worker polls one workflow's waiting set and dispatches claimed jobs to
// handler with bounded concurrency: a ticker-driven poll, a fixed
// goroutine pool sized by opts.Concurrency, and panic recovery that fails
// the job rather than crashing the pool.
type worker struct {
	q          *RedisQueue
	workflowID string
	handler    workflow.JobHandler
	opts       workflow.WorkerOptions

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	limiterMu     sync.Mutex
	limiterWindow time.Time
	limiterCount  int
}

func newWorker(q *RedisQueue, workflowID string, handler workflow.JobHandler, opts workflow.WorkerOptions) *worker {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	w := &worker{q: q, workflowID: workflowID, handler: handler, opts: opts}
	if opts.Autorun {
		w.Start(context.Background())
	}
	return w
}

// Start implements workflow.Worker.Start.
func (w *worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.done = make(chan struct{})
	w.mu.Unlock()

	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < w.opts.Concurrency; i++ {
		id := i + 1
		g.Go(func() error {
			w.runLoop(gctx, id)
			return nil
		})
	}
	g.Go(func() error {
		w.promoteLoop(gctx)
		return nil
	})
	done := w.done
	go func() {
		_ = g.Wait()
		close(done)
	}()
}

// Pause implements workflow.Worker.Pause. It is the same as Stop for this
// pool: the poll and promote goroutines exit once in-flight dispatches
// finish. The underlying Redis connection stays open, and Start resumes
// polling.
func (w *worker) Pause() { w.Stop() }

// Stop implements workflow.Worker.Stop.
func (w *worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	done := w.done
	w.running = false
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (w *worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !w.withinLimiter() {
				continue
			}
			job, err := w.q.claim(ctx, w.workflowID)
			if err != nil {
				w.q.log.Warn("durable/queue: claim failed", "workflow", w.workflowID, "worker_id", workerID, "error", err)
				continue
			}
			if job == nil {
				continue
			}
			w.dispatch(ctx, job)
		}
	}
}

// promoteLoop periodically moves due delayed jobs back onto the waiting
// set, independent of any particular invoke's own 1-second poll — the
// belt-and-braces backstop behind the completion-notification path.
func (w *worker) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.q.promoteDueDelayed(ctx, w.workflowID); err != nil {
				w.q.log.Warn("durable/queue: promote-due failed", "workflow", w.workflowID, "error", err)
			}
		}
	}
}

func (w *worker) withinLimiter() bool {
	if w.opts.Limiter.Max <= 0 || w.opts.Limiter.Duration <= 0 {
		return true
	}
	w.limiterMu.Lock()
	defer w.limiterMu.Unlock()
	now := time.Now()
	if now.Sub(w.limiterWindow) > w.opts.Limiter.Duration {
		w.limiterWindow = now
		w.limiterCount = 0
	}
	if w.limiterCount >= w.opts.Limiter.Max {
		return false
	}
	w.limiterCount++
	return true
}

func (w *worker) dispatch(ctx context.Context, job *redisJob) {
	defer func() {
		if r := recover(); r != nil {
			w.q.log.Error("durable/queue: handler panic", "workflow", w.workflowID, "job_id", job.id, "panic", r)
			_ = job.Fail(ctx, "panic during job handler")
		}
	}()

	err := w.handler(ctx, job)
	switch {
	case err == nil:
		// handler is responsible for job.Complete()/job.SetReturnValue()
		// on clean return (see Workflow.Handler).
	case workflow.IsSuspend(err):
		// the step primitive already moved the job to the delayed set
		// before raising Suspend; nothing further to do here.
	case workflow.IsUnrecoverable(err):
		if ferr := job.Fail(ctx, err.Error()); ferr != nil {
			w.q.log.Warn("durable/queue: fail after unrecoverable error failed", "workflow", w.workflowID, "job_id", job.id, "error", ferr)
		}
	default:
		w.retryOrFail(ctx, job, err)
	}
}

func (w *worker) retryOrFail(ctx context.Context, job *redisJob, cause error) {
	attempts, retries, rerr := job.recordAttemptFailure(ctx)
	if rerr != nil {
		w.q.log.Warn("durable/queue: recording attempt failure failed", "workflow", w.workflowID, "job_id", job.id, "error", rerr)
	}
	if attempts >= retries {
		if ferr := job.Fail(ctx, cause.Error()); ferr != nil {
			w.q.log.Warn("durable/queue: terminal fail failed", "workflow", w.workflowID, "job_id", job.id, "error", ferr)
		}
		return
	}
	backoff := time.Duration(attempts) * time.Second
	if qerr := job.requeueForRetry(ctx, backoff); qerr != nil {
		w.q.log.Warn("durable/queue: requeue for retry failed", "workflow", w.workflowID, "job_id", job.id, "error", qerr)
	}
}
