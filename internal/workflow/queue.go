package workflow

import (
	"context"
	"time"
)

// Queue is the sole external dependency of the core.
// Any backing store — Redis, an in-memory fake for tests, something else —
// can drive the engine as long as it satisfies this contract.
type Queue interface {
	// Enqueue adds a job of the given workflow with the given raw data and
	// options, returning the queue-assigned job id.
	Enqueue(ctx context.Context, workflowID string, data []byte, opts JobOptions) (string, error)

	// GetJob retrieves a job by id. Returns (nil, nil) if it does not exist.
	GetJob(ctx context.Context, workflowID, id string) (Job, error)

	// GetDelayed returns every job of the given workflow currently sitting
	// in the delayed set, for invoke's promotion scan.
	GetDelayed(ctx context.Context, workflowID string) ([]Job, error)

	// Worker constructs (but does not start) a worker pool for the given
	// workflow. handler is invoked once per claimed job dispatch.
	Worker(workflowID string, handler JobHandler, opts WorkerOptions) Worker
}

// Job is a single queue-managed unit of work. Implementations must make
// Data/UpdateData/MoveToDelayed/ChangePriority/Promote/GetState safe to call
// from the single goroutine processing this job's current dispatch.
type Job interface {
	ID() string
	WorkflowID() string

	// Data returns the job's current raw data blob (the "data slot" JobState
	// is serialized into and out of).
	Data() []byte

	// UpdateData overwrites the job's raw data blob. Must be durable: once
	// it returns nil, a subsequent GetJob by any process observes the new
	// value.
	UpdateData(ctx context.Context, data []byte) error

	// MoveToDelayed removes the job from the ready set and places it in the
	// delayed set, to be promoted back to ready at or after until.
	MoveToDelayed(ctx context.Context, until time.Time) error

	// ChangePriority updates the job's priority within its current set.
	ChangePriority(ctx context.Context, priority int) error

	// Promote removes the job from the delayed set and re-enqueues it for
	// immediate dispatch, ahead of the normal delay expiry.
	Promote(ctx context.Context) error

	// GetState reports the job's current lifecycle state.
	GetState(ctx context.Context) (JobStatus, error)

	// ReturnValue is the external return value recorded when the job
	// reaches the completed state (the workflow function's return value).
	ReturnValue() []byte

	// SetReturnValue records the job's external return value. Called by
	// Workflow.Handler on clean completion.
	SetReturnValue(ctx context.Context, value []byte) error

	// Fail marks the job terminally failed with the given error message.
	// The retry decision (attempts/backoff) is the queue worker's, made
	// before it calls Fail; it is not the core's concern.
	Fail(ctx context.Context, errMsg string) error

	// Complete marks the job completed.
	Complete(ctx context.Context) error
}

// JobStatus is the queue-level lifecycle state of a job, distinct from
// the engine's JobState record (which holds the step map and source
// payload, not the queue position).
type JobStatus string

const (
	JobWaiting   JobStatus = "waiting"
	JobActive    JobStatus = "active"
	JobDelayed   JobStatus = "delayed"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobHandler is the function a Worker dispatches each claimed job to. It is
// Workflow.Handler (which runs JobExecutor.Execute) in production and a
// test double in unit tests.
type JobHandler func(ctx context.Context, job Job) error

// Limiter caps how many dispatches a Worker issues per duration window.
type Limiter struct {
	Max      int
	Duration time.Duration
}

// WorkerOptions configures a Worker's concurrency and rate limiting.
type WorkerOptions struct {
	Concurrency int
	Limiter     Limiter
	Autorun     bool
}

// Worker runs JobHandler against claimed jobs until Stop is called.
type Worker interface {
	// Start begins polling for jobs. No-op if Autorun was true at
	// construction and Start was already implied.
	Start(ctx context.Context)
	// Pause stops claiming new jobs; in-flight dispatches finish. Both
	// bundled implementations pause by stopping their goroutines, and
	// Start resumes polling.
	Pause()
	// Stop tears the worker down; in-flight dispatches finish, then the
	// worker's goroutines exit.
	Stop()
}
