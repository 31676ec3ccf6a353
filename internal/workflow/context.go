package workflow

import (
	"context"
	"time"
)

// ExecutionContext is the object a workflow function interacts with: a
// thin façade routing run/sleep/sleepUntil/repeat/invoke into
// StepExecutor, and buffering log lines in memory until JobExecutor's
// cleanup drains them into JobState.
type ExecutionContext struct {
	ctx  context.Context
	se   *StepExecutor // lazily bound; nil means NotReady
	logs []LogEntry
}

func newExecutionContext(ctx context.Context) *ExecutionContext {
	return &ExecutionContext{ctx: ctx}
}

func (c *ExecutionContext) bind(se *StepExecutor) { c.se = se }

func (c *ExecutionContext) require() error {
	if c.se == nil {
		return &NotReady{}
	}
	return nil
}

// Context returns the ambient context.Context threaded through to the
// step's user function and any queue calls it issues.
func (c *ExecutionContext) Context() context.Context { return c.ctx }

// Run executes id's user function until it succeeds once; after that,
// replays return the cached result without invoking fn again. A failed
// attempt runs fn again on the job's next dispatch.
func (c *ExecutionContext) Run(id string, fn func() (any, error)) (StepResult, error) {
	if err := c.require(); err != nil {
		return StepResult{}, err
	}
	return c.se.Run(id, fn)
}

// Sleep suspends the job for duration, resuming on a later dispatch.
func (c *ExecutionContext) Sleep(id string, duration time.Duration) (StepResult, error) {
	if err := c.require(); err != nil {
		return StepResult{}, err
	}
	return c.se.Sleep(id, duration)
}

// SleepUntil suspends the job until at.
func (c *ExecutionContext) SleepUntil(id string, at time.Time) (StepResult, error) {
	if err := c.require(); err != nil {
		return StepResult{}, err
	}
	return c.se.SleepUntil(id, at)
}

// Repeat polls fn up to opts.Limit times, paced by opts.Every between
// unsuccessful attempts when non-zero.
func (c *ExecutionContext) Repeat(id string, opts RepeatOptions, fn func() (any, error)) (StepResult, error) {
	if err := c.require(); err != nil {
		return StepResult{}, err
	}
	return c.se.Repeat(id, opts, fn)
}

// Invoke enqueues payload as a new job of targetWorkflowID and waits for
// its terminal state, short-circuited by the invoked job's own
// completion notification rather than always polling to exhaustion.
func (c *ExecutionContext) Invoke(id, targetWorkflowID string, payload any) (StepResult, error) {
	if err := c.require(); err != nil {
		return StepResult{}, err
	}
	return c.se.Invoke(id, targetWorkflowID, payload)
}

// InvokeWorkflow is Invoke bound to a typed Workflow handle, for callers
// that want static typing on the target id.
func InvokeWorkflow[T any](c *ExecutionContext, w *Workflow[T], id string, data T) (StepResult, error) {
	return c.Invoke(id, w.ID(), data)
}

// Log buffers a log line. It is persisted into JobState only by
// JobExecutor's cleanup, never synchronously.
func (c *ExecutionContext) Log(level LogLevel, message string, metadata map[string]any) {
	c.logs = append(c.logs, LogEntry{
		TimestampMs: nowMillis(),
		Level:       level,
		Message:     message,
		Metadata:    metadata,
	})
}

func (c *ExecutionContext) drainLogs() []LogEntry {
	out := c.logs
	c.logs = nil
	return out
}
