package workflow

import (
	"errors"
	"fmt"
)

// Suspend is the control sentinel raised by sleep, sleepUntil, the pacing
// branch of repeat, and both paths of invoke. It is not an error in the
// user sense: it signals the surrounding queue machinery to treat the
// current dispatch as "keep delayed", not failed. The step primitive that
// raises it has already persisted the job's delayed state before doing so.
type Suspend struct {
	StepID string
	Reason string // "sleep", "invoke_poll", "repeat_pace"
}

func (s *Suspend) Error() string {
	return fmt.Sprintf("durable: job suspended at step %q (%s)", s.StepID, s.Reason)
}

// IsSuspend reports whether err is (or wraps) a Suspend sentinel.
func IsSuspend(err error) bool {
	var s *Suspend
	return errors.As(err, &s)
}

// Unrecoverable is the terminal-failure sentinel: it skips the queue's
// retry policy entirely. User workflow code raises it explicitly (by
// returning it as an error) when it knows a retry cannot help.
type Unrecoverable struct {
	Cause error
}

func (u *Unrecoverable) Error() string {
	if u.Cause == nil {
		return "durable: unrecoverable error"
	}
	return "durable: unrecoverable: " + u.Cause.Error()
}

func (u *Unrecoverable) Unwrap() error { return u.Cause }

// IsUnrecoverable reports whether err is (or wraps) an Unrecoverable sentinel.
func IsUnrecoverable(err error) bool {
	var u *Unrecoverable
	return errors.As(err, &u)
}

// NewUnrecoverable wraps cause in an Unrecoverable sentinel for returning
// from a step's user function.
func NewUnrecoverable(cause error) error { return &Unrecoverable{Cause: cause} }

// SchemaMismatch is raised during preparation of a job's input payload, and
// surfaces directly to the caller of CreateJob.
type SchemaMismatch struct {
	WorkflowID string
	Cause      error
}

func (e *SchemaMismatch) Error() string {
	return fmt.Sprintf("durable: payload for workflow %q failed schema validation: %v", e.WorkflowID, e.Cause)
}

func (e *SchemaMismatch) Unwrap() error { return e.Cause }

// InvalidSource is a bug-guard raised by JobState.persist when a source
// payload with a truthy top-level "prepared" field would otherwise be
// nested inside another JobState envelope.
type InvalidSource struct{}

func (e *InvalidSource) Error() string {
	return "durable: source payload is already an engine-prepared envelope"
}

// UnknownWorkflow is raised by invoke when the target workflow id is not
// registered on the same client.
type UnknownWorkflow struct {
	WorkflowID string
}

func (e *UnknownWorkflow) Error() string {
	return fmt.Sprintf("durable: no workflow registered with id %q", e.WorkflowID)
}

// InvokedJobFailed is raised to the calling workflow when the job it is
// awaiting transitions to the failed state.
type InvokedJobFailed struct {
	JobID string
}

func (e *InvokedJobFailed) Error() string {
	return fmt.Sprintf("durable: invoked job %q failed", e.JobID)
}

// StepFailure wraps any other error returned by a step's user function. It
// is recorded into the step's error field and the job's errors list, then
// returned as a StepFailure so the queue's retry/backoff policy applies;
// the original error stays reachable through Unwrap.
type StepFailure struct {
	StepID string
	Cause  error
}

func (e *StepFailure) Error() string {
	return fmt.Sprintf("durable: step %q failed: %v", e.StepID, e.Cause)
}

func (e *StepFailure) Unwrap() error { return e.Cause }

// NotReady is raised when ExecutionContext is used before its StepExecutor
// has been bound — always a programming error, never a runtime condition.
type NotReady struct{}

func (e *NotReady) Error() string {
	return "durable: execution context used before its step executor was bound"
}
