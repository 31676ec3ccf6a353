package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// invokePollInterval is the belt-and-braces backstop poll period for an
// in-flight invoke, guarding against a missed promotion.
const invokePollInterval = 1 * time.Second

// delayedDefaultPriority is the runtime priority assigned to a job before
// it is moved to the delayed set by sleep, so post-delay processing is
// ordered after freshly arrived jobs.
const delayedDefaultPriority = -1

// maxInDispatchRepeatAttempts bounds the every==0 tight loop in repeat so a
// user fn that never succeeds and never paces cannot spin a dispatch forever.
const maxInDispatchRepeatAttempts = 10000

var errTooManyAttempts = errors.New("durable: repeat exceeded its in-dispatch attempt guard without pacing")

// StepResult is the {success, ran, result} triple every step primitive
// returns on a non-suspending, non-erroring path.
type StepResult struct {
	Success bool
	Ran     bool
	Result  json.RawMessage
}

// RepeatOptions configures a repeat step: Limit bounds total attempts,
// Every paces delayed hand-offs between unsuccessful attempts (0 means no
// pacing: the retry loop stays inside the current dispatch).
type RepeatOptions struct {
	Limit int
	Every time.Duration
}

// StepExecutor implements the five step primitives: run, sleep,
// sleepUntil, repeat, invoke. One instance is constructed per job
// dispatch by JobExecutor and is not safe for concurrent use.
type StepExecutor struct {
	ctx    context.Context
	job    Job
	js     *JobState
	client *Client
	clock  Clock
}

func newStepExecutor(ctx context.Context, job Job, js *JobState, client *Client, clock Clock) *StepExecutor {
	if clock == nil {
		clock = SystemClock
	}
	return &StepExecutor{ctx: ctx, job: job, js: js, client: client, clock: clock}
}

func result(h *StepStateHandle) StepResult {
	return StepResult{Success: true, Ran: false, Result: h.state.Result}
}

// Run executes fn until it succeeds once; on replay after that the
// recorded result is returned without calling fn. A failed step calls fn
// again on the job's next dispatch.
func (se *StepExecutor) Run(stepId string, fn func() (any, error)) (StepResult, error) {
	outcome := "failed"
	end := se.stepSpan(stepId, StepRun)
	defer func() { end(outcome) }()

	h := se.js.forStep(stepId, StepRun)
	if h.Status() == StepCompleted {
		resolved, err := se.resolveResult(h.state.Result)
		if err != nil {
			return StepResult{}, err
		}
		se.observeStepOutcome(StepRun, "cached")
		outcome = "cached"
		return StepResult{Success: true, Ran: false, Result: resolved}, nil
	}

	h.start()
	val, err := fn()
	if err != nil {
		if IsSuspend(err) || IsUnrecoverable(err) {
			return StepResult{}, err
		}
		h.fail(err)
		se.recordError(stepId, err)
		if perr := se.js.persist(se.ctx, se.job); perr != nil {
			return StepResult{}, perr
		}
		se.observeStepOutcome(StepRun, "failed")
		return StepResult{}, &StepFailure{StepID: stepId, Cause: err}
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return StepResult{}, err
	}
	stored, err := se.maybeOffload(stepId, raw)
	if err != nil {
		return StepResult{}, err
	}
	h.state.Result = stored
	h.completeStored()
	if err := se.js.persist(se.ctx, se.job); err != nil {
		return StepResult{}, err
	}
	se.observeStepOutcome(StepRun, "ran")
	outcome = "ran"
	return StepResult{Success: true, Ran: true, Result: raw}, nil
}

// blobRef is the inline stand-in left in a StepState.Result whose real
// bytes were offloaded to the client's BlobStore.
type blobRef struct {
	BlobRef string `json:"blobRef"`
}

// maybeOffload moves raw into the blob store when it exceeds the client's
// threshold, returning the stand-in to persist instead. Small results and
// clients with no BlobStore pass through unchanged.
func (se *StepExecutor) maybeOffload(stepId string, raw json.RawMessage) (json.RawMessage, error) {
	if se.client == nil || se.client.blobs == nil || len(raw) <= se.client.blobThreshold {
		return raw, nil
	}
	ref, err := se.client.blobs.Put(se.ctx, se.job.WorkflowID(), se.job.ID(), stepId, raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(blobRef{BlobRef: ref})
}

// resolveResult follows a blobRef stand-in back to the stored bytes. Plain
// inline results come back as-is.
func (se *StepExecutor) resolveResult(stored json.RawMessage) (json.RawMessage, error) {
	if se.client == nil || se.client.blobs == nil || len(stored) == 0 {
		return stored, nil
	}
	var ref blobRef
	if err := json.Unmarshal(stored, &ref); err != nil || ref.BlobRef == "" {
		return stored, nil
	}
	return se.client.blobs.Get(se.ctx, ref.BlobRef)
}

// Sleep delays the job for duration and suspends the dispatch. On the
// post-delay re-entry the step completes with true.
func (se *StepExecutor) Sleep(stepId string, duration time.Duration) (StepResult, error) {
	return se.sleepShared(stepId, StepSleep, duration)
}

// SleepUntil dispatches to the shared sleep protocol with the remaining
// duration. Negative durations degenerate to immediate completion on the
// next entry.
func (se *StepExecutor) SleepUntil(stepId string, at time.Time) (StepResult, error) {
	d := at.Sub(se.clock.Now())
	if d < 0 {
		d = 0
	}
	return se.sleepShared(stepId, StepSleepUntil, d)
}

func (se *StepExecutor) sleepShared(stepId string, t StepType, duration time.Duration) (StepResult, error) {
	outcome := "failed"
	end := se.stepSpan(stepId, t)
	defer func() { end(outcome) }()

	h := se.js.forStep(stepId, t)
	if h.Status() == StepCompleted {
		outcome = "cached"
		se.observeStepOutcome(t, "cached")
		return result(h), nil
	}

	if h.Status() == StepDelayed {
		if err := h.complete(true); err != nil {
			return StepResult{}, err
		}
		if err := se.js.persist(se.ctx, se.job); err != nil {
			return StepResult{}, err
		}
		se.observeStepOutcome(t, "ran")
		outcome = "ran"
		return StepResult{Success: true, Ran: true, Result: h.state.Result}, nil
	}

	h.start()
	h.setDelayed()
	if err := se.js.persist(se.ctx, se.job); err != nil {
		return StepResult{}, err
	}
	if err := se.job.ChangePriority(se.ctx, delayedDefaultPriority); err != nil {
		return StepResult{}, err
	}
	until := se.clock.Now().Add(duration)
	if err := se.job.MoveToDelayed(se.ctx, until); err != nil {
		return StepResult{}, err
	}
	se.observeSuspend("sleep")
	outcome = "suspended"
	return StepResult{}, &Suspend{StepID: stepId, Reason: "sleep"}
}

// Repeat polls fn up to opts.Limit times, pacing unsuccessful attempts
// with a delayed hand-off when opts.Every is non-zero. Exhaustion
// completes the step with false rather than failing it.
func (se *StepExecutor) Repeat(stepId string, opts RepeatOptions, fn func() (any, error)) (StepResult, error) {
	outcome := "failed"
	end := se.stepSpan(stepId, StepRepeat)
	defer func() { end(outcome) }()

	h := se.js.forStep(stepId, StepRepeat)
	if h.Status() == StepCompleted {
		outcome = "cached"
		se.observeStepOutcome(StepRepeat, "cached")
		return result(h), nil
	}

	var rr repeatResult
	if len(h.state.Result) > 0 {
		if err := json.Unmarshal(h.state.Result, &rr); err != nil {
			return StepResult{}, err
		}
	} else {
		if err := h.setResult(rr); err != nil {
			return StepResult{}, err
		}
		if err := se.js.persist(se.ctx, se.job); err != nil {
			return StepResult{}, err
		}
	}

	if h.Status() == StepDelayed && rr.NeedsDelay {
		rr.NeedsDelay = false
		h.start()
		if err := h.setResult(rr); err != nil {
			return StepResult{}, err
		}
		if err := se.js.persist(se.ctx, se.job); err != nil {
			return StepResult{}, err
		}
	}

	for guard := 0; ; guard++ {
		if rr.Attempt >= opts.Limit {
			if err := h.complete(false); err != nil {
				return StepResult{}, err
			}
			if err := se.js.persist(se.ctx, se.job); err != nil {
				return StepResult{}, err
			}
			se.observeStepOutcome(StepRepeat, "ran")
			outcome = "ran"
			return StepResult{Success: true, Ran: true, Result: h.state.Result}, nil
		}
		if guard >= maxInDispatchRepeatAttempts {
			return StepResult{}, NewUnrecoverable(&StepFailure{StepID: stepId, Cause: errTooManyAttempts})
		}

		val, err := fn()
		if err != nil {
			if IsSuspend(err) || IsUnrecoverable(err) {
				return StepResult{}, err
			}
			h.fail(err)
			se.recordError(stepId, err)
			if perr := se.js.persist(se.ctx, se.job); perr != nil {
				return StepResult{}, perr
			}
			se.observeStepOutcome(StepRepeat, "failed")
			return StepResult{}, &StepFailure{StepID: stepId, Cause: err}
		}
		rr.Attempt++
		lastRaw, merr := json.Marshal(val)
		if merr != nil {
			return StepResult{}, merr
		}
		rr.LastResult = lastRaw

		if truthy(val) {
			rr.Completed = true
			if err := h.complete(val); err != nil {
				return StepResult{}, err
			}
			if err := se.js.persist(se.ctx, se.job); err != nil {
				return StepResult{}, err
			}
			se.observeStepOutcome(StepRepeat, "ran")
			outcome = "ran"
			return StepResult{Success: true, Ran: true, Result: h.state.Result}, nil
		}

		if opts.Every > 0 && rr.Attempt < opts.Limit {
			rr.NeedsDelay = true
			h.setDelayed()
			if err := h.setResult(rr); err != nil {
				return StepResult{}, err
			}
			if err := se.js.persist(se.ctx, se.job); err != nil {
				return StepResult{}, err
			}
			until := se.clock.Now().Add(opts.Every)
			if err := se.job.MoveToDelayed(se.ctx, until); err != nil {
				return StepResult{}, err
			}
			se.observeSuspend("repeat_pace")
			outcome = "suspended"
			return StepResult{}, &Suspend{StepID: stepId, Reason: "repeat_pace"}
		}

		h.state.Status = StepActive
		if err := h.setResult(rr); err != nil {
			return StepResult{}, err
		}
		if err := se.js.persist(se.ctx, se.job); err != nil {
			return StepResult{}, err
		}
	}
}

// Invoke enqueues payload as a new job of targetWorkflowID, subscribes
// this job to its completion, and waits for its terminal state.
func (se *StepExecutor) Invoke(stepId, targetWorkflowID string, payload any) (StepResult, error) {
	outcome := "failed"
	end := se.stepSpan(stepId, StepInvokeWaitResult)
	defer func() { end(outcome) }()

	h := se.js.forStep(stepId, StepInvokeWaitResult)
	if h.Status() == StepCompleted {
		outcome = "cached"
		se.observeStepOutcome(StepInvokeWaitResult, "cached")
		return result(h), nil
	}

	if h.Status() != StepDelayed {
		raw, err := json.Marshal(payload)
		if err != nil {
			return StepResult{}, err
		}
		jobID, err := se.client.invokeEnqueue(se.ctx, targetWorkflowID, raw, se.job.WorkflowID(), se.job.ID(), stepId)
		if err != nil {
			return StepResult{}, err
		}
		h.start()
		if err := h.setResult(invokeResult{JobID: jobID}); err != nil {
			return StepResult{}, err
		}
		h.setDelayed()
		if err := se.js.persist(se.ctx, se.job); err != nil {
			return StepResult{}, err
		}
		until := se.clock.Now().Add(invokePollInterval)
		if err := se.job.MoveToDelayed(se.ctx, until); err != nil {
			return StepResult{}, err
		}
		se.observeSuspend("invoke_poll")
		outcome = "suspended"
		return StepResult{}, &Suspend{StepID: stepId, Reason: "invoke_poll"}
	}

	var ir invokeResult
	if err := h.Result(&ir); err != nil {
		return StepResult{}, err
	}

	target, err := se.client.queue.GetJob(se.ctx, targetWorkflowID, ir.JobID)
	if err != nil {
		return StepResult{}, err
	}
	if target == nil {
		outcome = "suspended"
		return se.invokeKeepWaiting(stepId, ir)
	}
	state, err := target.GetState(se.ctx)
	if err != nil {
		return StepResult{}, err
	}
	switch state {
	case JobCompleted:
		outcome = "ran"
		if err := h.complete(json.RawMessage(target.ReturnValue())); err != nil {
			return StepResult{}, err
		}
		if err := se.js.persist(se.ctx, se.job); err != nil {
			return StepResult{}, err
		}
		se.observeStepOutcome(StepInvokeWaitResult, "ran")
		if se.client != nil && se.client.metrics != nil && h.state.Metrics.DurationMs != nil {
			se.client.metrics.ObserveInvokeWait(se.job.WorkflowID(), targetWorkflowID, float64(*h.state.Metrics.DurationMs)/1000)
		}
		return StepResult{Success: true, Ran: true, Result: h.state.Result}, nil
	case JobFailed:
		h.fail(&InvokedJobFailed{JobID: ir.JobID})
		se.recordError(stepId, &InvokedJobFailed{JobID: ir.JobID})
		if perr := se.js.persist(se.ctx, se.job); perr != nil {
			return StepResult{}, perr
		}
		se.observeStepOutcome(StepInvokeWaitResult, "failed")
		return StepResult{}, &InvokedJobFailed{JobID: ir.JobID}
	default:
		outcome = "suspended"
		return se.invokeKeepWaiting(stepId, ir)
	}
}

func (se *StepExecutor) invokeKeepWaiting(stepId string, ir invokeResult) (StepResult, error) {
	until := se.clock.Now().Add(invokePollInterval)
	if err := se.job.MoveToDelayed(se.ctx, until); err != nil {
		return StepResult{}, err
	}
	se.observeSuspend("invoke_poll")
	return StepResult{}, &Suspend{StepID: stepId, Reason: "invoke_poll"}
}

// recordError appends a step failure to the job-level error list, kept
// alongside the step's own error field so operators can read a job's
// failure history without walking every step.
func (se *StepExecutor) recordError(stepId string, cause error) {
	se.js.Errors = append(se.js.Errors, ErrorEntry{
		StepID:       stepId,
		ErrorMessage: cause.Error(),
	})
}

// stepSpan opens one span per step-primitive invocation. The returned
// closure records the outcome ("cached", "ran", "failed", "suspended")
// and ends the span; callers defer it around a named outcome variable.
func (se *StepExecutor) stepSpan(stepId string, t StepType) func(outcome string) {
	_, span := otel.Tracer("durable/workflow").Start(se.ctx, "step."+string(t))
	span.SetAttributes(
		attribute.String("workflow.id", se.job.WorkflowID()),
		attribute.String("job.id", se.job.ID()),
		attribute.String("step.id", stepId),
	)
	return func(outcome string) {
		span.SetAttributes(attribute.String("step.outcome", outcome))
		span.End()
	}
}

func (se *StepExecutor) observeSuspend(reason string) {
	if se.client == nil || se.client.metrics == nil {
		return
	}
	se.client.metrics.ObserveSuspend(se.job.WorkflowID(), reason)
}

func (se *StepExecutor) observeStepOutcome(t StepType, outcome string) {
	if se.client == nil || se.client.metrics == nil {
		return
	}
	se.client.metrics.ObserveStepOutcome(se.job.WorkflowID(), t, outcome)
}

// truthy is the JS-style truthiness check repeat's success test
// relies on: nil, false, "", and zero numerics are falsy; everything else
// (including non-empty structs and slices) is truthy.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int32:
		return t != 0
	case int64:
		return t != 0
	case float32:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}
