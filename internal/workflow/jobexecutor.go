package workflow

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// JobExecutor drives one invocation (dispatch) of a workflow function:
// it builds the ExecutionContext, runs the user function, and on
// clean completion drains the invocation-subscription list to promote
// waiting caller jobs. JobState is always persisted on exit, whether the
// user function returns cleanly, raises Suspend/Unrecoverable, or panics.
type JobExecutor struct {
	client   *Client
	workflow workflowBinding
	job      Job
	clock    Clock
	metrics  MetricsSink
}

// Execute drives one dispatch of the job from load to persist.
func (je *JobExecutor) Execute(ctx context.Context) (any, error) {
	ctx, span := otel.Tracer("durable/workflow").Start(ctx, "job.dispatch")
	span.SetAttributes(
		attribute.String("workflow.id", je.workflow.ID()),
		attribute.String("job.id", je.job.ID()),
	)
	defer span.End()

	js, err := load(ctx, je.job, je.workflow.ID(), je.workflow.validate, je.client.compressData)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	ec := newExecutionContext(ctx)
	se := newStepExecutor(ctx, je.job, js, je.client, je.clock)
	ec.bind(se)

	if js.Metrics.StartedAt == nil {
		t := nowMillis()
		js.Metrics.StartedAt = &t
	}
	js.Metrics.Attempts++

	retVal, runErr := je.invokeUserFn(ec, js)

	switch {
	case runErr == nil:
		span.SetAttributes(attribute.String("dispatch.result", "completed"))
		t := nowMillis()
		js.Metrics.CompletedAt = &t
		if js.Metrics.StartedAt != nil {
			d := t - *js.Metrics.StartedAt
			js.Metrics.DurationMs = &d
		}
		for _, notifyErr := range je.client.notifySubscribers(ctx, je.workflow.ID(), je.job.ID(), js.Invocations) {
			ec.Log(LogError, "invocation notification failed", map[string]any{"error": notifyErr.Error()})
		}
		je.observeDispatch("completed")
	case IsSuspend(runErr):
		span.SetAttributes(attribute.String("dispatch.result", "suspended"))
		je.observeDispatch("suspended")
	case IsUnrecoverable(runErr):
		span.SetStatus(codes.Error, runErr.Error())
		t := nowMillis()
		js.Metrics.FailedAt = &t
		ec.Log(LogError, runErr.Error(), nil)
		je.observeDispatch("failed")
	default:
		span.SetStatus(codes.Error, runErr.Error())
		t := nowMillis()
		js.Metrics.FailedAt = &t
		ec.Log(LogError, runErr.Error(), nil)
		je.observeDispatch("failed")
	}

	// finally: append pending logs, re-serialise step handles, persist.
	// This runs even when runErr is Suspend/Unrecoverable/panic-derived so
	// the suspension-state mutations step primitives already made are
	// durable before control returns to the queue loop.
	js.Logs = append(js.Logs, ec.drainLogs()...)
	js.finish()
	if perr := js.persist(ctx, je.job); perr != nil {
		if runErr != nil {
			return nil, runErr
		}
		return nil, perr
	}

	return retVal, runErr
}

func (je *JobExecutor) invokeUserFn(ec *ExecutionContext, js *JobState) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("durable: workflow %q panicked: %v", je.workflow.ID(), r)
		}
	}()
	val, err = je.workflow.run(ec, je.job, js.Source)
	return
}

func (je *JobExecutor) observeDispatch(result string) {
	if je.metrics == nil {
		return
	}
	je.metrics.ObserveDispatch(je.job.WorkflowID(), result)
}
