package workflow

import (
	"context"
	"encoding/json"
)

// Schema validates and normalises a raw JSON payload into T. Schema
// validation internals are explicitly out of scope; this interface
// is the seam the engine calls through, supplied by the caller.
type Schema[T any] interface {
	Validate(raw json.RawMessage) (T, error)
}

// SchemaFunc adapts a plain function to Schema.
type SchemaFunc[T any] func(raw json.RawMessage) (T, error)

func (f SchemaFunc[T]) Validate(raw json.RawMessage) (T, error) { return f(raw) }

// Fn is a workflow's user function: (ctx, job, data) → (value, error),
// the job payload already validated and decoded.
type Fn[T any] func(ctx *ExecutionContext, job Job, data T) (any, error)

// Definition is a workflow declaration:
// {id, schema, fn, jobOptions?}.
type Definition[T any] struct {
	ID         string
	Schema     Schema[T]
	Fn         Fn[T]
	JobOptions JobOptions
}

// Workflow is the registered, typed handle returned by Register. The id
// doubles as the queue name and must be unique per client.
type Workflow[T any] struct {
	def    Definition[T]
	client *Client
}

func (w *Workflow[T]) ID() string { return w.def.ID }

// CreateJob enqueues data as a new job of this workflow, merging override
// on top of the workflow's and client's default job options.
func (w *Workflow[T]) CreateJob(ctx context.Context, data T, override JobOptions) (string, error) {
	return CreateJob(ctx, w.client, w, data, override)
}

// Handler returns the JobHandler a queue Worker dispatches claimed jobs
// of this workflow to. On clean completion it records the workflow
// function's return value and marks the job completed; Suspend and
// Unrecoverable propagate untouched so the queue's own policy (keep-
// delayed, or terminal-no-retry) applies.
func (w *Workflow[T]) Handler() JobHandler {
	return func(ctx context.Context, job Job) error {
		je := &JobExecutor{
			client:   w.client,
			workflow: w,
			job:      job,
			clock:    w.client.clock,
			metrics:  w.client.metrics,
		}
		retVal, err := je.Execute(ctx)
		if err != nil {
			return err
		}
		raw, merr := json.Marshal(retVal)
		if merr != nil {
			return merr
		}
		if serr := job.SetReturnValue(ctx, raw); serr != nil {
			return serr
		}
		return job.Complete(ctx)
	}
}

// workflowBinding is the type-erased surface the client's registry and
// invoke() need: enough to validate a payload and dispatch it into the
// user function without knowing T.
type workflowBinding interface {
	ID() string
	validate(raw json.RawMessage) (json.RawMessage, error)
	run(ctx *ExecutionContext, job Job, data json.RawMessage) (any, error)
	defaultOptions() JobOptions
	handler() JobHandler
}

func (w *Workflow[T]) handler() JobHandler { return w.Handler() }

func (w *Workflow[T]) validate(raw json.RawMessage) (json.RawMessage, error) {
	if w.def.Schema == nil {
		return raw, nil
	}
	v, err := w.def.Schema.Validate(raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func (w *Workflow[T]) run(ctx *ExecutionContext, job Job, data json.RawMessage) (any, error) {
	var typed T
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &typed); err != nil {
			return nil, err
		}
	}
	return w.def.Fn(ctx, job, typed)
}

func (w *Workflow[T]) defaultOptions() JobOptions { return w.def.JobOptions }
