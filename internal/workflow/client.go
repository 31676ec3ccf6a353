package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MetricsSink is the narrow metrics seam the core calls into. It is kept
// free of any concrete metrics library so internal/workflow never needs
// to import an observability package; the adapter lives at the wiring
// layer (cmd/worker binds it to the Prometheus-style instruments).
type MetricsSink interface {
	ObserveSuspend(workflowID, reason string)
	ObserveStepOutcome(workflowID string, stepType StepType, outcome string)
	ObserveDispatch(workflowID, result string)
	ObserveInvokeWait(callerWorkflowID, targetWorkflowID string, seconds float64)
}

type noopMetrics struct{}

func (noopMetrics) ObserveSuspend(string, string)               {}
func (noopMetrics) ObserveStepOutcome(string, StepType, string) {}
func (noopMetrics) ObserveDispatch(string, string)              {}
func (noopMetrics) ObserveInvokeWait(string, string, float64)   {}

// BlobStore offloads oversized step results out of the hot job record.
// Implementations return an opaque ref from Put that Get resolves back to
// the original bytes. Like MetricsSink this seam is concrete-library-free;
// the GCS-backed implementation lives in internal/blobstore.
type BlobStore interface {
	Put(ctx context.Context, workflowID, jobID, stepID string, data []byte) (ref string, err error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// InvocationSink is the narrow seam through which the core reports
// invoke edges, kept free of any concrete graph-database
// library for the same reason as MetricsSink: the adapter (backed by
// Neo4j) lives at the wiring layer.
type InvocationSink interface {
	RecordInvoke(ctx context.Context, callerWorkflowID, callerJobID, callerStepID, targetWorkflowID, targetJobID string) error
	RecordResolved(ctx context.Context, targetWorkflowID, targetJobID string) error
}

type noopInvocations struct{}

func (noopInvocations) RecordInvoke(context.Context, string, string, string, string, string) error {
	return nil
}
func (noopInvocations) RecordResolved(context.Context, string, string) error { return nil }

// ClientConfig configures a Client.
type ClientConfig struct {
	Prefix            string
	DefaultJobOptions JobOptions
	Clock             Clock
	Metrics           MetricsSink
	Invocations       InvocationSink

	// CompressJobData hex-gzips the persisted JobState blob. Reads sniff
	// the encoding, so the option can be flipped on a live deployment
	// without stranding jobs written the other way.
	CompressJobData bool

	// Blobs, when set, offloads any step result larger than
	// BlobThresholdBytes out of the job record, leaving a ref in its place.
	Blobs              BlobStore
	BlobThresholdBytes int

	// WorkerOptions is the default worker configuration Start applies to
	// every registered workflow.
	WorkerOptions WorkerOptions

	// WrapHandler, when set, decorates each workflow's dispatch handler
	// before Start hands it to the queue (archive hooks, extra logging).
	WrapHandler func(workflowID string, h JobHandler) JobHandler
}

// Client is the top-level handle over a queue and the set of workflows
// registered against it. A workflow invoking another by id
// resolves it through the client that owns both; the client injects
// itself into each workflow at registration as a weak back-pointer used
// only for id→workflow lookup, never an ownership cycle.
type Client struct {
	queue         Queue
	prefix        string
	defaultOpts   JobOptions
	clock         Clock
	metrics       MetricsSink
	invocations   InvocationSink
	blobs         BlobStore
	blobThreshold int
	compressData  bool
	workerOpts    WorkerOptions
	wrapHandler   func(workflowID string, h JobHandler) JobHandler

	mu        sync.RWMutex
	workflows map[string]workflowBinding
	workers   map[string]Worker
}

// NewClient constructs a Client bound to queue. Workflows are attached
// with Register.
func NewClient(queue Queue, cfg ClientConfig) *Client {
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	invocations := cfg.Invocations
	if invocations == nil {
		invocations = noopInvocations{}
	}
	threshold := cfg.BlobThresholdBytes
	if threshold <= 0 {
		threshold = defaultBlobThresholdBytes
	}
	workerOpts := cfg.WorkerOptions
	if workerOpts.Concurrency < 1 {
		workerOpts.Concurrency = 1
	}
	return &Client{
		queue:         queue,
		prefix:        cfg.Prefix,
		defaultOpts:   MergeJobOptions(DefaultJobOptions(), cfg.DefaultJobOptions),
		clock:         clock,
		metrics:       metrics,
		invocations:   invocations,
		blobs:         cfg.Blobs,
		blobThreshold: threshold,
		compressData:  cfg.CompressJobData,
		workerOpts:    workerOpts,
		wrapHandler:   cfg.WrapHandler,
		workflows:     map[string]workflowBinding{},
		workers:       map[string]Worker{},
	}
}

// defaultBlobThresholdBytes keeps any step result below this size inline in
// the job record; only larger results are offloaded when a BlobStore is
// configured.
const defaultBlobThresholdBytes = 32 * 1024

// Start constructs and starts one queue worker per registered workflow,
// using the client's default WorkerOptions. Idempotent per workflow: a
// workflow whose worker is already running is left alone.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, w := range c.workflows {
		if _, running := c.workers[id]; running {
			continue
		}
		handler := w.handler()
		if c.wrapHandler != nil {
			handler = c.wrapHandler(id, handler)
		}
		opts := c.workerOpts
		opts.Autorun = false
		worker := c.queue.Worker(id, handler, opts)
		worker.Start(ctx)
		c.workers[id] = worker
	}
}

// Pause stops every running worker from claiming new jobs; in-flight
// dispatches finish.
func (c *Client) Pause() {
	for _, w := range c.snapshotWorkers() {
		w.Pause()
	}
}

// Stop tears down every running worker.
func (c *Client) Stop() {
	c.mu.Lock()
	workers := c.workers
	c.workers = map[string]Worker{}
	c.mu.Unlock()
	for _, w := range workers {
		w.Stop()
	}
}

// PauseWorkflow pauses the single worker serving workflowID.
func (c *Client) PauseWorkflow(workflowID string) error {
	w, ok := c.workerFor(workflowID)
	if !ok {
		return fmt.Errorf("durable: no running worker for workflow %q", workflowID)
	}
	w.Pause()
	return nil
}

// StopWorkflow stops the single worker serving workflowID.
func (c *Client) StopWorkflow(workflowID string) error {
	c.mu.Lock()
	w, ok := c.workers[workflowID]
	if ok {
		delete(c.workers, workflowID)
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("durable: no running worker for workflow %q", workflowID)
	}
	w.Stop()
	return nil
}

func (c *Client) workerFor(workflowID string) (Worker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.workers[workflowID]
	return w, ok
}

func (c *Client) snapshotWorkers() []Worker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Worker, 0, len(c.workers))
	for _, w := range c.workers {
		out = append(out, w)
	}
	return out
}

// Register adds a workflow definition to the client and returns its
// typed handle.
func Register[T any](c *Client, def Definition[T]) (*Workflow[T], error) {
	if def.ID == "" {
		return nil, fmt.Errorf("durable: workflow id must not be empty")
	}
	if def.Fn == nil {
		return nil, fmt.Errorf("durable: workflow %q has no fn", def.ID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.workflows[def.ID]; exists {
		return nil, fmt.Errorf("durable: workflow %q already registered", def.ID)
	}
	w := &Workflow[T]{def: def, client: c}
	c.workflows[def.ID] = w
	return w, nil
}

func (c *Client) getWorkflow(id string) (workflowBinding, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.workflows[id]
	return w, ok
}

// GetWorkflowID reports whether id is registered on this client. Callers
// that need the typed handle hold onto the value Register returned
// instead.
func (c *Client) GetWorkflowID(id string) bool {
	_, ok := c.getWorkflow(id)
	return ok
}

// WorkflowIDs lists every workflow id registered on this client, in no
// particular order. Used by the admin surface to enumerate what a
// worker process is serving.
func (c *Client) WorkflowIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.workflows))
	for id := range c.workflows {
		ids = append(ids, id)
	}
	return ids
}

// JobSnapshot loads and returns the current JobState of jobID under
// workflowID, for read-only inspection (e.g. by the admin HTTP
// surface). It does not persist anything.
func (c *Client) JobSnapshot(ctx context.Context, workflowID, jobID string) (*JobState, error) {
	w, ok := c.getWorkflow(workflowID)
	if !ok {
		return nil, &UnknownWorkflow{WorkflowID: workflowID}
	}
	job, err := c.queue.GetJob(ctx, workflowID, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("durable: job %q of workflow %q not found", jobID, workflowID)
	}
	return load(ctx, job, workflowID, w.validate, c.compressData)
}

// jobOptionsFor deep-merges client defaults, the workflow's own
// defaults, and a per-call override, in increasing precedence.
func (c *Client) jobOptionsFor(w workflowBinding, override JobOptions) JobOptions {
	return MergeJobOptions(c.defaultOpts, w.defaultOptions(), override)
}

// CreateJob validates data against w's schema, merges job options, and
// enqueues it.
func CreateJob[T any](ctx context.Context, c *Client, w *Workflow[T], data T, override JobOptions) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	validated, err := w.validate(raw)
	if err != nil {
		return "", &SchemaMismatch{WorkflowID: w.ID(), Cause: err}
	}
	opts := c.jobOptionsFor(w, override)
	return c.queue.Enqueue(ctx, w.ID(), validated, opts)
}

// invokeEnqueue backs StepExecutor.Invoke's first-call branch:
// it enqueues a job of targetWorkflowID with payload already JSON-
// encoded, then appends the caller's subscription to the freshly-
// prepared JobState before persisting.
func (c *Client) invokeEnqueue(ctx context.Context, targetWorkflowID string, payload json.RawMessage, callerWorkflowID, callerJobID, callerStepID string) (string, error) {
	target, ok := c.getWorkflow(targetWorkflowID)
	if !ok {
		return "", &UnknownWorkflow{WorkflowID: targetWorkflowID}
	}
	validated, err := target.validate(payload)
	if err != nil {
		return "", err
	}
	opts := c.jobOptionsFor(target, JobOptions{})
	jobID, err := c.queue.Enqueue(ctx, targetWorkflowID, validated, opts)
	if err != nil {
		return "", err
	}
	job, err := c.queue.GetJob(ctx, targetWorkflowID, jobID)
	if err != nil {
		return "", err
	}
	if job == nil {
		return "", fmt.Errorf("durable: enqueued job %q of workflow %q not found immediately after creation", jobID, targetWorkflowID)
	}
	js, err := load(ctx, job, targetWorkflowID, target.validate, c.compressData)
	if err != nil {
		return "", err
	}
	js.Invocations = append(js.Invocations, InvocationSubscription{
		CallerWorkflowID: callerWorkflowID,
		CallerStepID:     callerStepID,
	})
	if err := js.persist(ctx, job); err != nil {
		return "", err
	}
	// Best-effort: the invocation graph is an observability add-on, never
	// a condition for invoke's own success.
	_ = c.invocations.RecordInvoke(ctx, callerWorkflowID, callerJobID, callerStepID, targetWorkflowID, jobID)
	return jobID, nil
}

// notifySubscribers implements the completion-notification path:
// for each subscriber waiting on the job that just completed, scan the
// caller workflow's delayed jobs for the one whose step is delayed with
// a matching invoked-job id, and promote it out of the delayed set.
// Every error is collected rather than returned, so that a notification
// failure never affects the notifier job's own completion.
func (c *Client) notifySubscribers(ctx context.Context, selfWorkflowID, selfJobID string, subs []InvocationSubscription) []error {
	var errs []error
	if len(subs) > 0 {
		_ = c.invocations.RecordResolved(ctx, selfWorkflowID, selfJobID)
	}
	for _, sub := range subs {
		caller, ok := c.getWorkflow(sub.CallerWorkflowID)
		if !ok {
			errs = append(errs, fmt.Errorf("durable: invocation notification: caller workflow %q not registered", sub.CallerWorkflowID))
			continue
		}
		delayed, err := c.queue.GetDelayed(ctx, caller.ID())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, dj := range delayed {
			djs, err := load(ctx, dj, sub.CallerWorkflowID, caller.validate, c.compressData)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			step, ok := djs.Steps[sub.CallerStepID]
			if !ok || step.Status != StepDelayed || step.Type != StepInvokeWaitResult {
				continue
			}
			var ir invokeResult
			if len(step.Result) == 0 {
				continue
			}
			if err := json.Unmarshal(step.Result, &ir); err != nil {
				errs = append(errs, err)
				continue
			}
			if ir.JobID != selfJobID {
				continue
			}
			if err := dj.Promote(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}
