package workflow

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
)

// JobMetrics tracks the timing of a job across its re-entries.
type JobMetrics struct {
	StartedAt   *int64 `json:"startedAt,omitempty"`
	CompletedAt *int64 `json:"completedAt,omitempty"`
	FailedAt    *int64 `json:"failedAt,omitempty"`
	DurationMs  *int64 `json:"duration,omitempty"`
	Attempts    int    `json:"attempts"`
}

// ErrorEntry is one recorded step failure in JobState.Errors.
type ErrorEntry struct {
	StepID       string `json:"stepId"`
	ErrorMessage string `json:"errorMessage"`
	Detail       string `json:"detail,omitempty"`
}

// LogLevel is the severity of a buffered log line.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogEntry is one buffered ctx.log call, persisted into JobState.Logs by
// JobExecutor's cleanup.
type LogEntry struct {
	TimestampMs int64          `json:"timestampMs"`
	Level       LogLevel       `json:"level"`
	Message     string         `json:"message"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// InvocationSubscription is a {callerWorkflowId, callerStepId} tuple
// attached to an invoked job so its completion can promote the caller.
type InvocationSubscription struct {
	CallerWorkflowID string `json:"callerWorkflowId"`
	CallerStepID     string `json:"callerStepId"`
}

// JobState is the persistent per-job record that survives across
// re-entries. It is marshaled into and out of the queue's job data
// slot verbatim, under a fixed key set.
type JobState struct {
	Prepared    bool                     `json:"prepared"`
	Source      json.RawMessage          `json:"source"`
	Steps       map[string]*StepState    `json:"steps"`
	Invocations []InvocationSubscription `json:"invocations"`
	Metrics     JobMetrics               `json:"metrics"`
	Errors      []ErrorEntry             `json:"errors"`
	Logs        []LogEntry               `json:"logs"`

	// handles caches StepStateHandle instances per run.
	handles map[string]*StepStateHandle

	// compress selects hex-gzip encoding on the next persist. Set from the
	// client's CompressJobData option at load time; reads always sniff, so
	// flipping the option never strands previously written jobs.
	compress bool
}

// hexGzipPrefix is the hex form of the gzip magic bytes 0x1f 0x8b. JSON can
// never start with it, so a prefix check is enough to tell the encodings
// apart.
const hexGzipPrefix = "1f8b"

func encodeJobData(plain []byte, compress bool) ([]byte, error) {
	if !compress {
		return plain, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(plain); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	out := make([]byte, hex.EncodedLen(buf.Len()))
	hex.Encode(out, buf.Bytes())
	return out, nil
}

func decodeJobData(raw []byte) ([]byte, error) {
	if len(raw) < len(hexGzipPrefix) || string(raw[:len(hexGzipPrefix)]) != hexGzipPrefix {
		return raw, nil
	}
	packed := make([]byte, hex.DecodedLen(len(raw)))
	if _, err := hex.Decode(packed, raw); err != nil {
		// Plain JSON that merely starts with the digits "1f8b" is not valid
		// JSON anyway; a failed hex decode means the data was never ours to
		// unpack.
		return raw, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(packed))
	if err != nil {
		return raw, nil
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// sourceEnvelope is used only to detect whether a raw payload is already
// a prepared JobState (the "prepared" marker check).
type sourceEnvelope struct {
	Prepared bool `json:"prepared"`
}

// prepare wraps a job's raw data into the engine envelope. If rawData already parses as
// a prepared JobState, it is returned as-is with wasPrepared=true.
// Otherwise rawData becomes the new JobState's Source, and an empty
// envelope is initialised around it.
//
// validate is the workflow's schema validator, invoked only on the
// first-call (wasPrepared=false) path, against the raw un-prepared
// payload. Schema validation itself is out of scope; validate is
// supplied by the caller (Workflow.Schema) and treated as an opaque
// transform here.
func prepare(workflowID string, rawData []byte, validate func(json.RawMessage) (json.RawMessage, error)) (wasPrepared bool, js *JobState, err error) {
	var probe struct {
		Prepared    bool                     `json:"prepared"`
		Source      json.RawMessage          `json:"source"`
		Steps       map[string]*StepState    `json:"steps"`
		Invocations []InvocationSubscription `json:"invocations"`
		Metrics     JobMetrics               `json:"metrics"`
		Errors      []ErrorEntry             `json:"errors"`
		Logs        []LogEntry               `json:"logs"`
	}
	if len(rawData) > 0 && json.Valid(rawData) {
		if jsonErr := json.Unmarshal(rawData, &probe); jsonErr == nil && probe.Prepared {
			steps := probe.Steps
			if steps == nil {
				steps = map[string]*StepState{}
			}
			return true, &JobState{
				Prepared:    true,
				Source:      probe.Source,
				Steps:       steps,
				Invocations: probe.Invocations,
				Metrics:     probe.Metrics,
				Errors:      probe.Errors,
				Logs:        probe.Logs,
				handles:     map[string]*StepStateHandle{},
			}, nil
		}
	}

	var src json.RawMessage
	if len(rawData) == 0 {
		src = json.RawMessage("null")
	} else {
		src = json.RawMessage(rawData)
	}
	if validate != nil {
		validated, verr := validate(src)
		if verr != nil {
			return false, nil, &SchemaMismatch{WorkflowID: workflowID, Cause: verr}
		}
		src = validated
	}
	js = &JobState{
		Prepared:    true,
		Source:      src,
		Steps:       map[string]*StepState{},
		Invocations: nil,
		Metrics:     JobMetrics{Attempts: 0},
		Errors:      nil,
		Logs:        nil,
		handles:     map[string]*StepStateHandle{},
	}
	return false, js, nil
}

// load prepares the job's data, then persists the wrapped form
// back to the job if this was the first entry, so subsequent reads by
// other agents observe a stable, already-prepared shape.
func load(ctx context.Context, job Job, workflowID string, validate func(json.RawMessage) (json.RawMessage, error), compress bool) (*JobState, error) {
	plain, err := decodeJobData(job.Data())
	if err != nil {
		return nil, err
	}
	wasPrepared, js, err := prepare(workflowID, plain, validate)
	if err != nil {
		return nil, err
	}
	js.compress = compress
	if !wasPrepared {
		if err := js.persist(ctx, job); err != nil {
			return nil, err
		}
	}
	return js, nil
}

// persist writes the current JobState to the
// job's data slot. Guards against accidental double-wrapping by rejecting
// a source whose own top-level "prepared" field is truthy.
func (js *JobState) persist(ctx context.Context, job Job) error {
	var env sourceEnvelope
	if len(js.Source) > 0 && json.Valid(js.Source) {
		_ = json.Unmarshal(js.Source, &env)
	}
	if env.Prepared {
		return &InvalidSource{}
	}
	if js.Steps == nil {
		js.Steps = map[string]*StepState{}
	}
	plain, err := json.Marshal(js)
	if err != nil {
		return err
	}
	data, err := encodeJobData(plain, js.compress)
	if err != nil {
		return err
	}
	return job.UpdateData(ctx, data)
}

// forStep returns the handle for stepId, idempotent per run. On
// first access within this run it reuses any pre-existing StepState for
// stepId; otherwise it creates a fresh active one.
func (js *JobState) forStep(stepId string, stepType StepType) *StepStateHandle {
	if js.handles == nil {
		js.handles = map[string]*StepStateHandle{}
	}
	if h, ok := js.handles[stepId]; ok {
		return h
	}
	state, ok := js.Steps[stepId]
	if !ok {
		state = &StepState{
			Type:   stepType,
			Status: StepActive,
		}
		js.Steps[stepId] = state
	}
	h := &StepStateHandle{id: stepId, state: state}
	js.handles[stepId] = h
	return h
}

// finish re-serialises every accessed step handle back into js.Steps. It
// is idempotent and cheap: the handles already point into js.Steps'
// entries, so this is mostly a no-op safety net for callers who replaced
// a handle's state wholesale instead of mutating it in place.
func (js *JobState) finish() {
	if js.Steps == nil {
		js.Steps = map[string]*StepState{}
	}
	for id, h := range js.handles {
		js.Steps[id] = h.state
	}
}
