package workflow

import "encoding/json"

// StepType identifies which of the five primitives created a StepState.
// Immutable once set: a stepId keeps its type for the life of the job.
type StepType string

const (
	StepRun              StepType = "run"
	StepSleep            StepType = "sleep"
	StepSleepUntil       StepType = "sleep-until"
	StepRepeat           StepType = "repeat"
	StepInvokeWaitResult StepType = "invoke-wait-for-result"
)

// StepStatus is the per-step state machine position.
type StepStatus string

const (
	StepActive    StepStatus = "active"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepDelayed   StepStatus = "delayed"
)

// StepState is the persisted record describing one step's progress
// within a job.
type StepState struct {
	Type    StepType        `json:"type"`
	Status  StepStatus      `json:"status"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
	Metrics StepMetrics     `json:"metrics"`
}

// StepMetrics is the timing record carried on every StepState.
type StepMetrics struct {
	StartedAt   *int64 `json:"startedAt,omitempty"`
	CompletedAt *int64 `json:"completedAt,omitempty"`
	FailedAt    *int64 `json:"failedAt,omitempty"`
	DurationMs  *int64 `json:"duration,omitempty"`
}

// invokeResult is the protocol shape carried in StepState.Result while an
// invoke step is in flight.
type invokeResult struct {
	JobID string `json:"jobId"`
}

// repeatResult is the protocol shape carried in StepState.Result while a
// repeat step is in flight.
type repeatResult struct {
	Attempt    int             `json:"attempt"`
	LastResult json.RawMessage `json:"lastResult,omitempty"`
	Completed  bool            `json:"completed"`
	NeedsDelay bool            `json:"needsDelay"`
}

// StepStateHandle exposes start/complete/error transitions over one
// StepState, plus direct field access for the few protocols (repeat,
// invoke) that need multi-field transactions.
type StepStateHandle struct {
	id    string
	state *StepState
	nowFn func() int64
}

func (h *StepStateHandle) ID() string         { return h.id }
func (h *StepStateHandle) Status() StepStatus { return h.state.Status }
func (h *StepStateHandle) Type() StepType     { return h.state.Type }

// Result unmarshals the step's stored result into dst. No-op if the
// result is empty.
func (h *StepStateHandle) Result(dst any) error {
	if len(h.state.Result) == 0 {
		return nil
	}
	return json.Unmarshal(h.state.Result, dst)
}

func (h *StepStateHandle) now() int64 {
	if h.nowFn != nil {
		return h.nowFn()
	}
	return nowMillis()
}

// start transitions absent/active/delayed into active. No-op if already
// completed or failed.
func (h *StepStateHandle) start() {
	switch h.state.Status {
	case StepCompleted, StepFailed:
		return
	}
	if h.state.Metrics.StartedAt == nil {
		t := h.now()
		h.state.Metrics.StartedAt = &t
	}
	h.state.Status = StepActive
}

// complete marks the step completed with result, setting completedAt and
// duration.
func (h *StepStateHandle) complete(result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	h.state.Result = raw
	h.completeStored()
	return nil
}

// completeStored marks the step completed without touching its stored
// result, for callers that staged Result themselves (blob offload).
func (h *StepStateHandle) completeStored() {
	t := h.now()
	h.state.Metrics.CompletedAt = &t
	if h.state.Metrics.StartedAt != nil {
		d := t - *h.state.Metrics.StartedAt
		h.state.Metrics.DurationMs = &d
	} else {
		d := int64(0)
		h.state.Metrics.DurationMs = &d
	}
	h.state.Status = StepCompleted
}

// fail marks the step failed, storing e's string form and setting
// failedAt.
func (h *StepStateHandle) fail(e error) {
	t := h.now()
	h.state.Metrics.FailedAt = &t
	h.state.Status = StepFailed
	msg, _ := json.Marshal(e.Error())
	h.state.Error = msg
}

// setDelayed transitions the step into delayed.
func (h *StepStateHandle) setDelayed() {
	h.state.Status = StepDelayed
}

// setResult overwrites the step's raw result without altering status or
// timing, for protocols (repeat, invoke) that stage an in-flight record
// before deciding on a transition.
func (h *StepStateHandle) setResult(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.state.Result = raw
	return nil
}
