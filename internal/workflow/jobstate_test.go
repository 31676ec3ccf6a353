package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// stubJob is a minimal in-memory Job for exercising JobState persistence
// without a queue.
type stubJob struct {
	id         string
	workflowID string
	data       []byte
}

func (j *stubJob) ID() string         { return j.id }
func (j *stubJob) WorkflowID() string { return j.workflowID }
func (j *stubJob) Data() []byte       { return j.data }

func (j *stubJob) UpdateData(_ context.Context, data []byte) error {
	j.data = append([]byte(nil), data...)
	return nil
}

func (j *stubJob) MoveToDelayed(context.Context, time.Time) error { return nil }
func (j *stubJob) ChangePriority(context.Context, int) error      { return nil }
func (j *stubJob) Promote(context.Context) error                  { return nil }
func (j *stubJob) GetState(context.Context) (JobStatus, error)    { return JobActive, nil }
func (j *stubJob) ReturnValue() []byte                            { return nil }
func (j *stubJob) SetReturnValue(context.Context, []byte) error   { return nil }
func (j *stubJob) Fail(context.Context, string) error             { return nil }
func (j *stubJob) Complete(context.Context) error                 { return nil }

func TestPrepareWrapsRawPayload(t *testing.T) {
	wasPrepared, js, err := prepare("wf", []byte(`{"number":7}`), nil)
	require.NoError(t, err)
	require.False(t, wasPrepared)
	require.True(t, js.Prepared)
	require.JSONEq(t, `{"number":7}`, string(js.Source))
	require.Empty(t, js.Steps)
	require.Zero(t, js.Metrics.Attempts)
}

func TestPrepareIsIdempotentOnItsOwnOutput(t *testing.T) {
	_, first, err := prepare("wf", []byte(`{"number":7}`), nil)
	require.NoError(t, err)
	raw, err := json.Marshal(first)
	require.NoError(t, err)

	wasPrepared, second, err := prepare("wf", raw, nil)
	require.NoError(t, err)
	require.True(t, wasPrepared)
	require.JSONEq(t, string(first.Source), string(second.Source))

	again, err := json.Marshal(second)
	require.NoError(t, err)
	require.JSONEq(t, string(raw), string(again))
}

func TestPrepareRunsValidatorOnFirstEntryOnly(t *testing.T) {
	calls := 0
	validate := func(raw json.RawMessage) (json.RawMessage, error) {
		calls++
		return raw, nil
	}
	_, js, err := prepare("wf", []byte(`{"a":1}`), validate)
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	raw, err := json.Marshal(js)
	require.NoError(t, err)
	_, _, err = prepare("wf", raw, validate)
	require.NoError(t, err)
	require.Equal(t, 1, calls, "already-prepared data must not re-validate")
}

func TestPrepareRejectsInvalidPayload(t *testing.T) {
	validate := func(raw json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("missing field")
	}
	_, _, err := prepare("wf", []byte(`{}`), validate)
	var mismatch *SchemaMismatch
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, "wf", mismatch.WorkflowID)
}

func TestPersistRejectsNestedEnvelope(t *testing.T) {
	js := &JobState{
		Prepared: true,
		Source:   json.RawMessage(`{"prepared":true,"source":{}}`),
		Steps:    map[string]*StepState{},
	}
	err := js.persist(context.Background(), &stubJob{})
	var invalid *InvalidSource
	require.ErrorAs(t, err, &invalid)
}

func TestLoadPersistsFirstEntryShape(t *testing.T) {
	job := &stubJob{data: []byte(`{"n":1}`)}
	js, err := load(context.Background(), job, "wf", nil, false)
	require.NoError(t, err)
	require.True(t, js.Prepared)

	// The wrapped form was written back, so a second load round-trips it.
	var probe struct {
		Prepared bool `json:"prepared"`
	}
	require.NoError(t, json.Unmarshal(job.data, &probe))
	require.True(t, probe.Prepared)

	js2, err := load(context.Background(), job, "wf", nil, false)
	require.NoError(t, err)
	require.JSONEq(t, string(js.Source), string(js2.Source))
}

func TestForStepReturnsSameHandleAndKeepsType(t *testing.T) {
	_, js, err := prepare("wf", []byte(`{}`), nil)
	require.NoError(t, err)

	h1 := js.forStep("a", StepRun)
	h2 := js.forStep("a", StepSleep)
	require.Same(t, h1, h2, "forStep must cache per run")
	require.Equal(t, StepRun, h2.Type(), "step type is fixed at first creation")

	require.NoError(t, h1.complete(42))
	h3 := js.forStep("a", StepRun)
	require.Equal(t, StepCompleted, h3.Status())
}

func TestCompressionRoundTrip(t *testing.T) {
	plain := []byte(`{"prepared":true,"source":{"n":1},"steps":{}}`)
	packed, err := encodeJobData(plain, true)
	require.NoError(t, err)
	require.NotEqual(t, plain, packed)
	require.Equal(t, hexGzipPrefix, string(packed[:4]))

	back, err := decodeJobData(packed)
	require.NoError(t, err)
	require.Equal(t, plain, back)

	// Uncompressed data passes through untouched.
	same, err := decodeJobData(plain)
	require.NoError(t, err)
	require.Equal(t, plain, same)
}

func TestSourceSurvivesReplaysUnchanged(t *testing.T) {
	job := &stubJob{data: []byte(`{"number":9}`)}
	js, err := load(context.Background(), job, "wf", nil, false)
	require.NoError(t, err)
	original := string(js.Source)

	js.forStep("a", StepRun)
	require.NoError(t, js.forStep("a", StepRun).complete("x"))
	js.finish()
	require.NoError(t, js.persist(context.Background(), job))

	reloaded, err := load(context.Background(), job, "wf", nil, false)
	require.NoError(t, err)
	require.JSONEq(t, original, string(reloaded.Source))
	require.Equal(t, StepCompleted, reloaded.Steps["a"].Status)
}
