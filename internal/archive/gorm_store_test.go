package archive

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowkit/durable/internal/platform/logger"
	"github.com/flowkit/durable/internal/workflow"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	log, err := logger.New("development")
	require.NoError(t, err)
	store, err := New(DriverSQLite, filepath.Join(t.TempDir(), "archive.db"), log)
	require.NoError(t, err)
	return store
}

func sampleState(t *testing.T) *workflow.JobState {
	t.Helper()
	started := int64(1000)
	return &workflow.JobState{
		Prepared: true,
		Source:   json.RawMessage(`{"number":7}`),
		Steps: map[string]*workflow.StepState{
			"a": {Type: workflow.StepRun, Status: workflow.StepCompleted, Result: json.RawMessage("42")},
		},
		Metrics: workflow.JobMetrics{StartedAt: &started, Attempts: 2},
		Logs: []workflow.LogEntry{
			{TimestampMs: 1001, Level: workflow.LogInfo, Message: "hello"},
		},
	}
}

func TestRecordAndGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, "wf", "job-1", "completed", sampleState(t)))

	got, err := store.Get(ctx, "wf", "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.JSONEq(t, `{"number":7}`, string(got.Source))
	require.Equal(t, workflow.StepCompleted, got.Steps["a"].Status)
	require.Equal(t, 2, got.Metrics.Attempts)
	require.Len(t, got.Logs, 1)
}

func TestRecordUpsertsSameJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	js := sampleState(t)
	require.NoError(t, store.Record(ctx, "wf", "job-1", "completed", js))
	js.Metrics.Attempts = 5
	require.NoError(t, store.Record(ctx, "wf", "job-1", "failed", js))

	got, err := store.Get(ctx, "wf", "job-1")
	require.NoError(t, err)
	require.Equal(t, 5, got.Metrics.Attempts)

	var count int64
	require.NoError(t, store.db.Model(&Record{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestGetMissingReturnsNil(t *testing.T) {
	store := newTestStore(t)
	got, err := store.Get(context.Background(), "wf", "nope")
	require.NoError(t, err)
	require.Nil(t, got)
}
