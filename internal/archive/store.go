package archive

import (
	"context"
	"encoding/json"

	"github.com/flowkit/durable/internal/workflow"
)

// Store records a terminal job's JobState for durable audit, outside the
// queue's own storage. Nothing in the core calls this directly — it is
// wired at the worker-process layer (cmd/worker), invoked after a job
// reaches Completed or Failed.
type Store interface {
	Record(ctx context.Context, workflowID, jobID, state string, js *workflow.JobState) error
	Get(ctx context.Context, workflowID, jobID string) (*workflow.JobState, error)
}

func marshalSnapshot(js *workflow.JobState) ([]byte, error) {
	return json.Marshal(js)
}

func unmarshalSnapshot(raw []byte) (*workflow.JobState, error) {
	var js workflow.JobState
	if err := json.Unmarshal(raw, &js); err != nil {
		return nil, err
	}
	return &js, nil
}
