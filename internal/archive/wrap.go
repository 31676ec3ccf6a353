package archive

import (
	"context"

	"github.com/flowkit/durable/internal/workflow"
)

// Wrap decorates a workflow's JobHandler so that once a dispatch leaves
// the job in a terminal state (Completed or Failed), its JobState is
// recorded into store. Suspended dispatches are left alone — they are
// not terminal and will be archived on whichever dispatch finally
// finishes them.
func Wrap(next workflow.JobHandler, store Store, client *workflow.Client, workflowID string) workflow.JobHandler {
	return func(ctx context.Context, job workflow.Job) error {
		err := next(ctx, job)

		state, stateErr := job.GetState(ctx)
		if stateErr != nil || (state != workflow.JobCompleted && state != workflow.JobFailed) {
			return err
		}

		js, snapErr := client.JobSnapshot(ctx, workflowID, job.ID())
		if snapErr == nil && js != nil {
			_ = store.Record(ctx, workflowID, job.ID(), string(state), js)
		}
		return err
	}
}
