// Package adminapi is a thin gin-based read/control HTTP surface over a
// running worker process: list registered workflows, fetch a job's
// JobState snapshot, and pause/stop a workflow's worker. Strictly an
// operator surface, not a product API.
package adminapi

import (
	"context"

	"github.com/flowkit/durable/internal/workflow"
)

// Registry exposes the client's registered workflows and running workers
// to the HTTP handlers.
type Registry struct {
	client *workflow.Client
}

// NewRegistry binds a Registry to the client whose workflows, jobs and
// workers it will expose.
func NewRegistry(client *workflow.Client) *Registry {
	return &Registry{client: client}
}

// Workflows lists the workflow ids registered on the bound client.
func (r *Registry) Workflows() []string {
	return r.client.WorkflowIDs()
}

// JobSnapshot returns the current JobState of jobID under workflowID.
func (r *Registry) JobSnapshot(ctx context.Context, workflowID, jobID string) (*workflow.JobState, error) {
	return r.client.JobSnapshot(ctx, workflowID, jobID)
}

// Pause stops workflowID's worker from claiming new jobs.
func (r *Registry) Pause(workflowID string) error {
	return r.client.PauseWorkflow(workflowID)
}

// Stop tears down workflowID's worker entirely.
func (r *Registry) Stop(workflowID string) error {
	return r.client.StopWorkflow(workflowID)
}
