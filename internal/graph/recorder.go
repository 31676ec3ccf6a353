package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Recorder records invoke edges. A nil *Client makes every
// method a no-op, so callers can construct a Recorder unconditionally
// and only pay for Neo4j when NEO4J_URI is configured.
type Recorder struct {
	client *Client
}

func NewRecorder(client *Client) *Recorder {
	return &Recorder{client: client}
}

// RecordInvoke upserts both job nodes and the edge between them, on an
// invoke's first call (not on the polling re-entries that follow).
func (r *Recorder) RecordInvoke(ctx context.Context, callerWorkflowID, callerJobID, callerStepID, targetWorkflowID, targetJobID string) error {
	if r == nil || r.client == nil {
		return nil
	}
	session := r.client.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MERGE (caller:Job {workflowId: $callerWorkflowId, jobId: $callerJobId})
			MERGE (target:Job {workflowId: $targetWorkflowId, jobId: $targetJobId})
			MERGE (caller)-[edge:INVOKES {stepId: $callerStepId}]->(target)
			ON CREATE SET edge.createdAt = timestamp()
		`, map[string]any{
			"callerWorkflowId": callerWorkflowID,
			"callerJobId":      callerJobID,
			"callerStepId":     callerStepID,
			"targetWorkflowId": targetWorkflowID,
			"targetJobId":      targetJobID,
		})
		return nil, err
	})
	return err
}

// RecordResolved annotates the edge into targetJobID with a resolvedAt
// timestamp once that invoked job completes and notifies its callers.
func (r *Recorder) RecordResolved(ctx context.Context, targetWorkflowID, targetJobID string) error {
	if r == nil || r.client == nil {
		return nil
	}
	session := r.client.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MATCH (:Job)-[edge:INVOKES]->(target:Job {workflowId: $targetWorkflowId, jobId: $targetJobId})
			SET edge.resolvedAt = timestamp()
		`, map[string]any{
			"targetWorkflowId": targetWorkflowID,
			"targetJobId":      targetJobID,
		})
		return nil, err
	})
	return err
}
