package observability

import "github.com/flowkit/durable/internal/workflow"

// MetricsAdapter binds an *EngineMetrics to workflow.MetricsSink, so
// internal/workflow never needs to import this package directly (the
// seam stays narrow, per its own MetricsSink interface).
type MetricsAdapter struct {
	metrics *EngineMetrics
}

func NewMetricsAdapter(metrics *EngineMetrics) *MetricsAdapter {
	return &MetricsAdapter{metrics: metrics}
}

func (a *MetricsAdapter) ObserveSuspend(workflowID, reason string) {
	a.metrics.SuspendTotal.Inc(workflowID, reason)
}

func (a *MetricsAdapter) ObserveStepOutcome(workflowID string, stepType workflow.StepType, outcome string) {
	a.metrics.StepOutcomes.Inc(workflowID, string(stepType), outcome)
}

func (a *MetricsAdapter) ObserveDispatch(workflowID, result string) {
	a.metrics.JobDispatches.Inc(workflowID, result)
}

func (a *MetricsAdapter) ObserveInvokeWait(callerWorkflowID, targetWorkflowID string, seconds float64) {
	a.metrics.InvokeWaitSecs.Observe(seconds, callerWorkflowID, targetWorkflowID)
}
