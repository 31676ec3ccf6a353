package observability

import (
	"io"
	"net/http"
)

// EngineMetrics are the concrete instruments the workflow engine reports:
// queue depth per workflow/state, step outcomes (cached replay vs. actual
// execution), suspend counts by reason, and invoke-wait durations.
type EngineMetrics struct {
	QueueDepth     *GaugeVec     // labels: workflow, state
	StepOutcomes   *CounterVec   // labels: workflow, step_type, outcome (ran|cached|failed)
	SuspendTotal   *CounterVec   // labels: workflow, reason (sleep|invoke_poll|repeat_pace)
	InvokeWaitSecs *HistogramVec // labels: caller_workflow, target_workflow
	JobDispatches  *CounterVec   // labels: workflow, result (completed|suspended|failed)
}

// NewEngineMetrics constructs the engine's metric instruments. Safe to call
// once per process; callers typically hold the result on the Client.
func NewEngineMetrics() *EngineMetrics {
	return &EngineMetrics{
		QueueDepth:     NewGaugeVec("durable_queue_depth", "Number of jobs per workflow and queue state.", []string{"workflow", "state"}),
		StepOutcomes:   NewCounterVec("durable_step_outcomes_total", "Step primitive outcomes by workflow, step type and outcome.", []string{"workflow", "step_type", "outcome"}),
		SuspendTotal:   NewCounterVec("durable_suspend_total", "Suspend sentinel raises by workflow and reason.", []string{"workflow", "reason"}),
		InvokeWaitSecs: NewHistogramVec("durable_invoke_wait_seconds", "Wall-clock time a caller job spent waiting on an invoked job.", []string{"caller_workflow", "target_workflow"}, nil),
		JobDispatches:  NewCounterVec("durable_job_dispatches_total", "Job dispatches by workflow and terminal/suspended result.", []string{"workflow", "result"}),
	}
}

// WritePrometheus renders every instrument in Prometheus text exposition
// format, for serving from the admin HTTP surface's /metrics endpoint.
func (m *EngineMetrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, inst := range []interface{ WritePrometheus(io.Writer) error }{
		m.QueueDepth, m.StepOutcomes, m.SuspendTotal, m.InvokeWaitSecs, m.JobDispatches,
	} {
		if err := inst.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

// Handler returns an http.Handler suitable for mounting at /metrics.
func (m *EngineMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_ = m.WritePrometheus(w)
	})
}
