package observability

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounterVecExposition(t *testing.T) {
	c := NewCounterVec("test_total", "Test counter.", []string{"workflow", "outcome"})
	c.Inc("wf-a", "ran")
	c.Inc("wf-a", "ran")
	c.Add(3, "wf-b", "cached")

	var b strings.Builder
	require.NoError(t, c.WritePrometheus(&b))
	out := b.String()

	require.Contains(t, out, "# HELP test_total Test counter.")
	require.Contains(t, out, "# TYPE test_total counter")
	require.Contains(t, out, `test_total{workflow="wf-a",outcome="ran"} 2`)
	require.Contains(t, out, `test_total{workflow="wf-b",outcome="cached"} 3`)
}

func TestCounterVecDropsNegativeDeltas(t *testing.T) {
	c := NewCounterVec("mono_total", "Monotonic.", []string{"k"})
	c.Add(5, "x")
	c.Add(-2, "x")

	var b strings.Builder
	require.NoError(t, c.WritePrometheus(&b))
	require.Contains(t, b.String(), `mono_total{k="x"} 5`)
}

func TestGaugeVecSetOverwritesAndAddShifts(t *testing.T) {
	g := NewGaugeVec("depth", "Queue depth.", []string{"workflow", "state"})
	g.Set(5, "wf", "waiting")
	g.Set(2, "wf", "waiting")
	g.Add(-1, "wf", "waiting")

	var b strings.Builder
	require.NoError(t, g.WritePrometheus(&b))
	require.Contains(t, b.String(), `depth{workflow="wf",state="waiting"} 1`)
	require.NotContains(t, b.String(), "} 5")
}

func TestHistogramVecBucketsAndSum(t *testing.T) {
	h := NewHistogramVec("wait_seconds", "Wait time.", []string{"workflow"}, []float64{1, 5})
	h.Observe(0.5, "wf")
	h.Observe(3, "wf")
	h.Observe(10, "wf")

	var b strings.Builder
	require.NoError(t, h.WritePrometheus(&b))
	out := b.String()

	require.Contains(t, out, `wait_seconds_bucket{workflow="wf",le="1"} 1`)
	require.Contains(t, out, `wait_seconds_bucket{workflow="wf",le="5"} 2`)
	require.Contains(t, out, `wait_seconds_bucket{workflow="wf",le="+Inf"} 3`)
	require.Contains(t, out, `wait_seconds_sum{workflow="wf"} 13.5`)
	require.Contains(t, out, `wait_seconds_count{workflow="wf"} 3`)
}

func TestHistogramBoundaryObservationIsInclusive(t *testing.T) {
	h := NewHistogramVec("b_seconds", "Boundary.", nil, []float64{1})
	h.Observe(1)

	var b strings.Builder
	require.NoError(t, h.WritePrometheus(&b))
	require.Contains(t, b.String(), `b_seconds_bucket{le="1"} 1`)
}

func TestExpositionIsSortedAcrossSeries(t *testing.T) {
	c := NewCounterVec("sorted_total", "Sorted.", []string{"k"})
	c.Inc("zebra")
	c.Inc("apple")

	var b strings.Builder
	require.NoError(t, c.WritePrometheus(&b))
	out := b.String()
	require.Less(t, strings.Index(out, "apple"), strings.Index(out, "zebra"))
}

func TestLabelEscaping(t *testing.T) {
	c := NewCounterVec("esc_total", "Escapes.", []string{"name"})
	c.Inc(`a"b\c`)

	var b strings.Builder
	require.NoError(t, c.WritePrometheus(&b))
	require.Contains(t, b.String(), `esc_total{name="a\"b\\c"} 1`)
}

func TestNilInstrumentsAreSafe(t *testing.T) {
	var c *CounterVec
	var g *GaugeVec
	var h *HistogramVec
	c.Inc("x")
	g.Set(1, "x")
	h.Observe(1, "x")

	var b strings.Builder
	require.NoError(t, c.WritePrometheus(&b))
	require.NoError(t, g.WritePrometheus(&b))
	require.NoError(t, h.WritePrometheus(&b))
}

func TestEngineMetricsWriteAllInstruments(t *testing.T) {
	m := NewEngineMetrics()
	m.StepOutcomes.Inc("wf", "run", "ran")
	m.SuspendTotal.Inc("wf", "sleep")
	m.QueueDepth.Set(4, "wf", "waiting")
	m.JobDispatches.Inc("wf", "completed")
	m.InvokeWaitSecs.Observe(1.5, "a", "b")

	var b strings.Builder
	require.NoError(t, m.WritePrometheus(&b))
	out := b.String()
	for _, name := range []string{
		"durable_queue_depth",
		"durable_step_outcomes_total",
		"durable_suspend_total",
		"durable_invoke_wait_seconds",
		"durable_job_dispatches_total",
	} {
		require.Contains(t, out, name)
	}
}
