// Package observability provides the engine's metric instruments —
// labelled counters, gauges and histograms rendered in Prometheus text
// exposition format. The three instrument kinds share one series
// registry; they differ only in how a sample mutates a series and how a
// series prints.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// series is one labelled time series inside an instrument family.
type series struct {
	labelValues []string
	value       float64
	cells       []uint64 // histogram only: per-bucket (non-cumulative) counts
	sum         float64  // histogram only
	count       uint64   // histogram only
}

// family is the registry shared by every instrument kind: a metric name,
// its label schema, and the series seen so far keyed by their joined
// label values.
type family struct {
	name       string
	help       string
	kind       string
	labelNames []string

	mu     sync.Mutex
	series map[string]*series
}

func newFamily(name, help, kind string, labelNames []string) *family {
	return &family{name: name, help: help, kind: kind, labelNames: labelNames, series: map[string]*series{}}
}

// upsert runs mutate against the series for labelValues, creating it on
// first sight, under the family lock.
func (f *family) upsert(labelValues []string, mutate func(*series)) {
	key := strings.Join(labelValues, "\x1f")
	f.mu.Lock()
	s, ok := f.series[key]
	if !ok {
		s = &series{labelValues: labelValues}
		f.series[key] = s
	}
	mutate(s)
	f.mu.Unlock()
}

// expose writes the family header and then each series through print, in
// sorted label order so consecutive scrapes are deterministic.
func (f *family) expose(w io.Writer, print func(io.Writer, *series) error) error {
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.kind); err != nil {
		return err
	}
	f.mu.Lock()
	keys := make([]string, 0, len(f.series))
	for k := range f.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]*series, len(keys))
	for i, k := range keys {
		ordered[i] = f.series[k]
	}
	f.mu.Unlock()
	for _, s := range ordered {
		if err := print(w, s); err != nil {
			return err
		}
	}
	return nil
}

// labelBlock renders `{name="value",...}` for a series, with extra
// name/value pairs appended after the schema labels (histogram le
// bounds). Returns "" for an unlabelled series with no extras.
func (f *family) labelBlock(s *series, extra ...string) string {
	if len(f.labelNames) == 0 && len(extra) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteByte('{')
	pairs := 0
	for i, name := range f.labelNames {
		val := ""
		if i < len(s.labelValues) {
			val = s.labelValues[i]
		}
		writePair(&b, &pairs, name, val)
	}
	for i := 0; i+1 < len(extra); i += 2 {
		writePair(&b, &pairs, extra[i], extra[i+1])
	}
	b.WriteByte('}')
	return b.String()
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func writePair(b *strings.Builder, pairs *int, name, val string) {
	if *pairs > 0 {
		b.WriteByte(',')
	}
	*pairs++
	b.WriteString(name)
	b.WriteString(`="`)
	_, _ = labelEscaper.WriteString(b, val)
	b.WriteByte('"')
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// CounterVec is a monotonically increasing labelled counter. Negative
// deltas are dropped rather than applied.
type CounterVec struct {
	f *family
}

func NewCounterVec(name, help string, labelNames []string) *CounterVec {
	return &CounterVec{f: newFamily(name, help, "counter", labelNames)}
}

func (c *CounterVec) Inc(labelValues ...string) { c.Add(1, labelValues...) }

func (c *CounterVec) Add(delta float64, labelValues ...string) {
	if c == nil || delta < 0 {
		return
	}
	c.f.upsert(labelValues, func(s *series) { s.value += delta })
}

func (c *CounterVec) WritePrometheus(w io.Writer) error {
	if c == nil {
		return nil
	}
	return c.f.expose(w, func(w io.Writer, s *series) error {
		_, err := fmt.Fprintf(w, "%s%s %s\n", c.f.name, c.f.labelBlock(s), formatValue(s.value))
		return err
	})
}

// GaugeVec is a labelled gauge; Set overwrites, Add shifts.
type GaugeVec struct {
	f *family
}

func NewGaugeVec(name, help string, labelNames []string) *GaugeVec {
	return &GaugeVec{f: newFamily(name, help, "gauge", labelNames)}
}

func (g *GaugeVec) Set(v float64, labelValues ...string) {
	if g == nil {
		return
	}
	g.f.upsert(labelValues, func(s *series) { s.value = v })
}

func (g *GaugeVec) Add(delta float64, labelValues ...string) {
	if g == nil {
		return
	}
	g.f.upsert(labelValues, func(s *series) { s.value += delta })
}

func (g *GaugeVec) WritePrometheus(w io.Writer) error {
	if g == nil {
		return nil
	}
	return g.f.expose(w, func(w io.Writer, s *series) error {
		_, err := fmt.Fprintf(w, "%s%s %s\n", g.f.name, g.f.labelBlock(s), formatValue(s.value))
		return err
	})
}

// defaultBounds suit the engine's wait-style durations in seconds, from
// sub-second step replays up to minute-long invoke waits.
var defaultBounds = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// HistogramVec is a labelled histogram over fixed bucket bounds. Each
// observation lands in exactly one internal cell; the cumulative counts
// the exposition format expects are computed at write time.
type HistogramVec struct {
	f      *family
	bounds []float64
}

func NewHistogramVec(name, help string, labelNames []string, bounds []float64) *HistogramVec {
	if len(bounds) == 0 {
		bounds = defaultBounds
	}
	return &HistogramVec{f: newFamily(name, help, "histogram", labelNames), bounds: bounds}
}

func (h *HistogramVec) Observe(v float64, labelValues ...string) {
	if h == nil {
		return
	}
	cell := sort.SearchFloat64s(h.bounds, v)
	h.f.upsert(labelValues, func(s *series) {
		if s.cells == nil {
			s.cells = make([]uint64, len(h.bounds)+1)
		}
		s.cells[cell]++
		s.sum += v
		s.count++
	})
}

func (h *HistogramVec) WritePrometheus(w io.Writer) error {
	if h == nil {
		return nil
	}
	return h.f.expose(w, func(w io.Writer, s *series) error {
		var cumulative uint64
		for i, bound := range h.bounds {
			if i < len(s.cells) {
				cumulative += s.cells[i]
			}
			block := h.f.labelBlock(s, "le", formatValue(bound))
			if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.f.name, block, cumulative); err != nil {
				return err
			}
		}
		block := h.f.labelBlock(s, "le", "+Inf")
		if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.f.name, block, s.count); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s_sum%s %s\n", h.f.name, h.f.labelBlock(s), formatValue(s.sum)); err != nil {
			return err
		}
		_, err := fmt.Fprintf(w, "%s_count%s %d\n", h.f.name, h.f.labelBlock(s), s.count)
		return err
	})
}
