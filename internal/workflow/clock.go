package workflow

import "time"

// Clock abstracts wall-clock time so JobExecutor/StepExecutor tests can
// control sleep/repeat pacing deterministically instead of racing real
// timers.
type Clock interface {
	Now() time.Time
}

// systemClock is the production Clock, backed by time.Now.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the default Clock used when a Client is not configured
// with one explicitly.
var SystemClock Clock = systemClock{}

// defaultClock is mutated only by tests (via SetClockForTest) to make
// nowMillis deterministic without threading a Clock through every call
// site that needs a bare timestamp for metrics.
var defaultClock Clock = SystemClock

func nowMillis() int64 {
	return defaultClock.Now().UnixMilli()
}

// SetClockForTest overrides the package-level clock used by nowMillis.
// Tests must call the returned restore function when done.
func SetClockForTest(c Clock) (restore func()) {
	prev := defaultClock
	defaultClock = c
	return func() { defaultClock = prev }
}

// FakeClock is a manually-advanced Clock for deterministic tests of
// sleep/repeat pacing.
type FakeClock struct {
	t time.Time
}

// NewFakeClock constructs a FakeClock starting at t.
func NewFakeClock(t time.Time) *FakeClock { return &FakeClock{t: t} }

func (c *FakeClock) Now() time.Time { return c.t }

// Advance moves the fake clock forward by d.
func (c *FakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }
