package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUnboundContextReportsNotReady(t *testing.T) {
	ec := newExecutionContext(context.Background())

	_, err := ec.Run("a", func() (any, error) { return nil, nil })
	var notReady *NotReady
	require.ErrorAs(t, err, &notReady)

	_, err = ec.Sleep("s", time.Second)
	require.ErrorAs(t, err, &notReady)

	_, err = ec.SleepUntil("u", time.Now())
	require.ErrorAs(t, err, &notReady)

	_, err = ec.Repeat("p", RepeatOptions{Limit: 1}, func() (any, error) { return nil, nil })
	require.ErrorAs(t, err, &notReady)

	_, err = ec.Invoke("i", "other", nil)
	require.ErrorAs(t, err, &notReady)
}

func TestLogBuffersUntilDrained(t *testing.T) {
	ec := newExecutionContext(context.Background())
	ec.Log(LogDebug, "one", nil)
	ec.Log(LogError, "two", map[string]any{"k": "v"})

	drained := ec.drainLogs()
	require.Len(t, drained, 2)
	require.Equal(t, "one", drained[0].Message)
	require.Equal(t, "v", drained[1].Metadata["k"])
	require.Empty(t, ec.drainLogs(), "drain must empty the buffer")
}

func TestSentinelPredicates(t *testing.T) {
	require.True(t, IsSuspend(&Suspend{StepID: "s", Reason: "sleep"}))
	require.False(t, IsSuspend(context.Canceled))

	require.True(t, IsUnrecoverable(NewUnrecoverable(context.Canceled)))
	require.False(t, IsUnrecoverable(context.Canceled))
}

func TestTruthy(t *testing.T) {
	require.False(t, truthy(nil))
	require.False(t, truthy(false))
	require.False(t, truthy(""))
	require.False(t, truthy(0))
	require.False(t, truthy(0.0))
	require.True(t, truthy(true))
	require.True(t, truthy("ok"))
	require.True(t, truthy(1))
	require.True(t, truthy([]string{}))
	require.True(t, truthy(map[string]any{}))
}
