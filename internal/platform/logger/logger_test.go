package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSecretKeysAreRedacted(t *testing.T) {
	l, err := New("development")
	require.NoError(t, err)
	l.redact = true

	out := l.sanitize([]any{"api_key", "sk-12345", "job_id", "j-1"})
	require.Equal(t, []any{"api_key", "[REDACTED]", "job_id", "j-1"}, out)
}

func TestIdentifierKeysAreHashedStably(t *testing.T) {
	l := &Logger{redact: true, salt: "pepper"}
	a := l.clean("owner_id", "user-123")
	b := l.clean("owner_id", "user-123")
	c := l.clean("owner_id", "user-456")

	require.Equal(t, a, b, "same id must hash to the same tag")
	require.NotEqual(t, a, c)
	require.Contains(t, a.(string), "hash:")
	require.NotContains(t, a.(string), "user-123")
}

func TestNestedMapsAreSanitized(t *testing.T) {
	l := &Logger{redact: true}
	out := l.clean("payload", map[string]any{
		"password": "hunter2",
		"count":    3,
	})
	m := out.(map[string]any)
	require.Equal(t, "[REDACTED]", m["password"])
	require.Equal(t, 3, m["count"])
}

func TestJWTShapedStringsAreRedacted(t *testing.T) {
	l := &Logger{redact: true}
	jwt := "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxMjM0NTY3ODkwIn0.signature"
	require.Equal(t, "[REDACTED]", l.clean("note", jwt))
	require.Equal(t, "plain value", l.clean("note", "plain value"))
}

func TestRedactionDisabledPassesThrough(t *testing.T) {
	l := &Logger{redact: false}
	in := []any{"password", "hunter2"}
	require.Equal(t, in, l.sanitize(in))
}

func TestDanglingKeySurvives(t *testing.T) {
	l := &Logger{redact: true}
	out := l.sanitize([]any{"key_without_value"})
	require.Equal(t, []any{"key_without_value"}, out)
}
