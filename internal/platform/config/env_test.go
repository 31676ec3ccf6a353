package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}

func TestGetEnvFallsBackToDefault(t *testing.T) {
	require.Equal(t, "dflt", GetEnv("DURABLE_TEST_UNSET", "dflt", nil))
	t.Setenv("DURABLE_TEST_SET", "value")
	require.Equal(t, "value", GetEnv("DURABLE_TEST_SET", "dflt", nil))
}

func TestGetEnvAsInt(t *testing.T) {
	require.Equal(t, 7, GetEnvAsInt("DURABLE_TEST_INT", 7, nil))
	t.Setenv("DURABLE_TEST_INT", "12")
	require.Equal(t, 12, GetEnvAsInt("DURABLE_TEST_INT", 7, nil))
	t.Setenv("DURABLE_TEST_INT", "not-a-number")
	require.Equal(t, 7, GetEnvAsInt("DURABLE_TEST_INT", 7, nil))
}

func TestGetEnvAsBool(t *testing.T) {
	require.True(t, GetEnvAsBool("DURABLE_TEST_BOOL", true, nil))
	for _, v := range []string{"1", "true", "yes", "on"} {
		t.Setenv("DURABLE_TEST_BOOL", v)
		require.True(t, GetEnvAsBool("DURABLE_TEST_BOOL", false, nil), v)
	}
	for _, v := range []string{"0", "false", "no", "off"} {
		t.Setenv("DURABLE_TEST_BOOL", v)
		require.False(t, GetEnvAsBool("DURABLE_TEST_BOOL", true, nil), v)
	}
	t.Setenv("DURABLE_TEST_BOOL", "maybe")
	require.True(t, GetEnvAsBool("DURABLE_TEST_BOOL", true, nil))
}

func TestGetEnvAsDuration(t *testing.T) {
	require.Equal(t, 5*time.Second, GetEnvAsDuration("DURABLE_TEST_DUR", 5*time.Second, nil))
	t.Setenv("DURABLE_TEST_DUR", "30")
	require.Equal(t, 30*time.Second, GetEnvAsDuration("DURABLE_TEST_DUR", 5*time.Second, nil))
}

func TestLoadYAMLOverlay(t *testing.T) {
	var dst struct {
		RedisAddr string `yaml:"redis_addr"`
	}
	require.NoError(t, LoadYAMLOverlay("", &dst), "empty path is a no-op")
	require.NoError(t, LoadYAMLOverlay("does-not-exist.yaml", &dst), "missing file is a no-op")

	path := t.TempDir() + "/worker.yaml"
	require.NoError(t, writeFile(path, "redis_addr: 10.0.0.1:6379\n"))
	require.NoError(t, LoadYAMLOverlay(path, &dst))
	require.Equal(t, "10.0.0.1:6379", dst.RedisAddr)
}
