package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeStreamingYAML(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "streaming.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	writeStreamingYAML(t, dir, "stream:\n  buffer_size: 0\n")
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "streaming.yaml"))

	f, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1000, f.Stream.ToStreamConfig().BufferSize)
	assert.Equal(t, "localhost", f.Postgres.Host)
	assert.Equal(t, 5432, f.Postgres.Port)
	assert.Equal(t, "localhost:6379", f.Redis.Addr)
	assert.Equal(t, 100, f.TaskQueue.Capacity)
	assert.Equal(t, "gpt-4o", f.Provider.Model)
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	writeStreamingYAML(t, dir, `
stream:
  buffer_size: 500
  heartbeat_seconds: 15
postgres:
  host: dbhost
  port: 5433
task_queue:
  capacity: 25
provider:
  model: gpt-4o-mini
`)
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "streaming.yaml"))

	f, err := Load()
	require.NoError(t, err)

	sc := f.Stream.ToStreamConfig()
	assert.Equal(t, 500, sc.BufferSize)
	assert.Equal(t, 15*time.Second, sc.HeartbeatInterval)
	assert.Equal(t, "dbhost", f.Postgres.Host)
	assert.Equal(t, 5433, f.Postgres.Port)
	assert.Equal(t, 25, f.TaskQueue.Capacity)
	assert.Equal(t, "gpt-4o-mini", f.Provider.Model)
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeStreamingYAML(t, dir, "stream:\n  buffer_size: 100\n")
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "streaming.yaml"))
	t.Setenv("POSTGRES_HOST", "envhost")
	t.Setenv("POSTGRES_PORT", "6000")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	f, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "envhost", f.Postgres.Host)
	assert.Equal(t, 6000, f.Postgres.Port)
	assert.Equal(t, "sk-test", f.Provider.APIKey)
}

func TestParseBool(t *testing.T) {
	assert.True(t, ParseBool("true"))
	assert.True(t, ParseBool("1"))
	assert.True(t, ParseBool("yes"))
	assert.False(t, ParseBool("false"))
	assert.False(t, ParseBool("0"))
	assert.False(t, ParseBool("garbage"))
}

func TestManagerHotReload(t *testing.T) {
	dir := t.TempDir()
	writeStreamingYAML(t, dir, "stream:\n  buffer_size: 200\n")
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "streaming.yaml"))

	m, err := NewManager(zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 200, m.StreamConfig().BufferSize)

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	writeStreamingYAML(t, dir, "stream:\n  buffer_size: 900\n")

	assert.Eventually(t, func() bool {
		return m.StreamConfig().BufferSize == 900
	}, 2*time.Second, 50*time.Millisecond)
}
