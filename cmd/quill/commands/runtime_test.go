package commands

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/quill/internal/config"
	"github.com/dyluth/quill/internal/grading"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useFlags sets the global connection flags for one test.
func useFlags(t *testing.T, name, url string) {
	t.Helper()
	prevName, prevURL := instanceName, redisURL
	instanceName, redisURL = name, url
	t.Cleanup(func() { instanceName, redisURL = prevName, prevURL })
}

func TestLoadRuntime(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("QUILL_CONFIG", filepath.Join(t.TempDir(), "absent.yml"))

	t.Run("flags override the environment", func(t *testing.T) {
		t.Setenv("QUILL_INSTANCE_NAME", "")
		t.Setenv("REDIS_URL", "")
		useFlags(t, "cli-instance", "redis://"+mr.Addr())

		rt, err := loadRuntime(context.Background())
		require.NoError(t, err)
		defer rt.Close()

		assert.Equal(t, "cli-instance", rt.store.InstanceName())
		assert.Equal(t, config.DefaultMaxTxAttempts, rt.config.MaxTxAttempts())
		assert.Equal(t, 10*time.Second, rt.settings().HeartbeatInterval)
		assert.Equal(t, 30*time.Second, rt.settings().ReconcileInterval)
	})

	t.Run("missing instance name", func(t *testing.T) {
		t.Setenv("QUILL_INSTANCE_NAME", "")
		useFlags(t, "", "redis://"+mr.Addr())

		_, err := loadRuntime(context.Background())
		require.Error(t, err)
		assert.Equal(t, "missing configuration", err.Error())
	})

	t.Run("unreachable redis", func(t *testing.T) {
		useFlags(t, "cli-instance", "redis://127.0.0.1:1")

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := loadRuntime(ctx)
		require.Error(t, err)
		assert.Equal(t, "Redis unreachable", err.Error())
	})

	t.Run("malformed redis url", func(t *testing.T) {
		useFlags(t, "cli-instance", "not a url")
		_, err := loadRuntime(context.Background())
		require.Error(t, err)
		assert.Equal(t, "Redis unreachable", err.Error())
	})
}

func TestNewDispatcher_DisabledWithoutBrokers(t *testing.T) {
	d, err := newDispatcher(&runtime{config: config.Default()})
	require.NoError(t, err)
	assert.IsType(t, grading.NopDispatcher{}, d)
}
