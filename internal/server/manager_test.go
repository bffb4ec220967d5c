package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T, handler http.Handler) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Addr = ":0"
	m := NewManager(handler, cfg, zap.NewNop())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 120*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 1<<20, cfg.MaxHeaderBytes)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestNewManager_NotClosedAndAddrSet(t *testing.T) {
	m := NewManager(http.NewServeMux(), DefaultConfig(), zap.NewNop())

	require.NotNil(t, m)
	assert.True(t, m.IsRunning())
	assert.Equal(t, ":8080", m.Addr())
}

func TestManager_ServesUntilShutdown(t *testing.T) {
	healthz := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	m := newTestManager(t, healthz)

	require.NoError(t, m.Start())

	addr := m.listener.Addr().String()
	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
}

func TestManager_StartTwiceFails(t *testing.T) {
	m := newTestManager(t, http.NewServeMux())

	require.NoError(t, m.Start())

	err := m.Start()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already started")
}

func TestManager_ShutdownIsIdempotent(t *testing.T) {
	m := newTestManager(t, http.NewServeMux())
	require.NoError(t, m.Start())

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_CannotRestartAfterShutdown(t *testing.T) {
	m := newTestManager(t, http.NewServeMux())
	require.NoError(t, m.Start())
	require.NoError(t, m.Shutdown(context.Background()))

	err := m.Start()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestManager_IsRunningTracksLifecycle(t *testing.T) {
	m := newTestManager(t, http.NewServeMux())

	assert.True(t, m.IsRunning(), "a fresh manager is not yet closed")

	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
}

func TestManager_ErrorsChannelStartsEmpty(t *testing.T) {
	m := newTestManager(t, http.NewServeMux())

	ch := m.Errors()
	require.NotNil(t, ch)

	select {
	case <-ch:
		t.Fatal("unstarted manager should not have queued an error")
	default:
	}
}

func TestManager_AddrReflectsConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = ":9999"
	m := NewManager(http.NewServeMux(), cfg, zap.NewNop())

	assert.Equal(t, ":9999", m.Addr())
}

// TestManager_HealthAndMetricsListenersAreIndependent mirrors how
// cmd/archflowd/runtime.go runs two managers side by side: the health
// listener and the metrics listener must not interfere with each other's
// lifecycle.
func TestManager_HealthAndMetricsListenersAreIndependent(t *testing.T) {
	health := newTestManager(t, http.NewServeMux())
	metrics := newTestManager(t, http.NewServeMux())

	require.NoError(t, health.Start())
	require.NoError(t, metrics.Start())

	require.NoError(t, health.Shutdown(context.Background()))
	assert.False(t, health.IsRunning())
	assert.True(t, metrics.IsRunning(), "shutting down one listener must not affect the other")

	require.NoError(t, metrics.Shutdown(context.Background()))
}
