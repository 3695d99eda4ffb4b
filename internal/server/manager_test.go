package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startManager(t *testing.T, reg *prometheus.Registry) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	m := NewManager(cfg, reg, zap.NewNop())
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 2*time.Second, cfg.CheckTimeout)
}

func TestManager_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	runs := prometheus.NewCounter(prometheus.CounterOpts{Name: "flowgraph_test_runs_total", Help: "runs"})
	reg.MustRegister(runs)
	runs.Add(3)

	m := startManager(t, reg)
	assert.True(t, m.IsRunning())

	status, body := get(t, "http://"+m.Addr()+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "flowgraph_test_runs_total 3")
}

func TestManager_Health(t *testing.T) {
	m := startManager(t, prometheus.NewRegistry())
	url := "http://" + m.Addr() + "/healthz"

	status, body := get(t, url)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, body)

	m.AddCheck("redis", func(context.Context) error { return nil })
	m.AddCheck("database", func(context.Context) error { return errors.New("connection refused") })

	status, body = get(t, url)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	var payload struct {
		Status string            `json:"status"`
		Failed map[string]string `json:"failed"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	assert.Equal(t, "unhealthy", payload.Status)
	assert.Equal(t, map[string]string{"database": "connection refused"}, payload.Failed)

	m.AddCheck("database", func(context.Context) error { return nil })
	status, _ = get(t, url)
	assert.Equal(t, http.StatusOK, status)
}

func TestManager_CheckHonoursTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CheckTimeout = 10 * time.Millisecond
	m := NewManager(cfg, nil, nil)
	m.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	failed := m.Check(context.Background())
	assert.Contains(t, failed["slow"], "deadline exceeded")
}

func TestManager_Lifecycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	m := NewManager(cfg, prometheus.NewRegistry(), zap.NewNop())
	assert.False(t, m.IsRunning())

	require.NoError(t, m.Start())
	err := m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()), "shutdown twice is a no-op")
	assert.False(t, m.IsRunning())

	err = m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestManager_WaitForShutdownOnContext(t *testing.T) {
	m := startManager(t, prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.WaitForShutdown(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForShutdown did not return")
	}
	assert.False(t, m.IsRunning())

	select {
	case err := <-m.Errors():
		t.Fatalf("unexpected server error: %v", err)
	default:
	}
}

func TestManager_ListenError(t *testing.T) {
	first := startManager(t, prometheus.NewRegistry())

	cfg := DefaultConfig()
	cfg.Addr = first.Addr()
	second := NewManager(cfg, prometheus.NewRegistry(), zap.NewNop())
	err := second.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}
