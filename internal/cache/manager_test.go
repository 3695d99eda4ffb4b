package cache

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/flowgraph/config"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func setupTestRedis(t *testing.T, interval time.Duration) (*miniredis.Miniredis, *Manager) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.MaxRetries = 0
	cfg.HealthCheckInterval = interval

	manager, err := NewManager(cfg, zap.NewNop())
	require.NoError(t, err)

	return mr, manager
}

func TestNewManager(t *testing.T) {
	mr, manager := setupTestRedis(t, 0)
	defer mr.Close()
	defer manager.Close()

	assert.NotNil(t, manager.Client())
	assert.True(t, manager.Healthy())
	assert.NoError(t, manager.Ping(context.Background()))
}

func TestNewManager_ConnectionFailed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.MaxRetries = 0

	_, err := NewManager(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestManager_ClientIsShared(t *testing.T) {
	mr, manager := setupTestRedis(t, 0)
	defer mr.Close()
	defer manager.Close()

	ctx := context.Background()
	require.NoError(t, manager.Client().Set(ctx, "flowgraph:probe", "1", 0).Err())

	got, err := mr.Get("flowgraph:probe")
	require.NoError(t, err)
	assert.Equal(t, "1", got)
	assert.NotNil(t, manager.PoolStats())
}

func TestManager_Close(t *testing.T) {
	mr, manager := setupTestRedis(t, 10*time.Millisecond)
	defer mr.Close()

	require.NoError(t, manager.Close())
	assert.False(t, manager.Healthy())
	assert.ErrorIs(t, manager.Ping(context.Background()), ErrClosed)

	// 重复关闭无副作用
	assert.NoError(t, manager.Close())
}

func TestManager_HealthCheck(t *testing.T) {
	mr, manager := setupTestRedis(t, 10*time.Millisecond)
	defer manager.Close()

	mr.Close()
	assert.Eventually(t, func() bool { return !manager.Healthy() }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, mr.Restart())
	assert.Eventually(t, manager.Healthy, 2*time.Second, 10*time.Millisecond)
}

func TestFromRedisConfig(t *testing.T) {
	cfg := FromRedisConfig(config.RedisConfig{Addr: "redis:6379", Password: "secret", DB: 2, MinIdleConns: 1})

	assert.Equal(t, "redis:6379", cfg.Addr)
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, 2, cfg.DB)
	assert.Equal(t, 10, cfg.PoolSize, "zero pool size keeps the default")
	assert.Equal(t, 1, cfg.MinIdleConns)
	assert.Equal(t, 30*time.Second, cfg.HealthCheckInterval)
}
