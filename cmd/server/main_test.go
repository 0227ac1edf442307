package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/irfndi/neuratrade-intraday/internal/config"
	"github.com/irfndi/neuratrade-intraday/internal/database"
	"github.com/irfndi/neuratrade-intraday/internal/engine"
	"github.com/irfndi/neuratrade-intraday/internal/logging"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("ENGINE_STATE_FILE", filepath.Join(t.TempDir(), "engine_state.json"))
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestConnectRedis_Disabled(t *testing.T) {
	cfg := config.RedisConfig{Enabled: false}
	assert.Nil(t, connectRedis(context.Background(), cfg, zap.NewNop()))
}

func TestBuildEngine_InMemory(t *testing.T) {
	cfg := loadTestConfig(t)

	sched, broker, err := buildEngine(cfg, nil, logging.NewStandardLogger("error", "test"))
	require.NoError(t, err)
	require.NotNil(t, broker)
	assert.False(t, sched.Running())
	assert.False(t, sched.Config().Enabled)
	assert.Equal(t, cfg.Engine.MaxPositions, sched.Config().MaxPositions)
}

func TestBuildEngine_WithRedis(t *testing.T) {
	cfg := loadTestConfig(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sched, _, err := buildEngine(cfg, database.NewRedisClient(client, zap.NewNop()), logging.NewStandardLogger("error", "test"))
	require.NoError(t, err)
	assert.Equal(t, engine.ModeAssisted, sched.Config().Mode)
	assert.Empty(t, mr.Keys(), "nothing is written before the engine starts")
}
