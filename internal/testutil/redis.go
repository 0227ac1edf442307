// Package testutil holds shared test helpers and in-memory fakes of the
// market data and broker ports.
package testutil

import (
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// GetTestRedisOptions returns options for a real Redis, configurable through
// REDIS_TEST_ADDR, for integration runs.
func GetTestRedisOptions() *redis.Options {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	return &redis.Options{Addr: addr, DB: 1}
}

// NewTestRedis starts a miniredis server and a client bound to it, both
// closed when the test ends. The test is skipped if the server cannot bind.
func NewTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Skip("miniredis cannot bind in this environment; skipping Redis-backed tests")
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return client, mr
}
