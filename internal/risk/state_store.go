package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	disciplineStateKey = "discipline:state:%s"
	disciplineStateTTL = 48 * time.Hour
)

// RedisStateStore keeps one JSON document per trading day.
type RedisStateStore struct {
	redis *redis.Client
}

func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{redis: client}
}

func (r *RedisStateStore) Load(ctx context.Context, date string) (*TradingState, error) {
	raw, err := r.redis.Get(ctx, fmt.Sprintf(disciplineStateKey, date)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var state TradingState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("corrupt discipline state for %s: %w", date, err)
	}
	return &state, nil
}

func (r *RedisStateStore) Save(ctx context.Context, state *TradingState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return r.redis.Set(ctx, fmt.Sprintf(disciplineStateKey, state.Date), raw, disciplineStateTTL).Err()
}

// MemoryStateStore is the in-process fallback used when Redis is unavailable.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]TradingState
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]TradingState)}
}

func (m *MemoryStateStore) Load(_ context.Context, date string) (*TradingState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[date]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemoryStateStore) Save(_ context.Context, state *TradingState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.Date] = *state
	return nil
}
