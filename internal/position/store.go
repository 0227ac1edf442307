package position

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

const planHashKey = "position:scale_plans"

// PlanStore persists scale plans so position management survives a restart.
type PlanStore interface {
	Save(ctx context.Context, plan PersistedPlan) error
	Delete(ctx context.Context, symbol string) error
	// LoadAll returns every readable plan. Unreadable entries are reported in
	// the error alongside the plans that did load.
	LoadAll(ctx context.Context) ([]PersistedPlan, error)
}

// RedisPlanStore keeps one hash field per symbol.
type RedisPlanStore struct {
	redis *redis.Client
}

func NewRedisPlanStore(client *redis.Client) *RedisPlanStore {
	return &RedisPlanStore{redis: client}
}

func (r *RedisPlanStore) Save(ctx context.Context, plan PersistedPlan) error {
	raw, err := json.Marshal(plan)
	if err != nil {
		return err
	}
	return r.redis.HSet(ctx, planHashKey, plan.Symbol, raw).Err()
}

func (r *RedisPlanStore) Delete(ctx context.Context, symbol string) error {
	return r.redis.HDel(ctx, planHashKey, symbol).Err()
}

func (r *RedisPlanStore) LoadAll(ctx context.Context) ([]PersistedPlan, error) {
	fields, err := r.redis.HGetAll(ctx, planHashKey).Result()
	if err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(fields))
	for s := range fields {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	plans := make([]PersistedPlan, 0, len(symbols))
	var errs []error
	for _, s := range symbols {
		var p PersistedPlan
		if err := json.Unmarshal([]byte(fields[s]), &p); err != nil {
			errs = append(errs, fmt.Errorf("corrupt scale plan for %s: %w", s, err))
			continue
		}
		plans = append(plans, p)
	}
	return plans, errors.Join(errs...)
}

// MemoryPlanStore is the in-process fallback used when Redis is unavailable.
type MemoryPlanStore struct {
	mu    sync.RWMutex
	plans map[string]PersistedPlan
}

func NewMemoryPlanStore() *MemoryPlanStore {
	return &MemoryPlanStore{plans: make(map[string]PersistedPlan)}
}

func (m *MemoryPlanStore) Save(_ context.Context, plan PersistedPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[plan.Symbol] = plan
	return nil
}

func (m *MemoryPlanStore) Delete(_ context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.plans, symbol)
	return nil
}

func (m *MemoryPlanStore) LoadAll(_ context.Context) ([]PersistedPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PersistedPlan, 0, len(m.plans))
	for _, p := range m.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}
