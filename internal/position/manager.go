package position

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Update is the result of feeding one price to a plan.
type Update struct {
	Symbol       string          `json:"symbol"`
	ScaleActions []ScaleAction   `json:"scale_actions,omitempty"`
	Stop         decimal.Decimal `json:"stop"`
	StopRaised   bool            `json:"stop_raised,omitempty"`
	StopHit      bool            `json:"stop_hit,omitempty"`
	// Remaining is the quantity left once every pending level is filled.
	Remaining int64 `json:"remaining"`
	// CloseSide is the order side that reduces the position.
	CloseSide interfaces.OrderSide `json:"close_side"`
}

// Manager owns the scale plans of all open positions.
type Manager struct {
	mu              sync.Mutex
	plans           map[string]*ScalePlan
	ladder          LadderConfig
	trailMultiplier decimal.Decimal
	store           PlanStore
	logger          *zap.Logger
}

// NewManager creates a manager. A nil store keeps plans in memory only.
func NewManager(ladder LadderConfig, trailMultiplier decimal.Decimal, store PlanStore, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewMemoryPlanStore()
	}
	return &Manager{
		plans:           make(map[string]*ScalePlan),
		ladder:          ladder,
		trailMultiplier: trailMultiplier,
		store:           store,
		logger:          logger,
	}
}

func (m *Manager) save(ctx context.Context, p *ScalePlan) {
	if err := m.store.Save(ctx, p.Persisted()); err != nil {
		m.logger.Warn("Failed to persist scale plan",
			zap.String("symbol", p.Symbol), zap.Error(err))
	}
}

// Open builds a plan for a new entry, replacing any plan for the symbol.
func (m *Manager) Open(ctx context.Context, symbol string, side interfaces.OrderSide, entry decimal.Decimal, quantity int64, atr decimal.Decimal) (PersistedPlan, error) {
	p, err := NewScalePlan(symbol, side, entry, quantity, atr, m.ladder)
	if err != nil {
		return PersistedPlan{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[symbol] = p
	m.save(ctx, p)

	m.logger.Info("Scale plan opened",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("entry", entry.String()),
		zap.String("stop", p.CurrentStop.String()),
		zap.Int64("quantity", quantity))
	return p.Persisted(), nil
}

// Get returns a snapshot of the symbol's plan.
func (m *Manager) Get(symbol string) (PersistedPlan, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[symbol]
	if !ok {
		return PersistedPlan{}, false
	}
	return p.Persisted(), true
}

// Symbols lists symbols with an active plan.
func (m *Manager) Symbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.plans))
	for s := range m.plans {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// OnPrice reports the ladder levels price has reached, moves the trailing
// stop and checks it. Reached levels stay pending until CommitScale records
// that their order went out, so a failed order is retried on the next price.
func (m *Manager) OnPrice(ctx context.Context, symbol string, price, atr decimal.Decimal) (*Update, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.plans[symbol]
	if !ok {
		return nil, fmt.Errorf("no scale plan for %s", symbol)
	}

	u := &Update{Symbol: symbol, CloseSide: p.Side.Opposite()}
	u.ScaleActions = p.PendingLevels(price)
	if atr.IsPositive() {
		_, u.StopRaised = p.UpdateTrailingStop(price, atr, m.trailMultiplier)
	}
	u.Stop = p.CurrentStop
	u.StopHit = p.StopHit(price)
	u.Remaining = p.RemainingQuantity
	for _, a := range u.ScaleActions {
		u.Remaining -= a.Quantity
	}

	if u.StopRaised {
		m.save(ctx, p)
	}
	return u, nil
}

// CommitScale marks a ladder level executed after its exit order was
// accepted. A plan with nothing left to scale out is removed.
func (m *Manager) CommitScale(ctx context.Context, symbol string, level int) (PersistedPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.plans[symbol]
	if !ok {
		return PersistedPlan{}, fmt.Errorf("no scale plan for %s", symbol)
	}
	a, ok := p.CommitLevel(level)
	if !ok {
		return p.Persisted(), fmt.Errorf("%s level %d is not pending", symbol, level)
	}
	m.logger.Info("Scale level executed",
		zap.String("symbol", symbol),
		zap.Int("level", a.Level),
		zap.Int64("quantity", a.Quantity),
		zap.Bool("stop_moved", a.StopMoved),
		zap.Bool("trailing_activated", a.TrailingActivated))

	if p.Closed() {
		delete(m.plans, symbol)
		if err := m.store.Delete(ctx, symbol); err != nil {
			m.logger.Warn("Failed to delete scale plan", zap.String("symbol", symbol), zap.Error(err))
		}
		return p.Persisted(), nil
	}
	m.save(ctx, p)
	return p.Persisted(), nil
}

// Close drops the plan for symbol.
func (m *Manager) Close(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.plans, symbol)
	return m.store.Delete(ctx, symbol)
}

// Reconcile drops plans for symbols the broker no longer reports as held.
func (m *Manager) Reconcile(ctx context.Context, held map[string]bool) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var dropped []string
	for s := range m.plans {
		if held[s] {
			continue
		}
		delete(m.plans, s)
		if err := m.store.Delete(ctx, s); err != nil {
			m.logger.Warn("Failed to delete scale plan", zap.String("symbol", s), zap.Error(err))
		}
		dropped = append(dropped, s)
	}
	sort.Strings(dropped)
	return dropped
}

// Restore loads persisted plans. Unreadable or inconsistent plans are skipped
// with a warning and the rest are restored.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	persisted, err := m.store.LoadAll(ctx)
	if err != nil {
		if persisted == nil {
			return 0, fmt.Errorf("load scale plans: %w", err)
		}
		m.logger.Warn("Some scale plans could not be read", zap.Error(err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	restored := 0
	for _, s := range persisted {
		p, err := RestoreScalePlan(s)
		if err != nil {
			m.logger.Warn("Skipping invalid scale plan", zap.String("symbol", s.Symbol), zap.Error(err))
			continue
		}
		m.plans[p.Symbol] = p
		restored++
	}
	if restored > 0 {
		m.logger.Info("Scale plans restored", zap.Int("count", restored))
	}
	return restored, nil
}
