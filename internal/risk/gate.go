// Package risk validates prospective orders and enforces daily trading discipline.
package risk

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CheckName identifies one of the gate's independent checks.
type CheckName string

const (
	CheckDailyLoss           CheckName = "daily_loss"
	CheckPositionSize        CheckName = "position_size"
	CheckConcurrentPositions CheckName = "concurrent_positions"
	CheckBuyingPower         CheckName = "buying_power"
	CheckSpread              CheckName = "spread"
)

var hundred = decimal.NewFromInt(100)

// AccountReader is the read-only slice of the broker the gate depends on.
type AccountReader interface {
	GetAccountSummary(ctx context.Context) (*interfaces.AccountSummary, error)
	GetPositions(ctx context.Context) ([]interfaces.BrokerPosition, error)
}

// OrderRequest describes a prospective order.
type OrderRequest struct {
	Symbol   string
	Side     interfaces.OrderSide
	Quantity int64
	Price    decimal.Decimal
	// Bid and Ask are zero when the quote is unknown.
	Bid decimal.Decimal
	Ask decimal.Decimal
	// DailyPnL overrides the broker-reported session P&L when set.
	DailyPnL *decimal.Decimal
}

// Value is quantity times price.
func (r OrderRequest) Value() decimal.Decimal {
	return r.Price.Mul(decimal.NewFromInt(r.Quantity))
}

// CheckResult is the outcome of a single check.
type CheckResult struct {
	Name     CheckName `json:"name"`
	Passed   bool      `json:"passed"`
	Skipped  bool      `json:"skipped,omitempty"`
	Critical bool      `json:"critical,omitempty"`
	Message  string    `json:"message"`
}

// Assessment is the combined verdict for one order.
type Assessment struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Approved    bool            `json:"approved"`
	Reason      string          `json:"reason,omitempty"`
	Checks      []CheckResult   `json:"checks"`
	Warnings    []string        `json:"warnings"`
	Suggestions []string        `json:"suggestions"`
	OrderValue  decimal.Decimal `json:"order_value"`
	AssessedAt  time.Time       `json:"assessed_at"`
}

// Failed returns the names of the checks that failed.
func (a *Assessment) Failed() []CheckName {
	var out []CheckName
	for _, c := range a.Checks {
		if !c.Passed && !c.Skipped {
			out = append(out, c.Name)
		}
	}
	return out
}

// Err returns a *RejectionError for a rejected assessment and nil otherwise.
func (a *Assessment) Err() error {
	if a == nil || a.Approved {
		return nil
	}
	return &RejectionError{Assessment: a}
}

// RejectionError is a policy outcome, not a fault. It carries the full assessment.
type RejectionError struct {
	Assessment *Assessment
}

func (e *RejectionError) Error() string {
	return "risk rejected " + e.Assessment.Symbol + ": " + e.Assessment.Reason
}

// GateMetrics tracks gate activity.
type GateMetrics struct {
	mu                sync.RWMutex
	TotalChecks       int64               `json:"total_checks"`
	Approved          int64               `json:"approved"`
	Rejected          int64               `json:"rejected"`
	WarningsIssued    int64               `json:"warnings_issued"`
	RejectionsByCheck map[CheckName]int64 `json:"rejections_by_check"`
}

func newGateMetrics() *GateMetrics {
	return &GateMetrics{RejectionsByCheck: make(map[CheckName]int64)}
}

func (m *GateMetrics) record(a *Assessment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalChecks++
	m.WarningsIssued += int64(len(a.Warnings))
	if a.Approved {
		m.Approved++
		return
	}
	m.Rejected++
	for _, name := range a.Failed() {
		m.RejectionsByCheck[name]++
	}
}

// Snapshot returns a copy safe to read concurrently.
func (m *GateMetrics) Snapshot() GateMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byCheck := make(map[CheckName]int64, len(m.RejectionsByCheck))
	for k, v := range m.RejectionsByCheck {
		byCheck[k] = v
	}
	return GateMetrics{
		TotalChecks:       m.TotalChecks,
		Approved:          m.Approved,
		Rejected:          m.Rejected,
		WarningsIssued:    m.WarningsIssued,
		RejectionsByCheck: byCheck,
	}
}

// Gate validates orders against account-level and order-level limits.
// It never mutates account state.
type Gate struct {
	mu        sync.RWMutex
	config    Config
	listeners []func(Config)
	account   AccountReader
	metrics   *GateMetrics
	logger    *zap.Logger
}

func NewGate(config Config, account AccountReader, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		config:  config,
		account: account,
		metrics: newGateMetrics(),
		logger:  logger,
	}
}

// Config returns the limits currently in force.
func (g *Gate) Config() Config {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.config
}

// OnChange registers fn to receive the full config after every setter call.
// Discipline.ApplyRiskLimits uses it to keep the daily limits in one place.
func (g *Gate) OnChange(fn func(Config)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, fn)
}

func (g *Gate) update(mutate func(*Config)) {
	g.mu.Lock()
	mutate(&g.config)
	cfg := g.config
	listeners := slices.Clone(g.listeners)
	g.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
}

// SetMaxPositionSizePercent caps a single order as a share of net liquidation.
func (g *Gate) SetMaxPositionSizePercent(v decimal.Decimal) {
	g.update(func(c *Config) { c.MaxPositionSizePercent = v })
}

// SetMaxDailyLoss sets the session loss that blocks new orders and halts trading.
func (g *Gate) SetMaxDailyLoss(v decimal.Decimal) {
	g.update(func(c *Config) { c.MaxDailyLoss = v })
}

// SetMaxConcurrentPositions caps the number of open positions.
func (g *Gate) SetMaxConcurrentPositions(n int) {
	g.update(func(c *Config) { c.MaxConcurrentPositions = n })
}

// SetRiskPerTradePercent sets the equity share risked between entry and stop.
func (g *Gate) SetRiskPerTradePercent(v decimal.Decimal) {
	g.update(func(c *Config) { c.RiskPerTradePercent = v })
}

// SetMaxTradesPerDay caps completed trades per session.
func (g *Gate) SetMaxTradesPerDay(n int) {
	g.update(func(c *Config) { c.MaxTradesPerDay = n })
}

// SetMaxConsecutiveLosses sets the losing streak that extends the cooldown.
func (g *Gate) SetMaxConsecutiveLosses(n int) {
	g.update(func(c *Config) { c.MaxConsecutiveLosses = n })
}

// Metrics returns a snapshot of gate activity.
func (g *Gate) Metrics() GateMetrics {
	return g.metrics.Snapshot()
}

// Validate reads the current account and positions and evaluates req.
// An error means the gate could not evaluate at all; callers must treat it
// as a rejection.
func (g *Gate) Validate(ctx context.Context, req OrderRequest) (*Assessment, error) {
	account, err := g.account.GetAccountSummary(ctx)
	if err != nil {
		return nil, fmt.Errorf("risk gate: account summary: %w", err)
	}
	positions, err := g.account.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("risk gate: positions: %w", err)
	}
	return g.Evaluate(req, *account, positions), nil
}

// Evaluate runs every check against the given account state. All checks run
// regardless of earlier failures so the caller sees every violation at once.
func (g *Gate) Evaluate(req OrderRequest, account interfaces.AccountSummary, positions []interfaces.BrokerPosition) *Assessment {
	cfg := g.Config()

	a := &Assessment{
		ID:          uuid.NewString(),
		Symbol:      req.Symbol,
		OrderValue:  req.Value(),
		AssessedAt:  time.Now().UTC(),
		Warnings:    []string{},
		Suggestions: []string{},
	}

	dailyPnL := account.DailyPnL()
	if req.DailyPnL != nil {
		dailyPnL = *req.DailyPnL
	}

	a.Checks = append(a.Checks,
		g.checkDailyLoss(cfg, dailyPnL, a),
		g.checkPositionSize(cfg, req, account.NetLiquidation, a),
		g.checkConcurrentPositions(cfg, req.Symbol, positions),
		g.checkBuyingPower(req, account.BuyingPower, a),
		g.checkSpread(cfg, req),
	)

	var failures []string
	for _, c := range a.Checks {
		if !c.Passed && !c.Skipped {
			failures = append(failures, c.Message)
		}
	}
	a.Approved = len(failures) == 0
	a.Reason = strings.Join(failures, "; ")

	g.metrics.record(a)
	if !a.Approved {
		g.logger.Info("Order rejected by risk gate",
			zap.String("symbol", req.Symbol),
			zap.String("reason", a.Reason))
	} else if len(a.Warnings) > 0 {
		g.logger.Warn("Order approved with warnings",
			zap.String("symbol", req.Symbol),
			zap.Strings("warnings", a.Warnings))
	}
	return a
}

func (g *Gate) warnAt(cfg Config, limit decimal.Decimal) decimal.Decimal {
	return limit.Mul(cfg.WarningThresholdPercent).Div(hundred)
}

func (g *Gate) checkDailyLoss(cfg Config, pnl decimal.Decimal, a *Assessment) CheckResult {
	limit := cfg.MaxDailyLoss.Neg()
	if pnl.LessThanOrEqual(limit) {
		a.Suggestions = append(a.Suggestions, "stop trading for the day")
		return CheckResult{
			Name:     CheckDailyLoss,
			Critical: true,
			Message: fmt.Sprintf("daily loss limit reached: P&L %s <= -%s",
				pnl.StringFixed(2), cfg.MaxDailyLoss.StringFixed(2)),
		}
	}
	if pnl.LessThanOrEqual(g.warnAt(cfg, cfg.MaxDailyLoss).Neg()) {
		a.Warnings = append(a.Warnings, fmt.Sprintf("daily P&L %s is near the daily loss limit of %s",
			pnl.StringFixed(2), cfg.MaxDailyLoss.StringFixed(2)))
	}
	return CheckResult{Name: CheckDailyLoss, Passed: true, Message: "daily loss within limit"}
}

func (g *Gate) checkPositionSize(cfg Config, req OrderRequest, accountValue decimal.Decimal, a *Assessment) CheckResult {
	if !accountValue.IsPositive() {
		return CheckResult{Name: CheckPositionSize, Message: "account value unavailable for position sizing"}
	}
	pct := req.Value().Div(accountValue).Mul(hundred)
	if pct.GreaterThan(cfg.MaxPositionSizePercent) {
		maxQty := accountValue.Mul(cfg.MaxPositionSizePercent).Div(hundred)
		if req.Price.IsPositive() {
			maxQty = maxQty.Div(req.Price).Floor()
		}
		a.Suggestions = append(a.Suggestions, fmt.Sprintf("reduce quantity to %s", maxQty.String()))
		return CheckResult{
			Name: CheckPositionSize,
			Message: fmt.Sprintf("position size %s%% of account exceeds max %s%%",
				pct.StringFixed(2), cfg.MaxPositionSizePercent.String()),
		}
	}
	if pct.GreaterThan(g.warnAt(cfg, cfg.MaxPositionSizePercent)) {
		a.Warnings = append(a.Warnings, fmt.Sprintf("position size %s%% is near the %s%% limit",
			pct.StringFixed(2), cfg.MaxPositionSizePercent.String()))
	}
	return CheckResult{Name: CheckPositionSize, Passed: true, Message: "position size within limit"}
}

func (g *Gate) checkConcurrentPositions(cfg Config, symbol string, positions []interfaces.BrokerPosition) CheckResult {
	open := 0
	for _, p := range positions {
		if p.Quantity == 0 {
			continue
		}
		if p.Symbol == symbol {
			return CheckResult{Name: CheckConcurrentPositions, Passed: true, Message: "adds to an existing position"}
		}
		open++
	}
	if open >= cfg.MaxConcurrentPositions {
		return CheckResult{
			Name:    CheckConcurrentPositions,
			Message: fmt.Sprintf("max concurrent positions reached: %d open, limit %d", open, cfg.MaxConcurrentPositions),
		}
	}
	return CheckResult{Name: CheckConcurrentPositions, Passed: true, Message: "concurrent positions within limit"}
}

func (g *Gate) checkBuyingPower(req OrderRequest, buyingPower decimal.Decimal, a *Assessment) CheckResult {
	value := req.Value()
	if value.GreaterThan(buyingPower) {
		if req.Price.IsPositive() && buyingPower.IsPositive() {
			a.Suggestions = append(a.Suggestions,
				fmt.Sprintf("reduce quantity to %s", buyingPower.Div(req.Price).Floor().String()))
		}
		return CheckResult{
			Name: CheckBuyingPower,
			Message: fmt.Sprintf("insufficient buying power: order %s exceeds available %s",
				value.StringFixed(2), buyingPower.StringFixed(2)),
		}
	}
	return CheckResult{Name: CheckBuyingPower, Passed: true, Message: "buying power sufficient"}
}

func (g *Gate) checkSpread(cfg Config, req OrderRequest) CheckResult {
	if !req.Bid.IsPositive() || !req.Ask.IsPositive() || req.Ask.LessThan(req.Bid) {
		return CheckResult{Name: CheckSpread, Passed: true, Skipped: true, Message: "spread unknown"}
	}
	mid := req.Bid.Add(req.Ask).Div(decimal.NewFromInt(2))
	spread := req.Ask.Sub(req.Bid).Div(mid).Mul(hundred)
	if spread.GreaterThan(cfg.MaxSpreadPercent) {
		return CheckResult{
			Name: CheckSpread,
			Message: fmt.Sprintf("spread %s%% exceeds max %s%%",
				spread.StringFixed(3), cfg.MaxSpreadPercent.String()),
		}
	}
	return CheckResult{Name: CheckSpread, Passed: true, Message: "spread acceptable"}
}

// SuggestQuantity sizes a position so that hitting stop loses at most
// RiskPerTradePercent of accountValue, capped by the position size limit.
func (g *Gate) SuggestQuantity(accountValue, entry, stop decimal.Decimal) int64 {
	cfg := g.Config()
	perShare := entry.Sub(stop).Abs()
	if !accountValue.IsPositive() || !entry.IsPositive() || perShare.IsZero() {
		return 0
	}
	riskBudget := accountValue.Mul(cfg.RiskPerTradePercent).Div(hundred)
	qty := riskBudget.Div(perShare).Floor()

	capQty := accountValue.Mul(cfg.MaxPositionSizePercent).Div(hundred).Div(entry).Floor()
	if qty.GreaterThan(capQty) {
		qty = capQty
	}
	return qty.IntPart()
}
