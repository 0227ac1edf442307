package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DisciplineAction is a state change triggered by a recorded trade.
type DisciplineAction string

const (
	ActionCooldown         DisciplineAction = "cooldown"
	ActionExtendedCooldown DisciplineAction = "extended_cooldown"
	ActionHalted           DisciplineAction = "halted"
)

const (
	HaltMaxWinners       = "max daily winners reached"
	HaltDailyLossLimit   = "daily loss limit reached"
	HaltProfitProtection = "profit protection triggered"
)

// TradingState is the discipline state for one calendar day.
type TradingState struct {
	Date              string          `json:"date"`
	Trades            int             `json:"trades"`
	Wins              int             `json:"wins"`
	Losses            int             `json:"losses"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
	DailyPnL          decimal.Decimal `json:"daily_pnl"`
	DailyHighPnL      decimal.Decimal `json:"daily_high_pnl"`
	CooldownUntil     time.Time       `json:"cooldown_until"`
	ExtendedCooldown  bool            `json:"extended_cooldown"`
	Halted            bool            `json:"halted"`
	HaltReason        string          `json:"halt_reason,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func newTradingState(date string) *TradingState {
	return &TradingState{Date: date}
}

// TradeOutcome reports the state after a trade and what it triggered.
type TradeOutcome struct {
	State   TradingState       `json:"state"`
	Actions []DisciplineAction `json:"actions"`
}

// Verdict answers whether a new entry is allowed right now.
type Verdict struct {
	Allowed           bool          `json:"allowed"`
	Reason            string        `json:"reason,omitempty"`
	CooldownRemaining time.Duration `json:"cooldown_remaining,omitempty"`
}

// StateStore persists the discipline state across restarts.
type StateStore interface {
	// Load returns nil and no error when nothing is stored for date.
	Load(ctx context.Context, date string) (*TradingState, error)
	Save(ctx context.Context, state *TradingState) error
}

// Discipline is a per-calendar-day state machine that halts or cools down
// trading based on outcome patterns.
type Discipline struct {
	mu     sync.Mutex
	config DisciplineConfig
	store  StateStore
	state  *TradingState
	now    func() time.Time
	logger *zap.Logger
}

// NewDiscipline creates an enforcer. A nil store keeps state in memory only.
func NewDiscipline(config DisciplineConfig, store StateStore, logger *zap.Logger) *Discipline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewMemoryStateStore()
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &Discipline{
		config: config,
		store:  store,
		now:    time.Now,
		logger: logger,
	}
}

// SetClock replaces the time source.
func (d *Discipline) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

func (d *Discipline) Config() DisciplineConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config
}

func (d *Discipline) SetConfig(config DisciplineConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if config.Location == nil {
		config.Location = d.config.Location
	}
	d.config = config
}

// ApplyRiskLimits copies the limits the gate and the discipline share.
func (d *Discipline) ApplyRiskLimits(cfg Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config.MaxDailyLoss = cfg.MaxDailyLoss
	d.config.MaxTradesPerDay = cfg.MaxTradesPerDay
	d.config.MaxConsecutiveLosses = cfg.MaxConsecutiveLosses
	d.logger.Info("Discipline limits updated",
		zap.String("max_daily_loss", cfg.MaxDailyLoss.String()),
		zap.Int("max_trades_per_day", cfg.MaxTradesPerDay),
		zap.Int("max_consecutive_losses", cfg.MaxConsecutiveLosses))
}

func (d *Discipline) today() string {
	return d.now().In(d.config.Location).Format("2006-01-02")
}

// current returns today's state, loading it from the store or starting a
// fresh one when the date has rolled over. Callers hold d.mu.
func (d *Discipline) current(ctx context.Context) *TradingState {
	date := d.today()
	if d.state != nil && d.state.Date == date {
		return d.state
	}

	stored, err := d.store.Load(ctx, date)
	if err != nil {
		d.logger.Warn("Failed to load discipline state, starting fresh",
			zap.String("date", date), zap.Error(err))
	}
	if stored != nil && stored.Date == date {
		d.state = stored
	} else {
		if d.state != nil {
			d.logger.Info("New trading day, discipline state reset",
				zap.String("previous_date", d.state.Date), zap.String("date", date))
		}
		d.state = newTradingState(date)
	}
	return d.state
}

func (d *Discipline) persist(ctx context.Context, s *TradingState) {
	s.UpdatedAt = d.now().UTC()
	if err := d.store.Save(ctx, s); err != nil {
		d.logger.Warn("Failed to persist discipline state", zap.Error(err))
	}
}

func (d *Discipline) halt(s *TradingState, reason string) bool {
	if s.Halted {
		return false
	}
	s.Halted = true
	s.HaltReason = reason
	d.logger.Warn("Trading halted", zap.String("reason", reason), zap.String("date", s.Date))
	return true
}

// RecordTrade applies a closed trade's P&L to today's state.
func (d *Discipline) RecordTrade(ctx context.Context, pnl decimal.Decimal) (*TradeOutcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.current(ctx)
	now := d.now()
	var actions []DisciplineAction

	s.Trades++
	s.DailyPnL = s.DailyPnL.Add(pnl)
	if s.DailyPnL.GreaterThan(s.DailyHighPnL) {
		s.DailyHighPnL = s.DailyPnL
	}

	switch {
	case pnl.IsPositive():
		s.Wins++
		s.ConsecutiveLosses = 0
		if s.Wins >= d.config.MaxDailyWinners && d.halt(s, HaltMaxWinners) {
			actions = append(actions, ActionHalted)
		}
	case pnl.IsNegative():
		s.Losses++
		s.ConsecutiveLosses++
		s.CooldownUntil = now.Add(d.config.BaseCooldown)
		s.ExtendedCooldown = false
		if s.ConsecutiveLosses >= d.config.MaxConsecutiveLosses {
			s.CooldownUntil = now.Add(3 * d.config.BaseCooldown)
			s.ExtendedCooldown = true
			actions = append(actions, ActionExtendedCooldown)
			d.logger.Warn("Extended cooldown after consecutive losses",
				zap.Int("consecutive_losses", s.ConsecutiveLosses),
				zap.Time("cooldown_until", s.CooldownUntil))
		} else {
			actions = append(actions, ActionCooldown)
		}
	}

	if d.applyLimits(s) {
		actions = append(actions, ActionHalted)
	}

	d.persist(ctx, s)
	return &TradeOutcome{State: *s, Actions: actions}, nil
}

// SyncDailyPnL replaces today's P&L with the broker-reported figure and
// re-applies the loss and profit-protection limits.
func (d *Discipline) SyncDailyPnL(ctx context.Context, pnl decimal.Decimal) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.current(ctx)
	s.DailyPnL = pnl
	if pnl.GreaterThan(s.DailyHighPnL) {
		s.DailyHighPnL = pnl
	}
	halted := d.applyLimits(s)
	d.persist(ctx, s)
	return halted, nil
}

// applyLimits checks the absolute loss limit and profit protection.
// It reports whether the state transitioned to halted.
func (d *Discipline) applyLimits(s *TradingState) bool {
	if s.DailyPnL.LessThanOrEqual(d.config.MaxDailyLoss.Neg()) {
		return d.halt(s, HaltDailyLossLimit)
	}
	if s.DailyHighPnL.GreaterThan(d.config.ProfitProtectionThreshold) && s.DailyHighPnL.IsPositive() {
		drawdown := s.DailyHighPnL.Sub(s.DailyPnL).Div(s.DailyHighPnL).Mul(hundred)
		if drawdown.GreaterThanOrEqual(d.config.MaxDrawdownPercent) {
			return d.halt(s, fmt.Sprintf("%s: gave back %s%% of peak %s",
				HaltProfitProtection, drawdown.StringFixed(1), s.DailyHighPnL.StringFixed(2)))
		}
	}
	return false
}

// CanTrade reports whether a new entry is allowed.
func (d *Discipline) CanTrade(ctx context.Context) (Verdict, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.current(ctx)
	now := d.now()

	if s.Halted {
		return Verdict{Reason: "trading halted: " + s.HaltReason}, nil
	}
	if now.Before(s.CooldownUntil) {
		remaining := s.CooldownUntil.Sub(now)
		minutes := int(math.Ceil(remaining.Minutes()))
		kind := "cooldown"
		if s.ExtendedCooldown {
			kind = "extended cooldown"
		}
		return Verdict{
			Reason:            fmt.Sprintf("%s active: %d minute(s) remaining", kind, minutes),
			CooldownRemaining: remaining,
		}, nil
	}
	if s.DailyPnL.LessThanOrEqual(d.config.MaxDailyLoss.Neg()) {
		return Verdict{Reason: HaltDailyLossLimit}, nil
	}
	if d.config.MaxTradesPerDay > 0 && s.Trades >= d.config.MaxTradesPerDay {
		return Verdict{Reason: fmt.Sprintf("max trades per day reached (%d)", d.config.MaxTradesPerDay)}, nil
	}
	return Verdict{Allowed: true}, nil
}

// State returns a copy of today's state.
func (d *Discipline) State(ctx context.Context) TradingState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return *d.current(ctx)
}

// Reset clears today's state.
func (d *Discipline) Reset(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = newTradingState(d.today())
	return d.store.Save(ctx, d.state)
}
