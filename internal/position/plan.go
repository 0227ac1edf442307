// Package position builds and evolves volatility-scaled stop and scale-out
// ladders for open positions.
package position

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/irfndi/neuratrade-intraday/internal/config"
	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
	"github.com/shopspring/decimal"
)

// ActionScaleOut is the only action a ladder level currently performs.
const ActionScaleOut = "scale_out"

var ErrInvalidPlan = errors.New("invalid scale plan")

// LadderConfig sizes the initial stop and the reward milestones.
type LadderConfig struct {
	StopMultiplier decimal.Decimal
	// RMultiples must be ascending. Fractions share the same length; the last
	// level always takes whatever quantity the earlier levels left.
	RMultiples []decimal.Decimal
	Fractions  []decimal.Decimal
}

// DefaultLadderConfig is 50% at 1R, 25% at 2R and the remainder at 3R with a 2 ATR stop.
func DefaultLadderConfig() LadderConfig {
	return LadderConfig{
		StopMultiplier: decimal.NewFromInt(2),
		RMultiples:     []decimal.Decimal{decimal.NewFromInt(1), decimal.NewFromInt(2), decimal.NewFromInt(3)},
		Fractions:      []decimal.Decimal{decimal.NewFromFloat(0.5), decimal.NewFromFloat(0.25), decimal.NewFromFloat(0.25)},
	}
}

// LadderConfigFromSettings converts loaded settings.
func LadderConfigFromSettings(s config.PositionConfig) LadderConfig {
	cfg := LadderConfig{StopMultiplier: decimal.NewFromFloat(s.StopMultiplier)}
	for _, r := range s.LadderRMultiple {
		cfg.RMultiples = append(cfg.RMultiples, decimal.NewFromFloat(r))
	}
	for _, f := range s.LadderFractions {
		cfg.Fractions = append(cfg.Fractions, decimal.NewFromFloat(f))
	}
	return cfg
}

func (c LadderConfig) validate() error {
	if !c.StopMultiplier.IsPositive() {
		return fmt.Errorf("%w: stop multiplier must be positive", ErrInvalidPlan)
	}
	if len(c.RMultiples) == 0 || len(c.RMultiples) != len(c.Fractions) {
		return fmt.Errorf("%w: ladder needs matching r-multiples and fractions", ErrInvalidPlan)
	}
	sum := decimal.Zero
	for i, r := range c.RMultiples {
		if !r.IsPositive() || (i > 0 && !r.GreaterThan(c.RMultiples[i-1])) {
			return fmt.Errorf("%w: r-multiples must be positive and ascending", ErrInvalidPlan)
		}
		if c.Fractions[i].IsNegative() {
			return fmt.Errorf("%w: negative ladder fraction", ErrInvalidPlan)
		}
		sum = sum.Add(c.Fractions[i])
	}
	if sum.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: ladder fractions sum to %s", ErrInvalidPlan, sum.String())
	}
	return nil
}

// ScaleLevel is one rung of the scale-out ladder.
type ScaleLevel struct {
	RMultiple decimal.Decimal `json:"r_multiple"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
	Executed  bool            `json:"executed"`
	Action    string          `json:"action"`
}

// ScaleAction is emitted when a level is reached.
type ScaleAction struct {
	Symbol   string               `json:"symbol"`
	Level    int                  `json:"level"`
	Action   string               `json:"action"`
	Side     interfaces.OrderSide `json:"side"`
	Price    decimal.Decimal      `json:"price"`
	Quantity int64                `json:"quantity"`
	// StopMoved is set when this level moved the stop to breakeven.
	StopMoved bool `json:"stop_moved,omitempty"`
	// TrailingActivated is set when this level switched on trailing.
	TrailingActivated bool `json:"trailing_activated,omitempty"`
}

// ScalePlan tracks a single position's stop and ladder. It is not safe for
// concurrent use; Manager serializes access.
type ScalePlan struct {
	ID                 string
	Symbol             string
	Side               interfaces.OrderSide
	EntryPrice         decimal.Decimal
	TotalQuantity      int64
	RemainingQuantity  int64
	Levels             []ScaleLevel
	CurrentStop        decimal.Decimal
	OriginalStop       decimal.Decimal
	BreakevenActivated bool
	TrailingActivated  bool
	CreatedAt          time.Time
}

// NewScalePlan computes the ATR stop and the ladder for a new entry.
// Side is the entry side: BUY for longs, SELL for shorts.
func NewScalePlan(symbol string, side interfaces.OrderSide, entry decimal.Decimal, quantity int64, atr decimal.Decimal, cfg LadderConfig) (*ScalePlan, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidPlan)
	}
	if !entry.IsPositive() || !atr.IsPositive() {
		return nil, fmt.Errorf("%w: entry and atr must be positive", ErrInvalidPlan)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	risk := atr.Mul(cfg.StopMultiplier)
	dir := direction(side)

	stop := entry.Sub(risk.Mul(dir))
	if !stop.IsPositive() {
		return nil, fmt.Errorf("%w: stop %s is not a valid price", ErrInvalidPlan, stop.String())
	}

	p := &ScalePlan{
		ID:                uuid.NewString(),
		Symbol:            symbol,
		Side:              side,
		EntryPrice:        entry,
		TotalQuantity:     quantity,
		RemainingQuantity: quantity,
		CurrentStop:       stop,
		OriginalStop:      stop,
		CreatedAt:         time.Now().UTC(),
	}

	total := decimal.NewFromInt(quantity)
	var allocated int64
	last := len(cfg.RMultiples) - 1
	for i, r := range cfg.RMultiples {
		qty := total.Mul(cfg.Fractions[i]).Floor().IntPart()
		if i == last {
			qty = quantity - allocated
		}
		allocated += qty
		p.Levels = append(p.Levels, ScaleLevel{
			RMultiple: r,
			Price:     entry.Add(risk.Mul(r).Mul(dir)),
			Quantity:  qty,
			Action:    ActionScaleOut,
		})
	}
	return p, nil
}

func direction(side interfaces.OrderSide) decimal.Decimal {
	if side == interfaces.OrderSideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

func (p *ScalePlan) isLong() bool { return p.Side != interfaces.OrderSideSell }

// favorable reports whether a is strictly better than b for this position's direction.
func (p *ScalePlan) favorable(a, b decimal.Decimal) bool {
	if p.isLong() {
		return a.GreaterThan(b)
	}
	return a.LessThan(b)
}

func (p *ScalePlan) reached(price, level decimal.Decimal) bool {
	if p.isLong() {
		return price.GreaterThanOrEqual(level)
	}
	return price.LessThanOrEqual(level)
}

// ExecutedQuantity sums the quantities of executed levels.
func (p *ScalePlan) ExecutedQuantity() int64 {
	var n int64
	for _, l := range p.Levels {
		if l.Executed {
			n += l.Quantity
		}
	}
	return n
}

// Closed reports whether the ladder has scaled out the whole position.
func (p *ScalePlan) Closed() bool { return p.RemainingQuantity <= 0 }

// RiskUnit is the distance from entry to the original stop.
func (p *ScalePlan) RiskUnit() decimal.Decimal {
	return p.EntryPrice.Sub(p.OriginalStop).Abs()
}

// StopHit reports whether price has crossed the current stop.
func (p *ScalePlan) StopHit(price decimal.Decimal) bool {
	if p.isLong() {
		return price.LessThanOrEqual(p.CurrentStop)
	}
	return price.GreaterThanOrEqual(p.CurrentStop)
}

// PendingLevels reports every unexecuted level the price has reached, in
// ascending order, without changing the plan. The flags on each action say
// what committing it would do to the stop.
func (p *ScalePlan) PendingLevels(price decimal.Decimal) []ScaleAction {
	var actions []ScaleAction
	for i, level := range p.Levels {
		if level.Executed {
			continue
		}
		if !p.reached(price, level.Price) {
			break
		}
		action := p.action(i)
		if i == 0 && !p.BreakevenActivated {
			action.StopMoved = p.favorable(p.EntryPrice, p.CurrentStop)
		}
		if i == 1 && !p.TrailingActivated {
			action.TrailingActivated = true
		}
		actions = append(actions, action)
	}
	return actions
}

func (p *ScalePlan) action(i int) ScaleAction {
	level := p.Levels[i]
	return ScaleAction{
		Symbol:   p.Symbol,
		Level:    i,
		Action:   level.Action,
		Side:     p.Side.Opposite(),
		Price:    level.Price,
		Quantity: level.Quantity,
	}
}

// CommitLevel marks level i executed once its order has gone out. The first
// level moves the stop to breakeven and the second switches on trailing, each
// at most once. It returns false for an unknown or already executed level.
func (p *ScalePlan) CommitLevel(i int) (ScaleAction, bool) {
	if i < 0 || i >= len(p.Levels) || p.Levels[i].Executed {
		return ScaleAction{}, false
	}
	level := &p.Levels[i]
	level.Executed = true
	p.RemainingQuantity -= level.Quantity

	action := p.action(i)
	if i == 0 && !p.BreakevenActivated {
		p.BreakevenActivated = true
		if p.favorable(p.EntryPrice, p.CurrentStop) {
			p.CurrentStop = p.EntryPrice
			action.StopMoved = true
		}
	}
	if i == 1 && !p.TrailingActivated {
		p.TrailingActivated = true
		action.TrailingActivated = true
	}
	return action, true
}

// CheckScaleLevels commits every level the price has reached.
func (p *ScalePlan) CheckScaleLevels(price decimal.Decimal) []ScaleAction {
	var actions []ScaleAction
	for _, pending := range p.PendingLevels(price) {
		if a, ok := p.CommitLevel(pending.Level); ok {
			actions = append(actions, a)
		}
	}
	return actions
}

// UpdateTrailingStop moves the stop to price minus atr×multiplier (plus, for
// shorts) when trailing is active and the new stop is strictly better. It
// returns the stop in force and whether it changed.
func (p *ScalePlan) UpdateTrailingStop(price, atr, multiplier decimal.Decimal) (decimal.Decimal, bool) {
	if !p.TrailingActivated {
		return p.CurrentStop, false
	}
	distance := atr.Mul(multiplier)
	candidate := price.Sub(distance)
	if !p.isLong() {
		candidate = price.Add(distance)
	}
	if !p.favorable(candidate, p.CurrentStop) {
		return p.CurrentStop, false
	}
	p.CurrentStop = candidate
	return candidate, true
}

// PersistedPlan is the restart-safe form of a ScalePlan.
type PersistedPlan struct {
	ID                 string               `json:"id"`
	Symbol             string               `json:"symbol"`
	Side               interfaces.OrderSide `json:"side"`
	EntryPrice         decimal.Decimal      `json:"entry_price"`
	TotalQuantity      int64                `json:"total_quantity"`
	RemainingQuantity  int64                `json:"remaining_quantity"`
	Levels             []ScaleLevel         `json:"levels"`
	CurrentStop        decimal.Decimal      `json:"current_stop"`
	OriginalStop       decimal.Decimal      `json:"original_stop"`
	BreakevenActivated bool                 `json:"breakeven_activated"`
	TrailingActivated  bool                 `json:"trailing_activated"`
	CreatedAt          time.Time            `json:"created_at"`
}

// Persisted snapshots the plan.
func (p *ScalePlan) Persisted() PersistedPlan {
	levels := make([]ScaleLevel, len(p.Levels))
	copy(levels, p.Levels)
	return PersistedPlan{
		ID:                 p.ID,
		Symbol:             p.Symbol,
		Side:               p.Side,
		EntryPrice:         p.EntryPrice,
		TotalQuantity:      p.TotalQuantity,
		RemainingQuantity:  p.RemainingQuantity,
		Levels:             levels,
		CurrentStop:        p.CurrentStop,
		OriginalStop:       p.OriginalStop,
		BreakevenActivated: p.BreakevenActivated,
		TrailingActivated:  p.TrailingActivated,
		CreatedAt:          p.CreatedAt,
	}
}

// RestoreScalePlan rebuilds a plan from its persisted form. The remaining
// quantity is recomputed from the executed flags rather than trusted.
func RestoreScalePlan(s PersistedPlan) (*ScalePlan, error) {
	if s.Symbol == "" || s.TotalQuantity <= 0 {
		return nil, fmt.Errorf("%w: persisted plan missing symbol or quantity", ErrInvalidPlan)
	}
	var planned int64
	for _, l := range s.Levels {
		if l.Quantity < 0 {
			return nil, fmt.Errorf("%w: negative level quantity", ErrInvalidPlan)
		}
		planned += l.Quantity
	}
	if planned > s.TotalQuantity {
		return nil, fmt.Errorf("%w: levels allocate %d of %d shares", ErrInvalidPlan, planned, s.TotalQuantity)
	}

	levels := make([]ScaleLevel, len(s.Levels))
	copy(levels, s.Levels)
	side := s.Side
	if side == "" {
		side = interfaces.OrderSideBuy
	}
	id := s.ID
	if id == "" {
		id = uuid.NewString()
	}
	p := &ScalePlan{
		ID:                 id,
		Symbol:             s.Symbol,
		Side:               side,
		EntryPrice:         s.EntryPrice,
		TotalQuantity:      s.TotalQuantity,
		Levels:             levels,
		CurrentStop:        s.CurrentStop,
		OriginalStop:       s.OriginalStop,
		BreakevenActivated: s.BreakevenActivated,
		TrailingActivated:  s.TrailingActivated,
		CreatedAt:          s.CreatedAt,
	}
	p.RemainingQuantity = p.TotalQuantity - p.ExecutedQuantity()
	return p, nil
}
