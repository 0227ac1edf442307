// Package strategy holds the signal evaluators and the majority-vote aggregator.
package strategy

import (
	"time"

	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
)

// Action is the direction a signal recommends.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Side maps the action onto an order side.
func (a Action) Side() interfaces.OrderSide {
	if a == ActionSell {
		return interfaces.OrderSideSell
	}
	return interfaces.OrderSideBuy
}

// Signal is the verdict of a single evaluator for one symbol.
type Signal struct {
	Strategy   string    `json:"strategy"`
	Symbol     string    `json:"symbol"`
	Action     Action    `json:"action"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
	StopLoss   *float64  `json:"stop_loss,omitempty"`
	TakeProfit *float64  `json:"take_profit,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// AggregatedDecision is the majority view across all evaluators for one symbol.
type AggregatedDecision struct {
	Symbol        string   `json:"symbol"`
	Action        Action   `json:"action"`
	Confidence    float64  `json:"confidence"`
	AgreeingCount int      `json:"agreeing_count"`
	Strategies    []string `json:"strategies"`
	Reasoning     string   `json:"reasoning"`
	// Price is the last close the evaluators saw.
	Price float64 `json:"price"`
}

func newSignal(name, symbol string, action Action, confidence float64, reason string) *Signal {
	return &Signal{
		Strategy:   name,
		Symbol:     symbol,
		Action:     action,
		Confidence: clamp(confidence, 0, 1),
		Reason:     reason,
		Timestamp:  time.Now().UTC(),
	}
}

func (s *Signal) withLevels(stop, target float64) *Signal {
	if stop > 0 {
		s.StopLoss = &stop
	}
	if target > 0 {
		s.TakeProfit = &target
	}
	return s
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
