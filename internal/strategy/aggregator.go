package strategy

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
	"go.uber.org/zap"
)

// maxReasons bounds how many evaluator reasons are carried into a decision.
const maxReasons = 3

// Aggregate combines signals for one symbol by simple majority. The side with
// strictly more signals wins and its mean confidence becomes the decision
// confidence. Ties and empty input yield nil (HOLD).
func Aggregate(symbol string, signals []*Signal) *AggregatedDecision {
	var buys, sells []*Signal
	for _, s := range signals {
		if s == nil {
			continue
		}
		switch s.Action {
		case ActionBuy:
			buys = append(buys, s)
		case ActionSell:
			sells = append(sells, s)
		}
	}

	var winners []*Signal
	var action Action
	switch {
	case len(buys) > len(sells):
		winners, action = buys, ActionBuy
	case len(sells) > len(buys):
		winners, action = sells, ActionSell
	default:
		return nil
	}

	total := 0.0
	names := make([]string, 0, len(winners))
	reasons := make([]string, 0, maxReasons)
	for _, s := range winners {
		total += s.Confidence
		names = append(names, s.Strategy)
		if len(reasons) < maxReasons {
			reasons = append(reasons, fmt.Sprintf("%s: %s", s.Strategy, s.Reason))
		}
	}

	return &AggregatedDecision{
		Symbol:        symbol,
		Action:        action,
		Confidence:    total / float64(len(winners)),
		AgreeingCount: len(winners),
		Strategies:    names,
		Reasoning:     strings.Join(reasons, "; "),
	}
}

// Rank orders decisions by agreeing count then confidence, both descending,
// and truncates to limit. Symbol breaks remaining ties so ordering is stable.
func Rank(decisions []*AggregatedDecision, limit int) []*AggregatedDecision {
	ranked := make([]*AggregatedDecision, 0, len(decisions))
	for _, d := range decisions {
		if d != nil {
			ranked = append(ranked, d)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.AgreeingCount != b.AgreeingCount {
			return a.AgreeingCount > b.AgreeingCount
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.Symbol < b.Symbol
	})
	if limit >= 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// Aggregator runs the enabled evaluators of a registry against one symbol.
type Aggregator struct {
	registry *Registry
	logger   *zap.Logger
}

func NewAggregator(registry *Registry, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{registry: registry, logger: logger}
}

// Registry returns the evaluator registry.
func (a *Aggregator) Registry() *Registry {
	return a.registry
}

// Analyze evaluates bars with every enabled evaluator and aggregates the result.
// A panicking evaluator is logged and treated as having no signal.
func (a *Aggregator) Analyze(symbol string, bars []interfaces.Bar, enabled []string) (*AggregatedDecision, []*Signal) {
	if len(bars) == 0 {
		return nil, nil
	}

	evaluators := a.registry.Select(enabled)
	results := make([]*Signal, len(evaluators))

	var wg sync.WaitGroup
	for i, e := range evaluators {
		wg.Add(1)
		go func(i int, e Evaluator) {
			defer wg.Done()
			results[i] = a.evaluate(e, symbol, bars)
		}(i, e)
	}
	wg.Wait()

	signals := make([]*Signal, 0, len(results))
	for _, s := range results {
		if s != nil {
			signals = append(signals, s)
		}
	}

	decision := Aggregate(symbol, signals)
	if decision != nil {
		decision.Price = bars[len(bars)-1].Close
	}
	return decision, signals
}

func (a *Aggregator) evaluate(e Evaluator, symbol string, bars []interfaces.Bar) (sig *Signal) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Evaluator panicked",
				zap.String("strategy", e.Name()),
				zap.String("symbol", symbol),
				zap.Any("panic", r))
			sig = nil
		}
	}()

	sig = e.Evaluate(symbol, bars)
	if sig != nil {
		sig.Strategy = e.Name()
		sig.Symbol = symbol
	}
	return sig
}
