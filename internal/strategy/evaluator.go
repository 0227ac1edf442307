package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
)

// Evaluator inspects recent bars for one symbol and returns a signal, or nil
// when it has no opinion. Implementations must not touch engine state.
type Evaluator interface {
	Name() string
	Evaluate(symbol string, bars []interfaces.Bar) *Signal
}

// Registry maps evaluator names to instances.
type Registry struct {
	mu         sync.RWMutex
	evaluators map[string]Evaluator
}

func NewRegistry() *Registry {
	return &Registry{evaluators: make(map[string]Evaluator)}
}

// Register adds e. Registering the same name twice is an error.
func (r *Registry) Register(e Evaluator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := e.Name()
	if name == "" {
		return fmt.Errorf("evaluator name cannot be empty")
	}
	if _, exists := r.evaluators[name]; exists {
		return fmt.Errorf("evaluator %q already registered", name)
	}
	r.evaluators[name] = e
	return nil
}

func (r *Registry) Get(name string) (Evaluator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.evaluators[name]
	return e, ok
}

// Names returns all registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.evaluators))
	for name := range r.evaluators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select returns the evaluators named in enabled, in sorted order.
// An empty enabled set selects every evaluator. Unknown names are ignored.
func (r *Registry) Select(enabled []string) []Evaluator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	if len(enabled) == 0 {
		for name := range r.evaluators {
			names = append(names, name)
		}
	} else {
		for _, name := range enabled {
			if _, ok := r.evaluators[name]; ok {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)

	out := make([]Evaluator, 0, len(names))
	for i, name := range names {
		if i > 0 && names[i-1] == name {
			continue
		}
		out = append(out, r.evaluators[name])
	}
	return out
}

// DefaultRegistry returns a registry holding every built-in evaluator with
// its default parameters. It panics if two built-ins share a name.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, e := range []Evaluator{
		NewSmaCrossover(9, 21),
		NewEmaTrend(8, 21),
		NewMacdCrossover(12, 26, 9),
		NewRsiReversal(14, 30, 70),
		NewBollingerReversion(20),
		NewVwapReversion(1.5),
		NewRangeBreakout(20),
		NewVolumeBreakout(20, 2.0),
		NewOpeningRangeBreakout(30),
		NewPowerHourMomentum(0.3),
		NewBullishEngulfing(),
		NewBearishEngulfing(),
		NewHammerReversal(),
		NewGapAndGo(2.0),
	} {
		if err := r.Register(e); err != nil {
			panic(fmt.Sprintf("strategy: built-in registry: %v", err))
		}
	}
	return r
}
