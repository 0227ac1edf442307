package engine

import (
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/irfndi/neuratrade-intraday/internal/scanner"
	"github.com/irfndi/neuratrade-intraday/internal/strategy"
)

const (
	maxDecisions      = 100
	maxScannerResults = 50
)

type DecisionType string

const (
	DecisionScan   DecisionType = "SCAN"
	DecisionTrade  DecisionType = "TRADE"
	DecisionClose  DecisionType = "CLOSE"
	DecisionError  DecisionType = "ERROR"
	DecisionSystem DecisionType = "SYSTEM"
)

// Decision is one entry of the engine decision log.
type Decision struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      DecisionType           `json:"type"`
	Message   string                 `json:"message"`
	Status    string                 `json:"status,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Phase is what the scan loop is doing right now.
type Phase string

const (
	PhaseIdle      Phase = "IDLE"
	PhaseScanning  Phase = "SCANNING"
	PhaseAnalyzing Phase = "ANALYZING"
	PhaseRanking   Phase = "RANKING"
	PhaseExecuting Phase = "EXECUTING"
	PhaseSleeping  Phase = "SLEEPING"
)

// StrategyStats counts what one evaluator contributed. The counters are for
// observability and never weight the vote.
type StrategyStats struct {
	Signals     int64   `json:"signals"`
	Agreements  int64   `json:"agreements"`
	Trades      int64   `json:"trades"`
	Wins        int64   `json:"wins"`
	Losses      int64   `json:"losses"`
	RealizedPnL float64 `json:"realized_pnl"`
}

func (s StrategyStats) WinRate() float64 {
	closed := s.Wins + s.Losses
	if closed == 0 {
		return 0
	}
	return float64(s.Wins) / float64(closed)
}

type atrEntry struct {
	value float64
	at    time.Time
}

// openTrade tracks a round trip from entry until the position is flat. A
// closed trade stays behind until the broker reports the symbol flat so late
// fills are not counted as a new round trip.
type openTrade struct {
	strategies []string
	realized   float64
	closed     bool
}

// PendingExit is an exit order the broker accepted but has not yet reflected
// in the position. Held is the absolute quantity when it was submitted.
type PendingExit struct {
	OrderID string    `json:"order_id"`
	Held    int64     `json:"held"`
	Final   bool      `json:"final"`
	Since   time.Time `json:"since"`
}

// State is the shared mutable engine state. Every access goes through its
// mutex; readers get copies.
type State struct {
	mu sync.RWMutex

	decisions      []Decision // newest first
	phase          Phase
	lastScan       time.Time
	scannerResults []scanner.Opportunity
	filterSummary  scanner.Summary
	analyzed       []strategy.AggregatedDecision
	atr            map[string]atrEntry
	performance    map[string]*StrategyStats
	inFlight       map[string]time.Time
	trades         map[string]*openTrade
	exits          map[string]PendingExit

	now func() time.Time
}

func NewState() *State {
	return &State{
		phase:       PhaseIdle,
		atr:         make(map[string]atrEntry),
		performance: make(map[string]*StrategyStats),
		inFlight:    make(map[string]time.Time),
		trades:      make(map[string]*openTrade),
		exits:       make(map[string]PendingExit),
		now:         time.Now,
	}
}

func (s *State) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *State) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

// AddDecision prepends an entry to the log, dropping the oldest past the bound.
func (s *State) AddDecision(t DecisionType, message, status string, metadata map[string]interface{}) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := Decision{
		ID:        uuid.NewString(),
		Timestamp: s.now().UTC(),
		Type:      t,
		Message:   message,
		Status:    status,
		Metadata:  metadata,
	}
	s.decisions = slices.Insert(s.decisions, 0, d)
	if len(s.decisions) > maxDecisions {
		s.decisions = s.decisions[:maxDecisions]
	}
	return d
}

// Decisions returns up to limit entries, newest first. limit <= 0 means all.
func (s *State) Decisions(limit int) []Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.decisions)
	if limit > 0 && limit < n {
		n = limit
	}
	return slices.Clone(s.decisions[:n])
}

func (s *State) SetPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

func (s *State) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// RecordScan keeps the best scored opportunities and the filter summary.
func (s *State) RecordScan(opps []scanner.Opportunity, summary scanner.Summary) {
	ranked := slices.Clone(opps)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Passed != ranked[j].Passed {
			return ranked[i].Passed
		}
		return ranked[i].Score > ranked[j].Score
	})
	if len(ranked) > maxScannerResults {
		ranked = ranked[:maxScannerResults]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastScan = s.now().UTC()
	s.scannerResults = ranked
	s.filterSummary = summary
}

func (s *State) LastScan() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastScan
}

func (s *State) ScannerResults() ([]scanner.Opportunity, scanner.Summary) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary := s.filterSummary
	summary.PerFilter = maps.Clone(summary.PerFilter)
	return slices.Clone(s.scannerResults), summary
}

func (s *State) SetAnalyzed(decisions []*strategy.AggregatedDecision) {
	out := make([]strategy.AggregatedDecision, 0, len(decisions))
	for _, d := range decisions {
		if d != nil {
			out = append(out, *d)
		}
	}
	s.mu.Lock()
	s.analyzed = out
	s.mu.Unlock()
}

func (s *State) Analyzed() []strategy.AggregatedDecision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.analyzed)
}

// CachedATR returns a value stored less than ttl ago.
func (s *State) CachedATR(symbol string, ttl time.Duration) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.atr[symbol]
	if !ok || s.now().Sub(e.at) >= ttl {
		return 0, false
	}
	return e.value, true
}

func (s *State) StoreATR(symbol string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.atr[symbol] = atrEntry{value: value, at: s.now()}
}

func (s *State) stats(name string) *StrategyStats {
	st, ok := s.performance[name]
	if !ok {
		st = &StrategyStats{}
		s.performance[name] = st
	}
	return st
}

// RecordSignals counts every signal and, for a non-nil decision, which
// evaluators voted with the majority.
func (s *State) RecordSignals(signals []*strategy.Signal, decision *strategy.AggregatedDecision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sig := range signals {
		if sig == nil {
			continue
		}
		st := s.stats(sig.Strategy)
		st.Signals++
		if decision != nil && sig.Action == decision.Action {
			st.Agreements++
		}
	}
}

// OpenTrade attributes a new position to the evaluators that agreed on it.
func (s *State) OpenTrade(symbol string, strategies []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[symbol] = &openTrade{strategies: slices.Clone(strategies)}
	for _, name := range strategies {
		s.stats(name).Trades++
	}
}

// AddRealized accumulates P&L from a partial or full exit. Exits of a
// position this process never opened start a round trip of their own.
func (s *State) AddRealized(symbol string, pnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[symbol]
	if !ok {
		t = &openTrade{}
		s.trades[symbol] = t
	}
	t.realized += pnl
}

// CloseTrade ends the round trip for symbol, credits the outcome to its
// evaluators and returns the total realized P&L. It reports false when no
// round trip is open, including one already closed and not yet settled.
func (s *State) CloseTrade(symbol string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[symbol]
	if !ok || t.closed {
		return 0, false
	}
	t.closed = true
	for _, name := range t.strategies {
		st := s.stats(name)
		st.RealizedPnL += t.realized
		if t.realized > 0 {
			st.Wins++
		} else if t.realized < 0 {
			st.Losses++
		}
	}
	return t.realized, true
}

// BeginExit records an accepted exit order. An earlier marker for the symbol
// is kept, except that a final exit upgrades it.
func (s *State) BeginExit(symbol, orderID string, held int64, final bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ex, ok := s.exits[symbol]; ok {
		ex.Final = ex.Final || final
		s.exits[symbol] = ex
		return
	}
	s.exits[symbol] = PendingExit{OrderID: orderID, Held: held, Final: final, Since: s.now()}
}

func (s *State) PendingExit(symbol string) (PendingExit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ex, ok := s.exits[symbol]
	return ex, ok
}

func (s *State) ClearExit(symbol string) {
	s.mu.Lock()
	delete(s.exits, symbol)
	s.mu.Unlock()
}

// Settle forgets exit markers and closed round trips for every symbol the
// broker no longer holds.
func (s *State) Settle(held map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for symbol := range s.exits {
		if !held[symbol] {
			delete(s.exits, symbol)
		}
	}
	for symbol, t := range s.trades {
		if t.closed && !held[symbol] {
			delete(s.trades, symbol)
		}
	}
}

func (s *State) Performance() map[string]StrategyStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]StrategyStats, len(s.performance))
	for name, st := range s.performance {
		out[name] = *st
	}
	return out
}

func (s *State) RestorePerformance(perf map[string]StrategyStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.performance = make(map[string]*StrategyStats, len(perf))
	for name, st := range perf {
		s.performance[name] = &st
	}
}

// TryBeginOrder marks symbol as having an order in flight. It returns false
// when one is already outstanding.
func (s *State) TryBeginOrder(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[symbol]; busy {
		return false
	}
	s.inFlight[symbol] = s.now()
	return true
}

func (s *State) EndOrder(symbol string) {
	s.mu.Lock()
	delete(s.inFlight, symbol)
	s.mu.Unlock()
}

func (s *State) InFlight() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Collect(maps.Keys(s.inFlight))
	sort.Strings(out)
	return out
}
