// Package scanner applies the scan-stage opportunity filters to candidate
// symbols and records why each candidate passed or failed.
package scanner

import (
	"fmt"
	"sort"
	"time"

	"github.com/irfndi/neuratrade-intraday/internal/config"
	"github.com/irfndi/neuratrade-intraday/internal/talib"
	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
)

type FilterName string

const (
	FilterAvgVolume      FilterName = "min_avg_volume"
	FilterPriceRange     FilterName = "price_range"
	FilterVolatility     FilterName = "min_volatility"
	FilterRelativeVolume FilterName = "min_relative_volume"
)

// FilterNames lists the filters in evaluation order.
var FilterNames = []FilterName{FilterAvgVolume, FilterPriceRange, FilterVolatility, FilterRelativeVolume}

// FilterResult records one filter's verdict for one candidate.
type FilterResult struct {
	Name      FilterName `json:"name"`
	Value     float64    `json:"value"`
	Threshold string     `json:"threshold"`
	Passed    bool       `json:"passed"`
}

// Opportunity is a candidate symbol with its computed filter inputs.
type Opportunity struct {
	Symbol         string         `json:"symbol"`
	Price          float64        `json:"price"`
	AvgVolume      float64        `json:"avg_volume"`
	RelativeVolume float64        `json:"relative_volume"`
	Volatility     float64        `json:"volatility"`
	Filters        []FilterResult `json:"filters"`
	Passed         bool           `json:"passed"`
	Score          float64        `json:"score"`
	EvaluatedAt    time.Time      `json:"evaluated_at"`
}

// FailedFilters names the filters the candidate did not pass.
func (o Opportunity) FailedFilters() []FilterName {
	var out []FilterName
	for _, f := range o.Filters {
		if !f.Passed {
			out = append(out, f.Name)
		}
	}
	return out
}

type FilterCount struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// Summary aggregates filter outcomes across a scan.
type Summary struct {
	Total     int                        `json:"total"`
	Passed    int                        `json:"passed"`
	NoData    int                        `json:"no_data"`
	PerFilter map[FilterName]FilterCount `json:"per_filter"`
}

// Config holds the filter thresholds.
type Config struct {
	// MinAvgVolume is the lowest acceptable mean session volume.
	MinAvgVolume float64
	// MinPrice and MaxPrice bound the last price, inclusive.
	MinPrice float64
	MaxPrice float64
	// MinVolatility is the lowest ATR as a percentage of price.
	MinVolatility float64
	// MinRelativeVolume is the lowest ratio of today's per-bar volume to that
	// of earlier sessions.
	MinRelativeVolume float64
	// ATRPeriod is the lookback of the volatility filter.
	ATRPeriod int
}

// DefaultConfig returns the thresholds used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MinAvgVolume:      100000,
		MinPrice:          5,
		MaxPrice:          500,
		MinVolatility:     0.5,
		MinRelativeVolume: 1.2,
		ATRPeriod:         14,
	}
}

// ConfigFromSettings builds a Config from loaded scanner settings.
func ConfigFromSettings(s config.ScannerConfig, atrPeriod int) Config {
	return Config{
		MinAvgVolume:      s.MinAvgVolume,
		MinPrice:          s.MinPrice,
		MaxPrice:          s.MaxPrice,
		MinVolatility:     s.MinVolatility,
		MinRelativeVolume: s.MinRelativeVolume,
		ATRPeriod:         atrPeriod,
	}
}

type Scanner struct {
	config Config
	loc    *time.Location
	now    func() time.Time
}

// NewScanner creates a scanner that groups bars into sessions in loc.
func NewScanner(config Config, loc *time.Location) *Scanner {
	if loc == nil {
		loc = time.UTC
	}
	return &Scanner{config: config, loc: loc, now: time.Now}
}

// Config returns the active thresholds.
func (s *Scanner) Config() Config { return s.config }

// Evaluate computes the filter inputs from bars and applies every filter.
// All filters run even after one fails.
func (s *Scanner) Evaluate(symbol string, bars []interfaces.Bar) Opportunity {
	o := Opportunity{Symbol: symbol, EvaluatedAt: s.now().UTC()}
	if len(bars) == 0 {
		for _, name := range FilterNames {
			o.Filters = append(o.Filters, FilterResult{Name: name, Threshold: "no data"})
		}
		return o
	}

	o.Price = bars[len(bars)-1].Close
	o.AvgVolume, o.RelativeVolume = s.volumes(bars)
	o.Volatility = s.volatility(bars)

	cfg := s.config
	o.Filters = []FilterResult{
		{
			Name:      FilterAvgVolume,
			Value:     o.AvgVolume,
			Threshold: fmt.Sprintf(">= %.0f", cfg.MinAvgVolume),
			Passed:    o.AvgVolume >= cfg.MinAvgVolume,
		},
		{
			Name:      FilterPriceRange,
			Value:     o.Price,
			Threshold: fmt.Sprintf("%.2f-%.2f", cfg.MinPrice, cfg.MaxPrice),
			Passed:    o.Price >= cfg.MinPrice && o.Price <= cfg.MaxPrice,
		},
		{
			Name:      FilterVolatility,
			Value:     o.Volatility,
			Threshold: fmt.Sprintf(">= %.2f%%", cfg.MinVolatility),
			Passed:    o.Volatility >= cfg.MinVolatility,
		},
		{
			Name:      FilterRelativeVolume,
			Value:     o.RelativeVolume,
			Threshold: fmt.Sprintf(">= %.2f", cfg.MinRelativeVolume),
			Passed:    o.RelativeVolume >= cfg.MinRelativeVolume,
		},
	}

	o.Passed = true
	for _, f := range o.Filters {
		o.Passed = o.Passed && f.Passed
	}
	o.Score = o.RelativeVolume * o.Volatility
	return o
}

// volumes returns the mean session volume and today's per-bar volume
// relative to earlier sessions. With a single session the last five bars are
// compared with the session average.
func (s *Scanner) volumes(bars []interfaces.Bar) (avgSession, relative float64) {
	type session struct {
		volume float64
		bars   int
	}
	var order []string
	sessions := make(map[string]*session)
	for _, b := range bars {
		key := b.Timestamp.In(s.loc).Format("2006-01-02")
		sess, ok := sessions[key]
		if !ok {
			sess = &session{}
			sessions[key] = sess
			order = append(order, key)
		}
		sess.volume += b.Volume
		sess.bars++
	}

	total := 0.0
	for _, sess := range sessions {
		total += sess.volume
	}
	avgSession = total / float64(len(sessions))

	if len(order) > 1 {
		today := sessions[order[len(order)-1]]
		prevVol, prevBars := 0.0, 0
		for _, key := range order[:len(order)-1] {
			prevVol += sessions[key].volume
			prevBars += sessions[key].bars
		}
		if prevBars > 0 && prevVol > 0 {
			return avgSession, (today.volume / float64(today.bars)) / (prevVol / float64(prevBars))
		}
		return avgSession, 0
	}

	recent := bars
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	overall := total / float64(len(bars))
	if overall <= 0 {
		return avgSession, 0
	}
	return avgSession, meanVolume(recent) / overall
}

func meanVolume(bars []interfaces.Bar) float64 {
	sum := 0.0
	for _, b := range bars {
		sum += b.Volume
	}
	return sum / float64(len(bars))
}

// volatility is ATR as a percentage of price, falling back to the high-low
// range when there are too few bars for ATR.
func (s *Scanner) volatility(bars []interfaces.Bar) float64 {
	price := bars[len(bars)-1].Close
	if price <= 0 {
		return 0
	}
	if s.config.ATRPeriod > 0 && len(bars) > s.config.ATRPeriod {
		h := make([]float64, len(bars))
		l := make([]float64, len(bars))
		c := make([]float64, len(bars))
		for i, b := range bars {
			h[i], l[i], c[i] = b.High, b.Low, b.Close
		}
		if atr, ok := talib.Last(talib.Atr(h, l, c, s.config.ATRPeriod)); ok {
			return atr / price * 100
		}
	}
	hi, lo := bars[0].High, bars[0].Low
	for _, b := range bars[1:] {
		hi = max(hi, b.High)
		lo = min(lo, b.Low)
	}
	return (hi - lo) / price * 100
}

// Scan evaluates every candidate that has bars and summarizes the filter
// outcomes. Symbols without bars are counted as NoData. Opportunities are
// returned in symbol order.
func (s *Scanner) Scan(bars map[string][]interfaces.Bar) ([]Opportunity, Summary) {
	summary := Summary{PerFilter: make(map[FilterName]FilterCount, len(FilterNames))}
	symbols := make([]string, 0, len(bars))
	for sym := range bars {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	out := make([]Opportunity, 0, len(symbols))
	for _, sym := range symbols {
		summary.Total++
		if len(bars[sym]) == 0 {
			summary.NoData++
			continue
		}
		o := s.Evaluate(sym, bars[sym])
		for _, f := range o.Filters {
			c := summary.PerFilter[f.Name]
			if f.Passed {
				c.Passed++
			} else {
				c.Failed++
			}
			summary.PerFilter[f.Name] = c
		}
		if o.Passed {
			summary.Passed++
		}
		out = append(out, o)
	}
	return out, summary
}

// Passing filters opportunities down to those that passed every filter.
func Passing(opps []Opportunity) []Opportunity {
	var out []Opportunity
	for _, o := range opps {
		if o.Passed {
			out = append(out, o)
		}
	}
	return out
}
