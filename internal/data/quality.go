// Package data validates and repairs the historical candle series a Kline
// node loads before it enters the cache a graph replays against — bad
// input data silently produces a bad backtest, so the series is checked
// and cleaned once, at load time, rather than trusted from the adapter.
package data

import (
	"math"
	"sort"
	"time"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// QualityValidator checks a loaded candle series for the integrity
// problems that make a backtest meaningless: missing sessions, extreme
// price moves, volume anomalies, and OHLC inconsistency.
type QualityValidator struct {
	logger *zap.Logger

	ExpectedTradingDaysPerYear int     // ~252 for equities, ~365 for crypto
	MaxIntradayMove            float64 // max intraday price change, e.g. 0.30 for 30%
	MaxGapMove                 float64 // max gap between bars, e.g. 0.20 for 20%
	MinVolume                  float64 // minimum acceptable volume
	MaxVolumeMultiple          float64 // max multiple of average volume before flagging a spike
}

// Issue is one data quality problem found in a series.
type Issue struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"` // critical, high, medium, low
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Message   string    `json:"message"`
	Value     string    `json:"value,omitempty"`
	BarIndex  int       `json:"barIndex,omitempty"`
}

// QualityReport summarizes a series's fitness for replay.
type QualityReport struct {
	Symbol       string  `json:"symbol"`
	TotalBars    int     `json:"totalBars"`
	Issues       []Issue `json:"issues"`
	QualityScore int     `json:"qualityScore"` // 0-100
	IsUsable     bool    `json:"isUsable"`

	MissingDataCount   int `json:"missingDataCount"`
	PriceAnomalyCount  int `json:"priceAnomalyCount"`
	VolumeAnomalyCount int `json:"volumeAnomalyCount"`
	OHLCErrorCount     int `json:"ohlcErrorCount"`

	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	Duration  string    `json:"duration"`

	Recommendations []string `json:"recommendations"`
}

// NewQualityValidator returns a validator tuned for 24/7 crypto markets.
func NewQualityValidator(logger *zap.Logger) *QualityValidator {
	return &QualityValidator{
		logger:                     logger,
		ExpectedTradingDaysPerYear: 365,
		MaxIntradayMove:            0.30,
		MaxGapMove:                 0.20,
		MinVolume:                  100,
		MaxVolumeMultiple:          20.0,
	}
}

// NewEquityQualityValidator returns a validator tuned for session-based
// equity markets, where circuit breakers bound intraday moves tighter.
func NewEquityQualityValidator(logger *zap.Logger) *QualityValidator {
	return &QualityValidator{
		logger:                     logger,
		ExpectedTradingDaysPerYear: 252,
		MaxIntradayMove:            0.20,
		MaxGapMove:                 0.15,
		MinVolume:                  1000,
		MaxVolumeMultiple:          10.0,
	}
}

// Validate runs every check against bars and scores the result.
func (v *QualityValidator) Validate(bars []types.OHLCV, symbol string) *QualityReport {
	if len(bars) == 0 {
		return &QualityReport{
			Symbol:       symbol,
			Issues:       []Issue{{Type: "NO_DATA", Severity: "critical", Message: "no data provided"}},
			QualityScore: 0,
			IsUsable:     false,
		}
	}

	var issues []Issue
	issues = append(issues, v.checkMissingData(bars, symbol)...)
	issues = append(issues, v.checkPriceAnomalies(bars, symbol)...)
	issues = append(issues, v.checkVolumeAnomalies(bars, symbol)...)
	issues = append(issues, v.checkOHLCConsistency(bars, symbol)...)
	issues = append(issues, v.checkDuplicates(bars, symbol)...)
	issues = append(issues, v.checkChronologicalOrder(bars, symbol)...)

	score := v.calculateQualityScore(len(bars), issues)

	return &QualityReport{
		Symbol:             symbol,
		TotalBars:          len(bars),
		Issues:             issues,
		QualityScore:       score,
		IsUsable:           score >= 70 && !v.hasCriticalIssues(issues),
		MissingDataCount:   countIssuesByType(issues, "MISSING_DATA", "GAP_DETECTED"),
		PriceAnomalyCount:  countIssuesByType(issues, "NEGATIVE_PRICE", "EXTREME_MOVE", "GAP_MOVE", "ZERO_PRICE"),
		VolumeAnomalyCount: countIssuesByType(issues, "ZERO_VOLUME", "LOW_VOLUME", "VOLUME_SPIKE"),
		OHLCErrorCount:     countIssuesByType(issues, "OHLC_INCONSISTENT"),
		StartDate:          bars[0].Timestamp,
		EndDate:            bars[len(bars)-1].Timestamp,
		Duration:           bars[len(bars)-1].Timestamp.Sub(bars[0].Timestamp).String(),
		Recommendations:    v.generateRecommendations(issues, len(bars)),
	}
}

func (v *QualityValidator) checkMissingData(bars []types.OHLCV, symbol string) []Issue {
	var issues []Issue
	if len(bars) < 2 {
		return issues
	}

	var intervals []time.Duration
	for i := 1; i < len(bars) && i <= 10; i++ {
		intervals = append(intervals, bars[i].Timestamp.Sub(bars[i-1].Timestamp))
	}
	sort.Slice(intervals, func(i, j int) bool { return intervals[i] < intervals[j] })

	var expected time.Duration
	if len(intervals) > 0 {
		expected = intervals[len(intervals)/2]
	}

	for i := 1; i < len(bars); i++ {
		actual := bars[i].Timestamp.Sub(bars[i-1].Timestamp)
		maxInterval := expected + expected/2
		if actual > maxInterval*3 {
			severity := "high"
			if actual > maxInterval*10 {
				severity = "critical"
			}
			issues = append(issues, Issue{
				Type: "GAP_DETECTED", Severity: severity, Timestamp: bars[i-1].Timestamp, Symbol: symbol,
				Message: "data gap detected: " + actual.String() + " (expected ~" + expected.String() + ")",
				Value:   actual.String(), BarIndex: i - 1,
			})
		}
	}
	return issues
}

func (v *QualityValidator) checkPriceAnomalies(bars []types.OHLCV, symbol string) []Issue {
	var issues []Issue
	for i, bar := range bars {
		if bar.Open.IsZero() || bar.High.IsZero() || bar.Low.IsZero() || bar.Close.IsZero() {
			issues = append(issues, Issue{Type: "ZERO_PRICE", Severity: "critical", Timestamp: bar.Timestamp, Symbol: symbol, Message: "zero price detected", BarIndex: i})
			continue
		}
		if bar.Open.LessThan(decimal.Zero) || bar.High.LessThan(decimal.Zero) || bar.Low.LessThan(decimal.Zero) || bar.Close.LessThan(decimal.Zero) {
			issues = append(issues, Issue{Type: "NEGATIVE_PRICE", Severity: "critical", Timestamp: bar.Timestamp, Symbol: symbol, Message: "negative price detected", BarIndex: i})
			continue
		}
		if !bar.Low.IsZero() {
			move := bar.High.Sub(bar.Low).Div(bar.Low)
			f, _ := move.Float64()
			if f > v.MaxIntradayMove {
				issues = append(issues, Issue{
					Type: "EXTREME_MOVE", Severity: "high", Timestamp: bar.Timestamp, Symbol: symbol,
					Message: "extreme intraday move: " + move.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%",
					Value:   move.StringFixed(4), BarIndex: i,
				})
			}
		}
		if i > 0 {
			prevClose := bars[i-1].Close
			if !prevClose.IsZero() {
				move := bar.Open.Sub(prevClose).Div(prevClose).Abs()
				f, _ := move.Float64()
				if f > v.MaxGapMove {
					issues = append(issues, Issue{
						Type: "GAP_MOVE", Severity: "medium", Timestamp: bar.Timestamp, Symbol: symbol,
						Message: "large price gap: " + move.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%",
						Value:   move.StringFixed(4), BarIndex: i,
					})
				}
			}
		}
	}
	return issues
}

func (v *QualityValidator) checkVolumeAnomalies(bars []types.OHLCV, symbol string) []Issue {
	var issues []Issue
	var total decimal.Decimal
	nonZero := 0
	for _, bar := range bars {
		if bar.Volume.GreaterThan(decimal.Zero) {
			total = total.Add(bar.Volume)
			nonZero++
		}
	}
	var avg decimal.Decimal
	if nonZero > 0 {
		avg = total.Div(decimal.NewFromInt(int64(nonZero)))
	}
	avgFloat, _ := avg.Float64()

	for i, bar := range bars {
		volFloat, _ := bar.Volume.Float64()
		if bar.Volume.IsZero() {
			issues = append(issues, Issue{Type: "ZERO_VOLUME", Severity: "low", Timestamp: bar.Timestamp, Symbol: symbol, Message: "zero volume bar", BarIndex: i})
			continue
		}
		if volFloat < v.MinVolume {
			issues = append(issues, Issue{Type: "LOW_VOLUME", Severity: "low", Timestamp: bar.Timestamp, Symbol: symbol, Message: "volume below threshold: " + bar.Volume.String(), Value: bar.Volume.String(), BarIndex: i})
		}
		if avgFloat > 0 && volFloat > avgFloat*v.MaxVolumeMultiple {
			issues = append(issues, Issue{
				Type: "VOLUME_SPIKE", Severity: "low", Timestamp: bar.Timestamp, Symbol: symbol,
				Message: "volume spike: " + bar.Volume.String() + " (" + decimal.NewFromFloat(volFloat/avgFloat).StringFixed(1) + "x average)",
				Value:   bar.Volume.String(), BarIndex: i,
			})
		}
	}
	return issues
}

func (v *QualityValidator) checkOHLCConsistency(bars []types.OHLCV, symbol string) []Issue {
	var issues []Issue
	for i, bar := range bars {
		if bar.High.LessThan(bar.Open) || bar.High.LessThan(bar.Close) || bar.High.LessThan(bar.Low) {
			issues = append(issues, Issue{Type: "OHLC_INCONSISTENT", Severity: "critical", Timestamp: bar.Timestamp, Symbol: symbol, Message: "high is not the highest price", BarIndex: i})
		}
		if bar.Low.GreaterThan(bar.Open) || bar.Low.GreaterThan(bar.Close) || bar.Low.GreaterThan(bar.High) {
			issues = append(issues, Issue{Type: "OHLC_INCONSISTENT", Severity: "critical", Timestamp: bar.Timestamp, Symbol: symbol, Message: "low is not the lowest price", BarIndex: i})
		}
	}
	return issues
}

func (v *QualityValidator) checkDuplicates(bars []types.OHLCV, symbol string) []Issue {
	var issues []Issue
	seen := make(map[int64]int)
	for i, bar := range bars {
		ts := bar.Timestamp.UnixNano()
		if first, ok := seen[ts]; ok {
			issues = append(issues, Issue{Type: "DUPLICATE_TIMESTAMP", Severity: "high", Timestamp: bar.Timestamp, Symbol: symbol, Message: "duplicate timestamp, also at index " + itoa(int64(first)), BarIndex: i})
		} else {
			seen[ts] = i
		}
	}
	return issues
}

func (v *QualityValidator) checkChronologicalOrder(bars []types.OHLCV, symbol string) []Issue {
	var issues []Issue
	for i := 1; i < len(bars); i++ {
		if bars[i].Timestamp.Before(bars[i-1].Timestamp) {
			issues = append(issues, Issue{Type: "OUT_OF_ORDER", Severity: "critical", Timestamp: bars[i].Timestamp, Symbol: symbol, Message: "bar is out of chronological order", BarIndex: i})
		}
	}
	return issues
}

func (v *QualityValidator) calculateQualityScore(totalBars int, issues []Issue) int {
	if totalBars == 0 {
		return 0
	}
	penalty := 0.0
	for _, issue := range issues {
		switch issue.Severity {
		case "critical":
			penalty += 10.0
		case "high":
			penalty += 5.0
		case "medium":
			penalty += 2.0
		case "low":
			penalty += 0.5
		}
	}
	normalized := penalty / math.Max(1, float64(totalBars)/100) * 10
	score := 100.0 - math.Min(normalized, 100)
	return int(math.Max(0, math.Min(100, score)))
}

func (v *QualityValidator) hasCriticalIssues(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Severity == "critical" {
			return true
		}
	}
	return false
}

func (v *QualityValidator) generateRecommendations(issues []Issue, totalBars int) []string {
	var recs []string
	counts := make(map[string]int)
	for _, issue := range issues {
		counts[issue.Type]++
	}
	if counts["GAP_DETECTED"] > 0 {
		recs = append(recs, "consider filling data gaps with interpolation or removing affected periods")
	}
	if counts["OHLC_INCONSISTENT"] > 0 {
		recs = append(recs, "OHLC inconsistencies detected, verify the data source")
	}
	if counts["EXTREME_MOVE"] > totalBars/100 {
		recs = append(recs, "many extreme price moves detected, consider filtering outliers")
	}
	if counts["ZERO_VOLUME"] > totalBars/10 {
		recs = append(recs, "high proportion of zero volume bars, consider a more liquid symbol or interval")
	}
	if counts["DUPLICATE_TIMESTAMP"] > 0 {
		recs = append(recs, "remove duplicate timestamps before replay")
	}
	if counts["OUT_OF_ORDER"] > 0 {
		recs = append(recs, "sort data by timestamp before use")
	}
	if len(recs) == 0 {
		recs = append(recs, "data quality is acceptable for replay")
	}
	return recs
}

func countIssuesByType(issues []Issue, kinds ...string) int {
	set := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	count := 0
	for _, issue := range issues {
		if set[issue.Type] {
			count++
		}
	}
	return count
}

func itoa(i int64) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// CleanData sorts bars chronologically, drops duplicate timestamps and
// non-positive prices, and squares High/Low against Open/Close so a
// replayed candle is never internally inconsistent.
func (v *QualityValidator) CleanData(bars []types.OHLCV) []types.OHLCV {
	if len(bars) == 0 {
		return bars
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })

	cleaned := make([]types.OHLCV, 0, len(bars))
	seen := make(map[int64]bool, len(bars))
	for _, bar := range bars {
		ts := bar.Timestamp.UnixNano()
		if seen[ts] {
			continue
		}
		seen[ts] = true

		if bar.High.LessThan(bar.Low) {
			continue
		}
		if bar.Open.LessThanOrEqual(decimal.Zero) || bar.High.LessThanOrEqual(decimal.Zero) ||
			bar.Low.LessThanOrEqual(decimal.Zero) || bar.Close.LessThanOrEqual(decimal.Zero) {
			continue
		}

		fixed := types.OHLCV{Timestamp: bar.Timestamp, Open: bar.Open, Close: bar.Close, Volume: bar.Volume}
		fixed.High = decimal.Max(bar.Open, decimal.Max(bar.High, bar.Close))
		fixed.Low = decimal.Min(bar.Open, decimal.Min(bar.Low, bar.Close))
		cleaned = append(cleaned, fixed)
	}

	v.logger.Info("candle series cleaned",
		zap.Int("original_bars", len(bars)),
		zap.Int("cleaned_bars", len(cleaned)),
		zap.Int("removed", len(bars)-len(cleaned)),
	)
	return cleaned
}
