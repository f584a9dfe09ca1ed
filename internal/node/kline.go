package node

import (
	"sync"
	"time"

	"github.com/atlas-desktop/backtest-engine/internal/cache"
	"github.com/atlas-desktop/backtest-engine/internal/data"
	"github.com/atlas-desktop/backtest-engine/internal/events"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// historyChunkWidth bounds how many concurrent chunked-history loads a
// Kline node issues against the exchange adapter, the same fixed-width
// worker pool shape as the teacher's bounded ingestion pool.
const historyChunkWidth = 5

// klineChunkCap is the maximum bars per adapter request, one under the
// 1000-bar Binance-style cap so chunk boundaries never land exactly on it.
const klineChunkCap = 999

// timeRange is one contiguous [Start, End) chunk boundary.
type timeRange struct {
	Start, End time.Time
}

// splitTimeRange divides [start, end) into contiguous chunks of at most
// maxBars bars at interval, per §4.6's chunking rule: chunks[0].Start ==
// start, chunks[-1].End == end, and each chunk's End equals the next
// chunk's Start.
func splitTimeRange(start, end time.Time, interval string, maxBars int) []timeRange {
	if maxBars <= 0 {
		maxBars = klineChunkCap
	}
	step := intervalDuration(interval) * time.Duration(maxBars)
	var chunks []timeRange
	cursor := start
	for cursor.Before(end) {
		chunkEnd := cursor.Add(step)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		chunks = append(chunks, timeRange{Start: cursor, End: chunkEnd})
		cursor = chunkEnd
	}
	return chunks
}

type chunkLoadResult struct {
	candles []types.OHLCV
	err     error
}

// SymbolSpec is one symbol/exchange/interval the Kline node tracks.
type SymbolSpec struct {
	Symbol   string
	Exchange string
	Interval string
}

// KlineNode loads historical candles for its configured symbols, caches
// them, and re-emits one KlineUpdate per cycle for the minimum-interval
// symbol set, grounded on the teacher's DataLoader-backed ingestion flow
// in internal/data/loader.go.
type KlineNode struct {
	*Runtime

	mu        sync.RWMutex
	symbols   []SymbolSpec
	adapter   ExchangeAdapter
	cache     *cache.Store[types.OHLCV]
	maxBars   int
	cursor    map[string]time.Time // per cache key, last timestamp loaded through
	validator *data.QualityValidator
}

// NewKlineNode creates a Kline node over adapter, tracking symbols, storing
// loaded candles in store (shared with the strategy's kline cache so
// CmdGetKlineData resolves against the same series the graph replays). One
// output handle is registered per symbol, named by its cache key, so the
// playback pump can address "the BTCUSDT 1m feed" directly instead of a
// single undifferentiated output.
func NewKlineNode(rt *Runtime, adapter ExchangeAdapter, symbols []SymbolSpec, maxBars int, store *cache.Store[types.OHLCV]) *KlineNode {
	if maxBars <= 0 {
		maxBars = klineChunkCap
	}
	if store == nil {
		store = cache.NewStore[types.OHLCV](func(c types.OHLCV) time.Time { return c.Timestamp })
	}
	n := &KlineNode{
		Runtime:   rt,
		symbols:   symbols,
		adapter:   adapter,
		cache:     store,
		maxBars:   maxBars,
		cursor:    make(map[string]time.Time),
		validator: data.NewQualityValidator(rt.Logger),
	}
	for _, s := range symbols {
		rt.AddOutput(cacheKey(s))
	}
	return n
}

func cacheKey(s SymbolSpec) string {
	return s.Exchange + ":" + s.Symbol + ":" + s.Interval
}

// CacheKey exposes the cache/output-handle key for s, used by the pump
// wiring the cycle clock reads and writes against.
func CacheKey(s SymbolSpec) string { return cacheKey(s) }

// MinIntervalSymbols returns the symbols sharing the shortest configured
// interval, per GetMinIntervalSymbols — these drive the per-cycle
// KlineUpdate cadence.
func (n *KlineNode) MinIntervalSymbols() []SymbolSpec {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if len(n.symbols) == 0 {
		return nil
	}
	min := n.symbols[0].Interval
	for _, s := range n.symbols {
		if intervalDuration(s.Interval) < intervalDuration(min) {
			min = s.Interval
		}
	}
	var out []SymbolSpec
	for _, s := range n.symbols {
		if s.Interval == min {
			out = append(out, s)
		}
	}
	return out
}

func intervalDuration(interval string) time.Duration {
	d, err := time.ParseDuration(interval)
	if err != nil {
		return time.Minute
	}
	return d
}

// Init registers the exchange adapter and loads history for every symbol
// in bounded-width chunks before signaling ready.
func (n *KlineNode) Init(start, end time.Time) error {
	return n.Initialize(func(acts []Action) error {
		return n.loadHistory(start, end)
	})
}

func (n *KlineNode) loadHistory(start, end time.Time) error {
	p := pool.NewWithResults[error]().WithMaxGoroutines(historyChunkWidth)
	n.mu.RLock()
	symbols := append([]SymbolSpec(nil), n.symbols...)
	n.mu.RUnlock()

	for _, s := range symbols {
		s := s
		p.Go(func() error {
			return n.loadOne(s, start, end)
		})
	}
	for _, err := range p.Wait() {
		if err != nil {
			n.fail(err)
			return err
		}
	}
	n.SignalReady()
	return nil
}

// loadOne validates s's requested range against the exchange's earliest
// available candle, then fetches [start, end) in ≤999-bar chunks issued
// concurrently behind a width-5 semaphore, appending to the cache in
// chunk (not completion) order.
func (n *KlineNode) loadOne(s SymbolSpec, start, end time.Time) error {
	key := cacheKey(s)

	first, err := n.adapter.FirstAvailable(n.Context(), s.Symbol, s.Interval)
	if err != nil {
		return types.Wrap(types.CodeExchangeLoadFailed, err)
	}
	if first.Timestamp.After(start) {
		return types.NewStrategyError(types.CodeInsufficientKlineData, nil)
	}

	chunkCap := n.maxBars
	if chunkCap <= 0 || chunkCap > klineChunkCap {
		chunkCap = klineChunkCap
	}
	chunks := splitTimeRange(start, end, s.Interval, chunkCap)

	p := pool.NewWithResults[chunkLoadResult]().WithMaxGoroutines(historyChunkWidth)
	for _, c := range chunks {
		c := c
		p.Go(func() chunkLoadResult {
			candles, err := n.adapter.LoadCandles(n.Context(), s.Symbol, s.Interval, c.Start, c.End, chunkCap)
			return chunkLoadResult{candles: candles, err: err}
		})
	}
	results := p.Wait()

	entry := n.cache.GetOrCreate(key, 0, 0)
	cursor := start
	for _, r := range results {
		if r.err != nil {
			return types.Wrap(types.CodeExchangeLoadFailed, r.err)
		}
		if len(r.candles) == 0 {
			continue
		}
		cleaned := n.validator.CleanData(r.candles)
		report := n.validator.Validate(cleaned, key)
		if !report.IsUsable {
			n.Logger.Warn("candle series failed quality validation",
				zap.String("cache_key", key), zap.Int("score", report.QualityScore),
				zap.Int("issues", len(report.Issues)))
		}
		entry.Append(cleaned)
		cursor = r.candles[len(r.candles)-1].Timestamp.Add(intervalDuration(s.Interval))
	}
	n.mu.Lock()
	n.cursor[key] = cursor
	n.mu.Unlock()
	return nil
}

// Advance appends one freshly observed candle for s and emits KlineUpdate
// on the node's kline output handle, matching one playback cycle's worth
// of new market data.
func (n *KlineNode) Advance(cycleID uint64, s SymbolSpec, candle types.OHLCV, outputHandleID string) {
	key := cacheKey(s)
	entry := n.cache.GetOrCreate(key, 0, 0)
	entry.Update(candle)
	n.Emit(outputHandleID, events.New(events.KindKlineUpdate, cycleID, n.ID, outputHandleID, candle))
	n.EmitLeafCompletion(cycleID)
}

// Cache exposes the underlying candle store for the Indicator node's reads.
func (n *KlineNode) Cache() *cache.Store[types.OHLCV] { return n.cache }

// Shutdown tears the node down; there is no background loader to cancel
// beyond the base runtime's listener goroutines once history load
// completes.
func (n *KlineNode) Shutdown() error {
	defer n.SignalStopped()
	return n.Stop()
}
