package node

import (
	"context"
	"time"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
)

// ExchangeAdapter is the out-of-scope exchange-client collaborator the
// Kline node calls to load historical candles. The backtest core treats
// any concrete implementation as opaque; InMemoryAdapter below is a fake
// used by tests and by the paper-mode default, grounded on the teacher's
// DataLoader interface plus in-memory data.Store.
type ExchangeAdapter interface {
	// LoadCandles returns candles for symbol at interval covering
	// [start, end), capped at maxBars per call (the Binance-style 1000-bar
	// request cap §4.6 chunking works around).
	LoadCandles(ctx context.Context, symbol, interval string, start, end time.Time, maxBars int) ([]types.OHLCV, error)
	// FirstAvailable returns the earliest candle the exchange has for
	// symbol at interval, used for the InsufficientKlineData validation.
	FirstAvailable(ctx context.Context, symbol, interval string) (types.OHLCV, error)
}

// InMemoryAdapter serves candles from a pre-seeded in-memory series,
// standing in for a real exchange client in tests and paper-mode runs.
type InMemoryAdapter struct {
	series map[string][]types.OHLCV // key: symbol+"|"+interval
}

// NewInMemoryAdapter creates an adapter with no seeded data.
func NewInMemoryAdapter() *InMemoryAdapter {
	return &InMemoryAdapter{series: make(map[string][]types.OHLCV)}
}

// Seed registers candles (already sorted ascending by timestamp) for
// symbol/interval.
func (a *InMemoryAdapter) Seed(symbol, interval string, candles []types.OHLCV) {
	a.series[symbol+"|"+interval] = candles
}

// LoadCandles returns the seeded candles within [start, end), truncated to
// maxBars.
func (a *InMemoryAdapter) LoadCandles(_ context.Context, symbol, interval string, start, end time.Time, maxBars int) ([]types.OHLCV, error) {
	all := a.series[symbol+"|"+interval]
	var out []types.OHLCV
	for _, c := range all {
		if (c.Timestamp.Equal(start) || c.Timestamp.After(start)) && c.Timestamp.Before(end) {
			out = append(out, c)
			if maxBars > 0 && len(out) >= maxBars {
				break
			}
		}
	}
	return out, nil
}

// FirstAvailable returns the earliest seeded candle for symbol/interval.
func (a *InMemoryAdapter) FirstAvailable(_ context.Context, symbol, interval string) (types.OHLCV, error) {
	all := a.series[symbol+"|"+interval]
	if len(all) == 0 {
		return types.OHLCV{}, types.NewStrategyError(types.CodeKlineKeyNotFound, nil)
	}
	return all[0], nil
}
