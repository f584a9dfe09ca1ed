package vts

import (
	"testing"
	"time"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func ohlcv(seconds int64, open, high, low, close float64) types.OHLCV {
	return types.OHLCV{
		Timestamp: time.Unix(seconds, 0),
		Open:      decimal.NewFromFloat(open),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(low),
		Close:     decimal.NewFromFloat(close),
		Volume:    decimal.NewFromFloat(100),
	}
}

func TestMarketOrderFillsAtBarOpen(t *testing.T) {
	v := New(zap.NewNop(), "node-1_vts_output")
	order := v.CreateOrder(1, "node-1", "cfg-1", "BTCUSDT", "binance",
		types.OrderSideLong, types.OrderTypeMarket,
		decimal.NewFromInt(1), decimal.Zero, decimal.Zero, decimal.Zero)

	if order.Status != types.OrderStatusCreated {
		t.Fatalf("new market order status = %s, want created", order.Status)
	}
	if got := v.UnfilledOrderCount(); got != 1 {
		t.Fatalf("UnfilledOrderCount() = %d, want 1", got)
	}

	v.ProcessCycle(2, "BTCUSDT", ohlcv(60, 101, 102, 100, 101.5))

	if got := v.UnfilledOrderCount(); got != 0 {
		t.Fatalf("UnfilledOrderCount() after fill = %d, want 0", got)
	}
	if got := v.CurrentPositionsCount(); got != 1 {
		t.Fatalf("CurrentPositionsCount() = %d, want 1", got)
	}
	pos := v.FindPositionFor("BTCUSDT", "binance")
	if pos == nil {
		t.Fatal("FindPositionFor returned nil after a market order filled")
	}
	if !pos.AvgEntryPrice.Equal(decimal.NewFromFloat(101)) {
		t.Fatalf("AvgEntryPrice = %s, want 101 (the fill bar's open)", pos.AvgEntryPrice)
	}
}

func TestLimitOrderStartsPlaced(t *testing.T) {
	v := New(zap.NewNop(), "node-1_vts_output")
	order := v.CreateOrder(1, "node-1", "cfg-1", "BTCUSDT", "binance",
		types.OrderSideLong, types.OrderTypeLimit,
		decimal.NewFromInt(1), decimal.NewFromFloat(95), decimal.Zero, decimal.Zero)

	if order.Status != types.OrderStatusPlaced {
		t.Fatalf("new limit order status = %s, want placed", order.Status)
	}
}

func TestLimitOrderDoesNotFillUntilPriceCrosses(t *testing.T) {
	v := New(zap.NewNop(), "node-1_vts_output")
	v.CreateOrder(1, "node-1", "cfg-1", "BTCUSDT", "binance",
		types.OrderSideLong, types.OrderTypeLimit,
		decimal.NewFromInt(1), decimal.NewFromFloat(90), decimal.Zero, decimal.Zero)

	// Bar stays above the limit price: should not fill.
	v.ProcessCycle(2, "BTCUSDT", ohlcv(60, 100, 102, 99, 101))
	if got := v.UnfilledOrderCount(); got != 1 {
		t.Fatalf("UnfilledOrderCount() after a non-crossing bar = %d, want 1", got)
	}

	// Bar's low crosses the limit: should fill.
	v.ProcessCycle(3, "BTCUSDT", ohlcv(120, 95, 96, 89, 93))
	if got := v.UnfilledOrderCount(); got != 0 {
		t.Fatalf("UnfilledOrderCount() after a crossing bar = %d, want 0", got)
	}
}

func TestResetClearsState(t *testing.T) {
	v := New(zap.NewNop(), "node-1_vts_output")
	v.CreateOrder(1, "node-1", "cfg-1", "BTCUSDT", "binance",
		types.OrderSideLong, types.OrderTypeMarket,
		decimal.NewFromInt(1), decimal.Zero, decimal.Zero, decimal.Zero)
	v.ProcessCycle(2, "BTCUSDT", ohlcv(60, 100, 101, 99, 100.5))

	v.Reset()

	if got := v.CurrentPositionsCount(); got != 0 {
		t.Fatalf("CurrentPositionsCount() after Reset = %d, want 0", got)
	}
	if got := v.UnfilledOrderCount(); got != 0 {
		t.Fatalf("UnfilledOrderCount() after Reset = %d, want 0", got)
	}
	if got := len(v.Orders()); got != 0 {
		t.Fatalf("Orders() after Reset has %d entries, want 0", got)
	}
}
