package node

import (
	"testing"
	"time"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

func closeBar(seconds int64, close float64) types.OHLCV {
	return types.OHLCV{
		Timestamp: time.Unix(seconds, 0),
		Open:      decimal.NewFromFloat(close),
		High:      decimal.NewFromFloat(close),
		Low:       decimal.NewFromFloat(close),
		Close:     decimal.NewFromFloat(close),
		Volume:    decimal.NewFromFloat(1),
	}
}

func TestKernelSMA(t *testing.T) {
	k := NewIndicatorKernel()
	window := []types.OHLCV{closeBar(0, 10), closeBar(1, 20), closeBar(2, 30)}
	out, err := k.Compute(IndicatorSMA, window, map[string]decimal.Decimal{"period": decimal.NewFromInt(3)})
	if err != nil {
		t.Fatalf("Compute(SMA): %v", err)
	}
	want := decimal.NewFromInt(20)
	if !out[0].Equal(want) {
		t.Fatalf("SMA = %s, want %s", out[0], want)
	}
}

func TestKernelSMAInsufficientWindow(t *testing.T) {
	k := NewIndicatorKernel()
	window := []types.OHLCV{closeBar(0, 10)}
	out, err := k.Compute(IndicatorSMA, window, map[string]decimal.Decimal{"period": decimal.NewFromInt(20)})
	if err != nil {
		t.Fatalf("Compute(SMA): %v", err)
	}
	if !out[0].IsZero() {
		t.Fatalf("SMA with insufficient window = %s, want 0", out[0])
	}
}

func TestKernelRSIAllGainsIsOneHundred(t *testing.T) {
	k := NewIndicatorKernel()
	window := make([]types.OHLCV, 0, 20)
	for i := int64(0); i < 20; i++ {
		window = append(window, closeBar(i, float64(10+i)))
	}
	out, err := k.Compute(IndicatorRSI, window, map[string]decimal.Decimal{"period": decimal.NewFromInt(14)})
	if err != nil {
		t.Fatalf("Compute(RSI): %v", err)
	}
	if !out[0].Equal(decimal.NewFromInt(100)) {
		t.Fatalf("RSI for a monotonically rising series = %s, want 100", out[0])
	}
}

func TestKernelBollingerOrdering(t *testing.T) {
	k := NewIndicatorKernel()
	window := make([]types.OHLCV, 0, 20)
	for i := int64(0); i < 20; i++ {
		window = append(window, closeBar(i, float64(100+i%3)))
	}
	out, err := k.Compute(IndicatorBollinger, window, map[string]decimal.Decimal{"period": decimal.NewFromInt(20)})
	if err != nil {
		t.Fatalf("Compute(Bollinger): %v", err)
	}
	lower, mean, upper := out[0], out[1], out[2]
	if !lower.LessThanOrEqual(mean) || !mean.LessThanOrEqual(upper) {
		t.Fatalf("Bollinger bands out of order: lower=%s mean=%s upper=%s", lower, mean, upper)
	}
}

func TestKernelUnregisteredIndicator(t *testing.T) {
	k := NewIndicatorKernel()
	if _, err := k.Compute("nonexistent", nil, nil); err == nil {
		t.Fatal("expected an error computing an unregistered indicator kind")
	}
}

func TestKernelRegisterOverride(t *testing.T) {
	k := NewIndicatorKernel()
	called := false
	k.Register(IndicatorSMA, func(window []types.OHLCV, params map[string]decimal.Decimal) ([]decimal.Decimal, error) {
		called = true
		return []decimal.Decimal{decimal.NewFromInt(99)}, nil
	})
	out, err := k.Compute(IndicatorSMA, nil, nil)
	if err != nil {
		t.Fatalf("Compute after Register override: %v", err)
	}
	if !called {
		t.Fatal("overridden SMA function was not called")
	}
	if !out[0].Equal(decimal.NewFromInt(99)) {
		t.Fatalf("Compute after override = %s, want 99", out[0])
	}
}

func TestSqrtDecimal(t *testing.T) {
	got := sqrtDecimal(decimal.NewFromInt(16))
	want := decimal.NewFromInt(4)
	if diff := got.Sub(want).Abs(); diff.GreaterThan(decimal.NewFromFloat(0.0001)) {
		t.Fatalf("sqrtDecimal(16) = %s, want ~%s", got, want)
	}
}

func TestSqrtDecimalNonPositive(t *testing.T) {
	if got := sqrtDecimal(decimal.Zero); !got.IsZero() {
		t.Fatalf("sqrtDecimal(0) = %s, want 0", got)
	}
	if got := sqrtDecimal(decimal.NewFromInt(-4)); !got.IsZero() {
		t.Fatalf("sqrtDecimal(-4) = %s, want 0", got)
	}
}
