package node

import (
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// IndicatorKind identifies a talib-style indicator family. The full
// taxonomy spans overlap/momentum/volume/cycle/price-transform/volatility/
// pattern kinds (~150 in the source); IndicatorKernel below registers a
// representative subset and is open to more via RegisterFunc, the same
// pattern the teacher's StrategyRegistry uses for pluggable strategies.
type IndicatorKind string

const (
	IndicatorSMA         IndicatorKind = "sma"
	IndicatorEMA         IndicatorKind = "ema"
	IndicatorRSI         IndicatorKind = "rsi"
	IndicatorMACD        IndicatorKind = "macd"
	IndicatorBollinger   IndicatorKind = "bollinger_bands"
	IndicatorATR         IndicatorKind = "atr"
	IndicatorOBV         IndicatorKind = "obv"
	IndicatorStochastic  IndicatorKind = "stochastic"
)

// IndicatorFunc computes one indicator's output series entry for the most
// recent bar in window, given params (e.g. "period" -> 14).
type IndicatorFunc func(window []types.OHLCV, params map[string]decimal.Decimal) ([]decimal.Decimal, error)

// IndicatorKernel is the narrow contract the Indicator node calls; the
// actual numeric kernel (talib in the source system) is an opaque external
// collaborator per §4.7 — this type is the boundary plus one concrete,
// decimal-based implementation covering a representative subset.
type IndicatorKernel struct {
	funcs map[IndicatorKind]IndicatorFunc
}

// NewIndicatorKernel returns a kernel pre-registered with SMA, EMA, RSI,
// MACD, Bollinger Bands, ATR, OBV, and Stochastic, grounded on the
// decimal-arithmetic indicator math in the teacher's
// MeanReversionStrategy/RSIDivergenceStrategy/VWAPReversionStrategy.
func NewIndicatorKernel() *IndicatorKernel {
	k := &IndicatorKernel{funcs: make(map[IndicatorKind]IndicatorFunc)}
	k.Register(IndicatorSMA, sma)
	k.Register(IndicatorEMA, ema)
	k.Register(IndicatorRSI, rsi)
	k.Register(IndicatorMACD, macd)
	k.Register(IndicatorBollinger, bollinger)
	k.Register(IndicatorATR, atr)
	k.Register(IndicatorOBV, obv)
	k.Register(IndicatorStochastic, stochastic)
	return k
}

// Register adds or replaces the function backing kind.
func (k *IndicatorKernel) Register(kind IndicatorKind, fn IndicatorFunc) {
	k.funcs[kind] = fn
}

// Compute dispatches to the registered function for kind.
func (k *IndicatorKernel) Compute(kind IndicatorKind, window []types.OHLCV, params map[string]decimal.Decimal) ([]decimal.Decimal, error) {
	fn, ok := k.funcs[kind]
	if !ok {
		return nil, types.NewStrategyError(types.CodeUnsupportedVariableOp, nil)
	}
	return fn(window, params)
}

func periodOf(params map[string]decimal.Decimal, def int) int {
	p, ok := params["period"]
	if !ok {
		return def
	}
	return int(p.IntPart())
}

func closes(window []types.OHLCV) []decimal.Decimal {
	out := make([]decimal.Decimal, len(window))
	for i, c := range window {
		out[i] = c.Close
	}
	return out
}

func sma(window []types.OHLCV, params map[string]decimal.Decimal) ([]decimal.Decimal, error) {
	period := periodOf(params, 20)
	cs := closes(window)
	if len(cs) < period {
		return []decimal.Decimal{decimal.Zero}, nil
	}
	sum := decimal.Zero
	for _, v := range cs[len(cs)-period:] {
		sum = sum.Add(v)
	}
	return []decimal.Decimal{sum.Div(decimal.NewFromInt(int64(period)))}, nil
}

func ema(window []types.OHLCV, params map[string]decimal.Decimal) ([]decimal.Decimal, error) {
	period := periodOf(params, 20)
	cs := closes(window)
	if len(cs) == 0 {
		return []decimal.Decimal{decimal.Zero}, nil
	}
	k := decimal.NewFromFloat(2.0 / float64(period+1))
	ema := cs[0]
	for _, v := range cs[1:] {
		ema = v.Sub(ema).Mul(k).Add(ema)
	}
	return []decimal.Decimal{ema}, nil
}

func rsi(window []types.OHLCV, params map[string]decimal.Decimal) ([]decimal.Decimal, error) {
	period := periodOf(params, 14)
	cs := closes(window)
	if len(cs) <= period {
		return []decimal.Decimal{decimal.NewFromInt(50)}, nil
	}
	var gain, loss decimal.Decimal
	start := len(cs) - period - 1
	for i := start + 1; i < len(cs); i++ {
		diff := cs[i].Sub(cs[i-1])
		if diff.IsPositive() {
			gain = gain.Add(diff)
		} else {
			loss = loss.Add(diff.Neg())
		}
	}
	if loss.IsZero() {
		return []decimal.Decimal{decimal.NewFromInt(100)}, nil
	}
	rs := gain.Div(loss)
	hundred := decimal.NewFromInt(100)
	result := hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
	return []decimal.Decimal{result}, nil
}

func macd(window []types.OHLCV, params map[string]decimal.Decimal) ([]decimal.Decimal, error) {
	fast, err := ema(window, map[string]decimal.Decimal{"period": decimal.NewFromInt(12)})
	if err != nil {
		return nil, err
	}
	slow, err := ema(window, map[string]decimal.Decimal{"period": decimal.NewFromInt(26)})
	if err != nil {
		return nil, err
	}
	line := fast[0].Sub(slow[0])
	return []decimal.Decimal{line}, nil
}

func bollinger(window []types.OHLCV, params map[string]decimal.Decimal) ([]decimal.Decimal, error) {
	period := periodOf(params, 20)
	cs := closes(window)
	if len(cs) < period {
		return []decimal.Decimal{decimal.Zero, decimal.Zero, decimal.Zero}, nil
	}
	slice := cs[len(cs)-period:]
	mean := decimal.Zero
	for _, v := range slice {
		mean = mean.Add(v)
	}
	mean = mean.Div(decimal.NewFromInt(int64(period)))

	variance := decimal.Zero
	for _, v := range slice {
		d := v.Sub(mean)
		variance = variance.Add(d.Mul(d))
	}
	variance = variance.Div(decimal.NewFromInt(int64(period)))
	stddev := sqrtDecimal(variance)

	upper := mean.Add(stddev.Mul(decimal.NewFromInt(2)))
	lower := mean.Sub(stddev.Mul(decimal.NewFromInt(2)))
	return []decimal.Decimal{lower, mean, upper}, nil
}

func atr(window []types.OHLCV, params map[string]decimal.Decimal) ([]decimal.Decimal, error) {
	period := periodOf(params, 14)
	if len(window) < 2 {
		return []decimal.Decimal{decimal.Zero}, nil
	}
	start := len(window) - period
	if start < 1 {
		start = 1
	}
	sum := decimal.Zero
	count := 0
	for i := start; i < len(window); i++ {
		hl := window[i].High.Sub(window[i].Low)
		hc := window[i].High.Sub(window[i-1].Close).Abs()
		lc := window[i].Low.Sub(window[i-1].Close).Abs()
		tr := decimal.Max(hl, decimal.Max(hc, lc))
		sum = sum.Add(tr)
		count++
	}
	if count == 0 {
		return []decimal.Decimal{decimal.Zero}, nil
	}
	return []decimal.Decimal{sum.Div(decimal.NewFromInt(int64(count)))}, nil
}

func obv(window []types.OHLCV, params map[string]decimal.Decimal) ([]decimal.Decimal, error) {
	obv := decimal.Zero
	for i := 1; i < len(window); i++ {
		switch {
		case window[i].Close.GreaterThan(window[i-1].Close):
			obv = obv.Add(window[i].Volume)
		case window[i].Close.LessThan(window[i-1].Close):
			obv = obv.Sub(window[i].Volume)
		}
	}
	return []decimal.Decimal{obv}, nil
}

func stochastic(window []types.OHLCV, params map[string]decimal.Decimal) ([]decimal.Decimal, error) {
	period := periodOf(params, 14)
	if len(window) < period {
		period = len(window)
	}
	if period == 0 {
		return []decimal.Decimal{decimal.Zero}, nil
	}
	slice := window[len(window)-period:]
	lowest, highest := slice[0].Low, slice[0].High
	for _, c := range slice {
		if c.Low.LessThan(lowest) {
			lowest = c.Low
		}
		if c.High.GreaterThan(highest) {
			highest = c.High
		}
	}
	diff := highest.Sub(lowest)
	if diff.IsZero() {
		return []decimal.Decimal{decimal.NewFromInt(50)}, nil
	}
	last := window[len(window)-1].Close
	k := last.Sub(lowest).Div(diff).Mul(decimal.NewFromInt(100))
	return []decimal.Decimal{k}, nil
}

// sqrtDecimal approximates sqrt via Newton's method; decimal.Decimal has
// no native sqrt and standard deviation needs one.
func sqrtDecimal(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() || d.IsZero() {
		return decimal.Zero
	}
	x := d
	for i := 0; i < 20; i++ {
		x = x.Add(d.Div(x)).Div(decimal.NewFromInt(2))
	}
	return x
}
