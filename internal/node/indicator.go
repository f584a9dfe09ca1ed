package node

import (
	"time"

	"github.com/atlas-desktop/backtest-engine/internal/cache"
	"github.com/atlas-desktop/backtest-engine/internal/events"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// IndicatorConfig is one indicator instance's configuration: which kernel
// function to call, over how many trailing candles, with what parameters.
type IndicatorConfig struct {
	ID       string
	Kind     IndicatorKind
	Window   int
	Params   map[string]decimal.Decimal
	CacheKey string // the Kline node's cache key this indicator reads from
}

// IndicatorNode recomputes its configured indicators whenever the source
// Kline node emits an update, caching and re-broadcasting each result,
// grounded on the teacher's own inline decimal-arithmetic indicator
// recompute-on-new-bar flow in internal/strategy/strategy.go.
type IndicatorNode struct {
	*Runtime

	kernel  *IndicatorKernel
	configs []IndicatorConfig
	source  *cache.Store[types.OHLCV]
	out     *cache.Store[types.IndicatorPoint]
}

// NewIndicatorNode creates an Indicator node evaluating configs against
// candles read from source via kernel.
func NewIndicatorNode(rt *Runtime, kernel *IndicatorKernel, configs []IndicatorConfig, source *cache.Store[types.OHLCV]) *IndicatorNode {
	rt.AddOutput(IndicatorOutputHandle)
	return &IndicatorNode{
		Runtime: rt,
		kernel:  kernel,
		configs: configs,
		source:  source,
		out:     cache.NewStore[types.IndicatorPoint](func(p types.IndicatorPoint) time.Time { return p.Timestamp }),
	}
}

// IndicatorOutputHandle is the single output handle every Indicator node
// registers; downstream edges wire from it regardless of which configured
// indicator produced the update.
const IndicatorOutputHandle = "indicator_output"

// Init completes immediately; the indicator cache starts empty and fills
// in as KlineUpdate events arrive.
func (n *IndicatorNode) Init() error {
	return n.Initialize(func(acts []Action) error {
		n.SignalReady()
		return nil
	})
}

// OnKlineUpdate recomputes every config reading from cacheKey and emits
// IndicatorUpdate for each, in config order.
func (n *IndicatorNode) OnKlineUpdate(cycleID uint64, cacheKey string, outputHandleID string) {
	entry := n.source.Get(cacheKey)
	if entry == nil {
		return
	}
	ct := n.NewCycleTracker(cycleID)
	ct.StartPhase("compute")
	for _, cfg := range n.configs {
		if cfg.CacheKey != cacheKey {
			continue
		}
		window := entry.Get(entry.Length()-1, cfg.Window)
		if len(window) == 0 {
			continue
		}
		values, err := n.kernel.Compute(cfg.Kind, window, cfg.Params)
		if err != nil {
			n.Logger.Warn("indicator compute failed", zap.String("config_id", cfg.ID), zap.Error(err))
			continue
		}
		point := types.IndicatorPoint{Timestamp: window[len(window)-1].Timestamp, Values: values}
		n.out.GetOrCreate(cfg.ID, 0, 0).Update(point)
		n.Emit(outputHandleID, events.New(events.KindIndicatorUpdate, cycleID, n.ID, outputHandleID, point))
	}
	ct.EndPhase("compute")
	ct.End()
	n.Go(func() { n.ReportCycleTracker(ct) })
	n.EmitLeafCompletion(cycleID)
}

// Cache exposes the computed indicator series store.
func (n *IndicatorNode) Cache() *cache.Store[types.IndicatorPoint] { return n.out }

// Shutdown tears the node down.
func (n *IndicatorNode) Shutdown() error {
	defer n.SignalStopped()
	return n.Stop()
}
