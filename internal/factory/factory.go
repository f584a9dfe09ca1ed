// Package factory assembles a live strategy.Strategy — graph, node
// runtimes, VTS, variable store, playback driver, and the per-node pumps
// that translate generic graph events into each node kind's concrete
// entry point — from a wire-format types.GraphDefinition. Grounded on the
// teacher's orchestrator wiring in internal/orchestrator/orchestrator.go,
// which likewise reads one configuration struct and assembles a running
// set of collaborators before starting them.
package factory

import (
	"reflect"
	"time"

	"github.com/atlas-desktop/backtest-engine/internal/benchmark"
	"github.com/atlas-desktop/backtest-engine/internal/cache"
	"github.com/atlas-desktop/backtest-engine/internal/events"
	"github.com/atlas-desktop/backtest-engine/internal/graph"
	"github.com/atlas-desktop/backtest-engine/internal/node"
	"github.com/atlas-desktop/backtest-engine/internal/playback"
	"github.com/atlas-desktop/backtest-engine/internal/strategy"
	"github.com/atlas-desktop/backtest-engine/internal/variable"
	"github.com/atlas-desktop/backtest-engine/internal/vts"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Options bundles a strategy's out-of-graph collaborators: the exchange
// client, the indicator math kernel, and the external bus the API layer
// subscribes to. All three are opaque boundaries the graph's nodes call
// into, never constructed by the graph itself.
type Options struct {
	Logger  *zap.Logger
	Bus     *events.Bus
	Adapter node.ExchangeAdapter
	Kernel  *node.IndicatorKernel
	MaxBars uint64 // total replayable cycles; 0 lets the driver run unbounded
}

// Build decodes def into live node runtimes wired into a graph.Graph,
// assembles the owning strategy.Strategy, and returns it together with the
// Strategy Event Sink that must be started (sink.Run()) once the caller is
// ready to observe node output.
func Build(def types.GraphDefinition, opts Options) (*strategy.Strategy, *strategy.Sink, error) {
	if opts.Kernel == nil {
		opts.Kernel = node.NewIndicatorKernel()
	}
	g := graph.New()
	driver := playback.New(opts.MaxBars)
	vars := variable.NewStore()
	machine := vts.New(opts.Logger, def.StrategyID+"_vts_output")
	bench := benchmark.NewBenchmark()
	klineCache := cache.NewStore[types.OHLCV](func(c types.OHLCV) time.Time { return c.Timestamp })

	st := strategy.New(strategy.Config{
		ID:         def.StrategyID,
		Logger:     opts.Logger,
		Graph:      g,
		Driver:     driver,
		Variables:  vars,
		VTS:        machine,
		Benchmark:  bench,
		KlineCache: klineCache,
		Bus:        opts.Bus,
	})

	b := &builder{def: def, opts: opts, graph: g, st: st, vars: vars, vts: machine, klines: klineCache, watch: st.Watch(), driver: driver,
		runtimes: make(map[string]*node.Runtime), nodes: make(map[string]any),
		varConfigs: make(map[string][]node.VariableUpdateConfig), orderConfigs: make(map[string][]node.OrderConfig)}
	for _, nc := range def.Nodes {
		if err := b.build(nc); err != nil {
			return nil, nil, err
		}
	}
	for _, e := range def.Edges {
		edge := graph.Edge{FromNode: e.FromNode, FromHandle: e.FromHandle, ToNode: e.ToNode, ToHandle: e.ToHandle}
		if err := g.AddEdge(edge); err != nil {
			return nil, nil, err
		}
	}
	b.wirePumps()

	strategyOutputs := make([]*events.OutputHandle, 0, len(b.runtimes))
	for _, rt := range b.runtimes {
		strategyOutputs = append(strategyOutputs, rt.StrategyOutput())
	}
	sink := strategy.NewSink(st, strategyOutputs)
	return st, sink, nil
}

// builder carries in-progress assembly state across the per-kind
// construction and pump-wiring methods below.
type builder struct {
	def    types.GraphDefinition
	opts   Options
	graph  *graph.Graph
	st     *strategy.Strategy
	vars   *variable.Store
	vts    *vts.VTS
	klines *cache.Store[types.OHLCV]
	watch  *events.Watch
	driver *playback.Driver

	runtimes map[string]*node.Runtime
	nodes    map[string]any // node id -> concrete *node.XxxNode, for pump wiring

	varConfigs   map[string][]node.VariableUpdateConfig
	orderConfigs map[string][]node.OrderConfig
}

// decodeParams fills out from a NodeConfig's loosely-typed params map, coercing
// RFC3339 timestamps and numeric/string literals into decimal.Decimal —
// the same JSON-payload-to-typed-struct boundary viper's own mapstructure
// dependency exists to cross, here applied to the strategy-creation wire
// format instead of a YAML config file.
func decodeParams(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			decimalDecodeHook,
		),
	})
	if err != nil {
		return types.Wrap(types.CodeConfigDeserialization, err)
	}
	if err := dec.Decode(params); err != nil {
		return types.Wrap(types.CodeConfigDeserialization, err)
	}
	return nil
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

func decimalDecodeHook(from, to reflect.Type, data any) (any, error) {
	if to != decimalType {
		return data, nil
	}
	switch v := data.(type) {
	case decimal.Decimal:
		return v, nil
	case string:
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	default:
		return data, nil
	}
}

func (b *builder) build(nc types.NodeConfig) error {
	rt := node.NewRuntime(nc.ID, nc.Kind, b.opts.Logger, nil, b.st.Commands(), b.watch)
	b.runtimes[nc.ID] = rt

	var lifecycle strategy.NodeLifecycle
	var err error
	switch nc.Kind {
	case types.NodeKindStart:
		lifecycle, err = b.buildStart(rt, nc)
	case types.NodeKindKline:
		lifecycle, err = b.buildKline(rt, nc)
	case types.NodeKindIndicator:
		lifecycle, err = b.buildIndicator(rt, nc)
	case types.NodeKindVariable:
		lifecycle, err = b.buildVariable(rt, nc)
	case types.NodeKindIfElse:
		lifecycle, err = b.buildIfElse(rt, nc)
	case types.NodeKindFuturesOrder:
		lifecycle, err = b.buildFuturesOrder(rt, nc)
	case types.NodeKindPosition:
		lifecycle, err = b.buildPosition(rt, nc)
	default:
		return types.NewStrategyError(types.CodeConfigDeserialization, nil)
	}
	if err != nil {
		return err
	}
	b.graph.AddNode(nc.ID, rt)
	b.st.AddNode(nc.ID, lifecycle)
	return nil
}
