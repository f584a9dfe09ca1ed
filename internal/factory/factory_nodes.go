package factory

import (
	"time"

	"github.com/atlas-desktop/backtest-engine/internal/node"
	"github.com/atlas-desktop/backtest-engine/internal/strategy"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// startParams decodes a Start node's params.
type startParams struct {
	PlaySpeed int `mapstructure:"playSpeed"`
}

func (b *builder) buildStart(rt *node.Runtime, nc types.NodeConfig) (strategy.NodeLifecycle, error) {
	var p startParams
	if err := decodeParams(nc.Params, &p); err != nil {
		return nil, err
	}
	n := node.NewStartNode(rt, p.PlaySpeed)
	b.driver.SetPlaySpeed(n.PlaySpeed)
	b.nodes[nc.ID] = n
	return n, nil
}

// klineSymbolParams is one entry in a Kline node's symbols list.
type klineSymbolParams struct {
	Symbol   string `mapstructure:"symbol"`
	Exchange string `mapstructure:"exchange"`
	Interval string `mapstructure:"interval"`
}

type klineParams struct {
	Symbols []klineSymbolParams `mapstructure:"symbols"`
	MaxBars int                 `mapstructure:"maxBars"`
	Start   time.Time           `mapstructure:"start"`
	End     time.Time           `mapstructure:"end"`
}

func (b *builder) buildKline(rt *node.Runtime, nc types.NodeConfig) (strategy.NodeLifecycle, error) {
	var p klineParams
	if err := decodeParams(nc.Params, &p); err != nil {
		return nil, err
	}
	symbols := make([]node.SymbolSpec, len(p.Symbols))
	for i, s := range p.Symbols {
		symbols[i] = node.SymbolSpec{Symbol: s.Symbol, Exchange: s.Exchange, Interval: s.Interval}
	}
	adapter := b.opts.Adapter
	if adapter == nil {
		adapter = node.NewInMemoryAdapter()
	}
	n := node.NewKlineNode(rt, adapter, symbols, p.MaxBars, b.klines)
	b.nodes[nc.ID] = n
	return &klineLifecycle{KlineNode: n, start: p.Start, end: p.End}, nil
}

// klineLifecycle adapts KlineNode's (start, end)-taking Init to the
// strategy's uniform NodeLifecycle contract.
type klineLifecycle struct {
	*node.KlineNode
	start, end time.Time
}

func (l *klineLifecycle) Init() error { return l.KlineNode.Init(l.start, l.end) }

// indicatorConfigParams is one entry in an Indicator node's configs list.
type indicatorConfigParams struct {
	ID       string                     `mapstructure:"id"`
	Kind     node.IndicatorKind         `mapstructure:"kind"`
	Window   int                        `mapstructure:"window"`
	Params   map[string]decimal.Decimal `mapstructure:"params"`
	CacheKey string                     `mapstructure:"cacheKey"`
}

type indicatorParams struct {
	Configs []indicatorConfigParams `mapstructure:"configs"`
}

func (b *builder) buildIndicator(rt *node.Runtime, nc types.NodeConfig) (strategy.NodeLifecycle, error) {
	var p indicatorParams
	if err := decodeParams(nc.Params, &p); err != nil {
		return nil, err
	}
	configs := make([]node.IndicatorConfig, len(p.Configs))
	for i, c := range p.Configs {
		configs[i] = node.IndicatorConfig{ID: c.ID, Kind: c.Kind, Window: c.Window, Params: c.Params, CacheKey: c.CacheKey}
	}
	n := node.NewIndicatorNode(rt, b.opts.Kernel, configs, b.klines)
	b.nodes[nc.ID] = n
	return n, nil
}

// errorPolicyParams decodes one ErrorKind's remediation policy.
type errorPolicyParams struct {
	Kind    types.ErrorPolicyKind `mapstructure:"kind"`
	Replace types.VariableValue   `mapstructure:"replace"`
}

type variableConfigParams struct {
	ID           string                                 `mapstructure:"id"`
	Operation    types.VariableOp                       `mapstructure:"operation"`
	Target       string                                 `mapstructure:"target"`
	Op           types.UpdateOperator                   `mapstructure:"op"`
	SourceHandle string                                 `mapstructure:"sourceHandle"`
	Policies     map[types.ErrorKind]errorPolicyParams `mapstructure:"policies"`
}

type variableParams struct {
	Configs []variableConfigParams `mapstructure:"configs"`
}

func (b *builder) buildVariable(rt *node.Runtime, nc types.NodeConfig) (strategy.NodeLifecycle, error) {
	var p variableParams
	if err := decodeParams(nc.Params, &p); err != nil {
		return nil, err
	}
	configs := make([]node.VariableUpdateConfig, len(p.Configs))
	for i, c := range p.Configs {
		policies := make(map[types.ErrorKind]types.ErrorPolicy, len(c.Policies))
		for k, v := range c.Policies {
			policies[k] = types.ErrorPolicy{Kind: v.Kind, Replace: v.Replace}
		}
		op := c.Operation
		if op == "" {
			op = types.VariableOpUpdate
		}
		configs[i] = node.VariableUpdateConfig{ID: c.ID, Operation: op, Target: c.Target, Op: c.Op, Policies: policies, SourceHandle: c.SourceHandle}
	}
	n := node.NewVariableNode(rt, b.vars, configs)
	b.nodes[nc.ID] = n
	b.varConfigs[nc.ID] = configs
	return n, nil
}

type ifElseCaseParams struct {
	OutputHandle string          `mapstructure:"outputHandle"`
	Comparator   node.Comparator `mapstructure:"comparator"`
}

type ifElseParams struct {
	Cases       []ifElseCaseParams `mapstructure:"cases"`
	ElseOutput  string             `mapstructure:"elseOutput"`
	LeftHandle  string             `mapstructure:"leftHandle"`
	RightHandle string             `mapstructure:"rightHandle"`
}

func (b *builder) buildIfElse(rt *node.Runtime, nc types.NodeConfig) (strategy.NodeLifecycle, error) {
	var p ifElseParams
	if err := decodeParams(nc.Params, &p); err != nil {
		return nil, err
	}
	cases := make([]node.Case, len(p.Cases))
	for i, c := range p.Cases {
		cases[i] = node.Case{OutputHandle: c.OutputHandle, Comparator: c.Comparator}
	}
	n := node.NewIfElseNode(rt, cases, p.ElseOutput, p.LeftHandle, p.RightHandle)
	b.nodes[nc.ID] = n
	return n, nil
}

type orderConfigParams struct {
	ID           string          `mapstructure:"id"`
	Symbol       string          `mapstructure:"symbol"`
	Exchange     string          `mapstructure:"exchange"`
	Side         types.OrderSide `mapstructure:"side"`
	Type         types.OrderType `mapstructure:"type"`
	Quantity     decimal.Decimal `mapstructure:"quantity"`
	TakeProfit   decimal.Decimal `mapstructure:"takeProfit"`
	StopLoss     decimal.Decimal `mapstructure:"stopLoss"`
	SourceHandle string          `mapstructure:"sourceHandle"`
}

type futuresOrderParams struct {
	Configs []orderConfigParams `mapstructure:"configs"`
}

func (b *builder) buildFuturesOrder(rt *node.Runtime, nc types.NodeConfig) (strategy.NodeLifecycle, error) {
	var p futuresOrderParams
	if err := decodeParams(nc.Params, &p); err != nil {
		return nil, err
	}
	configs := make([]node.OrderConfig, len(p.Configs))
	for i, c := range p.Configs {
		configs[i] = node.OrderConfig{
			ID: c.ID, Symbol: c.Symbol, Exchange: c.Exchange, Side: c.Side, Type: c.Type,
			Quantity: c.Quantity, TakeProfit: c.TakeProfit, StopLoss: c.StopLoss,
			SourceHandle: c.SourceHandle,
		}
	}
	n := node.NewFuturesOrderNode(rt, b.vts, configs)
	b.nodes[nc.ID] = n
	b.orderConfigs[nc.ID] = configs
	return &futuresOrderLifecycle{FuturesOrderNode: n}, nil
}

// futuresOrderLifecycle folds FuturesOrderNode's separate Start call into
// Init, the same pattern positionLifecycle uses, so the VTS lifecycle
// listener is running as soon as the node reaches Ready.
type futuresOrderLifecycle struct {
	*node.FuturesOrderNode
}

func (l *futuresOrderLifecycle) Init() error {
	if err := l.FuturesOrderNode.Init(); err != nil {
		return err
	}
	return l.FuturesOrderNode.Start()
}

func (b *builder) buildPosition(rt *node.Runtime, nc types.NodeConfig) (strategy.NodeLifecycle, error) {
	n := node.NewPositionNode(rt, b.vts)
	b.nodes[nc.ID] = n
	return &positionLifecycle{PositionNode: n}, nil
}

// positionLifecycle folds PositionNode's separate Start call into Init so
// the listener goroutine is running as soon as the node reaches Ready.
type positionLifecycle struct {
	*node.PositionNode
}

func (l *positionLifecycle) Init() error {
	if err := l.PositionNode.Init(); err != nil {
		return err
	}
	return l.PositionNode.Start(node.PositionOutputHandle)
}
