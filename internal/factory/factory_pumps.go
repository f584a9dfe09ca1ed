package factory

import (
	"reflect"

	"github.com/atlas-desktop/backtest-engine/internal/events"
	"github.com/atlas-desktop/backtest-engine/internal/node"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// wirePumps spawns the per-node listener goroutine that turns a generic
// graph event into the concrete call each node kind expects. The node
// types themselves only expose "do the work for this trigger" methods
// (Advance, OnKlineUpdate, Dispatch, Feed, Submit); translating "an event arrived
// on input handle X" into "call the right method with the right operand"
// is wiring the factory owns, grounded on the teacher's event dispatch
// switchyard in internal/orchestrator/orchestrator.go (one central place
// reading a tagged event and routing it to the collaborator that handles
// that tag).
func (b *builder) wirePumps() {
	for id, rt := range b.runtimes {
		n := b.nodes[id]
		switch rt.Kind {
		case types.NodeKindKline:
			b.pumpKline(rt, n.(*node.KlineNode))
		case types.NodeKindIndicator:
			b.pumpIndicator(rt, n.(*node.IndicatorNode))
		case types.NodeKindVariable:
			b.pumpVariable(rt, n.(*node.VariableNode))
		case types.NodeKindIfElse:
			b.pumpIfElse(rt, n.(*node.IfElseNode))
		case types.NodeKindFuturesOrder:
			b.pumpFuturesOrder(rt, n.(*node.FuturesOrderNode))
		}
	}
}

// pumpKline drives a Kline node off the playback driver's cycle-index
// watch rather than off a graph input: the kline series is its own
// source, not downstream of anything else in the graph.
func (b *builder) pumpKline(rt *node.Runtime, kn *node.KlineNode) {
	rt.Go(func() {
		_, changed := b.watch.Changed()
		for {
			select {
			case <-changed:
			case <-rt.Context().Done():
				return
			}
			var value uint64
			value, changed = b.watch.Changed()
			idx := int(value) - 1
			if idx < 0 {
				continue
			}
			for _, s := range kn.MinIntervalSymbols() {
				key := node.CacheKey(s)
				entry := b.klines.Get(key)
				if entry == nil {
					continue
				}
				candles := entry.Get(idx, 1)
				if len(candles) == 0 {
					continue
				}
				kn.Advance(value, s, candles[0], key)
			}
		}
	})
}

// listen fans in every one of rt's bound inputs via reflect.Select (the
// binding count is fixed per node and typically small, well under the
// handful-of-channels case reflect.Select is meant for) and calls handle
// for each arriving event until the node's context is canceled.
func (b *builder) listen(rt *node.Runtime, handle func(events.Event, *node.InputBinding)) {
	bindings := rt.Inputs()
	if len(bindings) == 0 {
		return
	}
	rt.Go(func() {
		cases := make([]reflect.SelectCase, len(bindings)+1)
		for i, in := range bindings {
			cases[i] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(in.Sub.Events())}
		}
		doneIdx := len(bindings)
		cases[doneIdx] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(rt.Context().Done())}
		for {
			idx, val, ok := reflect.Select(cases)
			if idx == doneIdx || !ok {
				return
			}
			handle(val.Interface().(events.Event), bindings[idx])
		}
	})
}

func (b *builder) pumpIndicator(rt *node.Runtime, n *node.IndicatorNode) {
	b.listen(rt, func(e events.Event, in *node.InputBinding) {
		if e.Kind != events.KindKlineUpdate {
			return
		}
		n.OnKlineUpdate(e.CycleID, in.FromHandle, node.IndicatorOutputHandle)
	})
}

func (b *builder) pumpVariable(rt *node.Runtime, n *node.VariableNode) {
	configs := b.varConfigs[rt.ID]
	b.listen(rt, func(e events.Event, in *node.InputBinding) {
		val := payloadToVariableValue(e)
		for _, cfg := range configs {
			if cfg.SourceHandle != in.HandleID {
				continue
			}
			if err := n.Dispatch(e.CycleID, cfg.ID, val, false, node.VariableOutputHandle); err != nil {
				rt.Logger.Warn("variable dispatch failed", zap.String("config_id", cfg.ID), zap.Error(err))
			}
		}
	})
}

func (b *builder) pumpIfElse(rt *node.Runtime, n *node.IfElseNode) {
	b.listen(rt, func(e events.Event, in *node.InputBinding) {
		n.Feed(e.CycleID, in.HandleID, payloadToVariableValue(e))
	})
}

func (b *builder) pumpFuturesOrder(rt *node.Runtime, n *node.FuturesOrderNode) {
	configs := b.orderConfigs[rt.ID]
	b.listen(rt, func(e events.Event, in *node.InputBinding) {
		if e.Kind != events.KindConditionMatch {
			return
		}
		val := payloadToVariableValue(e)
		for _, cfg := range configs {
			if cfg.SourceHandle != in.HandleID {
				continue
			}
			if _, err := n.Submit(e.CycleID, cfg.ID, val.Number); err != nil {
				rt.Logger.Warn("order submit failed", zap.String("config_id", cfg.ID), zap.Error(err))
			}
		}
	})
}

// payloadToVariableValue coerces a node output event's payload into a
// typed variable value, the same any-to-typed coercion the teacher's
// signal aggregator applies when combining heterogeneous source outputs
// into one confidence score (internal/signals/aggregator.go).
func payloadToVariableValue(e events.Event) types.VariableValue {
	switch p := e.Payload.(type) {
	case types.VariableValue:
		return p
	case types.IndicatorPoint:
		if len(p.Values) == 0 {
			return types.NullValue()
		}
		return types.NumberValue(p.Values[0])
	case types.OHLCV:
		return types.NumberValue(p.Close)
	case decimal.Decimal:
		return types.NumberValue(p)
	default:
		return types.NullValue()
	}
}
