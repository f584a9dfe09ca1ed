package node

import (
	"github.com/atlas-desktop/backtest-engine/internal/events"
	"github.com/atlas-desktop/backtest-engine/internal/variable"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
)

// VariableUpdateConfig is one update rule: on trigger, read source (a
// custom/sys variable name or a literal value supplied by the caller),
// apply op, resolve against policies, and store the result under Target.
type VariableUpdateConfig struct {
	ID           string
	Operation    types.VariableOp // get | update | reset; defaults to update
	Target       string
	Op           types.UpdateOperator
	Policies     map[types.ErrorKind]types.ErrorPolicy
	SourceHandle string // local input handle id whose events drive this config
}

// VariableNode owns a strategy's custom/system variable store and applies
// update rules as upstream events trigger them, grounded on the teacher's
// PositionSizer parameter-store pattern generalized to arbitrary typed
// variables.
type VariableNode struct {
	*Runtime

	store   *variable.Store
	configs map[string]VariableUpdateConfig
}

// NewVariableNode creates a Variable node over store, indexing configs by ID.
func NewVariableNode(rt *Runtime, store *variable.Store, configs []VariableUpdateConfig) *VariableNode {
	rt.AddOutput(VariableOutputHandle)
	indexed := make(map[string]VariableUpdateConfig, len(configs))
	for _, c := range configs {
		indexed[c.ID] = c
	}
	return &VariableNode{Runtime: rt, store: store, configs: indexed}
}

// VariableOutputHandle is the single output handle every Variable node
// registers.
const VariableOutputHandle = "variable_output"

// Init completes immediately.
func (n *VariableNode) Init() error {
	return n.Initialize(func(acts []Action) error {
		n.SignalReady()
		return nil
	})
}

// Update applies configID's operator with operand (already fetched from
// whatever source the config names), resolving expired/null/zero via the
// configured error policy, and emits CustomVarUpdate on success.
func (n *VariableNode) Update(cycleID uint64, configID string, operand types.VariableValue, expired bool, outputHandleID string) error {
	cfg, ok := n.configs[configID]
	if !ok {
		return types.NewStrategyError(types.CodeOrderConfigNotFound, nil)
	}
	previous, _ := n.store.Get(cfg.Target)
	resolved, apply := variable.Resolve(operand, expired, previous, cfg.Policies)
	if !apply {
		n.EmitLeafCompletion(cycleID)
		return nil
	}
	next, err := n.store.Apply(cfg.Target, cfg.Op, resolved)
	if err != nil {
		return err
	}
	n.Emit(outputHandleID, events.New(events.KindCustomVarUpdate, cycleID, n.ID, outputHandleID, next))
	n.EmitLeafCompletion(cycleID)
	return nil
}

// Get reads configID's target variable without mutating it and emits
// CustomVarUpdate carrying its current value.
func (n *VariableNode) Get(cycleID uint64, configID string, outputHandleID string) error {
	cfg, ok := n.configs[configID]
	if !ok {
		return types.NewStrategyError(types.CodeOrderConfigNotFound, nil)
	}
	current, err := n.store.Get(cfg.Target)
	if err != nil {
		return err
	}
	n.Emit(outputHandleID, events.New(events.KindCustomVarUpdate, cycleID, n.ID, outputHandleID, current))
	n.EmitLeafCompletion(cycleID)
	return nil
}

// Reset restores configID's target variable to its initial value and emits
// CustomVarUpdate carrying the restored value.
func (n *VariableNode) Reset(cycleID uint64, configID string, outputHandleID string) error {
	cfg, ok := n.configs[configID]
	if !ok {
		return types.NewStrategyError(types.CodeOrderConfigNotFound, nil)
	}
	restored, err := n.store.Reset(cfg.Target)
	if err != nil {
		return err
	}
	n.Emit(outputHandleID, events.New(events.KindCustomVarUpdate, cycleID, n.ID, outputHandleID, restored))
	n.EmitLeafCompletion(cycleID)
	return nil
}

// Dispatch routes configID's trigger to Get, Update, or Reset according to
// its configured Operation, matching §4.8's "operation — get | update |
// reset" dispatch at the node level.
func (n *VariableNode) Dispatch(cycleID uint64, configID string, operand types.VariableValue, expired bool, outputHandleID string) error {
	cfg, ok := n.configs[configID]
	if !ok {
		return types.NewStrategyError(types.CodeOrderConfigNotFound, nil)
	}
	switch cfg.Operation {
	case types.VariableOpGet:
		return n.Get(cycleID, configID, outputHandleID)
	case types.VariableOpReset:
		return n.Reset(cycleID, configID, outputHandleID)
	default:
		return n.Update(cycleID, configID, operand, expired, outputHandleID)
	}
}

// Store exposes the underlying variable store, e.g. for the IfElse node's
// condition reads.
func (n *VariableNode) Store() *variable.Store { return n.store }

// Shutdown tears the node down.
func (n *VariableNode) Shutdown() error {
	defer n.SignalStopped()
	return n.Stop()
}
