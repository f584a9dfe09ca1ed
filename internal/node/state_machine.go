// Package node implements the per-node runtime: the state machine every
// node kind shares, the base execution context (handles, receivers,
// cancellation, cycle tracker), and the seven concrete node kinds.
package node

import (
	"sync"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
)

// Trigger is a state-machine input.
type Trigger string

const (
	TriggerInitialize         Trigger = "initialize"
	TriggerInitializeComplete Trigger = "initialize_complete"
	TriggerStart              Trigger = "start"
	TriggerStartComplete      Trigger = "start_complete"
	TriggerStop               Trigger = "stop"
	TriggerStopComplete       Trigger = "stop_complete"
	TriggerFail               Trigger = "fail"
)

// Action is a descriptor the Runtime executes after a successful
// transition. Node kinds may attach kind-specific actions (RegisterExchange,
// Evaluate, ...) at the same trigger points the generic table defines.
type Action string

const (
	ActionLogTransition                Action = "log_transition"
	ActionLogNodeState                 Action = "log_node_state"
	ActionListenAndHandleNodeEvents    Action = "listen_and_handle_node_events"
	ActionListenAndHandleStrategyCmd   Action = "listen_and_handle_strategy_command"
	ActionRegisterExchange             Action = "register_exchange"
	ActionLoadHistoryFromExchange      Action = "load_history_from_exchange"
	ActionGetMinIntervalSymbols        Action = "get_min_interval_symbols"
	ActionEvaluate                     Action = "evaluate"
	ActionCancelAsyncTask              Action = "cancel_async_task"
)

type transitionKey struct {
	state   types.NodeState
	trigger Trigger
}

type transitionResult struct {
	next    types.NodeState
	actions []Action
}

// StateMachine is a table-driven (state, trigger) -> (state', actions[])
// lifecycle, shared by every node kind. It is safe for concurrent use; a
// single node's transitions are serialized by its Runtime, but Fail can be
// called from any listener goroutine on an unrecoverable error.
type StateMachine struct {
	mu    sync.Mutex
	state types.NodeState
	table map[transitionKey]transitionResult
}

// NewStateMachine creates a machine starting in Created, with extra
// appended to the default per-kind action lists at (Initialize,
// InitializeComplete) and (Stop) so a node kind's own lifecycle hooks run
// alongside the generic logging/listener actions.
func NewStateMachine(extra map[Trigger][]Action) *StateMachine {
	table := defaultTable()
	for trigger, actions := range extra {
		for state, result := range table {
			if state.trigger != trigger {
				continue
			}
			result.actions = append(append([]Action(nil), result.actions...), actions...)
			table[state] = result
		}
	}
	return &StateMachine{state: types.NodeStateCreated, table: table}
}

func defaultTable() map[transitionKey]transitionResult {
	return map[transitionKey]transitionResult{
		{types.NodeStateCreated, TriggerInitialize}: {
			types.NodeStateInitializing,
			[]Action{ActionLogTransition, ActionListenAndHandleStrategyCmd},
		},
		{types.NodeStateInitializing, TriggerInitializeComplete}: {
			types.NodeStateReady,
			[]Action{ActionLogTransition, ActionLogNodeState},
		},
		{types.NodeStateInitializing, TriggerFail}: {
			types.NodeStateFailed,
			[]Action{ActionLogTransition, ActionLogNodeState},
		},
		{types.NodeStateReady, TriggerStart}: {
			types.NodeStateRunning,
			[]Action{ActionLogTransition, ActionListenAndHandleNodeEvents},
		},
		{types.NodeStateRunning, TriggerStartComplete}: {
			types.NodeStateRunning,
			nil,
		},
		{types.NodeStateRunning, TriggerStop}: {
			types.NodeStateStopping,
			[]Action{ActionLogTransition, ActionCancelAsyncTask},
		},
		{types.NodeStateReady, TriggerStop}: {
			types.NodeStateStopping,
			[]Action{ActionLogTransition, ActionCancelAsyncTask},
		},
		{types.NodeStateStopping, TriggerStopComplete}: {
			types.NodeStateStopped,
			[]Action{ActionLogTransition, ActionLogNodeState},
		},
		{types.NodeStateRunning, TriggerFail}: {
			types.NodeStateFailed,
			[]Action{ActionLogTransition, ActionLogNodeState},
		},
	}
}

// Fire applies trigger to the machine's current state, returning the
// actions to execute. An undefined (state, trigger) pair returns
// InvalidStateTransition and leaves the state unchanged.
func (m *StateMachine) Fire(trigger Trigger) ([]Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result, ok := m.table[transitionKey{m.state, trigger}]
	if !ok {
		return nil, types.NewStrategyError(types.CodeInvalidStateTransition, nil)
	}
	m.state = result.next
	return result.actions, nil
}

// State returns the current lifecycle state.
func (m *StateMachine) State() types.NodeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
