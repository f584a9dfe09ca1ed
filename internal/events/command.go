package events

import "github.com/google/uuid"

// CommandKind enumerates the strategy- and node-scoped commands the
// external interface recognizes (§6).
type CommandKind string

const (
	CmdGetStrategyKeys          CommandKind = "get_strategy_keys"
	CmdGetMinInterval           CommandKind = "get_min_interval"
	CmdInitKlineData            CommandKind = "init_kline_data"
	CmdAppendKlineData          CommandKind = "append_kline_data"
	CmdGetKlineData             CommandKind = "get_kline_data"
	CmdUpdateKlineData          CommandKind = "update_kline_data"
	CmdInitIndicatorData        CommandKind = "init_indicator_data"
	CmdGetIndicatorData         CommandKind = "get_indicator_data"
	CmdUpdateIndicatorData      CommandKind = "update_indicator_data"
	CmdInitCustomVariableValue  CommandKind = "init_custom_variable_value"
	CmdGetCustomVariableValue   CommandKind = "get_custom_variable_value"
	CmdUpdateCustomVariableValue CommandKind = "update_custom_variable_value"
	CmdResetCustomVariableValue CommandKind = "reset_custom_variable_value"
	CmdUpdateSysVariableValue   CommandKind = "update_sys_variable_value"
	CmdAddNodeCycleTracker      CommandKind = "add_node_cycle_tracker"
	CmdGetCurrentTime           CommandKind = "get_current_time"

	// Node-scoped.
	CmdNodeReset CommandKind = "node_reset"
)

// Command is a request awaiting exactly one Reply on its own channel,
// correlated by ID.
type Command struct {
	ID      string
	Kind    CommandKind
	NodeID  string // non-empty for node-scoped commands
	Payload any
	reply   chan Reply
}

// Reply is the one-shot response to a Command.
type Reply struct {
	Payload any
	Err     error
}

// NewCommand allocates a command with a fresh correlation id and reply
// channel. The caller sends cmd on the appropriate consumer's input and
// receives from the returned channel exactly once.
func NewCommand(kind CommandKind, nodeID string, payload any) (Command, <-chan Reply) {
	reply := make(chan Reply, 1)
	return Command{
		ID:      uuid.NewString(),
		Kind:    kind,
		NodeID:  nodeID,
		Payload: payload,
		reply:   reply,
	}, reply
}

// Respond delivers r to the command's waiter. Safe to call at most once;
// the reply channel is buffered so it never blocks the responder.
func (c Command) Respond(r Reply) {
	c.reply <- r
}
