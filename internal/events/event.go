// Package events implements the typed event model that nodes exchange over
// the strategy graph: broadcast output/input handles, the single-value
// watch channel driving the cycle clock, the request/response command
// pattern, and the external re-publishing bus.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Kind tags an Event's payload shape. The set mirrors the sum type in the
// data model: pass-through pulses, leaf completion, logs, data updates,
// branch selection, and order/position lifecycle.
type Kind string

const (
	KindTrigger          Kind = "trigger"
	KindExecuteOver      Kind = "execute_over"
	KindRunningLog       Kind = "running_log"
	KindStateLog         Kind = "state_log"
	KindKlineUpdate      Kind = "kline_update"
	KindIndicatorUpdate  Kind = "indicator_update"
	KindCustomVarUpdate  Kind = "custom_var_update"
	KindSysVarUpdate     Kind = "sys_var_update"
	KindConditionMatch   Kind = "condition_match"
	KindOrderCreated     Kind = "order_created"
	KindOrderPlaced      Kind = "order_placed"
	KindOrderFilled      Kind = "order_filled"
	KindOrderCanceled    Kind = "order_canceled"
	KindOrderExpired     Kind = "order_expired"
	KindOrderRejected    Kind = "order_rejected"
	KindTakeProfitHit    Kind = "take_profit_hit"
	KindStopLossHit      Kind = "stop_loss_hit"
	KindTransactionCreated Kind = "transaction_created"
	KindPositionCreated  Kind = "position_created"
	KindPositionUpdated  Kind = "position_updated"
	KindPositionClosed   Kind = "position_closed"
	KindPerformanceUpdate Kind = "performance_update"
)

// Event is the single envelope every node emits and consumes. Payload
// carries the kind-specific data; callers type-assert it the way the
// teacher's handlers switch on EventType before reading a concrete struct.
type Event struct {
	ID        string
	Kind      Kind
	CycleID   uint64
	NodeID    string
	HandleID  string
	Timestamp time.Time
	Payload   any
}

// New builds an Event stamped with a fresh id and the current time.
func New(kind Kind, cycleID uint64, nodeID, handleID string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		CycleID:   cycleID,
		NodeID:    nodeID,
		HandleID:  handleID,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// Trigger builds a no-op pulse used to propagate the cycle through a node
// that has nothing else to emit this cycle.
func Trigger(cycleID uint64, nodeID, handleID string) Event {
	return New(KindTrigger, cycleID, nodeID, handleID, nil)
}

// ExecuteOverPayload marks a leaf node's cycle work as complete.
type ExecuteOverPayload struct{}

// ExecuteOver builds the event a leaf emits once its cycle work is done.
func ExecuteOver(cycleID uint64, nodeID string) Event {
	return New(KindExecuteOver, cycleID, nodeID, nodeID+"_strategy_output", ExecuteOverPayload{})
}

// LogPayload is the body of RunningLog/StateLog events.
type LogPayload struct {
	Level   string
	Message string
	Fields  map[string]any
}

// RunningLog builds an operational log event forwarded to the external bus.
func RunningLog(cycleID uint64, nodeID, message string, fields map[string]any) Event {
	return New(KindRunningLog, cycleID, nodeID, nodeID+"_strategy_output", LogPayload{
		Level: "info", Message: message, Fields: fields,
	})
}

// StateLog builds a node state-transition log event.
func StateLog(cycleID uint64, nodeID, message string, fields map[string]any) Event {
	return New(KindStateLog, cycleID, nodeID, nodeID+"_strategy_output", LogPayload{
		Level: "info", Message: message, Fields: fields,
	})
}

// StaleForCycle reports whether e carries a cycle id earlier than current,
// meaning it must be dropped by any node keying behavior on the cycle index.
func (e Event) StaleForCycle(current uint64) bool {
	return e.CycleID < current
}
