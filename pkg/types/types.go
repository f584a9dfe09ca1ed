// Package types provides the shared data model for the backtest execution
// core: candles, node identity, event payloads, virtual orders/positions,
// and variable values.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// NodeKind tags the seven node kinds the graph can contain.
type NodeKind string

const (
	NodeKindKline    NodeKind = "kline"
	NodeKindIndicator NodeKind = "indicator"
	NodeKindVariable NodeKind = "variable"
	NodeKindIfElse   NodeKind = "if_else"
	NodeKindFuturesOrder NodeKind = "futures_order"
	NodeKindPosition NodeKind = "position"
	NodeKindStart    NodeKind = "start"
)

// NodeState is a node's lifecycle state.
type NodeState string

const (
	NodeStateCreated      NodeState = "created"
	NodeStateInitializing NodeState = "initializing"
	NodeStateReady        NodeState = "ready"
	NodeStateRunning      NodeState = "running"
	NodeStateStopping     NodeState = "stopping"
	NodeStateStopped      NodeState = "stopped"
	NodeStateFailed       NodeState = "failed"
)

// StrategyState is the strategy-level lifecycle state.
type StrategyState string

const (
	StrategyStateCreated      StrategyState = "created"
	StrategyStateInitializing StrategyState = "initializing"
	StrategyStateReady        StrategyState = "ready"
	StrategyStatePlaying      StrategyState = "playing"
	StrategyStatePaused       StrategyState = "paused"
	StrategyStateStopping     StrategyState = "stopping"
	StrategyStateStopped      StrategyState = "stopped"
	StrategyStateFailed       StrategyState = "failed"
)

// OrderSide is long or short.
type OrderSide string

const (
	OrderSideLong  OrderSide = "long"
	OrderSideShort OrderSide = "short"
)

// OrderType is the virtual order's matching rule.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// OrderStatus is a virtual order's status. Once terminal (Filled, Canceled,
// Expired, Rejected) an order is immutable.
type OrderStatus string

const (
	OrderStatusCreated         OrderStatus = "created"
	OrderStatusPlaced          OrderStatus = "placed"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusExpired         OrderStatus = "expired"
	OrderStatusRejected        OrderStatus = "rejected"
)

// IsTerminal reports whether the status is one an order cannot leave.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusExpired, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// PositionState is open or closed.
type PositionState string

const (
	PositionStateOpen   PositionState = "open"
	PositionStateClosed PositionState = "closed"
)

// VariableType tags a custom variable's value kind.
type VariableType string

const (
	VariableTypeNumber     VariableType = "number"
	VariableTypeBoolean    VariableType = "boolean"
	VariableTypePercentage VariableType = "percentage"
	VariableTypeTime       VariableType = "time"
	VariableTypeNull       VariableType = "null"
)

// UpdateOperator is the arithmetic/logical operator a variable update applies.
type UpdateOperator string

const (
	UpdateOperatorSet    UpdateOperator = "set"
	UpdateOperatorAdd    UpdateOperator = "add"
	UpdateOperatorSub    UpdateOperator = "sub"
	UpdateOperatorMul    UpdateOperator = "mul"
	UpdateOperatorDiv    UpdateOperator = "div"
	UpdateOperatorToggle UpdateOperator = "toggle"
)

// VariableOp is the top-level operation a Variable node config performs.
type VariableOp string

const (
	VariableOpGet    VariableOp = "get"
	VariableOpUpdate VariableOp = "update"
	VariableOpReset  VariableOp = "reset"
)

// ErrorKind classifies why a variable update's source value could not be
// used as-is.
type ErrorKind string

const (
	ErrorKindNullValue ErrorKind = "null_value"
	ErrorKindZeroValue ErrorKind = "zero_value"
	ErrorKindExpired   ErrorKind = "expired"
)

// ErrorPolicyKind is the remediation a variable config picks per ErrorKind.
type ErrorPolicyKind string

const (
	ErrorPolicySkip             ErrorPolicyKind = "skip"
	ErrorPolicyUsePreviousValue ErrorPolicyKind = "use_previous_value"
	ErrorPolicyValueReplace     ErrorPolicyKind = "value_replace"
	ErrorPolicyStillUpdate      ErrorPolicyKind = "still_update"
)

// ErrorPolicy is the action taken for one ErrorKind.
type ErrorPolicy struct {
	Kind    ErrorPolicyKind
	Replace VariableValue // only meaningful when Kind == ErrorPolicyValueReplace
}

// VariableValue is a typed custom/system variable value.
type VariableValue struct {
	Type    VariableType
	Number  decimal.Decimal
	Boolean bool
	Time    time.Time
}

// IsNull reports whether the value carries no data.
func (v VariableValue) IsNull() bool { return v.Type == VariableTypeNull }

// IsZero reports whether a numeric/percentage value is exactly zero.
func (v VariableValue) IsZero() bool {
	switch v.Type {
	case VariableTypeNumber, VariableTypePercentage:
		return v.Number.IsZero()
	default:
		return false
	}
}

// NullValue is the canonical VariableValue carrying no data.
func NullValue() VariableValue { return VariableValue{Type: VariableTypeNull} }

// NumberValue constructs a Number variable value.
func NumberValue(d decimal.Decimal) VariableValue {
	return VariableValue{Type: VariableTypeNumber, Number: d}
}

// OHLCV is a single candle.
type OHLCV struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// VirtualOrder is a simulated order managed entirely in-process by the VTS.
type VirtualOrder struct {
	OrderID       string          `json:"orderId"`
	NodeID        string          `json:"nodeId"`
	OrderConfigID string          `json:"orderConfigId"`
	Symbol        string          `json:"symbol"`
	Side          OrderSide       `json:"side"`
	Type          OrderType       `json:"type"`
	Quantity      decimal.Decimal `json:"quantity"`
	OpenPrice     decimal.Decimal `json:"openPrice"`
	TakeProfit    decimal.Decimal `json:"takeProfit,omitempty"`
	StopLoss      decimal.Decimal `json:"stopLoss,omitempty"`
	Status        OrderStatus     `json:"status"`
	ParentOrderID string          `json:"parentOrderId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	FilledAt      *time.Time      `json:"filledAt,omitempty"`
	FillPrice     decimal.Decimal `json:"fillPrice,omitempty"`
}

// Clone returns a defensive copy, matching the teacher's *Copy := *order
// pattern for data returned across a lock boundary.
func (o *VirtualOrder) Clone() *VirtualOrder {
	c := *o
	return &c
}

// VirtualPosition aggregates filled orders for one (node, config, symbol).
type VirtualPosition struct {
	PositionID    string          `json:"positionId"`
	NodeID        string          `json:"nodeId"`
	OrderConfigID string          `json:"orderConfigId"`
	Symbol        string          `json:"symbol"`
	Exchange      string          `json:"exchange"`
	Side          OrderSide       `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avgEntryPrice"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
	RealizedPnL   decimal.Decimal `json:"realizedPnl"`
	State         PositionState   `json:"state"`
	OpenedAt      time.Time       `json:"openedAt"`
	ClosedAt      *time.Time      `json:"closedAt,omitempty"`
}

// Clone returns a defensive copy.
func (p *VirtualPosition) Clone() *VirtualPosition {
	c := *p
	return &c
}

// VirtualTransaction records one fill that closed (or partially closed) a position.
type VirtualTransaction struct {
	TransactionID string          `json:"transactionId"`
	PositionID    string          `json:"positionId"`
	OrderID       string          `json:"orderId"`
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	EntryPrice    decimal.Decimal `json:"entryPrice"`
	ExitPrice     decimal.Decimal `json:"exitPrice"`
	RealizedPnL   decimal.Decimal `json:"realizedPnl"`
	Timestamp     time.Time       `json:"timestamp"`
}

// IndicatorPoint is one cached indicator computation: a timestamp plus the
// (possibly multi-valued, e.g. Bollinger lower+mean+upper) output.
type IndicatorPoint struct {
	Timestamp time.Time         `json:"timestamp"`
	Values    []decimal.Decimal `json:"values"`
}

// PerformanceReport is the aggregated benchmark output (see internal/benchmark).
type PerformanceReport struct {
	CycleCount int                      `json:"cycleCount"`
	Phases     map[string]*PhaseSummary `json:"phases"`
}

// PhaseSummary is one named phase's aggregated timing.
type PhaseSummary struct {
	Count int           `json:"count"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
}
