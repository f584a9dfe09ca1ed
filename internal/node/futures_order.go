package node

import (
	"sync"

	"github.com/atlas-desktop/backtest-engine/internal/events"
	"github.com/atlas-desktop/backtest-engine/internal/vts"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderConfig is one configured order-placement rule: side, type, sizing,
// and TP/SL levels, keyed by ID so a single FuturesOrder node can host
// several independently triggered configs, per §4.10.
type OrderConfig struct {
	ID           string
	Symbol       string
	Exchange     string
	Side         types.OrderSide
	Type         types.OrderType
	Quantity     decimal.Decimal
	TakeProfit   decimal.Decimal
	StopLoss     decimal.Decimal
	SourceHandle string // local input handle id that triggers this config
}

// orderStatuses is the handle-naming status vocabulary from §4.10; "placed"
// is only ever registered for Limit-typed configs.
var orderStatuses = []string{"created", "placed", "partial", "filled", "canceled", "expired", "rejected", "error"}

// allStatusHandle names the per-config handle every lifecycle event for
// configID fans out to regardless of status.
func allStatusHandle(nodeID, configID string) string {
	return nodeID + "_all_status_output_" + configID
}

// statusHandle names the per-config, per-status output handle.
func statusHandle(nodeID, configID, status string) string {
	return nodeID + "_" + status + "_output_" + configID
}

// FuturesOrderNode submits orders into the shared VTS on ConditionMatch and
// asynchronously projects the VTS's order lifecycle broadcast back onto its
// own per-config, per-status output handles, grounded on position.go's
// subscribe-filter-reemit pattern and generalized to §4.10's per-config
// ledger (is_processing_order / unfilled_virtual_order /
// virtual_order_history / virtual_transaction_history).
type FuturesOrderNode struct {
	*Runtime

	vts *vts.VTS
	sub *events.Subscription

	mu                sync.Mutex
	configs           map[string]OrderConfig
	isProcessingOrder map[string]bool
	unfilledOrder     map[string]string // configID -> orderID
	orderHistory      map[string][]*types.VirtualOrder
	txnHistory        []*types.VirtualTransaction
}

// NewFuturesOrderNode creates a FuturesOrder node submitting into v,
// registering the all_status and per-status output handles §4.10 names for
// every config.
func NewFuturesOrderNode(rt *Runtime, v *vts.VTS, configs []OrderConfig) *FuturesOrderNode {
	indexed := make(map[string]OrderConfig, len(configs))
	for _, c := range configs {
		indexed[c.ID] = c
		rt.AddOutput(allStatusHandle(rt.ID, c.ID))
		for _, status := range orderStatuses {
			if status == "placed" && c.Type != types.OrderTypeLimit {
				continue
			}
			rt.AddOutput(statusHandle(rt.ID, c.ID, status))
		}
		rt.AddOutput(statusHandle(rt.ID, c.ID, "take_profit"))
		rt.AddOutput(statusHandle(rt.ID, c.ID, "stop_loss"))
	}
	return &FuturesOrderNode{
		Runtime:           rt,
		vts:               v,
		sub:               v.Events().Subscribe(),
		configs:           indexed,
		isProcessingOrder: make(map[string]bool),
		unfilledOrder:     make(map[string]string),
		orderHistory:      make(map[string][]*types.VirtualOrder),
	}
}

// Init completes immediately; the node has no external dependency beyond
// the already-initialized VTS it was constructed with.
func (n *FuturesOrderNode) Init() error {
	return n.Initialize(func(acts []Action) error {
		n.SignalReady()
		return nil
	})
}

// Start launches the listener goroutine that projects vts's lifecycle
// broadcast onto this node's per-config output handles.
func (n *FuturesOrderNode) Start() error {
	return n.Runtime.Start(func(acts []Action) error {
		n.Go(func() {
			for {
				select {
				case e, ok := <-n.sub.Events():
					if !ok {
						return
					}
					if e.NodeID != n.ID {
						continue
					}
					n.handleLifecycleEvent(e)
				case <-n.Context().Done():
					return
				}
			}
		})
		return nil
	})
}

// Submit places configID's order at price, marking it in-flight; the
// resulting Created (and, for Limit orders, Placed) events arrive
// asynchronously on n.sub and are handled by handleLifecycleEvent.
func (n *FuturesOrderNode) Submit(cycleID uint64, configID string, price decimal.Decimal) (*types.VirtualOrder, error) {
	n.mu.Lock()
	cfg, ok := n.configs[configID]
	n.mu.Unlock()
	if !ok {
		return nil, types.NewStrategyError(types.CodeOrderConfigNotFound, nil)
	}
	n.mu.Lock()
	n.isProcessingOrder[configID] = true
	n.mu.Unlock()
	order := n.vts.CreateOrder(cycleID, n.ID, cfg.ID, cfg.Symbol, cfg.Exchange, cfg.Side, cfg.Type, cfg.Quantity, price, cfg.TakeProfit, cfg.StopLoss)
	return order, nil
}

func (n *FuturesOrderNode) handleLifecycleEvent(e events.Event) {
	switch e.Kind {
	case events.KindOrderCreated:
		n.onOrderCreated(e)
	case events.KindOrderPlaced:
		n.sendOrderStatusEvent(e, "placed")
	case events.KindOrderFilled:
		n.onOrderFilled(e)
	case events.KindOrderCanceled:
		n.onOrderTerminal(e, "canceled")
	case events.KindOrderExpired:
		n.onOrderTerminal(e, "expired")
	case events.KindOrderRejected:
		n.onOrderTerminal(e, "rejected")
	case events.KindTakeProfitHit:
		n.sendPositionStatusEvent(e, "take_profit")
	case events.KindStopLossHit:
		n.sendPositionStatusEvent(e, "stop_loss")
	case events.KindTransactionCreated:
		n.onTransactionCreated(e)
	}
}

func (n *FuturesOrderNode) orderConfigID(e events.Event) (string, bool) {
	order, ok := e.Payload.(*types.VirtualOrder)
	if !ok {
		return "", false
	}
	return order.OrderConfigID, true
}

func (n *FuturesOrderNode) onOrderCreated(e events.Event) {
	configID, ok := n.orderConfigID(e)
	if !ok {
		return
	}
	order := e.Payload.(*types.VirtualOrder)
	n.mu.Lock()
	n.unfilledOrder[configID] = order.OrderID
	n.mu.Unlock()
	n.Logger.Info("order created", zap.String("config_id", configID), zap.String("order_id", order.OrderID))
	n.sendOrderStatusEvent(e, "created")
}

func (n *FuturesOrderNode) onOrderFilled(e events.Event) {
	configID, ok := n.orderConfigID(e)
	if !ok {
		return
	}
	order := e.Payload.(*types.VirtualOrder)
	n.mu.Lock()
	delete(n.unfilledOrder, configID)
	n.isProcessingOrder[configID] = false
	n.orderHistory[configID] = append(n.orderHistory[configID], order)
	n.mu.Unlock()
	n.Logger.Info("order filled", zap.String("config_id", configID), zap.String("order_id", order.OrderID))
	n.sendOrderStatusEvent(e, "filled")
}

func (n *FuturesOrderNode) onOrderTerminal(e events.Event, status string) {
	configID, ok := n.orderConfigID(e)
	if !ok {
		return
	}
	n.mu.Lock()
	delete(n.unfilledOrder, configID)
	n.isProcessingOrder[configID] = false
	n.mu.Unlock()
	n.sendOrderStatusEvent(e, status)
}

// sendOrderStatusEvent ALWAYS publishes to the strategy handle before
// attempting per-status fan-out, per §4.10's ordering invariant.
func (n *FuturesOrderNode) sendOrderStatusEvent(e events.Event, status string) {
	configID, ok := n.orderConfigID(e)
	if !ok {
		return
	}
	n.fanOut(e, configID, status)
}

func (n *FuturesOrderNode) sendPositionStatusEvent(e events.Event, status string) {
	pos, ok := e.Payload.(*types.VirtualPosition)
	if !ok {
		return
	}
	n.fanOut(e, pos.OrderConfigID, status)
}

func (n *FuturesOrderNode) fanOut(e events.Event, configID, status string) {
	n.EmitStrategy(e)

	all := allStatusHandle(n.ID, configID)
	specific := statusHandle(n.ID, configID, status)
	if _, ok := n.Output(all); ok {
		n.EmitGraphOnly(all, events.New(e.Kind, e.CycleID, n.ID, all, e.Payload))
	}
	if _, ok := n.Output(specific); ok {
		n.EmitGraphOnly(specific, events.New(e.Kind, e.CycleID, n.ID, specific, e.Payload))
	}
	n.EmitLeafCompletion(e.CycleID)
}

func (n *FuturesOrderNode) onTransactionCreated(e events.Event) {
	txn, ok := e.Payload.(*types.VirtualTransaction)
	if !ok {
		return
	}
	n.mu.Lock()
	n.txnHistory = append(n.txnHistory, txn)
	n.mu.Unlock()
	n.EmitStrategy(e)
}

// Transactions returns every transaction this node has recorded.
func (n *FuturesOrderNode) Transactions() []*types.VirtualTransaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*types.VirtualTransaction(nil), n.txnHistory...)
}

// OrderHistory returns configID's filled orders; canceled, expired and
// rejected orders are not recorded here.
func (n *FuturesOrderNode) OrderHistory(configID string) []*types.VirtualOrder {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*types.VirtualOrder(nil), n.orderHistory[configID]...)
}

// IsProcessing reports whether configID currently has an order awaiting a
// terminal lifecycle event.
func (n *FuturesOrderNode) IsProcessing(configID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.isProcessingOrder[configID]
}

// Shutdown unsubscribes from the VTS and tears the node down.
func (n *FuturesOrderNode) Shutdown() error {
	defer n.SignalStopped()
	defer n.sub.Close()
	return n.Stop()
}
