// Package vts implements the Virtual Trading System: a deterministic,
// single-process order matcher, position aggregator, and transaction
// generator driven synchronously by the cycle clock.
package vts

import (
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/backtest-engine/internal/events"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// positionKey identifies the (node, config, symbol, exchange) a position
// aggregates orders for, grounded on the teacher's Portfolio keying
// positions by symbol in internal/backtester/portfolio.go, generalized to
// the strategy's per-node per-config scoping.
type positionKey struct {
	nodeID, configID, symbol, exchange string
}

func (k positionKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.nodeID, k.configID, k.symbol, k.exchange)
}

// VTS is a strategy-scoped, single-writer order matcher. All mutation goes
// through mu; reads may use RLock, matching the spec's RW-lock single-writer
// discipline.
type VTS struct {
	mu sync.RWMutex

	logger *zap.Logger
	out    *events.OutputHandle // lifecycle broadcast: order + position + transaction events

	orders          map[string]*types.VirtualOrder
	unfilledOrder   []string // order ids, submission order, across all symbols
	positions       map[positionKey]*types.VirtualPosition
	closedPositions []*types.VirtualPosition
	transactions    []*types.VirtualTransaction

	now time.Time
}

// New creates a VTS. outputID names the broadcast output handle lifecycle
// events are published on (e.g. "<node_id>_vts_output").
func New(logger *zap.Logger, outputID string) *VTS {
	return &VTS{
		logger:    logger,
		out:       events.NewOutputHandle(outputID),
		orders:    make(map[string]*types.VirtualOrder),
		positions: make(map[positionKey]*types.VirtualPosition),
	}
}

// Events returns the broadcast output futures-order and position nodes
// subscribe to for lifecycle events.
func (v *VTS) Events() *events.OutputHandle { return v.out }

// CreateOrder enters a new order. Market and limit orders start Created;
// limit orders surface a distinct Placed transition once accepted, matching
// §4.10's "placed_output handle exists iff order type is Limit".
func (v *VTS) CreateOrder(cycleID uint64, nodeID, configID, symbol, exchange string, side types.OrderSide, typ types.OrderType, qty, price, tp, sl decimal.Decimal) *types.VirtualOrder {
	v.mu.Lock()
	now := time.Now()
	order := &types.VirtualOrder{
		OrderID:       uuid.NewString(),
		NodeID:        nodeID,
		OrderConfigID: configID,
		Symbol:        symbol,
		Side:          side,
		Type:          typ,
		Quantity:      qty,
		OpenPrice:     price,
		TakeProfit:    tp,
		StopLoss:      sl,
		Status:        types.OrderStatusCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	v.orders[order.OrderID] = order
	v.unfilledOrder = append(v.unfilledOrder, order.OrderID)
	v.mu.Unlock()

	v.out.Publish(events.New(events.KindOrderCreated, cycleID, nodeID, v.out.ID(), order.Clone()))
	if typ == types.OrderTypeLimit {
		v.mu.Lock()
		order.Status = types.OrderStatusPlaced
		order.UpdatedAt = time.Now()
		v.mu.Unlock()
		v.out.Publish(events.New(events.KindOrderPlaced, cycleID, nodeID, v.out.ID(), order.Clone()))
	}
	return order.Clone()
}

// ProcessCycle advances the matcher by one bar for symbol: walks
// outstanding unfilled orders for that symbol in submission order and
// decides fills, then evaluates TP/SL children of already-filled parent
// orders against the same bar.
func (v *VTS) ProcessCycle(cycleID uint64, symbol string, bar types.OHLCV) {
	v.mu.Lock()
	ids := append([]string(nil), v.unfilledOrder...)
	v.now = bar.Timestamp
	v.mu.Unlock()

	for _, id := range ids {
		v.mu.RLock()
		order, ok := v.orders[id]
		v.mu.RUnlock()
		if !ok || order.Symbol != symbol || order.Status.IsTerminal() {
			continue
		}
		filled, price := matchFill(order, bar)
		if !filled {
			continue
		}
		v.fill(cycleID, order, price, bar.Timestamp)
	}

	v.evaluateChildren(cycleID, symbol, bar)
}

// matchFill applies the fill rules in §4.12: market fills at the bar's
// open; limit fills when price crosses the limit, capped at the better of
// open/limit; stop orders trigger when the bar's [low, high] crosses the
// stop, filling at the stop price.
func matchFill(order *types.VirtualOrder, bar types.OHLCV) (bool, decimal.Decimal) {
	switch order.Type {
	case types.OrderTypeMarket:
		return true, bar.Open
	case types.OrderTypeLimit:
		if order.Side == types.OrderSideLong {
			if bar.Low.LessThanOrEqual(order.OpenPrice) {
				return true, decimal.Min(bar.Open, order.OpenPrice)
			}
			return false, decimal.Zero
		}
		if bar.High.GreaterThanOrEqual(order.OpenPrice) {
			return true, decimal.Max(bar.Open, order.OpenPrice)
		}
		return false, decimal.Zero
	case types.OrderTypeStop:
		if order.Side == types.OrderSideLong {
			if bar.High.GreaterThanOrEqual(order.OpenPrice) && bar.Low.LessThanOrEqual(order.OpenPrice) {
				return true, order.OpenPrice
			}
			return false, decimal.Zero
		}
		if bar.Low.LessThanOrEqual(order.OpenPrice) && bar.High.GreaterThanOrEqual(order.OpenPrice) {
			return true, order.OpenPrice
		}
		return false, decimal.Zero
	}
	return false, decimal.Zero
}

// evaluateChildren checks every open position's TP/SL levels against bar;
// if both are within the bar, TP is checked first per the spec's stated
// tie-break.
func (v *VTS) evaluateChildren(cycleID uint64, symbol string, bar types.OHLCV) {
	v.mu.RLock()
	var open []*types.VirtualPosition
	for k, p := range v.positions {
		if k.symbol == symbol && p.State == types.PositionStateOpen {
			open = append(open, p)
		}
	}
	v.mu.RUnlock()

	for _, p := range open {
		v.mu.RLock()
		order, ok := v.findEntryOrder(p)
		v.mu.RUnlock()
		if !ok {
			continue
		}
		tpHit := !order.TakeProfit.IsZero() && crosses(order.Side, bar, order.TakeProfit, true)
		slHit := !order.StopLoss.IsZero() && crosses(order.Side, bar, order.StopLoss, false)
		switch {
		case tpHit:
			v.closePosition(cycleID, p, order.TakeProfit, bar.Timestamp, events.KindTakeProfitHit)
		case slHit:
			v.closePosition(cycleID, p, order.StopLoss, bar.Timestamp, events.KindStopLossHit)
		}
	}
}

func (v *VTS) findEntryOrder(p *types.VirtualPosition) (*types.VirtualOrder, bool) {
	for _, o := range v.orders {
		if o.NodeID == p.NodeID && o.OrderConfigID == p.OrderConfigID && o.Symbol == p.Symbol && o.Status == types.OrderStatusFilled {
			return o, true
		}
	}
	return nil, false
}

// crosses reports whether bar's range reached level in the direction a
// take-profit (favorable=true) or stop-loss (favorable=false) would for a
// position of the given entry side.
func crosses(side types.OrderSide, bar types.OHLCV, level decimal.Decimal, favorable bool) bool {
	long := side == types.OrderSideLong
	hitsAbove := bar.High.GreaterThanOrEqual(level)
	hitsBelow := bar.Low.LessThanOrEqual(level)
	if long == favorable {
		return hitsAbove
	}
	return hitsBelow
}

func (v *VTS) fill(cycleID uint64, order *types.VirtualOrder, price decimal.Decimal, at time.Time) {
	v.mu.Lock()
	order.Status = types.OrderStatusFilled
	order.FillPrice = price
	order.UpdatedAt = at
	order.FilledAt = &at
	v.removeUnfilled(order.OrderID)
	v.mu.Unlock()

	v.out.Publish(events.New(events.KindOrderFilled, cycleID, order.NodeID, v.out.ID(), order.Clone()))
	v.applyFillToPosition(cycleID, order, price, at)
}

func (v *VTS) removeUnfilled(orderID string) {
	for i, id := range v.unfilledOrder {
		if id == orderID {
			v.unfilledOrder = append(v.unfilledOrder[:i], v.unfilledOrder[i+1:]...)
			return
		}
	}
}

func (v *VTS) applyFillToPosition(cycleID uint64, order *types.VirtualOrder, price decimal.Decimal, at time.Time) {
	key := positionKey{order.NodeID, order.OrderConfigID, order.Symbol, "default"}

	v.mu.Lock()
	existing, hasOpen := v.positions[key]
	v.mu.Unlock()

	if hasOpen && existing.Side != order.Side {
		v.closePosition(cycleID, existing, price, at, events.KindPositionClosed)
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if hasOpen {
		totalQty := existing.Quantity.Add(order.Quantity)
		totalCost := existing.Quantity.Mul(existing.AvgEntryPrice).Add(order.Quantity.Mul(price))
		existing.AvgEntryPrice = totalCost.Div(totalQty)
		existing.Quantity = totalQty
		v.out.Publish(events.New(events.KindPositionUpdated, cycleID, order.NodeID, v.out.ID(), existing.Clone()))
		return
	}
	pos := &types.VirtualPosition{
		PositionID:    uuid.NewString(),
		NodeID:        order.NodeID,
		OrderConfigID: order.OrderConfigID,
		Symbol:        order.Symbol,
		Exchange:      "default",
		Side:          order.Side,
		Quantity:      order.Quantity,
		AvgEntryPrice: price,
		State:         types.PositionStateOpen,
		OpenedAt:      at,
	}
	v.positions[key] = pos
	v.out.Publish(events.New(events.KindPositionCreated, cycleID, order.NodeID, v.out.ID(), pos.Clone()))
}

func (v *VTS) closePosition(cycleID uint64, p *types.VirtualPosition, exitPrice decimal.Decimal, at time.Time, kind events.Kind) {
	v.mu.Lock()
	var pnl decimal.Decimal
	if p.Side == types.OrderSideLong {
		pnl = exitPrice.Sub(p.AvgEntryPrice).Mul(p.Quantity)
	} else {
		pnl = p.AvgEntryPrice.Sub(exitPrice).Mul(p.Quantity)
	}
	p.RealizedPnL = p.RealizedPnL.Add(pnl)
	p.State = types.PositionStateClosed
	closedAt := at
	p.ClosedAt = &closedAt

	key := positionKey{p.NodeID, p.OrderConfigID, p.Symbol, p.Exchange}
	delete(v.positions, key)
	v.closedPositions = append(v.closedPositions, p)

	txn := &types.VirtualTransaction{
		TransactionID: uuid.NewString(),
		PositionID:    p.PositionID,
		Symbol:        p.Symbol,
		Quantity:      p.Quantity,
		EntryPrice:    p.AvgEntryPrice,
		ExitPrice:     exitPrice,
		RealizedPnL:   pnl,
		Timestamp:     at,
	}
	v.transactions = append(v.transactions, txn)
	v.mu.Unlock()

	if kind == events.KindTakeProfitHit || kind == events.KindStopLossHit {
		v.out.Publish(events.New(kind, cycleID, p.NodeID, v.out.ID(), p.Clone()))
	}
	v.out.Publish(events.New(events.KindPositionClosed, cycleID, p.NodeID, v.out.ID(), p.Clone()))
	v.out.Publish(events.New(events.KindTransactionCreated, cycleID, p.NodeID, v.out.ID(), txn))
}

// CurrentPositionsCount returns the number of open positions.
func (v *VTS) CurrentPositionsCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.positions)
}

// UnfilledOrderCount returns the number of orders awaiting a fill.
func (v *VTS) UnfilledOrderCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.unfilledOrder)
}

// HistoryPositionCount returns the number of closed positions.
func (v *VTS) HistoryPositionCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.closedPositions)
}

// CurrentPositions returns a defensive copy of every open position.
func (v *VTS) CurrentPositions() []*types.VirtualPosition {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*types.VirtualPosition, 0, len(v.positions))
	for _, p := range v.positions {
		out = append(out, p.Clone())
	}
	return out
}

// HistoryPositions returns a defensive copy of every closed position.
func (v *VTS) HistoryPositions() []*types.VirtualPosition {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*types.VirtualPosition, len(v.closedPositions))
	for i, p := range v.closedPositions {
		out[i] = p.Clone()
	}
	return out
}

// Transactions returns a defensive copy of every generated transaction.
func (v *VTS) Transactions() []*types.VirtualTransaction {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*types.VirtualTransaction, len(v.transactions))
	for i, t := range v.transactions {
		c := *t
		out[i] = &c
	}
	return out
}

// FindPositionFor returns the open position for (symbol, exchange) across
// all nodes/configs, or nil.
func (v *VTS) FindPositionFor(symbol, exchange string) *types.VirtualPosition {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for k, p := range v.positions {
		if k.symbol == symbol && k.exchange == exchange {
			return p.Clone()
		}
	}
	return nil
}

// CurrentDatetime returns the timestamp of the most recently processed bar.
func (v *VTS) CurrentDatetime() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.now
}

// Orders returns a defensive copy of every order, filled or not.
func (v *VTS) Orders() []*types.VirtualOrder {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*types.VirtualOrder, 0, len(v.orders))
	for _, o := range v.orders {
		out = append(out, o.Clone())
	}
	return out
}

// Reset clears all orders, positions, and transactions, used on strategy
// reset.
func (v *VTS) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.orders = make(map[string]*types.VirtualOrder)
	v.unfilledOrder = nil
	v.positions = make(map[positionKey]*types.VirtualPosition)
	v.closedPositions = nil
	v.transactions = nil
	v.now = time.Time{}
}
