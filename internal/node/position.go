package node

import (
	"github.com/atlas-desktop/backtest-engine/internal/events"
	"github.com/atlas-desktop/backtest-engine/internal/vts"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
)

// PositionNode projects the VTS's order/position/transaction lifecycle
// events into its own output stream and reports open/closed position
// counts through Summary; it does not write the strategy's variable store.
// Grounded on the teacher's PortfolioSnapshot projection in
// internal/backtester/portfolio.go.
type PositionNode struct {
	*Runtime

	vts *vts.VTS
	sub *events.Subscription
}

// NewPositionNode creates a Position node subscribed to vts's lifecycle
// broadcast.
func NewPositionNode(rt *Runtime, v *vts.VTS) *PositionNode {
	rt.AddOutput(PositionOutputHandle)
	return &PositionNode{Runtime: rt, vts: v, sub: v.Events().Subscribe()}
}

// PositionOutputHandle is the single output handle every Position node
// registers.
const PositionOutputHandle = "position_output"

// Init completes immediately.
func (n *PositionNode) Init() error {
	return n.Initialize(func(acts []Action) error {
		n.SignalReady()
		return nil
	})
}

// Start launches the listener goroutine that forwards VTS lifecycle events
// onto this node's own output handle.
func (n *PositionNode) Start(outputHandleID string) error {
	return n.Runtime.Start(func(acts []Action) error {
		n.Go(func() {
			for {
				select {
				case e, ok := <-n.sub.Events():
					if !ok {
						return
					}
					if !isPositionEvent(e.Kind) {
						continue
					}
					n.Emit(outputHandleID, events.New(e.Kind, e.CycleID, n.ID, outputHandleID, e.Payload))
					if e.Kind == events.KindPositionClosed || e.Kind == events.KindTransactionCreated {
						n.EmitLeafCompletion(e.CycleID)
					}
				case <-n.Context().Done():
					return
				}
			}
		})
		return nil
	})
}

func isPositionEvent(k events.Kind) bool {
	switch k {
	case events.KindPositionCreated, events.KindPositionUpdated, events.KindPositionClosed,
		events.KindTransactionCreated, events.KindTakeProfitHit, events.KindStopLossHit:
		return true
	default:
		return false
	}
}

// Summary returns the current open/closed position counts, the figures the
// strategy projects into sys variables.
func (n *PositionNode) Summary() (open, closed int) {
	return n.vts.CurrentPositionsCount(), n.vts.HistoryPositionCount()
}

// Transactions returns every realized transaction recorded so far.
func (n *PositionNode) Transactions() []*types.VirtualTransaction {
	return n.vts.Transactions()
}

// Shutdown unsubscribes from the VTS and tears the node down.
func (n *PositionNode) Shutdown() error {
	defer n.SignalStopped()
	defer n.sub.Close()
	return n.Stop()
}
