package strategy

import (
	"github.com/atlas-desktop/backtest-engine/internal/events"
)

// Sink is the Strategy Event Sink: one goroutine per node strategy_output
// that drains it, republishes each event on the external bus, and
// forwards ExecuteOver arrivals to the playback driver's leaf-completion
// barrier. Grounded on the teacher's EventBus dispatch loop, here
// specialized to fan IN from many node outputs rather than fan out to many
// handlers.
type Sink struct {
	strategy *Strategy
	subs     []*events.Subscription
}

// NewSink creates a Sink subscribed to every node's strategy_output handle.
func NewSink(s *Strategy, outputs []*events.OutputHandle) *Sink {
	subs := make([]*events.Subscription, 0, len(outputs))
	for _, h := range outputs {
		subs = append(subs, h.Subscribe())
	}
	return &Sink{strategy: s, subs: subs}
}

// Run drains all subscriptions until the strategy's context is canceled.
// One goroutine per subscription, fanning into the strategy's bus and
// leaf-completion tracker — mirrors the teacher's per-symbol ingestion
// goroutine-per-source shape.
func (sk *Sink) Run() {
	for _, sub := range sk.subs {
		sub := sub
		go sk.drain(sub)
	}
}

func (sk *Sink) drain(sub *events.Subscription) {
	defer sub.Close()
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			sk.handle(e)
		case <-sk.strategy.Context().Done():
			return
		}
	}
}

func (sk *Sink) handle(e events.Event) {
	if sk.strategy.bus != nil {
		sk.strategy.bus.Publish(e)
	}
	if e.Kind == events.KindExecuteOver {
		sk.strategy.NotifyLeafComplete()
	}
}
