package node

import (
	"testing"

	"github.com/atlas-desktop/backtest-engine/internal/events"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"go.uber.org/zap"
)

func TestEmitMarksHandleEmittedAndForwardsToStrategy(t *testing.T) {
	rt := newTestRuntime("rt-1")
	rt.AddOutput("out_a")
	graphSub := rt.outputs["out_a"].Subscribe()
	defer graphSub.Close()
	strategySub := rt.StrategyOutput().Subscribe()
	defer strategySub.Close()

	rt.Emit("out_a", events.New(events.KindIndicatorUpdate, 1, rt.ID, "out_a", 42))

	select {
	case e := <-graphSub.Events():
		if e.Kind != events.KindIndicatorUpdate {
			t.Fatalf("graph event kind = %s, want indicator_update", e.Kind)
		}
	default:
		t.Fatal("expected the real emit to reach the connected graph output")
	}
	select {
	case e := <-strategySub.Events():
		if e.Kind != events.KindIndicatorUpdate {
			t.Fatalf("strategy event kind = %s, want indicator_update", e.Kind)
		}
	default:
		t.Fatal("expected Emit to always forward a copy to the strategy output")
	}
	if !rt.emittedThisCycleOn("out_a", 1) {
		t.Fatal("expected out_a to be marked emitted for cycle 1")
	}
}

func TestEmitLeafCompletionSkipsAlreadyEmittedHandle(t *testing.T) {
	rt := newTestRuntime("rt-2")
	rt.AddOutput("out_a")
	sub := rt.outputs["out_a"].Subscribe()
	defer sub.Close()

	rt.Emit("out_a", events.New(events.KindIndicatorUpdate, 5, rt.ID, "out_a", 1))
	<-sub.Events() // drain the real emit

	rt.EmitLeafCompletion(5)

	select {
	case e := <-sub.Events():
		t.Fatalf("expected no synthetic Trigger on a handle already used this cycle, got %s", e.Kind)
	default:
	}
}

func TestEmitLeafCompletionFiresTriggerOnUnusedConnectedHandle(t *testing.T) {
	rt := newTestRuntime("rt-3")
	rt.AddOutput("out_a")
	rt.AddOutput("out_b")
	subA := rt.outputs["out_a"].Subscribe()
	defer subA.Close()
	subB := rt.outputs["out_b"].Subscribe()
	defer subB.Close()

	rt.Emit("out_a", events.New(events.KindIndicatorUpdate, 3, rt.ID, "out_a", 1))
	<-subA.Events()

	rt.EmitLeafCompletion(3)

	select {
	case e := <-subB.Events():
		if e.Kind != events.KindTrigger {
			t.Fatalf("event kind = %s, want trigger", e.Kind)
		}
	default:
		t.Fatal("expected a synthetic Trigger on the unused connected handle out_b")
	}
}

func TestEmitLeafCompletionEmitsExecuteOverWhenNoConnectedOutputs(t *testing.T) {
	rt := newTestRuntime("rt-4")
	rt.AddOutput("out_a") // never subscribed, so IsConnected() is false
	strategySub := rt.StrategyOutput().Subscribe()
	defer strategySub.Close()

	rt.EmitLeafCompletion(7)

	select {
	case e := <-strategySub.Events():
		if e.Kind != events.KindExecuteOver {
			t.Fatalf("event kind = %s, want execute_over", e.Kind)
		}
	default:
		t.Fatal("expected ExecuteOver on the strategy output for a true leaf")
	}
}

func TestEmitGraphOnlyDoesNotForwardToStrategy(t *testing.T) {
	rt := newTestRuntime("rt-5")
	rt.AddOutput("out_a")
	graphSub := rt.outputs["out_a"].Subscribe()
	defer graphSub.Close()
	strategySub := rt.StrategyOutput().Subscribe()
	defer strategySub.Close()

	rt.EmitGraphOnly("out_a", events.New(events.KindOrderCreated, 1, rt.ID, "out_a", nil))

	select {
	case <-graphSub.Events():
	default:
		t.Fatal("expected EmitGraphOnly to publish on the graph handle")
	}
	select {
	case e := <-strategySub.Events():
		t.Fatalf("expected no strategy-output copy from EmitGraphOnly, got %s", e.Kind)
	default:
	}
}

func TestInitializeAndStopEmitStateLogsToStrategyOutput(t *testing.T) {
	rt := newTestRuntime("rt-6")
	strategySub := rt.StrategyOutput().Subscribe()
	defer strategySub.Close()

	if err := rt.Initialize(func(acts []Action) error {
		rt.SignalReady()
		return nil
	}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	var sawTransition, sawState bool
	drain := func() {
		for {
			select {
			case e := <-strategySub.Events():
				if e.Kind != events.KindStateLog {
					continue
				}
				payload, ok := e.Payload.(events.LogPayload)
				if !ok {
					continue
				}
				switch payload.Message {
				case "transition":
					sawTransition = true
				case "state":
					sawState = true
				}
			default:
				return
			}
		}
	}
	drain()
	if !sawTransition || !sawState {
		t.Fatalf("expected both transition and state logs on Initialize, got transition=%v state=%v", sawTransition, sawState)
	}

	if err := rt.Start(func(acts []Action) error { return nil }); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := rt.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if rt.SM.State() != types.NodeStateStopped {
		t.Fatalf("state = %s, want stopped", rt.SM.State())
	}
}

func TestReportCycleTrackerRoundTripsThroughCommandChannel(t *testing.T) {
	commands := make(chan events.Command, 1)
	rt := NewRuntime("rt-7", types.NodeKindIndicator, zap.NewNop(), nil, commands, events.NewWatch(0))

	ct := rt.NewCycleTracker(1)
	ct.End()

	done := make(chan struct{})
	go func() {
		rt.ReportCycleTracker(ct)
		close(done)
	}()

	select {
	case cmd := <-commands:
		if cmd.Kind != events.CmdAddNodeCycleTracker {
			t.Fatalf("command kind = %s, want add_node_cycle_tracker", cmd.Kind)
		}
		if cmd.Payload != ct {
			t.Fatal("expected the command payload to be the tracker passed to ReportCycleTracker")
		}
		cmd.Respond(events.Reply{})
	case <-done:
		t.Fatal("ReportCycleTracker returned before the command was consumed")
	}

	<-done
}
