package node

import (
	"testing"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
)

func TestStateMachineFollowsLifecycleTriggers(t *testing.T) {
	sm := NewStateMachine(nil)
	if sm.State() != types.NodeStateCreated {
		t.Fatalf("initial state = %s, want created", sm.State())
	}

	steps := []struct {
		trigger Trigger
		want    types.NodeState
	}{
		{TriggerInitialize, types.NodeStateInitializing},
		{TriggerInitializeComplete, types.NodeStateReady},
		{TriggerStart, types.NodeStateRunning},
		{TriggerStop, types.NodeStateStopping},
		{TriggerStopComplete, types.NodeStateStopped},
	}
	for _, s := range steps {
		acts, err := sm.Fire(s.trigger)
		if err != nil {
			t.Fatalf("Fire(%s) failed: %v", s.trigger, err)
		}
		if sm.State() != s.want {
			t.Fatalf("after %s, state = %s, want %s", s.trigger, sm.State(), s.want)
		}
		if len(acts) == 0 {
			t.Fatalf("expected %s to produce at least the generic logging actions", s.trigger)
		}
	}
}

func TestStateMachineRejectsInvalidTransition(t *testing.T) {
	sm := NewStateMachine(nil)
	if _, err := sm.Fire(TriggerStart); err == nil {
		t.Fatal("expected Start from Created to be rejected")
	}
	if sm.State() != types.NodeStateCreated {
		t.Fatal("expected state to remain unchanged after a rejected transition")
	}
}

func TestStateMachineAppendsExtraActionsAtConfiguredTriggers(t *testing.T) {
	sm := NewStateMachine(map[Trigger][]Action{
		TriggerInitialize: {ActionRegisterExchange},
	})
	acts, err := sm.Fire(TriggerInitialize)
	if err != nil {
		t.Fatalf("Fire failed: %v", err)
	}
	found := false
	for _, a := range acts {
		if a == ActionRegisterExchange {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the kind-specific extra action to be appended to the default Initialize actions")
	}
}

func TestStateMachineFailFromRunningOrInitializing(t *testing.T) {
	sm := NewStateMachine(nil)
	sm.Fire(TriggerInitialize)
	if _, err := sm.Fire(TriggerFail); err != nil {
		t.Fatalf("Fail from Initializing failed: %v", err)
	}
	if sm.State() != types.NodeStateFailed {
		t.Fatalf("state = %s, want failed", sm.State())
	}

	running := NewStateMachine(nil)
	running.Fire(TriggerInitialize)
	running.Fire(TriggerInitializeComplete)
	running.Fire(TriggerStart)
	if _, err := running.Fire(TriggerFail); err != nil {
		t.Fatalf("Fail from Running failed: %v", err)
	}
	if running.State() != types.NodeStateFailed {
		t.Fatalf("state = %s, want failed", running.State())
	}
}
