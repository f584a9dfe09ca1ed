package node

import (
	"testing"

	"github.com/atlas-desktop/backtest-engine/internal/events"
	"github.com/atlas-desktop/backtest-engine/internal/variable"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newTestVariableNode(id string, configs []VariableUpdateConfig, initial types.VariableValue) (*VariableNode, *variable.Store) {
	store := variable.NewStore()
	store.InitCustom([]variable.CustomVariable{{Name: "balance", Initial: initial, Current: initial}})
	rt := NewRuntime(id, types.NodeKindVariable, zap.NewNop(), nil, make(chan events.Command, 1), events.NewWatch(0))
	return NewVariableNode(rt, store, configs), store
}

func TestVariableUpdateAppliesOperatorAndEmits(t *testing.T) {
	cfg := VariableUpdateConfig{ID: "cfg-1", Operation: types.VariableOpUpdate, Target: "balance", Op: types.UpdateOperatorAdd}
	n, store := newTestVariableNode("var-1", []VariableUpdateConfig{cfg}, types.NumberValue(decimal.NewFromInt(10)))
	sub := n.outputs[VariableOutputHandle].Subscribe()
	defer sub.Close()

	if err := n.Update(1, "cfg-1", types.NumberValue(decimal.NewFromInt(5)), false, VariableOutputHandle); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, _ := store.Get("balance")
	if !got.Number.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("balance = %s, want 15", got.Number)
	}
	select {
	case e := <-sub.Events():
		if e.Kind != events.KindCustomVarUpdate {
			t.Fatalf("event kind = %s, want custom_var_update", e.Kind)
		}
	default:
		t.Fatal("expected a CustomVarUpdate event")
	}
}

func TestVariableGetDoesNotMutateStore(t *testing.T) {
	cfg := VariableUpdateConfig{ID: "cfg-get", Operation: types.VariableOpGet, Target: "balance"}
	n, store := newTestVariableNode("var-2", []VariableUpdateConfig{cfg}, types.NumberValue(decimal.NewFromInt(42)))
	sub := n.outputs[VariableOutputHandle].Subscribe()
	defer sub.Close()

	if err := n.Get(1, "cfg-get", VariableOutputHandle); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	got, _ := store.Get("balance")
	if !got.Number.Equal(decimal.NewFromInt(42)) {
		t.Fatalf("balance = %s, want unchanged 42", got.Number)
	}
	select {
	case e := <-sub.Events():
		v := e.Payload.(types.VariableValue)
		if !v.Number.Equal(decimal.NewFromInt(42)) {
			t.Fatalf("emitted value = %s, want 42", v.Number)
		}
	default:
		t.Fatal("expected a CustomVarUpdate event carrying the current value")
	}
}

func TestVariableResetRestoresInitialValue(t *testing.T) {
	cfg := VariableUpdateConfig{ID: "cfg-reset", Operation: types.VariableOpReset, Target: "balance"}
	n, store := newTestVariableNode("var-3", []VariableUpdateConfig{cfg}, types.NumberValue(decimal.NewFromInt(100)))
	store.Apply("balance", types.UpdateOperatorSet, types.NumberValue(decimal.NewFromInt(7)))

	if err := n.Reset(1, "cfg-reset", VariableOutputHandle); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	got, _ := store.Get("balance")
	if !got.Number.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("balance = %s, want restored 100", got.Number)
	}
}

func TestVariableDispatchRoutesByOperation(t *testing.T) {
	getCfg := VariableUpdateConfig{ID: "cfg-a", Operation: types.VariableOpGet, Target: "balance"}
	resetCfg := VariableUpdateConfig{ID: "cfg-b", Operation: types.VariableOpReset, Target: "balance"}
	updateCfg := VariableUpdateConfig{ID: "cfg-c", Target: "balance", Op: types.UpdateOperatorSet}
	n, store := newTestVariableNode("var-4", []VariableUpdateConfig{getCfg, resetCfg, updateCfg}, types.NumberValue(decimal.NewFromInt(1)))

	if err := n.Dispatch(1, "cfg-c", types.NumberValue(decimal.NewFromInt(9)), false, VariableOutputHandle); err != nil {
		t.Fatalf("dispatch update failed: %v", err)
	}
	got, _ := store.Get("balance")
	if !got.Number.Equal(decimal.NewFromInt(9)) {
		t.Fatalf("balance after dispatch-update = %s, want 9", got.Number)
	}

	if err := n.Dispatch(1, "cfg-b", types.VariableValue{}, false, VariableOutputHandle); err != nil {
		t.Fatalf("dispatch reset failed: %v", err)
	}
	got, _ = store.Get("balance")
	if !got.Number.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("balance after dispatch-reset = %s, want restored 1", got.Number)
	}
}

func TestVariableDispatchUnknownConfigErrors(t *testing.T) {
	n, _ := newTestVariableNode("var-5", nil, types.NullValue())
	if err := n.Dispatch(1, "missing", types.NullValue(), false, VariableOutputHandle); err == nil {
		t.Fatal("expected an error for an unknown config id")
	}
}
