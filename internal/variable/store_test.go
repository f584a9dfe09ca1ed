package variable

import (
	"testing"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

func numVar(name string, v float64) CustomVariable {
	val := types.NumberValue(decimal.NewFromFloat(v))
	return CustomVariable{Name: name, Initial: val, Current: val}
}

func TestStoreGetAndReset(t *testing.T) {
	s := NewStore()
	s.InitCustom([]CustomVariable{numVar("x", 5)})

	got, err := s.Get("x")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Number.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("Get(x) = %s, want 5", got.Number)
	}

	if _, err := s.Apply("x", types.UpdateOperatorAdd, types.NumberValue(decimal.NewFromInt(10))); err != nil {
		t.Fatalf("Apply add: %v", err)
	}
	got, _ = s.Get("x")
	if !got.Number.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("after Apply(add, 10), Get(x) = %s, want 15", got.Number)
	}

	reset, err := s.Reset("x")
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if !reset.Number.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("Reset(x) = %s, want 5", reset.Number)
	}
}

func TestStoreGetUnknownVariable(t *testing.T) {
	s := NewStore()
	if _, err := s.Get("missing"); err == nil {
		t.Fatal("expected an error getting an unregistered variable")
	}
}

func TestStoreApplyDivideByZero(t *testing.T) {
	s := NewStore()
	s.InitCustom([]CustomVariable{numVar("x", 10)})
	if _, err := s.Apply("x", types.UpdateOperatorDiv, types.NumberValue(decimal.Zero)); err == nil {
		t.Fatal("expected an error dividing by zero")
	}
}

func TestStoreApplyToggleRequiresBoolean(t *testing.T) {
	s := NewStore()
	s.InitCustom([]CustomVariable{numVar("x", 1)})
	if _, err := s.Apply("x", types.UpdateOperatorToggle, types.VariableValue{}); err == nil {
		t.Fatal("expected an error toggling a non-boolean variable")
	}
}

func TestStoreSysVariableRoundTrip(t *testing.T) {
	s := NewStore()
	if _, err := s.GetSys("roi"); err == nil {
		t.Fatal("expected an error reading an unpopulated system variable")
	}
	s.UpdateSys("roi", types.NumberValue(decimal.NewFromFloat(1.5)))
	got, err := s.GetSys("roi")
	if err != nil {
		t.Fatalf("GetSys: %v", err)
	}
	if !got.Number.Equal(decimal.NewFromFloat(1.5)) {
		t.Fatalf("GetSys(roi) = %s, want 1.5", got.Number)
	}
}

func TestResolveNullValueSkipPolicy(t *testing.T) {
	previous := types.NumberValue(decimal.NewFromInt(7))
	policies := map[types.ErrorKind]types.ErrorPolicy{
		types.ErrorKindNullValue: {Kind: types.ErrorPolicySkip},
	}
	_, apply := Resolve(types.NullValue(), false, previous, policies)
	if apply {
		t.Fatal("expected Resolve to signal apply=false under a skip policy")
	}
}

func TestResolveUsePreviousValuePolicy(t *testing.T) {
	previous := types.NumberValue(decimal.NewFromInt(7))
	policies := map[types.ErrorKind]types.ErrorPolicy{
		types.ErrorKindZeroValue: {Kind: types.ErrorPolicyUsePreviousValue},
	}
	resolved, apply := Resolve(types.NumberValue(decimal.Zero), false, previous, policies)
	if !apply {
		t.Fatal("expected Resolve to signal apply=true under use-previous-value policy")
	}
	if !resolved.Number.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("Resolve() = %s, want previous value 7", resolved.Number)
	}
}

func TestResolveNoPolicyStillUpdates(t *testing.T) {
	resolved, apply := Resolve(types.NullValue(), false, types.VariableValue{}, nil)
	if !apply {
		t.Fatal("expected Resolve with no configured policy to default to apply=true")
	}
	if !resolved.IsNull() {
		t.Fatal("expected the raw (null) value to pass through with no policy")
	}
}

func TestResolveGoodValuePassesThrough(t *testing.T) {
	good := types.NumberValue(decimal.NewFromInt(3))
	resolved, apply := Resolve(good, false, types.VariableValue{}, nil)
	if !apply || !resolved.Number.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("Resolve(good value) = (%v, %v), want (3, true)", resolved, apply)
	}
}
