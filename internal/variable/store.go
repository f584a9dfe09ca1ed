// Package variable implements the custom and system variable store: typed
// values, update operators, and per-error-kind remediation policies.
package variable

import (
	"sync"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
)

// CustomVariable is one named, typed variable with its initial value for
// reset.
type CustomVariable struct {
	Name    string
	Initial types.VariableValue
	Current types.VariableValue
}

// SysVariable is a read-only projection of VTS state (position count, ROI,
// simulated time, ...). The strategy writes it via UpdateSysVariableValue;
// nodes only ever read it.
type SysVariable struct {
	Name    string
	Current types.VariableValue
}

// Store holds every custom and system variable for one strategy.
type Store struct {
	mu      sync.RWMutex
	custom  map[string]*CustomVariable
	sys     map[string]*SysVariable
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		custom: make(map[string]*CustomVariable),
		sys:    make(map[string]*SysVariable),
	}
}

// InitCustom registers vars, replacing any existing registration. Matches
// the InitCustomVariableValue command.
func (s *Store) InitCustom(vars []CustomVariable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range vars {
		cv := v
		s.custom[v.Name] = &cv
	}
}

// Get returns the current value of the named custom variable.
func (s *Store) Get(name string) (types.VariableValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.custom[name]
	if !ok {
		return types.VariableValue{}, types.NewStrategyError(types.CodeCustomVariableNotExist, nil)
	}
	return v.Current, nil
}

// Reset restores the named variable to its initial value and returns it.
func (s *Store) Reset(name string) (types.VariableValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.custom[name]
	if !ok {
		return types.VariableValue{}, types.NewStrategyError(types.CodeCustomVariableNotExist, nil)
	}
	v.Current = v.Initial
	return v.Current, nil
}

// UpdateSys writes a system variable's projected value.
func (s *Store) UpdateSys(name string, value types.VariableValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sys[name] = &SysVariable{Name: name, Current: value}
}

// GetSys reads a system variable. Returns SysVariableSymbolIsNull if the
// named symbol-scoped variable has never been populated.
func (s *Store) GetSys(name string) (types.VariableValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.sys[name]
	if !ok {
		return types.VariableValue{}, types.NewStrategyError(types.CodeSysVariableSymbolIsNull, nil)
	}
	return v.Current, nil
}

// Apply performs one update operator against the named custom variable's
// current value and operand, returning the resulting value. It does not
// itself consult an error policy — callers resolve ErrorKind via Resolve
// before calling Apply with the remediated operand.
func (s *Store) Apply(name string, op types.UpdateOperator, operand types.VariableValue) (types.VariableValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.custom[name]
	if !ok {
		return types.VariableValue{}, types.NewStrategyError(types.CodeCustomVariableNotExist, nil)
	}
	next, err := apply(v.Current, op, operand)
	if err != nil {
		return types.VariableValue{}, err
	}
	v.Current = next
	return next, nil
}

func apply(current types.VariableValue, op types.UpdateOperator, operand types.VariableValue) (types.VariableValue, error) {
	switch op {
	case types.UpdateOperatorSet:
		return operand, nil
	case types.UpdateOperatorToggle:
		if current.Type != types.VariableTypeBoolean {
			return types.VariableValue{}, types.NewStrategyError(types.CodeUnsupportedVariableOp, nil)
		}
		return types.VariableValue{Type: types.VariableTypeBoolean, Boolean: !current.Boolean}, nil
	case types.UpdateOperatorAdd, types.UpdateOperatorSub, types.UpdateOperatorMul, types.UpdateOperatorDiv:
		if !isNumeric(current.Type) || !isNumeric(operand.Type) {
			return types.VariableValue{}, types.NewStrategyError(types.CodeUnsupportedVariableOp, nil)
		}
		if op == types.UpdateOperatorDiv && operand.Number.IsZero() {
			return types.VariableValue{}, types.NewStrategyError(types.CodeDivideByZero, nil)
		}
		var result types.VariableValue
		result.Type = current.Type
		switch op {
		case types.UpdateOperatorAdd:
			result.Number = current.Number.Add(operand.Number)
		case types.UpdateOperatorSub:
			result.Number = current.Number.Sub(operand.Number)
		case types.UpdateOperatorMul:
			result.Number = current.Number.Mul(operand.Number)
		case types.UpdateOperatorDiv:
			result.Number = current.Number.Div(operand.Number)
		}
		return result, nil
	default:
		return types.VariableValue{}, types.NewStrategyError(types.CodeUnsupportedVariableOp, nil)
	}
}

func isNumeric(t types.VariableType) bool {
	return t == types.VariableTypeNumber || t == types.VariableTypePercentage
}

// Resolve applies a variable config's per-ErrorKind policy to a candidate
// source value. It returns (resolved, apply=true) when the value (possibly
// substituted) should be used, or (zero, apply=false) when the policy says
// to skip this cycle's update entirely (emit Trigger instead).
func Resolve(value types.VariableValue, expired bool, previous types.VariableValue, policies map[types.ErrorKind]types.ErrorPolicy) (types.VariableValue, bool) {
	var kind types.ErrorKind
	var bad bool
	switch {
	case value.IsNull():
		kind, bad = types.ErrorKindNullValue, true
	case value.IsZero():
		kind, bad = types.ErrorKindZeroValue, true
	case expired:
		kind, bad = types.ErrorKindExpired, true
	}
	if !bad {
		return value, true
	}
	policy, ok := policies[kind]
	if !ok {
		// No policy configured for this error kind: still update with the
		// raw (bad) value, matching StillUpdate's semantics as the default.
		return value, true
	}
	switch policy.Kind {
	case types.ErrorPolicySkip:
		return types.VariableValue{}, false
	case types.ErrorPolicyUsePreviousValue:
		return previous, true
	case types.ErrorPolicyValueReplace:
		return policy.Replace, true
	case types.ErrorPolicyStillUpdate:
		return value, true
	default:
		return value, true
	}
}
