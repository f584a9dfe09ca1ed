package node

import (
	"github.com/atlas-desktop/backtest-engine/internal/events"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
)

// Comparator is a condition case's comparison operator.
type Comparator string

const (
	CompareEQ Comparator = "eq"
	CompareNE Comparator = "ne"
	CompareGT Comparator = "gt"
	CompareGE Comparator = "ge"
	CompareLT Comparator = "lt"
	CompareLE Comparator = "le"
)

// Case is one branch: if Left Comparator Right holds, emit on OutputHandle.
// Cases are evaluated in declaration order; the first match wins.
type Case struct {
	OutputHandle string
	Comparator   Comparator
}

// IfElseNode evaluates an ordered list of cases against the two operand
// values supplied at Evaluate time and routes a ConditionMatch event to the
// first matching case's output, or to ElseOutput when none match,
// grounded on the teacher's signal-confirmation branching in
// internal/signals (condition chain evaluated top to bottom, first hit wins).
type IfElseNode struct {
	*Runtime

	cases      []Case
	elseOutput string

	leftHandle, rightHandle string
	left, right             types.VariableValue
	haveLeft, haveRight     bool
}

// NewIfElseNode creates an IfElse node with the given ordered cases and
// else-branch output handle. leftHandle/rightHandle name the two input
// handles Feed reads its operands from.
func NewIfElseNode(rt *Runtime, cases []Case, elseOutput, leftHandle, rightHandle string) *IfElseNode {
	for _, c := range cases {
		rt.AddOutput(c.OutputHandle)
	}
	rt.AddOutput(elseOutput)
	return &IfElseNode{Runtime: rt, cases: cases, elseOutput: elseOutput, leftHandle: leftHandle, rightHandle: rightHandle}
}

// Init completes immediately.
func (n *IfElseNode) Init() error {
	return n.Initialize(func(acts []Action) error {
		n.SignalReady()
		return nil
	})
}

func compare(cmp Comparator, left, right types.VariableValue) bool {
	switch cmp {
	case CompareEQ:
		return left.Number.Equal(right.Number)
	case CompareNE:
		return !left.Number.Equal(right.Number)
	case CompareGT:
		return left.Number.GreaterThan(right.Number)
	case CompareGE:
		return left.Number.GreaterThanOrEqual(right.Number)
	case CompareLT:
		return left.Number.LessThan(right.Number)
	case CompareLE:
		return left.Number.LessThanOrEqual(right.Number)
	default:
		return false
	}
}

// Feed records one operand arriving on handleID for cycleID, evaluating
// once both the left and right operand have been observed this cycle.
func (n *IfElseNode) Feed(cycleID uint64, handleID string, val types.VariableValue) {
	switch handleID {
	case n.leftHandle:
		n.left, n.haveLeft = val, true
	case n.rightHandle:
		n.right, n.haveRight = val, true
	default:
		return
	}
	if n.haveLeft && n.haveRight {
		n.haveLeft, n.haveRight = false, false
		n.Evaluate(cycleID, n.left, n.right)
	}
}

// Evaluate checks cases in order against (left, right) and emits
// ConditionMatch on the first matching case's output, or on elseOutput if
// none match.
func (n *IfElseNode) Evaluate(cycleID uint64, left, right types.VariableValue) {
	for _, c := range n.cases {
		if compare(c.Comparator, left, right) {
			n.Emit(c.OutputHandle, events.New(events.KindConditionMatch, cycleID, n.ID, c.OutputHandle, c))
			n.EmitLeafCompletion(cycleID)
			return
		}
	}
	n.Emit(n.elseOutput, events.New(events.KindConditionMatch, cycleID, n.ID, n.elseOutput, nil))
	n.EmitLeafCompletion(cycleID)
}

// Shutdown tears the node down.
func (n *IfElseNode) Shutdown() error {
	defer n.SignalStopped()
	return n.Stop()
}
