package node

import (
	"testing"

	"github.com/atlas-desktop/backtest-engine/internal/events"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newTestRuntime(id string) *Runtime {
	commands := make(chan events.Command, 1)
	return NewRuntime(id, types.NodeKindIfElse, zap.NewNop(), nil, commands, events.NewWatch(0))
}

func TestCompare(t *testing.T) {
	five := types.NumberValue(decimal.NewFromInt(5))
	ten := types.NumberValue(decimal.NewFromInt(10))

	cases := []struct {
		cmp  Comparator
		a, b types.VariableValue
		want bool
	}{
		{CompareEQ, five, five, true},
		{CompareEQ, five, ten, false},
		{CompareNE, five, ten, true},
		{CompareGT, ten, five, true},
		{CompareGT, five, ten, false},
		{CompareGE, five, five, true},
		{CompareLT, five, ten, true},
		{CompareLE, five, five, true},
	}
	for _, c := range cases {
		if got := compare(c.cmp, c.a, c.b); got != c.want {
			t.Errorf("compare(%s, %s, %s) = %v, want %v", c.cmp, c.a.Number, c.b.Number, got, c.want)
		}
	}
}

func TestIfElseFeedWaitsForBothOperands(t *testing.T) {
	rt := newTestRuntime("ifelse-1")
	n := NewIfElseNode(rt, []Case{{OutputHandle: "gt_output", Comparator: CompareGT}}, "else_output", "left", "right")
	sub := rt.outputs["gt_output"].Subscribe()
	defer sub.Close()

	n.Feed(1, "left", types.NumberValue(decimal.NewFromInt(10)))
	select {
	case <-sub.Events():
		t.Fatal("expected no evaluation until both operands arrive")
	default:
	}

	n.Feed(1, "right", types.NumberValue(decimal.NewFromInt(5)))
	select {
	case e := <-sub.Events():
		if e.Kind != events.KindConditionMatch {
			t.Fatalf("event kind = %s, want condition_match", e.Kind)
		}
	default:
		t.Fatal("expected an evaluation once both operands arrived")
	}
}

func TestIfElseEvaluateFirstMatchWins(t *testing.T) {
	rt := newTestRuntime("ifelse-2")
	n := NewIfElseNode(rt, []Case{
		{OutputHandle: "gt_output", Comparator: CompareGT},
		{OutputHandle: "eq_output", Comparator: CompareEQ},
	}, "else_output", "left", "right")
	gtSub := rt.outputs["gt_output"].Subscribe()
	defer gtSub.Close()

	n.Evaluate(1, types.NumberValue(decimal.NewFromInt(10)), types.NumberValue(decimal.NewFromInt(5)))

	select {
	case <-gtSub.Events():
	default:
		t.Fatal("expected the gt_output case to fire since 10 > 5")
	}
}

func TestIfElseEvaluateFallsThroughToElse(t *testing.T) {
	rt := newTestRuntime("ifelse-3")
	n := NewIfElseNode(rt, []Case{{OutputHandle: "gt_output", Comparator: CompareGT}}, "else_output", "left", "right")
	elseSub := rt.outputs["else_output"].Subscribe()
	defer elseSub.Close()

	n.Evaluate(1, types.NumberValue(decimal.NewFromInt(1)), types.NumberValue(decimal.NewFromInt(5)))

	select {
	case <-elseSub.Events():
	default:
		t.Fatal("expected else_output to fire since no case matched")
	}
}
