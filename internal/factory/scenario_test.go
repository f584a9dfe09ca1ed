package factory

import (
	"errors"
	"testing"
	"time"

	"github.com/atlas-desktop/backtest-engine/internal/events"
	"github.com/atlas-desktop/backtest-engine/internal/node"
	"github.com/atlas-desktop/backtest-engine/internal/playback"
	"github.com/atlas-desktop/backtest-engine/internal/variable"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// waitForCondition polls cond until it returns true or the deadline passes,
// mirroring the package's node-level test helper.
func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

// TestScenarioTwoNodeTriggerChainFiresExactlyOneLeafCompletion reproduces a
// single kline -> indicator trigger chain across one cycle: the indicator is
// the graph's only leaf (kline always has an outbound edge), so it must be
// the sole source of that cycle's ExecuteOver, and the benchmark must record
// exactly one reported cycle once the indicator's tracker lands.
func TestScenarioTwoNodeTriggerChainFiresExactlyOneLeafCompletion(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	adapter := seededAdapter(t, "BTCUSDT", "1m", start, 5)
	bus := events.NewBus(zap.NewNop(), events.DefaultBusConfig())
	t.Cleanup(bus.Stop)

	def := types.GraphDefinition{
		StrategyID: "strat-scenario-s1",
		Nodes: []types.NodeConfig{
			{ID: "kline1", Kind: types.NodeKindKline, Params: map[string]any{
				"symbols": []map[string]any{{"symbol": "BTCUSDT", "exchange": "binance", "interval": "1m"}},
				"maxBars": 999,
				"start":   start.Format(time.RFC3339),
				"end":     start.Add(5 * time.Minute).Format(time.RFC3339),
			}},
			{ID: "indicator1", Kind: types.NodeKindIndicator, Params: map[string]any{
				"configs": []map[string]any{{
					"id": "sma-1", "kind": "sma", "window": 3,
					"params":   map[string]any{"period": 3},
					"cacheKey": "binance:BTCUSDT:1m",
				}},
			}},
		},
		Edges: []types.EdgeConfig{
			{FromNode: "kline1", FromHandle: "binance:BTCUSDT:1m", ToNode: "indicator1", ToHandle: "indicator_in"},
		},
	}

	st, sink, err := Build(def, Options{Logger: zap.NewNop(), Adapter: adapter, Bus: bus})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	executeOvers := make(chan events.Event, 8)
	sub := bus.Subscribe(events.KindExecuteOver, func(e events.Event) error {
		executeOvers <- e
		return nil
	})
	defer sub.Unsubscribe()

	if err := st.InitNodes(); err != nil {
		t.Fatalf("InitNodes failed: %v", err)
	}
	defer st.StopNodes()

	sink.Run()
	go st.RunCommandLoop()

	if err := st.PlayOneKline(); err != nil {
		t.Fatalf("PlayOneKline failed: %v", err)
	}

	select {
	case e := <-executeOvers:
		if e.NodeID != "indicator1" {
			t.Fatalf("ExecuteOver came from %s, want indicator1 (the only leaf)", e.NodeID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the leaf's ExecuteOver")
	}

	select {
	case e := <-executeOvers:
		t.Fatalf("unexpected second ExecuteOver from %s this cycle; kline's non-leaf output must not re-emit one", e.NodeID)
	case <-time.After(50 * time.Millisecond):
	}

	waitForCondition(t, func() bool {
		return st.PerformanceReport().CycleCount == 1
	})
}

// TestScenarioVariableUpdateAppliesNullReplacePolicy drives a Variable node
// directly across two cycles: a null source value remediated to 0 by a
// value_replace policy, followed by a genuine 0.42 update, and checks the
// resulting trajectory.
func TestScenarioVariableUpdateAppliesNullReplacePolicy(t *testing.T) {
	store := variable.NewStore()
	store.InitCustom([]variable.CustomVariable{
		{Name: "signal", Initial: types.NumberValue(decimal.Zero), Current: types.NumberValue(decimal.Zero)},
	})

	rt := node.NewRuntime("variable1", types.NodeKindVariable, zap.NewNop(), nil, make(chan events.Command, 8), events.NewWatch(0))
	cfg := node.VariableUpdateConfig{
		ID:        "cfg-1",
		Operation: types.VariableOpUpdate,
		Target:    "signal",
		Op:        types.UpdateOperatorSet,
		Policies: map[types.ErrorKind]types.ErrorPolicy{
			types.ErrorKindNullValue: {Kind: types.ErrorPolicyValueReplace, Replace: types.NumberValue(decimal.Zero)},
		},
	}
	n := node.NewVariableNode(rt, store, []node.VariableUpdateConfig{cfg})
	if err := n.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer n.Shutdown()

	if err := n.Update(1, "cfg-1", types.NullValue(), false, node.VariableOutputHandle); err != nil {
		t.Fatalf("Update (cycle 1, null) failed: %v", err)
	}
	v1, err := store.Get("signal")
	if err != nil {
		t.Fatalf("Get after cycle 1 failed: %v", err)
	}
	if !v1.Number.Equal(decimal.Zero) {
		t.Fatalf("signal after cycle 1 = %s, want 0 (null replaced)", v1.Number)
	}

	if err := n.Update(2, "cfg-1", types.NumberValue(decimal.RequireFromString("0.42")), false, node.VariableOutputHandle); err != nil {
		t.Fatalf("Update (cycle 2, 0.42) failed: %v", err)
	}
	v2, err := store.Get("signal")
	if err != nil {
		t.Fatalf("Get after cycle 2 failed: %v", err)
	}
	if !v2.Number.Equal(decimal.RequireFromString("0.42")) {
		t.Fatalf("signal after cycle 2 = %s, want 0.42", v2.Number)
	}
}

// TestScenarioSecondConsecutivePlayIsRejectedAsAlreadyPlaying reproduces the
// double-Play rejection: the driver never leaves the Playing state on its
// own after a cycle completes, so a second sequential Play without an
// intervening Pause must fail with AlreadyPlaying and must not disturb the
// index the first call already advanced.
func TestScenarioSecondConsecutivePlayIsRejectedAsAlreadyPlaying(t *testing.T) {
	d := playback.New(0)

	done := make(chan error, 1)
	go func() { done <- d.Play(0) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("first Play failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the first Play (leafCount 0 should need no barrier signal)")
	}

	if got := d.Index(); got != 1 {
		t.Fatalf("index after first Play = %d, want 1", got)
	}

	err := d.Play(0)
	if err == nil {
		t.Fatal("expected the second consecutive Play to be rejected")
	}
	var se *types.StrategyError
	if !errors.As(err, &se) || se.Code != types.CodeAlreadyPlaying {
		t.Fatalf("second Play error = %v, want CodeAlreadyPlaying", err)
	}

	if got := d.Index(); got != 1 {
		t.Fatalf("index after rejected second Play = %d, want unchanged at 1", got)
	}
}
