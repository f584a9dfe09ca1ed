package strategy

import (
	"testing"
	"time"

	"github.com/atlas-desktop/backtest-engine/internal/benchmark"
	"github.com/atlas-desktop/backtest-engine/internal/cache"
	"github.com/atlas-desktop/backtest-engine/internal/events"
	"github.com/atlas-desktop/backtest-engine/internal/graph"
	"github.com/atlas-desktop/backtest-engine/internal/playback"
	"github.com/atlas-desktop/backtest-engine/internal/variable"
	"github.com/atlas-desktop/backtest-engine/internal/vts"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"go.uber.org/zap"
)

// fakeNode is the minimal NodeLifecycle a strategy test wires in, standing
// in for a real node.Runtime-backed kind.
type fakeNode struct {
	initErr     error
	shutdownErr error
	initCalled  bool
	stopCalled  bool
}

func (f *fakeNode) Init() error     { f.initCalled = true; return f.initErr }
func (f *fakeNode) Shutdown() error { f.stopCalled = true; return f.shutdownErr }

func newTestStrategy(t *testing.T) (*Strategy, *graph.Graph) {
	t.Helper()
	g := graph.New()
	s := New(Config{
		ID:         "strat-1",
		Logger:     zap.NewNop(),
		Graph:      g,
		Driver:     playback.New(0),
		Variables:  variable.NewStore(),
		VTS:        vts.New(zap.NewNop(), "strat-1_vts_output"),
		Benchmark:  benchmark.NewBenchmark(),
		KlineCache: cache.NewStore[types.OHLCV](func(c types.OHLCV) time.Time { return c.Timestamp }),
	})
	return s, g
}

type noopHandles struct{}

func (noopHandles) Output(string) (*events.OutputHandle, bool)             { return nil, false }
func (noopHandles) BindInput(string, string, string, *events.Subscription) {}

func TestInitNodesBringsStrategyToReady(t *testing.T) {
	s, g := newTestStrategy(t)
	n := &fakeNode{}
	g.AddNode("n1", noopHandles{})
	s.AddNode("n1", n)

	if err := s.InitNodes(); err != nil {
		t.Fatalf("InitNodes failed: %v", err)
	}
	if !n.initCalled {
		t.Fatal("expected Init to be called on the registered node")
	}
	if s.State() != types.StrategyStateReady {
		t.Fatalf("state = %s, want ready", s.State())
	}
}

func TestInitNodesFailsStrategyWhenANodeErrors(t *testing.T) {
	s, g := newTestStrategy(t)
	failing := &fakeNode{initErr: types.NewStrategyError(types.CodeNodeInitTimeout, nil)}
	g.AddNode("n1", noopHandles{})
	s.AddNode("n1", failing)

	if err := s.InitNodes(); err == nil {
		t.Fatal("expected InitNodes to surface the failing node's error")
	}
	if s.State() != types.StrategyStateFailed {
		t.Fatalf("state = %s, want failed", s.State())
	}
}

func TestStopNodesShutsDownEveryRegisteredNode(t *testing.T) {
	s, g := newTestStrategy(t)
	n1, n2 := &fakeNode{}, &fakeNode{}
	g.AddNode("n1", noopHandles{})
	g.AddNode("n2", noopHandles{})
	s.AddNode("n1", n1)
	s.AddNode("n2", n2)

	if err := s.InitNodes(); err != nil {
		t.Fatalf("InitNodes failed: %v", err)
	}
	if err := s.StopNodes(); err != nil {
		t.Fatalf("StopNodes failed: %v", err)
	}
	if !n1.stopCalled || !n2.stopCalled {
		t.Fatal("expected Shutdown to be called on every registered node")
	}
	if s.State() != types.StrategyStateStopped {
		t.Fatalf("state = %s, want stopped", s.State())
	}
	select {
	case <-s.Context().Done():
	default:
		t.Fatal("expected the strategy context to be canceled after StopNodes")
	}
}

func TestResetClearsDriverVtsAndBenchmark(t *testing.T) {
	s, _ := newTestStrategy(t)
	go s.RunCommandLoop()

	ct := benchmark.NewCycleTracker(1, "n1")
	ct.End()
	cmd, reply := events.NewCommand(events.CmdAddNodeCycleTracker, "n1", ct)
	s.Commands() <- cmd
	<-reply

	if got := s.PerformanceReport().CycleCount; got != 1 {
		t.Fatalf("cycle count before Reset = %d, want 1", got)
	}
	if err := s.driver.PlayOneKline(0); err != nil {
		t.Fatalf("PlayOneKline: %v", err)
	}
	s.vts.ProcessCycle(1, "BTCUSDT", types.OHLCV{Timestamp: time.Unix(60, 0)})

	s.Reset()

	if got := s.PerformanceReport().CycleCount; got != 0 {
		t.Fatalf("cycle count after Reset = %d, want 0", got)
	}
	if got := s.driver.Index(); got != 0 {
		t.Fatalf("play index after Reset = %d, want 0", got)
	}
	if !s.vts.CurrentDatetime().IsZero() {
		t.Fatalf("VTS datetime after Reset = %v, want zero", s.vts.CurrentDatetime())
	}
}
