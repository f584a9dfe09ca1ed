// Package strategy implements the strategy-level state machine and command
// dispatch: the entry point that owns a graph's nodes, its VTS, its
// variable store, its playback driver, and the external event bus those
// collaborators publish through.
package strategy

import (
	"context"
	"sync"

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

// NodeLifecycle is the minimal surface the strategy needs from any node
// kind to drive its lifecycle, independent of the kind-specific methods
// each concrete node type exposes beyond this.
type NodeLifecycle interface {
	Init() error
	Shutdown() error
}

// Strategy is one running backtest: a graph of nodes sharing a VTS,
// variable store, playback driver, and command channel, grounded on the
// teacher's StrategyRegistry orchestration entry point (the registry's
// plug-in Strategy interface is replaced here by a fixed node-graph shape,
// but the registry's lifecycle/ownership role survives as this type).
type Strategy struct {
	ID     string
	Logger *zap.Logger

	mu         sync.RWMutex
	state      types.StrategyState
	graph      *graph.Graph
	nodes      map[string]NodeLifecycle
	driver     *playback.Driver
	vars       *variable.Store
	vts        *vts.VTS
	bench      *benchmark.Benchmark
	klineCache *cache.Store[types.OHLCV]
	bus        *events.Bus

	commands chan events.Command
	ctx      context.Context
	cancel   context.CancelFunc
}

// Config bundles a Strategy's collaborators, assembled by the caller
// (typically cmd/server's wiring) before nodes are registered.
type Config struct {
	ID         string
	Logger     *zap.Logger
	Graph      *graph.Graph
	Driver     *playback.Driver
	Variables  *variable.Store
	VTS        *vts.VTS
	Benchmark  *benchmark.Benchmark
	KlineCache *cache.Store[types.OHLCV]
	Bus        *events.Bus
}

// New assembles a Strategy in the Created state. Nodes are attached
// afterward via AddNode, then InitNodes brings the whole graph to Ready.
func New(cfg Config) *Strategy {
	ctx, cancel := context.WithCancel(context.Background())
	return &Strategy{
		ID:         cfg.ID,
		Logger:     cfg.Logger.Named("strategy").With(zap.String("strategy_id", cfg.ID)),
		state:      types.StrategyStateCreated,
		graph:      cfg.Graph,
		nodes:      make(map[string]NodeLifecycle),
		driver:     cfg.Driver,
		vars:       cfg.Variables,
		vts:        cfg.VTS,
		bench:      cfg.Benchmark,
		klineCache: cfg.KlineCache,
		bus:        cfg.Bus,
		commands:   make(chan events.Command, 256),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// AddNode registers a node's lifecycle handle under id, callable before
// InitNodes.
func (s *Strategy) AddNode(id string, n NodeLifecycle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[id] = n
}

// Commands returns the shared command channel every node runtime sends on
// (InitKlineCacheLengths/GetCustomVariableValue/... in §6).
func (s *Strategy) Commands() chan events.Command { return s.commands }

// Watch returns the playback driver's cycle-index broadcast.
func (s *Strategy) Watch() *events.Watch { return s.driver.Watch() }

// State returns the current strategy lifecycle state.
func (s *Strategy) State() types.StrategyState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// InitNodes finalizes the graph's wiring, then calls Init on every
// registered node in topological order, entering Ready on success.
func (s *Strategy) InitNodes() error {
	s.mu.Lock()
	s.state = types.StrategyStateInitializing
	order, err := s.graph.Finalize()
	s.mu.Unlock()
	if err != nil {
		s.fail(err)
		return err
	}
	for _, id := range order {
		s.mu.RLock()
		n, ok := s.nodes[id]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		if err := n.Init(); err != nil {
			s.fail(err)
			return err
		}
	}
	s.mu.Lock()
	s.state = types.StrategyStateReady
	s.mu.Unlock()
	s.Logger.Info("strategy ready", zap.Int("node_count", len(order)))
	return nil
}

// StopNodes tears down every node in reverse topological order, matching
// the dependency-safe shutdown order the graph computes.
func (s *Strategy) StopNodes() error {
	s.mu.Lock()
	s.state = types.StrategyStateStopping
	s.mu.Unlock()

	order, err := s.graph.ReverseTopologicalOrder()
	if err != nil {
		order = s.graph.NodeIDs()
	}
	var firstErr error
	for _, id := range order {
		s.mu.RLock()
		n, ok := s.nodes[id]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		if err := n.Shutdown(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.cancel()
	s.mu.Lock()
	if firstErr != nil {
		s.state = types.StrategyStateFailed
	} else {
		s.state = types.StrategyStateStopped
	}
	s.mu.Unlock()
	return firstErr
}

func (s *Strategy) fail(err error) {
	s.mu.Lock()
	s.state = types.StrategyStateFailed
	s.mu.Unlock()
	s.Logger.Error("strategy failed", zap.Error(err))
}

// Play resumes/starts playback, blocking the caller until every graph leaf
// has reported ExecuteOver for the advanced cycle.
func (s *Strategy) Play() error {
	leaves := s.graph.Leaves()
	return s.driver.Play(len(leaves))
}

// PlayOneKline steps exactly one cycle then pauses.
func (s *Strategy) PlayOneKline() error {
	leaves := s.graph.Leaves()
	return s.driver.PlayOneKline(len(leaves))
}

// Pause suspends playback.
func (s *Strategy) Pause() error { return s.driver.Pause() }

// Reset returns the strategy to its initial play index and clears the VTS
// and the benchmark accumulator; custom variable values are left unchanged.
func (s *Strategy) Reset() {
	s.driver.Reset()
	s.vts.Reset()
	s.bench.Reset()
}

// NotifyLeafComplete forwards one leaf's ExecuteOver to the playback driver,
// called by the Strategy Event Sink as it observes leaf completions.
func (s *Strategy) NotifyLeafComplete() { s.driver.NotifyLeafComplete() }

// PerformanceReport returns the aggregated per-phase benchmark summary.
func (s *Strategy) PerformanceReport() *types.PerformanceReport { return s.bench.Report() }

// Variables exposes the variable store for command handlers.
func (s *Strategy) Variables() *variable.Store { return s.vars }

// VTS exposes the virtual trading system for command handlers.
func (s *Strategy) VTS() *vts.VTS { return s.vts }

// KlineCache exposes the shared kline cache for command handlers.
func (s *Strategy) KlineCache() *cache.Store[types.OHLCV] { return s.klineCache }

// Bus exposes the external event bus for subscription by the API layer.
func (s *Strategy) Bus() *events.Bus { return s.bus }

// Context returns the strategy's cancellation context, done once StopNodes
// has run.
func (s *Strategy) Context() context.Context { return s.ctx }
