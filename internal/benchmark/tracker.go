// Package benchmark implements per-cycle, per-node phase timing and its
// aggregation into a strategy-level performance report.
package benchmark

import (
	"sort"
	"sync"
	"time"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
)

// CycleTracker records named phase durations for one node's work within a
// single cycle. Once End is called the tracker is immutable.
type CycleTracker struct {
	CycleID uint64
	NodeID  string

	mu     sync.Mutex
	starts map[string]time.Time
	done   map[string]time.Duration
	closed bool
}

// NewCycleTracker creates a tracker for nodeID's work in cycleID.
func NewCycleTracker(cycleID uint64, nodeID string) *CycleTracker {
	return &CycleTracker{
		CycleID: cycleID,
		NodeID:  nodeID,
		starts:  make(map[string]time.Time),
		done:    make(map[string]time.Duration),
	}
}

// StartPhase marks the start of a named phase.
func (t *CycleTracker) StartPhase(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.starts[name] = time.Now()
}

// EndPhase accumulates the duration since the matching StartPhase. Calling
// EndPhase without a prior StartPhase for name is a no-op.
func (t *CycleTracker) EndPhase(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	start, ok := t.starts[name]
	if !ok {
		return
	}
	t.done[name] += time.Since(start)
	delete(t.starts, name)
}

// End freezes the tracker; subsequent StartPhase/EndPhase calls are no-ops.
func (t *CycleTracker) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

// Phases returns a snapshot of accumulated phase durations.
func (t *CycleTracker) Phases() map[string]time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]time.Duration, len(t.done))
	for k, v := range t.done {
		out[k] = v
	}
	return out
}

// Benchmark accumulates CycleTrackers for a strategy and produces an
// aggregated performance report.
type Benchmark struct {
	mu       sync.Mutex
	byNode   map[string][]*CycleTracker
	samples  map[string][]time.Duration // phase name -> every observed duration, across nodes
}

// NewBenchmark creates an empty Benchmark.
func NewBenchmark() *Benchmark {
	return &Benchmark{
		byNode:  make(map[string][]*CycleTracker),
		samples: make(map[string][]time.Duration),
	}
}

// Add appends a closed tracker to the benchmark. Matches
// AddNodeCycleTracker.
func (b *Benchmark) Add(t *CycleTracker) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byNode[t.NodeID] = append(b.byNode[t.NodeID], t)
	for phase, d := range t.Phases() {
		b.samples[phase] = append(b.samples[phase], d)
	}
}

// Trackers returns every tracker recorded for nodeID, or an error if none
// exist.
func (b *Benchmark) Trackers(nodeID string) ([]*CycleTracker, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts, ok := b.byNode[nodeID]
	if !ok {
		return nil, types.NewStrategyError(types.CodeNodeBenchmarkNotFound, nil)
	}
	return ts, nil
}

// Reset clears all recorded trackers, used on strategy reset.
func (b *Benchmark) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byNode = make(map[string][]*CycleTracker)
	b.samples = make(map[string][]time.Duration)
}

// CycleCount returns the number of distinct cycles any tracker recorded.
func (b *Benchmark) CycleCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := make(map[uint64]struct{})
	for _, ts := range b.byNode {
		for _, t := range ts {
			seen[t.CycleID] = struct{}{}
		}
	}
	return len(seen)
}

// Report returns per-phase counts and mean/p50/p95/p99 timings.
func (b *Benchmark) Report() *types.PerformanceReport {
	b.mu.Lock()
	defer b.mu.Unlock()

	report := &types.PerformanceReport{Phases: make(map[string]*types.PhaseSummary)}
	seenCycles := make(map[uint64]struct{})
	for _, ts := range b.byNode {
		for _, t := range ts {
			seenCycles[t.CycleID] = struct{}{}
		}
	}
	report.CycleCount = len(seenCycles)

	for phase, durations := range b.samples {
		if len(durations) == 0 {
			continue
		}
		sorted := append([]time.Duration(nil), durations...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var total time.Duration
		for _, d := range sorted {
			total += d
		}
		report.Phases[phase] = &types.PhaseSummary{
			Count: len(sorted),
			Mean:  total / time.Duration(len(sorted)),
			P50:   quantile(sorted, 0.50),
			P95:   quantile(sorted, 0.95),
			P99:   quantile(sorted, 0.99),
		}
	}
	return report
}

func quantile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
