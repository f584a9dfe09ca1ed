// Package playback implements the Playback Driver: the single clock that
// advances the strategy's cycle index and wakes every node waiting on it.
package playback

import (
	"sync"
	"time"

	"github.com/atlas-desktop/backtest-engine/internal/events"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
)

// Driver owns the play index watch channel and the play/pause state
// machine, grounded on the teacher's orchestrator run-loop in
// internal/orchestrator/orchestrator.go (start/pause/resume over a shared
// tick), generalized from wall-clock ticks to a bar-index cycle clock.
type Driver struct {
	mu        sync.Mutex
	state     types.StrategyState
	index     *events.Watch
	maxIdx    uint64 // total number of bars available; 0 means unknown
	barrier   *barrier
	playSpeed int // bars/second, read from the start node; paces Play, not PlayOneKline
}

// barrier is a single-waiter notifier the driver uses to block Play until
// every node has finished reacting to the previous cycle (ExecuteOver from
// every leaf), mirroring the source's execute_over_notify rendezvous.
type barrier struct {
	mu      sync.Mutex
	pending int
	done    chan struct{}
}

func newBarrier() *barrier {
	return &barrier{done: make(chan struct{}, 1)}
}

// Arm resets the barrier to wait for n leaf completions.
func (b *barrier) Arm(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = n
	select {
	case <-b.done:
	default:
	}
	if n == 0 {
		b.done <- struct{}{}
	}
}

// Signal records one leaf's completion, releasing Wait when the count
// reaches zero.
func (b *barrier) Signal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == 0 {
		return
	}
	b.pending--
	if b.pending == 0 {
		select {
		case b.done <- struct{}{}:
		default:
		}
	}
}

// Wait blocks until every armed leaf has signaled.
func (b *barrier) Wait() { <-b.done }

// New creates a Driver starting in Ready, seeded at play index 0.
func New(maxIndex uint64) *Driver {
	return &Driver{
		state:   types.StrategyStateReady,
		index:   events.NewWatch(0),
		maxIdx:  maxIndex,
		barrier: newBarrier(),
		// playSpeed starts at 0 (unpaced) until a start node's configured
		// speed arrives via SetPlaySpeed; a driver built without one (e.g.
		// directly in tests) advances as fast as its barrier allows.
	}
}

// SetPlaySpeed configures Play's bars/second pacing, matching the
// InitialPlaySpeed entry action's "read from the start node" rule.
func (d *Driver) SetPlaySpeed(barsPerSecond int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if barsPerSecond <= 0 {
		barsPerSecond = 1
	}
	d.playSpeed = barsPerSecond
}

// Watch exposes the play-index broadcast for nodes to subscribe to.
func (d *Driver) Watch() *events.Watch { return d.index }

// State returns the current playback state.
func (d *Driver) State() types.StrategyState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Play transitions Ready/Paused -> Playing and advances the index by one,
// rejecting a second concurrent Play with AlreadyPlaying.
func (d *Driver) Play(leafCount int) error {
	d.mu.Lock()
	if d.state == types.StrategyStatePlaying {
		d.mu.Unlock()
		return types.NewStrategyError(types.CodeAlreadyPlaying, nil)
	}
	d.state = types.StrategyStatePlaying
	d.mu.Unlock()
	return d.advance(leafCount, true)
}

// PlayOneKline advances exactly one bar regardless of play state, then
// returns to Paused — the step-through control in §4.5. It never paces:
// "one iteration of the loop without a sleep."
func (d *Driver) PlayOneKline(leafCount int) error {
	d.mu.Lock()
	d.state = types.StrategyStatePlaying
	d.mu.Unlock()
	if err := d.advance(leafCount, false); err != nil {
		return err
	}
	d.mu.Lock()
	d.state = types.StrategyStatePaused
	d.mu.Unlock()
	return nil
}

func (d *Driver) advance(leafCount int, pace bool) error {
	d.mu.Lock()
	next := d.index.Get() + 1
	if d.maxIdx > 0 && next > d.maxIdx {
		d.state = types.StrategyStateStopped
		d.mu.Unlock()
		return types.NewStrategyError(types.CodePlayFinished, nil)
	}
	speed := d.playSpeed
	d.mu.Unlock()

	d.barrier.Arm(leafCount)
	d.index.Set(next)
	d.barrier.Wait()

	if pace && speed > 0 {
		time.Sleep(time.Second / time.Duration(speed))
	}
	return nil
}

// NotifyLeafComplete is called once per leaf ExecuteOver observed by the
// strategy sink during the current cycle.
func (d *Driver) NotifyLeafComplete() { d.barrier.Signal() }

// Pause transitions Playing -> Paused.
func (d *Driver) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != types.StrategyStatePlaying {
		return types.NewStrategyError(types.CodeAlreadyPausing, nil)
	}
	d.state = types.StrategyStatePaused
	return nil
}

// Reset returns the index to 0 and the state to Ready.
func (d *Driver) Reset() {
	d.mu.Lock()
	d.state = types.StrategyStateReady
	d.mu.Unlock()
	d.index.Set(0)
}

// Index returns the current play index.
func (d *Driver) Index() uint64 { return d.index.Get() }
