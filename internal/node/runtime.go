package node

import (
	"context"
	"sync"
	"time"

	"github.com/atlas-desktop/backtest-engine/internal/benchmark"
	"github.com/atlas-desktop/backtest-engine/internal/events"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// initTimeout/stopTimeout bound how long a node may take to self-report
// Ready/Stopped, per §4.1.
const (
	initTimeout = 30 * time.Second
	stopTimeout = 10 * time.Second
)

// InputBinding is one input handle's subscription, bound to a source
// (from_node_id, from_handle_id).
type InputBinding struct {
	HandleID   string
	FromNode   string
	FromHandle string
	Sub        *events.Subscription
}

// Runtime is the base context every node kind embeds: identity, handles,
// the state machine, cancellation, and the strategy command channel. Kind
// behavior lives in the owning node struct's own listener loop.
type Runtime struct {
	ID     string
	Kind   types.NodeKind
	Logger *zap.Logger
	SM     *StateMachine

	outputs        map[string]*events.OutputHandle
	inputs         []*InputBinding
	strategyOutput *events.OutputHandle

	emittedMu        sync.Mutex
	emittedThisCycle map[string]uint64

	ctx    context.Context
	cancel context.CancelFunc

	commands chan<- events.Command
	watch    *events.Watch

	wg conc.WaitGroup

	readyCh   chan struct{}
	stoppedCh chan struct{}
}

// NewRuntime creates a node runtime. commands is the strategy's shared
// command-consumer channel; watch is the playback driver's play-index
// broadcast.
func NewRuntime(id string, kind types.NodeKind, logger *zap.Logger, extra map[Trigger][]Action, commands chan<- events.Command, watch *events.Watch) *Runtime {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		ID:             id,
		Kind:           kind,
		Logger:         logger.Named(string(kind)).With(zap.String("node_id", id)),
		SM:             NewStateMachine(extra),
		outputs:        make(map[string]*events.OutputHandle),
		emittedThisCycle: make(map[string]uint64),
		ctx:            ctx,
		cancel:         cancel,
		commands:       commands,
		watch:          watch,
		readyCh:        make(chan struct{}, 1),
		stoppedCh:      make(chan struct{}, 1),
	}
	r.strategyOutput = events.NewOutputHandle(id + "_strategy_output")
	return r
}

// AddOutput registers a new output handle under handleID, returning it.
// Every node exposes at least the implicit strategy output in addition to
// whatever kind-specific handles it declares here.
func (r *Runtime) AddOutput(handleID string) *events.OutputHandle {
	h := events.NewOutputHandle(handleID)
	r.outputs[handleID] = h
	return h
}

// Output implements graph.NodeHandles.
func (r *Runtime) Output(handleID string) (*events.OutputHandle, bool) {
	if handleID == r.strategyOutput.ID() {
		return r.strategyOutput, true
	}
	h, ok := r.outputs[handleID]
	return h, ok
}

// BindInput implements graph.NodeHandles.
func (r *Runtime) BindInput(inputHandleID, fromNode, fromHandle string, sub *events.Subscription) {
	r.inputs = append(r.inputs, &InputBinding{
		HandleID: inputHandleID, FromNode: fromNode, FromHandle: fromHandle, Sub: sub,
	})
}

// Inputs returns every bound input, in wiring order.
func (r *Runtime) Inputs() []*InputBinding { return r.inputs }

// StrategyOutput returns the reserved `<node_id>_strategy_output` handle.
func (r *Runtime) StrategyOutput() *events.OutputHandle { return r.strategyOutput }

// Context returns the node's cancellation context.
func (r *Runtime) Context() context.Context { return r.ctx }

// SendCommand enqueues cmd on the strategy's command consumer. Blocks while
// the channel is full and the strategy's command loop is behind — matching the
// spec's "every command send/recv suspends at await points".
func (r *Runtime) SendCommand(cmd events.Command) {
	select {
	case r.commands <- cmd:
	case <-r.ctx.Done():
	}
}

// Emit publishes e on handleID (when connected) and forwards a copy to the
// strategy output so the strategy sink and external bus observe every
// node-originated event, not only leaf ExecuteOver markers. It also records
// that handleID carried a real emission this cycle, so EmitLeafCompletion
// knows not to re-fire a synthetic Trigger on top of it.
func (r *Runtime) Emit(handleID string, e events.Event) {
	r.markEmitted(handleID, e.CycleID)
	r.EmitStrategy(e)
	h, ok := r.outputs[handleID]
	if !ok || !h.IsConnected() {
		return
	}
	h.Publish(e)
}

// EmitGraphOnly publishes e on handleID without forwarding it to the
// strategy output. It exists for node kinds (FuturesOrder) that fan a single
// logical lifecycle event out over several output handles and send exactly
// one strategy copy themselves via EmitStrategy.
func (r *Runtime) EmitGraphOnly(handleID string, e events.Event) {
	r.markEmitted(handleID, e.CycleID)
	h, ok := r.outputs[handleID]
	if !ok || !h.IsConnected() {
		return
	}
	h.Publish(e)
}

// EmitStrategy always publishes to the strategy output, bypassing graph
// routing — the strategy sink observes every node-originated event.
func (r *Runtime) EmitStrategy(e events.Event) {
	r.strategyOutput.Publish(e)
}

func (r *Runtime) markEmitted(handleID string, cycleID uint64) {
	r.emittedMu.Lock()
	r.emittedThisCycle[handleID] = cycleID
	r.emittedMu.Unlock()
}

func (r *Runtime) emittedThisCycleOn(handleID string, cycleID uint64) bool {
	r.emittedMu.Lock()
	defer r.emittedMu.Unlock()
	return r.emittedThisCycle[handleID] == cycleID
}

// EmitLeafCompletion emits ExecuteOver on the strategy handle when the node
// has no connected graph outputs at all (a true leaf), or Trigger on the
// first connected output that has not already carried a real emission this
// cycle, to keep downstream execution alive without double-feeding an
// operand a caller already fed with a substantive event.
func (r *Runtime) EmitLeafCompletion(cycleID uint64) {
	hasConnected := false
	for id, h := range r.outputs {
		if !h.IsConnected() {
			continue
		}
		hasConnected = true
		if !r.emittedThisCycleOn(id, cycleID) {
			r.Emit(id, events.Trigger(cycleID, r.ID, id))
			return
		}
	}
	if !hasConnected {
		r.EmitStrategy(events.ExecuteOver(cycleID, r.ID))
	}
}

// applyGenericActions interprets the logging actions every transition in
// defaultTable() carries (ActionLogTransition/ActionLogNodeState), writing
// to the node's zap logger and publishing the corresponding RunningLog/
// StateLog event to the strategy output, matching the teacher's pattern of
// logging both locally and onto the operational event stream. Kind-specific
// actions (ActionEvaluate, ActionRegisterExchange, ...) are left for the
// caller's actions callback to interpret.
func (r *Runtime) applyGenericActions(acts []Action, trigger Trigger) {
	state := string(r.SM.State())
	for _, a := range acts {
		switch a {
		case ActionLogTransition:
			r.Logger.Info("state transition", zap.String("trigger", string(trigger)), zap.String("state", state))
			r.EmitStrategy(events.StateLog(0, r.ID, "transition", map[string]any{
				"trigger": string(trigger), "state": state,
			}))
		case ActionLogNodeState:
			r.Logger.Info("node state", zap.String("state", state))
			r.EmitStrategy(events.StateLog(0, r.ID, "state", map[string]any{"state": state}))
		}
	}
}

// NewCycleTracker creates a per-cycle phase timer for this node.
func (r *Runtime) NewCycleTracker(cycleID uint64) *benchmark.CycleTracker {
	return benchmark.NewCycleTracker(cycleID, r.ID)
}

// ReportCycleTracker submits a completed CycleTracker to the strategy's
// benchmark aggregator via CmdAddNodeCycleTracker, awaiting the one-shot
// reply (or the node's own shutdown, whichever comes first).
func (r *Runtime) ReportCycleTracker(ct *benchmark.CycleTracker) {
	cmd, reply := events.NewCommand(events.CmdAddNodeCycleTracker, r.ID, ct)
	r.SendCommand(cmd)
	select {
	case <-reply:
	case <-r.ctx.Done():
	}
}

// Go runs fn under the runtime's wait group. A panic in fn is captured and
// re-raised on the next Wait() call (Stop, here) instead of crashing the
// process immediately — the same "panic surfaces through a controlled
// channel, not a bare goroutine crash" property as the teacher's worker
// pool executeTask recover-and-report wrapper.
func (r *Runtime) Go(fn func()) {
	r.wg.Go(fn)
}

// Initialize fires Initialize then waits up to initTimeout for the node to
// self-report Ready via SignalReady.
func (r *Runtime) Initialize(actions func([]Action) error) error {
	acts, err := r.SM.Fire(TriggerInitialize)
	if err != nil {
		return err
	}
	r.applyGenericActions(acts, TriggerInitialize)
	if err := actions(acts); err != nil {
		r.fail(err)
		return err
	}
	select {
	case <-r.readyCh:
		completeActs, err := r.SM.Fire(TriggerInitializeComplete)
		r.applyGenericActions(completeActs, TriggerInitializeComplete)
		return err
	case <-time.After(initTimeout):
		err := types.NewStrategyError(types.CodeNodeInitTimeout, nil)
		r.fail(err)
		return err
	}
}

// SignalReady reports that initialization work has completed.
func (r *Runtime) SignalReady() {
	select {
	case r.readyCh <- struct{}{}:
	default:
	}
}

// SignalStopped reports that stop work has completed.
func (r *Runtime) SignalStopped() {
	select {
	case r.stoppedCh <- struct{}{}:
	default:
	}
}

func (r *Runtime) fail(err error) {
	acts, _ := r.SM.Fire(TriggerFail)
	r.applyGenericActions(acts, TriggerFail)
	r.Logger.Error("node failed", zap.Error(err))
}

// Start fires Start (spawning listeners is the caller's responsibility via
// actions, matching ListenAndHandleNodeEvents).
func (r *Runtime) Start(actions func([]Action) error) error {
	acts, err := r.SM.Fire(TriggerStart)
	if err != nil {
		return err
	}
	r.applyGenericActions(acts, TriggerStart)
	return actions(acts)
}

// Stop cancels the node's context, fires Stop, and waits up to stopTimeout
// for every listener goroutine to exit.
func (r *Runtime) Stop() error {
	acts, err := r.SM.Fire(TriggerStop)
	if err != nil {
		return err
	}
	r.applyGenericActions(acts, TriggerStop)
	for _, a := range acts {
		if a == ActionCancelAsyncTask {
			r.cancel()
		}
	}
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		r.Logger.Warn("node stop timed out waiting for listeners")
		failActs, _ := r.SM.Fire(TriggerFail)
		r.applyGenericActions(failActs, TriggerFail)
		return types.NewStrategyError(types.CodeNodeStopTimeout, nil)
	}
	completeActs, err := r.SM.Fire(TriggerStopComplete)
	r.applyGenericActions(completeActs, TriggerStopComplete)
	return err
}
