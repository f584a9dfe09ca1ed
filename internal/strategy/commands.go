package strategy

import (
	"github.com/atlas-desktop/backtest-engine/internal/benchmark"
	"github.com/atlas-desktop/backtest-engine/internal/events"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
)

// RunCommandLoop drains the shared command channel until the strategy's
// context is canceled, dispatching each Command to the collaborator it
// targets and replying exactly once. Grounded on the teacher's worker pool
// task-dispatch loop in internal/workers/pool.go, generalized from
// homogeneous tasks to a kind-tagged command union.
func (s *Strategy) RunCommandLoop() {
	for {
		select {
		case cmd := <-s.commands:
			s.dispatch(cmd)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Strategy) dispatch(cmd events.Command) {
	switch cmd.Kind {
	case events.CmdGetStrategyKeys:
		cmd.Respond(events.Reply{Payload: s.klineCache.Keys()})

	case events.CmdGetKlineData:
		req, ok := cmd.Payload.(KlineReadRequest)
		if !ok {
			cmd.Respond(events.Reply{Err: types.NewStrategyError(types.CodeGetDataFailed, nil)})
			return
		}
		entry := s.klineCache.Get(req.Key)
		if entry == nil {
			cmd.Respond(events.Reply{Err: types.NewStrategyError(types.CodeKlineKeyNotFound, nil)})
			return
		}
		cmd.Respond(events.Reply{Payload: entry.Get(entry.Length()-1, req.Limit)})

	case events.CmdGetCustomVariableValue:
		name, _ := cmd.Payload.(string)
		v, err := s.vars.Get(name)
		cmd.Respond(events.Reply{Payload: v, Err: err})

	case events.CmdUpdateCustomVariableValue:
		req, ok := cmd.Payload.(VariableUpdateRequest)
		if !ok {
			cmd.Respond(events.Reply{Err: types.NewStrategyError(types.CodeCusVarUpdateOpValueNone, nil)})
			return
		}
		v, err := s.vars.Apply(req.Name, req.Op, req.Operand)
		cmd.Respond(events.Reply{Payload: v, Err: err})

	case events.CmdResetCustomVariableValue:
		name, _ := cmd.Payload.(string)
		v, err := s.vars.Reset(name)
		cmd.Respond(events.Reply{Payload: v, Err: err})

	case events.CmdUpdateSysVariableValue:
		req, ok := cmd.Payload.(SysVariableUpdateRequest)
		if !ok {
			cmd.Respond(events.Reply{Err: types.NewStrategyError(types.CodeSysVariableSymbolIsNull, nil)})
			return
		}
		s.vars.UpdateSys(req.Name, req.Value)
		cmd.Respond(events.Reply{})

	case events.CmdAddNodeCycleTracker:
		t, ok := cmd.Payload.(*benchmark.CycleTracker)
		if !ok {
			cmd.Respond(events.Reply{Err: types.NewStrategyError(types.CodeNodeBenchmarkNotFound, nil)})
			return
		}
		s.bench.Add(t)
		cmd.Respond(events.Reply{})

	case events.CmdGetCurrentTime:
		cmd.Respond(events.Reply{Payload: s.vts.CurrentDatetime()})

	default:
		cmd.Respond(events.Reply{Err: types.NewStrategyError(types.CodeNodeNotFound, nil)})
	}
}

// KlineReadRequest is the payload for CmdGetKlineData.
type KlineReadRequest struct {
	Key   string
	Limit int
}

// VariableUpdateRequest is the payload for CmdUpdateCustomVariableValue.
type VariableUpdateRequest struct {
	Name    string
	Op      types.UpdateOperator
	Operand types.VariableValue
}

// SysVariableUpdateRequest is the payload for CmdUpdateSysVariableValue.
type SysVariableUpdateRequest struct {
	Name  string
	Value types.VariableValue
}
