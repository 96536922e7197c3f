package foc

import (
	"context"

	"github.com/pkg/errors"

	"github.com/viam-modules/phobia/pm"
)

// DoCommand() related constants.
const (
	Command     = "command"
	Get         = "get"
	Set         = "set"
	Dump        = "dump"
	Status      = "status"
	FSM         = "fsm"
	ProbeBase   = "probe_base"
	ProbeSpinup = "probe_spinup"
	SelfAdjust  = "self_adjust"
	STDVoltage  = "std_voltage"
	STDCurrent  = "std_current"

	NamesVal  = "names"
	ParamsVal = "params"
	StateVal  = "state"
	Value     = "value"
)

// registers reported after each sequence.
var (
	baseResults     = []string{"ad_IA0", "ad_IB0", "const_R", "const_L", "const_Ld", "const_Lq", "const_im_B", "const_im_R"}
	spinupResults   = []string{"const_E", "const_E_kv", "s_setpoint_pc"}
	adjustResults   = []string{"ad_IA0", "ad_IB0", "ad_IA1", "ad_IB1", "ad_UA0", "ad_UA1", "ad_UB0", "ad_UB1", "ad_UC0", "ad_UC1"}
	voltageResults  = []string{"const_lpf_U", "ad_US0", "ad_US1"}
	currentResults  = []string{"ad_IA0", "ad_IB0", "ad_IA1", "ad_IB1"}
	driftResults    = []string{"ad_IA0", "ad_IB0"}
	stateResults    = map[pm.State][]string{pm.StateZeroDrift: driftResults}
	errNeedValue    = errors.Errorf("need a numeric %s value", Value)
	errNeedNames    = errors.Errorf("need %s as a list of register names", NamesVal)
	errNeedParams   = errors.Errorf("need %s as a map of register names to numbers", ParamsVal)
	errNeedStateVal = errors.Errorf("need %s as a state name", StateVal)
)

// DoCommand executes additional commands beyond the Motor{} interface.
func (m *Motor) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	name, ok := cmd[Command]
	if !ok {
		return nil, errors.Errorf("missing %s value", Command)
	}
	switch name {
	case Get:
		names, ok := toStrings(cmd[NamesVal])
		if !ok {
			return nil, errNeedNames
		}
		return m.report(pm.FailOK, names...)
	case Set:
		params, ok := toParams(cmd[ParamsVal])
		if !ok {
			return nil, errNeedParams
		}
		return nil, m.regs.SetMany(params)
	case Dump:
		out := map[string]interface{}{}
		for k, v := range m.regs.Dump() {
			out[k] = v
		}
		return out, nil
	case Status:
		return m.status(), nil
	case FSM:
		s, ok := cmd[StateVal].(string)
		if !ok {
			return nil, errNeedStateVal
		}
		state, err := pm.ParseState(s)
		if err != nil {
			return nil, err
		}
		m.opMgr.CancelRunning(ctx)
		fail, err := m.transition(ctx, state)
		if err != nil {
			return nil, err
		}
		return m.report(fail, stateResults[state]...)
	case ProbeBase:
		fail, err := m.probeBase(ctx)
		if err != nil {
			return nil, err
		}
		return m.report(fail, baseResults...)
	case ProbeSpinup:
		fail, err := m.probeSpinup(ctx)
		if err != nil {
			return nil, err
		}
		return m.report(fail, spinupResults...)
	case SelfAdjust:
		fail, err := m.selfAdjust(ctx)
		if err != nil {
			return nil, err
		}
		return m.report(fail, adjustResults...)
	case STDVoltage, STDCurrent:
		ref, ok := toFloat(cmd[Value])
		if !ok {
			return nil, errNeedValue
		}
		probe, results := m.stdVoltage, voltageResults
		if name == STDCurrent {
			probe, results = m.stdCurrent, currentResults
		}
		fail, err := probe(ctx, ref)
		if err != nil {
			return nil, err
		}
		return m.report(fail, results...)
	default:
		return nil, errors.Errorf("no such command: %s", name)
	}
}

// report reads the named registers and adds the fail reason.
func (m *Motor) report(fail pm.FailReason, names ...string) (map[string]interface{}, error) {
	out := map[string]interface{}{"fail_reason": fail.String()}
	for _, n := range names {
		v, err := m.regs.Get(n)
		if err != nil {
			return nil, err
		}
		out[n] = v
	}
	return out, nil
}

func (m *Motor) status() map[string]interface{} {
	snap := m.machine.Snapshot()
	m.mu.Lock()
	zero := m.zero
	m.mu.Unlock()
	return map[string]interface{}{
		"state":       snap.State.String(),
		"phase":       snap.Phase,
		"lu_mode":     snap.Mode.String(),
		"fail_reason": snap.Fail.String(),
		"tick":        snap.Tick,
		"rpm":         rpmOf(&snap),
		"position":    mechanical(&snap, snap.Position()) - zero,
		"i_D":         snap.ID,
		"i_Q":         snap.IQ,
		"u_DC":        snap.LpfU,
		"temp_PCB":    snap.TempPCB,
		"enable":      snap.Enable,
	}
}

// toFloat converts the numeric types a command may carry.
func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint32:
		return float64(val), true
	default:
		return 0, false
	}
}

func toStrings(v interface{}) ([]string, bool) {
	switch val := v.(type) {
	case string:
		return []string{val}, true
	case []string:
		return val, true
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, x := range val {
			s, ok := x.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func toParams(v interface{}) (map[string]float64, bool) {
	raw, ok := v.(map[string]interface{})
	if !ok {
		return nil, false
	}
	out := make(map[string]float64, len(raw))
	for k, x := range raw {
		f, ok := toFloat(x)
		if !ok {
			return nil, false
		}
		out[k] = f
	}
	return out, true
}
