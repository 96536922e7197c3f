package foc

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/viam-modules/phobia/pm"
)

const (
	pollPeriod    = 5 * time.Millisecond
	monitorPeriod = 10 * time.Millisecond
	spinupSettle  = 500 * time.Millisecond
)

var errRunning = errors.New("unable when the motor is running")

// start launches the tick goroutine, the telemetry recorder and the monitor.
func (m *Motor) start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.runner.Start(ctx)
	if m.recorder != nil {
		m.recorder.Start(ctx)
	}
	m.wg.Add(1)
	utils.PanicCapturingGo(func() {
		defer m.wg.Done()
		m.monitor(ctx)
	})
}

// monitor logs lifecycle transitions and new fail reasons.
func (m *Motor) monitor(ctx context.Context) {
	last := m.machine.Snapshot()
	stopped := false
	for utils.SelectContextOrWait(ctx, monitorPeriod) {
		if err := m.runner.Err(); err != nil && !stopped {
			stopped = true
			m.logger.Errorf("motor (%s) engine stopped: %v", m.motorName, err)
		}
		snap := m.machine.Snapshot()
		if snap.State != last.State {
			m.logger.Debugf("motor (%s) %s -> %s", m.motorName, last.State, snap.State)
		}
		if snap.Mode != last.Mode {
			m.logger.Infof("motor (%s) estimator %s", m.motorName, snap.Mode)
		}
		if snap.Fail != last.Fail && snap.Fail != pm.FailOK {
			m.logger.Warnf("motor (%s) failed in %s: %s", m.motorName, last.State, snap.Fail)
		}
		last = snap
	}
}

// WaitIdle blocks until no request is pending and the lifecycle is back in
// IDLE, then returns the fail reason.
func (m *Motor) WaitIdle(ctx context.Context) (pm.FailReason, error) {
	for {
		if err := m.runner.Err(); err != nil {
			return pm.FailOK, err
		}
		snap := m.machine.Snapshot()
		if !snap.Pending && snap.State == pm.StateIdle {
			return snap.Fail, nil
		}
		if !utils.SelectContextOrWait(ctx, pollPeriod) {
			return pm.FailOK, ctx.Err()
		}
	}
}

// transition requests s, retrying while another request is pending, and waits
// for the lifecycle to settle.
func (m *Motor) transition(ctx context.Context, s pm.State) (pm.FailReason, error) {
	if !s.Valid() {
		return pm.FailOK, errors.Errorf("no such state: %d", int32(s))
	}
	for !m.machine.Request(s) {
		if !utils.SelectContextOrWait(ctx, pollPeriod) {
			return pm.FailOK, errors.Wrapf(ctx.Err(), "waiting to request %s", s)
		}
	}
	m.logger.Debugf("motor (%s) requested %s", m.motorName, s)
	return m.WaitIdle(ctx)
}

// ensureRunning starts the estimator if it is not running.
func (m *Motor) ensureRunning(ctx context.Context) error {
	if m.machine.Snapshot().Running() {
		return nil
	}
	fail, err := m.transition(ctx, pm.StateLUStartup)
	if err != nil {
		return err
	}
	if err := fail.Err(); err != nil {
		return err
	}
	if !m.machine.Snapshot().Running() {
		return errors.Errorf("motor (%s) did not start", m.motorName)
	}
	return nil
}

// chain runs the states in order and stops at the first failure.
func (m *Motor) chain(ctx context.Context, states ...pm.State) (pm.FailReason, error) {
	for _, s := range states {
		fail, err := m.transition(ctx, s)
		if err != nil || fail != pm.FailOK {
			return fail, err
		}
	}
	return pm.FailOK, nil
}

func (m *Motor) requireStopped() error {
	if m.machine.Snapshot().Running() {
		return errRunning
	}
	return nil
}

// probeBase calibrates the current sensor offsets, tests the bridge when
// terminal voltages are sensed, and identifies R and L.
func (m *Motor) probeBase(ctx context.Context) (pm.FailReason, error) {
	if err := m.requireStopped(); err != nil {
		return pm.FailOK, err
	}
	states := []pm.State{pm.StateZeroDrift}
	if m.machine.Config().TVM {
		states = append(states, pm.StateSelfTestPowerStage)
	}
	states = append(states, pm.StateProbeConstR, pm.StateProbeConstL)
	return m.chain(ctx, states...)
}

// selfAdjust calibrates the current sensor offsets, the terminal voltage
// channels and the relative current scale.
func (m *Motor) selfAdjust(ctx context.Context) (pm.FailReason, error) {
	if err := m.requireStopped(); err != nil {
		return pm.FailOK, err
	}
	states := []pm.State{pm.StateZeroDrift}
	if m.machine.Config().TVM {
		states = append(states, pm.StateAdjustVoltage)
	}
	states = append(states, pm.StateAdjustCurrent)
	return m.chain(ctx, states...)
}

// stdVoltage calibrates the bus voltage scale against a known voltage.
func (m *Motor) stdVoltage(ctx context.Context, ref float64) (pm.FailReason, error) {
	if err := m.requireStopped(); err != nil {
		return pm.FailOK, err
	}
	if err := m.regs.Set("probe_STD", ref); err != nil {
		return pm.FailOK, err
	}
	return m.transition(ctx, pm.StateStdVoltage)
}

// stdCurrent calibrates the current scales against a known resistance across
// phases A and B.
func (m *Motor) stdCurrent(ctx context.Context, ref float64) (pm.FailReason, error) {
	if err := m.requireStopped(); err != nil {
		return pm.FailOK, err
	}
	fail, err := m.transition(ctx, pm.StateZeroDrift)
	if err != nil || fail != pm.FailOK {
		return fail, err
	}
	if err := m.regs.Set("probe_STD", ref); err != nil {
		return pm.FailOK, err
	}
	return m.transition(ctx, pm.StateStdCurrent)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// probeSpinup starts the motor, measures the back-EMF constant at
// probe_speed_low and again at probe_speed_ramp, then shuts down.
func (m *Motor) probeSpinup(ctx context.Context) (fail pm.FailReason, err error) {
	if err := m.requireStopped(); err != nil {
		return pm.FailOK, err
	}
	defer func() {
		if _, serr := m.transition(ctx, pm.StateLUShutdown); serr != nil && err == nil {
			err = serr
		}
	}()

	if fail, err = m.transition(ctx, pm.StateLUStartup); err != nil || fail != pm.FailOK {
		return fail, err
	}

	c := m.machine.Config()
	wait := seconds(c.ProbeSpeedLow/c.ForcedAccel) + spinupSettle
	if err := m.setSpeed(c.ProbeSpeedLow); err != nil {
		return pm.FailOK, err
	}
	if !utils.SelectContextOrWait(ctx, wait) {
		return pm.FailOK, ctx.Err()
	}
	if fail, err = m.transition(ctx, pm.StateProbeConstE); err != nil || fail != pm.FailOK {
		return fail, err
	}

	wait = seconds(c.ProbeSpeedRamp / c.SAccel)
	// TODO: the ramp wait above is replaced by a fixed settle time. Confirm
	// whether the computed ramp time should be used instead.
	wait = spinupSettle
	if err := m.setSpeed(c.ProbeSpeedRamp); err != nil {
		return pm.FailOK, err
	}
	if !utils.SelectContextOrWait(ctx, wait) {
		return pm.FailOK, ctx.Err()
	}
	return m.transition(ctx, pm.StateProbeConstE)
}

func (m *Motor) setSpeed(w float64) error {
	return m.regs.SetMany(map[string]float64{
		"config_DRIVE": float64(pm.DriveSpeed),
		"s_setpoint":   w,
	})
}
