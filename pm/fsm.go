package pm

import "math"

type fsmState struct {
	state State
	phase int
	tm    int
	total int
	limit int
	fail  FailReason
}

// accept reports whether req may interrupt or follow the present state.
func (m *Machine) accept(req State) bool {
	if !req.Valid() {
		return false
	}
	running := m.lu.mode != LUDisabled
	cur := m.fsm.state
	if cur != StateIdle {
		switch {
		case cur == StateHalt:
			return false
		case req == StateHalt:
			return true
		case req == StateLUShutdown:
			return cur == StateLUStartup || cur == StateProbeConstE || cur == StateProbeConstJ
		}
		return false
	}
	switch req {
	case StateIdle:
		return false
	case StateHalt:
		return true
	case StateProbeConstE:
		return m.lu.mode == LUFlux
	case StateProbeConstJ, StateLUShutdown:
		return running
	case StateSelfTestPowerStage, StateAdjustVoltage:
		return !running && m.cfg.TVM
	}
	return !running
}

func (m *Machine) enter(s State) {
	f := &m.fsm
	if f.state == StateProbeConstJ {
		m.probe.biasQ = 0
	}
	if s != StateHalt {
		f.fail = FailOK
	}
	f.state = s
	f.phase = 0
	f.tm = 0
	f.total = 0
	f.limit = m.budget(s)
	m.probe = probeAcc{}

	switch s {
	case StateZeroDrift, StateStdVoltage:
		m.disable()
	case StateSelfTestPowerStage, StateAdjustVoltage:
		m.self.BM = 0
	case StateProbeConstR, StateProbeConstL, StateStdCurrent, StateAdjustCurrent:
		m.cur = currentLoop{}
	case StateProbeConstE:
		m.flux.H ^= 1
		m.flux.E[m.flux.H] = m.cfg.ConstE
	case StateLUStartup:
		m.resetEstimate()
	case StateHalt:
		m.stopRunning()
		m.disable()
	}
}

// budget is the tick count after which a state is abandoned with a timeout.
func (m *Machine) budget(s State) int {
	c := &m.cfg
	var sec float64
	switch s {
	case StateZeroDrift:
		sec = c.TmAverageDrift + c.TmInstantProbe
	case StateSelfTestPowerStage, StateAdjustVoltage:
		sec = 2 * c.TmVoltageHold
	case StateSelfTestClearance:
		sec = c.TmTransientFast + c.TmAverageProbe
	case StateStdVoltage:
		sec = c.TmAverageProbe
	case StateStdCurrent, StateAdjustCurrent, StateProbeConstR:
		sec = c.TmTransientSlow + c.TmAverageProbe
	case StateProbeConstL:
		sec = 2 * (c.TmTransientSlow + c.TmAverageProbe)
	case StateProbeConstE, StateProbeConstJ:
		sec = c.TmAverageProbe
	case StateLUStartup:
		sec = c.TmTransientFast + c.TmStartup
	default:
		sec = c.TmTransientSlow
	}
	return 2*c.ticks(sec) + c.ticks(0.01)
}

func (m *Machine) next() {
	m.fsm.phase++
	m.fsm.tm = 0
}

// done leaves the present state for IDLE with the given outcome. Running
// regimes keep running.
func (m *Machine) done(r FailReason) {
	f := &m.fsm
	if f.state == StateProbeConstJ {
		m.probe.biasQ = 0
	}
	f.fail = r
	f.state = StateIdle
	f.phase = 0
	f.tm = 0
	f.total = 0
}

func (m *Machine) fsmStep() {
	if r := State(m.req.Swap(int32(StateNone))); r != StateNone && m.accept(r) {
		m.enter(r)
	}
	f := &m.fsm
	f.tm++
	f.total++

	switch f.state {
	case StateIdle:
		if m.lu.mode == LUDisabled {
			m.disable()
		} else {
			m.run()
		}
	case StateZeroDrift:
		m.zeroDrift()
	case StateSelfTestPowerStage:
		m.selfTestPowerStage()
	case StateSelfTestClearance:
		m.selfTestClearance()
	case StateStdVoltage:
		m.stdVoltage()
	case StateStdCurrent:
		m.stdCurrent()
	case StateAdjustVoltage:
		m.adjustVoltage()
	case StateAdjustCurrent:
		m.adjustCurrent()
	case StateProbeConstR:
		m.probeConstR()
	case StateProbeConstL:
		m.probeConstL()
	case StateProbeConstE:
		m.probeConstE()
	case StateProbeConstJ:
		m.probeConstJ()
	case StateLUStartup:
		m.luStartup()
	case StateLUShutdown:
		m.stopRunning()
		m.disable()
		if f.tm >= m.cfg.ticks(m.cfg.TmTransientFast) {
			m.done(FailOK)
		}
	case StateHalt:
		m.disable()
		if f.tm >= m.cfg.ticks(m.cfg.TmTransientSlow) {
			f.state = StateIdle
			f.phase = 0
			f.tm = 0
		}
	}

	if f.state != StateIdle && f.state != StateHalt && f.total > f.limit {
		if f.state != StateProbeConstE && f.state != StateProbeConstJ {
			m.stopRunning()
		}
		m.done(FailTimeout)
	}
}

func (m *Machine) zeroDrift() {
	c := &m.cfg
	f := &m.fsm
	p := &m.probe
	m.disable()

	switch f.phase {
	case 0:
		n := c.ticks(c.TmAverageDrift)
		g := math.Min(10/float64(n), 0.5)
		c.AdIA[0] -= g * m.fb.iA
		c.AdIB[0] -= g * m.fb.iB
		if c.TVM {
			c.AdUA[0] -= g * m.fb.uA
			c.AdUB[0] -= g * m.fb.uB
			c.AdUC[0] -= g * m.fb.uC
		}
		if f.tm >= n {
			m.next()
		}
	case 1:
		p.sum[0] += m.fb.iA
		p.sum[1] += m.fb.iB
		p.sum[2] += m.fb.U
		p.n++
		if f.tm < c.ticks(c.TmInstantProbe) {
			return
		}
		n := float64(p.n)
		a, b, u := p.sum[0]/n, p.sum[1]/n, p.sum[2]/n
		switch {
		case math.Abs(a) > c.FaultCurrentTol, math.Abs(b) > c.FaultCurrentTol:
			m.done(FailZeroDrift)
		case c.FaultCurrentHalt > 0 &&
			(math.Abs(c.AdIA[0]) > c.FaultCurrentHalt || math.Abs(c.AdIB[0]) > c.FaultCurrentHalt):
			m.done(FailZeroDrift)
		case c.FaultVoltageHalt > 0 && u > c.FaultVoltageHalt:
			m.done(FailOverVoltage)
		case c.WattDCLinkLO > 0 && u < c.WattDCLinkLO/2:
			m.done(FailUnderVoltage)
		default:
			m.done(FailOK)
		}
	}
}

func (m *Machine) luStartup() {
	c := &m.cfg
	f := &m.fsm
	lu := &m.lu

	switch f.phase {
	case 0:
		if !c.TVM {
			m.next()
			return
		}
		lu.mode = LUDetached
		m.estimate()
		m.disable()
		if f.tm < c.ticks(c.TmTransientFast) {
			return
		}
		if m.det.lpfU > c.LULockS && c.ConstE > 0 {
			m.seedFlux(lu.F, lu.wS, clarke(m.fb.iA, m.fb.iB))
			lu.mode = LUFlux
			m.spd.track = lu.wS
			lu.lpfWS = lu.wS
			m.done(FailOK)
			return
		}
		m.next()
	case 1:
		m.disable()
		switch {
		case c.Sensor == SensorHall:
			m.hall = hallTracker{F: lu.F}
			lu.mode = LUHall
		case c.Sensor == SensorQEP:
			m.qep = qepTracker{count: m.fb.enc}
			lu.mode = LUQEP
		case c.HFI:
			m.seedHFI(lu.F, 0, clarke(m.fb.iA, m.fb.iB))
			lu.mode = LUHFI
		default:
			m.seedForced(lu.F, 0)
			lu.mode = LUForced
		}
		lu.wS = 0
		lu.lpfWS = 0
		m.done(FailOK)
	}
}

// stopRunning drops the estimator and every regulator state.
func (m *Machine) stopRunning() {
	m.lu.mode = LUDisabled
	m.cur = currentLoop{}
	m.spd = speedState{}
	m.weak = weakening{}
	m.hfi.inject = 0
	m.probe.biasQ = 0
	m.sensorLost = false
}

func (m *Machine) resetEstimate() {
	m.lu = luState{F: unitX}
	h := m.flux.H
	e := m.flux.E
	m.flux = fluxObserver{F: unitX, H: h, E: e}
	m.hfi = hfiTracker{F: unitX, sign: 1}
	m.forced = forcedRamp{F: unitX}
	m.det = detachedTracker{F: unitX}
	m.cur = currentLoop{}
	m.spd = speedState{}
	m.weak = weakening{}
	m.sensorLost = false
}
