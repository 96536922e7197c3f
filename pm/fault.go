package pm

import "math"

// faultCheck returns the first fault condition present in this tick.
func (m *Machine) faultCheck() FailReason {
	c := &m.cfg
	fb := &m.fb

	if h := c.FaultCurrentHalt; h > 0 &&
		(math.Abs(fb.iA) > h || math.Abs(fb.iB) > h || math.Abs(fb.iC) > h) {
		return FailOverCurrent
	}
	if c.FaultVoltageHalt > 0 && fb.U > c.FaultVoltageHalt {
		return FailOverVoltage
	}
	if m.vsi.out.Enable && c.WattDCLinkLO > 0 && fb.lpfU < c.WattDCLinkLO/2 {
		return FailUnderVoltage
	}
	if m.lu.mode == LUDisabled {
		return FailOK
	}
	if !finite(m.lu.F.X, m.lu.F.Y, m.lu.wS, m.cur.integD, m.cur.integQ) {
		return FailNumerical
	}
	if m.lu.mode == LUFlux && c.FaultFluxResidual > 0 && m.flux.residual > c.FaultFluxResidual {
		return FailFluxResidual
	}
	if m.sensorLost {
		return FailSensor
	}
	return FailOK
}
