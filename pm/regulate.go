package pm

import (
	"math"

	"github.com/golang/geo/r2"
)

type currentLoop struct {
	trackD, trackQ float64
	integD, integQ float64
	uD, uQ         float64
	sat            bool
}

type speedState struct {
	track    float64
	integral float64
}

type positionState struct {
	err float64
}

// run is the closed-loop pipeline while a regime is active: estimation,
// limits, the outer loop selected by the drive mode and the current
// regulator.
func (m *Machine) run() {
	c := &m.cfg
	m.estimate()
	if m.lu.mode == LUDetached {
		m.disable()
		return
	}
	m.limits()

	var setD, setQ float64
	if m.lu.mode == LUForced {
		setD = c.ForcedHoldD
	} else {
		setD = c.ISetpointD + m.weak.D + c.IInjectD
		switch c.Drive {
		case DrivePosition:
			setQ = m.speedLoop(m.positionLoop())
		case DriveSpeed:
			setQ = m.speedLoop(c.SSetpoint)
		default:
			setQ = c.ISetpointQ
		}
	}
	setQ = m.limitQ(setQ + m.probe.biasQ)
	m.currentStep(setD, setQ)
}

// currentStep regulates the estimated frame currents toward the slewed and
// clamped setpoints and drives the bridge with the result.
func (m *Machine) currentStep(setD, setQ float64) {
	c := &m.cfg
	q := &m.cur
	lu := &m.lu

	imax := m.watt.iDerated
	step := c.ISlewRate * m.dT
	D := clamp(slew(q.trackD, setD, step), -imax, imax)
	qmax := math.Sqrt(math.Max(imax*imax-D*D, 0))
	Q := clamp(slew(q.trackQ, setQ, step), -qmax, qmax)
	q.trackD, q.trackQ = D, Q

	eD := D - lu.iD
	eQ := Q - lu.iQ
	w := lu.wS
	uD := c.IGainP*eD + q.integD - w*c.ConstLq*lu.iQ
	uQ := c.IGainP*eQ + q.integQ + w*(c.ConstLd*lu.iD+c.ConstE)
	if lu.mode == LUHFI {
		uD += m.hfi.inject
	}

	sat := m.voltage(unpark(r2.Point{X: uD, Y: uQ}, lu.F))
	u := park(m.vsi.uXY, lu.F)
	q.uD, q.uQ = u.X, u.Y
	q.sat = sat

	if !sat || eD*uD < 0 {
		q.integD += c.IGainI * eD
	}
	if !sat || eQ*uQ < 0 {
		q.integQ += c.IGainI * eQ
	}
	lim := m.fb.lpfU
	q.integD = clamp(q.integD, -lim, lim)
	q.integQ = clamp(q.integQ, -lim, lim)
}

// speedLoop returns the Q current that drives the estimated speed toward
// target. Reverse speed is limited by the positive magnitude s_reverse.
func (m *Machine) speedLoop(target float64) float64 {
	c := &m.cfg
	s := &m.spd
	lu := &m.lu

	target = clamp(target, -c.SReverse, c.SMaximal)
	s.track = slew(s.track, target, c.SAccel*m.dT)

	imax := m.watt.iDerated
	lo := -imax
	if c.IReverse < 0 && c.IReverse > lo {
		lo = c.IReverse
	}
	iQ := s.integral + c.SGainP*(s.track-lu.lpfWS) - c.SGainHFS*(lu.wS-lu.lpfWS)
	iQ = clamp(iQ, lo, imax)
	s.integral += c.SGainLPI * (m.cur.trackQ - s.integral)
	return iQ
}

// positionLoop returns a speed target from the position error. The gain is
// x_gain_N inside x_near_EP and x_gain_P beyond it, joined continuously.
func (m *Machine) positionLoop() float64 {
	c := &m.cfg
	lu := &m.lu
	e := c.XSetpointA - angleOf(lu.F) + 2*math.Pi*float64(c.XSetpointRevol-lu.revol)
	m.pos.err = e
	near := c.XNearEP
	if math.Abs(e) <= near {
		return c.XGainN * e
	}
	s := math.Copysign(1, e)
	return s*c.XGainN*near + c.XGainP*(e-s*near)
}
