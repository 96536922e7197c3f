package pm

import (
	"math"

	"github.com/golang/geo/r2"
)

// luState is the output of the active regime: rotor orientation, speed and
// the feedback currents in the estimated frame.
type luState struct {
	mode LUMode

	F     r2.Point
	wS    float64
	lpfWS float64
	revol int

	iX, iY float64
	iD, iQ float64
}

type forcedRamp struct {
	F  r2.Point
	wS float64
	tm int
}

type detachedTracker struct {
	F     r2.Point
	wS    float64
	prevU r2.Point
	lpfU  float64
}

type hallTracker struct {
	F    r2.Point
	wS   float64
	code int
	tm   int
	lost int
}

type qepTracker struct {
	F     r2.Point
	wS    float64
	count int32
}

const detachedGainLPU = 0.1

// estimate runs the active regime, the regime selector and the revolution
// counter, and parks the measured currents into the new frame.
func (m *Machine) estimate() {
	c := &m.cfg
	lu := &m.lu
	i := clarke(m.fb.iA, m.fb.iB)
	prev := lu.F

	switch lu.mode {
	case LUDetached:
		m.detachedUpdate()
		lu.F, lu.wS = m.det.F, m.det.wS
	case LUForced:
		m.forcedUpdate()
		lu.F, lu.wS = m.forced.F, m.forced.wS
	case LUFlux:
		m.fluxUpdate(i)
		lu.F, lu.wS = m.flux.F, m.flux.wS
	case LUHFI:
		m.hfiUpdate(i)
		lu.F, lu.wS = m.hfi.F, m.hfi.wS
	case LUHall:
		m.hallUpdate()
		lu.F, lu.wS = m.hall.F, m.hall.wS
	case LUQEP:
		m.qepUpdate()
		lu.F, lu.wS = m.qep.F, m.qep.wS
	}
	lu.lpfWS += c.LUGainLPS * (lu.wS - lu.lpfWS)
	m.selectRegime(i)

	switch {
	case prev.Y >= 0 && lu.F.Y < 0 && lu.F.X < 0:
		lu.revol++
		m.stat.eRevol++
	case prev.Y < 0 && lu.F.Y >= 0 && lu.F.X < 0:
		lu.revol--
		m.stat.eRevol++
	}

	fb := i
	if lu.mode == LUHFI {
		fb = m.hfi.mean
	}
	dq := park(fb, lu.F)
	lu.iX, lu.iY = i.X, i.Y
	lu.iD, lu.iQ = dq.X, dq.Y
}

// selectRegime hands estimation over between the flux observer and the low
// speed regime. The incoming regime is seeded from the outgoing orientation
// and speed before it becomes active.
func (m *Machine) selectRegime(i r2.Point) {
	c := &m.cfg
	lu := &m.lu
	w := math.Abs(lu.lpfWS)

	switch lu.mode {
	case LUFlux:
		if w < c.WLowThreshold-c.WLowHysteresis {
			if c.HFI {
				m.seedHFI(lu.F, lu.wS, i)
				lu.mode = LUHFI
			} else {
				m.seedForced(lu.F, lu.wS)
				lu.mode = LUForced
			}
		}
	case LUHFI:
		if w > c.WLowThreshold {
			m.seedFlux(lu.F, lu.wS, i)
			lu.mode = LUFlux
		}
	case LUForced:
		if w > c.WLowThreshold && m.forced.tm >= c.ticks(c.TmStartup) {
			m.seedFlux(lu.F, lu.wS, i)
			lu.mode = LUFlux
		}
	}
}

func (m *Machine) seedForced(F r2.Point, w float64) {
	m.forced = forcedRamp{F: renorm(F), wS: w}
	m.hfi.inject = 0
}

// forcedTarget is the speed the open-loop ramp heads for in the present drive
// mode.
func (m *Machine) forcedTarget() float64 {
	c := &m.cfg
	switch c.Drive {
	case DriveSpeed:
		return c.SSetpoint
	case DrivePosition:
		return m.positionLoop()
	}
	switch {
	case c.ISetpointQ > 0:
		return c.ForcedMaximal
	case c.ISetpointQ < 0:
		return -c.ForcedReverse
	}
	return 0
}

func (m *Machine) forcedUpdate() {
	c := &m.cfg
	f := &m.forced
	target := clamp(m.forcedTarget(), -c.ForcedReverse, c.ForcedMaximal)
	f.wS = slew(f.wS, target, c.ForcedAccel*m.dT)
	f.F = renorm(rotate(f.F, f.wS*m.dT))
	f.tm++
	m.spd.track = f.wS
}

// detachedUpdate tracks a freewheeling rotor from the terminal voltages while
// the bridge is in high impedance. The back-EMF vector leads the rotor axis
// by a quarter turn in the direction of rotation.
func (m *Machine) detachedUpdate() {
	c := &m.cfg
	d := &m.det
	u := terminal(m.fb.uA, m.fb.uB, m.fb.uC)
	n := u.Norm()
	d.lpfU += detachedGainLPU * (n - d.lpfU)
	if n > 1e-6 {
		dir := 1.0
		if d.prevU.Cross(u) < 0 {
			dir = -1
		}
		d.F = r2.Point{X: u.Y, Y: -u.X}.Mul(dir / n)
		if c.ConstE > 0 {
			d.wS = dir * n / c.ConstE
		}
	}
	d.prevU = u
}

func (m *Machine) hallUpdate() {
	c := &m.cfg
	h := &m.hall
	code := m.fb.hall
	h.tm++

	if code < 1 || code > 6 {
		h.lost++
		if h.lost > c.ticks(c.TmStartup) {
			m.sensorLost = true
		}
		h.F = renorm(rotate(h.F, h.wS*m.dT))
		return
	}
	h.lost = 0

	if code == h.code {
		if float64(h.tm)*m.dT > c.TmStartup {
			h.wS = 0
		}
		h.F = renorm(rotate(h.F, h.wS*m.dT))
		return
	}
	a := c.HallAT[code]
	if h.code != 0 {
		prev := c.HallAT[h.code]
		delta, _ := Wrap(a - prev)
		h.wS += 0.5 * (delta/(float64(h.tm)*m.dT) - h.wS)
		h.F = unit(prev + delta/2)
	} else {
		h.F = unit(a)
	}
	h.code = code
	h.tm = 0
}

func (m *Machine) qepUpdate() {
	c := &m.cfg
	q := &m.qep
	k := 2 * math.Pi * float64(c.ConstZp) / float64(c.QEPPPR)
	d := float64(m.fb.enc - q.count)
	q.count = m.fb.enc
	q.wS += 0.05 * (d*k/m.dT - q.wS)
	a, _ := Wrap(k * float64(q.count))
	q.F = unit(a)
}
