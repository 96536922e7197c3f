// Package pm implements a sensorless field-oriented control engine for
// permanent magnet motors.
//
// A Machine owns all controller state. The fast path is Tick, called once per
// carrier period by a single goroutine. Everything else (snapshots,
// configuration writes, lifecycle requests) is supervisory and goes through
// the accessors below, which hold the machine lock for a bounded copy or
// assignment.
package pm

import (
	"sync"
	"sync/atomic"

	"github.com/golang/geo/r2"
)

// Machine is the controller state aggregate. Create it with NewMachine.
type Machine struct {
	mu  sync.Mutex
	req atomic.Int32

	cfg      Config
	dT       float64
	ilD, ilQ float64

	fsm    fsmState
	fb     feedback
	lu     luState
	flux   fluxObserver
	hfi    hfiTracker
	forced forcedRamp
	det    detachedTracker
	hall   hallTracker
	qep    qepTracker
	cur    currentLoop
	spd    speedState
	pos    positionState
	watt   powerLimit
	weak   weakening
	stat   statState
	vsi    bridge
	probe  probeAcc
	self   selfTest

	sensorLost bool
}

type feedback struct {
	raw Sample

	iA, iB, iC float64
	U, lpfU    float64
	uA, uB, uC float64

	tempPCB, tempEXT float64
	hall             int
	enc              int32
	primed           bool
}

type bridge struct {
	uXY r2.Point
	out Output
}

type selfTest struct {
	BM  int
	RMS float64
}

// NewMachine returns an idle controller with the given configuration.
func NewMachine(cfg Config) (*Machine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m := &Machine{cfg: cfg}
	m.req.Store(int32(StateNone))
	m.derive()
	m.resetEstimate()
	return m, nil
}

// derive recomputes every cached value that depends on configuration. It must
// run in the same exclusive section as the write that invalidated it.
func (m *Machine) derive() {
	c := &m.cfg
	m.dT = 1 / c.FreqHz
	m.ilD = 1 / c.ConstLd
	m.ilQ = 1 / c.ConstLq
	c.ConstL = (c.ConstLd + c.ConstLq) / 2
}

// Tick runs one carrier period: sample conditioning, fault monitoring, the
// lifecycle step with estimation and regulation, and returns the bridge
// command for the next period.
func (m *Machine) Tick(s *Sample) Output {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.condition(s)
	m.derate()
	if r := m.faultCheck(); r != FailOK {
		m.halt(r)
		return m.vsi.out
	}
	m.fsmStep()
	m.statistics()
	return m.vsi.out
}

func (m *Machine) condition(s *Sample) {
	c := &m.cfg
	fb := &m.fb
	fb.raw = *s
	fb.iA = c.AdIA[1]*s.A + c.AdIA[0]
	fb.iB = c.AdIB[1]*s.B + c.AdIB[0]
	fb.iC = -fb.iA - fb.iB
	fb.U = c.AdUS[1]*s.U + c.AdUS[0]
	if c.TVM {
		fb.uA = c.AdUA[1]*s.UA + c.AdUA[0]
		fb.uB = c.AdUB[1]*s.UB + c.AdUB[0]
		fb.uC = c.AdUC[1]*s.UC + c.AdUC[0]
	}
	if !fb.primed {
		fb.lpfU = fb.U
		fb.primed = true
	}
	fb.lpfU += c.ConstGainLPU * (fb.U - fb.lpfU)
	fb.tempPCB = s.TempPCB
	fb.tempEXT = s.TempEXT
	fb.hall = s.Hall
	fb.enc = s.Encoder
}

// halt zeroes the output and enters HALT in the faulting tick.
func (m *Machine) halt(r FailReason) {
	m.req.Store(int32(StateNone))
	m.stopRunning()
	m.fsm.state = StateHalt
	m.fsm.phase = 0
	m.fsm.tm = 0
	m.fsm.total = 0
	m.fsm.fail = r
	m.disable()
}

// Request asks the lifecycle FSM to enter s. It returns false if s is not a
// lifecycle state or another request is still pending. The FSM validates the
// request at its next tick and discards it if the present state does not
// allow it.
func (m *Machine) Request(s State) bool {
	if !s.Valid() {
		return false
	}
	return m.req.CompareAndSwap(int32(StateNone), int32(s))
}

// Pending reports whether a request has not yet been consumed.
func (m *Machine) Pending() bool {
	return State(m.req.Load()) != StateNone
}

// Config returns a copy of the present configuration.
func (m *Machine) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// View runs fn with the present configuration under the machine lock. fn must
// not retain the pointer.
func (m *Machine) View(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.cfg)
}

// Update applies fn to a copy of the configuration and commits the copy if fn
// and validation succeed. Derived values are refreshed before the lock is
// released, so the fast path never observes a half-written group.
func (m *Machine) Update(fn func(*Config) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.cfg
	if err := fn(&next); err != nil {
		return err
	}
	if err := next.validate(); err != nil {
		return err
	}
	m.cfg = next
	m.derive()
	return nil
}

func (m *Machine) disable() {
	m.vsi.out = Output{}
	m.vsi.uXY = r2.Point{}
}

// duty drives the legs directly, bypassing the current regulator.
func (m *Machine) duty(dc [3]float64) {
	m.vsi.out = Output{DC: dc, Enable: true}
	m.vsi.uXY = terminal(dc[0], dc[1], dc[2]).Mul(m.fb.lpfU)
}

// voltage applies the stationary vector u to the bridge. The vector is
// limited to v_maximal, or to v_reverse while its Q part brakes the rotor, and
// to the hexagon the bus voltage allows. It reports whether a limit was active.
func (m *Machine) voltage(u r2.Point) bool {
	c := &m.cfg
	sat := false
	lim := c.VMaximal
	if park(u, m.lu.F).Y*m.lu.wS < 0 {
		lim = c.VReverse
	}
	if lim > 0 {
		if n := u.Norm(); n > lim {
			u = u.Mul(lim / n)
			sat = true
		}
	}
	U := m.fb.lpfU
	if !(U > 1e-3) {
		m.vsi.out = Output{DC: [3]float64{0.5, 0.5, 0.5}, Enable: true}
		m.vsi.uXY = r2.Point{}
		return true
	}
	a := u.X
	b := -0.5*u.X + 0.5*sqrt3*u.Y
	cc := -0.5*u.X - 0.5*sqrt3*u.Y
	hi := max(a, b, cc)
	lo := min(a, b, cc)
	res := float64(c.DCResolution)
	span := U * (1 - 2*float64(c.DCMinimal)/res)
	if r := hi - lo; r > span {
		k := span / r
		a, b, cc, hi, lo = a*k, b*k, cc*k, hi*k, lo*k
		sat = true
	}
	mid := (hi + lo) / 2
	var dc [3]float64
	for i, x := range [3]float64{a, b, cc} {
		d := (x-mid)/U + 0.5
		dc[i] = float64(int(d*res+0.5)) / res
	}
	m.vsi.out = Output{DC: dc, Enable: true}
	m.vsi.uXY = terminal(dc[0], dc[1], dc[2]).Mul(U)
	return sat
}
