package pm

import (
	"math"
	"math/cmplx"

	"github.com/golang/geo/r2"
)

type probeAcc struct {
	sum  [8]float64
	ref  [4]float64
	n    int
	half [2]int

	dft    [2][4]complex128
	period int
	count  int

	w0    float64
	biasQ float64
}

// hold regulates the current vector (setD, setQ) in the fixed frame F with
// zero speed.
func (m *Machine) hold(F r2.Point, setD, setQ float64) {
	lu := &m.lu
	lu.F = F
	lu.wS = 0
	i := clarke(m.fb.iA, m.fb.iB)
	dq := park(i, F)
	lu.iD, lu.iQ = dq.X, dq.Y
	m.currentStep(setD, setQ)
}

func (m *Machine) selfTestPowerStage() {
	c := &m.cfg
	f := &m.fsm
	p := &m.probe

	dmin := float64(c.DCMinimal) / float64(c.DCResolution)
	level := 1 - dmin
	if f.phase == 1 {
		level = dmin
	}
	m.duty([3]float64{level, level, level})

	hold := c.ticks(c.TmVoltageHold)
	if f.tm > hold/2 {
		p.sum[0] += m.fb.uA
		p.sum[1] += m.fb.uB
		p.sum[2] += m.fb.uC
		p.sum[3] += m.fb.U
		p.n++
	}
	if f.tm < hold {
		return
	}
	n := float64(p.n)
	want := level * p.sum[3] / n
	for i := 0; i < 3; i++ {
		if math.Abs(p.sum[i]/n-want) < c.FaultVoltageTol {
			m.self.BM |= 1 << (i + 3*f.phase)
		}
	}
	if f.phase == 0 {
		*p = probeAcc{}
		m.next()
		return
	}
	m.disable()
	if m.self.BM != 0x3f {
		m.done(FailPowerStage)
		return
	}
	m.done(FailOK)
}

func (m *Machine) selfTestClearance() {
	c := &m.cfg
	f := &m.fsm
	p := &m.probe

	m.duty([3]float64{0.5, 0.5, 0.5})
	switch f.phase {
	case 0:
		if f.tm >= c.ticks(c.TmTransientFast) {
			m.next()
		}
	case 1:
		p.sum[0] += m.fb.iA*m.fb.iA + m.fb.iB*m.fb.iB
		p.n++
		if f.tm < c.ticks(c.TmAverageProbe) {
			return
		}
		m.disable()
		m.self.RMS = math.Sqrt(p.sum[0] / float64(2*p.n))
		if m.self.RMS > c.FaultCurrentTol {
			m.done(FailCurrentSensorNoisy)
			return
		}
		m.done(FailOK)
	}
}

func (m *Machine) stdVoltage() {
	c := &m.cfg
	p := &m.probe
	m.disable()
	p.sum[0] += m.fb.raw.U
	p.n++
	if m.fsm.tm < c.ticks(c.TmAverageProbe) {
		return
	}
	raw := p.sum[0] / float64(p.n)
	if !(raw > 0) || !(c.ProbeSTD > 0) {
		m.done(FailAdjust)
		return
	}
	c.AdUS[1] = (c.ProbeSTD - c.AdUS[0]) / raw
	m.fb.lpfU = c.ProbeSTD
	m.done(FailOK)
}

// stdCurrent holds a voltage across a reference resistor between phases A and
// B and corrects both current scales against the expected current.
func (m *Machine) stdCurrent() {
	c := &m.cfg
	f := &m.fsm
	p := &m.probe

	if !(c.ProbeSTD > 0) {
		m.done(FailAdjust)
		return
	}
	uh := c.ProbeCurrentHold * c.ProbeSTD
	m.voltage(r2.Point{X: uh / 2, Y: -uh / (2 * sqrt3)})

	switch f.phase {
	case 0:
		if f.tm >= c.ticks(c.TmTransientSlow) {
			m.next()
		}
	case 1:
		p.sum[0] += m.fb.raw.A
		p.sum[1] += m.fb.raw.B
		p.n++
		if f.tm < c.ticks(c.TmAverageProbe) {
			return
		}
		m.disable()
		n := float64(p.n)
		ra, rb := p.sum[0]/n, p.sum[1]/n
		want := c.ProbeCurrentHold
		if math.Abs(ra) < 1e-9 || math.Abs(rb) < 1e-9 {
			m.done(FailAdjust)
			return
		}
		c.AdIA[1] = (want - c.AdIA[0]) / ra
		c.AdIB[1] = (-want - c.AdIB[0]) / rb
		m.done(FailOK)
	}
}

// adjustVoltage fits scale and bias of the terminal voltage channels from two
// duty levels near the ends of the range.
func (m *Machine) adjustVoltage() {
	c := &m.cfg
	f := &m.fsm
	p := &m.probe

	dmin := float64(c.DCMinimal) / float64(c.DCResolution)
	level := dmin
	if f.phase == 1 {
		level = 1 - dmin
	}
	m.duty([3]float64{level, level, level})

	hold := c.ticks(c.TmVoltageHold)
	if f.tm > hold/2 {
		p.sum[0] += m.fb.raw.UA
		p.sum[1] += m.fb.raw.UB
		p.sum[2] += m.fb.raw.UC
		p.sum[3] += m.fb.U
		p.n++
	}
	if f.tm < hold {
		return
	}
	n := float64(p.n)
	if f.phase == 0 {
		p.ref = [4]float64{p.sum[0] / n, p.sum[1] / n, p.sum[2] / n, level * p.sum[3] / n}
		p.sum = [8]float64{}
		p.n = 0
		m.next()
		return
	}
	m.disable()
	v0, v1 := p.ref[3], level*p.sum[3]/n
	var fit [3][2]float64
	for i := 0; i < 3; i++ {
		r0, r1 := p.ref[i], p.sum[i]/n
		if math.Abs(r1-r0) < 1e-9 {
			m.done(FailAdjust)
			return
		}
		scale := (v1 - v0) / (r1 - r0)
		fit[i] = [2]float64{v0 - scale*r0, scale}
	}
	c.AdUA, c.AdUB, c.AdUC = fit[0], fit[1], fit[2]
	m.done(FailOK)
}

// adjustCurrent drives current from A to B so that the two sensors see equal
// and opposite values, and matches the B scale to A.
func (m *Machine) adjustCurrent() {
	c := &m.cfg
	f := &m.fsm
	p := &m.probe

	m.hold(unit(-math.Pi/6), c.ProbeCurrentHold, 0)

	switch f.phase {
	case 0:
		if f.tm >= c.ticks(c.TmTransientSlow) {
			m.next()
		}
	case 1:
		p.sum[0] += m.fb.iA
		p.sum[1] += m.fb.iB
		p.sum[2] += m.fb.raw.B
		p.n++
		if f.tm < c.ticks(c.TmAverageProbe) {
			return
		}
		m.disable()
		n := float64(p.n)
		a, b, rb := p.sum[0]/n, p.sum[1]/n, p.sum[2]/n
		if math.Abs(a) < 1e-3 || math.Abs(b) < 1e-3 || math.Abs(rb) < 1e-9 {
			m.done(FailAdjust)
			return
		}
		if k := -a / b; math.Abs(k-1) > c.FaultAccuracyTol {
			m.done(FailAdjust)
			return
		}
		c.AdIB[1] = (-a - c.AdIB[0]) / rb
		m.done(FailOK)
	}
}

// probeConstR holds a D current with the rotor aligned and divides the
// realized voltage by the measured current.
func (m *Machine) probeConstR() {
	c := &m.cfg
	f := &m.fsm
	p := &m.probe

	prevU := m.vsi.uXY
	i := clarke(m.fb.iA, m.fb.iB)
	m.hold(unitX, c.ProbeCurrentHold, 0)

	switch f.phase {
	case 0:
		if f.tm >= c.ticks(c.TmTransientSlow) {
			m.next()
		}
	case 1:
		N := c.ticks(c.TmAverageProbe)
		h := 0
		if f.tm > N/2 {
			h = 1
		}
		p.sum[2*h] += prevU.X
		p.sum[2*h+1] += i.X
		p.half[h]++
		if f.tm < N {
			return
		}
		m.disable()
		if p.half[0] == 0 || p.half[1] == 0 {
			m.done(FailAccuracy)
			return
		}
		var r [2]float64
		for h := 0; h < 2; h++ {
			n := float64(p.half[h])
			ih := p.sum[2*h+1] / n
			if math.Abs(ih) < 1e-3 {
				m.done(FailAccuracy)
				return
			}
			r[h] = (p.sum[2*h] / n) / ih
		}
		R := (r[0] + r[1]) / 2
		if !finite(R) || !(R > 0) || math.Abs(r[0]-r[1]) > c.FaultAccuracyTol*R {
			m.done(FailAccuracy)
			return
		}
		c.ConstR = R
		m.done(FailOK)
	}
}

// probeConstL injects a sine along X and then along Y on top of a D bias,
// takes the DFT of voltage and current at the injected frequency and
// recovers the inductance tensor from the complex impedance.
func (m *Machine) probeConstL() {
	c := &m.cfg
	f := &m.fsm
	p := &m.probe

	if p.period == 0 {
		p.period = max(int(c.FreqHz/c.ProbeFreqSineHz+0.5), 4)
	}
	axis := f.phase / 2
	w := 2 * math.Pi / (float64(p.period) * m.dT)
	z := math.Hypot(c.ConstR, w*c.ConstL)
	amp := c.ProbeCurrentSine * z
	theta := 2 * math.Pi * float64(f.total%p.period) / float64(p.period)

	prevU := m.vsi.uXY
	i := clarke(m.fb.iA, m.fb.iB)

	if f.phase%2 == 1 {
		e := cmplx.Exp(complex(0, -theta))
		acc := &p.dft[axis]
		acc[0] += complex(prevU.X, 0) * e
		acc[1] += complex(prevU.Y, 0) * e
		acc[2] += complex(i.X, 0) * e
		acc[3] += complex(i.Y, 0) * e
		p.count++
	}

	u := r2.Point{X: c.ConstR * c.ProbeCurrentHold}
	s := amp * math.Cos(theta)
	if axis == 0 {
		u.X += s
	} else {
		u.Y += s
	}
	m.voltage(u)

	switch f.phase {
	case 0, 2:
		if f.tm >= c.ticks(c.TmTransientSlow) {
			m.next()
		}
	case 1, 3:
		n := max(c.ticks(c.TmAverageProbe)/p.period, 1) * p.period
		if p.count < n {
			return
		}
		p.count = 0
		if f.phase == 1 {
			m.next()
			return
		}
		m.disable()
		if !m.impedance(w) {
			m.done(FailAccuracy)
			return
		}
		c.AutoTune()
		m.done(FailOK)
	}
}

// impedance solves Z = V * inv(I) and splits each element into the inductive
// and resistive parts of the discrete model i[k] = i[k-1] + (u[k-1] - R i)
// dT / L.
func (m *Machine) impedance(w float64) bool {
	c := &m.cfg
	d := &m.probe.dft
	vXX, vYX, iXX, iYX := d[0][0], d[0][1], d[0][2], d[0][3]
	vXY, vYY, iXY, iYY := d[1][0], d[1][1], d[1][2], d[1][3]

	det := iXX*iYY - iXY*iYX
	if cmplx.Abs(det) < 1e-12 {
		return false
	}
	inv := [2][2]complex128{{iYY / det, -iXY / det}, {-iYX / det, iXX / det}}
	Z := [2][2]complex128{
		{vXX*inv[0][0] + vXY*inv[1][0], vXX*inv[0][1] + vXY*inv[1][1]},
		{vYX*inv[0][0] + vYY*inv[1][0], vYX*inv[0][1] + vYY*inv[1][1]},
	}

	rot := cmplx.Exp(complex(0, -w*m.dT))
	A := (1 - rot) / complex(m.dT, 0)
	B := rot
	solve := func(z complex128) (float64, float64) {
		den := real(A)*imag(B) - real(B)*imag(A)
		L := (real(z)*imag(B) - real(B)*imag(z)) / den
		R := (real(A)*imag(z) - imag(A)*real(z)) / den
		return L, R
	}
	lXX, rX := solve(Z[0][0])
	lYY, rY := solve(Z[1][1])
	lXY := (real(Z[0][1]*cmplx.Conj(A)) + real(Z[1][0]*cmplx.Conj(A))) / (2 * real(A*cmplx.Conj(A)))

	mid := (lXX + lYY) / 2
	dev := math.Hypot((lXX-lYY)/2, lXY)
	Ld, Lq := mid-dev, mid+dev
	if !finite(Ld, Lq, rX, rY) || !(Ld > 0) || !(Lq > 0) {
		return false
	}
	major := 0.5 * math.Atan2(2*lXY, lXX-lYY)
	b, _ := Wrap(major + math.Pi/2)
	c.ConstLd = Ld
	c.ConstLq = Lq
	c.ConstImB = b * 180 / math.Pi
	c.ConstImR = (rX + rY) / 2
	m.derive()
	return true
}

func (m *Machine) probeConstE() {
	c := &m.cfg
	m.run()
	if m.fsm.tm < c.ticks(c.TmAverageProbe) {
		return
	}
	E := m.flux.E[m.flux.H]
	if !finite(E) || !(E > 0) {
		m.done(FailAccuracy)
		return
	}
	c.ConstE = E
	m.done(FailOK)
}

// probeConstJ applies a positive and then a negative Q current bias and
// relates the integrated torque difference to the speed change difference.
func (m *Machine) probeConstJ() {
	c := &m.cfg
	f := &m.fsm
	p := &m.probe

	if f.tm == 1 {
		p.w0 = m.lu.wS
	}
	p.biasQ = c.ProbeCurrentBiasQ
	if f.phase == 1 {
		p.biasQ = -c.ProbeCurrentBiasQ
	}
	m.run()
	p.sum[2*f.phase] += m.lu.iQ * m.dT

	if f.tm < max(c.ticks(c.TmAverageProbe/2), 2) {
		return
	}
	p.sum[2*f.phase+1] = m.lu.wS - p.w0
	if f.phase == 0 {
		m.next()
		return
	}
	dw := p.sum[1] - p.sum[3]
	zp := float64(c.ConstZp)
	J := 1.5 * zp * zp * c.ConstE * (p.sum[0] - p.sum[2]) / dw
	if !finite(J) || !(J > 0) || math.Abs(dw) < 1e-6 {
		m.done(FailAccuracy)
		return
	}
	c.ConstJ = J
	m.done(FailOK)
}
