package pm

import "github.com/golang/geo/r2"

// hfiTracker estimates rotor position at standstill from the current ripple
// a square wave D-axis injection produces. The injection flips sign every
// tick, so the injection frequency is half the carrier.
type hfiTracker struct {
	F        r2.Point
	wS       float64
	sign     float64
	inject   float64
	polarity float64
	prevI    r2.Point
	mean     r2.Point
}

const hfiFlipLevel = 0.1

func (m *Machine) seedHFI(F r2.Point, w float64, i r2.Point) {
	m.hfi = hfiTracker{F: renorm(F), wS: w, sign: 1, prevI: i, mean: i}
}

func (m *Machine) hfiUpdate(i r2.Point) {
	c := &m.cfg
	h := &m.hfi

	z := park(i, h.F)
	zp := park(h.prevI, h.F)
	dD, dQ := z.X-zp.X, z.Y-zp.Y
	rot := h.wS * m.dT
	if swing := c.HFISwingD; swing > 0 {
		e := clamp(c.HFIGainSB*h.sign*dQ/swing, -1, 1)
		h.wS += c.HFIGainSF * e
		rot += c.HFIGainEP * e
		h.polarity += c.HFIGainFP * (dD/swing - h.polarity)
	}
	h.F = renorm(rotate(h.F, rot))
	if h.polarity < -hfiFlipLevel {
		h.F = h.F.Mul(-1)
		h.polarity = 0
	}

	h.mean = i.Add(h.prevI).Mul(0.5)
	h.prevI = i
	h.sign = -h.sign
	h.inject = h.sign * c.HFISwingD * c.ConstLd * c.FreqHz
}
