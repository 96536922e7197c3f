package pm

import "math"

type powerLimit struct {
	lpfWP        float64
	consumption  float64
	regeneration float64
	iDerated     float64
}

type weakening struct {
	D float64
}

// derate applies the thermal current limits.
func (m *Machine) derate() {
	c := &m.cfg
	i := c.IMaximal
	i = math.Min(i, derated(m.fb.tempPCB, c.HeatPCB, c.HeatPCBDeratedI, c.HeatGap, c.IMaximal))
	i = math.Min(i, derated(m.fb.tempEXT, c.HeatEXT, c.HeatEXTDeratedI, c.HeatGap, c.IMaximal))
	m.watt.iDerated = i
}

// derated interpolates between imax and the derated current as t crosses the
// gap below the limit. A zero limit disables the channel.
func derated(t, limit, low, gap, imax float64) float64 {
	if !(limit > 0) {
		return imax
	}
	if !(gap > 0) {
		if t >= limit {
			return low
		}
		return imax
	}
	k := clamp((t-(limit-gap))/gap, 0, 1)
	return imax + (low-imax)*k
}

// limits updates the power budgets and the weakening current.
func (m *Machine) limits() {
	c := &m.cfg
	w := &m.watt
	lu := &m.lu

	p := 1.5 * (m.cur.uD*lu.iD + m.cur.uQ*lu.iQ)
	w.lpfWP += c.WattGainLPP * (p - w.lpfWP)

	U := m.fb.lpfU
	cons := math.Min(c.WattWPMaximal, c.WattIBMaximal*U)
	rev := math.Min(c.WattWPReverse, c.WattIBReverse*U)
	if lo := c.WattDCLinkLO; lo > 0 {
		cons *= clamp((U-0.9*lo)/(0.1*lo), 0, 1)
	}
	if hi := c.WattDCLinkHI; hi > 0 {
		rev *= clamp((1.1*hi-U)/(0.1*hi), 0, 1)
	}
	w.consumption = math.Max(cons, 0)
	w.regeneration = math.Max(rev, 0)

	if !c.Weak {
		m.weak.D = 0
		return
	}
	headroom := U/sqrt3 - math.Hypot(m.cur.uD, m.cur.uQ)
	m.weak.D = clamp(m.weak.D+c.WeakGainEU*(headroom-c.WeakBiasU), -c.WeakMaximal, 0)
}

// limitQ bounds the Q current so that the electrical power stays inside the
// consumption and regeneration budgets.
func (m *Machine) limitQ(iQ float64) float64 {
	c := &m.cfg
	w := &m.watt
	imax := w.iDerated

	wE := math.Abs(m.lu.wS) * c.ConstE
	rq := c.ConstR * math.Abs(m.cur.trackQ)
	fwd, back := imax, imax
	if k := 1.5 * (wE + rq); k > 1e-9 {
		fwd = math.Min(fwd, w.consumption/k)
	}
	if k := 1.5 * (wE - rq); k > 1e-9 {
		back = math.Min(back, w.regeneration/k)
	}
	if m.lu.wS < 0 {
		fwd, back = back, fwd
	}
	return clamp(iQ, -back, fwd)
}
