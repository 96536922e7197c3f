package pm

import "math"

type statState struct {
	eRevol int

	consumedWh, consumedAh float64
	revertedWh, revertedAh float64
	peakConsumed           float64
	peakReverted           float64
	peakSpeed              float64
	fuel                   float64
}

func (m *Machine) statistics() {
	c := &m.cfg
	s := &m.stat
	if !c.Stat || m.lu.mode == LUDisabled {
		return
	}
	P := m.watt.lpfWP
	U := m.fb.lpfU
	h := m.dT / 3600
	if P >= 0 {
		s.consumedWh += P * h
		if U > 0 {
			s.consumedAh += P / U * h
		}
		s.peakConsumed = math.Max(s.peakConsumed, P)
	} else {
		s.revertedWh -= P * h
		if U > 0 {
			s.revertedAh -= P / U * h
		}
		s.peakReverted = math.Max(s.peakReverted, -P)
	}
	s.peakSpeed = math.Max(s.peakSpeed, math.Abs(m.lu.lpfWS))
	if c.StatCapacityAh > 0 {
		s.fuel = 100 * (c.StatCapacityAh - s.consumedAh + s.revertedAh) / c.StatCapacityAh
	}
}
