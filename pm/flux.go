package pm

import (
	"math"

	"github.com/golang/geo/r2"
)

// fluxObserver is an extended Kalman filter over the error state
// [iD, iQ, theta, w]. Orientation is kept as a unit vector and corrected
// multiplicatively.
type fluxObserver struct {
	F        r2.Point
	wS       float64
	iD, iQ   float64
	P        [4][4]float64
	residual float64

	// E holds two flux linkage estimates; H selects the one being filtered.
	E [2]float64
	H int
}

var fluxP0 = [4]float64{1e-1, 1e-1, 1e-2, 1e1}

func (m *Machine) seedFlux(F r2.Point, w float64, i r2.Point) {
	f := &m.flux
	f.F = renorm(F)
	f.wS = w
	dq := park(i, f.F)
	f.iD, f.iQ = dq.X, dq.Y
	f.P = [4][4]float64{}
	for k, v := range fluxP0 {
		f.P[k][k] = v
	}
	f.residual = 0
	m.hfi.inject = 0
}

func (m *Machine) fluxUpdate(i r2.Point) {
	c := &m.cfg
	f := &m.flux
	dT := m.dT
	R, Ld, Lq, E := c.ConstR, c.ConstLd, c.ConstLq, c.ConstE

	u := park(m.vsi.uXY, f.F)
	w := f.wS
	iD, iQ := f.iD, f.iQ
	f.iD = iD + (u.X-R*iD+w*Lq*iQ)*m.ilD*dT
	f.iQ = iQ + (u.Y-R*iQ-w*Ld*iD-w*E)*m.ilQ*dT
	f.F = rotate(f.F, w*dT)

	var A [4][4]float64
	A[0][0] = 1 - R*m.ilD*dT
	A[0][1] = w * Lq * m.ilD * dT
	A[0][2] = u.Y * m.ilD * dT
	A[0][3] = Lq * iQ * m.ilD * dT
	A[1][0] = -w * Ld * m.ilQ * dT
	A[1][1] = 1 - R*m.ilQ*dT
	A[1][2] = -u.X * m.ilQ * dT
	A[1][3] = -(Ld*iD + E) * m.ilQ * dT
	A[2][2] = 1
	A[2][3] = dT
	A[3][3] = 1

	var AP [4][4]float64
	for r := 0; r < 4; r++ {
		for k := 0; k < 4; k++ {
			var s float64
			for j := 0; j < 4; j++ {
				s += A[r][j] * f.P[j][k]
			}
			AP[r][k] = s
		}
	}
	for r := 0; r < 4; r++ {
		for k := 0; k < 4; k++ {
			var s float64
			for j := 0; j < 4; j++ {
				s += AP[r][j] * A[k][j]
			}
			f.P[r][k] = s
		}
	}
	q := &c.KalmanQ
	sn, cs := f.F.Y, f.F.X
	f.P[0][0] += q[0]
	f.P[1][1] += q[1]
	f.P[2][2] += sn*sn*q[2] + cs*cs*q[3]
	f.P[3][3] += q[4]

	z := park(i, f.F)
	rD, rQ := z.X-f.iD, z.Y-f.iQ
	hD, hQ := f.iD, f.iQ

	// PH = P * transpose(H), H = [[1 0 -iQ 0] [0 1 iD 0]].
	var PH [4][2]float64
	for r := 0; r < 4; r++ {
		PH[r][0] = f.P[r][0] - hQ*f.P[r][2]
		PH[r][1] = f.P[r][1] + hD*f.P[r][2]
	}
	s00 := PH[0][0] - hQ*PH[2][0] + c.KalmanR
	s01 := PH[0][1] - hQ*PH[2][1]
	s10 := PH[1][0] + hD*PH[2][0]
	s11 := PH[1][1] + hD*PH[2][1] + c.KalmanR

	if det := s00*s11 - s01*s10; math.Abs(det) > 1e-18 {
		i00, i01, i10, i11 := s11/det, -s01/det, -s10/det, s00/det
		var K [4][2]float64
		for r := 0; r < 4; r++ {
			K[r][0] = PH[r][0]*i00 + PH[r][1]*i10
			K[r][1] = PH[r][0]*i01 + PH[r][1]*i11
		}
		f.iD += K[0][0]*rD + K[0][1]*rQ
		f.iQ += K[1][0]*rD + K[1][1]*rQ
		f.F = rotate(f.F, clamp(K[2][0]*rD+K[2][1]*rQ, -c.FluxUpperR, c.FluxUpperR))
		f.wS += K[3][0]*rD + K[3][1]*rQ

		for r := 0; r < 4; r++ {
			for k := 0; k < 4; k++ {
				f.P[r][k] -= K[r][0]*PH[k][0] + K[r][1]*PH[k][1]
			}
		}
		for r := 0; r < 4; r++ {
			for k := r + 1; k < 4; k++ {
				s := (f.P[r][k] + f.P[k][r]) / 2
				f.P[r][k], f.P[k][r] = s, s
			}
			if f.P[r][r] < 0 {
				f.P[r][r] = 0
			}
		}
	}
	f.F = renorm(f.F)
	f.residual += c.LUGainLPS * (rD*rD + rQ*rQ - f.residual)

	if math.Abs(f.wS) > c.FluxLowS {
		e := (u.Y - R*f.iQ - f.wS*Ld*f.iD) / f.wS
		f.E[f.H] += c.FluxGainLPE * (e - f.E[f.H])
	}
}
