// Package sim is a simulated permanent magnet motor on a three-phase bridge.
// It implements hal.Driver so the engine can run without hardware.
package sim

import (
	"math"
	"math/rand"
	"sync"

	"github.com/pkg/errors"

	"github.com/viam-modules/phobia/hal"
	"github.com/viam-modules/phobia/pm"
)

// Params describes the simulated motor, bridge and sensors.
type Params struct {
	FreqHz     float64
	Resolution int
	Substeps   int

	R, Ld, Lq, E float64
	Zp           int
	J            float64
	Damping      float64
	Load         float64
	Locked       bool

	U float64

	// ADC transfer: raw = scale*value + offset.
	ScaleA, ScaleB   float64
	OffsetA, OffsetB float64
	ScaleU           float64
	Noise            float64
	Seed             int64

	PPR     int
	TempPCB float64
}

// DefaultParams returns a small outrunner on a 24 V bus at 30 kHz.
func DefaultParams() Params {
	return Params{
		FreqHz:     30000,
		Resolution: 2800,
		Substeps:   8,
		R:          0.1,
		Ld:         1e-4,
		Lq:         1.2e-4,
		E:          5e-3,
		Zp:         7,
		J:          1e-4,
		Damping:    1e-6,
		U:          24,
		ScaleA:     1,
		ScaleB:     1,
		ScaleU:     1,
		PPR:        2048,
		TempPCB:    25,
	}
}

// Plant is the simulated power stage and motor.
type Plant struct {
	mu sync.Mutex
	p  Params
	rg *rand.Rand

	iD, iQ float64
	theta  float64
	w      float64
	out    pm.Output
	tick   uint32
	closed bool
}

var _ hal.Driver = (*Plant)(nil)

// New returns a plant at rest.
func New(p Params) (*Plant, error) {
	if !(p.FreqHz > 0) || p.Resolution <= 0 {
		return nil, errors.New("carrier must be positive")
	}
	if !(p.Ld > 0) || !(p.Lq > 0) || p.Zp < 1 || !(p.J > 0) {
		return nil, errors.New("motor constants must be positive")
	}
	if p.Substeps < 1 {
		p.Substeps = 1
	}
	return &Plant{p: p, rg: rand.New(rand.NewSource(p.Seed))}, nil
}

// Carrier implements hal.Driver.
func (s *Plant) Carrier() hal.Carrier {
	return hal.Carrier{FreqHz: s.p.FreqHz, Resolution: s.p.Resolution}
}

// Sample implements hal.Driver.
func (s *Plant) Sample() pm.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	sn, cs := math.Sincos(s.theta)
	x := cs*s.iD - sn*s.iQ
	y := sn*s.iD + cs*s.iQ
	iA := x
	iB := (math.Sqrt(3)*y - x) / 2

	vA, vB, vC := s.terminal()
	return pm.Sample{
		Tick:    s.tick,
		A:       s.p.ScaleA*iA + s.p.OffsetA + s.noise(),
		B:       s.p.ScaleB*iB + s.p.OffsetB + s.noise(),
		U:       s.p.ScaleU * s.p.U,
		UA:      vA,
		UB:      vB,
		UC:      vC,
		TempPCB: s.p.TempPCB,
		Hall:    s.hall(),
		Encoder: int32(math.Floor(s.theta / float64(s.p.Zp) / (2 * math.Pi) * float64(s.p.PPR))),
	}
}

func (s *Plant) noise() float64 {
	if s.p.Noise == 0 {
		return 0
	}
	return s.rg.NormFloat64() * s.p.Noise
}

// terminal returns the phase voltages to ground. With the bridge disabled the
// sense dividers pull the star point to ground and only the back-EMF shows.
func (s *Plant) terminal() (float64, float64, float64) {
	if s.out.Enable {
		return s.out.DC[0] * s.p.U, s.out.DC[1] * s.p.U, s.out.DC[2] * s.p.U
	}
	sn, cs := math.Sincos(s.theta)
	ex, ey := -s.w*s.p.E*sn, s.w*s.p.E*cs
	return ex, -ex/2 + math.Sqrt(3)/2*ey, -ex/2 - math.Sqrt(3)/2*ey
}

func (s *Plant) hall() int {
	a := math.Mod(s.theta, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return int(a/(math.Pi/3))%6 + 1
}

// HallTable returns the sector centres matching the simulated hall sensors.
func HallTable() [7]float64 {
	var t [7]float64
	for k := 1; k <= 6; k++ {
		c, _ := pm.Wrap((float64(k) - 0.5) * math.Pi / 3)
		t[k] = c
	}
	return t
}

// Apply implements hal.Driver. It holds the command for one carrier period
// and integrates the motor over it.
func (s *Plant) Apply(out pm.Output) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("plant is closed")
	}
	s.out = out
	s.step()
	s.tick++
	return nil
}

func (s *Plant) step() {
	p := &s.p
	h := 1 / (p.FreqHz * float64(p.Substeps))
	for k := 0; k < p.Substeps; k++ {
		if s.out.Enable {
			vA, vB, vC := s.terminal()
			ux := (2*vA - vB - vC) / 3
			uy := (vB - vC) / math.Sqrt(3)
			sn, cs := math.Sincos(s.theta)
			uD := cs*ux + sn*uy
			uQ := cs*uy - sn*ux

			dD := (uD - p.R*s.iD + s.w*p.Lq*s.iQ) / p.Ld
			dQ := (uQ - p.R*s.iQ - s.w*p.Ld*s.iD - s.w*p.E) / p.Lq
			s.iD += dD * h
			s.iQ += dQ * h
		} else {
			s.iD, s.iQ = 0, 0
		}
		if p.Locked {
			s.w = 0
			continue
		}
		zp := float64(p.Zp)
		torque := 1.5 * zp * (p.E*s.iQ + (p.Ld-p.Lq)*s.iD*s.iQ)
		wm := s.w / zp
		torque -= p.Damping * wm
		if wm != 0 {
			torque -= math.Copysign(p.Load, wm)
		}
		s.w += zp * torque / p.J * h
		s.theta += s.w * h
	}
}

// Nominal writes the true motor constants into c.
func (s *Plant) Nominal(c *pm.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.FreqHz = s.p.FreqHz
	c.DCResolution = s.p.Resolution
	c.ConstR = s.p.R
	c.ConstLd = s.p.Ld
	c.ConstLq = s.p.Lq
	c.ConstE = s.p.E
	c.ConstZp = s.p.Zp
	c.ConstJ = s.p.J
	c.QEPPPR = s.p.PPR
	c.HallAT = HallTable()
}

// State returns the true electrical angle, electrical speed and rotor frame
// currents.
func (s *Plant) State() (theta, w, iD, iQ float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.theta, s.w, s.iD, s.iQ
}

// SetSpeed spins the rotor at w electrical rad/s, as if driven externally.
func (s *Plant) SetSpeed(w float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w = w
}

// SetOffsets changes the current sensor offsets in amperes.
func (s *Plant) SetOffsets(a, b float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p.OffsetA, s.p.OffsetB = a, b
}

// Close implements hal.Driver.
func (s *Plant) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
