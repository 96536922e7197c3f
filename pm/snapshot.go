package pm

import "math"

// Snapshot is a consistent copy of the configuration and the read-only
// controller state, taken between two ticks.
type Snapshot struct {
	Config

	Tick    uint32
	State   State
	Phase   int
	Fail    FailReason
	Pending bool
	Mode    LUMode

	// Measured quantities after conditioning.
	IA, IB, IC float64
	U, LpfU    float64
	UA, UB, UC float64
	TempPCB    float64
	TempEXT    float64

	// Estimated frame and regulator state.
	FX, FY         float64
	WS, LpfWS      float64
	Revol          int
	ID, IQ         float64
	TrackD, TrackQ float64
	UD, UQ         float64
	SpeedTrack     float64
	PositionError  float64

	FluxResidual float64
	FluxE        [2]float64
	FluxH        int
	HFIPolarity  float64

	LpfWP    float64
	IDerated float64
	WeakD    float64

	SelfBM  int
	SelfRMS float64

	DC     [3]float64
	Enable bool

	ERevol       int
	ConsumedWh   float64
	ConsumedAh   float64
	RevertedWh   float64
	RevertedAh   float64
	PeakConsumed float64
	PeakReverted float64
	PeakSpeed    float64
	Fuel         float64
}

// Angle is the estimated electrical angle in radians.
func (s *Snapshot) Angle() float64 {
	return math.Atan2(s.FY, s.FX)
}

// Position is the total electrical angle including whole turns.
func (s *Snapshot) Position() float64 {
	return s.Angle() + 2*math.Pi*float64(s.Revol)
}

// Running reports whether an estimation regime is active.
func (s Snapshot) Running() bool {
	return s.Mode != LUDisabled
}

// Snapshot copies the present state. It is safe to call concurrently with
// Tick.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Config:  m.cfg,
		Tick:    m.fb.raw.Tick,
		State:   m.fsm.state,
		Phase:   m.fsm.phase,
		Fail:    m.fsm.fail,
		Pending: m.Pending(),
		Mode:    m.lu.mode,

		IA: m.fb.iA, IB: m.fb.iB, IC: m.fb.iC,
		U: m.fb.U, LpfU: m.fb.lpfU,
		UA: m.fb.uA, UB: m.fb.uB, UC: m.fb.uC,
		TempPCB: m.fb.tempPCB,
		TempEXT: m.fb.tempEXT,

		FX: m.lu.F.X, FY: m.lu.F.Y,
		WS: m.lu.wS, LpfWS: m.lu.lpfWS,
		Revol: m.lu.revol,
		ID:    m.lu.iD, IQ: m.lu.iQ,
		TrackD: m.cur.trackD, TrackQ: m.cur.trackQ,
		UD: m.cur.uD, UQ: m.cur.uQ,
		SpeedTrack:    m.spd.track,
		PositionError: m.pos.err,

		FluxResidual: m.flux.residual,
		FluxE:        m.flux.E,
		FluxH:        m.flux.H,
		HFIPolarity:  m.hfi.polarity,

		LpfWP:    m.watt.lpfWP,
		IDerated: m.watt.iDerated,
		WeakD:    m.weak.D,

		SelfBM:  m.self.BM,
		SelfRMS: m.self.RMS,

		DC:     m.vsi.out.DC,
		Enable: m.vsi.out.Enable,

		ERevol:       m.stat.eRevol,
		ConsumedWh:   m.stat.consumedWh,
		ConsumedAh:   m.stat.consumedAh,
		RevertedWh:   m.stat.revertedWh,
		RevertedAh:   m.stat.revertedAh,
		PeakConsumed: m.stat.peakConsumed,
		PeakReverted: m.stat.peakReverted,
		PeakSpeed:    m.stat.peakSpeed,
		Fuel:         m.stat.fuel,
	}
}
