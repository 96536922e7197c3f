package regfile

import (
	"fmt"
	"math"

	"github.com/viam-modules/phobia/pm"
)

func f64(p func(*pm.Config) *float64) link {
	return link{
		kind: KindFloat,
		get:  func(s *pm.Snapshot) float64 { return *p(&s.Config) },
		set:  func(c *pm.Config, v float64) { *p(c) = v },
	}
}

func integer(p func(*pm.Config) *int) link {
	return link{
		kind: KindInt,
		get:  func(s *pm.Snapshot) float64 { return float64(*p(&s.Config)) },
		set:  func(c *pm.Config, v float64) { *p(c) = int(math.Round(v)) },
	}
}

func flag(p func(*pm.Config) *bool) link {
	return link{
		kind: KindInt,
		get: func(s *pm.Snapshot) float64 {
			if *p(&s.Config) {
				return 1
			}
			return 0
		},
		set: func(c *pm.Config, v float64) { *p(c) = v != 0 },
	}
}

func enum(get func(*pm.Config) int, set func(*pm.Config, int)) link {
	return link{
		kind: KindInt,
		get:  func(s *pm.Snapshot) float64 { return float64(get(&s.Config)) },
		set:  func(c *pm.Config, v float64) { set(c, int(math.Round(v))) },
	}
}

func ro(get func(*pm.Snapshot) float64) link {
	return link{kind: KindFloat, get: get}
}

func roInt(get func(*pm.Snapshot) int) link {
	return link{kind: KindInt, get: func(s *pm.Snapshot) float64 { return float64(get(s)) }}
}

// setpoint splits a total angle into the wrapped setpoint and its turns.
func setpoint() link {
	return link{
		kind: KindFloat,
		get: func(s *pm.Snapshot) float64 {
			return s.XSetpointA + 2*math.Pi*float64(s.XSetpointRevol)
		},
		set: func(c *pm.Config, v float64) {
			c.XSetpointA, c.XSetpointRevol = pm.Wrap(v)
		},
	}
}

func reg(name, unit string, mode Mode, l link) Entry {
	return Entry{Name: name, Unit: unit, Mode: mode, link: l}
}

func (e Entry) within(lo, hi float64) Entry {
	e.Min, e.Max, e.ranged = lo, hi, true
	return e
}

func (e Entry) as(t Transform) Entry {
	e.Transform = t
	return e
}

// alias presents base in another unit under the name base_suffix.
func alias(base Entry, suffix, unit string, t Transform) Entry {
	e := base
	e.Name = base.Name + "_" + suffix
	e.Unit = unit
	e.Transform = t
	e.Min, e.Max, e.ranged = 0, 0, false
	if e.Mode == Config {
		e.Mode = Writable
	}
	return e
}

// speed adds the rpm and km/h aliases of a speed register.
func speed(base Entry) []Entry {
	return []Entry{base, alias(base, "rpm", "rpm", RPM), alias(base, "kmh", "km/h", KMH)}
}

func table() []Entry {
	var t []Entry
	add := func(e ...Entry) { t = append(t, e...) }

	add(
		reg("pwm_freq_hz", "Hz", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.FreqHz })),
		reg("dc_resolution", "", ReadOnly, roInt(func(s *pm.Snapshot) int { return s.DCResolution })),
		reg("dc_minimal", "", Config, integer(func(c *pm.Config) *int { return &c.DCMinimal })).within(0, 1000),

		reg("fail_reason", "", ReadOnly, roInt(func(s *pm.Snapshot) int { return int(s.Fail) })),
		reg("self_BM", "", ReadOnly, roInt(func(s *pm.Snapshot) int { return s.SelfBM })),
		reg("self_RMS", "A", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.SelfRMS })),

		reg("config_TVM", "", Config, flag(func(c *pm.Config) *bool { return &c.TVM })).within(0, 1),
		reg("config_HFI", "", Config, flag(func(c *pm.Config) *bool { return &c.HFI })).within(0, 1),
		reg("config_WEAK", "", Config, flag(func(c *pm.Config) *bool { return &c.Weak })).within(0, 1),
		reg("config_STAT", "", Config, flag(func(c *pm.Config) *bool { return &c.Stat })).within(0, 1),
		reg("config_SENSOR", "", Config, enum(
			func(c *pm.Config) int { return int(c.Sensor) },
			func(c *pm.Config, v int) { c.Sensor = pm.SensorMode(v) })).within(0, 2),
		reg("config_DRIVE", "", Config, enum(
			func(c *pm.Config) int { return int(c.Drive) },
			func(c *pm.Config, v int) { c.Drive = pm.DriveMode(v) })).within(0, 2),

		reg("fsm_req", "", Writable, roInt(func(s *pm.Snapshot) int {
			if s.Pending {
				return 1
			}
			return 0
		})).as(Request).within(float64(pm.StateIdle), float64(pm.StateHalt)),
		reg("fsm_state", "", ReadOnly, roInt(func(s *pm.Snapshot) int { return int(s.State) })),
		reg("fsm_phase", "", ReadOnly, roInt(func(s *pm.Snapshot) int { return s.Phase })),

		reg("tm_transient_slow", "s", Config, f64(func(c *pm.Config) *float64 { return &c.TmTransientSlow })).within(0, 10),
		reg("tm_transient_fast", "s", Config, f64(func(c *pm.Config) *float64 { return &c.TmTransientFast })).within(0, 10),
		reg("tm_voltage_hold", "s", Config, f64(func(c *pm.Config) *float64 { return &c.TmVoltageHold })).within(0, 10),
		reg("tm_current_hold", "s", Config, f64(func(c *pm.Config) *float64 { return &c.TmCurrentHold })).within(0, 10),
		reg("tm_instant_probe", "s", Config, f64(func(c *pm.Config) *float64 { return &c.TmInstantProbe })).within(0, 10),
		reg("tm_average_drift", "s", Config, f64(func(c *pm.Config) *float64 { return &c.TmAverageDrift })).within(0, 10),
		reg("tm_average_probe", "s", Config, f64(func(c *pm.Config) *float64 { return &c.TmAverageProbe })).within(0, 10),
		reg("tm_startup", "s", Config, f64(func(c *pm.Config) *float64 { return &c.TmStartup })).within(0, 10),
	)

	adc := []struct {
		name string
		unit string
		pair func(*pm.Config) *[2]float64
	}{
		{"ad_IA", "A", func(c *pm.Config) *[2]float64 { return &c.AdIA }},
		{"ad_IB", "A", func(c *pm.Config) *[2]float64 { return &c.AdIB }},
		{"ad_US", "V", func(c *pm.Config) *[2]float64 { return &c.AdUS }},
		{"ad_UA", "V", func(c *pm.Config) *[2]float64 { return &c.AdUA }},
		{"ad_UB", "V", func(c *pm.Config) *[2]float64 { return &c.AdUB }},
		{"ad_UC", "V", func(c *pm.Config) *[2]float64 { return &c.AdUC }},
	}
	for _, a := range adc {
		pair := a.pair
		add(
			reg(a.name+"0", a.unit, Config, f64(func(c *pm.Config) *float64 { return &pair(c)[0] })),
			reg(a.name+"1", "", Config, f64(func(c *pm.Config) *float64 { return &pair(c)[1] })),
		)
	}
	add(reg("const_gain_LP_U", "", Config, f64(func(c *pm.Config) *float64 { return &c.ConstGainLPU })).within(0, 1))

	add(
		reg("fb_iA", "A", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.IA })),
		reg("fb_iB", "A", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.IB })),
		reg("fb_iC", "A", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.IC })),
		reg("fb_U", "V", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.U })),
		reg("fb_uA", "V", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.UA })),
		reg("fb_uB", "V", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.UB })),
		reg("fb_uC", "V", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.UC })),
		reg("const_lpf_U", "V", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.LpfU })),
		reg("temp_PCB", "C", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.TempPCB })),
		reg("temp_EXT", "C", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.TempEXT })),

		reg("probe_current_hold", "A", Config, f64(func(c *pm.Config) *float64 { return &c.ProbeCurrentHold })).within(0, 100),
		reg("probe_current_bias_Q", "A", Config, f64(func(c *pm.Config) *float64 { return &c.ProbeCurrentBiasQ })).within(0, 100),
		reg("probe_current_sine", "A", Config, f64(func(c *pm.Config) *float64 { return &c.ProbeCurrentSine })).within(0, 100),
		reg("probe_freq_sine_hz", "Hz", Config, f64(func(c *pm.Config) *float64 { return &c.ProbeFreqSineHz })).within(1, 1e5),
		reg("probe_STD", "", Config, f64(func(c *pm.Config) *float64 { return &c.ProbeSTD })).within(0, 1000),
	)
	add(speed(reg("probe_speed_low", "rad/s", Config, f64(func(c *pm.Config) *float64 { return &c.ProbeSpeedLow })))...)
	add(speed(reg("probe_speed_ramp", "rad/s", Config, f64(func(c *pm.Config) *float64 { return &c.ProbeSpeedRamp })))...)

	add(
		reg("fault_voltage_tol", "V", Config, f64(func(c *pm.Config) *float64 { return &c.FaultVoltageTol })).within(0, 100),
		reg("fault_current_tol", "A", Config, f64(func(c *pm.Config) *float64 { return &c.FaultCurrentTol })).within(0, 100),
		reg("fault_accuracy_tol", "", Config, f64(func(c *pm.Config) *float64 { return &c.FaultAccuracyTol })).within(0, 1),
		reg("fault_current_halt", "A", Config, f64(func(c *pm.Config) *float64 { return &c.FaultCurrentHalt })).within(0, 1000),
		reg("fault_voltage_halt", "V", Config, f64(func(c *pm.Config) *float64 { return &c.FaultVoltageHalt })).within(0, 1000),
		reg("fault_flux_residual", "", Config, f64(func(c *pm.Config) *float64 { return &c.FaultFluxResidual })).within(0, 1e4),

		reg("vsi_DC0", "", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.DC[0] })),
		reg("vsi_DC1", "", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.DC[1] })),
		reg("vsi_DC2", "", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.DC[2] })),
		reg("vsi_enable", "", ReadOnly, roInt(func(s *pm.Snapshot) int {
			if s.Enable {
				return 1
			}
			return 0
		})),

		reg("lu_mode", "", ReadOnly, roInt(func(s *pm.Snapshot) int { return int(s.Mode) })),
		reg("lu_iD", "A", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.ID })),
		reg("lu_iQ", "A", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.IQ })),
		reg("lu_F0", "", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.FX })),
		reg("lu_F1", "", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.FY })),
		reg("lu_F_g", "deg", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.Angle() })).as(Degree),
		reg("lu_revol", "", ReadOnly, roInt(func(s *pm.Snapshot) int { return s.Revol })),
	)
	add(speed(reg("lu_wS", "rad/s", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.WS })))...)
	add(speed(reg("lu_lpf_wS", "rad/s", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.LpfWS })))...)
	add(
		reg("lu_lock_S", "V", Config, f64(func(c *pm.Config) *float64 { return &c.LULockS })).within(0, 100),
		reg("lu_gain_LP_S", "", Config, f64(func(c *pm.Config) *float64 { return &c.LUGainLPS })).within(0, 1),
		reg("w_low_threshold", "rad/s", Config, f64(func(c *pm.Config) *float64 { return &c.WLowThreshold })),
		reg("w_low_hysteresis", "rad/s", Config, f64(func(c *pm.Config) *float64 { return &c.WLowHysteresis })),

		reg("forced_hold_D", "A", Config, f64(func(c *pm.Config) *float64 { return &c.ForcedHoldD })).within(0, 100),
	)
	add(speed(reg("forced_maximal", "rad/s", Config, f64(func(c *pm.Config) *float64 { return &c.ForcedMaximal })))...)
	add(speed(reg("forced_reverse", "rad/s", Config, f64(func(c *pm.Config) *float64 { return &c.ForcedReverse })))...)
	add(speed(reg("forced_accel", "rad/s/s", Config, f64(func(c *pm.Config) *float64 { return &c.ForcedAccel })))...)

	add(
		reg("flux_upper_R", "", Config, f64(func(c *pm.Config) *float64 { return &c.FluxUpperR })).within(0, 1),
		reg("flux_low_S", "rad/s", Config, f64(func(c *pm.Config) *float64 { return &c.FluxLowS })),
		reg("flux_gain_LP_E", "", Config, f64(func(c *pm.Config) *float64 { return &c.FluxGainLPE })).within(0, 1),
		reg("flux_E", "Wb", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.FluxE[s.FluxH] })),
		reg("flux_H", "", ReadOnly, roInt(func(s *pm.Snapshot) int { return s.FluxH })),
		reg("flux_residual", "", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.FluxResidual })),
	)
	for k := 0; k < 5; k++ {
		add(reg(fmt.Sprintf("kalman_Q%d", k), "", Config, f64(func(c *pm.Config) *float64 { return &c.KalmanQ[k] })).within(0, 1e3))
	}
	add(
		reg("kalman_R", "", Config, f64(func(c *pm.Config) *float64 { return &c.KalmanR })).within(0, 1e3),

		reg("hfi_freq_hz", "Hz", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.FreqHz / 2 })),
		reg("hfi_swing_D", "A", Config, f64(func(c *pm.Config) *float64 { return &c.HFISwingD })).within(0, 100),
		reg("hfi_polarity", "", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.HFIPolarity })),
		reg("hfi_gain_EP", "", Config, f64(func(c *pm.Config) *float64 { return &c.HFIGainEP })),
		reg("hfi_gain_SF", "", Config, f64(func(c *pm.Config) *float64 { return &c.HFIGainSF })),
		reg("hfi_gain_FP", "", Config, f64(func(c *pm.Config) *float64 { return &c.HFIGainFP })),
		reg("hfi_gain_SB", "", Config, f64(func(c *pm.Config) *float64 { return &c.HFIGainSB })),
	)
	for k := 1; k <= 6; k++ {
		add(reg(fmt.Sprintf("hall_AT%d", k), "deg", Config, f64(func(c *pm.Config) *float64 { return &c.HallAT[k] })).as(Degree))
	}
	add(
		reg("qep_PPR", "", Config, integer(func(c *pm.Config) *int { return &c.QEPPPR })).within(1, 1<<20),

		reg("const_R", "Ohm", Config, f64(func(c *pm.Config) *float64 { return &c.ConstR })),
		reg("const_Ld", "H", Config, f64(func(c *pm.Config) *float64 { return &c.ConstLd })),
		reg("const_Lq", "H", Config, f64(func(c *pm.Config) *float64 { return &c.ConstLq })),
		reg("const_L", "H", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.ConstL })),
	)
	constE := reg("const_E", "Wb", Config, f64(func(c *pm.Config) *float64 { return &c.ConstE }))
	add(constE, alias(constE, "kv", "rpm/V", Kv))
	add(
		reg("const_Zp", "", Config, integer(func(c *pm.Config) *int { return &c.ConstZp })).within(1, 100),
		reg("const_J", "kg*m*m", Config, f64(func(c *pm.Config) *float64 { return &c.ConstJ })),
		reg("const_im_B", "deg", Config, f64(func(c *pm.Config) *float64 { return &c.ConstImB })),
		reg("const_im_R", "Ohm", Config, f64(func(c *pm.Config) *float64 { return &c.ConstImR })),
		reg("const_dd_T", "m", Config, f64(func(c *pm.Config) *float64 { return &c.ConstDdT })).within(0, 10),

		reg("watt_wP_maximal", "W", Config, f64(func(c *pm.Config) *float64 { return &c.WattWPMaximal })).within(0, 1e6),
		reg("watt_iB_maximal", "A", Config, f64(func(c *pm.Config) *float64 { return &c.WattIBMaximal })).within(0, 1e4),
		reg("watt_wP_reverse", "W", Config, f64(func(c *pm.Config) *float64 { return &c.WattWPReverse })).within(0, 1e6),
		reg("watt_iB_reverse", "A", Config, f64(func(c *pm.Config) *float64 { return &c.WattIBReverse })).within(0, 1e4),
		reg("watt_dclink_HI", "V", Config, f64(func(c *pm.Config) *float64 { return &c.WattDCLinkHI })).within(0, 1000),
		reg("watt_dclink_LO", "V", Config, f64(func(c *pm.Config) *float64 { return &c.WattDCLinkLO })).within(0, 1000),
		reg("watt_gain_LP_P", "", Config, f64(func(c *pm.Config) *float64 { return &c.WattGainLPP })).within(0, 1),
		reg("watt_lpf_wP", "W", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.LpfWP })),

		reg("heat_PCB", "C", Config, f64(func(c *pm.Config) *float64 { return &c.HeatPCB })).within(0, 200),
		reg("heat_PCB_derated_i", "A", Config, f64(func(c *pm.Config) *float64 { return &c.HeatPCBDeratedI })).within(0, 1000),
		reg("heat_EXT", "C", Config, f64(func(c *pm.Config) *float64 { return &c.HeatEXT })).within(0, 200),
		reg("heat_EXT_derated_i", "A", Config, f64(func(c *pm.Config) *float64 { return &c.HeatEXTDeratedI })).within(0, 1000),
		reg("heat_gap", "C", Config, f64(func(c *pm.Config) *float64 { return &c.HeatGap })).within(0, 100),

		reg("i_maximal", "A", Config, f64(func(c *pm.Config) *float64 { return &c.IMaximal })).within(0, 1000),
		reg("i_reverse", "A", Config, f64(func(c *pm.Config) *float64 { return &c.IReverse })).as(ReverseCurrent),
		reg("i_derated", "A", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.IDerated })),
		reg("i_slew_rate", "A/s", Config, f64(func(c *pm.Config) *float64 { return &c.ISlewRate })).within(0, 1e9),
		reg("i_gain_P", "", Config, f64(func(c *pm.Config) *float64 { return &c.IGainP })).within(0, 1e3),
		reg("i_gain_I", "", Config, f64(func(c *pm.Config) *float64 { return &c.IGainI })).within(0, 1e3),
		reg("i_setpoint_D", "A", Writable, f64(func(c *pm.Config) *float64 { return &c.ISetpointD })),
		reg("i_inject_D", "A", Writable, f64(func(c *pm.Config) *float64 { return &c.IInjectD })),
		reg("i_track_D", "A", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.TrackD })),
		reg("i_track_Q", "A", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.TrackQ })),
		reg("u_D", "V", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.UD })),
		reg("u_Q", "V", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.UQ })),
	)
	iq := reg("i_setpoint_Q", "A", Writable, f64(func(c *pm.Config) *float64 { return &c.ISetpointQ }))
	add(iq, alias(iq, "pc", "%", CurrentPercent))

	add(
		reg("weak_maximal", "A", Config, f64(func(c *pm.Config) *float64 { return &c.WeakMaximal })).within(0, 1000),
		reg("weak_bias_U", "V", Config, f64(func(c *pm.Config) *float64 { return &c.WeakBiasU })),
		reg("weak_gain_EU", "", Config, f64(func(c *pm.Config) *float64 { return &c.WeakGainEU })),
		reg("weak_D", "A", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.WeakD })),
		reg("v_maximal", "V", Config, f64(func(c *pm.Config) *float64 { return &c.VMaximal })).within(0, 1000),
		reg("v_reverse", "V", Config, f64(func(c *pm.Config) *float64 { return &c.VReverse })).within(0, 1000),
	)
	add(speed(reg("s_maximal", "rad/s", Config, f64(func(c *pm.Config) *float64 { return &c.SMaximal })))...)
	add(speed(reg("s_reverse", "rad/s", Config, f64(func(c *pm.Config) *float64 { return &c.SReverse })))...)
	sp := reg("s_setpoint", "rad/s", Writable, f64(func(c *pm.Config) *float64 { return &c.SSetpoint }))
	add(speed(sp)...)
	add(alias(sp, "pc", "%", SpeedPercent))
	add(speed(reg("s_accel", "rad/s/s", Config, f64(func(c *pm.Config) *float64 { return &c.SAccel })))...)
	add(speed(reg("s_track", "rad/s", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.SpeedTrack })))...)
	add(
		reg("s_gain_P", "", Config, f64(func(c *pm.Config) *float64 { return &c.SGainP })).within(0, 1e3),
		reg("s_gain_LP_I", "", Config, f64(func(c *pm.Config) *float64 { return &c.SGainLPI })).within(0, 1),
		reg("s_gain_HF_S", "", Config, f64(func(c *pm.Config) *float64 { return &c.SGainHFS })).within(0, 1e3),
	)

	xs := reg("x_setpoint_F", "rad", Writable, setpoint()).as(SetpointAngle)
	add(xs, alias(xs, "g", "deg", SetpointDegree))
	add(
		reg("x_setpoint_revol", "", ReadOnly, roInt(func(s *pm.Snapshot) int { return s.XSetpointRevol })),
		reg("x_error", "rad", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.PositionError })),
		reg("x_near_EP", "rad", Config, f64(func(c *pm.Config) *float64 { return &c.XNearEP })).within(0, 100),
		reg("x_gain_P", "", Config, f64(func(c *pm.Config) *float64 { return &c.XGainP })).within(0, 1e4),
		reg("x_gain_N", "", Config, f64(func(c *pm.Config) *float64 { return &c.XGainN })).within(0, 1e4),
		reg("x_tolerance", "rad", Config, f64(func(c *pm.Config) *float64 { return &c.XTolerance })).within(0, 100),

		reg("stat_revol_total", "", ReadOnly, roInt(func(s *pm.Snapshot) int { return s.ERevol })),
	)
	dist := reg("stat_distance", "m", ReadOnly, ro(func(s *pm.Snapshot) float64 {
		return float64(s.ERevol) / float64(s.ConstZp) * math.Pi * s.ConstDdT
	}))
	add(dist, alias(dist, "km", "km", Kilo))
	add(
		reg("stat_consumed_wh", "Wh", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.ConsumedWh })),
		reg("stat_consumed_ah", "Ah", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.ConsumedAh })),
		reg("stat_reverted_wh", "Wh", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.RevertedWh })),
		reg("stat_reverted_ah", "Ah", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.RevertedAh })),
		reg("stat_capacity_ah", "Ah", Config, f64(func(c *pm.Config) *float64 { return &c.StatCapacityAh })).within(0, 1e4),
		reg("stat_fuel_pc", "%", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.Fuel })),
		reg("stat_peak_consumed_watt", "W", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.PeakConsumed })),
		reg("stat_peak_reverted_watt", "W", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.PeakReverted })),
	)
	add(speed(reg("stat_peak_speed", "rad/s", ReadOnly, ro(func(s *pm.Snapshot) float64 { return s.PeakSpeed })))...)

	for k := 0; k < LinkSlots; k++ {
		add(Entry{Name: fmt.Sprintf("tel_reg_ID%d", k), Mode: Config, Transform: Linked, slot: k})
	}
	return t
}
