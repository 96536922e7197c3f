package pm

import (
	"math"

	"github.com/pkg/errors"
)

// Config holds every field the supervisory side may write. Angles are in
// electrical radians and speeds in electrical rad/s unless noted.
type Config struct {
	FreqHz       float64
	DCResolution int
	DCMinimal    int

	TVM    bool
	HFI    bool
	Weak   bool
	Stat   bool
	Sensor SensorMode
	Drive  DriveMode

	TmTransientSlow float64
	TmTransientFast float64
	TmVoltageHold   float64
	TmCurrentHold   float64
	TmInstantProbe  float64
	TmAverageDrift  float64
	TmAverageProbe  float64
	TmStartup       float64

	// ADC pairs {bias, scale}: value = scale*raw + bias.
	AdIA, AdIB       [2]float64
	AdUS             [2]float64
	AdUA, AdUB, AdUC [2]float64
	ConstGainLPU     float64

	ProbeCurrentHold  float64
	ProbeCurrentBiasQ float64
	ProbeCurrentSine  float64
	ProbeFreqSineHz   float64
	ProbeSpeedLow     float64
	ProbeSpeedRamp    float64
	// ProbeSTD is the reference voltage or resistance for the STD states.
	ProbeSTD float64

	FaultVoltageTol   float64
	FaultCurrentTol   float64
	FaultAccuracyTol  float64
	FaultCurrentHalt  float64
	FaultVoltageHalt  float64
	FaultFluxResidual float64

	LULockS        float64
	LUGainLPS      float64
	WLowThreshold  float64
	WLowHysteresis float64

	ForcedHoldD   float64
	ForcedMaximal float64
	ForcedReverse float64
	ForcedAccel   float64

	FluxUpperR  float64
	FluxLowS    float64
	FluxGainLPE float64
	KalmanQ     [5]float64
	KalmanR     float64

	HFISwingD float64
	HFIGainEP float64
	HFIGainSF float64
	HFIGainFP float64
	HFIGainSB float64

	HallAT [7]float64
	QEPPPR int

	ConstR   float64
	ConstLd  float64
	ConstLq  float64
	ConstL   float64
	ConstE   float64
	ConstZp  int
	ConstJ   float64
	ConstImB float64
	ConstImR float64
	ConstDdT float64

	WattWPMaximal float64
	WattIBMaximal float64
	WattWPReverse float64
	WattIBReverse float64
	WattDCLinkHI  float64
	WattDCLinkLO  float64
	WattGainLPP   float64

	HeatPCB         float64
	HeatPCBDeratedI float64
	HeatEXT         float64
	HeatEXTDeratedI float64
	HeatGap         float64

	IMaximal  float64
	IReverse  float64
	ISlewRate float64
	IGainP    float64
	IGainI    float64

	WeakMaximal float64
	WeakBiasU   float64
	WeakGainEU  float64
	VMaximal    float64
	VReverse    float64

	SMaximal float64
	SReverse float64
	SAccel   float64
	SGainP   float64
	SGainLPI float64
	SGainHFS float64

	XNearEP    float64
	XGainP     float64
	XGainN     float64
	XTolerance float64

	StatCapacityAh float64

	ISetpointD     float64
	ISetpointQ     float64
	IInjectD       float64
	SSetpoint      float64
	XSetpointA     float64
	XSetpointRevol int
}

// DefaultConfig returns a configuration suitable for a small outrunner on a
// 24-48 V bridge. Electrical constants are placeholders until probed.
func DefaultConfig(freqHz float64) Config {
	return Config{
		FreqHz:       freqHz,
		DCResolution: 2800,
		DCMinimal:    20,

		TVM:    true,
		Stat:   true,
		Drive:  DriveSpeed,
		Sensor: SensorNone,

		TmTransientSlow: 0.05,
		TmTransientFast: 0.002,
		TmVoltageHold:   0.05,
		TmCurrentHold:   0.5,
		TmInstantProbe:  0.01,
		TmAverageDrift:  0.1,
		TmAverageProbe:  0.2,
		TmStartup:       0.1,

		AdIA:         [2]float64{0, 1},
		AdIB:         [2]float64{0, 1},
		AdUS:         [2]float64{0, 1},
		AdUA:         [2]float64{0, 1},
		AdUB:         [2]float64{0, 1},
		AdUC:         [2]float64{0, 1},
		ConstGainLPU: 5e-3,

		ProbeCurrentHold:  5,
		ProbeCurrentBiasQ: 1,
		ProbeCurrentSine:  1,
		ProbeFreqSineHz:   1000,
		ProbeSpeedLow:     300,
		ProbeSpeedRamp:    1200,

		FaultVoltageTol:   2,
		FaultCurrentTol:   2,
		FaultAccuracyTol:  0.1,
		FaultCurrentHalt:  60,
		FaultVoltageHalt:  57,
		FaultFluxResidual: 25,

		LULockS:        1,
		LUGainLPS:      1e-2,
		WLowThreshold:  200,
		WLowHysteresis: 50,

		ForcedHoldD:   5,
		ForcedMaximal: 300,
		ForcedReverse: 300,
		ForcedAccel:   500,

		FluxUpperR:  0.02,
		FluxLowS:    50,
		FluxGainLPE: 2e-3,
		KalmanQ:     [5]float64{1e-2, 1e-2, 1e-6, 1e-6, 1e-1},
		KalmanR:     1e-2,

		HFISwingD: 1,
		HFIGainEP: 5e-3,
		HFIGainSF: 5e-1,
		HFIGainFP: 1e-3,
		HFIGainSB: 4,

		QEPPPR: 2048,

		ConstR:  0.1,
		ConstLd: 1e-4,
		ConstLq: 1e-4,
		ConstE:  5e-3,
		ConstZp: 1,
		ConstJ:  1e-4,

		WattWPMaximal: 2000,
		WattIBMaximal: 80,
		WattWPReverse: 500,
		WattIBReverse: 20,
		WattDCLinkHI:  52,
		WattDCLinkLO:  8,
		WattGainLPP:   1e-2,

		HeatPCB:         90,
		HeatPCBDeratedI: 20,
		HeatGap:         10,

		IMaximal:  30,
		IReverse:  -30,
		ISlewRate: 1e5,
		IGainP:    2e-1,
		IGainI:    1e-2,

		WeakMaximal: 10,
		WeakBiasU:   0.5,
		WeakGainEU:  1e-3,

		VMaximal: 60,
		VReverse: 60,

		SMaximal: 3000,
		SReverse: 3000,
		SAccel:   3000,
		SGainP:   2e-2,
		SGainLPI: 1e-3,
		SGainHFS: 1e-3,

		XNearEP:    0.5,
		XGainP:     50,
		XGainN:     20,
		XTolerance: 0.05,
	}
}

func (c *Config) validate() error {
	switch {
	case !(c.FreqHz > 0):
		return errors.New("carrier frequency must be positive")
	case c.DCResolution <= 0:
		return errors.New("dc resolution must be positive")
	case c.DCMinimal < 0 || 2*c.DCMinimal >= c.DCResolution:
		return errors.Errorf("dc minimal %d out of range", c.DCMinimal)
	case !(c.ConstLd > 0) || !(c.ConstLq > 0):
		return errors.New("inductance must be positive")
	case c.ConstR < 0:
		return errors.New("resistance must not be negative")
	case c.ConstZp < 1:
		return errors.New("pole pairs must be at least 1")
	case c.IMaximal < 0:
		return errors.New("maximal current must not be negative")
	case c.QEPPPR <= 0:
		return errors.New("encoder resolution must be positive")
	}
	for _, v := range []float64{c.ConstR, c.ConstE, c.ConstJ, c.IGainP, c.IGainI, c.SGainP} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("parameter must be finite")
		}
	}
	return nil
}

// ticks converts a duration in seconds into a count of carrier periods.
func (c *Config) ticks(sec float64) int {
	n := int(sec*c.FreqHz + 0.5)
	if n < 1 {
		return 1
	}
	return n
}

// AutoTune derives current loop gains from the identified R and L so that the
// PI zero cancels the electrical pole.
func (c *Config) AutoTune() {
	dT := 1 / c.FreqHz
	L := (c.ConstLd + c.ConstLq) / 2
	c.IGainP = 0.2 * L / dT
	c.IGainI = c.IGainP * c.ConstR * dT / L * 2
}
