package pm

import "github.com/pkg/errors"

// State is a lifecycle state of the controller.
type State int32

// Lifecycle states.
const (
	StateIdle State = iota
	StateZeroDrift
	StateSelfTestPowerStage
	StateSelfTestClearance
	StateStdVoltage
	StateStdCurrent
	StateAdjustVoltage
	StateAdjustCurrent
	StateProbeConstR
	StateProbeConstL
	StateProbeConstE
	StateProbeConstJ
	StateLUStartup
	StateLUShutdown
	StateHalt

	// StateNone marks an empty request slot.
	StateNone State = -1
)

var stateNames = map[State]string{
	StateIdle:               "idle",
	StateZeroDrift:          "zero_drift",
	StateSelfTestPowerStage: "self_test_power_stage",
	StateSelfTestClearance:  "self_test_clearance",
	StateStdVoltage:         "std_voltage",
	StateStdCurrent:         "std_current",
	StateAdjustVoltage:      "adjust_voltage",
	StateAdjustCurrent:      "adjust_current",
	StateProbeConstR:        "probe_const_r",
	StateProbeConstL:        "probe_const_l",
	StateProbeConstE:        "probe_const_e",
	StateProbeConstJ:        "probe_const_j",
	StateLUStartup:          "lu_startup",
	StateLUShutdown:         "lu_shutdown",
	StateHalt:               "halt",
	StateNone:               "none",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Valid reports whether s is a lifecycle state.
func (s State) Valid() bool {
	return s >= StateIdle && s <= StateHalt
}

// ParseState returns the state with the given name.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name && s != StateNone {
			return s, nil
		}
	}
	return StateNone, errors.Errorf("unknown state %q", name)
}

// FailReason is the last terminal error recorded by the controller.
type FailReason int

// Fail reasons.
const (
	FailOK FailReason = iota
	FailTimeout
	FailZeroDrift
	FailPowerStage
	FailCurrentSensorNoisy
	FailAdjust
	FailAccuracy
	FailOverCurrent
	FailOverVoltage
	FailUnderVoltage
	FailFluxResidual
	FailNumerical
	FailSensor
)

var failNames = [...]string{
	FailOK:                 "ok",
	FailTimeout:            "timeout",
	FailZeroDrift:          "zero drift fault",
	FailPowerStage:         "power stage fault",
	FailCurrentSensorNoisy: "current sensor noisy",
	FailAdjust:             "adjust fault",
	FailAccuracy:           "accuracy fault",
	FailOverCurrent:        "over current",
	FailOverVoltage:        "over voltage",
	FailUnderVoltage:       "under voltage",
	FailFluxResidual:       "flux residual halt",
	FailNumerical:          "numerical fault",
	FailSensor:             "sensor fault",
}

func (f FailReason) String() string {
	if f >= 0 && int(f) < len(failNames) {
		return failNames[f]
	}
	return "unknown"
}

// Err returns nil for FailOK and an error naming the reason otherwise.
func (f FailReason) Err() error {
	if f == FailOK {
		return nil
	}
	return errors.Errorf("controller failed: %s", f)
}

// LUMode is the active estimation regime.
type LUMode int

// Estimation regimes.
const (
	LUDisabled LUMode = iota
	LUDetached
	LUForced
	LUFlux
	LUHFI
	LUHall
	LUQEP
)

var luNames = [...]string{"disabled", "detached", "forced", "flux", "hfi", "hall", "qep"}

func (l LUMode) String() string {
	if l >= 0 && int(l) < len(luNames) {
		return luNames[l]
	}
	return "unknown"
}

// DriveMode selects which outer loop feeds the current regulator.
type DriveMode int

// Drive modes.
const (
	DriveCurrent DriveMode = iota
	DriveSpeed
	DrivePosition
)

// SensorMode selects an optional position sensor.
type SensorMode int

// Sensor modes.
const (
	SensorNone SensorMode = iota
	SensorHall
	SensorQEP
)

// Sample is one carrier period of raw data from the HAL.
type Sample struct {
	Tick uint32

	// Phase currents and voltages in raw ADC ticks.
	A, B       float64
	U          float64
	UA, UB, UC float64

	// Temperatures in Celsius.
	TempPCB, TempEXT float64

	Hall    int
	Encoder int32
}

// Output is the bridge command for the next carrier period. Duty cycles are
// fractions of the period. Enable false puts all legs into high impedance.
type Output struct {
	DC     [3]float64
	Enable bool
	Brake  bool
}
