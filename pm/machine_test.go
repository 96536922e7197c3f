package pm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
)

func newTestMachine(t *testing.T, edit func(*Config)) *Machine {
	t.Helper()
	cfg := DefaultConfig(30000)
	if edit != nil {
		edit(&cfg)
	}
	m, err := NewMachine(cfg)
	test.That(t, err, test.ShouldBeNil)
	return m
}

// startQEP puts the machine into a running regime that does not depend on
// the measured currents.
func startQEP(m *Machine) {
	m.lu.mode = LUQEP
	m.qep = qepTracker{F: unitX}
	m.lu.F = unitX
}

func TestNewMachineRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig(30000)
	cfg.ConstLd = 0
	_, err := NewMachine(cfg)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "inductance")

	cfg = DefaultConfig(0)
	_, err = NewMachine(cfg)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestUpdateRecomputesReciprocals(t *testing.T) {
	m := newTestMachine(t, nil)
	err := m.Update(func(c *Config) error {
		c.ConstLd = 2e-4
		c.ConstLq = 4e-4
		return nil
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.ilD, test.ShouldAlmostEqual, 5000)
	test.That(t, m.ilQ, test.ShouldAlmostEqual, 2500)
	test.That(t, m.Config().ConstL, test.ShouldAlmostEqual, 3e-4)

	err = m.Update(func(c *Config) error {
		c.ConstLq = -1
		return nil
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, m.Config().ConstLq, test.ShouldAlmostEqual, 4e-4)
}

func TestOrientationStaysUnit(t *testing.T) {
	rg := rand.New(rand.NewSource(1))
	for _, mode := range []LUMode{LUFlux, LUHFI, LUForced} {
		t.Run(mode.String(), func(t *testing.T) {
			m := newTestMachine(t, func(c *Config) {
				c.FaultFluxResidual = 0
				c.Drive = DriveCurrent
				c.ISetpointQ = 3
			})
			m.lu.mode = mode
			switch mode {
			case LUFlux:
				m.seedFlux(unitX, 500, r2.Point{})
			case LUHFI:
				m.seedHFI(unitX, 0, r2.Point{})
			case LUForced:
				m.seedForced(unitX, 0)
			}
			for k := 0; k < 5000; k++ {
				s := Sample{A: rg.Float64()*4 - 2, B: rg.Float64()*4 - 2, U: 24}
				m.Tick(&s)
				test.That(t, math.Abs(m.lu.F.Norm()-1), test.ShouldBeLessThan, 1e-9)
			}
		})
	}
}

func TestCurrentCommandSaturation(t *testing.T) {
	t.Run("q only", func(t *testing.T) {
		m := newTestMachine(t, func(c *Config) {
			c.Drive = DriveCurrent
			c.ISetpointQ = 1000
			c.IMaximal = 20
		})
		startQEP(m)
		for k := 0; k < 100; k++ {
			m.Tick(&Sample{U: 24})
			test.That(t, math.Hypot(m.cur.trackD, m.cur.trackQ), test.ShouldBeLessThanOrEqualTo, 20+1e-9)
		}
		test.That(t, m.cur.trackQ, test.ShouldAlmostEqual, 20, 1e-9)
	})

	t.Run("d takes precedence", func(t *testing.T) {
		m := newTestMachine(t, func(c *Config) {
			c.Drive = DriveCurrent
			c.ISetpointD = 1000
			c.ISetpointQ = 1000
			c.IMaximal = 20
		})
		startQEP(m)
		for k := 0; k < 100; k++ {
			m.Tick(&Sample{U: 24})
			test.That(t, math.Hypot(m.cur.trackD, m.cur.trackQ), test.ShouldBeLessThanOrEqualTo, 20+1e-9)
		}
		test.That(t, m.cur.trackD, test.ShouldAlmostEqual, 20, 1e-9)
		test.That(t, m.cur.trackQ, test.ShouldAlmostEqual, 0, 1e-9)
	})
}

func TestRequestIdempotent(t *testing.T) {
	m := newTestMachine(t, nil)
	test.That(t, m.Request(StateZeroDrift), test.ShouldBeTrue)
	test.That(t, m.Request(StateProbeConstR), test.ShouldBeFalse)
	test.That(t, m.Pending(), test.ShouldBeTrue)

	for k := 0; k < 3; k++ {
		m.Tick(&Sample{U: 24})
	}
	test.That(t, m.Pending(), test.ShouldBeFalse)
	test.That(t, m.fsm.state, test.ShouldEqual, StateZeroDrift)
	test.That(t, m.fsm.tm, test.ShouldEqual, 3)

	// A duplicate after consumption is discarded without restarting the state.
	test.That(t, m.Request(StateZeroDrift), test.ShouldBeTrue)
	m.Tick(&Sample{U: 24})
	test.That(t, m.Pending(), test.ShouldBeFalse)
	test.That(t, m.fsm.state, test.ShouldEqual, StateZeroDrift)
	test.That(t, m.fsm.tm, test.ShouldEqual, 4)

	test.That(t, m.Request(StateNone), test.ShouldBeFalse)
}

func TestRequestValidation(t *testing.T) {
	m := newTestMachine(t, nil)

	// Not running: the running-only requests are discarded.
	for _, s := range []State{StateProbeConstE, StateProbeConstJ, StateLUShutdown} {
		test.That(t, m.Request(s), test.ShouldBeTrue)
		m.Tick(&Sample{U: 24})
		test.That(t, m.fsm.state, test.ShouldEqual, StateIdle)
	}

	// Running: calibration requests are discarded.
	startQEP(m)
	test.That(t, m.Request(StateProbeConstR), test.ShouldBeTrue)
	m.Tick(&Sample{U: 24})
	test.That(t, m.fsm.state, test.ShouldEqual, StateIdle)
	test.That(t, m.lu.mode, test.ShouldEqual, LUQEP)

	test.That(t, m.Request(StateLUShutdown), test.ShouldBeTrue)
	m.Tick(&Sample{U: 24})
	test.That(t, m.fsm.state, test.ShouldEqual, StateLUShutdown)
	test.That(t, m.lu.mode, test.ShouldEqual, LUDisabled)
}

func TestRequestUnknownState(t *testing.T) {
	m := newTestMachine(t, nil)
	m.fsm.fail = FailAccuracy

	for _, s := range []State{State(99), State(-7), StateHalt + 1} {
		test.That(t, m.Request(s), test.ShouldBeFalse)
		test.That(t, m.Pending(), test.ShouldBeFalse)
		for k := 0; k < 10; k++ {
			m.Tick(&Sample{U: 24})
		}
		test.That(t, m.fsm.state, test.ShouldEqual, StateIdle)
		test.That(t, m.fsm.fail, test.ShouldEqual, FailAccuracy)
	}
}

func TestRegimeSwitchWithoutGlitch(t *testing.T) {
	m := newTestMachine(t, func(c *Config) {
		c.HFI = true
		c.Drive = DriveCurrent
		c.WLowThreshold = 100
		c.WLowHysteresis = 20
	})
	m.lu.mode = LUFlux
	m.seedFlux(unitX, 200, r2.Point{})
	m.lu.F = unitX
	m.lu.wS = 200
	m.lu.lpfWS = 200

	var ramp []float64
	for k := 0; k < 3000; k++ {
		ramp = append(ramp, 200*(1-float64(k)/3000))
	}
	for k := 0; k < 500; k++ {
		ramp = append(ramp, 0)
	}
	for k := 0; k < 3000; k++ {
		ramp = append(ramp, 200*float64(k)/3000)
	}

	seen := map[LUMode]int{}
	prev := m.lu.mode
	for _, w := range ramp {
		switch m.lu.mode {
		case LUFlux:
			m.flux.wS = w
		case LUHFI:
			m.hfi.wS = w
		}
		before := angleOf(m.lu.F)
		m.Tick(&Sample{U: 24})
		test.That(t, m.fsm.fail, test.ShouldEqual, FailOK)

		step, _ := Wrap(angleOf(m.lu.F) - before)
		test.That(t, math.Abs(step-w*m.dT), test.ShouldBeLessThan, 0.05)
		if m.lu.mode != prev {
			seen[m.lu.mode]++
			prev = m.lu.mode
		}
	}
	test.That(t, seen[LUHFI], test.ShouldEqual, 1)
	test.That(t, seen[LUFlux], test.ShouldEqual, 1)
	test.That(t, m.lu.mode, test.ShouldEqual, LUFlux)
}

func TestOverCurrentHaltsInOneTick(t *testing.T) {
	m := newTestMachine(t, func(c *Config) {
		c.Drive = DriveCurrent
		c.ISetpointQ = 5
	})
	startQEP(m)
	for k := 0; k < 10; k++ {
		m.Tick(&Sample{U: 24})
	}
	test.That(t, m.vsi.out.Enable, test.ShouldBeTrue)

	test.That(t, m.Request(StateLUShutdown), test.ShouldBeTrue)
	out := m.Tick(&Sample{A: 100, U: 24})
	test.That(t, out.Enable, test.ShouldBeFalse)
	test.That(t, out.DC, test.ShouldResemble, [3]float64{})
	test.That(t, m.fsm.fail, test.ShouldEqual, FailOverCurrent)
	test.That(t, m.fsm.state, test.ShouldEqual, StateHalt)
	test.That(t, m.lu.mode, test.ShouldEqual, LUDisabled)
	test.That(t, m.Pending(), test.ShouldBeFalse)

	for k := 0; k < m.cfg.ticks(m.cfg.TmTransientSlow); k++ {
		m.Tick(&Sample{U: 24})
	}
	test.That(t, m.fsm.state, test.ShouldEqual, StateIdle)
	test.That(t, m.fsm.fail, test.ShouldEqual, FailOverCurrent)
	test.That(t, m.fsm.fail.Err(), test.ShouldBeError, "controller failed: over current")
}

func TestUnderVoltageOnlyWithOutputs(t *testing.T) {
	m := newTestMachine(t, nil)
	for k := 0; k < 10; k++ {
		m.Tick(&Sample{U: 1})
	}
	test.That(t, m.fsm.fail, test.ShouldEqual, FailOK)

	startQEP(m)
	m.Tick(&Sample{U: 1})
	m.Tick(&Sample{U: 1})
	test.That(t, m.fsm.fail, test.ShouldEqual, FailUnderVoltage)
}

func TestHexagonClamp(t *testing.T) {
	m := newTestMachine(t, nil)
	m.fb.lpfU = 24
	lo := float64(m.cfg.DCMinimal) / float64(m.cfg.DCResolution)

	for _, a := range []float64{0, 0.3, 1, 2.5, -2} {
		sat := m.voltage(unit(a).Mul(100))
		test.That(t, sat, test.ShouldBeTrue)
		for _, d := range m.vsi.out.DC {
			test.That(t, d, test.ShouldBeGreaterThanOrEqualTo, lo-1e-12)
			test.That(t, d, test.ShouldBeLessThanOrEqualTo, 1-lo+1e-12)
		}
		test.That(t, m.vsi.uXY.Norm(), test.ShouldBeLessThanOrEqualTo, 24)
	}

	sat := m.voltage(r2.Point{X: 1})
	test.That(t, sat, test.ShouldBeFalse)
	test.That(t, m.vsi.uXY.X, test.ShouldAlmostEqual, 1, 24.0/2800)

	m.cfg.VMaximal = 5
	sat = m.voltage(r2.Point{X: 10})
	test.That(t, sat, test.ShouldBeTrue)
	test.That(t, m.vsi.uXY.Norm(), test.ShouldAlmostEqual, 5, 0.02)

	t.Run("reverse limit while braking", func(t *testing.T) {
		m.cfg.VReverse = 3
		m.lu.F = unitX
		m.lu.wS = 100
		test.That(t, m.voltage(r2.Point{Y: -10}), test.ShouldBeTrue)
		test.That(t, m.vsi.uXY.Norm(), test.ShouldAlmostEqual, 3, 0.02)

		test.That(t, m.voltage(r2.Point{Y: 10}), test.ShouldBeTrue)
		test.That(t, m.vsi.uXY.Norm(), test.ShouldAlmostEqual, 5, 0.02)

		m.lu.wS = -100
		test.That(t, m.voltage(r2.Point{Y: 10}), test.ShouldBeTrue)
		test.That(t, m.vsi.uXY.Norm(), test.ShouldAlmostEqual, 3, 0.02)
	})
}

func TestPositionLoopContinuity(t *testing.T) {
	m := newTestMachine(t, nil)
	m.lu.F = unitX

	at := func(x float64) float64 {
		m.cfg.XSetpointA = x
		return m.positionLoop()
	}
	near := m.cfg.XNearEP
	test.That(t, math.Abs(at(near-1e-9)-at(near+1e-9)), test.ShouldBeLessThan, 1e-6)
	test.That(t, math.Abs(at(-near-1e-9)-at(-near+1e-9)), test.ShouldBeLessThan, 1e-6)
	test.That(t, at(0.1), test.ShouldAlmostEqual, m.cfg.XGainN*0.1)
	test.That(t, at(1), test.ShouldAlmostEqual, m.cfg.XGainN*near+m.cfg.XGainP*(1-near))

	m.cfg.XSetpointA = 0
	m.cfg.XSetpointRevol = 1
	test.That(t, m.positionLoop(), test.ShouldBeGreaterThan, 0)
	test.That(t, m.pos.err, test.ShouldAlmostEqual, 2*math.Pi)
}

func TestSpeedLoopReverseClamp(t *testing.T) {
	m := newTestMachine(t, func(c *Config) {
		c.SReverse = 1000
		c.SMaximal = 2000
	})
	m.watt.iDerated = m.cfg.IMaximal
	for k := 0; k < 30000; k++ {
		m.speedLoop(-5000)
	}
	test.That(t, m.spd.track, test.ShouldAlmostEqual, -1000)
	for k := 0; k < 40000; k++ {
		m.speedLoop(5000)
	}
	test.That(t, m.spd.track, test.ShouldAlmostEqual, 2000)

	m.cfg.IReverse = -4
	m.spd.integral = 0
	m.spd.track = -1000
	m.lu.lpfWS = 1000
	test.That(t, m.speedLoop(-1000), test.ShouldAlmostEqual, -4)
}

func TestPowerLimiter(t *testing.T) {
	m := newTestMachine(t, func(c *Config) {
		c.ConstE = 0.01
		c.ConstR = 0.1
	})
	m.watt.iDerated = 30
	m.watt.consumption = 100
	m.watt.regeneration = 50

	m.lu.wS = 1000
	test.That(t, m.limitQ(20), test.ShouldAlmostEqual, 100.0/15, 1e-9)
	test.That(t, m.limitQ(-20), test.ShouldAlmostEqual, -50.0/15, 1e-9)
	test.That(t, m.limitQ(2), test.ShouldAlmostEqual, 2)

	m.lu.wS = -1000
	test.That(t, m.limitQ(-20), test.ShouldAlmostEqual, -100.0/15, 1e-9)
	test.That(t, m.limitQ(20), test.ShouldAlmostEqual, 50.0/15, 1e-9)

	t.Run("dc link ramps", func(t *testing.T) {
		m.fb.lpfU = 0.95 * m.cfg.WattDCLinkLO
		m.limits()
		full := math.Min(m.cfg.WattWPMaximal, m.cfg.WattIBMaximal*m.fb.lpfU)
		test.That(t, m.watt.consumption, test.ShouldAlmostEqual, full/2, 1e-9)

		m.fb.lpfU = 1.2 * m.cfg.WattDCLinkHI
		m.limits()
		test.That(t, m.watt.regeneration, test.ShouldEqual, 0)
	})
}

func TestThermalDerating(t *testing.T) {
	test.That(t, derated(50, 90, 20, 10, 30), test.ShouldEqual, 30)
	test.That(t, derated(85, 90, 20, 10, 30), test.ShouldAlmostEqual, 25)
	test.That(t, derated(95, 90, 20, 10, 30), test.ShouldEqual, 20)
	test.That(t, derated(95, 0, 20, 10, 30), test.ShouldEqual, 30)

	m := newTestMachine(t, nil)
	m.Tick(&Sample{U: 24, TempPCB: 95})
	test.That(t, m.watt.iDerated, test.ShouldEqual, m.cfg.HeatPCBDeratedI)
	test.That(t, m.Snapshot().IDerated, test.ShouldEqual, m.cfg.HeatPCBDeratedI)
}

func TestWrap(t *testing.T) {
	a, r := Wrap(3 * math.Pi)
	test.That(t, a, test.ShouldAlmostEqual, math.Pi, 1e-9)
	test.That(t, r, test.ShouldEqual, 1)
	test.That(t, a+2*math.Pi*float64(r), test.ShouldAlmostEqual, 3*math.Pi, 1e-9)

	a, r = Wrap(-math.Pi)
	test.That(t, a, test.ShouldAlmostEqual, math.Pi, 1e-9)
	test.That(t, r, test.ShouldEqual, -1)

	a, r = Wrap(0.5)
	test.That(t, a, test.ShouldEqual, 0.5)
	test.That(t, r, test.ShouldEqual, 0)
}

func TestRevolutionCounter(t *testing.T) {
	m := newTestMachine(t, nil)
	m.lu.mode = LUForced
	m.seedForced(unitX, 0)
	m.lu.F = unitX
	step := 0.3
	for k := 0; k < 100; k++ {
		m.forced.F = rotate(m.forced.F, step)
		m.forced.wS = 0
		m.cfg.ForcedAccel = 0
		m.estimate()
	}
	// Whole turns counted at each crossing of pi.
	turns := int((100*step + math.Pi) / (2 * math.Pi))
	test.That(t, m.lu.revol, test.ShouldEqual, turns)
	test.That(t, m.stat.eRevol, test.ShouldEqual, turns)
}

func TestStateNames(t *testing.T) {
	for s := StateIdle; s <= StateHalt; s++ {
		p, err := ParseState(s.String())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, p, test.ShouldEqual, s)
	}
	_, err := ParseState("none")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, FailOK.Err(), test.ShouldBeNil)
}

func TestHFIPolarityFlip(t *testing.T) {
	m := newTestMachine(t, func(c *Config) { c.HFI = true })
	m.seedHFI(unitX, 0, r2.Point{})

	m.hfi.polarity = -0.05
	m.hfiUpdate(r2.Point{})
	test.That(t, m.hfi.F.X, test.ShouldAlmostEqual, 1, 1e-9)

	m.hfi.polarity = -0.5
	m.hfiUpdate(r2.Point{})
	test.That(t, m.hfi.F.X, test.ShouldAlmostEqual, -1, 1e-9)
	test.That(t, m.hfi.F.Y, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, m.hfi.polarity, test.ShouldEqual, 0.0)
}
