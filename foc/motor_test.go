package foc

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"go.viam.com/rdk/components/board"
	"go.viam.com/rdk/components/motor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/testutils/inject"
	"go.viam.com/test"

	"github.com/viam-modules/phobia/pm"
	"github.com/viam-modules/phobia/sim"
)

const maxRpm = 500

func newTestMotor(t *testing.T, deps resource.Dependencies, mc Config, p sim.Params) (*Motor, *sim.Plant) {
	t.Helper()
	plant, err := sim.New(p)
	test.That(t, err, test.ShouldBeNil)
	name := resource.NewName(motor.API, "motor1")
	m, err := makeMotor(context.Background(), deps, mc, name, logging.NewTestLogger(t), plant)
	test.That(t, err, test.ShouldBeNil)
	return m.(*Motor), plant
}

func TestValidate(t *testing.T) {
	t.Run("sim", func(t *testing.T) {
		var cfg Config
		err := json.Unmarshal([]byte(`{"hal": "sim", "max_rpm": 500, "params": {"i_maximal": 20}}`), &cfg)
		test.That(t, err, test.ShouldBeNil)
		deps, _, err := cfg.Validate("")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, deps, test.ShouldBeEmpty)
		test.That(t, cfg.Params["i_maximal"], test.ShouldEqual, 20.0)
	})

	t.Run("missing hal", func(t *testing.T) {
		_, _, err := (&Config{}).Validate("motor")
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "hal")
	})

	t.Run("unknown hal", func(t *testing.T) {
		_, _, err := (&Config{HAL: "stm32"}).Validate("motor")
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "stm32")
	})

	t.Run("enable pin needs a board", func(t *testing.T) {
		cfg := Config{HAL: HALSim, Pins: PinConfig{EnablePinLow: "37"}}
		_, _, err := cfg.Validate("motor")
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "board")

		cfg.BoardName = "pi"
		deps, _, err := cfg.Validate("motor")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, deps, test.ShouldResemble, []string{"pi"})
	})

	t.Run("telemetry", func(t *testing.T) {
		cfg := Config{HAL: HALSim, Telemetry: &TelemetryConfig{}}
		_, _, err := cfg.Validate("motor")
		test.That(t, err, test.ShouldNotBeNil)

		cfg.Telemetry.CANInterface = "can0"
		cfg.Telemetry.Registers = make([]string, 11)
		_, _, err = cfg.Validate("motor")
		test.That(t, err, test.ShouldBeError, "telemetry can follow at most 10 registers, got 11")

		cfg.Telemetry.Registers = []string{"lu_wS_rpm", "fb_iA"}
		_, _, err = cfg.Validate("motor")
		test.That(t, err, test.ShouldBeNil)
	})
}

func TestFOCMotor(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	m, _ := newTestMotor(t, nil, Config{HAL: HALSim, MaxRPM: maxRpm}, sim.DefaultParams())
	defer func() {
		test.That(t, m.Close(context.Background()), test.ShouldBeNil)
	}()

	t.Run("motor supports position reporting", func(t *testing.T) {
		properties, err := m.Properties(ctx, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, properties.PositionReporting, test.ShouldBeTrue)
	})

	t.Run("get and set registers", func(t *testing.T) {
		out, err := m.DoCommand(ctx, map[string]interface{}{
			Command:  Get,
			NamesVal: []interface{}{"const_Zp", "s_maximal_rpm"},
		})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out["const_Zp"], test.ShouldEqual, 7.0)
		test.That(t, out["s_maximal_rpm"], test.ShouldAlmostEqual, maxRpm, 1e-9)

		_, err = m.DoCommand(ctx, map[string]interface{}{
			Command:   Set,
			ParamsVal: map[string]interface{}{"i_gain_P": 0.3},
		})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, m.machine.Config().IGainP, test.ShouldEqual, 0.3)

		_, err = m.DoCommand(ctx, map[string]interface{}{
			Command:   Set,
			ParamsVal: map[string]interface{}{"lu_wS": 1},
		})
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "read-only")

		_, err = m.DoCommand(ctx, map[string]interface{}{Command: Get})
		test.That(t, err, test.ShouldBeError, errNeedNames)
	})

	t.Run("dump and status", func(t *testing.T) {
		out, err := m.DoCommand(ctx, map[string]interface{}{Command: Dump})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out["const_R"], test.ShouldEqual, 0.1)

		out, err = m.DoCommand(ctx, map[string]interface{}{Command: Status})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out["state"], test.ShouldEqual, "idle")
		test.That(t, out["fail_reason"], test.ShouldEqual, "ok")
	})

	t.Run("zero drift", func(t *testing.T) {
		out, err := m.DoCommand(ctx, map[string]interface{}{Command: FSM, StateVal: "zero_drift"})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out["fail_reason"], test.ShouldEqual, "ok")
		test.That(t, out["ad_IA0"], test.ShouldAlmostEqual, 0, 1e-6)

		_, err = m.DoCommand(ctx, map[string]interface{}{Command: FSM, StateVal: "spin"})
		test.That(t, err, test.ShouldNotBeNil)

		_, err = m.transition(ctx, pm.State(99))
		test.That(t, err, test.ShouldBeError, "no such state: 99")
		test.That(t, m.machine.Snapshot().State, test.ShouldEqual, pm.StateIdle)
	})

	t.Run("std voltage", func(t *testing.T) {
		out, err := m.DoCommand(ctx, map[string]interface{}{Command: STDVoltage, Value: 30})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out["fail_reason"], test.ShouldEqual, "ok")
		test.That(t, out["ad_US1"], test.ShouldAlmostEqual, 1.25, 1e-9)

		_, err = m.DoCommand(ctx, map[string]interface{}{Command: STDVoltage})
		test.That(t, err, test.ShouldBeError, errNeedValue)

		_, err = m.DoCommand(ctx, map[string]interface{}{Command: STDVoltage, Value: 24})
		test.That(t, err, test.ShouldBeNil)
	})

	t.Run("zero position", func(t *testing.T) {
		test.That(t, m.ResetZeroPosition(ctx, 2, nil), test.ShouldBeNil)
		pos, err := m.Position(ctx, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pos, test.ShouldAlmostEqual, -2, 1e-9)
	})

	t.Run("motor SetPower testing", func(t *testing.T) {
		test.That(t, m.SetPower(ctx, 0.2, nil), test.ShouldBeNil)
		on, pct, err := m.IsPowered(ctx, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, on, test.ShouldBeTrue)
		test.That(t, pct, test.ShouldEqual, 0.2)

		c := m.machine.Config()
		test.That(t, c.Drive, test.ShouldEqual, pm.DriveCurrent)
		test.That(t, c.ISetpointQ, test.ShouldAlmostEqual, 0.2*c.IMaximal, 1e-9)

		_, err = m.DoCommand(ctx, map[string]interface{}{Command: ProbeBase})
		test.That(t, err, test.ShouldBeError, errRunning)

		test.That(t, m.Stop(ctx, nil), test.ShouldBeNil)
		on, pct, err = m.IsPowered(ctx, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, on, test.ShouldBeFalse)
		test.That(t, pct, test.ShouldEqual, 0.0)
	})

	t.Run("motor SetRPM testing", func(t *testing.T) {
		test.That(t, m.SetRPM(ctx, -250, nil), test.ShouldBeNil)
		c := m.machine.Config()
		test.That(t, c.Drive, test.ShouldEqual, pm.DriveSpeed)
		test.That(t, c.SSetpoint, test.ShouldAlmostEqual, -250*math.Pi*7/30, 1e-9)
		_, pct, err := m.IsPowered(ctx, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pct, test.ShouldEqual, -0.5)

		test.That(t, m.SetRPM(ctx, 2*maxRpm, nil), test.ShouldBeNil)
		test.That(t, m.machine.Config().SSetpoint, test.ShouldAlmostEqual, maxRpm*math.Pi*7/30, 1e-9)
		test.That(t, m.Stop(ctx, nil), test.ShouldBeNil)
	})

	t.Run("GoFor needs a speed", func(t *testing.T) {
		test.That(t, m.GoFor(ctx, 0, 1, nil), test.ShouldBeError, motor.NewZeroRPMError())
	})

	t.Run("GoTo is cancelled", func(t *testing.T) {
		short, done := context.WithTimeout(ctx, 200*time.Millisecond)
		defer done()
		err := m.GoTo(short, 100, 1000, nil)
		test.That(t, err, test.ShouldNotBeNil)
		c := m.machine.Config()
		test.That(t, c.Drive, test.ShouldEqual, pm.DrivePosition)
		test.That(t, c.SMaximal, test.ShouldAlmostEqual, maxRpm*math.Pi*7/30, 1e-9)
		test.That(t, m.Stop(ctx, nil), test.ShouldBeNil)
	})

	t.Run("unknown command", func(t *testing.T) {
		_, err := m.DoCommand(ctx, map[string]interface{}{Command: "jog"})
		test.That(t, err, test.ShouldBeError, "no such command: jog")
		_, err = m.DoCommand(ctx, map[string]interface{}{})
		test.That(t, err, test.ShouldBeError, "missing command value")
	})
}

func TestSelfAdjust(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	p := sim.DefaultParams()
	p.Locked = true
	m, _ := newTestMotor(t, nil, Config{HAL: HALSim, MaxRPM: maxRpm}, p)
	defer func() {
		test.That(t, m.Close(context.Background()), test.ShouldBeNil)
	}()

	out, err := m.DoCommand(ctx, map[string]interface{}{Command: SelfAdjust})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out["fail_reason"], test.ShouldEqual, "ok")
	test.That(t, out["ad_IB1"], test.ShouldAlmostEqual, 1, 0.05)
}

func TestEnablePin(t *testing.T) {
	var mu sync.Mutex
	var levels []bool
	pin := &inject.GPIOPin{}
	pin.SetFunc = func(ctx context.Context, high bool, extra map[string]interface{}) error {
		mu.Lock()
		defer mu.Unlock()
		levels = append(levels, high)
		return nil
	}
	b := inject.NewBoard("pi")
	b.GPIOPinByNameFunc = func(name string) (board.GPIOPin, error) {
		return pin, nil
	}
	deps := resource.Dependencies{board.Named("pi"): b}

	m, _ := newTestMotor(t, deps, Config{
		HAL:       HALSim,
		BoardName: "pi",
		Pins:      PinConfig{EnablePinLow: "37"},
	}, sim.DefaultParams())
	test.That(t, m.maxRPM, test.ShouldEqual, 3000.0)
	test.That(t, m.Close(context.Background()), test.ShouldBeNil)

	mu.Lock()
	defer mu.Unlock()
	test.That(t, levels, test.ShouldResemble, []bool{false, true})
}

func TestBadParams(t *testing.T) {
	plant, err := sim.New(sim.DefaultParams())
	test.That(t, err, test.ShouldBeNil)
	name := resource.NewName(motor.API, "motor1")
	logger := logging.NewTestLogger(t)

	_, err = makeMotor(context.Background(), nil, Config{
		HAL:    HALSim,
		Params: map[string]float64{"const_Zp": 0},
	}, name, logger, plant)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "const_Zp")

	_, err = makeMotor(context.Background(), nil, Config{
		HAL:       HALSim,
		Telemetry: &TelemetryConfig{SerialPath: "/dev/null", Registers: []string{"nope"}},
	}, name, logger, plant)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no such register: nope")
}
