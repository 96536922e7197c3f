// Package foc implements a sensorless field-oriented motor controller as a
// motor component.
package foc

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/board"
	"go.viam.com/rdk/components/motor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/operation"
	"go.viam.com/rdk/resource"

	"github.com/viam-modules/phobia/hal"
	"github.com/viam-modules/phobia/pm"
	"github.com/viam-modules/phobia/regfile"
	"github.com/viam-modules/phobia/sim"
	"github.com/viam-modules/phobia/telemetry"
)

// PinConfig defines the mapping of where motor are wired.
type PinConfig struct {
	EnablePinLow string `json:"en_low,omitempty"`
}

// TelemetryConfig selects where the linked registers are streamed.
type TelemetryConfig struct {
	CANInterface string   `json:"can_interface,omitempty"`
	CANBaseID    uint32   `json:"can_base_id,omitempty"`
	SerialPath   string   `json:"serial_path,omitempty"`
	SerialBaud   int      `json:"serial_baud,omitempty"`
	PeriodMs     int      `json:"period_ms,omitempty"`
	Registers    []string `json:"registers,omitempty"`
}

func (tc *TelemetryConfig) validate(path string) error {
	if tc == nil {
		return nil
	}
	if tc.CANInterface == "" && tc.SerialPath == "" {
		return resource.NewConfigValidationError(path, errors.New("telemetry needs can_interface or serial_path"))
	}
	if len(tc.Registers) > regfile.LinkSlots {
		return errors.Errorf("telemetry can follow at most %d registers, got %d", regfile.LinkSlots, len(tc.Registers))
	}
	if tc.PeriodMs < 0 || tc.SerialBaud < 0 {
		return errors.New("telemetry period_ms and serial_baud must not be negative")
	}
	return nil
}

// Config describes the configuration of a motor.
type Config struct {
	Pins      PinConfig          `json:"pins,omitempty"`
	BoardName string             `json:"board,omitempty"` // used solely for the PinConfig
	HAL       string             `json:"hal"`
	PWMFreqHz float64            `json:"pwm_freq_hz,omitempty"`
	MaxRPM    float64            `json:"max_rpm,omitempty"`
	Params    map[string]float64 `json:"params,omitempty"`
	Telemetry *TelemetryConfig   `json:"telemetry,omitempty"`
}

// Model for the phobia field-oriented motor controller.
var Model = resource.NewModel("viam", "phobia", "foc")

// HALSim selects the simulated motor and bridge.
const HALSim = "sim"

// Validate ensures all parts of the config are valid.
func (config *Config) Validate(path string) ([]string, []string, error) {
	var deps []string
	if config.Pins.EnablePinLow != "" {
		if config.BoardName == "" {
			return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "board")
		}
		deps = append(deps, config.BoardName)
	}
	if config.HAL == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "hal")
	}
	if config.HAL != HALSim {
		return nil, nil, errors.Errorf("unsupported hal %q, only %q is available", config.HAL, HALSim)
	}
	if config.PWMFreqHz < 0 || config.MaxRPM < 0 {
		return nil, nil, errors.New("pwm_freq_hz and max_rpm must not be negative")
	}
	if err := config.Telemetry.validate(path); err != nil {
		return nil, nil, err
	}
	return deps, nil, nil
}

func init() {
	resource.RegisterComponent(motor.API, Model, resource.Registration[motor.Motor, *Config]{
		Constructor: newMotor,
	})
}

// A Motor is a permanent magnet motor driven by the control engine through a
// bridge HAL.
type Motor struct {
	resource.Named
	resource.AlwaysRebuild

	machine  *pm.Machine
	regs     *regfile.File
	driver   hal.Driver
	runner   *hal.Runner
	recorder *telemetry.Recorder
	enLowPin board.GPIOPin

	maxRPM    float64
	logger    logging.Logger
	opMgr     *operation.SingleOperationManager
	motorName string

	mu       sync.Mutex
	powerPct float64
	zero     float64

	cancel func()
	wg     sync.WaitGroup
}

// nominal is implemented by drivers that know the true motor constants.
type nominal interface {
	Nominal(c *pm.Config)
}

// newMotor returns a motor on the configured HAL.
func newMotor(ctx context.Context, deps resource.Dependencies, c resource.Config, logger logging.Logger,
) (motor.Motor, error) {
	conf, err := resource.NativeConfig[*Config](c)
	if err != nil {
		return nil, err
	}
	p := sim.DefaultParams()
	if conf.PWMFreqHz > 0 {
		p.FreqHz = conf.PWMFreqHz
	}
	plant, err := sim.New(p)
	if err != nil {
		return nil, err
	}
	return makeMotor(ctx, deps, *conf, c.ResourceName(), logger, plant)
}

// makeMotor returns a motor on driver. It is separate from newMotor, above, so
// a test can inject its own driver.
func makeMotor(ctx context.Context, deps resource.Dependencies, c Config, name resource.Name,
	logger logging.Logger, driver hal.Driver,
) (motor.Motor, error) {
	if c.MaxRPM == 0 {
		logger.CWarn(ctx, "max_rpm not set, setting to 3000 rpm")
		c.MaxRPM = 3000
	}

	carrier := driver.Carrier()
	cfg := pm.DefaultConfig(carrier.FreqHz)
	cfg.DCResolution = carrier.Resolution
	if n, ok := driver.(nominal); ok {
		n.Nominal(&cfg)
	}
	machine, err := pm.NewMachine(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid engine defaults for motor (%s)", name.ShortName())
	}
	regs := regfile.New(machine, logger)
	if err := multierr.Combine(
		regs.SetMany(c.Params),
		regs.Set("s_maximal_rpm", c.MaxRPM),
		regs.Set("s_reverse_rpm", c.MaxRPM),
	); err != nil {
		return nil, errors.Wrapf(err, "error applying params to motor (%s)", name.ShortName())
	}

	m := &Motor{
		Named:     name.AsNamed(),
		machine:   machine,
		regs:      regs,
		driver:    driver,
		runner:    hal.NewRunner(machine, driver, logger),
		maxRPM:    c.MaxRPM,
		logger:    logger,
		opMgr:     operation.NewSingleOperationManager(),
		motorName: name.ShortName(),
	}

	if c.Pins.EnablePinLow != "" {
		b, err := board.FromDependencies(deps, c.BoardName)
		if err != nil {
			return nil, errors.Errorf("%q is not a board", c.BoardName)
		}

		m.enLowPin, err = b.GPIOPinByName(c.Pins.EnablePinLow)
		if err != nil {
			return nil, err
		}
		if err := m.Enable(ctx, true); err != nil {
			return nil, err
		}
	}

	if c.Telemetry != nil {
		m.recorder, err = m.openTelemetry(ctx, c.Telemetry)
		if err != nil {
			return nil, err
		}
	}

	m.start()
	return m, nil
}

func (m *Motor) openTelemetry(ctx context.Context, tc *TelemetryConfig) (*telemetry.Recorder, error) {
	for i, name := range tc.Registers {
		idx, err := m.regs.Index(name)
		if err != nil {
			return nil, errors.Wrap(err, "telemetry")
		}
		if err := m.regs.Set(fmt.Sprintf("tel_reg_ID%d", i), float64(idx)); err != nil {
			return nil, err
		}
	}

	var sinks []telemetry.Sink
	if tc.CANInterface != "" {
		base := tc.CANBaseID
		if base == 0 {
			base = 0x600
		}
		s, err := telemetry.DialCAN(ctx, tc.CANInterface, base)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if tc.SerialPath != "" {
		baud := tc.SerialBaud
		if baud == 0 {
			m.logger.CWarn(ctx, "serial_baud not set, setting to 115200")
			baud = 115200
		}
		s, err := telemetry.OpenSerial(tc.SerialPath, baud)
		if err != nil {
			for _, open := range sinks {
				m.logger.CError(ctx, open.Close())
			}
			return nil, err
		}
		sinks = append(sinks, s)
	}
	period := time.Duration(tc.PeriodMs) * time.Millisecond
	if period == 0 {
		period = 100 * time.Millisecond
	}
	return telemetry.NewRecorder(m.machine, m.regs, period, m.logger, sinks...), nil
}

// mechanical converts an electrical angle to motor revolutions.
func mechanical(snap *pm.Snapshot, angle float64) float64 {
	return angle / (2 * math.Pi * float64(snap.ConstZp))
}

// rpmOf returns the filtered shaft speed.
func rpmOf(snap *pm.Snapshot) float64 {
	return snap.LpfWS * 30 / (math.Pi * float64(snap.ConstZp))
}

// Position gives the current motor position in revolutions.
func (m *Motor) Position(ctx context.Context, extra map[string]interface{}) (float64, error) {
	if err := m.runner.Err(); err != nil {
		return 0, errors.Wrapf(err, "error in Position from motor (%s)", m.motorName)
	}
	snap := m.machine.Snapshot()
	m.mu.Lock()
	defer m.mu.Unlock()
	return mechanical(&snap, snap.Position()) - m.zero, nil
}

// Properties returns the status of optional properties on the motor.
func (m *Motor) Properties(ctx context.Context, extra map[string]interface{}) (motor.Properties, error) {
	return motor.Properties{
		PositionReporting: true,
	}, nil
}

// SetPower commands a Q axis current as a fraction of i_maximal, between -1
// and 1.
func (m *Motor) SetPower(ctx context.Context, powerPct float64, extra map[string]interface{}) error {
	m.opMgr.CancelRunning(ctx)
	powerPct = math.Max(-1, math.Min(1, powerPct))
	if err := m.ensureRunning(ctx); err != nil {
		return errors.Wrapf(err, "error in SetPower from motor (%s)", m.motorName)
	}
	err := multierr.Combine(
		m.regs.Set("config_DRIVE", float64(pm.DriveCurrent)),
		m.regs.Set("i_setpoint_Q_pc", powerPct*100),
	)
	if err != nil {
		return errors.Wrapf(err, "error in SetPower from motor (%s)", m.motorName)
	}
	m.mu.Lock()
	m.powerPct = powerPct
	m.mu.Unlock()
	return nil
}

// SetRPM instructs the motor to move at the specified RPM indefinitely.
func (m *Motor) SetRPM(ctx context.Context, rpm float64, extra map[string]interface{}) error {
	m.opMgr.CancelRunning(ctx)

	warning, err := motor.CheckSpeed(rpm, m.maxRPM)
	if rpm != 0 {
		if warning != "" {
			m.logger.CWarn(ctx, warning)
		}
		if err != nil {
			m.logger.CError(ctx, err)
		}
	}
	return m.doJog(ctx, rpm)
}

func (m *Motor) doJog(ctx context.Context, rpm float64) error {
	rpm = math.Max(-m.maxRPM, math.Min(m.maxRPM, rpm))
	if err := m.ensureRunning(ctx); err != nil {
		return errors.Wrapf(err, "error in SetRPM from motor (%s)", m.motorName)
	}
	err := multierr.Combine(
		m.regs.Set("s_setpoint_rpm", rpm),
		m.regs.Set("config_DRIVE", float64(pm.DriveSpeed)),
	)
	if err != nil {
		return errors.Wrapf(err, "error in SetRPM from motor (%s)", m.motorName)
	}
	m.mu.Lock()
	m.powerPct = rpm / m.maxRPM
	m.mu.Unlock()
	return nil
}

// GoFor turns in the given direction the given number of times at the given speed.
// Both the RPM and the revolutions can be assigned negative values to move in a backwards direction.
// Note: if both are negative the motor will spin in the forward direction.
func (m *Motor) GoFor(ctx context.Context, rpm, rotations float64, extra map[string]interface{}) error {
	warning, err := motor.CheckSpeed(rpm, m.maxRPM)
	if warning != "" {
		m.logger.CWarn(ctx, warning)
	}
	if err != nil {
		return err
	}
	if rotations == 0 {
		return m.SetRPM(ctx, rpm, extra)
	}

	curPos, err := m.Position(ctx, extra)
	if err != nil {
		return errors.Wrapf(err, "error in GoFor from motor (%s)", m.motorName)
	}

	d := 1.0
	if math.Signbit(rotations) != math.Signbit(rpm) {
		d = -1
	}
	target := curPos + math.Abs(rotations)*d
	return m.GoTo(ctx, math.Abs(rpm), target, extra)
}

// GoTo moves to the specified position in terms of (provided in revolutions from home/zero),
// at a specific speed. Regardless of the directionality of the RPM this function will move the
// motor towards the specified target.
func (m *Motor) GoTo(ctx context.Context, rpm, positionRevolutions float64, extra map[string]interface{}) error {
	ctx, done := m.opMgr.New(ctx)
	defer done()

	warning, err := motor.CheckSpeed(rpm, m.maxRPM)
	if warning != "" {
		m.logger.CWarn(ctx, warning)
	}
	if err != nil {
		m.logger.CError(ctx, err)
	}

	if err := m.ensureRunning(ctx); err != nil {
		return errors.Wrapf(err, "error in GoTo from motor (%s)", m.motorName)
	}

	limit := math.Min(math.Abs(rpm), m.maxRPM)
	if limit == 0 {
		limit = m.maxRPM
	}
	m.mu.Lock()
	zero := m.zero
	m.mu.Unlock()
	snap := m.machine.Snapshot()
	target := (positionRevolutions + zero) * 2 * math.Pi * float64(snap.ConstZp)

	err = multierr.Combine(
		m.regs.Set("s_maximal_rpm", limit),
		m.regs.Set("s_reverse_rpm", limit),
		m.regs.Set("x_setpoint_F", target),
		m.regs.Set("config_DRIVE", float64(pm.DrivePosition)),
	)
	defer func() {
		if err := multierr.Combine(
			m.regs.Set("s_maximal_rpm", m.maxRPM),
			m.regs.Set("s_reverse_rpm", m.maxRPM),
		); err != nil {
			m.logger.CError(ctx, err)
		}
	}()
	if err != nil {
		return errors.Wrapf(err, "error in GoTo from motor (%s)", m.motorName)
	}
	m.mu.Lock()
	m.powerPct = limit / m.maxRPM
	m.mu.Unlock()

	return m.opMgr.WaitForSuccess(
		ctx,
		time.Millisecond*10,
		m.atTarget,
	)
}

// atTarget reports whether the rotor has settled within x_tolerance of the
// position setpoint.
func (m *Motor) atTarget(ctx context.Context) (bool, error) {
	snap := m.machine.Snapshot()
	if !snap.Running() {
		if err := snap.Fail.Err(); err != nil {
			return false, errors.Wrapf(err, "error in GoTo from motor (%s)", m.motorName)
		}
		return false, errors.Errorf("motor (%s) stopped before reaching its target", m.motorName)
	}
	e := snap.XSetpointA + 2*math.Pi*float64(snap.XSetpointRevol) - snap.Position()
	return math.Abs(e) <= snap.XTolerance && math.Abs(rpmOf(&snap)) < stillRPM, nil
}

// stillRPM is the shaft speed below which the motor counts as stopped.
const stillRPM = 1

// IsPowered returns true if the bridge is driving the motor.
func (m *Motor) IsPowered(ctx context.Context, extra map[string]interface{}) (bool, float64, error) {
	snap := m.machine.Snapshot()
	m.mu.Lock()
	defer m.mu.Unlock()
	if !snap.Running() || snap.Mode == pm.LUDetached {
		return false, 0, nil
	}
	return true, m.powerPct, nil
}

// IsStopped returns true if the motor is NOT moving.
func (m *Motor) IsStopped(ctx context.Context) (bool, error) {
	if err := m.runner.Err(); err != nil {
		return false, errors.Wrapf(err, "error in IsStopped from motor (%s)", m.motorName)
	}
	snap := m.machine.Snapshot()
	return !snap.Running() || math.Abs(rpmOf(&snap)) < stillRPM, nil
}

// IsMoving returns true if the motor is currently moving.
func (m *Motor) IsMoving(ctx context.Context) (bool, error) {
	stop, err := m.IsStopped(ctx)
	return !stop, err
}

// Enable pulls down the hardware enable pin, activating the power stage.
func (m *Motor) Enable(ctx context.Context, turnOn bool) error {
	if m.enLowPin == nil {
		return errors.New("no enable pin configured")
	}
	return m.enLowPin.Set(ctx, !turnOn, nil)
}

// Stop shuts the estimator down and disables the bridge.
func (m *Motor) Stop(ctx context.Context, extra map[string]interface{}) error {
	m.opMgr.CancelRunning(ctx)
	m.mu.Lock()
	m.powerPct = 0
	m.mu.Unlock()
	if !m.machine.Snapshot().Running() {
		return nil
	}
	if _, err := m.transition(ctx, pm.StateLUShutdown); err != nil {
		return errors.Wrapf(err, "error in Stop from motor (%s)", m.motorName)
	}
	return nil
}

// ResetZeroPosition sets the current position of the motor specified by the request
// (adjusted by a given offset) to be its new zero position.
func (m *Motor) ResetZeroPosition(ctx context.Context, offset float64, extra map[string]interface{}) error {
	moving, err := m.IsMoving(ctx)
	if err != nil {
		return errors.Wrapf(err, "error in ResetZeroPosition from motor (%s)", m.motorName)
	} else if moving {
		return errors.Errorf("can't zero motor (%s) while moving", m.motorName)
	}
	snap := m.machine.Snapshot()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zero = mechanical(&snap, snap.Position()) + offset
	return nil
}

// Close stops the engine and releases the HAL.
func (m *Motor) Close(ctx context.Context) error {
	m.opMgr.CancelRunning(ctx)
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	var err error
	if m.recorder != nil {
		err = multierr.Combine(err, m.recorder.Close())
	}
	err = multierr.Combine(err, m.runner.Close(), m.driver.Close())
	if m.enLowPin != nil {
		err = multierr.Combine(err, m.Enable(ctx, false))
	}
	return err
}
