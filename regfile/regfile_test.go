package regfile

import (
	"math"
	"testing"

	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"github.com/viam-modules/phobia/pm"
)

func newTestFile(t *testing.T) (*File, *pm.Machine) {
	t.Helper()
	cfg := pm.DefaultConfig(30000)
	cfg.ConstZp = 7
	cfg.ConstDdT = 0.5
	m, err := pm.NewMachine(cfg)
	test.That(t, err, test.ShouldBeNil)
	return New(m, logging.NewTestLogger(t)), m
}

func TestTableIsConsistent(t *testing.T) {
	f, _ := newTestFile(t)
	seen := map[string]bool{}
	for i := 0; i < f.Len(); i++ {
		e, err := f.Entry(i)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, seen[e.Name], test.ShouldBeFalse)
		seen[e.Name] = true

		switch {
		case e.Transform == Linked:
		case e.Mode == ReadOnly:
			test.That(t, e.link.get, test.ShouldNotBeNil)
		case e.Transform == Request:
			test.That(t, e.Mode, test.ShouldEqual, Writable)
		default:
			test.That(t, e.link.set, test.ShouldNotBeNil)
		}
	}
	_, err := f.Entry(f.Len())
	test.That(t, err, test.ShouldNotBeNil)
	_, err = f.Index("no_such_register")
	test.That(t, err, test.ShouldBeError, "no such register: no_such_register")
}

func TestRoundTrip(t *testing.T) {
	f, m := newTestFile(t)

	t.Run("kv", func(t *testing.T) {
		test.That(t, f.Set("const_E_kv", 270), test.ShouldBeNil)
		kv, err := f.Get("const_E_kv")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, kv, test.ShouldAlmostEqual, 270, 1e-9)
		test.That(t, m.Config().ConstE, test.ShouldAlmostEqual, kvRatio/(270*7), 1e-12)
	})

	t.Run("rpm", func(t *testing.T) {
		test.That(t, f.Set("s_setpoint_rpm", 1500), test.ShouldBeNil)
		w, err := f.Get("s_setpoint")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, w, test.ShouldAlmostEqual, 1500*math.Pi*7/30, 1e-9)
		r, err := f.Get("s_setpoint_rpm")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, r, test.ShouldAlmostEqual, 1500, 1e-9)
	})

	t.Run("kmh", func(t *testing.T) {
		test.That(t, f.Set("s_setpoint_kmh", 25), test.ShouldBeNil)
		v, err := f.Get("s_setpoint_kmh")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, v, test.ShouldAlmostEqual, 25, 1e-9)
	})

	t.Run("degree", func(t *testing.T) {
		test.That(t, f.Set("hall_AT2", 90), test.ShouldBeNil)
		test.That(t, m.Config().HallAT[2], test.ShouldAlmostEqual, math.Pi/2, 1e-12)
		v, err := f.Get("hall_AT2")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, v, test.ShouldAlmostEqual, 90, 1e-9)
	})

	t.Run("flags and enums", func(t *testing.T) {
		test.That(t, f.Set("config_HFI", 1), test.ShouldBeNil)
		test.That(t, m.Config().HFI, test.ShouldBeTrue)
		test.That(t, f.Set("config_DRIVE", float64(pm.DrivePosition)), test.ShouldBeNil)
		test.That(t, m.Config().Drive, test.ShouldEqual, pm.DrivePosition)
		test.That(t, f.Set("config_DRIVE", 3), test.ShouldNotBeNil)
	})
}

func TestSetpointWrap(t *testing.T) {
	f, m := newTestFile(t)
	test.That(t, f.Set("x_setpoint_F", 3*math.Pi), test.ShouldBeNil)

	c := m.Config()
	test.That(t, c.XSetpointA, test.ShouldBeGreaterThan, -math.Pi)
	test.That(t, c.XSetpointA, test.ShouldBeLessThanOrEqualTo, math.Pi+1e-9)
	test.That(t, c.XSetpointRevol, test.ShouldEqual, 1)

	v, err := f.Get("x_setpoint_F")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldAlmostEqual, 3*math.Pi, 1e-9)

	test.That(t, f.Set("x_setpoint_F_g", -90), test.ShouldBeNil)
	v, err = f.Get("x_setpoint_F_g")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldAlmostEqual, -90, 1e-9)
	test.That(t, m.Config().XSetpointRevol, test.ShouldEqual, -2)
}

func TestReverseCurrentClamp(t *testing.T) {
	f, m := newTestFile(t)
	test.That(t, f.Set("i_maximal", 40), test.ShouldBeNil)

	test.That(t, f.Set("i_reverse", 5), test.ShouldBeNil)
	test.That(t, m.Config().IReverse, test.ShouldEqual, -40.0)

	test.That(t, f.Set("i_reverse", -12), test.ShouldBeNil)
	test.That(t, m.Config().IReverse, test.ShouldEqual, -12.0)
}

func TestReverseVoltage(t *testing.T) {
	f, m := newTestFile(t)
	v, err := f.Get("v_reverse")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, m.Config().VMaximal)

	test.That(t, f.Set("v_reverse", 12), test.ShouldBeNil)
	test.That(t, m.Config().VReverse, test.ShouldEqual, 12.0)

	err = f.Set("v_reverse", -1)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "out of range")
}

func TestPercentAliases(t *testing.T) {
	f, m := newTestFile(t)
	test.That(t, f.Set("s_maximal", 2000), test.ShouldBeNil)
	test.That(t, f.Set("s_setpoint_pc", 25), test.ShouldBeNil)
	test.That(t, m.Config().SSetpoint, test.ShouldAlmostEqual, 500, 1e-9)

	test.That(t, f.Set("i_maximal", 20), test.ShouldBeNil)
	test.That(t, f.Set("i_setpoint_Q_pc", -50), test.ShouldBeNil)
	test.That(t, m.Config().ISetpointQ, test.ShouldAlmostEqual, -10, 1e-9)
	v, err := f.Get("i_setpoint_Q_pc")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldAlmostEqual, -50, 1e-9)
}

func TestRejectedWrites(t *testing.T) {
	f, m := newTestFile(t)
	before := m.Config()

	err := f.Set("lu_wS", 10)
	test.That(t, err, test.ShouldBeError, "register lu_wS is read-only")

	err = f.Set("const_Zp", 0)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "out of range")

	err = f.Set("const_Ld", -1)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "inductance")

	err = f.Set("const_E_kv", 0)
	test.That(t, err, test.ShouldNotBeNil)

	err = f.Set("i_gain_P", math.NaN())
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, m.Config(), test.ShouldResemble, before)
}

func TestSetMany(t *testing.T) {
	f, m := newTestFile(t)
	err := f.SetMany(map[string]float64{
		"i_gain_P": 0.5,
		"lu_wS":    1,
		"const_R":  0.2,
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "lu_wS")
	test.That(t, m.Config().IGainP, test.ShouldEqual, 0.5)
	test.That(t, m.Config().ConstR, test.ShouldEqual, 0.2)
}

func TestRequestRegister(t *testing.T) {
	f, m := newTestFile(t)
	test.That(t, f.Set("fsm_req", float64(pm.StateZeroDrift)), test.ShouldBeNil)
	test.That(t, m.Pending(), test.ShouldBeTrue)

	err := f.Set("fsm_req", float64(pm.StateZeroDrift))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "pending")

	test.That(t, f.Set("fsm_req", -1), test.ShouldNotBeNil)
}

func TestLinkedRegisters(t *testing.T) {
	f, _ := newTestFile(t)
	test.That(t, f.Linked(), test.ShouldBeEmpty)

	idx, err := f.Index("lu_wS_rpm")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Set("tel_reg_ID3", float64(idx)), test.ShouldBeNil)
	test.That(t, f.Linked(), test.ShouldResemble, []int{idx})

	v, err := f.Get("tel_reg_ID3")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, float64(idx))

	test.That(t, f.Set("tel_reg_ID3", float64(f.Len())), test.ShouldNotBeNil)
	test.That(t, f.Set("tel_reg_ID3", -1), test.ShouldBeNil)
	test.That(t, f.Linked(), test.ShouldBeEmpty)
}

func TestDump(t *testing.T) {
	f, _ := newTestFile(t)
	d := f.Dump()
	test.That(t, d["const_Zp"], test.ShouldEqual, 7.0)
	test.That(t, d["tel_reg_ID0"], test.ShouldEqual, -1.0)
	_, ok := d["lu_wS"]
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = d["s_setpoint"]
	test.That(t, ok, test.ShouldBeFalse)
}
