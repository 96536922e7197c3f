package pm

import (
	"math"

	"github.com/golang/geo/r2"
)

const sqrt3 = 1.7320508075688772

// clarke maps two phase quantities into the stationary frame. The third phase
// is implied by the sum being zero.
func clarke(a, b float64) r2.Point {
	return r2.Point{X: a, Y: (a + 2*b) / sqrt3}
}

// terminal maps three phase voltages into the stationary frame.
func terminal(a, b, c float64) r2.Point {
	return r2.Point{X: (2*a - b - c) / 3, Y: (b - c) / sqrt3}
}

// park rotates a stationary vector into the frame oriented by the unit
// vector F.
func park(v, F r2.Point) r2.Point {
	return r2.Point{X: F.Dot(v), Y: F.Cross(v)}
}

// unpark is the inverse of park.
func unpark(dq, F r2.Point) r2.Point {
	return r2.Point{X: F.X*dq.X - F.Y*dq.Y, Y: F.Y*dq.X + F.X*dq.Y}
}

func rotate(F r2.Point, angle float64) r2.Point {
	s, c := math.Sincos(angle)
	return r2.Point{X: F.X*c - F.Y*s, Y: F.X*s + F.Y*c}
}

// renorm projects F back onto the unit circle. A degenerate vector resets the
// orientation to zero angle.
func renorm(F r2.Point) r2.Point {
	n := F.Norm()
	if !(n > 1e-9) || math.IsInf(n, 0) {
		return r2.Point{X: 1}
	}
	return F.Mul(1 / n)
}

func unit(angle float64) r2.Point {
	s, c := math.Sincos(angle)
	return r2.Point{X: c, Y: s}
}

func angleOf(F r2.Point) float64 {
	return math.Atan2(F.Y, F.X)
}

const wrapEps = 1e-9

// Wrap reduces an angle into (-pi, pi] and returns the whole turns removed.
// Values within rounding distance of -pi are taken as +pi.
func Wrap(angle float64) (float64, int) {
	revol := math.Round(angle / (2 * math.Pi))
	a := angle - revol*2*math.Pi
	if a <= -math.Pi+wrapEps {
		a += 2 * math.Pi
		revol--
	}
	if a > math.Pi+wrapEps {
		a -= 2 * math.Pi
		revol++
	}
	return a, int(revol)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// slew moves x toward target by at most step.
func slew(x, target, step float64) float64 {
	return clamp(target, x-step, x+step)
}

func finite(v ...float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

var unitX = r2.Point{X: 1}
