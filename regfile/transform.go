package regfile

import (
	"math"

	"github.com/viam-modules/phobia/pm"
)

// Transform is the presentation of an entry relative to its base value.
type Transform int

// Transforms.
const (
	None Transform = iota
	// RPM presents electrical rad/s as mechanical revolutions per minute.
	RPM
	// KMH presents electrical rad/s as wheel speed.
	KMH
	// Kv presents the flux linkage as rpm per volt.
	Kv
	// SpeedPercent presents a speed as a percentage of s_maximal.
	SpeedPercent
	// CurrentPercent presents a current as a percentage of i_maximal.
	CurrentPercent
	// Degree presents radians as degrees.
	Degree
	// SetpointAngle is the position setpoint in electrical radians including
	// whole turns.
	SetpointAngle
	// SetpointDegree is the position setpoint in mechanical degrees.
	SetpointDegree
	// Kilo presents the base value divided by 1000.
	Kilo
	// ReverseCurrent stores a positive write as the negative of i_maximal.
	ReverseCurrent
	// Request writes the lifecycle request slot.
	Request
	// Linked holds the index of another register.
	Linked
)

// kvRatio converts flux linkage in Wb to rpm/V.
const kvRatio = 5.513289

var transformNames = [...]string{
	None:           "none",
	RPM:            "rpm",
	KMH:            "km/h",
	Kv:             "kv",
	SpeedPercent:   "speed percent",
	CurrentPercent: "current percent",
	Degree:         "degree",
	SetpointAngle:  "setpoint angle",
	SetpointDegree: "setpoint degree",
	Kilo:           "kilo",
	ReverseCurrent: "reverse current",
	Request:        "request",
	Linked:         "linked",
}

func (t Transform) String() string {
	if t >= 0 && int(t) < len(transformNames) {
		return transformNames[t]
	}
	return "unknown"
}

func rpm(w float64, c *pm.Config) float64 {
	return w * 30 / (math.Pi * float64(c.ConstZp))
}

func fromRPM(r float64, c *pm.Config) float64 {
	return r * math.Pi * float64(c.ConstZp) / 30
}

// toUser converts a base value into the presented unit.
func (t Transform) toUser(v float64, c *pm.Config) float64 {
	switch t {
	case None, SetpointAngle, ReverseCurrent, Request, Linked:
		return v
	case RPM:
		return rpm(v, c)
	case KMH:
		return rpm(v, c) * math.Pi * c.ConstDdT * 0.06
	case Kv:
		return kvRatio / (v * float64(c.ConstZp))
	case SpeedPercent:
		return v * 100 / c.SMaximal
	case CurrentPercent:
		return v * 100 / c.IMaximal
	case Degree:
		return v * 180 / math.Pi
	case SetpointDegree:
		return v * 180 / math.Pi / float64(c.ConstZp)
	case Kilo:
		return v / 1000
	}
	return v
}

// fromUser converts a presented value into the base unit, using the
// configuration being written.
func (t Transform) fromUser(v float64, c *pm.Config) float64 {
	switch t {
	case None, SetpointAngle, Request, Linked:
		return v
	case RPM:
		return fromRPM(v, c)
	case KMH:
		return fromRPM(v/(math.Pi*c.ConstDdT*0.06), c)
	case Kv:
		return kvRatio / (v * float64(c.ConstZp))
	case SpeedPercent:
		return v * c.SMaximal / 100
	case CurrentPercent:
		return v * c.IMaximal / 100
	case Degree:
		return v * math.Pi / 180
	case SetpointDegree:
		return v * math.Pi / 180 * float64(c.ConstZp)
	case Kilo:
		return v * 1000
	case ReverseCurrent:
		if v > 0 {
			return -c.IMaximal
		}
		return v
	}
	return v
}
