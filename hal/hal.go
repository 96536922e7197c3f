// Package hal defines the boundary between the control engine and the power
// stage, and runs the engine at the carrier rate.
package hal

import "github.com/viam-modules/phobia/pm"

// Carrier describes the PWM carrier of a power stage.
type Carrier struct {
	FreqHz     float64
	Resolution int
}

// Driver is a power stage. Sample returns the raw measurements of the last
// carrier period and Apply sets the bridge command for the next one.
type Driver interface {
	Carrier() Carrier
	Sample() pm.Sample
	Apply(out pm.Output) error
	Close() error
}
