package fusion

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Sensor identifies the type of sensor which produced a measurement
type Sensor int

const (
	// Position is a cartesian position sensor measuring [px, py]
	Position Sensor = iota + 1
	// Range is a polar sensor measuring [range, bearing, range rate]
	Range
)

// Dim returns the length of measurement vector produced by the sensor.
// It returns 0 for unknown sensors.
func (s Sensor) Dim() int {
	switch s {
	case Position:
		return 2
	case Range:
		return 3
	}

	return 0
}

// String implements the Stringer interface.
func (s Sensor) String() string {
	switch s {
	case Position:
		return "position"
	case Range:
		return "range"
	}

	return fmt.Sprintf("Sensor(%d)", int(s))
}

// Measurement is a single sensor reading
type Measurement struct {
	// Sensor is the sensor which produced the reading
	Sensor Sensor
	// Values contains raw measurement values
	Values mat.Vector
	// Timestamp is measurement time in microseconds
	Timestamp int64
}

// Filter is a dynamical system filter which ingests a time-ordered stream of measurements.
type Filter interface {
	// Process advances the filter to the measurement time and corrects its estimate
	Process(*Measurement) (Estimate, error)
}

// Propagator propagates internal state of the system to the next step
type Propagator interface {
	// Propagate propagates state x disturbed by process noise q by dt seconds
	Propagate(x, q mat.Vector, dt float64) (mat.Vector, error)
	// Residual stores normalized difference a - b of two states in dst
	Residual(dst *mat.VecDense, a, b mat.Vector)
	// Dims returns state and process noise dimensions
	Dims() (nx, nq int)
}

// Observer observes external state (output) of the system
type Observer interface {
	// Observe maps internal state x onto measurement space
	Observe(x mat.Vector) (mat.Vector, error)
	// Residual stores normalized difference a - b of two measurements in dst
	Residual(dst *mat.VecDense, a, b mat.Vector)
	// NoiseCov returns measurement noise covariance
	NoiseCov() mat.Symmetric
	// Dims returns state and measurement dimensions
	Dims() (nx, nz int)
}

// Estimate is dynamical system filter estimate
type Estimate interface {
	// Val returns estimate value
	Val() mat.Vector
	// Cov returns estimate covariance
	Cov() mat.Symmetric
}

// Noise is dynamical system noise
type Noise interface {
	// Mean returns noise mean
	Mean() []float64
	// Cov returns covariance matrix of the noise
	Cov() mat.Symmetric
	// Sample returns a sample of the noise
	Sample() mat.Vector
	// Reset resets the noise
	Reset() error
}
