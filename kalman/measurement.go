package kalman

import (
	"fmt"
	"math"

	fusion "github.com/milosgajdos/go-fusion"
	"github.com/milosgajdos/go-fusion/model"
	"gonum.org/v1/gonum/mat"
)

// Validate checks measurement m and returns error if it can't be processed.
func Validate(m *fusion.Measurement) error {
	if m == nil {
		return fmt.Errorf("nil measurement: %w", ErrInvalidMeasurement)
	}

	if m.Sensor.Dim() == 0 {
		return fmt.Errorf("%v: %w", m.Sensor, ErrUnknownSensor)
	}

	if m.Values == nil || m.Values.Len() != m.Sensor.Dim() {
		return fmt.Errorf("%v measurement dimension: %w", m.Sensor, ErrInvalidMeasurement)
	}

	for i := 0; i < m.Values.Len(); i++ {
		if v := m.Values.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%v measurement value %v: %w", m.Sensor, v, ErrInvalidMeasurement)
		}
	}

	return nil
}

// InitState returns CTRV state positioned at the location measured by m.
// Speed, yaw and yaw rate are unobserved and set to zero.
// It returns error if m is invalid.
func InitState(m *fusion.Measurement) (*mat.VecDense, error) {
	if err := Validate(m); err != nil {
		return nil, err
	}

	px, py := m.Values.AtVec(0), m.Values.AtVec(1)
	if m.Sensor == fusion.Range {
		px, py = model.ToCartesian(m.Values)
	}

	x := mat.NewVecDense(model.StateDim, nil)
	x.SetVec(0, px)
	x.SetVec(1, py)

	return x, nil
}

// TimeStep returns the time in seconds elapsed between timestamps from and to given in microseconds.
// It returns ErrOutOfOrder if to precedes from.
func TimeStep(from, to int64) (float64, error) {
	if to < from {
		return 0, fmt.Errorf("measurement at %d, filter at %d: %w", to, from, ErrOutOfOrder)
	}

	return float64(to-from) / 1e6, nil
}

// Step returns the length of the next prediction step when dt seconds remain to be predicted:
// SubStep while dt is longer than MaxStep, dt otherwise.
func (c *Config) Step(dt float64) float64 {
	if dt > c.MaxStep {
		return c.SubStep
	}

	return dt
}
