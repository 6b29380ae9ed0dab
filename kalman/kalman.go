package kalman

import (
	"errors"

	fusion "github.com/milosgajdos/go-fusion"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNotInitialized is returned when the filter has not received its first measurement yet
	ErrNotInitialized = errors.New("filter not initialized")
	// ErrOutOfOrder is returned when a measurement is older than the filter time
	ErrOutOfOrder = errors.New("out of order measurement")
	// ErrUnknownSensor is returned for measurements of unsupported sensor type
	ErrUnknownSensor = errors.New("unknown sensor")
	// ErrInvalidMeasurement is returned for malformed measurements
	ErrInvalidMeasurement = errors.New("invalid measurement")
	// ErrDivergence is returned when filter covariance loses positive definiteness
	ErrDivergence = errors.New("filter divergence")
)

// Kalman is Kalman Filter
type Kalman interface {
	// fusion.Filter is dynamical system filter
	fusion.Filter
	// Cov returns Kalman filter state covariance
	Cov() mat.Symmetric
	// Gain returns Kalman filter gain
	Gain() mat.Matrix
	// NIS returns the latest normalized innovation squared of the sensor
	NIS(fusion.Sensor) float64
}
