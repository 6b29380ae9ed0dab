package model

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// BearingIdx is index of the bearing angle in polar measurement vector
	BearingIdx = 1
	// MinRange is the range below which polar measurement geometry is degenerate
	MinRange = 1e-6
)

// ErrDegenerateGeometry is returned when a state can't be observed in polar coordinates
var ErrDegenerateGeometry = errors.New("degenerate range geometry")

// Position observes [px, py] of CTRV state directly.
type Position struct {
	// r is measurement noise covariance
	r *mat.SymDense
}

// NewPosition creates position sensor observer with measurement noise standard deviations stdX and stdY.
// It returns error if either of the standard deviations is negative.
func NewPosition(stdX, stdY float64) (*Position, error) {
	if stdX < 0 || stdY < 0 {
		return nil, fmt.Errorf("invalid position noise: [%f, %f]", stdX, stdY)
	}

	return &Position{
		r: mat.NewSymDense(2, []float64{stdX * stdX, 0, 0, stdY * stdY}),
	}, nil
}

// Observe returns position of the CTRV state x.
func (p *Position) Observe(x mat.Vector) (mat.Vector, error) {
	if x.Len() != StateDim {
		return nil, fmt.Errorf("invalid state vector dimension: %d", x.Len())
	}

	return mat.NewVecDense(2, []float64{x.AtVec(0), x.AtVec(1)}), nil
}

// Residual stores a - b in dst.
func (p *Position) Residual(dst *mat.VecDense, a, b mat.Vector) {
	dst.SubVec(a, b)
}

// NoiseCov returns measurement noise covariance.
func (p *Position) NoiseCov() mat.Symmetric {
	r := mat.NewSymDense(2, nil)
	r.CopySym(p.r)

	return r
}

// Dims returns state and measurement dimensions.
func (p *Position) Dims() (nx, nz int) {
	return StateDim, 2
}

// Polar observes CTRV state as [range, bearing, range rate] from the origin.
type Polar struct {
	// r is measurement noise covariance
	r *mat.SymDense
}

// NewPolar creates polar sensor observer with range, bearing and range rate noise standard deviations.
// It returns error if either of the standard deviations is negative.
func NewPolar(stdRange, stdBearing, stdRangeRate float64) (*Polar, error) {
	if stdRange < 0 || stdBearing < 0 || stdRangeRate < 0 {
		return nil, fmt.Errorf("invalid polar noise: [%f, %f, %f]", stdRange, stdBearing, stdRangeRate)
	}

	r := mat.NewSymDense(3, nil)
	r.SetSym(0, 0, stdRange*stdRange)
	r.SetSym(1, 1, stdBearing*stdBearing)
	r.SetSym(2, 2, stdRangeRate*stdRangeRate)

	return &Polar{r: r}, nil
}

// Observe returns polar measurement of the CTRV state x.
// It returns ErrDegenerateGeometry if the position of x is (close to) the origin.
func (p *Polar) Observe(x mat.Vector) (mat.Vector, error) {
	if x.Len() != StateDim {
		return nil, fmt.Errorf("invalid state vector dimension: %d", x.Len())
	}

	px, py := x.AtVec(0), x.AtVec(1)
	v, yaw := x.AtVec(2), x.AtVec(3)

	rho := math.Hypot(px, py)
	if rho < MinRange {
		return nil, fmt.Errorf("range %g at [%g, %g]: %w", rho, px, py, ErrDegenerateGeometry)
	}

	return mat.NewVecDense(3, []float64{
		rho,
		math.Atan2(py, px),
		(px*math.Cos(yaw)*v + py*math.Sin(yaw)*v) / rho,
	}), nil
}

// Residual stores a - b in dst with the bearing difference normalized into (-Pi, Pi].
func (p *Polar) Residual(dst *mat.VecDense, a, b mat.Vector) {
	dst.SubVec(a, b)
	dst.SetVec(BearingIdx, WrapToPi(dst.AtVec(BearingIdx)))
}

// NoiseCov returns measurement noise covariance.
func (p *Polar) NoiseCov() mat.Symmetric {
	r := mat.NewSymDense(3, nil)
	r.CopySym(p.r)

	return r
}

// Dims returns state and measurement dimensions.
func (p *Polar) Dims() (nx, nz int) {
	return StateDim, 3
}

// ToCartesian converts polar measurement z into [px, py].
func ToCartesian(z mat.Vector) (px, py float64) {
	rho, phi := z.AtVec(0), z.AtVec(1)

	return rho * math.Cos(phi), rho * math.Sin(phi)
}
