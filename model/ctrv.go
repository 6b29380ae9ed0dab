package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// StateDim is CTRV state dimension: [px, py, v, yaw, yawd]
	StateDim = 5
	// NoiseDim is CTRV process noise dimension: [longitudinal acc, yaw acc]
	NoiseDim = 2
	// YawIdx is index of the yaw angle in CTRV state vector
	YawIdx = 3
	// MinYawRate is yaw rate magnitude below which the object is considered to move straight
	MinYawRate = 0.001
)

// CTRV is the constant turn rate and velocity magnitude motion model.
//
// State vector is [px, py, v, yaw, yawd] and process noise vector is [nu_a, nu_yawdd],
// i.e. longitudinal and yaw accelerations which are held constant over a single step.
type CTRV struct{}

// NewCTRV creates CTRV motion model and returns it.
func NewCTRV() *CTRV {
	return &CTRV{}
}

// Propagate propagates state x disturbed by process noise q by dt seconds and returns it.
// If q is nil no process noise is applied.
// It returns error if either x or q have invalid dimensions.
func (m *CTRV) Propagate(x, q mat.Vector, dt float64) (mat.Vector, error) {
	if x.Len() != StateDim {
		return nil, fmt.Errorf("invalid state vector dimension: %d", x.Len())
	}

	var nuA, nuYawdd float64
	if q != nil {
		if q.Len() != NoiseDim {
			return nil, fmt.Errorf("invalid process noise dimension: %d", q.Len())
		}
		nuA, nuYawdd = q.AtVec(0), q.AtVec(1)
	}

	px, py := x.AtVec(0), x.AtVec(1)
	v, yaw, yawd := x.AtVec(2), x.AtVec(3), x.AtVec(4)

	// straight line motion when yaw rate is close to zero
	if math.Abs(yawd) > MinYawRate {
		px += v / yawd * (math.Sin(yaw+yawd*dt) - math.Sin(yaw))
		py += v / yawd * (math.Cos(yaw) - math.Cos(yaw+yawd*dt))
	} else {
		px += v * dt * math.Cos(yaw)
		py += v * dt * math.Sin(yaw)
	}

	dt2 := 0.5 * dt * dt
	out := mat.NewVecDense(StateDim, []float64{
		px + nuA*dt2*math.Cos(yaw),
		py + nuA*dt2*math.Sin(yaw),
		v + nuA*dt,
		yaw + yawd*dt + nuYawdd*dt2,
		yawd + nuYawdd*dt,
	})

	return out, nil
}

// Residual stores a - b in dst with the yaw difference normalized into (-Pi, Pi].
func (m *CTRV) Residual(dst *mat.VecDense, a, b mat.Vector) {
	dst.SubVec(a, b)
	dst.SetVec(YawIdx, WrapToPi(dst.AtVec(YawIdx)))
}

// Dims returns state and process noise dimensions.
func (m *CTRV) Dims() (nx, nq int) {
	return StateDim, NoiseDim
}
