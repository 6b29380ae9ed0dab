package ekf

import (
	"fmt"
	"math"

	fusion "github.com/milosgajdos/go-fusion"
	"github.com/milosgajdos/go-fusion/estimate"
	"github.com/milosgajdos/go-fusion/kalman"
	"github.com/milosgajdos/go-fusion/matrix"
	"github.com/milosgajdos/go-fusion/model"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// EKF is Extended Kalman Filter tracking CTRV state from position and range sensor measurements.
// Propagation and observation Jacobians are approximated by central finite differences.
//
// EKF is not safe for concurrent use.
type EKF struct {
	// c is filter configuration
	c kalman.Config
	// motion propagates the state
	motion fusion.Propagator
	// obs maps sensors to their observers
	obs map[fusion.Sensor]fusion.Observer
	// q is process noise covariance
	q *mat.SymDense
	// x is the state estimate
	x *mat.VecDense
	// p is the EKF covariance matrix
	p *mat.SymDense
	// k is the latest Kalman gain
	k *mat.Dense
	// nis stores the latest normalized innovation squared per sensor
	nis map[fusion.Sensor]float64
	// time is the filter time in microseconds
	time int64
	// initialized is set once the first measurement has been received
	initialized bool
}

// New creates new EKF with configuration c and returns it.
// If c is nil, default configuration is used.
// It returns error if the configuration is invalid.
func New(c *kalman.Config) (*EKF, error) {
	if c == nil {
		c = kalman.DefaultConfig()
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	pos, err := model.NewPosition(c.StdPosX, c.StdPosY)
	if err != nil {
		return nil, err
	}

	polar, err := model.NewPolar(c.StdRange, c.StdBearing, c.StdRangeRate)
	if err != nil {
		return nil, err
	}

	k := &EKF{
		c:      *c,
		motion: model.NewCTRV(),
		obs: map[fusion.Sensor]fusion.Observer{
			fusion.Position: pos,
			fusion.Range:    polar,
		},
		q: mat.NewSymDense(2, []float64{c.StdA * c.StdA, 0, 0, c.StdYawdd * c.StdYawdd}),
	}
	k.Reset()

	return k, nil
}

// Reset discards the filter estimate: the next measurement initializes the filter again.
func (k *EKF) Reset() {
	nx, _ := k.motion.Dims()

	k.x = mat.NewVecDense(nx, nil)
	k.p = mat.NewSymDense(nx, nil)
	k.k = nil
	k.nis = map[fusion.Sensor]float64{
		fusion.Position: math.NaN(),
		fusion.Range:    math.NaN(),
	}
	k.time = 0
	k.initialized = false
}

// Init initializes the filter with state x and its covariance p at time timestamp [us].
// It returns error if the dimensions of x or p are invalid.
func (k *EKF) Init(x mat.Vector, p mat.Symmetric, timestamp int64) error {
	nx, _ := k.motion.Dims()

	if x == nil || x.Len() != nx {
		return fmt.Errorf("invalid initial state dimension")
	}

	if p == nil || p.SymmetricDim() != nx {
		return fmt.Errorf("invalid initial covariance dimension")
	}

	k.Reset()
	k.x.CopyVec(x)
	k.p.CopySym(p)
	k.time = timestamp
	k.initialized = true

	return nil
}

// Process runs one step of EKF for measurement m and returns the new estimate.
// It follows the same initialization and sensor rules as the UKF.
func (k *EKF) Process(m *fusion.Measurement) (fusion.Estimate, error) {
	if m == nil {
		return nil, fmt.Errorf("nil measurement: %w", kalman.ErrInvalidMeasurement)
	}

	if !k.initialized {
		if _, ok := k.obs[m.Sensor]; !ok {
			return k.estimate()
		}

		x, err := kalman.InitState(m)
		if err != nil {
			return nil, err
		}

		if err := k.Init(x, matrix.Identity(x.Len()), m.Timestamp); err != nil {
			return nil, err
		}

		return k.estimate()
	}

	if err := kalman.Validate(m); err != nil {
		return nil, err
	}

	dt, err := kalman.TimeStep(k.time, m.Timestamp)
	if err != nil {
		return nil, err
	}

	if err := k.Predict(dt); err != nil {
		return nil, fmt.Errorf("prediction failed: %w", err)
	}
	k.time = m.Timestamp

	if !k.c.Enabled(m.Sensor) {
		return k.estimate()
	}

	if err := k.Update(m); err != nil {
		return nil, err
	}

	return k.estimate()
}

// Predict advances the filter estimate by dt seconds.
// It returns error if the filter has not been initialized or if dt is negative or not finite.
func (k *EKF) Predict(dt float64) error {
	if !k.initialized {
		return kalman.ErrNotInitialized
	}

	if dt < 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return fmt.Errorf("invalid time step %g: %w", dt, kalman.ErrOutOfOrder)
	}

	x := mat.VecDenseCopyOf(k.x)
	p := mat.NewSymDense(k.p.SymmetricDim(), nil)
	p.CopySym(k.p)

	for {
		step := k.c.Step(dt)

		var err error
		x, p, err = k.predict(x, p, step)
		if err != nil {
			return err
		}

		if dt -= step; dt <= 0 {
			break
		}
	}

	k.x.CopyVec(x)
	k.p.CopySym(p)

	return nil
}

// predict propagates state x and its covariance p by dt seconds:
// P = F*P*F' + G*Q*G' where F and G are state and process noise Jacobians.
func (k *EKF) predict(x *mat.VecDense, p *mat.SymDense, dt float64) (*mat.VecDense, *mat.SymDense, error) {
	nx, nq := k.motion.Dims()

	xNext, err := k.motion.Propagate(x, nil, dt)
	if err != nil {
		return nil, nil, fmt.Errorf("system state propagation failed: %w", err)
	}

	// state Jacobian
	f := mat.NewDense(nx, nx, nil)
	fd.Jacobian(f, func(y, xNow []float64) {
		out, err := k.motion.Propagate(mat.NewVecDense(nx, xNow), nil, dt)
		if err != nil {
			panic(err)
		}
		copy(y, mat.Col(nil, 0, out))
	}, mat.Col(nil, 0, x), &fd.JacobianSettings{
		Formula:    fd.Central,
		Concurrent: true,
	})

	// process noise Jacobian
	g := mat.NewDense(nx, nq, nil)
	fd.Jacobian(g, func(y, q []float64) {
		out, err := k.motion.Propagate(x, mat.NewVecDense(nq, q), dt)
		if err != nil {
			panic(err)
		}
		copy(y, mat.Col(nil, 0, out))
	}, make([]float64, nq), &fd.JacobianSettings{
		Formula: fd.Central,
	})

	fp := &mat.Dense{}
	fp.Mul(f, p)
	cov := &mat.Dense{}
	cov.Mul(fp, f.T())

	gq := &mat.Dense{}
	gq.Mul(g, k.q)
	gqg := &mat.Dense{}
	gqg.Mul(gq, g.T())
	cov.Add(cov, gqg)

	pNext := mat.NewSymDense(nx, nil)
	if err := matrix.Symmetrize(pNext, cov); err != nil {
		return nil, nil, err
	}

	return mat.VecDenseCopyOf(xNext), pNext, nil
}

// Update corrects the filter estimate using measurement m.
// It returns error if the filter has not been initialized, if m is invalid, if the state
// can't be observed by the measurement sensor or if the innovation covariance is not
// positive definite. The filter estimate is not modified when Update fails.
func (k *EKF) Update(m *fusion.Measurement) error {
	if !k.initialized {
		return kalman.ErrNotInitialized
	}

	if err := kalman.Validate(m); err != nil {
		return err
	}

	o, ok := k.obs[m.Sensor]
	if !ok {
		return fmt.Errorf("%v: %w", m.Sensor, kalman.ErrUnknownSensor)
	}

	nx, nz := o.Dims()

	// observe system output
	y, err := o.Observe(k.x)
	if err != nil {
		return fmt.Errorf("%v update failed: %w", m.Sensor, err)
	}

	// observation Jacobian
	h := mat.NewDense(nz, nx, nil)
	fd.Jacobian(h, func(out, xNow []float64) {
		z, err := o.Observe(mat.NewVecDense(nx, xNow))
		if err != nil {
			for i := range out {
				out[i] = math.NaN()
			}
			return
		}
		copy(out, mat.Col(nil, 0, z))
	}, mat.Col(nil, 0, k.x), &fd.JacobianSettings{
		Formula:    fd.Central,
		Concurrent: true,
	})

	if floats.HasNaN(h.RawMatrix().Data) {
		return fmt.Errorf("%v update failed: %w", m.Sensor, model.ErrDegenerateGeometry)
	}

	// P*H'
	pxy := mat.NewDense(nx, nz, nil)
	pxy.Mul(k.p, h.T())

	// S = H*P*H' + R
	hph := mat.NewDense(nz, nz, nil)
	hph.Mul(h, pxy)
	s := mat.NewSymDense(nz, nil)
	if err := matrix.Symmetrize(s, hph); err != nil {
		return err
	}
	s.AddSym(s, o.NoiseCov())

	var chol mat.Cholesky
	if ok := chol.Factorize(s); !ok {
		return fmt.Errorf("%v innovation covariance not positive definite: %w", m.Sensor, kalman.ErrDivergence)
	}

	// innovation vector
	inn := mat.NewVecDense(nz, nil)
	o.Residual(inn, m.Values, y)

	sInvInn := mat.NewVecDense(nz, nil)
	if err := chol.SolveVecTo(sInvInn, inn); err != nil {
		return fmt.Errorf("failed to solve innovation: %v: %w", err, kalman.ErrDivergence)
	}
	nis := mat.Dot(inn, sInvInn)

	// Kalman gain: K = P*H'*S^-1 i.e. K' = S^-1 * H*P
	gainT := mat.NewDense(nz, nx, nil)
	if err := chol.SolveTo(gainT, pxy.T()); err != nil {
		return fmt.Errorf("failed to calculate gain: %v: %w", err, kalman.ErrDivergence)
	}
	gain := mat.DenseCopyOf(gainT.T())

	// update state x
	x := mat.NewVecDense(nx, nil)
	x.MulVec(gain, inn)
	x.AddVec(k.x, x)

	// Joseph form update: (I - K*H)*P*(I - K*H)' + K*R*K'
	a := &mat.Dense{}
	a.Mul(gain, h)
	a.Sub(matrix.Identity(nx), a)

	ap := &mat.Dense{}
	ap.Mul(a, k.p)
	apa := &mat.Dense{}
	apa.Mul(ap, a.T())

	kr := &mat.Dense{}
	kr.Mul(gain, o.NoiseCov())
	krk := &mat.Dense{}
	krk.Mul(kr, gain.T())
	apa.Add(apa, krk)

	p := mat.NewSymDense(nx, nil)
	if err := matrix.Symmetrize(p, apa); err != nil {
		return err
	}

	k.x.CopyVec(x)
	k.p.CopySym(p)
	k.k = gain
	k.nis[m.Sensor] = nis

	return nil
}

// Estimate returns the current filter estimate.
// It returns nil if the estimate can't be created.
func (k *EKF) Estimate() fusion.Estimate {
	est, err := k.estimate()
	if err != nil {
		return nil
	}

	return est
}

// estimate copies the state and covariance into a new estimate.
func (k *EKF) estimate() (fusion.Estimate, error) {
	est, err := estimate.NewBaseWithCov(k.x, k.p)
	if err != nil {
		return nil, fmt.Errorf("failed to create estimate: %w", err)
	}

	return est, nil
}

// State returns the current state estimate [px, py, v, yaw, yawd].
func (k *EKF) State() mat.Vector {
	return mat.VecDenseCopyOf(k.x)
}

// Cov returns EKF covariance
func (k *EKF) Cov() mat.Symmetric {
	cov := mat.NewSymDense(k.p.SymmetricDim(), nil)
	cov.CopySym(k.p)

	return cov
}

// Gain returns Kalman gain of the latest update or nil if no update has happened yet.
func (k *EKF) Gain() mat.Matrix {
	if k.k == nil {
		return nil
	}

	gain := &mat.Dense{}
	gain.CloneFrom(k.k)

	return gain
}

// NIS returns normalized innovation squared of the latest update from sensor s.
// It returns NaN if sensor s has not produced any update yet.
func (k *EKF) NIS(s fusion.Sensor) float64 {
	if nis, ok := k.nis[s]; ok {
		return nis
	}

	return math.NaN()
}

// Time returns the filter time in microseconds.
func (k *EKF) Time() int64 {
	return k.time
}

// Initialized returns true if the filter has been initialized by a measurement.
func (k *EKF) Initialized() bool {
	return k.initialized
}
