package ukf

import (
	"errors"
	"fmt"
	"math"

	fusion "github.com/milosgajdos/go-fusion"
	"github.com/milosgajdos/go-fusion/estimate"
	"github.com/milosgajdos/go-fusion/kalman"
	"github.com/milosgajdos/go-fusion/matrix"
	"github.com/milosgajdos/go-fusion/model"
	"gonum.org/v1/gonum/mat"
)

// ErrStaleSigmaPoints is returned when sigma points passed to Update were not predicted from the current estimate
var ErrStaleSigmaPoints = errors.New("stale sigma points")

// SigmaPoints stores predicted sigma points and their weighted mean
type SigmaPoints struct {
	// X stores sigma point vectors in columns
	X *mat.Dense
	// Mean is weighted mean of the sigma points
	Mean *mat.VecDense
}

// UKF is Unscented (aka Sigma Point) Kalman Filter tracking CTRV state
// from position and range sensor measurements.
//
// UKF is not safe for concurrent use.
type UKF struct {
	// c is filter configuration
	c kalman.Config
	// motion propagates the state
	motion fusion.Propagator
	// obs maps sensors to their observers
	obs map[fusion.Sensor]fusion.Observer
	// q is process noise covariance
	q *mat.SymDense
	// gamma scales the square root of augmented covariance
	gamma float64
	// w stores sigma point weights
	w *mat.VecDense
	// x is the state estimate
	x *mat.VecDense
	// p is the UKF covariance matrix
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

// New creates new UKF with configuration c and returns it.
// If c is nil, default configuration is used. The configuration is copied.
// It returns error if the configuration is invalid.
func New(c *kalman.Config) (*UKF, error) {
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

	motion := model.NewCTRV()
	nx, nq := motion.Dims()
	n := float64(nx + nq)

	q := mat.NewSymDense(nq, []float64{c.StdA * c.StdA, 0, 0, c.StdYawdd * c.StdYawdd})

	// weight of the mean sigma point and of the rest of sigma points
	w := mat.NewVecDense(2*(nx+nq)+1, nil)
	w.SetVec(0, c.Lambda/(c.Lambda+n))
	for i := 1; i < w.Len(); i++ {
		w.SetVec(i, 0.5/(c.Lambda+n))
	}

	k := &UKF{
		c:      *c,
		motion: motion,
		obs: map[fusion.Sensor]fusion.Observer{
			fusion.Position: pos,
			fusion.Range:    polar,
		},
		q:     q,
		gamma: math.Sqrt(c.Lambda + n),
		w:     w,
	}
	k.Reset()

	return k, nil
}

// Reset discards the filter estimate: the next measurement initializes the filter again.
func (k *UKF) Reset() {
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

// Process runs one step of UKF for measurement m and returns the new estimate.
// The first measurement initializes the filter. Every subsequent measurement advances
// the filter to the measurement time and corrects the estimate, unless updates from the
// measurement sensor are disabled. Measurements from unknown sensors are ignored until
// the filter has been initialized.
// It returns error if m is invalid or older than the filter time, if the prediction fails
// or if the update fails. When the update fails the predicted estimate is retained.
func (k *UKF) Process(m *fusion.Measurement) (fusion.Estimate, error) {
	if m == nil {
		return nil, fmt.Errorf("nil measurement: %w", kalman.ErrInvalidMeasurement)
	}

	if !k.initialized {
		if err := k.init(m); err != nil {
			return nil, err
		}
		return k.estimate()
	}

	if err := k.check(m); err != nil {
		return nil, err
	}

	dt, err := kalman.TimeStep(k.time, m.Timestamp)
	if err != nil {
		return nil, err
	}

	sp, err := k.Predict(dt)
	if err != nil {
		return nil, fmt.Errorf("prediction failed: %w", err)
	}
	k.time = m.Timestamp

	if !k.c.Enabled(m.Sensor) {
		return k.estimate()
	}

	if err := k.Update(sp, m); err != nil {
		return nil, err
	}

	return k.estimate()
}

// Init initializes the filter with state x and its covariance p at time timestamp [us].
// It returns error if the dimensions of x or p are invalid.
func (k *UKF) Init(x mat.Vector, p mat.Symmetric, timestamp int64) error {
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

// init initializes the filter state from the measurement m.
// Measurements from unknown sensors are ignored.
func (k *UKF) init(m *fusion.Measurement) error {
	if _, ok := k.obs[m.Sensor]; !ok {
		return nil
	}

	x, err := kalman.InitState(m)
	if err != nil {
		return err
	}

	return k.Init(x, matrix.Identity(x.Len()), m.Timestamp)
}

// check makes sure the measurement m can be processed by the filter.
func (k *UKF) check(m *fusion.Measurement) error {
	if err := kalman.Validate(m); err != nil {
		return err
	}

	if _, ok := k.obs[m.Sensor]; !ok {
		return fmt.Errorf("%v: %w", m.Sensor, kalman.ErrUnknownSensor)
	}

	return nil
}

// Predict advances the filter estimate by dt seconds and returns the predicted sigma points
// which can be used to correct the estimate with Update. Steps longer than the configured
// maximum step are split into sub-steps; the returned sigma points belong to the last one.
// It returns error if the filter has not been initialized, if dt is negative or not finite or if
// the filter covariance can't be factorized, in which case the filter estimate is not modified.
func (k *UKF) Predict(dt float64) (*SigmaPoints, error) {
	if !k.initialized {
		return nil, kalman.ErrNotInitialized
	}

	if dt < 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return nil, fmt.Errorf("invalid time step %g: %w", dt, kalman.ErrOutOfOrder)
	}

	x := mat.VecDenseCopyOf(k.x)
	p := mat.NewSymDense(k.p.SymmetricDim(), nil)
	p.CopySym(k.p)

	var (
		sp  *SigmaPoints
		err error
	)

	for {
		step := k.c.Step(dt)
		sp, p, err = k.predict(x, p, step)
		if err != nil {
			return nil, err
		}
		x = sp.Mean

		if dt -= step; dt <= 0 {
			break
		}
	}

	k.x.CopyVec(sp.Mean)
	k.p.CopySym(p)

	return sp, nil
}

// predict propagates state x and its covariance p by dt seconds.
// It returns predicted sigma points and predicted covariance.
func (k *UKF) predict(x *mat.VecDense, p *mat.SymDense, dt float64) (*SigmaPoints, *mat.SymDense, error) {
	sp, err := k.genSigmaPoints(x, p)
	if err != nil {
		return nil, nil, err
	}

	pred, err := k.propagateSigmaPoints(sp, dt)
	if err != nil {
		return nil, nil, err
	}

	return pred, k.predictCovariance(pred), nil
}

// genSigmaPoints generates augmented sigma points around state x with covariance p.
func (k *UKF) genSigmaPoints(x *mat.VecDense, p *mat.SymDense) (*mat.Dense, error) {
	nx, nq := k.motion.Dims()
	n := nx + nq

	// augmented mean: process noise has zero mean
	xAug := mat.NewVecDense(n, nil)
	for i := 0; i < nx; i++ {
		xAug.SetVec(i, x.AtVec(i))
	}

	// augmented covariance: block diagonal [P 0; 0 Q]
	pAug := mat.NewSymDense(n, nil)
	for i := 0; i < nx; i++ {
		for j := i; j < nx; j++ {
			pAug.SetSym(i, j, p.At(i, j))
		}
	}
	for i := 0; i < nq; i++ {
		for j := i; j < nq; j++ {
			pAug.SetSym(nx+i, nx+j, k.q.At(i, j))
		}
	}

	l, err := sqrtCov(pAug)
	if err != nil {
		return nil, err
	}

	sp := mat.NewDense(n, 2*n+1, nil)
	sp.SetCol(0, xAug.RawVector().Data)

	col := mat.NewVecDense(n, nil)
	li := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			li.SetVec(j, l.At(j, i))
		}
		// positive sigma points
		col.AddScaledVec(xAug, k.gamma, li)
		sp.SetCol(1+i, col.RawVector().Data)
		// negative sigma points
		col.AddScaledVec(xAug, -k.gamma, li)
		sp.SetCol(1+n+i, col.RawVector().Data)
	}

	return sp, nil
}

// propagateSigmaPoints propagates augmented sigma points by dt seconds.
// It returns the predicted state sigma points and their weighted mean.
func (k *UKF) propagateSigmaPoints(sp *mat.Dense, dt float64) (*SigmaPoints, error) {
	nx, nq := k.motion.Dims()
	_, cols := sp.Dims()

	x := mat.NewDense(nx, cols, nil)
	xMean := mat.NewVecDense(nx, nil)

	for c := 0; c < cols; c++ {
		sigma := sp.ColView(c).(*mat.VecDense)
		sigmaNext, err := k.motion.Propagate(sigma.SliceVec(0, nx), sigma.SliceVec(nx, nx+nq), dt)
		if err != nil {
			return nil, fmt.Errorf("failed to propagate sigma point: %w", err)
		}
		x.SetCol(c, mat.Col(nil, 0, sigmaNext))
		xMean.AddScaledVec(xMean, k.w.AtVec(c), sigmaNext)
	}

	return &SigmaPoints{
		X:    x,
		Mean: xMean,
	}, nil
}

// predictCovariance calculates weighted covariance of the predicted sigma points.
func (k *UKF) predictCovariance(sp *SigmaPoints) *mat.SymDense {
	rows, cols := sp.X.Dims()

	cov := mat.NewSymDense(rows, nil)
	diff := mat.NewVecDense(rows, nil)
	for c := 0; c < cols; c++ {
		k.motion.Residual(diff, sp.X.ColView(c), sp.Mean)
		cov.SymRankOne(cov, k.w.AtVec(c), diff)
	}

	return cov
}

// Update corrects the filter estimate using measurement m and predicted sigma points sp
// returned by the latest call to Predict. Sigma points can be used for one update only.
// It returns error if the filter has not been initialized, if m is invalid, if the predicted
// sigma points can't be observed by the measurement sensor or if the innovation covariance
// is not positive definite. The filter estimate is not modified when Update fails.
func (k *UKF) Update(sp *SigmaPoints, m *fusion.Measurement) error {
	if !k.initialized {
		return kalman.ErrNotInitialized
	}

	if m == nil {
		return fmt.Errorf("nil measurement: %w", kalman.ErrInvalidMeasurement)
	}

	if err := k.check(m); err != nil {
		return err
	}

	nx, _ := k.motion.Dims()
	if sp == nil || sp.X == nil {
		return fmt.Errorf("missing sigma points: %w", kalman.ErrInvalidMeasurement)
	}
	if rows, cols := sp.X.Dims(); rows != nx || cols != k.w.Len() {
		return fmt.Errorf("invalid sigma points dimensions: [%d x %d]", rows, cols)
	}
	// sigma points must come from the prediction of the current estimate
	if sp.Mean == nil || !mat.Equal(sp.Mean, k.x) {
		return fmt.Errorf("sigma points mean does not match filter state: %w", ErrStaleSigmaPoints)
	}

	x, p, gain, nis, err := k.correct(k.obs[m.Sensor], sp, m.Values)
	if err != nil {
		return fmt.Errorf("%v update failed: %w", m.Sensor, err)
	}

	k.x.CopyVec(x)
	k.p.CopySym(p)
	k.k = gain
	k.nis[m.Sensor] = nis

	return nil
}

// correct calculates corrected state, covariance, Kalman gain and NIS for measurement z observed by o.
func (k *UKF) correct(o fusion.Observer, sp *SigmaPoints, z mat.Vector) (*mat.VecDense, *mat.SymDense, *mat.Dense, float64, error) {
	nx, nz := o.Dims()
	_, cols := sp.X.Dims()

	// sigma points in measurement space and their mean
	zSig := mat.NewDense(nz, cols, nil)
	zMean := mat.NewVecDense(nz, nil)
	for c := 0; c < cols; c++ {
		zc, err := o.Observe(sp.X.ColView(c))
		if err != nil {
			return nil, nil, nil, 0, err
		}
		zSig.SetCol(c, mat.Col(nil, 0, zc))
		zMean.AddScaledVec(zMean, k.w.AtVec(c), zc)
	}

	// innovation covariance and cross covariance
	s := mat.NewSymDense(nz, nil)
	tc := mat.NewDense(nx, nz, nil)
	zDiff := mat.NewVecDense(nz, nil)
	xDiff := mat.NewVecDense(nx, nil)
	for c := 0; c < cols; c++ {
		o.Residual(zDiff, zSig.ColView(c), zMean)
		k.motion.Residual(xDiff, sp.X.ColView(c), sp.Mean)
		s.SymRankOne(s, k.w.AtVec(c), zDiff)
		tc.RankOne(tc, k.w.AtVec(c), xDiff, zDiff)
	}
	s.AddSym(s, o.NoiseCov())

	var chol mat.Cholesky
	if ok := chol.Factorize(s); !ok {
		return nil, nil, nil, 0, fmt.Errorf("innovation covariance not positive definite: %w", kalman.ErrDivergence)
	}

	// innovation vector
	inn := mat.NewVecDense(nz, nil)
	o.Residual(inn, z, zMean)

	sInvInn := mat.NewVecDense(nz, nil)
	if err := chol.SolveVecTo(sInvInn, inn); err != nil {
		return nil, nil, nil, 0, fmt.Errorf("failed to solve innovation: %v: %w", err, kalman.ErrDivergence)
	}
	nis := mat.Dot(inn, sInvInn)

	// Kalman gain: K = Tc * S^-1 i.e. K' = S^-1 * Tc'
	gainT := mat.NewDense(nz, nx, nil)
	if err := chol.SolveTo(gainT, tc.T()); err != nil {
		return nil, nil, nil, 0, fmt.Errorf("failed to calculate gain: %v: %w", err, kalman.ErrDivergence)
	}
	gain := mat.DenseCopyOf(gainT.T())

	// correct state x
	x := mat.NewVecDense(nx, nil)
	x.MulVec(gain, inn)
	x.AddVec(sp.Mean, x)

	// correct covariance: P - K*S*K'
	ks := mat.NewDense(nx, nz, nil)
	ks.Mul(gain, s)
	ksk := mat.NewDense(nx, nx, nil)
	ksk.Mul(ks, gain.T())
	ksk.Sub(k.p, ksk)

	p := mat.NewSymDense(nx, nil)
	if err := matrix.Symmetrize(p, ksk); err != nil {
		return nil, nil, nil, 0, err
	}

	for i := 0; i < nx; i++ {
		if v := p.At(i, i); v < 0 || math.IsNaN(v) {
			return nil, nil, nil, 0, fmt.Errorf("negative covariance diagonal %g: %w", v, kalman.ErrDivergence)
		}
	}

	return x, p, gain, nis, nil
}

// sqrtCov returns lower triangular Cholesky factor of a.
// If a is not positive definite the factorization is retried with increasing diagonal jitter.
func sqrtCov(a *mat.SymDense) (*mat.TriDense, error) {
	var chol mat.Cholesky
	l := &mat.TriDense{}

	if chol.Factorize(a) {
		chol.LTo(l)
		return l, nil
	}

	n := a.SymmetricDim()
	reg := mat.NewSymDense(n, nil)
	for jitter := minJitter; jitter <= maxJitter; jitter *= 10 {
		reg.CopySym(a)
		for i := 0; i < n; i++ {
			reg.SetSym(i, i, reg.At(i, i)+jitter)
		}
		if chol.Factorize(reg) {
			chol.LTo(l)
			return l, nil
		}
	}

	return nil, fmt.Errorf("augmented covariance not positive definite: %w", kalman.ErrDivergence)
}

const (
	minJitter = 1e-9
	maxJitter = 1e-5
)

// Estimate returns the current filter estimate.
// It returns nil if the estimate can't be created.
func (k *UKF) Estimate() fusion.Estimate {
	est, err := k.estimate()
	if err != nil {
		return nil
	}

	return est
}

// estimate copies the state and covariance into a new estimate.
func (k *UKF) estimate() (fusion.Estimate, error) {
	est, err := estimate.NewBaseWithCov(k.x, k.p)
	if err != nil {
		return nil, fmt.Errorf("failed to create estimate: %w", err)
	}

	return est, nil
}

// State returns the current state estimate [px, py, v, yaw, yawd].
func (k *UKF) State() mat.Vector {
	return mat.VecDenseCopyOf(k.x)
}

// Cov returns UKF covariance
func (k *UKF) Cov() mat.Symmetric {
	cov := mat.NewSymDense(k.p.SymmetricDim(), nil)
	cov.CopySym(k.p)

	return cov
}

// Gain returns Kalman gain of the latest update or nil if no update has happened yet.
func (k *UKF) Gain() mat.Matrix {
	if k.k == nil {
		return nil
	}

	return mat.DenseCopyOf(k.k)
}

// NIS returns normalized innovation squared of the latest update from sensor s.
// It returns NaN if sensor s has not produced any update yet.
func (k *UKF) NIS(s fusion.Sensor) float64 {
	if nis, ok := k.nis[s]; ok {
		return nis
	}

	return math.NaN()
}

// Weights returns sigma point weights.
func (k *UKF) Weights() []float64 {
	return mat.Col(nil, 0, k.w)
}

// Time returns the filter time in microseconds.
func (k *UKF) Time() int64 {
	return k.time
}

// Initialized returns true if the filter has been initialized by a measurement.
func (k *UKF) Initialized() bool {
	return k.initialized
}

// Config returns a copy of the filter configuration.
func (k *UKF) Config() kalman.Config {
	return k.c
}
