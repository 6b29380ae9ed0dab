package sim

import (
	"fmt"

	fusion "github.com/milosgajdos/go-fusion"
	"github.com/milosgajdos/go-fusion/model"
	"github.com/milosgajdos/go-fusion/noise"
	"github.com/milosgajdos/go-fusion/rnd"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Config configures simulation of a CTRV object observed by position and range sensors.
type Config struct {
	// Start is the initial true state [px, py, v, yaw, yawd]
	Start mat.Vector
	// StartTime is the timestamp of the first measurement in microseconds
	StartTime int64
	// Period is the time between two consecutive measurements in microseconds
	Period int64
	// Steps is the number of generated measurements
	Steps int
	// ProcessCov is 2x2 covariance of longitudinal and yaw acceleration noise.
	// If nil, the object moves without any process noise.
	ProcessCov mat.Symmetric
	// Seed seeds process noise draws
	Seed uint64
	// PositionNoise is added to position measurements; nil means noise-free measurements
	PositionNoise fusion.Noise
	// RangeNoise is added to range measurements; nil means noise-free measurements
	RangeNoise fusion.Noise
}

// Trace is the result of simulation.
// Truth[i] is the true state at the time of Measurements[i].
type Trace struct {
	Truth        []*mat.VecDense
	Measurements []fusion.Measurement
}

// Run simulates the object described by c and returns the simulation trace.
// Measurement noise is reset before the simulation starts.
// Measurements alternate between the position and the range sensor, starting with the position one.
// Process noise is held constant between two consecutive measurements.
// It returns error if c is invalid or if the object passes through the range sensor origin.
func Run(c *Config) (*Trace, error) {
	if err := validate(c); err != nil {
		return nil, err
	}

	motion := model.NewCTRV()
	_, nq := motion.Dims()

	var nu *mat.Dense
	if c.ProcessCov != nil {
		var err error
		nu, err = rnd.WithCovN(c.ProcessCov, c.Steps, rand.NewSource(c.Seed))
		if err != nil {
			return nil, fmt.Errorf("failed to draw process noise: %w", err)
		}
	}

	posNoise, err := noiseOrZero(c.PositionNoise, fusion.Position.Dim())
	if err != nil {
		return nil, err
	}

	rngNoise, err := noiseOrZero(c.RangeNoise, fusion.Range.Dim())
	if err != nil {
		return nil, err
	}

	polar, err := model.NewPolar(0, 0, 0)
	if err != nil {
		return nil, err
	}

	trace := &Trace{
		Truth:        make([]*mat.VecDense, 0, c.Steps),
		Measurements: make([]fusion.Measurement, 0, c.Steps),
	}

	dt := float64(c.Period) / 1e6
	x := mat.VecDenseCopyOf(c.Start)
	q := mat.NewVecDense(nq, nil)

	for i := 0; i < c.Steps; i++ {
		if i > 0 {
			if nu != nil {
				q.CopyVec(nu.ColView(i - 1))
			}
			next, err := motion.Propagate(x, q, dt)
			if err != nil {
				return nil, err
			}
			x.CopyVec(next)
			x.SetVec(model.YawIdx, model.WrapToPi(x.AtVec(model.YawIdx)))
		}

		m := fusion.Measurement{
			Timestamp: c.StartTime + int64(i)*c.Period,
		}

		switch i % 2 {
		case 0:
			z := mat.NewVecDense(2, []float64{x.AtVec(0), x.AtVec(1)})
			z.AddVec(z, posNoise.Sample())
			m.Sensor, m.Values = fusion.Position, z
		default:
			obs, err := polar.Observe(x)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", i, err)
			}
			z := mat.VecDenseCopyOf(obs)
			z.AddVec(z, rngNoise.Sample())
			z.SetVec(model.BearingIdx, model.WrapToPi(z.AtVec(model.BearingIdx)))
			m.Sensor, m.Values = fusion.Range, z
		}

		trace.Truth = append(trace.Truth, mat.VecDenseCopyOf(x))
		trace.Measurements = append(trace.Measurements, m)
	}

	return trace, nil
}

func validate(c *Config) error {
	if c == nil {
		return fmt.Errorf("invalid config: %v", c)
	}

	if c.Start == nil || c.Start.Len() != model.StateDim {
		return fmt.Errorf("invalid start state")
	}

	if c.Period <= 0 || c.Steps <= 0 {
		return fmt.Errorf("invalid simulation length: period %d, steps %d", c.Period, c.Steps)
	}

	if c.ProcessCov != nil && c.ProcessCov.SymmetricDim() != model.NoiseDim {
		return fmt.Errorf("invalid process noise dimension: %d", c.ProcessCov.SymmetricDim())
	}

	if c.PositionNoise != nil && len(c.PositionNoise.Mean()) != fusion.Position.Dim() {
		return fmt.Errorf("invalid position noise dimension: %d", len(c.PositionNoise.Mean()))
	}

	if c.RangeNoise != nil && len(c.RangeNoise.Mean()) != fusion.Range.Dim() {
		return fmt.Errorf("invalid range noise dimension: %d", len(c.RangeNoise.Mean()))
	}

	return nil
}

// noiseOrZero resets noise n so seeded noise restarts its sequence.
// It returns zero noise of dimension dim if n is nil.
func noiseOrZero(n fusion.Noise, dim int) (fusion.Noise, error) {
	if n == nil {
		return noise.NewZero(dim)
	}

	if err := n.Reset(); err != nil {
		return nil, fmt.Errorf("failed to reset noise: %w", err)
	}

	return n, nil
}
