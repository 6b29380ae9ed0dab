package eval

import (
	"fmt"
	"math"

	"github.com/milosgajdos/go-fusion/matrix"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// RMSE returns root mean squared error of estimates est against ground truth values truth.
// It returns error if est and truth are empty, if their lengths differ or if their vectors
// have different dimensions.
func RMSE(est, truth []mat.Vector) (*mat.VecDense, error) {
	if len(est) == 0 || len(est) != len(truth) {
		return nil, fmt.Errorf("invalid estimation or ground truth data: %d, %d", len(est), len(truth))
	}

	n := est[0].Len()
	// squared residuals are stored in columns
	sq := mat.NewDense(n, len(est), nil)

	diff := mat.NewVecDense(n, nil)
	for i := range est {
		if est[i].Len() != n || truth[i].Len() != n {
			return nil, fmt.Errorf("invalid vector dimension at %d", i)
		}
		diff.SubVec(est[i], truth[i])
		diff.MulElemVec(diff, diff)
		sq.SetCol(i, diff.RawVector().Data)
	}

	rmse := mat.NewVecDense(n, matrix.RowSums(sq))
	for i := 0; i < n; i++ {
		rmse.SetVec(i, math.Sqrt(rmse.AtVec(i)/float64(len(est))))
	}

	return rmse, nil
}

// ChiSquare95 returns the 95% quantile of chi-square distribution with dof degrees of freedom.
func ChiSquare95(dof int) float64 {
	return distuv.ChiSquared{K: float64(dof)}.Quantile(0.95)
}

// NISExceedance returns the fraction of NIS values nis which exceed p quantile
// of chi-square distribution with dof degrees of freedom. NaN values are skipped.
// It returns error if dof is not positive, p is not in (0, 1) or nis contains no values.
func NISExceedance(nis []float64, dof int, p float64) (float64, error) {
	if dof <= 0 {
		return 0, fmt.Errorf("invalid degrees of freedom: %d", dof)
	}

	if p <= 0 || p >= 1 {
		return 0, fmt.Errorf("invalid probability: %f", p)
	}

	threshold := distuv.ChiSquared{K: float64(dof)}.Quantile(p)

	var count, over int
	for _, v := range nis {
		if math.IsNaN(v) {
			continue
		}
		count++
		if v > threshold {
			over++
		}
	}

	if count == 0 {
		return 0, fmt.Errorf("no NIS values supplied")
	}

	return float64(over) / float64(count), nil
}

// MeanNIS returns the mean of NIS values nis skipping NaN values.
// Consistent filter NIS mean approaches the measurement dimension.
// It returns NaN if nis contains no values.
func MeanNIS(nis []float64) float64 {
	vals := make([]float64, 0, len(nis))
	for _, v := range nis {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}

	if len(vals) == 0 {
		return math.NaN()
	}

	return stat.Mean(vals, nil)
}

// Cartesian converts CTRV state x [px, py, v, yaw, yawd] into [px, py, vx, vy].
// It returns error if x is not a CTRV state.
func Cartesian(x mat.Vector) (*mat.VecDense, error) {
	if x == nil || x.Len() != 5 {
		return nil, fmt.Errorf("invalid state vector")
	}

	v, yaw := x.AtVec(2), x.AtVec(3)

	return mat.NewVecDense(4, []float64{
		x.AtVec(0),
		x.AtVec(1),
		v * math.Cos(yaw),
		v * math.Sin(yaw),
	}), nil
}
