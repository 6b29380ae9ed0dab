package rnd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func TestWithCovN(t *testing.T) {
	assert := assert.New(t)

	covTest := mat.NewSymDense(2, []float64{1.0, 0.0, 0.0, 1.0})
	covR := covTest.SymmetricDim()

	// n must be positive
	res, err := WithCovN(covTest, -3, nil)
	assert.Error(err)
	assert.Nil(res)

	res, err = WithCovN(covTest, 1, nil)
	assert.NoError(err)
	assert.NotNil(res)

	res, err = WithCovN(covTest, 2, rand.NewSource(1))
	assert.NoError(err)
	assert.NotNil(res)
	r, c := res.Dims()
	assert.Equal(covR, r)
	assert.Equal(2, c)
}

func TestWithCovNSingular(t *testing.T) {
	assert := assert.New(t)

	// second dimension carries no noise at all
	cov := mat.NewSymDense(2, []float64{4.0, 0.0, 0.0, 0.0})
	res, err := WithCovN(cov, 2000, rand.NewSource(3))
	assert.NoError(err)

	row0 := mat.Row(nil, 0, res)
	row1 := mat.Row(nil, 1, res)
	assert.InDelta(4.0, stat.Variance(row0, nil), 0.4)
	for _, v := range row1 {
		assert.InDelta(0.0, v, 1e-12)
	}
}

func TestWithCovNSeed(t *testing.T) {
	assert := assert.New(t)

	cov := mat.NewSymDense(2, []float64{1.0, 0.5, 0.5, 2.0})
	a, err := WithCovN(cov, 10, rand.NewSource(11))
	assert.NoError(err)
	b, err := WithCovN(cov, 10, rand.NewSource(11))
	assert.NoError(err)
	assert.True(mat.Equal(a, b))
}
