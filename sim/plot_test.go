package sim

import (
	"math"
	"testing"

	fusion "github.com/milosgajdos/go-fusion"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestNew2DPlot(t *testing.T) {
	assert := assert.New(t)

	truth := mat.NewDense(3, 2, nil)
	measure := mat.NewDense(3, 2, nil)
	filter := mat.NewDense(3, 2, nil)

	plt, err := New2DPlot(truth, measure, filter)
	assert.NotNil(plt)
	assert.NoError(err)

	plt, err = New2DPlot(nil, nil, nil)
	assert.Nil(plt)
	assert.Error(err)

	plt, err = New2DPlot(truth, mat.NewDense(3, 1, nil), filter)
	assert.Nil(plt)
	assert.Error(err)
}

func TestNewNISPlot(t *testing.T) {
	assert := assert.New(t)

	plt, err := NewNISPlot("range", []float64{math.NaN(), 1.2, 7.9, 0.3}, 7.81)
	assert.NotNil(plt)
	assert.NoError(err)

	plt, err = NewNISPlot("range", []float64{math.NaN()}, 7.81)
	assert.Nil(plt)
	assert.Error(err)

	plt, err = NewNISPlot("range", []float64{1.0}, 0)
	assert.Nil(plt)
	assert.Error(err)
}

func TestPositions(t *testing.T) {
	assert := assert.New(t)

	assert.Nil(Positions(nil))

	xs := []*mat.VecDense{
		mat.NewVecDense(5, []float64{1, 2, 3, 4, 5}),
		mat.NewVecDense(5, []float64{6, 7, 8, 9, 10}),
	}
	pos := Positions(xs)
	assert.True(mat.Equal(mat.NewDense(2, 2, []float64{1, 2, 6, 7}), pos))
}

func TestMeasuredPositions(t *testing.T) {
	assert := assert.New(t)

	assert.Nil(MeasuredPositions(nil))

	ms := []fusion.Measurement{
		{Sensor: fusion.Position, Values: mat.NewVecDense(2, []float64{1, 2})},
		{Sensor: fusion.Range, Values: mat.NewVecDense(3, []float64{2, math.Pi / 2, 0})},
	}
	pos := MeasuredPositions(ms)
	r, c := pos.Dims()
	assert.Equal(2, r)
	assert.Equal(2, c)
	assert.InDelta(1.0, pos.At(0, 0), 1e-12)
	assert.InDelta(2.0, pos.At(0, 1), 1e-12)
	assert.InDelta(0.0, pos.At(1, 0), 1e-12)
	assert.InDelta(2.0, pos.At(1, 1), 1e-12)
}
