package model

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// rk4 integrates noiseless CTRV dynamics using n Runge-Kutta steps over dt seconds.
func rk4(x []float64, dt float64, n int) []float64 {
	deriv := func(s []float64) []float64 {
		return []float64{s[2] * math.Cos(s[3]), s[2] * math.Sin(s[3]), 0, s[4], 0}
	}
	add := func(s, d []float64, h float64) []float64 {
		out := make([]float64, len(s))
		for i := range s {
			out[i] = s[i] + h*d[i]
		}
		return out
	}

	h := dt / float64(n)
	s := append([]float64(nil), x...)
	for i := 0; i < n; i++ {
		k1 := deriv(s)
		k2 := deriv(add(s, k1, h/2))
		k3 := deriv(add(s, k2, h/2))
		k4 := deriv(add(s, k3, h))
		for j := range s {
			s[j] += h / 6 * (k1[j] + 2*k2[j] + 2*k3[j] + k4[j])
		}
	}

	return s
}

func TestWrapToPi(t *testing.T) {
	assert := assert.New(t)

	for _, test := range []struct {
		in  float64
		out float64
	}{
		{in: 0, out: 0},
		{in: math.Pi, out: math.Pi},
		{in: -math.Pi, out: math.Pi},
		{in: 4*math.Pi + 0.1, out: 0.1},
		{in: -4*math.Pi - 0.1, out: -0.1},
		{in: 3 * math.Pi / 2, out: -math.Pi / 2},
		{in: -3 * math.Pi / 2, out: math.Pi / 2},
		{in: 100.0, out: 100.0 - 32*math.Pi},
	} {
		assert.InDelta(test.out, WrapToPi(test.in), 1e-9, "angle: %v", test.in)
	}

	for a := -50.0; a < 50.0; a += 0.37 {
		w := WrapToPi(a)
		assert.True(w > -math.Pi && w <= math.Pi, "angle %v wrapped to %v", a, w)
		assert.InDelta(math.Sin(a), math.Sin(w), 1e-9)
		assert.InDelta(math.Cos(a), math.Cos(w), 1e-9)
	}

	// repeated wrapping is stable
	w := 4*math.Pi + 0.1
	for i := 0; i < 5; i++ {
		w = WrapToPi(w)
	}
	assert.InDelta(0.1, w, 1e-9)
}

func TestCTRVPropagate(t *testing.T) {
	assert := assert.New(t)
	m := NewCTRV()

	nx, nq := m.Dims()
	assert.Equal(StateDim, nx)
	assert.Equal(NoiseDim, nq)

	// straight line
	x := mat.NewVecDense(5, []float64{0, 0, 10, 0, 0})
	out, err := m.Propagate(x, nil, 1.0)
	assert.NoError(err)
	assert.InDeltaSlice([]float64{10, 0, 10, 0, 0}, mat.Col(nil, 0, out), 1e-9)

	// zero elapsed time is identity
	x = mat.NewVecDense(5, []float64{1.5, -2, 3, 0.7, 0.4})
	out, err = m.Propagate(x, mat.NewVecDense(2, []float64{0.8, -0.3}), 0)
	assert.NoError(err)
	assert.InDeltaSlice(x.RawVector().Data, mat.Col(nil, 0, out), 1e-12)

	// process noise contributions
	x = mat.NewVecDense(5, []float64{0, 0, 0, 0, 0})
	out, err = m.Propagate(x, mat.NewVecDense(2, []float64{2, 1}), 2)
	assert.NoError(err)
	assert.InDeltaSlice([]float64{4, 0, 4, 2, 2}, mat.Col(nil, 0, out), 1e-9)

	// invalid dimensions
	out, err = m.Propagate(mat.NewVecDense(3, nil), nil, 1)
	assert.Nil(out)
	assert.Error(err)

	out, err = m.Propagate(x, mat.NewVecDense(3, nil), 1)
	assert.Nil(out)
	assert.Error(err)
}

func TestCTRVCurvedPath(t *testing.T) {
	assert := assert.New(t)
	m := NewCTRV()

	for _, test := range []struct {
		x  []float64
		dt float64
	}{
		{x: []float64{0, 0, 10, 0, 0.5}, dt: 1.0},
		{x: []float64{3, -1, 4, 2.5, -0.9}, dt: 0.5},
		{x: []float64{-5, 8, 1, -1.2, 0.002}, dt: 2.0},
		{x: []float64{1, 1, 5, 0.3, 0.0005}, dt: 1.0},
	} {
		out, err := m.Propagate(mat.NewVecDense(5, test.x), nil, test.dt)
		assert.NoError(err)
		want := rk4(test.x, test.dt, 2000)
		// straight line branch deviates by at most |v*yawd*dt^2|/2
		assert.InDeltaSlice(want, mat.Col(nil, 0, out), 1e-2, "state: %v", test.x)
		if math.Abs(test.x[4]) > MinYawRate {
			assert.InDeltaSlice(want, mat.Col(nil, 0, out), 1e-8, "state: %v", test.x)
		}
	}
}

func TestCTRVDerivative(t *testing.T) {
	assert := assert.New(t)
	m := NewCTRV()

	x := mat.NewVecDense(5, []float64{2, 3, 6, 0.4, 0.8})
	at := func(i int) func(float64) float64 {
		return func(dt float64) float64 {
			out, err := m.Propagate(x, nil, dt)
			if err != nil {
				panic(err)
			}
			return out.AtVec(i)
		}
	}

	settings := &fd.Settings{Formula: fd.Central}
	for _, tm := range []float64{0, 0.5, 1.3} {
		yaw := 0.4 + 0.8*tm
		assert.InDelta(6*math.Cos(yaw), fd.Derivative(at(0), tm, settings), 1e-5)
		assert.InDelta(6*math.Sin(yaw), fd.Derivative(at(1), tm, settings), 1e-5)
		assert.InDelta(0.8, fd.Derivative(at(3), tm, settings), 1e-5)
	}
}

func TestCTRVResidual(t *testing.T) {
	assert := assert.New(t)
	m := NewCTRV()

	a := mat.NewVecDense(5, []float64{1, 2, 3, math.Pi - 0.1, 0})
	b := mat.NewVecDense(5, []float64{0, 0, 1, -math.Pi + 0.1, 0})
	res := mat.NewVecDense(5, nil)
	m.Residual(res, a, b)
	assert.InDeltaSlice([]float64{1, 2, 2, -0.2, 0}, res.RawVector().Data, 1e-9)
}

func TestPosition(t *testing.T) {
	assert := assert.New(t)

	p, err := NewPosition(0.15, 0.2)
	assert.NotNil(p)
	assert.NoError(err)

	nx, nz := p.Dims()
	assert.Equal(StateDim, nx)
	assert.Equal(2, nz)

	z, err := p.Observe(mat.NewVecDense(5, []float64{5, 3, 1, 1, 1}))
	assert.NoError(err)
	assert.Equal([]float64{5, 3}, mat.Col(nil, 0, z))

	r := p.NoiseCov()
	assert.InDelta(0.0225, r.At(0, 0), 1e-12)
	assert.InDelta(0.04, r.At(1, 1), 1e-12)
	assert.Equal(0.0, r.At(0, 1))

	z, err = p.Observe(mat.NewVecDense(2, nil))
	assert.Nil(z)
	assert.Error(err)

	p, err = NewPosition(-1, 0.1)
	assert.Nil(p)
	assert.Error(err)
}

func TestPolar(t *testing.T) {
	assert := assert.New(t)

	p, err := NewPolar(0.3, 0.03, 0.3)
	assert.NotNil(p)
	assert.NoError(err)

	nx, nz := p.Dims()
	assert.Equal(StateDim, nx)
	assert.Equal(3, nz)

	// object at (3,4) moving straight away from the origin
	yaw := math.Atan2(4, 3)
	z, err := p.Observe(mat.NewVecDense(5, []float64{3, 4, 2, yaw, 0}))
	assert.NoError(err)
	assert.InDeltaSlice([]float64{5, yaw, 2}, mat.Col(nil, 0, z), 1e-9)

	// tangential motion has zero range rate
	z, err = p.Observe(mat.NewVecDense(5, []float64{5, 0, 2, math.Pi / 2, 0}))
	assert.NoError(err)
	assert.InDelta(0.0, z.AtVec(2), 1e-9)

	px, py := ToCartesian(mat.NewVecDense(3, []float64{5, math.Pi / 2, 0}))
	assert.InDelta(0.0, px, 1e-9)
	assert.InDelta(5.0, py, 1e-9)

	// degenerate geometry
	z, err = p.Observe(mat.NewVecDense(5, []float64{0, 0, 1, 0, 0}))
	assert.Nil(z)
	assert.True(errors.Is(err, ErrDegenerateGeometry))

	r := p.NoiseCov()
	assert.InDelta(0.09, r.At(0, 0), 1e-12)
	assert.InDelta(0.0009, r.At(1, 1), 1e-12)
	assert.InDelta(0.09, r.At(2, 2), 1e-12)

	res := mat.NewVecDense(3, nil)
	p.Residual(res, mat.NewVecDense(3, []float64{1, -math.Pi + 0.05, 1}), mat.NewVecDense(3, []float64{1, math.Pi - 0.05, 0}))
	assert.InDeltaSlice([]float64{0, 0.1, 1}, res.RawVector().Data, 1e-9)

	p, err = NewPolar(0.3, -0.03, 0.3)
	assert.Nil(p)
	assert.Error(err)
}
