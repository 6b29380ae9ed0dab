package sim

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	fusion "github.com/milosgajdos/go-fusion"
	"gonum.org/v1/gonum/mat"
)

// ReadLog reads tab separated sensor log from r and returns it as a simulation trace.
// Every line stores one measurement followed by its timestamp and the ground truth:
//
//	L  px   py        timestamp  px py vx vy [yaw yawd]
//	R  rho  phi  rhod timestamp  px py vx vy [yaw yawd]
//
// Ground truth velocity is converted to CTRV speed and yaw; missing yaw rate is set to 0.
// It returns error if the log is malformed.
func ReadLog(r io.Reader) (*Trace, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	trace := &Trace{}

	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		m, x, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		trace.Measurements = append(trace.Measurements, *m)
		trace.Truth = append(trace.Truth, x)
	}

	return trace, nil
}

func parseRecord(rec []string) (*fusion.Measurement, *mat.VecDense, error) {
	if len(rec) == 0 {
		return nil, nil, fmt.Errorf("empty record")
	}

	var s fusion.Sensor
	switch rec[0] {
	case "L":
		s = fusion.Position
	case "R":
		s = fusion.Range
	default:
		return nil, nil, fmt.Errorf("unknown sensor: %q", rec[0])
	}

	n := s.Dim()
	if len(rec) < 1+n+1+4 {
		return nil, nil, fmt.Errorf("invalid %v record length: %d", s, len(rec))
	}

	vals, err := parseFloats(rec[1 : 1+n])
	if err != nil {
		return nil, nil, err
	}

	ts, err := strconv.ParseInt(rec[1+n], 10, 64)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid timestamp: %w", err)
	}

	gt, err := parseFloats(rec[2+n:])
	if err != nil {
		return nil, nil, err
	}

	var yawd float64
	if len(gt) >= 6 {
		yawd = gt[5]
	}

	x := mat.NewVecDense(5, []float64{
		gt[0],
		gt[1],
		math.Hypot(gt[2], gt[3]),
		math.Atan2(gt[3], gt[2]),
		yawd,
	})

	m := &fusion.Measurement{
		Sensor:    s,
		Values:    mat.NewVecDense(n, vals),
		Timestamp: ts,
	}

	return m, x, nil
}

func parseFloats(fields []string) ([]float64, error) {
	vals := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", f, err)
		}
		vals[i] = v
	}

	return vals, nil
}
