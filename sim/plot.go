package sim

import (
	"fmt"
	"image/color"
	"math"

	fusion "github.com/milosgajdos/go-fusion"
	"github.com/milosgajdos/go-fusion/model"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// New2DPlot creates new plot of the simulation from the three data sources:
// truth:   true object positions
// measure: measured positions
// filter:  filter position estimates
// Every data source stores [px, py] in the first two columns of its rows.
// It returns error if the plot fails to be created. This can be due to either of the following conditions:
// * either of the supplied data matrices is nil
// * either of the supplied data matrices does not have at least 2 columns
// * gonum plot fails to be created
func New2DPlot(truth, measure, filter *mat.Dense) (*plot.Plot, error) {
	if truth == nil || measure == nil || filter == nil {
		return nil, fmt.Errorf("invalid data supplied")
	}

	_, cmd := truth.Dims()
	_, cms := measure.Dims()
	_, cmf := filter.Dims()

	if cmd < 2 || cms < 2 || cmf < 2 {
		return nil, fmt.Errorf("invalid data dimensions")
	}

	p := plot.New()

	p.Title.Text = "CTRV tracking"
	p.X.Label.Text = "px [m]"
	p.Y.Label.Text = "py [m]"

	legend := plot.NewLegend()
	legend.Top = true
	p.Legend = legend

	truthLine, err := plotter.NewLine(makePoints(truth))
	if err != nil {
		return nil, err
	}
	truthLine.LineStyle.Color = color.RGBA{R: 255, B: 128, A: 255}
	truthLine.LineStyle.Width = vg.Points(1)

	p.Add(truthLine)
	p.Legend.Add("truth", truthLine)

	measScatter, err := plotter.NewScatter(makePoints(measure))
	if err != nil {
		return nil, err
	}
	measScatter.GlyphStyle.Color = color.RGBA{G: 255, A: 128}
	measScatter.GlyphStyle.Radius = vg.Points(2)

	p.Add(measScatter)
	p.Legend.Add("measurement", measScatter)

	filterScatter, err := plotter.NewScatter(makePoints(filter))
	if err != nil {
		return nil, fmt.Errorf("failed to create scatter: %v", err)
	}
	filterScatter.GlyphStyle.Color = color.RGBA{R: 169, G: 169, B: 169, A: 255}
	filterScatter.Shape = draw.CrossGlyph{}
	filterScatter.GlyphStyle.Radius = vg.Points(2)

	p.Add(filterScatter)
	p.Legend.Add("filtered", filterScatter)

	return p, nil
}

// NewNISPlot creates new plot of normalized innovation squared values nis
// together with the consistency threshold. NaN values are skipped.
// It returns error if nis contains no values or if threshold is not positive.
func NewNISPlot(title string, nis []float64, threshold float64) (*plot.Plot, error) {
	if threshold <= 0 {
		return nil, fmt.Errorf("invalid threshold: %f", threshold)
	}

	pts := make(plotter.XYs, 0, len(nis))
	for i, v := range nis {
		if math.IsNaN(v) {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(i), Y: v})
	}

	if len(pts) == 0 {
		return nil, fmt.Errorf("no NIS values supplied")
	}

	p := plot.New()

	p.Title.Text = title
	p.X.Label.Text = "step"
	p.Y.Label.Text = "NIS"

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.LineStyle.Color = color.RGBA{B: 255, A: 255}

	limit := plotter.NewFunction(func(float64) float64 { return threshold })
	limit.LineStyle.Color = color.RGBA{R: 255, A: 255}
	limit.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	p.Add(line, limit)
	p.Legend.Add("NIS", line)
	p.Legend.Add(fmt.Sprintf("%.2f", threshold), limit)

	return p, nil
}

// Positions returns matrix whose rows store [px, py] of the states in xs.
// It returns nil if xs is empty.
func Positions(xs []*mat.VecDense) *mat.Dense {
	if len(xs) == 0 {
		return nil
	}

	pos := mat.NewDense(len(xs), 2, nil)
	for i, x := range xs {
		pos.Set(i, 0, x.AtVec(0))
		pos.Set(i, 1, x.AtVec(1))
	}

	return pos
}

// MeasuredPositions returns matrix whose rows store measured [px, py].
// Range measurements are converted to cartesian coordinates.
// It returns nil if ms contains no position or range measurements.
func MeasuredPositions(ms []fusion.Measurement) *mat.Dense {
	data := make([]float64, 0, 2*len(ms))
	for _, m := range ms {
		switch m.Sensor {
		case fusion.Position:
			data = append(data, m.Values.AtVec(0), m.Values.AtVec(1))
		case fusion.Range:
			px, py := model.ToCartesian(m.Values)
			data = append(data, px, py)
		}
	}

	if len(data) == 0 {
		return nil
	}

	return mat.NewDense(len(data)/2, 2, data)
}

func makePoints(m *mat.Dense) plotter.XYs {
	r, _ := m.Dims()
	pts := make(plotter.XYs, r)
	for i := 0; i < r; i++ {
		pts[i].X = m.At(i, 0)
		pts[i].Y = m.At(i, 1)
	}

	return pts
}
