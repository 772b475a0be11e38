// Package report renders evaluation charts for a trained fare model.
package report

import (
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/ezoic/taxifare/metrics"
	"github.com/ezoic/taxifare/pkg/errors"
	"github.com/ezoic/taxifare/pkg/log"
)

// Default image size.
const (
	DefaultWidth  = 8 * vg.Inch
	DefaultHeight = 6 * vg.Inch
)

// PredictionPlot draws predicted against actual fares with the identity
// line y = x. Points on the line are perfect predictions.
type PredictionPlot struct {
	Title  string
	Width  vg.Length
	Height vg.Length
}

// NewPredictionPlot returns a plot with the default title and size.
func NewPredictionPlot() *PredictionPlot {
	return &PredictionPlot{
		Title:  "Taxi fare: predicted vs actual",
		Width:  DefaultWidth,
		Height: DefaultHeight,
	}
}

// Build returns the plot without saving it.
func (pp *PredictionPlot) Build(yTrue, yPred mat.Matrix) (*plot.Plot, error) {
	report, err := metrics.Evaluate(yTrue, yPred)
	if err != nil {
		return nil, err
	}
	actual, _ := metrics.ColumnVector("PredictionPlot", yTrue)
	predicted, _ := metrics.ColumnVector("PredictionPlot", yPred)

	// 散布図の点と軸の範囲を求める
	n := actual.Len()
	pts := make(plotter.XYs, n)
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := 0; i < n; i++ {
		pts[i].X = actual.AtVec(i)
		pts[i].Y = predicted.AtVec(i)
		lo = math.Min(lo, math.Min(pts[i].X, pts[i].Y))
		hi = math.Max(hi, math.Max(pts[i].X, pts[i].Y))
	}
	if lo == hi {
		lo, hi = lo-1, hi+1
	}

	p := plot.New()
	p.Title.Text = pp.Title + "\n" + metricsLabel(report)
	p.X.Label.Text = "Actual fare (USD)"
	p.Y.Label.Text = "Predicted fare (USD)"
	p.Add(plotter.NewGrid())

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, errors.Wrap(err, "PredictionPlot: scatter")
	}
	scatter.GlyphStyle.Shape = draw.CircleGlyph{}
	scatter.GlyphStyle.Radius = vg.Points(2)
	scatter.GlyphStyle.Color = color.RGBA{R: 31, G: 119, B: 180, A: 160}
	p.Add(scatter)
	p.Legend.Add("Test trips", scatter)

	identity, err := plotter.NewLine(plotter.XYs{{X: lo, Y: lo}, {X: hi, Y: hi}})
	if err != nil {
		return nil, errors.Wrap(err, "PredictionPlot: identity line")
	}
	identity.Width = vg.Points(1.5)
	identity.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	identity.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	p.Add(identity)
	p.Legend.Add("y = x", identity)
	p.Legend.Top = true
	p.Legend.Left = true

	p.X.Min, p.X.Max = lo, hi
	p.Y.Min, p.Y.Max = lo, hi

	return p, nil
}

// Save renders the plot to path. The format follows the file extension
// (png, svg, pdf ...).
func (pp *PredictionPlot) Save(path string, yTrue, yPred mat.Matrix) error {
	p, err := pp.Build(yTrue, yPred)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "PredictionPlot: create %s", dir)
		}
	}
	w, h := pp.Width, pp.Height
	if w <= 0 || h <= 0 {
		w, h = DefaultWidth, DefaultHeight
	}
	if err := p.Save(w, h, path); err != nil {
		return errors.Wrapf(err, "PredictionPlot: save %s", path)
	}
	log.GetLoggerWithName("report").Info("Prediction plot saved", log.PathKey, path)
	return nil
}

func metricsLabel(r metrics.Report) string {
	return "RMSE " + format(r.RMSE) + "  MAE " + format(r.MAE) + "  R² " + format(r.R2)
}

func format(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}
