// Package plot exports publication-quality figures of certification results:
// the simulated basin of attraction against the certified level set, the
// quadratic baseline ellipse, and the training history. The output format
// follows the file extension (png, svg, pdf).
package plot

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/soren-falk/roalab/internal/grid"
	"github.com/soren-falk/roalab/internal/train"
)

var (
	basinColor     = color.RGBA{R: 120, G: 170, B: 255, A: 255}
	certifiedColor = color.RGBA{R: 40, G: 180, B: 100, A: 255}
	ellipseColor   = color.RGBA{R: 220, G: 60, B: 60, A: 255}
)

// SaveRegion draws the grid points of the basin and the certified set as two
// scatter layers. When p and level are given, the ellipse x'Px = level is
// overlaid as the quadratic baseline.
func SaveRegion(path string, world *grid.World, basin, certified []bool, p *mat.Dense, level float64) error {
	if world.Dims() != 2 {
		return fmt.Errorf("plot: region plots need a 2-D grid, got %d dims", world.Dims())
	}

	pl := plot.New()
	pl.Title.Text = "region of attraction"
	pl.X.Label.Text = "x0"
	pl.Y.Label.Text = "x1"

	basinPts := maskPoints(world, basin, certified)
	certPts := maskPoints(world, certified, nil)

	if len(basinPts) > 0 {
		s, err := plotter.NewScatter(basinPts)
		if err != nil {
			return err
		}
		s.GlyphStyle.Color = basinColor
		s.GlyphStyle.Radius = vg.Points(1.2)
		pl.Add(s)
		pl.Legend.Add("basin", s)
	}

	if len(certPts) > 0 {
		s, err := plotter.NewScatter(certPts)
		if err != nil {
			return err
		}
		s.GlyphStyle.Color = certifiedColor
		s.GlyphStyle.Radius = vg.Points(1.2)
		pl.Add(s)
		pl.Legend.Add("certified", s)
	}

	if p != nil && level > 0 {
		ellipse, err := EllipsePoints(p, level, 200)
		if err != nil {
			return err
		}
		line, err := plotter.NewLine(ellipse)
		if err != nil {
			return err
		}
		line.LineStyle.Width = vg.Points(1.5)
		line.LineStyle.Color = ellipseColor
		pl.Add(line)
		pl.Legend.Add("x'Px = c", line)
	}

	bounds := world.Bounds()
	pl.X.Min, pl.X.Max = bounds[0].Min, bounds[0].Max
	pl.Y.Min, pl.Y.Max = bounds[1].Min, bounds[1].Max

	return pl.Save(6*vg.Inch, 6*vg.Inch, path)
}

// maskPoints collects grid points where mask holds; when unless is non-nil,
// points in it are skipped so the layers do not overdraw each other.
func maskPoints(world *grid.World, mask, unless []bool) plotter.XYs {
	pts := make(plotter.XYs, 0)
	for i := 0; i < world.Len() && i < len(mask); i++ {
		if !mask[i] {
			continue
		}
		if unless != nil && i < len(unless) && unless[i] {
			continue
		}
		p := world.At(i)
		pts = append(pts, plotter.XY{X: p[0], Y: p[1]})
	}
	return pts
}

// EllipsePoints parametrizes the boundary of {x : x'Px = level} for a
// symmetric positive definite 2x2 P. With P = V diag(l) V', the boundary is
// x(t) = sqrt(level) * V * (cos t / sqrt(l0), sin t / sqrt(l1)).
func EllipsePoints(p *mat.Dense, level float64, n int) (plotter.XYs, error) {
	r, c := p.Dims()
	if r != 2 || c != 2 {
		return nil, fmt.Errorf("plot: ellipse needs a 2x2 matrix, got %dx%d", r, c)
	}
	if level <= 0 {
		return nil, fmt.Errorf("plot: level must be positive, got %f", level)
	}

	sym := mat.NewSymDense(2, nil)
	for i := 0; i < 2; i++ {
		for j := i; j < 2; j++ {
			sym.SetSym(i, j, 0.5*(p.At(i, j)+p.At(j, i)))
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return nil, fmt.Errorf("plot: eigendecomposition failed")
	}
	vals := eig.Values(nil)
	if vals[0] <= 0 || vals[1] <= 0 {
		return nil, fmt.Errorf("plot: matrix is not positive definite")
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	pts := make(plotter.XYs, n+1)
	for k := 0; k <= n; k++ {
		t := 2 * math.Pi * float64(k) / float64(n)
		a := math.Sqrt(level/vals[0]) * math.Cos(t)
		b := math.Sqrt(level/vals[1]) * math.Sin(t)
		pts[k] = plotter.XY{
			X: vecs.At(0, 0)*a + vecs.At(0, 1)*b,
			Y: vecs.At(1, 0)*a + vecs.At(1, 1)*b,
		}
	}
	return pts, nil
}

// SaveHistory plots the certified fraction and the basin fraction target per
// iteration.
func SaveHistory(path string, records []train.Record, basinFraction float64) error {
	if len(records) == 0 {
		return fmt.Errorf("plot: no records to plot")
	}

	pl := plot.New()
	pl.Title.Text = "training history"
	pl.X.Label.Text = "iteration"
	pl.Y.Label.Text = "fraction of grid"
	pl.Y.Min, pl.Y.Max = 0, 1

	pts := make(plotter.XYs, len(records))
	for i, rec := range records {
		pts[i] = plotter.XY{X: float64(rec.Iteration), Y: rec.CertifiedFraction}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.LineStyle.Width = vg.Points(2)
	line.LineStyle.Color = certifiedColor
	pl.Add(line)
	pl.Legend.Add("certified", line)

	if basinFraction > 0 {
		target := plotter.XYs{
			{X: float64(records[0].Iteration), Y: basinFraction},
			{X: float64(records[len(records)-1].Iteration), Y: basinFraction},
		}
		ref, err := plotter.NewLine(target)
		if err != nil {
			return err
		}
		ref.LineStyle.Width = vg.Points(1)
		ref.LineStyle.Color = basinColor
		ref.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
		pl.Add(ref)
		pl.Legend.Add("basin", ref)
	}

	return pl.Save(6*vg.Inch, 4*vg.Inch, path)
}
