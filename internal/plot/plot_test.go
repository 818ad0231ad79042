package plot

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/soren-falk/roalab/internal/grid"
	"github.com/soren-falk/roalab/internal/train"
)

func testWorld(t *testing.T) *grid.World {
	t.Helper()
	world, err := grid.New([]grid.Bounds{{Min: -1, Max: 1}, {Min: -1, Max: 1}}, []int{7, 7})
	if err != nil {
		t.Fatalf("new grid: %v", err)
	}
	return world
}

func TestEllipsePointsOnCircle(t *testing.T) {
	p := mat.NewDense(2, 2, []float64{1, 0, 0, 1})

	pts, err := EllipsePoints(p, 1.0, 8)
	if err != nil {
		t.Fatalf("ellipse: %v", err)
	}
	if len(pts) != 9 {
		t.Fatalf("expected 9 points, got %d", len(pts))
	}

	// Identity P at level 1 is the unit circle.
	for _, pt := range pts {
		r := math.Hypot(pt.X, pt.Y)
		if math.Abs(r-1.0) > 1e-9 {
			t.Errorf("point (%f, %f) has radius %f", pt.X, pt.Y, r)
		}
	}
}

func TestEllipsePointsStayOnLevelSet(t *testing.T) {
	p := mat.NewDense(2, 2, []float64{3, 1, 1, 2})
	level := 0.7

	pts, err := EllipsePoints(p, level, 32)
	if err != nil {
		t.Fatalf("ellipse: %v", err)
	}

	for _, pt := range pts {
		x := mat.NewVecDense(2, []float64{pt.X, pt.Y})
		var px mat.VecDense
		px.MulVec(p, x)
		v := mat.Dot(x, &px)
		if math.Abs(v-level) > 1e-9 {
			t.Errorf("point (%f, %f): x'Px = %f, want %f", pt.X, pt.Y, v, level)
		}
	}
}

func TestEllipsePointsValidation(t *testing.T) {
	if _, err := EllipsePoints(mat.NewDense(3, 3, nil), 1, 8); err == nil {
		t.Error("expected error for non-2x2 matrix")
	}
	if _, err := EllipsePoints(mat.NewDense(2, 2, []float64{1, 0, 0, 1}), 0, 8); err == nil {
		t.Error("expected error for non-positive level")
	}
	if _, err := EllipsePoints(mat.NewDense(2, 2, []float64{1, 0, 0, -1}), 1, 8); err == nil {
		t.Error("expected error for indefinite matrix")
	}
}

func TestSaveRegionWritesFile(t *testing.T) {
	world := testWorld(t)
	n := world.Len()

	basin := make([]bool, n)
	certified := make([]bool, n)
	for i := 0; i < n/2; i++ {
		basin[i] = true
	}
	for i := 0; i < n/4; i++ {
		certified[i] = true
	}

	path := filepath.Join(t.TempDir(), "region.png")
	p := mat.NewDense(2, 2, []float64{2, 0, 0, 1})

	if err := SaveRegion(path, world, basin, certified, p, 0.5); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() == 0 {
		t.Error("expected a non-empty file")
	}
}

func TestSaveRegionRejectsNon2D(t *testing.T) {
	world, err := grid.New([]grid.Bounds{{Min: -1, Max: 1}}, []int{5})
	if err != nil {
		t.Fatalf("new grid: %v", err)
	}

	path := filepath.Join(t.TempDir(), "region.png")
	if err := SaveRegion(path, world, nil, nil, nil, 0); err == nil {
		t.Error("expected error for 1-D grid")
	}
}

func TestSaveHistoryWritesFile(t *testing.T) {
	records := []train.Record{
		{Iteration: 0, CertifiedFraction: 0.2},
		{Iteration: 1, CertifiedFraction: 0.35},
		{Iteration: 2, CertifiedFraction: 0.5},
	}

	path := filepath.Join(t.TempDir(), "history.svg")
	if err := SaveHistory(path, records, 0.6); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() == 0 {
		t.Error("expected a non-empty file")
	}
}

func TestSaveHistoryNeedsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.png")
	if err := SaveHistory(path, nil, 0); err == nil {
		t.Error("expected error without records")
	}
}
