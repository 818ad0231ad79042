package roa

import (
	"context"
	"testing"

	"github.com/soren-falk/roalab/internal/control"
	"github.com/soren-falk/roalab/internal/dynamo"
	"github.com/soren-falk/roalab/internal/grid"
	"github.com/soren-falk/roalab/internal/integrators"
	"github.com/soren-falk/roalab/internal/physics"
)

// globallyStable is dx/dt = -x, which converges from everywhere.
type globallyStable struct{}

func (globallyStable) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	dx := make(dynamo.State, len(x))
	for i := range x {
		dx[i] = -x[i]
	}
	return dx
}
func (globallyStable) StateDim() int   { return 2 }
func (globallyStable) ControlDim() int { return 0 }

// unstable is dx/dt = +x, which diverges from everywhere but the origin.
type unstable struct{}

func (unstable) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	dx := make(dynamo.State, len(x))
	for i := range x {
		dx[i] = x[i]
	}
	return dx
}
func (unstable) StateDim() int   { return 2 }
func (unstable) ControlDim() int { return 0 }

func rk4Factory() dynamo.Integrator { return integrators.NewRK4() }

func testWorld(t *testing.T) *grid.World {
	t.Helper()
	w, err := grid.New([]grid.Bounds{{Min: -1, Max: 1}, {Min: -1, Max: 1}}, []int{11, 11})
	if err != nil {
		t.Fatalf("new grid: %v", err)
	}
	return w
}

func TestGloballyStableFullROA(t *testing.T) {
	e := NewEstimator(globallyStable{}, control.NewNone(0), rk4Factory)

	result, err := e.Compute(context.Background(), testWorld(t))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	if result.Fraction() != 1.0 {
		t.Errorf("expected full ROA, got fraction %f", result.Fraction())
	}
}

func TestUnstableEmptyROAExceptOrigin(t *testing.T) {
	e := NewEstimator(unstable{}, control.NewNone(0), rk4Factory)

	result, err := e.Compute(context.Background(), testWorld(t))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	// Only the origin itself stays below the convergence radius.
	if result.Converged != 1 {
		t.Errorf("expected only the origin to converge, got %d points", result.Converged)
	}
}

func TestPendulumROAPartial(t *testing.T) {
	if testing.Short() {
		t.Skip("full grid simulation")
	}

	pend := physics.NewInvertedPendulum()
	ctrl, _, err := control.Synthesize(pend, []float64{100, 1}, []float64{1})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	ctrl.Limit = 1 // normalized torque saturates at 1

	e := NewEstimator(pend, ctrl, rk4Factory)
	world, err := grid.New([]grid.Bounds{{Min: -1, Max: 1}, {Min: -1, Max: 1}}, []int{21, 21})
	if err != nil {
		t.Fatalf("new grid: %v", err)
	}

	result, err := e.Compute(context.Background(), world)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	// Near upright converges, a horizontal pendulum with saturated torque
	// does not, so the ROA is a proper subset.
	if !result.Mask[world.Nearest(dynamo.State{0.02, 0})] {
		t.Error("states near upright should be in the ROA")
	}
	frac := result.Fraction()
	if frac <= 0 || frac >= 1 {
		t.Errorf("expected partial ROA, got fraction %f", frac)
	}
}

func TestLabelMatchesMask(t *testing.T) {
	e := NewEstimator(globallyStable{}, control.NewNone(0), rk4Factory)
	world := testWorld(t)

	indices := []int{0, 5, 60, 120}
	labels, err := e.Label(context.Background(), world, indices)
	if err != nil {
		t.Fatalf("label: %v", err)
	}

	for i, l := range labels {
		if l != 1 {
			t.Errorf("index %d: expected label +1, got %f", indices[i], l)
		}
	}
}

func TestComputeDimensionMismatch(t *testing.T) {
	e := NewEstimator(globallyStable{}, control.NewNone(0), rk4Factory)

	w, err := grid.New([]grid.Bounds{{Min: -1, Max: 1}}, []int{5})
	if err != nil {
		t.Fatalf("new grid: %v", err)
	}

	if _, err := e.Compute(context.Background(), w); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestComputeCancellation(t *testing.T) {
	e := NewEstimator(globallyStable{}, control.NewNone(0), rk4Factory)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Compute(ctx, testWorld(t)); err == nil {
		t.Error("expected context error")
	}
}
