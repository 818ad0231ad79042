package physics

import (
	"math"
	"testing"

	"github.com/soren-falk/roalab/internal/dynamo"
)

func TestCartPoleEquilibrium(t *testing.T) {
	c := NewCartPole()

	dx := c.Derive(dynamo.State{0, 0, 0, 0}, dynamo.Control{0}, 0)
	for i, v := range dx {
		if math.Abs(v) > 1e-12 {
			t.Errorf("expected zero derivative at upright, got dx[%d]=%f", i, v)
		}
	}
}

func TestCartPoleDimensions(t *testing.T) {
	c := NewCartPole()

	if c.StateDim() != 4 {
		t.Errorf("expected state dim 4, got %d", c.StateDim())
	}
	if c.ControlDim() != 1 {
		t.Errorf("expected control dim 1, got %d", c.ControlDim())
	}
}

func TestCartPoleLinearizeMatchesDynamics(t *testing.T) {
	c := NewCartPole()
	a, b := c.Linearize()

	x := dynamo.State{1e-4, -1e-4, 2e-4, 1e-4}
	u := dynamo.Control{5e-4}

	dx := c.Derive(x, u, 0)
	for i := 0; i < 4; i++ {
		lin := b[i][0] * u[0]
		for j := 0; j < 4; j++ {
			lin += a[i][j] * x[j]
		}
		if math.Abs(dx[i]-lin) > 1e-7 {
			t.Errorf("row %d: nonlinear %.10f vs linearized %.10f", i, dx[i], lin)
		}
	}
}

func TestCartPoleFallsWithoutControl(t *testing.T) {
	c := NewCartPole()

	dx := c.Derive(dynamo.State{0, 0, 0.1, 0}, dynamo.Control{0}, 0)
	if dx[3] <= 0 {
		t.Errorf("tilted pole should accelerate away from upright, got %f", dx[3])
	}
}
