package control

import (
	"testing"

	"github.com/soren-falk/roalab/internal/dynamo"
)

func TestLQRZeroAtTarget(t *testing.T) {
	ctrl := NewLQR([][]float64{{1.0, 2.0}}, dynamo.State{0, 0})

	u := ctrl.Compute(dynamo.State{0, 0}, 0)
	if u[0] != 0 {
		t.Errorf("expected zero control at target, got %f", u[0])
	}
}

func TestLQRPushesTowardTarget(t *testing.T) {
	ctrl := NewLQR([][]float64{{1.0, 0.5}}, dynamo.State{0, 0})

	u := ctrl.Compute(dynamo.State{1.0, 0}, 0)
	if u[0] >= 0 {
		t.Errorf("expected negative control for positive error, got %f", u[0])
	}
}

func TestLQRSaturation(t *testing.T) {
	ctrl := NewLQR([][]float64{{100.0, 0}}, dynamo.State{0, 0}).WithLimit(1.0)

	u := ctrl.Compute(dynamo.State{5.0, 0}, 0)
	if u[0] != -1.0 {
		t.Errorf("expected control clamped to -1, got %f", u[0])
	}

	u = ctrl.Compute(dynamo.State{-5.0, 0}, 0)
	if u[0] != 1.0 {
		t.Errorf("expected control clamped to 1, got %f", u[0])
	}
}

func TestSaturatedWrapper(t *testing.T) {
	inner := NewLQR([][]float64{{10.0, 0}}, dynamo.State{0, 0})
	ctrl := NewSaturated(inner, 0.5)

	u := ctrl.Compute(dynamo.State{1.0, 0}, 0)
	if u[0] != -0.5 {
		t.Errorf("expected -0.5, got %f", u[0])
	}
}

func TestNoneController(t *testing.T) {
	ctrl := NewNone(2)
	u := ctrl.Compute(dynamo.State{1.0, 2.0}, 0)

	if len(u) != 2 {
		t.Fatalf("expected 2 controls, got %d", len(u))
	}
	for i, v := range u {
		if v != 0 {
			t.Errorf("control[%d] should be 0, got %f", i, v)
		}
	}
}
