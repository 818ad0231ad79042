package experiment

import (
	"context"
	"testing"

	"github.com/soren-falk/roalab/internal/config"
)

func quickConfig() *config.Config {
	cfg := config.GetPreset("pendulum", "quick")
	cfg.Grid.Samples = []int{9, 9}
	return cfg
}

func TestRegistryLookups(t *testing.T) {
	reg := NewRegistry()

	if _, err := reg.Model("pendulum"); err != nil {
		t.Errorf("pendulum should be registered: %v", err)
	}
	if _, err := reg.Model("bogus"); err == nil {
		t.Error("expected error for unknown model")
	}
	if _, err := reg.IntegratorFactory("rk4"); err != nil {
		t.Errorf("rk4 should be registered: %v", err)
	}
	if _, err := reg.IntegratorFactory("bogus"); err == nil {
		t.Error("expected error for unknown integrator")
	}

	names := reg.ModelNames()
	if len(names) < 2 {
		t.Errorf("expected at least 2 models, got %v", names)
	}
}

func TestBuildNeural(t *testing.T) {
	exp, err := Build(quickConfig(), NewRegistry())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if exp.Net == nil {
		t.Fatal("neural candidate should expose the network")
	}
	if exp.Candidate == nil || exp.Verifier == nil || exp.Estimator == nil {
		t.Fatal("experiment is not fully wired")
	}
	if exp.World.Dims() != exp.Dyn.StateDim() {
		t.Error("grid dimension does not match the system")
	}

	if _, err := exp.Trainer(); err != nil {
		t.Errorf("trainer: %v", err)
	}
}

func TestBuildQuadraticCertifies(t *testing.T) {
	cfg := quickConfig()
	cfg.Candidate = "quadratic"

	exp, err := Build(cfg, NewRegistry())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if exp.Net != nil {
		t.Error("quadratic candidate should not build a network")
	}

	values, cert, err := exp.Certify()
	if err != nil {
		t.Fatalf("certify: %v", err)
	}
	if len(values) != exp.World.Len() {
		t.Errorf("expected %d values, got %d", exp.World.Len(), len(values))
	}
	// The LQR quadratic certifies at least a neighborhood of the upright
	// equilibrium on this grid.
	if cert.Size == 0 {
		t.Error("expected the LQR baseline to certify some region")
	}

	if _, err := exp.Trainer(); err == nil {
		t.Error("quadratic candidate should not be trainable")
	}
}

func TestBuildRejectsUnknownCandidate(t *testing.T) {
	cfg := quickConfig()
	cfg.Candidate = "polynomial"

	if _, err := Build(cfg, NewRegistry()); err == nil {
		t.Error("expected error for unknown candidate")
	}
}

func TestEstimateROA(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping simulation sweep in short mode")
	}

	exp, err := Build(quickConfig(), NewRegistry())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	result, err := exp.EstimateROA(context.Background())
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if len(result.Mask) != exp.World.Len() {
		t.Errorf("expected %d mask entries, got %d", exp.World.Len(), len(result.Mask))
	}
	// Saturation keeps the far corners out of the ROA while the LQR holds a
	// neighborhood of upright.
	if result.Converged == 0 {
		t.Error("expected some converging states")
	}
	if result.Converged == len(result.Mask) {
		t.Error("expected the weak actuator to lose some states")
	}
}
