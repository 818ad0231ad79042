package dynamo

import (
	"context"
	"math"
	"testing"
)

// decay is dx/dt = -x, closed form x(t) = x0 * exp(-t).
type decay struct{}

func (d *decay) Derive(x State, u Control, t float64) State {
	return State{-x[0]}
}
func (d *decay) StateDim() int   { return 1 }
func (d *decay) ControlDim() int { return 0 }

type eulerStep struct{}

func (e *eulerStep) Step(dyn System, x State, u Control, t, dt float64) State {
	dx := dyn.Derive(x, u, t)
	result := make(State, len(x))
	for i := range x {
		result[i] = x[i] + dt*dx[i]
	}
	return result
}

type zeroCtrl struct{ dim int }

func (z *zeroCtrl) Compute(x State, t float64) Control {
	return make(Control, z.dim)
}

func TestSimulatorRun(t *testing.T) {
	s := New(&decay{}, &eulerStep{}, &zeroCtrl{})

	cfg := Config{Dt: 0.001, Duration: 1.0, ValidateState: true}
	result, err := s.Run(context.Background(), State{1.0}, cfg)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	final := result.Final()
	expected := math.Exp(-1.0)
	if math.Abs(final[0]-expected) > 1e-3 {
		t.Errorf("expected %.4f, got %.4f", expected, final[0])
	}

	if result.StepsTaken != 1000 {
		t.Errorf("expected 1000 steps, got %d", result.StepsTaken)
	}
	if len(result.States) != result.StepsTaken+1 {
		t.Errorf("states length %d does not match steps %d", len(result.States), result.StepsTaken)
	}
}

func TestSimulatorDimensionMismatch(t *testing.T) {
	s := New(&decay{}, &eulerStep{}, &zeroCtrl{})

	_, err := s.Run(context.Background(), State{1.0, 2.0}, DefaultConfig())
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestSimulatorInvalidConfig(t *testing.T) {
	s := New(&decay{}, &eulerStep{}, &zeroCtrl{})

	_, err := s.Run(context.Background(), State{1.0}, Config{Dt: -1, Duration: 1})
	if err == nil {
		t.Error("expected error for negative dt")
	}

	_, err = s.Run(context.Background(), State{1.0}, Config{Dt: 0.01, Duration: 0})
	if err == nil {
		t.Error("expected error for zero duration")
	}
}

func TestSimulatorCancellation(t *testing.T) {
	s := New(&decay{}, &eulerStep{}, &zeroCtrl{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Run(ctx, State{1.0}, DefaultConfig())
	if err == nil {
		t.Error("expected context error")
	}
}

func TestRunWithCallbackStopsEarly(t *testing.T) {
	s := New(&decay{}, &eulerStep{}, &zeroCtrl{})

	calls := 0
	err := s.RunWithCallback(context.Background(), State{1.0}, DefaultConfig(), func(x State, u Control, t float64) bool {
		calls++
		return calls < 5
	})
	if err != nil {
		t.Fatalf("callback run failed: %v", err)
	}
	if calls != 5 {
		t.Errorf("expected 5 callback invocations, got %d", calls)
	}
}

// scratchStep keeps a reusable buffer like the production integrators, so
// sharing one instance across goroutines would corrupt the trajectories.
type scratchStep struct{ buf State }

func (s *scratchStep) Step(dyn System, x State, u Control, t, dt float64) State {
	if len(s.buf) != len(x) {
		s.buf = make(State, len(x))
	}
	dx := dyn.Derive(x, u, t)
	for i := range x {
		s.buf[i] = x[i] + dt*dx[i]
	}
	out := make(State, len(x))
	copy(out, s.buf)
	return out
}

func TestEnsembleRun(t *testing.T) {
	ens := NewEnsemble(&decay{}, func() Integrator { return &scratchStep{} }, &zeroCtrl{}, 7)

	starts := make([]State, 64)
	for i := range starts {
		starts[i] = State{1.0 + float64(i)*0.01}
	}

	results, err := ens.Run(context.Background(), starts, Config{Dt: 0.001, Duration: 1.0, ValidateState: true})
	if err != nil {
		t.Fatalf("ensemble run failed: %v", err)
	}
	if len(results) != len(starts) {
		t.Fatalf("expected %d results, got %d", len(starts), len(results))
	}

	for i, r := range results {
		want := starts[i][0] * math.Exp(-1.0)
		if got := r.Final()[0]; math.Abs(got-want) > 1e-3 {
			t.Errorf("run %d: expected %.4f, got %.4f", i, want, got)
		}
	}
}

func TestParallelFor(t *testing.T) {
	n := 1000
	hits := make([]int, n)

	ParallelFor(n, 16, func(start, end int) {
		for i := start; i < end; i++ {
			hits[i]++
		}
	})

	for i, h := range hits {
		if h != 1 {
			t.Fatalf("index %d visited %d times", i, h)
		}
	}
}
