package roa

import (
	"context"
	"fmt"

	"github.com/soren-falk/roalab/internal/dynamo"
	"github.com/soren-falk/roalab/internal/grid"
)

// Estimator computes the "true" region of attraction the brute-force way:
// simulate the closed loop from every grid point and check convergence to
// the origin. This is the ground truth the learned certificates are
// measured against.
//
// Integrators keep per-instance scratch buffers, so the estimator takes a
// factory and gives every worker goroutine its own instance.
type Estimator struct {
	dyn      dynamo.System
	ctrl     dynamo.Controller
	newInteg func() dynamo.Integrator

	// Dt and Horizon control each rollout; ConvergeRadius is the norm below
	// which the final state counts as converged; DivergeRadius aborts a
	// rollout early once the state is clearly gone.
	Dt             float64
	Horizon        float64
	ConvergeRadius float64
	DivergeRadius  float64
}

func NewEstimator(dyn dynamo.System, ctrl dynamo.Controller, newInteg func() dynamo.Integrator) *Estimator {
	return &Estimator{
		dyn:            dyn,
		ctrl:           ctrl,
		newInteg:       newInteg,
		Dt:             0.01,
		Horizon:        20.0,
		ConvergeRadius: 0.05,
		DivergeRadius:  10.0,
	}
}

// Result holds the per-grid-point convergence mask.
type Result struct {
	Mask      []bool
	Converged int
}

func (r *Result) Fraction() float64 {
	if len(r.Mask) == 0 {
		return 0
	}
	return float64(r.Converged) / float64(len(r.Mask))
}

// Converges simulates a single initial state to the horizon.
func (e *Estimator) Converges(x0 dynamo.State) bool {
	return e.converges(x0, e.newInteg())
}

func (e *Estimator) converges(x0 dynamo.State, integ dynamo.Integrator) bool {
	x := x0.Clone()
	steps := int(e.Horizon / e.Dt)

	for i := 0; i < steps; i++ {
		u := e.ctrl.Compute(x, float64(i)*e.Dt)
		x = integ.Step(e.dyn, x, u, float64(i)*e.Dt, e.Dt)

		if !x.IsValid() {
			return false
		}
		norm := x.Norm()
		if norm > e.DivergeRadius {
			return false
		}
		if norm < e.ConvergeRadius {
			return true
		}
	}

	return x.Norm() < e.ConvergeRadius
}

// Compute estimates the ROA over the whole grid, simulating chunks of
// points in parallel.
func (e *Estimator) Compute(ctx context.Context, world *grid.World) (*Result, error) {
	if world.Dims() != e.dyn.StateDim() {
		return nil, fmt.Errorf("roa: grid has %d dims, system wants %d", world.Dims(), e.dyn.StateDim())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	points := world.Points()
	mask := make([]bool, len(points))

	dynamo.ParallelFor(len(points), 32, func(start, end int) {
		integ := e.newInteg()
		for i := start; i < end; i++ {
			if ctx.Err() != nil {
				return
			}
			mask[i] = e.converges(points[i], integ)
		}
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{Mask: mask}
	for _, m := range mask {
		if m {
			result.Converged++
		}
	}
	return result, nil
}

// Label runs rollouts for a subset of grid indices only, returning +1 for
// converging states and -1 otherwise. The trainer uses this to label gap
// states without paying for the full grid.
func (e *Estimator) Label(ctx context.Context, world *grid.World, indices []int) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	labels := make([]float64, len(indices))
	dynamo.ParallelFor(len(indices), 8, func(start, end int) {
		integ := e.newInteg()
		for i := start; i < end; i++ {
			if ctx.Err() != nil {
				return
			}
			if e.converges(world.At(indices[i]), integ) {
				labels[i] = 1
			} else {
				labels[i] = -1
			}
		}
	})

	return labels, ctx.Err()
}
