package lyapunov

import (
	"fmt"
	"math"
	"sort"

	"github.com/soren-falk/roalab/internal/dynamo"
	"github.com/soren-falk/roalab/internal/grid"
)

// Verifier checks the discrete-time decrease condition for a candidate over
// a grid: V(x+) - V(x) < -tol, where x+ is one closed-loop integrator step.
// Using the same step the ROA estimator simulates with keeps the certificate
// and the simulation talking about the same system.
// Integrators keep per-instance scratch buffers, so the verifier takes a
// factory and hands each parallel worker its own instance.
type Verifier struct {
	fn       Function
	dyn      dynamo.System
	ctrl     dynamo.Controller
	newInteg func() dynamo.Integrator
	serial   dynamo.Integrator
	world    *grid.World
	dt       float64
}

func NewVerifier(fn Function, dyn dynamo.System, ctrl dynamo.Controller, newInteg func() dynamo.Integrator, world *grid.World, dt float64) (*Verifier, error) {
	if dt <= 0 {
		return nil, fmt.Errorf("lyapunov: dt must be positive, got %f", dt)
	}
	if world.Dims() != dyn.StateDim() {
		return nil, fmt.Errorf("lyapunov: grid has %d dims, system wants %d", world.Dims(), dyn.StateDim())
	}
	return &Verifier{fn: fn, dyn: dyn, ctrl: ctrl, newInteg: newInteg, serial: newInteg(), world: world, dt: dt}, nil
}

// StepOnce advances x by one closed-loop step. Not safe for concurrent use;
// the parallel paths below create their own integrators.
func (v *Verifier) StepOnce(x dynamo.State) dynamo.State {
	return v.stepOnce(x, v.serial)
}

func (v *Verifier) stepOnce(x dynamo.State, integ dynamo.Integrator) dynamo.State {
	u := v.ctrl.Compute(x, 0)
	return integ.Step(v.dyn, x, u, 0, v.dt)
}

// Decrease returns V(x+) - V(x) for a single state.
func (v *Verifier) Decrease(x dynamo.State) float64 {
	return v.decrease(x, v.serial)
}

func (v *Verifier) decrease(x dynamo.State, integ dynamo.Integrator) float64 {
	next := v.stepOnce(x, integ)
	if !next.IsValid() {
		return math.Inf(1)
	}
	return v.fn.Eval(next) - v.fn.Eval(x)
}

// DecreaseAll computes the decrease at every grid point, in parallel.
func (v *Verifier) DecreaseAll() []float64 {
	points := v.world.Points()
	out := make([]float64, len(points))
	dynamo.ParallelFor(len(points), 64, func(start, end int) {
		integ := v.newInteg()
		for i := start; i < end; i++ {
			out[i] = v.decrease(points[i], integ)
		}
	})
	return out
}

// Values evaluates the candidate at every grid point.
func (v *Verifier) Values() []float64 {
	return EvalAll(v.fn, v.world.Points())
}

// Certificate is the result of a level-set expansion: the largest certified
// level and the sublevel-set membership mask over the grid.
type Certificate struct {
	CMax      float64
	Certified []bool
	Size      int
}

// Fraction is the share of grid points inside the certified set.
func (c *Certificate) Fraction() float64 {
	if len(c.Certified) == 0 {
		return 0
	}
	return float64(c.Size) / float64(len(c.Certified))
}

// SafeLevelSet finds the largest level c such that every grid point with
// V(x) <= c satisfies the decrease condition, skipping points in the exclude
// mask (typically a small ball around the origin where the decrease is
// numerically meaningless). Points are admitted in order of increasing V, so
// the certified region is a sublevel set by construction.
func SafeLevelSet(values, decrease []float64, exclude []bool, tol float64) (*Certificate, error) {
	n := len(values)
	if len(decrease) != n {
		return nil, fmt.Errorf("lyapunov: %d values but %d decrease entries", n, len(decrease))
	}
	if exclude != nil && len(exclude) != n {
		return nil, fmt.Errorf("lyapunov: exclude mask has %d entries, want %d", len(exclude), n)
	}
	if tol < 0 {
		return nil, fmt.Errorf("lyapunov: tolerance must be non-negative, got %f", tol)
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return values[order[a]] < values[order[b]]
	})

	cMax := math.Inf(-1)
	for _, i := range order {
		skip := exclude != nil && exclude[i]
		if !skip && decrease[i] >= -tol {
			// The certified set is {V <= cMax}, so the level has to stay
			// strictly below the violating value: a tie would pull the
			// violator into the sublevel set.
			if cMax >= values[i] {
				cMax = math.Inf(-1)
				for _, j := range order {
					if values[j] >= values[i] {
						break
					}
					cMax = values[j]
				}
			}
			break
		}
		cMax = values[i]
	}

	cert := &Certificate{CMax: cMax, Certified: make([]bool, n)}
	if math.IsInf(cMax, -1) {
		return cert, nil
	}
	for i, v := range values {
		if v <= cMax {
			cert.Certified[i] = true
			cert.Size++
		}
	}
	return cert, nil
}

// GapStates lists the grid indices inside the expanded level set
// (V <= cMax*expansion) but outside the certified one. These are the states
// the trainer labels by simulation and fits against.
func GapStates(values []float64, cert *Certificate, expansion float64) []int {
	level := cert.CMax * expansion
	gap := make([]int, 0)
	for i, v := range values {
		if v <= level && !cert.Certified[i] {
			gap = append(gap, i)
		}
	}
	return gap
}
