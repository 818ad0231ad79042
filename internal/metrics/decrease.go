package metrics

import "github.com/soren-falk/roalab/internal/dynamo"

// Evaluator is the scalar-function subset of a Lyapunov candidate; declared
// locally to keep this package independent of the lyapunov package.
type Evaluator interface {
	Eval(x dynamo.State) float64
}

// DecreaseViolations reports the fraction of observed steps where a
// candidate function failed to decrease along the trajectory.
type DecreaseViolations struct {
	name       string
	fn         Evaluator
	prev       float64
	hasPrev    bool
	violations int
	samples    int
}

func NewDecreaseViolations(fn Evaluator) *DecreaseViolations {
	return &DecreaseViolations{name: "decrease_violations", fn: fn}
}

func (d *DecreaseViolations) Name() string {
	return d.name
}

func (d *DecreaseViolations) Observe(x dynamo.State, u dynamo.Control, t float64) {
	v := d.fn.Eval(x)
	if d.hasPrev {
		d.samples++
		if v >= d.prev {
			d.violations++
		}
	}
	d.prev = v
	d.hasPrev = true
}

func (d *DecreaseViolations) Value() float64 {
	if d.samples == 0 {
		return 0
	}
	return float64(d.violations) / float64(d.samples)
}

func (d *DecreaseViolations) Reset() {
	d.prev = 0
	d.hasPrev = false
	d.violations = 0
	d.samples = 0
}
