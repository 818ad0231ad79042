package metrics

import "github.com/soren-falk/roalab/internal/dynamo"

// Convergence tracks the final distance to the origin, so a run's value is
// small exactly when the state ended up at the equilibrium.
type Convergence struct {
	name string
	last float64
	seen bool
}

func NewConvergence() *Convergence {
	return &Convergence{name: "convergence"}
}

func (c *Convergence) Name() string {
	return c.name
}

func (c *Convergence) Observe(x dynamo.State, u dynamo.Control, t float64) {
	c.last = x.Norm()
	c.seen = true
}

func (c *Convergence) Value() float64 {
	if !c.seen {
		return 0
	}
	return c.last
}

func (c *Convergence) Reset() {
	c.last = 0
	c.seen = false
}
