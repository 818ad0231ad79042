package control

import (
	"math"

	"github.com/soren-falk/roalab/internal/dynamo"
)

// LQR is linear state feedback u = -K(x - target). A positive Limit clamps
// every control channel, which matches actuators with saturating torque.
type LQR struct {
	K      [][]float64
	Target dynamo.State
	Limit  float64
}

func NewLQR(k [][]float64, target dynamo.State) *LQR {
	return &LQR{K: k, Target: target}
}

// WithLimit returns the same controller with symmetric saturation bounds.
func (l *LQR) WithLimit(limit float64) *LQR {
	l.Limit = limit
	return l
}

func (l *LQR) Compute(x dynamo.State, t float64) dynamo.Control {
	u := make(dynamo.Control, len(l.K))
	for i := range u {
		for j := range x {
			target := 0.0
			if j < len(l.Target) {
				target = l.Target[j]
			}
			if j < len(l.K[i]) {
				u[i] -= l.K[i][j] * (x[j] - target)
			}
		}
		if l.Limit > 0 {
			u[i] = clamp(u[i], l.Limit)
		}
	}
	return u
}

// Saturated wraps any controller with symmetric per-channel clamping.
type Saturated struct {
	Inner dynamo.Controller
	Limit float64
}

func NewSaturated(inner dynamo.Controller, limit float64) *Saturated {
	return &Saturated{Inner: inner, Limit: limit}
}

func (s *Saturated) Compute(x dynamo.State, t float64) dynamo.Control {
	u := s.Inner.Compute(x, t)
	for i := range u {
		u[i] = clamp(u[i], s.Limit)
	}
	return u
}

// None is the zero controller, useful for open-loop runs.
type None struct {
	dim int
}

func NewNone(dim int) *None {
	return &None{dim: dim}
}

func (n *None) Compute(x dynamo.State, t float64) dynamo.Control {
	return make(dynamo.Control, n.dim)
}

func clamp(v, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, v))
}
