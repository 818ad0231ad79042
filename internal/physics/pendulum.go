package physics

import (
	"fmt"
	"math"

	"github.com/soren-falk/roalab/internal/dynamo"
)

// InvertedPendulum models a torque-actuated pendulum with the angle measured
// from the upright equilibrium, so x = (0, 0) is the unstable fixed point the
// controller has to hold.
//
// The model works in normalized coordinates: state is (theta/ThetaMax,
// omega/OmegaMax) and the control input is torque/MaxTorque. Setting all three
// normalization constants to 1 recovers raw physical units.
type InvertedPendulum struct {
	Mass     float64
	Length   float64
	Gravity  float64
	Friction float64

	ThetaMax  float64
	OmegaMax  float64
	MaxTorque float64
}

// NewInvertedPendulum returns the pendulum used throughout the lab:
// a light short pendulum whose maximum torque is too weak to swing up,
// so the region of attraction is a genuine subset of the state space.
func NewInvertedPendulum() *InvertedPendulum {
	m, l, g := 0.25, 0.5, 9.81
	return &InvertedPendulum{
		Mass:      m,
		Length:    l,
		Gravity:   g,
		Friction:  0.0,
		ThetaMax:  math.Pi,
		OmegaMax:  2 * math.Pi,
		MaxTorque: g * m * l * math.Sin(math.Pi/3),
	}
}

func (p *InvertedPendulum) StateDim() int {
	return 2
}

func (p *InvertedPendulum) ControlDim() int {
	return 1
}

func (p *InvertedPendulum) inertia() float64 {
	return p.Mass * p.Length * p.Length
}

func (p *InvertedPendulum) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	theta := x[0] * p.ThetaMax
	omega := x[1] * p.OmegaMax

	torque := 0.0
	if len(u) > 0 {
		torque = u[0] * p.MaxTorque
	}

	alpha := (p.Gravity/p.Length)*math.Sin(theta) + (torque-p.Friction*omega)/p.inertia()

	return dynamo.State{omega / p.ThetaMax, alpha / p.OmegaMax}
}

// Linearize returns the Jacobians of the normalized dynamics about the
// upright equilibrium.
func (p *InvertedPendulum) Linearize() (a, b [][]float64) {
	inertia := p.inertia()

	a = [][]float64{
		{0, p.OmegaMax / p.ThetaMax},
		{(p.Gravity / p.Length) * p.ThetaMax / p.OmegaMax, -p.Friction / inertia},
	}
	b = [][]float64{
		{0},
		{p.MaxTorque / (inertia * p.OmegaMax)},
	}
	return a, b
}

// Energy is measured relative to the upright position, so the equilibrium
// has zero energy and hanging down has -2*m*g*L.
func (p *InvertedPendulum) Energy(x dynamo.State) float64 {
	theta := x[0] * p.ThetaMax
	omega := x[1] * p.OmegaMax

	v := p.Length * omega
	ke := 0.5 * p.Mass * v * v
	pe := p.Mass * p.Gravity * p.Length * (math.Cos(theta) - 1.0)
	return ke + pe
}

// Denormalize converts a normalized state back to physical units.
func (p *InvertedPendulum) Denormalize(x dynamo.State) dynamo.State {
	return dynamo.State{x[0] * p.ThetaMax, x[1] * p.OmegaMax}
}

func (p *InvertedPendulum) GetParams() map[string]float64 {
	return map[string]float64{
		"mass":       p.Mass,
		"length":     p.Length,
		"gravity":    p.Gravity,
		"friction":   p.Friction,
		"max_torque": p.MaxTorque,
	}
}

func (p *InvertedPendulum) SetParam(name string, value float64) error {
	switch name {
	case "mass":
		p.Mass = value
	case "length":
		p.Length = value
	case "gravity":
		p.Gravity = value
	case "friction":
		p.Friction = value
	case "max_torque":
		p.MaxTorque = value
	default:
		return fmt.Errorf("unknown param: %s", name)
	}
	return nil
}
