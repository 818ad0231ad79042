package optim

import (
	"fmt"
	"math"

	"github.com/soren-falk/roalab/internal/nn"
)

// Optimizer updates parameters in place from their accumulated gradients.
type Optimizer interface {
	Step()
	ZeroGrad()
}

// SGD is stochastic gradient descent with optional momentum.
type SGD struct {
	params   []*nn.Parameter
	lr       float64
	momentum float64
	velocity [][]float64
}

type SGDConfig struct {
	LR       float64
	Momentum float64
}

func NewSGD(params []*nn.Parameter, cfg SGDConfig) (*SGD, error) {
	if cfg.LR <= 0 {
		return nil, fmt.Errorf("optim: learning rate must be positive, got %f", cfg.LR)
	}
	s := &SGD{params: params, lr: cfg.LR, momentum: cfg.Momentum}
	if cfg.Momentum != 0 {
		s.velocity = make([][]float64, len(params))
		for i, p := range params {
			s.velocity[i] = make([]float64, len(p.Value))
		}
	}
	return s, nil
}

func (s *SGD) Step() {
	for i, p := range s.params {
		for j := range p.Value {
			g := p.Grad[j]
			if s.velocity != nil {
				s.velocity[i][j] = s.momentum*s.velocity[i][j] + g
				g = s.velocity[i][j]
			}
			p.Value[j] -= s.lr * g
		}
	}
}

func (s *SGD) ZeroGrad() {
	for _, p := range s.params {
		p.ZeroGrad()
	}
}

// Adam is the adaptive moment estimation optimizer with bias correction.
type Adam struct {
	params []*nn.Parameter
	cfg    AdamConfig
	m, v   [][]float64
	t      int
}

type AdamConfig struct {
	LR      float64
	Beta1   float64
	Beta2   float64
	Epsilon float64
}

func DefaultAdamConfig(lr float64) AdamConfig {
	return AdamConfig{LR: lr, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}
}

func NewAdam(params []*nn.Parameter, cfg AdamConfig) (*Adam, error) {
	if cfg.LR <= 0 {
		return nil, fmt.Errorf("optim: learning rate must be positive, got %f", cfg.LR)
	}
	if cfg.Beta1 < 0 || cfg.Beta1 >= 1 || cfg.Beta2 < 0 || cfg.Beta2 >= 1 {
		return nil, fmt.Errorf("optim: betas must be in [0, 1), got %f and %f", cfg.Beta1, cfg.Beta2)
	}
	a := &Adam{params: params, cfg: cfg}
	a.m = make([][]float64, len(params))
	a.v = make([][]float64, len(params))
	for i, p := range params {
		a.m[i] = make([]float64, len(p.Value))
		a.v[i] = make([]float64, len(p.Value))
	}
	return a, nil
}

func (a *Adam) Step() {
	a.t++
	b1, b2 := a.cfg.Beta1, a.cfg.Beta2

	corr1 := 1 - math.Pow(b1, float64(a.t))
	corr2 := 1 - math.Pow(b2, float64(a.t))

	for i, p := range a.params {
		for j := range p.Value {
			g := p.Grad[j]
			a.m[i][j] = b1*a.m[i][j] + (1-b1)*g
			a.v[i][j] = b2*a.v[i][j] + (1-b2)*g*g

			mHat := a.m[i][j] / corr1
			vHat := a.v[i][j] / corr2

			p.Value[j] -= a.cfg.LR * mHat / (math.Sqrt(vHat) + a.cfg.Epsilon)
		}
	}
}

func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		p.ZeroGrad()
	}
}
