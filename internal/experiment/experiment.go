package experiment

import (
	"context"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/soren-falk/roalab/internal/config"
	"github.com/soren-falk/roalab/internal/control"
	"github.com/soren-falk/roalab/internal/dynamo"
	"github.com/soren-falk/roalab/internal/grid"
	"github.com/soren-falk/roalab/internal/lyapunov"
	"github.com/soren-falk/roalab/internal/nn"
	"github.com/soren-falk/roalab/internal/roa"
	"github.com/soren-falk/roalab/internal/train"
)

// Experiment is one fully wired certification setup: the closed loop, the
// analysis grid, the Lyapunov candidate and the machinery that certifies and
// grows it. Build assembles all of it from a config.
type Experiment struct {
	Cfg   *config.Config
	Dyn   dynamo.System
	Ctrl  dynamo.Controller
	World *grid.World

	// CostToGo is the LQR solution P; Baseline is the quadratic x'Px that
	// serves as reference candidate and pretraining target.
	CostToGo *mat.Dense
	Baseline *lyapunov.Quadratic

	// Net is non-nil only for the neural candidate.
	Net       *nn.Network
	Candidate lyapunov.Function

	Verifier  *lyapunov.Verifier
	Estimator *roa.Estimator
	NewInteg  func() dynamo.Integrator
}

// Build wires an experiment from a validated config.
func Build(cfg *config.Config, reg *Registry) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dyn, err := reg.Model(cfg.Model)
	if err != nil {
		return nil, err
	}
	newInteg, err := reg.IntegratorFactory(cfg.Integrator)
	if err != nil {
		return nil, err
	}

	bounds := make([]grid.Bounds, len(cfg.Grid.Min))
	for d := range bounds {
		bounds[d] = grid.Bounds{Min: cfg.Grid.Min[d], Max: cfg.Grid.Max[d]}
	}
	world, err := grid.New(bounds, cfg.Grid.Samples)
	if err != nil {
		return nil, err
	}

	ctrl, p, err := control.Synthesize(dyn, cfg.LQR.StateWeights, cfg.LQR.ControlWeights)
	if err != nil {
		return nil, err
	}
	if cfg.LQR.Saturate > 0 {
		ctrl.WithLimit(cfg.LQR.Saturate)
	}

	baseline, err := lyapunov.NewQuadratic(p)
	if err != nil {
		return nil, err
	}

	exp := &Experiment{
		Cfg:      cfg,
		Dyn:      dyn,
		Ctrl:     ctrl,
		World:    world,
		CostToGo: p,
		Baseline: baseline,
		NewInteg: newInteg,
	}

	switch cfg.Candidate {
	case "neural":
		rng := rand.New(rand.NewSource(cfg.Seed))
		net, err := nn.NewNetwork(dyn.StateDim(), cfg.Network.Hidden, cfg.Network.Eps, rng)
		if err != nil {
			return nil, err
		}
		exp.Net = net
		exp.Candidate = net
	case "quadratic":
		exp.Candidate = baseline
	case "sos":
		exp.Candidate = lyapunov.NewDiagonalSOS(dyn.StateDim())
	default:
		return nil, fmt.Errorf("experiment: unknown candidate %q", cfg.Candidate)
	}

	exp.Verifier, err = lyapunov.NewVerifier(exp.Candidate, dyn, ctrl, newInteg, world, cfg.Dt)
	if err != nil {
		return nil, err
	}

	exp.Estimator = roa.NewEstimator(dyn, ctrl, newInteg)
	exp.Estimator.Dt = cfg.Dt
	exp.Estimator.Horizon = cfg.ROA.Horizon
	exp.Estimator.ConvergeRadius = cfg.ROA.ConvergeRadius
	exp.Estimator.DivergeRadius = cfg.ROA.DivergeRadius

	return exp, nil
}

// EstimateROA simulates every grid point through the closed loop.
func (e *Experiment) EstimateROA(ctx context.Context) (*roa.Result, error) {
	return e.Estimator.Compute(ctx, e.World)
}

// Certify expands the safe level set of the current candidate and returns the
// per-point values alongside the certificate.
func (e *Experiment) Certify() ([]float64, *lyapunov.Certificate, error) {
	values := e.Verifier.Values()
	decrease := e.Verifier.DecreaseAll()
	exclude := e.World.BallMask(e.Cfg.Train.OriginRadius)

	cert, err := lyapunov.SafeLevelSet(values, decrease, exclude, e.Cfg.Train.DecreaseTol)
	if err != nil {
		return nil, nil, err
	}
	return values, cert, nil
}

// Trainer builds the training loop for the neural candidate, pretrained
// against the LQR baseline so the first certificate is not empty.
func (e *Experiment) Trainer() (*train.Trainer, error) {
	if e.Net == nil {
		return nil, fmt.Errorf("experiment: candidate %q is not trainable", e.Cfg.Candidate)
	}

	tc := e.Cfg.Train
	trainer, err := train.New(e.Net, e.Verifier, e.Estimator, e.World, train.Config{
		Iterations:      tc.Iterations,
		Epochs:          tc.Epochs,
		BatchSize:       tc.BatchSize,
		LearningRate:    tc.LearningRate,
		LevelMultiplier: tc.LevelMultiplier,
		DecreaseTol:     tc.DecreaseTol,
		LagrangeFactor:  tc.LagrangeFactor,
		OriginRadius:    tc.OriginRadius,
		Seed:            e.Cfg.Seed,
	})
	if err != nil {
		return nil, err
	}

	if tc.PretrainEpochs > 0 {
		trainer.Pretrain(e.Baseline, tc.PretrainEpochs, tc.PretrainSamples)
	}
	return trainer, nil
}
