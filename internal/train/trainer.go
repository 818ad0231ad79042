package train

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/soren-falk/roalab/internal/dynamo"
	"github.com/soren-falk/roalab/internal/grid"
	"github.com/soren-falk/roalab/internal/lyapunov"
	"github.com/soren-falk/roalab/internal/nn"
	"github.com/soren-falk/roalab/internal/optim"
	"github.com/soren-falk/roalab/internal/roa"
)

// Config are the hyperparameters of the alternating training loop.
type Config struct {
	Iterations      int     // outer certification/fitting rounds
	Epochs          int     // gradient epochs per round
	BatchSize       int     // minibatch size over gap states
	LearningRate    float64 // Adam step size
	LevelMultiplier float64 // how far past c_max to look for gap states
	DecreaseTol     float64 // required decrease margin per step
	LagrangeFactor  float64 // weight of the decrease term in the loss
	OriginRadius    float64 // ball around the origin excluded from checks
	Seed            int64
}

func DefaultConfig() Config {
	return Config{
		Iterations:      10,
		Epochs:          20,
		BatchSize:       64,
		LearningRate:    5e-3,
		LevelMultiplier: 1.5,
		DecreaseTol:     1e-4,
		LagrangeFactor:  1.0,
		OriginRadius:    0.05,
		Seed:            1,
	}
}

func (c Config) validate() error {
	if c.Iterations < 1 {
		return fmt.Errorf("train: need at least one iteration")
	}
	if c.Epochs < 1 {
		return fmt.Errorf("train: need at least one epoch")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("train: batch size must be positive")
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("train: learning rate must be positive")
	}
	if c.LevelMultiplier <= 1 {
		return fmt.Errorf("train: level multiplier must exceed 1, got %f", c.LevelMultiplier)
	}
	if c.LagrangeFactor < 0 {
		return fmt.Errorf("train: lagrange factor must be non-negative")
	}
	return nil
}

// Record is the convergence log entry for one outer iteration.
type Record struct {
	Iteration         int
	CMax              float64
	CertifiedFraction float64
	GapCount          int
	ClassLoss         float64
	DecreaseLoss      float64
}

// Trainer grows the certified level set of a neural Lyapunov candidate by
// alternating between certification over the grid and gradient fitting on
// the gap states just outside the certified region.
type Trainer struct {
	net       *nn.Network
	verifier  *lyapunov.Verifier
	estimator *roa.Estimator
	world     *grid.World
	opt       optim.Optimizer
	cfg       Config
	rng       *rand.Rand
	exclude   []bool

	// OnIteration, when set, observes every completed round; the run store
	// hooks checkpointing in here.
	OnIteration func(rec Record, snapshot *nn.Snapshot)
}

func New(net *nn.Network, verifier *lyapunov.Verifier, estimator *roa.Estimator, world *grid.World, cfg Config) (*Trainer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opt, err := optim.NewAdam(net.Params(), optim.DefaultAdamConfig(cfg.LearningRate))
	if err != nil {
		return nil, err
	}

	return &Trainer{
		net:       net,
		verifier:  verifier,
		estimator: estimator,
		world:     world,
		opt:       opt,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		exclude:   world.BallMask(cfg.OriginRadius),
	}, nil
}

// Pretrain fits the network to a reference candidate (typically the LQR
// quadratic) by mean squared error over random states in the grid box, so
// the loop starts from a certificate instead of noise.
func (t *Trainer) Pretrain(target lyapunov.Function, epochs, samples int) {
	bounds := t.world.Bounds()

	for epoch := 0; epoch < epochs; epoch++ {
		t.opt.ZeroGrad()
		for s := 0; s < samples; s++ {
			x := make(dynamo.State, len(bounds))
			for d, b := range bounds {
				x[d] = b.Min + t.rng.Float64()*(b.Max-b.Min)
			}

			diff := t.net.Eval(x) - target.Eval(x)
			t.net.Accumulate(x, 2*diff/float64(samples))
		}
		t.opt.Step()
	}
}

// Run executes the outer loop and returns the convergence log together with
// the final certificate. The loop stops early when no gap states remain.
//
// Fitting rounds are accepted only when they do not shrink the certified
// set: a round whose certificate is smaller than the best accepted one has
// its weights rolled back, so the certified size is nondecreasing across
// iterations and the returned weights always carry the returned certificate.
func (t *Trainer) Run(ctx context.Context) ([]Record, *lyapunov.Certificate, error) {
	records := make([]Record, 0, t.cfg.Iterations)
	var cert *lyapunov.Certificate

	bestSize := -1
	var (
		bestSnap   *nn.Snapshot
		bestCert   *lyapunov.Certificate
		bestValues []float64
	)
	fitted := false

	for iter := 0; iter < t.cfg.Iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return records, cert, err
		}

		values, c, err := t.certify()
		if err != nil {
			return records, nil, err
		}
		cert = c

		if bestSnap != nil && cert.Size < bestSize {
			// Reject the last fit; the next epochs restart from the best
			// accepted weights.
			if err := t.net.LoadState(bestSnap); err != nil {
				return records, cert, err
			}
			cert = bestCert
			values = bestValues
		} else {
			bestSize = cert.Size
			bestSnap = t.net.State()
			bestCert = cert
			bestValues = values
		}

		gap := t.gapStates(values, cert)
		rec := Record{
			Iteration:         iter,
			CMax:              cert.CMax,
			CertifiedFraction: cert.Fraction(),
			GapCount:          len(gap),
		}

		if len(gap) == 0 {
			records = append(records, rec)
			t.notify(rec)
			fitted = false
			break
		}

		labels, err := t.estimator.Label(ctx, t.world, gap)
		if err != nil {
			return records, cert, err
		}

		rec.ClassLoss, rec.DecreaseLoss = t.fit(cert.CMax, gap, labels)
		records = append(records, rec)
		t.notify(rec)
		fitted = true
	}

	// The last fit has not been certified yet; keep it only if it did not
	// regress.
	if fitted {
		_, finalCert, err := t.certify()
		if err != nil {
			return records, cert, err
		}
		if finalCert.Size >= bestSize {
			cert = finalCert
		} else if bestSnap != nil {
			if err := t.net.LoadState(bestSnap); err != nil {
				return records, cert, err
			}
			cert = bestCert
		}
	}

	return records, cert, nil
}

func (t *Trainer) certify() ([]float64, *lyapunov.Certificate, error) {
	values := t.verifier.Values()
	decrease := t.verifier.DecreaseAll()
	cert, err := lyapunov.SafeLevelSet(values, decrease, t.exclude, t.cfg.DecreaseTol)
	return values, cert, err
}

func (t *Trainer) notify(rec Record) {
	if t.OnIteration != nil {
		t.OnIteration(rec, t.net.State())
	}
}

// gapStates returns candidates for expansion. When nothing is certified yet
// the lowest-valued band of the grid stands in for the level set, so the
// first iterations still have something to fit.
func (t *Trainer) gapStates(values []float64, cert *lyapunov.Certificate) []int {
	if !math.IsInf(cert.CMax, -1) {
		return lyapunov.GapStates(values, cert, t.cfg.LevelMultiplier)
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	level := sorted[len(sorted)/20] // lowest 5%

	gap := make([]int, 0)
	for i, v := range values {
		if v <= level && !cert.Certified[i] {
			gap = append(gap, i)
		}
	}
	return gap
}

// fit runs the inner gradient epochs on the labeled gap states and returns
// the mean classification and decrease losses of the final epoch.
//
// Per sample with label y (+1 converges, -1 diverges) the loss is
//
//	max(0, y*(V(x) - c)) + lambda * max(0, V(x+) - V(x) + tol)  [y = +1 only]
//
// The first term pushes converging states under the level and diverging
// states above it; the second enforces the decrease condition on states the
// certificate is about to absorb.
func (t *Trainer) fit(cMax float64, gap []int, labels []float64) (classLoss, decLoss float64) {
	c := cMax
	if math.IsInf(c, -1) {
		c = 0
	}

	order := make([]int, len(gap))
	for i := range order {
		order[i] = i
	}

	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		t.rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})

		classLoss, decLoss = 0, 0

		for start := 0; start < len(order); start += t.cfg.BatchSize {
			end := start + t.cfg.BatchSize
			if end > len(order) {
				end = len(order)
			}
			batch := order[start:end]
			scale := 1.0 / float64(len(batch))

			t.opt.ZeroGrad()
			for _, bi := range batch {
				x := t.world.At(gap[bi])
				y := labels[bi]

				v := t.net.Eval(x)
				if margin := y * (v - c); margin > 0 {
					classLoss += margin
					t.net.Accumulate(x, y*scale)
				}

				if y > 0 && t.cfg.LagrangeFactor > 0 {
					next := t.verifier.StepOnce(x)
					if next.IsValid() {
						dv := t.net.Eval(next) - v + t.cfg.DecreaseTol
						if dv > 0 {
							decLoss += t.cfg.LagrangeFactor * dv
							t.net.Accumulate(next, t.cfg.LagrangeFactor*scale)
							t.net.Accumulate(x, -t.cfg.LagrangeFactor*scale)
						}
					}
				}
			}
			t.opt.Step()
		}
	}

	n := float64(len(gap))
	return classLoss / n, decLoss / n
}
