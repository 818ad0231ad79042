package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/soren-falk/roalab/internal/dynamo"
)

// Network is a small Lyapunov candidate network:
//
//	phi(x) = tanh(W_L ... tanh(W_1 x + b_1) ... + b_L)
//	V(x)   = ||phi(x)||^2 + eps * ||x||^2
//
// The squared output head makes V(0) = 0 and V > 0 away from the origin
// regardless of the weights, so positive definiteness never has to be
// learned, only the shape of the level sets.
type Network struct {
	dims    int
	hidden  []int
	eps     float64
	weights []*Parameter
	biases  []*Parameter
}

// NewNetwork builds the candidate with the given hidden layer widths.
// Weights are initialized with scaled Gaussian entries from rng so runs are
// reproducible from the experiment seed.
func NewNetwork(dims int, hidden []int, eps float64, rng *rand.Rand) (*Network, error) {
	if dims < 1 {
		return nil, fmt.Errorf("nn: need at least one input dim, got %d", dims)
	}
	if len(hidden) == 0 {
		return nil, fmt.Errorf("nn: need at least one hidden layer")
	}
	if eps <= 0 {
		return nil, fmt.Errorf("nn: eps must be positive to keep V radially unbounded, got %f", eps)
	}

	n := &Network{dims: dims, hidden: append([]int(nil), hidden...), eps: eps}

	in := dims
	for l, out := range hidden {
		if out < 1 {
			return nil, fmt.Errorf("nn: hidden layer %d has width %d", l, out)
		}
		w := newParameter(fmt.Sprintf("w%d", l), out, in)
		b := newParameter(fmt.Sprintf("b%d", l), out, 1)

		scale := 1.0 / math.Sqrt(float64(in))
		for i := range w.Value {
			w.Value[i] = rng.NormFloat64() * scale
		}

		n.weights = append(n.weights, w)
		n.biases = append(n.biases, b)
		in = out
	}

	return n, nil
}

func (n *Network) Dims() int { return n.dims }

// Params returns every trainable parameter, weights then biases per layer.
func (n *Network) Params() []*Parameter {
	params := make([]*Parameter, 0, 2*len(n.weights))
	for l := range n.weights {
		params = append(params, n.weights[l], n.biases[l])
	}
	return params
}

// ZeroGrad clears all gradient accumulators.
func (n *Network) ZeroGrad() {
	for _, p := range n.Params() {
		p.ZeroGrad()
	}
}

// forward returns the activations of every layer; activations[0] is the
// input. All buffers are local, so concurrent calls are safe.
func (n *Network) forward(x dynamo.State) [][]float64 {
	activations := make([][]float64, len(n.weights)+1)
	activations[0] = x

	a := []float64(x)
	for l, w := range n.weights {
		b := n.biases[l]
		z := make([]float64, w.Rows)
		for i := 0; i < w.Rows; i++ {
			sum := b.Value[i]
			for j := 0; j < w.Cols; j++ {
				sum += w.at(i, j) * a[j]
			}
			z[i] = math.Tanh(sum)
		}
		activations[l+1] = z
		a = z
	}
	return activations
}

// Eval implements lyapunov.Function. Safe for concurrent use.
func (n *Network) Eval(x dynamo.State) float64 {
	activations := n.forward(x)
	phi := activations[len(activations)-1]

	v := 0.0
	for _, p := range phi {
		v += p * p
	}
	for _, xi := range x {
		v += n.eps * xi * xi
	}
	return v
}

// Accumulate adds upstream * dV/dw to every parameter gradient. Training
// code calls this once per sample with the analytic derivative of the loss
// with respect to V(x) as upstream. Not safe for concurrent use.
func (n *Network) Accumulate(x dynamo.State, upstream float64) {
	activations := n.forward(x)
	phi := activations[len(activations)-1]

	// dV/dphi = 2*phi
	delta := make([]float64, len(phi))
	for i, p := range phi {
		delta[i] = upstream * 2 * p
	}

	for l := len(n.weights) - 1; l >= 0; l-- {
		w := n.weights[l]
		b := n.biases[l]
		aPrev := activations[l]
		aCur := activations[l+1]

		// through tanh: dz = delta * (1 - a^2)
		dz := make([]float64, len(delta))
		for i := range delta {
			dz[i] = delta[i] * (1 - aCur[i]*aCur[i])
		}

		for i := 0; i < w.Rows; i++ {
			b.Grad[i] += dz[i]
			for j := 0; j < w.Cols; j++ {
				w.addGrad(i, j, dz[i]*aPrev[j])
			}
		}

		if l > 0 {
			next := make([]float64, w.Cols)
			for j := 0; j < w.Cols; j++ {
				sum := 0.0
				for i := 0; i < w.Rows; i++ {
					sum += w.at(i, j) * dz[i]
				}
				next[j] = sum
			}
			delta = next
		}
	}
}

// Snapshot captures the architecture and weights for checkpointing.
type Snapshot struct {
	InDims  int         `json:"in_dims"`
	Hidden  []int       `json:"hidden"`
	Eps     float64     `json:"eps"`
	Weights [][]float64 `json:"weights"`
	Biases  [][]float64 `json:"biases"`
}

// State exports the current weights.
func (n *Network) State() *Snapshot {
	s := &Snapshot{InDims: n.dims, Hidden: append([]int(nil), n.hidden...), Eps: n.eps}
	for l := range n.weights {
		s.Weights = append(s.Weights, append([]float64(nil), n.weights[l].Value...))
		s.Biases = append(s.Biases, append([]float64(nil), n.biases[l].Value...))
	}
	return s
}

// LoadState restores weights from a snapshot with a matching architecture.
func (n *Network) LoadState(s *Snapshot) error {
	if s.InDims != n.dims || len(s.Hidden) != len(n.hidden) {
		return fmt.Errorf("nn: snapshot architecture mismatch")
	}
	for l, width := range s.Hidden {
		if width != n.hidden[l] {
			return fmt.Errorf("nn: snapshot layer %d has width %d, want %d", l, width, n.hidden[l])
		}
	}
	for l := range n.weights {
		if len(s.Weights[l]) != len(n.weights[l].Value) || len(s.Biases[l]) != len(n.biases[l].Value) {
			return fmt.Errorf("nn: snapshot layer %d has wrong parameter count", l)
		}
		copy(n.weights[l].Value, s.Weights[l])
		copy(n.biases[l].Value, s.Biases[l])
	}
	return nil
}
