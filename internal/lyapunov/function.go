package lyapunov

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/soren-falk/roalab/internal/dynamo"
)

// Function is a Lyapunov candidate: scalar, zero at the origin, positive
// elsewhere. Candidates do not certify anything on their own; the Verifier
// checks the decrease condition over a grid.
type Function interface {
	Eval(x dynamo.State) float64
}

// EvalAll evaluates a candidate on every point, in parallel.
func EvalAll(fn Function, points []dynamo.State) []float64 {
	values := make([]float64, len(points))
	dynamo.ParallelFor(len(points), 256, func(start, end int) {
		for i := start; i < end; i++ {
			values[i] = fn.Eval(points[i])
		}
	})
	return values
}

// Quadratic is V(x) = x'Px for symmetric positive definite P, typically the
// LQR cost-to-go.
type Quadratic struct {
	p *mat.Dense
}

func NewQuadratic(p *mat.Dense) (*Quadratic, error) {
	n, m := p.Dims()
	if n != m {
		return nil, fmt.Errorf("lyapunov: P must be square, got %dx%d", n, m)
	}
	for i := 0; i < n; i++ {
		if p.At(i, i) <= 0 {
			return nil, fmt.Errorf("lyapunov: P has non-positive diagonal entry at %d", i)
		}
	}
	return &Quadratic{p: mat.DenseCopyOf(p)}, nil
}

func (q *Quadratic) Eval(x dynamo.State) float64 {
	n, _ := q.p.Dims()
	v := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v += x[i] * q.p.At(i, j) * x[j]
		}
	}
	return v
}

// P returns a copy of the underlying matrix, for level-set plotting.
func (q *Quadratic) P() *mat.Dense {
	return mat.DenseCopyOf(q.p)
}

// SumOfSquares is V(x) = ||W phi(x)||^2 over the degree-two monomial feature
// map phi(x) = (x_i * x_j for i <= j). Any weight matrix gives a sum of
// squares, so positivity is structural.
type SumOfSquares struct {
	dims     int
	features int
	w        *mat.Dense
}

// MonomialFeatures returns the number of degree-two monomials in dims
// variables.
func MonomialFeatures(dims int) int {
	return dims * (dims + 1) / 2
}

func NewSumOfSquares(dims int, w *mat.Dense) (*SumOfSquares, error) {
	features := MonomialFeatures(dims)
	_, cols := w.Dims()
	if cols != features {
		return nil, fmt.Errorf("lyapunov: weight matrix needs %d columns for %d dims, got %d", features, dims, cols)
	}
	return &SumOfSquares{dims: dims, features: features, w: mat.DenseCopyOf(w)}, nil
}

// NewDiagonalSOS builds the baseline candidate with identity weights,
// V(x) = sum of squared degree-two monomials.
func NewDiagonalSOS(dims int) *SumOfSquares {
	features := MonomialFeatures(dims)
	w := mat.NewDense(features, features, nil)
	for i := 0; i < features; i++ {
		w.Set(i, i, 1)
	}
	s, _ := NewSumOfSquares(dims, w)
	return s
}

func (s *SumOfSquares) phi(x dynamo.State) []float64 {
	f := make([]float64, 0, s.features)
	for i := 0; i < s.dims; i++ {
		for j := i; j < s.dims; j++ {
			f = append(f, x[i]*x[j])
		}
	}
	return f
}

func (s *SumOfSquares) Eval(x dynamo.State) float64 {
	f := s.phi(x)
	rows, _ := s.w.Dims()

	v := 0.0
	for r := 0; r < rows; r++ {
		dot := 0.0
		for c := 0; c < s.features; c++ {
			dot += s.w.At(r, c) * f[c]
		}
		v += dot * dot
	}
	return v
}
