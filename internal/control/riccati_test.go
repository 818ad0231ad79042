package control

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/soren-falk/roalab/internal/physics"
)

func riccatiResidual(a, b, q, r, p *mat.Dense) float64 {
	var rInvBt mat.Dense
	_ = rInvBt.Solve(r, b.T())
	var s mat.Dense
	s.Mul(b, &rInvBt)

	var atp, pa, ps, psp, res mat.Dense
	atp.Mul(a.T(), p)
	pa.Mul(p, a)
	ps.Mul(p, &s)
	psp.Mul(&ps, p)

	res.Add(&atp, &pa)
	res.Sub(&res, &psp)
	res.Add(&res, q)

	return mat.Norm(&res, 2)
}

func TestSolveCAREDoubleIntegrator(t *testing.T) {
	// For A=[[0,1],[0,0]], B=[[0],[1]], Q=I, R=1 the solution is
	// P = [[sqrt(3), 1], [1, sqrt(3)]] and K = [1, sqrt(3)].
	a := mat.NewDense(2, 2, []float64{0, 1, 0, 0})
	b := mat.NewDense(2, 1, []float64{0, 1})
	q := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	r := mat.NewDense(1, 1, []float64{1})

	p, err := SolveCARE(a, b, q, r)
	require.NoError(t, err)

	sqrt3 := math.Sqrt(3)
	assert.InDelta(t, sqrt3, p.At(0, 0), 1e-5)
	assert.InDelta(t, 1.0, p.At(0, 1), 1e-5)
	assert.InDelta(t, 1.0, p.At(1, 0), 1e-5)
	assert.InDelta(t, sqrt3, p.At(1, 1), 1e-5)

	k, err := LQRGain(b, r, p)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, k.At(0, 0), 1e-5)
	assert.InDelta(t, sqrt3, k.At(0, 1), 1e-5)

	assert.True(t, ClosedLoopStable(a, b, k))
}

func TestSolveCARESatisfiesEquation(t *testing.T) {
	pend := physics.NewInvertedPendulum()
	aRows, bRows := pend.Linearize()

	a := rowsToDense(aRows)
	b := rowsToDense(bRows)
	q := diagDense([]float64{100, 1})
	r := diagDense([]float64{1})

	p, err := SolveCARE(a, b, q, r)
	require.NoError(t, err)

	assert.Less(t, riccatiResidual(a, b, q, r, p), 1e-4)

	// Cost-to-go must be symmetric positive definite.
	assert.InDelta(t, p.At(0, 1), p.At(1, 0), 1e-9)
	assert.Greater(t, p.At(0, 0), 0.0)
	assert.Greater(t, p.At(0, 0)*p.At(1, 1)-p.At(0, 1)*p.At(1, 0), 0.0)
}

func TestSynthesizeStabilizesPendulum(t *testing.T) {
	pend := physics.NewInvertedPendulum()

	ctrl, p, err := Synthesize(pend, []float64{100, 1}, []float64{1})
	require.NoError(t, err)
	require.NotNil(t, p)

	aRows, bRows := pend.Linearize()
	a := rowsToDense(aRows)
	b := rowsToDense(bRows)
	k := rowsToDense(ctrl.K)

	assert.True(t, ClosedLoopStable(a, b, k), "A-BK must be Hurwitz")
}

func TestSynthesizeStabilizesCartPole(t *testing.T) {
	cp := physics.NewCartPole()

	ctrl, _, err := Synthesize(cp, []float64{1, 1, 10, 1}, []float64{1})
	require.NoError(t, err)

	aRows, bRows := cp.Linearize()
	a := rowsToDense(aRows)
	b := rowsToDense(bRows)
	k := rowsToDense(ctrl.K)

	assert.True(t, ClosedLoopStable(a, b, k))
}

func TestSynthesizeRejectsBadWeights(t *testing.T) {
	pend := physics.NewInvertedPendulum()

	_, _, err := Synthesize(pend, []float64{1}, []float64{1})
	assert.Error(t, err)
}
