package control

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/soren-falk/roalab/internal/dynamo"
)

const (
	riccatiDt      = 1e-3
	riccatiTol     = 1e-9
	riccatiMaxIter = 2_000_000
)

// SolveCARE solves the continuous-time algebraic Riccati equation
//
//	A'P + PA - P B R^-1 B' P + Q = 0
//
// by integrating the Riccati differential equation forward from P = Q until
// stationary. For stabilizable (A, B) with positive definite Q, R this
// converges to the unique stabilizing solution; the iteration cap turns a
// non-stabilizable pair into dynamo.ErrNotStabilizable instead of spinning.
func SolveCARE(a, b, q, r *mat.Dense) (*mat.Dense, error) {
	n, _ := a.Dims()
	_, m := b.Dims()

	if qr, qc := q.Dims(); qr != n || qc != n {
		return nil, fmt.Errorf("control: Q must be %dx%d", n, n)
	}
	if rr, rc := r.Dims(); rr != m || rc != m {
		return nil, fmt.Errorf("control: R must be %dx%d", m, m)
	}

	// S = B R^-1 B'
	var rInvBt mat.Dense
	if err := rInvBt.Solve(r, b.T()); err != nil {
		return nil, fmt.Errorf("control: R is singular: %w", err)
	}
	var s mat.Dense
	s.Mul(b, &rInvBt)

	deriv := func(dst, p *mat.Dense) {
		var atp, pa, ps, psp mat.Dense
		atp.Mul(a.T(), p)
		pa.Mul(p, a)
		ps.Mul(p, &s)
		psp.Mul(&ps, p)

		dst.Add(&atp, &pa)
		dst.Sub(dst, &psp)
		dst.Add(dst, q)
	}

	p := mat.DenseCopyOf(q)
	var k1, k2, k3, k4, tmp mat.Dense

	for iter := 0; iter < riccatiMaxIter; iter++ {
		deriv(&k1, p)

		tmp.Scale(riccatiDt/2, &k1)
		tmp.Add(p, &tmp)
		deriv(&k2, &tmp)

		tmp.Scale(riccatiDt/2, &k2)
		tmp.Add(p, &tmp)
		deriv(&k3, &tmp)

		tmp.Scale(riccatiDt, &k3)
		tmp.Add(p, &tmp)
		deriv(&k4, &tmp)

		var step mat.Dense
		step.Scale(2, &k2)
		step.Add(&k1, &step)
		tmp.Scale(2, &k3)
		step.Add(&step, &tmp)
		step.Add(&step, &k4)
		step.Scale(riccatiDt/6, &step)

		p.Add(p, &step)

		if mat.Norm(&k1, 2) < riccatiTol {
			symmetrize(p)
			return p, nil
		}
	}

	return nil, dynamo.ErrNotStabilizable
}

// LQRGain computes the optimal feedback gain K = R^-1 B' P from the Riccati
// solution, so u = -Kx minimizes the quadratic cost with weights Q, R.
func LQRGain(b, r, p *mat.Dense) (*mat.Dense, error) {
	var btp mat.Dense
	btp.Mul(b.T(), p)

	var k mat.Dense
	if err := k.Solve(r, &btp); err != nil {
		return nil, fmt.Errorf("control: R is singular: %w", err)
	}
	return &k, nil
}

// Synthesize runs the whole LQR pipeline for a linearizable system with
// diagonal state and control weights. It returns the feedback controller and
// the cost-to-go matrix P, which doubles as the quadratic Lyapunov baseline.
func Synthesize(dyn dynamo.System, stateWeights, controlWeights []float64) (*LQR, *mat.Dense, error) {
	lin, ok := dyn.(dynamo.Linearizable)
	if !ok {
		return nil, nil, fmt.Errorf("control: %T is not linearizable", dyn)
	}

	aRows, bRows := lin.Linearize()
	n := dyn.StateDim()
	m := dyn.ControlDim()

	if len(stateWeights) != n || len(controlWeights) != m {
		return nil, nil, fmt.Errorf("control: want %d state and %d control weights, got %d and %d",
			n, m, len(stateWeights), len(controlWeights))
	}

	a := rowsToDense(aRows)
	b := rowsToDense(bRows)
	q := diagDense(stateWeights)
	r := diagDense(controlWeights)

	p, err := SolveCARE(a, b, q, r)
	if err != nil {
		return nil, nil, err
	}

	k, err := LQRGain(b, r, p)
	if err != nil {
		return nil, nil, err
	}

	target := make(dynamo.State, n)
	return NewLQR(denseToRows(k), target), p, nil
}

func symmetrize(p *mat.Dense) {
	n, _ := p.Dims()
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v := 0.5 * (p.At(i, j) + p.At(j, i))
			p.Set(i, j, v)
			p.Set(j, i, v)
		}
	}
}

func rowsToDense(rows [][]float64) *mat.Dense {
	n := len(rows)
	m := len(rows[0])
	d := mat.NewDense(n, m, nil)
	for i, row := range rows {
		d.SetRow(i, row)
	}
	return d
}

func denseToRows(d *mat.Dense) [][]float64 {
	n, m := d.Dims()
	rows := make([][]float64, n)
	for i := 0; i < n; i++ {
		rows[i] = make([]float64, m)
		for j := 0; j < m; j++ {
			rows[i][j] = d.At(i, j)
		}
	}
	return rows
}

func diagDense(values []float64) *mat.Dense {
	n := len(values)
	d := mat.NewDense(n, n, nil)
	for i, v := range values {
		d.Set(i, i, v)
	}
	return d
}

// ClosedLoopStable reports whether A - BK has all eigenvalues in the open
// left half plane.
func ClosedLoopStable(a, b, k *mat.Dense) bool {
	var bk, acl mat.Dense
	bk.Mul(b, k)
	acl.Sub(a, &bk)

	var eig mat.Eigen
	if !eig.Factorize(&acl, mat.EigenNone) {
		return false
	}
	for _, v := range eig.Values(nil) {
		if real(v) >= 0 {
			return false
		}
	}
	return true
}
