package lyapunov_test

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gonum.org/v1/gonum/mat"

	"github.com/soren-falk/roalab/internal/dynamo"
	"github.com/soren-falk/roalab/internal/grid"
	"github.com/soren-falk/roalab/internal/integrators"
	"github.com/soren-falk/roalab/internal/lyapunov"
)

// stableLinear is dx/dt = -x in every dimension.
type stableLinear struct{ dims int }

func (s *stableLinear) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	dx := make(dynamo.State, len(x))
	for i := range x {
		dx[i] = -x[i]
	}
	return dx
}
func (s *stableLinear) StateDim() int   { return s.dims }
func (s *stableLinear) ControlDim() int { return 0 }

type noControl struct{}

func (noControl) Compute(x dynamo.State, t float64) dynamo.Control { return nil }

var _ = Describe("Quadratic", func() {
	It("evaluates x'Px", func() {
		p := mat.NewDense(2, 2, []float64{2, 0, 0, 3})
		q, err := lyapunov.NewQuadratic(p)
		Expect(err).NotTo(HaveOccurred())

		Expect(q.Eval(dynamo.State{1, 1})).To(BeNumerically("~", 5.0, 1e-12))
		Expect(q.Eval(dynamo.State{0, 0})).To(BeZero())
	})

	It("rejects non-square matrices", func() {
		p := mat.NewDense(2, 3, nil)
		_, err := lyapunov.NewQuadratic(p)
		Expect(err).To(HaveOccurred())
	})

	It("rejects non-positive diagonals", func() {
		p := mat.NewDense(2, 2, []float64{1, 0, 0, -1})
		_, err := lyapunov.NewQuadratic(p)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("SumOfSquares", func() {
	It("is zero at the origin and positive elsewhere", func() {
		s := lyapunov.NewDiagonalSOS(2)

		Expect(s.Eval(dynamo.State{0, 0})).To(BeZero())
		Expect(s.Eval(dynamo.State{0.5, -0.3})).To(BeNumerically(">", 0))
		Expect(s.Eval(dynamo.State{-0.5, 0.3})).To(BeNumerically(">", 0))
	})

	It("rejects weight matrices with the wrong feature count", func() {
		w := mat.NewDense(2, 2, nil)
		_, err := lyapunov.NewSumOfSquares(2, w) // needs 3 columns
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("SafeLevelSet", func() {
	It("certifies the full sublevel set when everything decreases", func() {
		values := []float64{0.1, 0.5, 1.0, 2.0}
		decrease := []float64{-1, -1, -1, -1}

		cert, err := lyapunov.SafeLevelSet(values, decrease, nil, 1e-9)
		Expect(err).NotTo(HaveOccurred())
		Expect(cert.CMax).To(Equal(2.0))
		Expect(cert.Size).To(Equal(4))
		Expect(cert.Fraction()).To(Equal(1.0))
	})

	It("stops at the first violating level", func() {
		values := []float64{0.1, 0.5, 1.0, 2.0}
		decrease := []float64{-1, -1, 0.5, -1}

		cert, err := lyapunov.SafeLevelSet(values, decrease, nil, 1e-9)
		Expect(err).NotTo(HaveOccurred())
		Expect(cert.CMax).To(Equal(0.5))
		Expect(cert.Size).To(Equal(2))
		Expect(cert.Certified).To(Equal([]bool{true, true, false, false}))
	})

	It("returns an empty certificate when nothing decreases", func() {
		values := []float64{0.1, 0.5}
		decrease := []float64{1, 1}

		cert, err := lyapunov.SafeLevelSet(values, decrease, nil, 1e-9)
		Expect(err).NotTo(HaveOccurred())
		Expect(math.IsInf(cert.CMax, -1)).To(BeTrue())
		Expect(cert.Size).To(BeZero())
	})

	It("skips excluded points", func() {
		values := []float64{0.0, 0.5, 1.0}
		decrease := []float64{10, -1, -1} // origin fails the check but is excluded
		exclude := []bool{true, false, false}

		cert, err := lyapunov.SafeLevelSet(values, decrease, exclude, 1e-9)
		Expect(err).NotTo(HaveOccurred())
		Expect(cert.CMax).To(Equal(1.0))
		Expect(cert.Size).To(Equal(3))
	})

	It("keeps a violator out when it ties the last accepted value", func() {
		values := []float64{0.5, 1.0, 1.0, 2.0}
		decrease := []float64{-1, -1, 0.5, -1}

		cert, err := lyapunov.SafeLevelSet(values, decrease, nil, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(cert.CMax).To(Equal(0.5))
		Expect(cert.Certified).To(Equal([]bool{true, false, false, false}))
		Expect(cert.Size).To(Equal(1))
	})

	It("returns an empty certificate when the lowest level ties a violator", func() {
		values := []float64{1.0, 1.0}
		decrease := []float64{-1, 0.5}

		cert, err := lyapunov.SafeLevelSet(values, decrease, nil, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(math.IsInf(cert.CMax, -1)).To(BeTrue())
		Expect(cert.Size).To(BeZero())
	})

	It("never certifies a point that fails the decrease check", func() {
		values := []float64{0.1, 0.4, 0.4, 0.4, 0.9}
		decrease := []float64{-1, -1, 0.3, -1, -1}

		cert, err := lyapunov.SafeLevelSet(values, decrease, nil, 0)
		Expect(err).NotTo(HaveOccurred())
		for i, ok := range cert.Certified {
			if ok {
				Expect(decrease[i]).To(BeNumerically("<", 0))
			}
		}
	})

	It("is monotone in the tolerance", func() {
		values := []float64{0.1, 0.5, 1.0, 2.0}
		decrease := []float64{-1, -0.5, -0.05, -0.01}

		strict, err := lyapunov.SafeLevelSet(values, decrease, nil, 0.1)
		Expect(err).NotTo(HaveOccurred())
		loose, err := lyapunov.SafeLevelSet(values, decrease, nil, 0.0)
		Expect(err).NotTo(HaveOccurred())

		Expect(strict.Size).To(BeNumerically("<=", loose.Size))
	})

	It("validates input lengths", func() {
		_, err := lyapunov.SafeLevelSet([]float64{1}, []float64{1, 2}, nil, 0)
		Expect(err).To(HaveOccurred())

		_, err = lyapunov.SafeLevelSet([]float64{1}, []float64{1}, []bool{true, false}, 0)
		Expect(err).To(HaveOccurred())

		_, err = lyapunov.SafeLevelSet([]float64{1}, []float64{1}, nil, -1)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Verifier", func() {
	It("certifies the whole grid for globally stable dynamics", func() {
		world, err := grid.New([]grid.Bounds{{Min: -1, Max: 1}, {Min: -1, Max: 1}}, []int{11, 11})
		Expect(err).NotTo(HaveOccurred())

		p := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
		q, err := lyapunov.NewQuadratic(p)
		Expect(err).NotTo(HaveOccurred())

		v, err := lyapunov.NewVerifier(q, &stableLinear{dims: 2}, noControl{},
			func() dynamo.Integrator { return integrators.NewRK4() }, world, 0.01)
		Expect(err).NotTo(HaveOccurred())

		values := v.Values()
		decrease := v.DecreaseAll()
		exclude := world.BallMask(0.05)

		cert, err := lyapunov.SafeLevelSet(values, decrease, exclude, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(cert.Fraction()).To(Equal(1.0))
	})

	It("rejects grids that do not match the system dimension", func() {
		world, err := grid.New([]grid.Bounds{{Min: -1, Max: 1}}, []int{5})
		Expect(err).NotTo(HaveOccurred())

		q, _ := lyapunov.NewQuadratic(mat.NewDense(2, 2, []float64{1, 0, 0, 1}))
		_, err = lyapunov.NewVerifier(q, &stableLinear{dims: 2}, noControl{},
			func() dynamo.Integrator { return integrators.NewRK4() }, world, 0.01)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("GapStates", func() {
	It("lists points between the certified and expanded levels", func() {
		values := []float64{0.1, 0.5, 1.0, 2.0, 5.0}
		cert := &lyapunov.Certificate{
			CMax:      1.0,
			Certified: []bool{true, true, true, false, false},
			Size:      3,
		}

		gap := lyapunov.GapStates(values, cert, 2.0)
		Expect(gap).To(Equal([]int{3}))
	})
})
