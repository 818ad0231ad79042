package grid

import (
	"fmt"

	"github.com/soren-falk/roalab/internal/dynamo"
)

// Bounds is a closed interval for one state dimension.
type Bounds struct {
	Min, Max float64
}

// World is a uniform rectangular discretization of a state-space box.
// Points are stored row-major: the last dimension varies fastest, so
// Index and At are exact inverses.
type World struct {
	bounds  []Bounds
	samples []int
	points  []dynamo.State
}

// New builds the grid. samples[i] is the number of linearly spaced values
// along dimension i, endpoints included; every dimension needs at least two.
func New(bounds []Bounds, samples []int) (*World, error) {
	if len(bounds) == 0 {
		return nil, fmt.Errorf("grid: no bounds given")
	}
	if len(bounds) != len(samples) {
		return nil, fmt.Errorf("grid: %d bounds but %d sample counts", len(bounds), len(samples))
	}

	total := 1
	for i, n := range samples {
		if n < 2 {
			return nil, fmt.Errorf("grid: dimension %d needs at least 2 samples, got %d", i, n)
		}
		if bounds[i].Max <= bounds[i].Min {
			return nil, fmt.Errorf("grid: dimension %d has empty bounds [%f, %f]", i, bounds[i].Min, bounds[i].Max)
		}
		total *= n
	}

	w := &World{
		bounds:  append([]Bounds(nil), bounds...),
		samples: append([]int(nil), samples...),
		points:  make([]dynamo.State, total),
	}

	dims := len(bounds)
	idx := make([]int, dims)
	for i := 0; i < total; i++ {
		p := make(dynamo.State, dims)
		for d := 0; d < dims; d++ {
			p[d] = w.value(d, idx[d])
		}
		w.points[i] = p

		for d := dims - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < samples[d] {
				break
			}
			idx[d] = 0
		}
	}

	return w, nil
}

func (w *World) value(dim, i int) float64 {
	b := w.bounds[dim]
	step := (b.Max - b.Min) / float64(w.samples[dim]-1)
	return b.Min + float64(i)*step
}

// Len is the total number of grid points.
func (w *World) Len() int {
	return len(w.points)
}

// Dims is the number of state dimensions.
func (w *World) Dims() int {
	return len(w.bounds)
}

// Samples returns the per-dimension sample counts.
func (w *World) Samples() []int {
	return append([]int(nil), w.samples...)
}

// Bounds returns the per-dimension bounds.
func (w *World) Bounds() []Bounds {
	return append([]Bounds(nil), w.bounds...)
}

// At returns the grid point for a flat index. The returned state is shared;
// clone it before mutating.
func (w *World) At(i int) dynamo.State {
	return w.points[i]
}

// Points returns all grid points, row-major.
func (w *World) Points() []dynamo.State {
	return w.points
}

// Index maps multi-dimensional subscripts to the flat index.
func (w *World) Index(sub []int) int {
	idx := 0
	for d, s := range sub {
		idx = idx*w.samples[d] + s
	}
	return idx
}

// Subscripts maps a flat index back to per-dimension subscripts.
func (w *World) Subscripts(i int) []int {
	sub := make([]int, len(w.samples))
	for d := len(w.samples) - 1; d >= 0; d-- {
		sub[d] = i % w.samples[d]
		i /= w.samples[d]
	}
	return sub
}

// Nearest returns the flat index of the grid point closest to x, clamping
// coordinates outside the bounds onto the box.
func (w *World) Nearest(x dynamo.State) int {
	sub := make([]int, len(w.bounds))
	for d := range w.bounds {
		b := w.bounds[d]
		step := (b.Max - b.Min) / float64(w.samples[d]-1)
		v := x[d]
		if v < b.Min {
			v = b.Min
		}
		if v > b.Max {
			v = b.Max
		}
		s := int((v-b.Min)/step + 0.5)
		if s >= w.samples[d] {
			s = w.samples[d] - 1
		}
		sub[d] = s
	}
	return w.Index(sub)
}

// Contains reports whether x lies inside the grid box.
func (w *World) Contains(x dynamo.State) bool {
	for d := range w.bounds {
		if x[d] < w.bounds[d].Min || x[d] > w.bounds[d].Max {
			return false
		}
	}
	return true
}

// BallMask marks every grid point with euclidean norm at most radius.
// The training loop uses it to exclude a small neighborhood of the origin
// from decrease checks, where numerical noise dominates.
func (w *World) BallMask(radius float64) []bool {
	mask := make([]bool, len(w.points))
	for i, p := range w.points {
		mask[i] = p.Norm() <= radius
	}
	return mask
}
