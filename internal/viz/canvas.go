package viz

import (
	"strings"

	"github.com/soren-falk/roalab/internal/grid"
)

// Braille Patterns: 2x4 dots
// 1 4
// 2 5
// 3 6
// 7 8
//
// Unicode offset 0x2800
var pixelMap = [4][2]int{
	{0x1, 0x8},
	{0x2, 0x10},
	{0x4, 0x20},
	{0x40, 0x80},
}

type Canvas struct {
	Width, Height int
	Grid          [][]rune
}

func NewCanvas(w, h int) *Canvas {
	c := &Canvas{
		Width:  w,
		Height: h,
		Grid:   make([][]rune, h),
	}
	for i := range c.Grid {
		c.Grid[i] = make([]rune, w)
		for j := range c.Grid[i] {
			c.Grid[i][j] = 0x2800 // Empty braille char
		}
	}
	return c
}

// Set marks a sub-pixel at (x, y). The canvas size in sub-pixels is
// (Width*2) x (Height*4).
func (c *Canvas) Set(x, y int) {
	if x < 0 || y < 0 {
		return
	}

	col := x / 2
	row := y / 4
	if col >= c.Width || row >= c.Height {
		return
	}

	subX := x % 2
	subY := y % 4

	c.Grid[row][col] |= rune(pixelMap[subY][subX])
}

func (c *Canvas) Clear() {
	for i := range c.Grid {
		for j := range c.Grid[i] {
			c.Grid[i][j] = 0x2800
		}
	}
}

// PlotMask marks every grid point where mask is true, mapping the world box
// onto the full sub-pixel area. Dimension 0 runs left to right, dimension 1
// bottom to top, which matches the usual phase-portrait orientation.
func (c *Canvas) PlotMask(world *grid.World, mask []bool) {
	bounds := world.Bounds()
	if len(bounds) < 2 {
		return
	}

	spanX := bounds[0].Max - bounds[0].Min
	spanY := bounds[1].Max - bounds[1].Min
	maxX := float64(c.Width*2 - 1)
	maxY := float64(c.Height*4 - 1)

	for i := 0; i < world.Len() && i < len(mask); i++ {
		if !mask[i] {
			continue
		}
		p := world.At(i)
		px := int((p[0] - bounds[0].Min) / spanX * maxX)
		py := int((bounds[1].Max - p[1]) / spanY * maxY)
		c.Set(px, py)
	}
}

// PlotBoundary marks certified points that touch an uncertified neighbor,
// tracing the edge of the level set instead of filling it.
func (c *Canvas) PlotBoundary(world *grid.World, certified []bool) {
	edge := BoundaryMask(world, certified)
	c.PlotMask(world, edge)
}

// BoundaryMask returns the certified points with at least one axis-aligned
// neighbor outside the certified set.
func BoundaryMask(world *grid.World, certified []bool) []bool {
	edge := make([]bool, world.Len())
	samples := world.Samples()

	for i := 0; i < world.Len() && i < len(certified); i++ {
		if !certified[i] {
			continue
		}

		subs := world.Subscripts(i)
		for d := range subs {
			for _, delta := range []int{-1, 1} {
				s := subs[d] + delta
				if s < 0 || s >= samples[d] {
					edge[i] = true
					continue
				}
				neighbor := append([]int(nil), subs...)
				neighbor[d] = s
				if !certified[world.Index(neighbor)] {
					edge[i] = true
				}
			}
		}
	}
	return edge
}

func (c *Canvas) String() string {
	var b strings.Builder
	for _, row := range c.Grid {
		b.WriteString(string(row) + "\n")
	}
	return b.String()
}
