package viz

import (
	"strings"

	"github.com/soren-falk/roalab/internal/grid"
)

// RegionMap renders a 2-D grid as one character per grid point, overlaying
// the simulated basin of attraction and the certified level set:
//
//	█  certified and converging
//	▒  converging but not yet certified
//	!  certified but diverging (a false certificate, should not happen)
//	·  outside both
//
// Dimension 0 runs left to right, dimension 1 top to bottom from its maximum,
// so the plot reads like a phase portrait.
func RegionMap(world *grid.World, basin, certified []bool) string {
	samples := world.Samples()
	if len(samples) != 2 {
		return ""
	}
	nx, ny := samples[0], samples[1]

	var b strings.Builder
	for iy := ny - 1; iy >= 0; iy-- {
		for ix := 0; ix < nx; ix++ {
			i := world.Index([]int{ix, iy})

			inBasin := i < len(basin) && basin[i]
			inCert := i < len(certified) && certified[i]

			switch {
			case inCert && inBasin:
				b.WriteString(certifiedStyle.Render("█"))
			case inBasin:
				b.WriteString(basinStyle.Render("▒"))
			case inCert:
				b.WriteString(spuriousStyle.Render("!"))
			default:
				b.WriteString(outsideStyle.Render("·"))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// RegionLegend names the symbols RegionMap uses.
func RegionLegend() string {
	parts := []string{
		certifiedStyle.Render("█") + " certified",
		basinStyle.Render("▒") + " basin only",
		spuriousStyle.Render("!") + " spurious",
		outsideStyle.Render("·") + " outside",
	}
	return strings.Join(parts, "  ")
}
