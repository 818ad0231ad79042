package viz

import (
	"fmt"
	"math"
	"strings"

	"github.com/guptarohit/asciigraph"

	"github.com/soren-falk/roalab/internal/train"
)

// HistoryChart plots the growth of the certified fraction over training
// iterations.
func HistoryChart(records []train.Record, width, height int) string {
	if len(records) == 0 {
		return ""
	}

	fractions := make([]float64, len(records))
	for i, rec := range records {
		fractions[i] = rec.CertifiedFraction
	}
	return asciigraph.Plot(fractions,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Caption("certified fraction"))
}

// LossChart plots the classification loss per iteration.
func LossChart(records []train.Record, width, height int) string {
	if len(records) == 0 {
		return ""
	}

	losses := make([]float64, len(records))
	for i, rec := range records {
		losses[i] = rec.ClassLoss
	}
	return asciigraph.Plot(losses,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Caption("classification loss"))
}

// Summary formats the final record for plain terminal output.
func Summary(records []train.Record) string {
	if len(records) == 0 {
		return "no iterations recorded"
	}
	last := records[len(records)-1]

	var b strings.Builder
	fmt.Fprintf(&b, "iterations:         %d\n", len(records))
	if math.IsInf(last.CMax, -1) {
		b.WriteString("level c_max:        none certified\n")
	} else {
		fmt.Fprintf(&b, "level c_max:        %.6f\n", last.CMax)
	}
	fmt.Fprintf(&b, "certified fraction: %.1f%%\n", 100*last.CertifiedFraction)
	fmt.Fprintf(&b, "remaining gap:      %d states\n", last.GapCount)
	return b.String()
}
