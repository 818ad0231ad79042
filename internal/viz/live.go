package viz

import (
	"fmt"
	"math"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/soren-falk/roalab/internal/grid"
	"github.com/soren-falk/roalab/internal/train"
)

// UpdateMsg carries one completed training iteration into the live view.
type UpdateMsg train.Record

// CompleteMsg ends the live run, carrying the final masks for the region map.
type CompleteMsg struct {
	Certified []bool
	Basin     []bool
	Err       error
}

// LiveModel is the terminal view of a running training loop: convergence
// charts while the loop runs, the region map once it finishes. The driver
// feeds it through the updates channel from the training goroutine.
type LiveModel struct {
	world      *grid.World
	updates    <-chan tea.Msg
	iterations int

	records   []train.Record
	certified []bool
	basin     []bool
	done      bool
	err       error
}

func NewLiveModel(world *grid.World, iterations int, updates <-chan tea.Msg) LiveModel {
	return LiveModel{
		world:      world,
		updates:    updates,
		iterations: iterations,
	}
}

func (m LiveModel) Init() tea.Cmd {
	return m.wait()
}

func (m LiveModel) wait() tea.Cmd {
	return func() tea.Msg { return <-m.updates }
}

func (m LiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		if m.done {
			return m, tea.Quit
		}

	case UpdateMsg:
		m.records = append(m.records, train.Record(msg))
		return m, m.wait()

	case CompleteMsg:
		m.done = true
		m.certified = msg.Certified
		m.basin = msg.Basin
		m.err = msg.Err
		return m, nil
	}

	return m, nil
}

func (m LiveModel) View() string {
	var b strings.Builder

	b.WriteString(HeaderStyle.Render("lyapunov training"))
	b.WriteString("\n")

	if m.iterations > 0 {
		fraction := float64(len(m.records)) / float64(m.iterations)
		fmt.Fprintf(&b, "%s %d/%d\n\n", ProgressBar(fraction, 30), len(m.records), m.iterations)
	}

	if len(m.records) > 0 {
		last := m.records[len(m.records)-1]

		b.WriteString(LabelStyle.Render("c_max"))
		if math.IsInf(last.CMax, -1) {
			b.WriteString(ValueStyle.Render("none"))
		} else {
			b.WriteString(ValueStyle.Render(fmt.Sprintf("%.6f", last.CMax)))
		}
		b.WriteString("\n")

		b.WriteString(LabelStyle.Render("certified"))
		b.WriteString(ValueStyle.Render(fmt.Sprintf("%.1f%%", 100*last.CertifiedFraction)))
		b.WriteString("\n")

		b.WriteString(LabelStyle.Render("gap states"))
		b.WriteString(ValueStyle.Render(fmt.Sprintf("%d", last.GapCount)))
		b.WriteString("\n")

		if chart := HistoryChart(m.records, 50, 6); chart != "" {
			b.WriteString(GraphStyle.Render(chart))
			b.WriteString("\n")
		}
	}

	if m.done {
		if m.err != nil {
			fmt.Fprintf(&b, "\ntraining failed: %v\n", m.err)
		} else if m.certified != nil && m.basin != nil {
			b.WriteString("\n")
			b.WriteString(PanelStyle.Render(RegionMap(m.world, m.basin, m.certified)))
			b.WriteString("\n")
			b.WriteString(RegionLegend())
			b.WriteString("\n")
		}
		b.WriteString(HelpStyle.Render("press any key to exit"))
	} else {
		b.WriteString(HelpStyle.Render("q: quit"))
	}

	return b.String()
}
