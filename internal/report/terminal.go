package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"vmprof-mcp/internal/analyzer"
	"vmprof-mcp/internal/vmprof"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	hotStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)  // Red
	warmStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true) // Yellow
	coolStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))            // Green
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))             // Gray
)

func percentStyle(pct float64) lipgloss.Style {
	switch {
	case pct >= 50:
		return hotStyle
	case pct >= 10:
		return warmStyle
	default:
		return coolStyle
	}
}

// RenderTop writes the flat profile as a styled table.
func RenderTop(w io.Writer, p *vmprof.Profile, top []analyzer.FrameCount) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Top functions: %s, %d samples", p.Session.Interpreter, len(p.Valid()))))

	rows := make([][]string, len(top))
	for i, fc := range top {
		frame := p.Symbols.Resolve(fc.Frame)
		location := frame.SourceFile
		if location != "" && frame.LineNumber > 0 {
			location = fmt.Sprintf("%s:%d", location, frame.LineNumber)
		}
		rows[i] = []string{
			fmt.Sprintf("%d", i+1),
			percentStyle(fc.Percentage).Render(fmt.Sprintf("%.2f%%", fc.Percentage)),
			fmt.Sprintf("%d", fc.Count),
			frame.Signature(),
			location,
		}
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("#", "SAMPLES %", "SAMPLES", "FUNCTION", "LOCATION").
		Rows(rows...)

	fmt.Fprintln(w, t)
}

// RenderTree writes the call tree with colored percentages and tree guides.
func RenderTree(w io.Writer, p *vmprof.Profile, root *analyzer.Node, opts TreeOptions) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Call tree: %s, %d samples", p.Session.Interpreter, root.Count)))
	if root.Count == 0 {
		fmt.Fprintln(w, dimStyle.Render("no samples"))
		return
	}

	WalkTree(root, opts, func(line TreeLine) {
		guide := ""
		if line.Depth > 1 {
			guide = strings.Repeat("│ ", line.Depth-2) + "├─"
		}
		fmt.Fprintf(w, "%s %s %s%s%s\n",
			percentStyle(line.Percent).Render(fmt.Sprintf("%6.2f%%", line.Percent)),
			dimStyle.Render(fmt.Sprintf("(self %5.2f%%)", line.SelfPercent)),
			dimStyle.Render(guide),
			p.Symbols.Name(line.Node.Frame),
			dimStyle.Render(line.HotLine()),
		)
	})
}
