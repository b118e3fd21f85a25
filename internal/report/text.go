// Package report renders analysis results as text for MCP clients and
// terminals.
package report

import (
	"fmt"
	"sort"
	"strings"

	"vmprof-mcp/internal/analyzer"
	"vmprof-mcp/internal/vmprof"
)

const rule = "═══════════════════════════════════════════════════\n\n"

// LoadSummary describes a freshly loaded profile.
func LoadSummary(filePath string, p *vmprof.Profile) string {
	stats := analyzer.ComputeStatistics(p)

	var sb strings.Builder
	sb.WriteString("Profile loaded successfully!\n\n")
	fmt.Fprintf(&sb, "File: %s\n", filePath)
	fmt.Fprintf(&sb, "Interpreter: %s (format version %d)\n", p.Session.Interpreter, p.Session.Version)
	fmt.Fprintf(&sb, "Sampling period: %s\n", p.Session.Period)
	if !p.Session.StartTime.IsZero() {
		fmt.Fprintf(&sb, "Started: %s %s\n", p.Session.StartTime.Format("2006-01-02 15:04:05"), p.Session.TimeZone)
	}
	fmt.Fprintf(&sb, "Samples: %d (%d failed)\n", stats.TotalSamples, stats.FailedSamples)
	fmt.Fprintf(&sb, "Symbols: %d\n", stats.TotalSymbols)
	fmt.Fprintf(&sb, "Threads: %d\n", stats.Threads)
	fmt.Fprintf(&sb, "Memory profiling: %t, line profiling: %t\n", p.Session.ProfileMemory, p.Session.ProfileLines)
	sb.WriteString("\nUse other tools to analyze this profile.\n")
	return sb.String()
}

// FormatHotspot returns a human-readable string representation of a hotspot
func FormatHotspot(hs analyzer.Hotspot, rank int) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "#%d: %s\n", rank, displayName(hs.Kind, hs.Function))
	fmt.Fprintf(&sb, "    Time: %.6f seconds (%.2f%%)\n", hs.TotalTime, hs.Percentage)
	fmt.Fprintf(&sb, "    Samples: %d\n", hs.SampleCount)

	if hs.SourceFile != "" {
		if hs.LineNumber > 0 {
			fmt.Fprintf(&sb, "    Source: %s:%d\n", hs.SourceFile, hs.LineNumber)
		} else {
			fmt.Fprintf(&sb, "    Source: %s\n", hs.SourceFile)
		}
	}

	return sb.String()
}

// Hotspots renders a ranked hotspot list under a title.
func Hotspots(title, intro string, hotspots []analyzer.Hotspot) string {
	var sb strings.Builder
	sb.WriteString(title + "\n")
	sb.WriteString(rule)
	if intro != "" {
		sb.WriteString(intro + "\n\n")
	}

	if len(hotspots) == 0 {
		sb.WriteString("No hotspots found.\n")
		return sb.String()
	}
	for i, hs := range hotspots {
		sb.WriteString(FormatHotspot(hs, i+1))
		sb.WriteString("\n")
	}
	return sb.String()
}

// Kinds renders seconds per symbol kind with a proportional bar.
func Kinds(kindTime map[string]float64) string {
	type kindShare struct {
		kind       string
		time       float64
		percentage float64
	}

	total := 0.0
	for _, t := range kindTime {
		total += t
	}
	shares := make([]kindShare, 0, len(kindTime))
	for kind, t := range kindTime {
		pct := 0.0
		if total > 0 {
			pct = t / total * 100.0
		}
		shares = append(shares, kindShare{kind: kind, time: t, percentage: pct})
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].time != shares[j].time {
			return shares[i].time > shares[j].time
		}
		return shares[i].kind < shares[j].kind
	})

	var sb strings.Builder
	sb.WriteString("📦 TIME BY FRAME KIND\n")
	sb.WriteString(rule)
	for i, s := range shares {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, s.kind, kindLabel(s.kind))
		fmt.Fprintf(&sb, "   Time: %.6f seconds (%.2f%%)\n", s.time, s.percentage)
		sb.WriteString("   ")
		sb.WriteString(bar(s.percentage))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func kindLabel(kind string) string {
	switch kind {
	case "py":
		return "interpreted"
	case "n":
		return "native"
	case "jit":
		return "jit compiled"
	default:
		return "unresolved"
	}
}

// Issues groups findings by severity.
func Issues(issues []analyzer.PerformanceIssue) string {
	var sb strings.Builder
	sb.WriteString("⚠️  AUTOMATED PERFORMANCE ISSUE DETECTION\n")
	sb.WriteString(rule)

	if len(issues) == 0 {
		sb.WriteString("✅ No significant performance issues detected!\n")
		return sb.String()
	}

	bySeverity := make(map[string][]analyzer.PerformanceIssue)
	for _, issue := range issues {
		bySeverity[issue.Severity] = append(bySeverity[issue.Severity], issue)
	}

	sections := []struct {
		severity string
		heading  string
	}{
		{"Critical", "🔴 CRITICAL ISSUES:"},
		{"High", "🟠 HIGH PRIORITY ISSUES:"},
		{"Medium", "🟡 MEDIUM PRIORITY ISSUES:"},
		{"Low", "⚪ LOW PRIORITY ISSUES:"},
	}
	for _, section := range sections {
		list := bySeverity[section.severity]
		if len(list) == 0 {
			continue
		}
		sb.WriteString(section.heading + "\n\n")
		for i, issue := range list {
			fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, issue.Category, issue.Description)
			if issue.Function != "" {
				fmt.Fprintf(&sb, "   Function: %s\n", displayName(issue.Kind, issue.Function))
			}
			if issue.Impact > 0 {
				fmt.Fprintf(&sb, "   Impact: %.2f%% of samples\n", issue.Impact)
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString("📊 SUMMARY:\n")
	for _, section := range sections {
		fmt.Fprintf(&sb, "   %s: %d\n", section.severity, len(bySeverity[section.severity]))
	}
	return sb.String()
}

// Statistics renders profile statistics.
func Statistics(stats analyzer.ProfileStatistics) string {
	var sb strings.Builder
	sb.WriteString("📊 PROFILE STATISTICS\n")
	sb.WriteString(rule)

	fmt.Fprintf(&sb, "Interpreter: %s (format version %d)\n", stats.Interpreter, stats.Version)
	fmt.Fprintf(&sb, "Sampling Period: %s\n", stats.Period)
	fmt.Fprintf(&sb, "Sampled CPU Time: %.6f seconds\n", stats.TotalTime)
	fmt.Fprintf(&sb, "Wall Time Covered: %.6f seconds\n", stats.WallTime)
	fmt.Fprintf(&sb, "Samples: %d (%d failed)\n", stats.TotalSamples, stats.FailedSamples)
	fmt.Fprintf(&sb, "Symbols: %d\n", stats.TotalSymbols)
	fmt.Fprintf(&sb, "Threads: %d\n\n", stats.Threads)

	sb.WriteString("Call Stack Depth Statistics:\n")
	fmt.Fprintf(&sb, "  Average: %.2f frames\n", stats.AverageStackDepth)
	fmt.Fprintf(&sb, "  Maximum: %d frames\n", stats.MaxStackDepth)
	fmt.Fprintf(&sb, "  Minimum: %d frames\n\n", stats.MinStackDepth)

	sb.WriteString("Unique Elements:\n")
	fmt.Fprintf(&sb, "  Frame kinds: %d\n", stats.UniqueKinds)
	fmt.Fprintf(&sb, "  Functions: %d\n", stats.UniqueFunctions)
	if stats.PeakMemKB > 0 {
		fmt.Fprintf(&sb, "\nPeak Memory: %d KB\n", stats.PeakMemKB)
	}
	return sb.String()
}

// Callstack renders one sample, root first. index is 1-based.
func Callstack(p *vmprof.Profile, index int) (string, error) {
	if index < 1 || index > len(p.Samples) {
		return "", fmt.Errorf("invalid sample index. Valid range: 1-%d", len(p.Samples))
	}
	s := &p.Samples[index-1]
	frames := p.Symbols.ResolveStack(s)

	var sb strings.Builder
	fmt.Fprintf(&sb, "📞 SAMPLE #%d\n", index)
	sb.WriteString(rule)
	if s.Failed() {
		sb.WriteString("Timestamp: failed sample\n")
	} else {
		fmt.Fprintf(&sb, "Timestamp: %.6f seconds\n", s.Timestamp)
	}
	fmt.Fprintf(&sb, "Thread: %d\n", s.ThreadID)
	if p.Session.ProfileMemory {
		fmt.Fprintf(&sb, "Memory: %d KB\n", s.MemKB)
	}
	fmt.Fprintf(&sb, "Stack Depth: %d frames\n\n", len(frames))

	sb.WriteString("Call Stack (root to leaf):\n\n")
	for i, frame := range frames {
		fmt.Fprintf(&sb, "%d. %s\n", i, displayName(frame.Kind, frame.Function))
		if frame.SourceFile != "" {
			fmt.Fprintf(&sb, "   %s:%d\n", frame.SourceFile, frame.LineNumber)
		}
		fmt.Fprintf(&sb, "   %s\n\n", vmprof.RawName(frame.Address))
	}
	return sb.String(), nil
}

// TopFunctions renders the flat profile.
func TopFunctions(top []analyzer.FrameCount) string {
	var sb strings.Builder
	sb.WriteString("🏆 TOP FUNCTIONS (Samples at Any Depth)\n")
	sb.WriteString(rule)
	if len(top) == 0 {
		sb.WriteString("No samples.\n")
		return sb.String()
	}
	for i, fc := range top {
		fmt.Fprintf(&sb, "%3d. %6.2f%%  %6d  %s\n", i+1, fc.Percentage, fc.Count, fc.Name)
	}
	return sb.String()
}

// FunctionProfile renders the callers or callees of one frame.
func FunctionProfile(p *vmprof.Profile, fp analyzer.FunctionProfile) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔍 %s OF %s\n", strings.ToUpper(fp.Direction.String()), p.Symbols.Name(fp.Frame))
	sb.WriteString(rule)
	fmt.Fprintf(&sb, "Occurrences on stacks: %d\n", fp.Total)
	terminal := "leaf (self)"
	if fp.Direction == analyzer.Callers {
		terminal = "root"
	}
	fmt.Fprintf(&sb, "As %s: %d\n\n", terminal, fp.Terminal)

	ranked := fp.Ranked(p.Symbols)
	if len(ranked) == 0 {
		fmt.Fprintf(&sb, "No %s observed.\n", fp.Direction)
		return sb.String()
	}
	for _, fc := range ranked {
		fmt.Fprintf(&sb, "%6.2f%%  %6d  %s\n", fc.Percentage, fc.Count, fc.Name)
	}
	return sb.String()
}

// TreeOptions limits how much of the call tree is printed.
type TreeOptions struct {
	MaxDepth   int     // 0 prints every level
	MinPercent float64 // subtrees below this share of all samples are skipped
}

// Tree renders the call tree with one line per path, indented by depth.
func Tree(p *vmprof.Profile, root *analyzer.Node, opts TreeOptions) string {
	var sb strings.Builder
	sb.WriteString("🌳 CALL TREE\n")
	sb.WriteString(rule)
	if root.Count == 0 {
		sb.WriteString("No samples.\n")
		return sb.String()
	}

	WalkTree(root, opts, func(line TreeLine) {
		fmt.Fprintf(&sb, "%6.2f%% %6.2f%% %s%s%s\n",
			line.Percent, line.SelfPercent, strings.Repeat("  ", line.Depth-1), p.Symbols.Name(line.Node.Frame), line.HotLine())
	})
	return sb.String()
}

// TreeLine is one printable node of a call tree.
type TreeLine struct {
	Node        *analyzer.Node
	Depth       int
	Percent     float64 // of all samples
	SelfPercent float64
}

// HotLine returns " line N" for the most sampled line of the node, if known.
func (l TreeLine) HotLine() string {
	best, hits := int64(0), 0
	for line, n := range l.Node.Lines {
		if n > hits || (n == hits && line < best) {
			best, hits = line, n
		}
	}
	if hits == 0 || best <= 0 {
		return ""
	}
	return fmt.Sprintf(" line %d", best)
}

// WalkTree calls fn for each node that passes opts, skipping the synthetic root.
func WalkTree(root *analyzer.Node, opts TreeOptions, fn func(TreeLine)) {
	total := float64(root.Count)
	if total == 0 {
		return
	}
	root.Walk(func(n *analyzer.Node, depth int) bool {
		if depth == 0 {
			return true
		}
		pct := float64(n.Count) / total * 100.0
		if pct < opts.MinPercent {
			return false
		}
		fn(TreeLine{
			Node:        n,
			Depth:       depth,
			Percent:     pct,
			SelfPercent: float64(n.Self) / total * 100.0,
		})
		return opts.MaxDepth <= 0 || depth < opts.MaxDepth
	})
}

func displayName(kind, function string) string {
	if kind == "" {
		return function
	}
	return kind + ":" + function
}

func bar(percentage float64) string {
	n := int(percentage / 2)
	if n > 50 {
		n = 50
	}
	if n < 0 {
		n = 0
	}
	return strings.Repeat("█", n)
}
