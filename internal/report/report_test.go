package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vmprof-mcp/internal/analyzer"
	"vmprof-mcp/internal/vmprof"
)

func testProfile() *vmprof.Profile {
	p := vmprof.NewProfile()
	p.Session = vmprof.Session{Period: time.Millisecond, Interpreter: "cpython", Version: vmprof.CurrentVersion, ProfileLines: true}
	p.Symbols.Add(1, "py:main:1:app.py")
	p.Symbols.Add(2, "py:work:10:app.py")
	p.Symbols.Add(3, "n:memcpy:libc.so")
	p.Samples = []vmprof.Sample{
		{Stack: []vmprof.FrameID{1, 2, 3}, Lines: []int64{2, 12, 0}, Timestamp: 0},
		{Stack: []vmprof.FrameID{1, 2}, Lines: []int64{2, 14}, Timestamp: 0.001},
		{Stack: []vmprof.FrameID{1, 2}, Lines: []int64{2, 14}, Timestamp: 0.002},
		{Stack: []vmprof.FrameID{1, 0x77}, Lines: []int64{3, 0}, Timestamp: 0.003},
	}
	return p
}

func TestFormatHotspot(t *testing.T) {
	hs := analyzer.Hotspot{Function: "work", Kind: "py", SourceFile: "app.py", LineNumber: 10, TotalTime: 0.003, SampleCount: 3, Percentage: 75}
	require.Equal(t, "#1: py:work\n    Time: 0.003000 seconds (75.00%)\n    Samples: 3\n    Source: app.py:10\n", FormatHotspot(hs, 1))

	native := analyzer.Hotspot{Function: "memcpy", Kind: "n", SourceFile: "libc.so", SampleCount: 1}
	require.Contains(t, FormatHotspot(native, 2), "    Source: libc.so\n")
}

func TestTree(t *testing.T) {
	p := testProfile()
	out := Tree(p, analyzer.BuildTree(p.Samples), TreeOptions{})

	lines := strings.Split(strings.TrimSpace(out), "\n")
	body := lines[3:]
	require.Equal(t, []string{
		"100.00%   0.00% py:main:1:app.py line 2",
		" 75.00%  50.00%   py:work:10:app.py line 14",
		" 25.00%  25.00%     n:memcpy:libc.so",
		" 25.00%  25.00%   [0x77]",
	}, body)

	limited := Tree(p, analyzer.BuildTree(p.Samples), TreeOptions{MaxDepth: 1})
	require.NotContains(t, limited, "py:work")

	pruned := Tree(p, analyzer.BuildTree(p.Samples), TreeOptions{MinPercent: 30})
	require.Contains(t, pruned, "py:work")
	require.NotContains(t, pruned, "memcpy")
	require.NotContains(t, pruned, "[0x77]")
}

func TestCallstack(t *testing.T) {
	p := testProfile()
	out, err := Callstack(p, 1)
	require.NoError(t, err)
	require.Contains(t, out, "SAMPLE #1")
	require.Contains(t, out, "0. py:main\n   app.py:2\n   [0x1]")
	require.Contains(t, out, "2. n:memcpy\n   libc.so:0\n   [0x3]")

	_, err = Callstack(p, 0)
	require.Error(t, err)
	_, err = Callstack(p, 5)
	require.EqualError(t, err, "invalid sample index. Valid range: 1-4")
}

func TestFunctionProfile(t *testing.T) {
	p := testProfile()
	out := FunctionProfile(p, analyzer.ProfileFunction(p.Samples, 2, analyzer.Callees))
	require.Contains(t, out, "CALLEES OF py:work:10:app.py")
	require.Contains(t, out, "Occurrences on stacks: 3")
	require.Contains(t, out, "As leaf (self): 2")
	require.Contains(t, out, " 33.33%       1  n:memcpy:libc.so")

	none := FunctionProfile(p, analyzer.ProfileFunction(p.Samples, 1, analyzer.Callers))
	require.Contains(t, none, "As root: 4")
	require.Contains(t, none, "No callers observed.")
}

func TestIssuesAndKinds(t *testing.T) {
	p := testProfile()

	issues := Issues(analyzer.DetectPerformanceIssues(p))
	require.Contains(t, issues, "CRITICAL ISSUES")
	require.Contains(t, issues, "Function: py:work")
	require.Contains(t, Issues(nil), "No significant performance issues detected")

	kinds := Kinds(analyzer.FindKindHotspots(p))
	require.Contains(t, kinds, "1. py (interpreted)")
	require.Contains(t, kinds, "n (native)")
	require.Contains(t, kinds, "[unknown] (unresolved)")
}

func TestSummaries(t *testing.T) {
	p := testProfile()
	require.Contains(t, LoadSummary("/tmp/app.prof", p), "Samples: 4 (0 failed)")
	require.Contains(t, Statistics(analyzer.ComputeStatistics(p)), "Maximum: 3 frames")
	require.Contains(t, TopFunctions(analyzer.TopFunctions(p, 1)), "100.00%       4  py:main:1:app.py")
	require.Contains(t, Hotspots("HOT", "", nil), "No hotspots found.")
}

func TestTerminalRendering(t *testing.T) {
	p := testProfile()

	var buf bytes.Buffer
	RenderTop(&buf, p, analyzer.TopFunctions(p, 0))
	require.Contains(t, buf.String(), "py:work")
	require.Contains(t, buf.String(), "app.py:10")
	require.Contains(t, buf.String(), "FUNCTION")

	buf.Reset()
	RenderTree(&buf, p, analyzer.BuildTree(p.Samples), TreeOptions{})
	require.Contains(t, buf.String(), "├─py:work:10:app.py")
	require.Contains(t, buf.String(), "│ ├─n:memcpy:libc.so")

	buf.Reset()
	RenderTree(&buf, p, analyzer.BuildTree(nil), TreeOptions{})
	require.Contains(t, buf.String(), "no samples")
}
