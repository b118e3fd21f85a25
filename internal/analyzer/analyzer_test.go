package analyzer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vmprof-mcp/internal/vmprof"
)

const (
	fMain   vmprof.FrameID = 1
	fWork   vmprof.FrameID = 2
	fMemcpy vmprof.FrameID = 3
	fIdle   vmprof.FrameID = 4
	fAnon   vmprof.FrameID = 0x99
)

func sample(ts float64, frames ...vmprof.FrameID) vmprof.Sample {
	return vmprof.Sample{Stack: frames, Timestamp: ts}
}

func testProfile() *vmprof.Profile {
	p := vmprof.NewProfile()
	p.Session = vmprof.Session{Period: time.Millisecond, Interpreter: "cpython", Version: vmprof.CurrentVersion}
	p.Symbols.Add(fMain, "py:main:1:app.py")
	p.Symbols.Add(fWork, "py:work:10:app.py")
	p.Symbols.Add(fMemcpy, "n:memcpy:libc.so")
	p.Symbols.Add(fIdle, "py:idle:20:app.py")
	p.Samples = []vmprof.Sample{
		sample(0.000, fMain, fWork, fMemcpy),
		sample(0.001, fMain, fWork, fMemcpy),
		sample(0.002, fMain, fWork),
		sample(0.003, fMain, fIdle),
		sample(vmprof.FailedTimestamp, fMain),
		sample(0.004, fMain, fWork, fWork),
		sample(0.005, fMain, fAnon),
	}
	return p
}

func TestBuildTree(t *testing.T) {
	root := BuildTree(testProfile().Samples)

	require.Equal(t, 6, root.Count)
	require.Zero(t, root.Self)
	require.Equal(t, 3, root.Depth())

	for _, test := range []struct {
		path  []vmprof.FrameID
		count int
		self  int
	}{
		{path: []vmprof.FrameID{fMain}, count: 6, self: 0},
		{path: []vmprof.FrameID{fMain, fWork}, count: 4, self: 1},
		{path: []vmprof.FrameID{fMain, fWork, fMemcpy}, count: 2, self: 2},
		{path: []vmprof.FrameID{fMain, fWork, fWork}, count: 1, self: 1},
		{path: []vmprof.FrameID{fMain, fIdle}, count: 1, self: 1},
		{path: []vmprof.FrameID{fMain, fAnon}, count: 1, self: 1},
	} {
		node, ok := root.Find(test.path...)
		require.True(t, ok, "path %v", test.path)
		require.Equal(t, test.count, node.Count, "path %v", test.path)
		require.Equal(t, test.self, node.Self, "path %v", test.path)
	}

	_, ok := root.Find(fWork)
	require.False(t, ok)

	main, _ := root.Find(fMain)
	var order []vmprof.FrameID
	for _, c := range main.SortedChildren() {
		order = append(order, c.Frame)
	}
	require.Equal(t, []vmprof.FrameID{fWork, fIdle, fAnon}, order)
}

func TestBuildTreeLines(t *testing.T) {
	samples := []vmprof.Sample{
		{Stack: []vmprof.FrameID{1, 2}, Lines: []int64{5, 7}},
		{Stack: []vmprof.FrameID{1, 2}, Lines: []int64{5, 8}},
		{Stack: []vmprof.FrameID{1}, Lines: []int64{6}},
	}
	root := BuildTree(samples)

	n, ok := root.Find(1)
	require.True(t, ok)
	require.Equal(t, map[int64]int{5: 2, 6: 1}, n.Lines)

	n, ok = root.Find(1, 2)
	require.True(t, ok)
	require.Equal(t, map[int64]int{7: 1, 8: 1}, n.Lines)

	require.Nil(t, BuildTree(testProfile().Samples).Children[fMain].Lines)
}

func TestWalk(t *testing.T) {
	root := BuildTree(testProfile().Samples)

	var visited []vmprof.FrameID
	var depths []int
	root.Walk(func(n *Node, depth int) bool {
		visited = append(visited, n.Frame)
		depths = append(depths, depth)
		return depth < 2
	})
	require.Equal(t, []vmprof.FrameID{0, fMain, fWork, fIdle, fAnon}, visited)
	require.Equal(t, []int{0, 1, 2, 2, 2}, depths)
}

func TestTopProfile(t *testing.T) {
	p := testProfile()

	require.Equal(t, map[vmprof.FrameID]int{
		fMain:   6,
		fWork:   5,
		fMemcpy: 2,
		fIdle:   1,
		fAnon:   1,
	}, TopProfile(p.Samples))

	top := TopFunctions(p, 2)
	require.Len(t, top, 2)
	require.Equal(t, FrameCount{Frame: fMain, Name: "py:main:1:app.py", Count: 6, Percentage: 100}, top[0])
	require.Equal(t, fWork, top[1].Frame)
	require.InDelta(t, 83.33, top[1].Percentage, 0.01)

	all := TopFunctions(p, 0)
	require.Len(t, all, 5)
	require.Equal(t, "[0x99]", all[4].Name)
}

func TestProfileFunction(t *testing.T) {
	samples := testProfile().Samples

	callees := ProfileFunction(samples, fWork, Callees)
	require.Equal(t, 5, callees.Total)
	require.Equal(t, 2, callees.Terminal)
	require.Equal(t, map[vmprof.FrameID]int{fMemcpy: 2, fWork: 1}, callees.Neighbors)

	callers := ProfileFunction(samples, fWork, Callers)
	require.Equal(t, 5, callers.Total)
	require.Zero(t, callers.Terminal)
	require.Equal(t, map[vmprof.FrameID]int{fMain: 4, fWork: 1}, callers.Neighbors)

	roots := ProfileFunction(samples, fMain, Callers)
	require.Equal(t, 6, roots.Total)
	require.Equal(t, 6, roots.Terminal)
	require.Empty(t, roots.Neighbors)

	ranked := callers.Ranked(testProfile().Symbols)
	require.Equal(t, fMain, ranked[0].Frame)
	require.InDelta(t, 80.0, ranked[0].Percentage, 1e-9)
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("callers")
	require.NoError(t, err)
	require.Equal(t, Callers, d)

	d, err = ParseDirection("")
	require.NoError(t, err)
	require.Equal(t, Callees, d)

	_, err = ParseDirection("siblings")
	require.Error(t, err)
}

func TestFindHotspots(t *testing.T) {
	hotspots := FindHotspots(testProfile(), 3)
	require.Len(t, hotspots, 3)

	require.Equal(t, "main", hotspots[0].Function)
	require.Equal(t, 6, hotspots[0].SampleCount)
	require.InDelta(t, 100.0, hotspots[0].Percentage, 1e-9)
	require.InDelta(t, 0.006, hotspots[0].TotalTime, 1e-12)
	require.Equal(t, []int{0, 1, 2, 3, 5, 6}, hotspots[0].SampleRefs)

	// recursion counts once per stack
	require.Equal(t, "work", hotspots[1].Function)
	require.Equal(t, 4, hotspots[1].SampleCount)
	require.Equal(t, []vmprof.FrameID{fWork}, hotspots[1].Frames)

	require.Equal(t, "memcpy", hotspots[2].Function)
	require.Equal(t, "n", hotspots[2].Kind)
	require.Equal(t, "libc.so", hotspots[2].SourceFile)
}

func TestFindLeafFunctions(t *testing.T) {
	leaves := FindLeafFunctions(testProfile(), 0)
	require.Len(t, leaves, 4)

	require.Equal(t, "memcpy", leaves[0].Function)
	require.Equal(t, 2, leaves[0].SampleCount)
	require.Equal(t, "work", leaves[1].Function)
	require.Equal(t, []int{2, 5}, leaves[1].SampleRefs)
	require.InDelta(t, 100.0/3, leaves[1].Percentage, 1e-9)
}

func TestFindKindHotspots(t *testing.T) {
	kinds := FindKindHotspots(testProfile())
	require.Len(t, kinds, 3)
	require.InDelta(t, 0.006, kinds["py"], 1e-12)
	require.InDelta(t, 0.002, kinds["n"], 1e-12)
	require.InDelta(t, 0.001, kinds["[unknown]"], 1e-12)
}

func TestComputeStatistics(t *testing.T) {
	stats := ComputeStatistics(testProfile())

	require.Equal(t, 6, stats.TotalSamples)
	require.Equal(t, 1, stats.FailedSamples)
	require.Equal(t, 4, stats.TotalSymbols)
	require.Equal(t, 1, stats.Threads)
	require.Equal(t, 3, stats.MaxStackDepth)
	require.Equal(t, 2, stats.MinStackDepth)
	require.InDelta(t, 2.5, stats.AverageStackDepth, 1e-9)
	require.Equal(t, 2, stats.UniqueKinds)
	require.Equal(t, 5, stats.UniqueFunctions)
	require.InDelta(t, 0.005, stats.WallTime, 1e-12)
	require.InDelta(t, 0.006, stats.TotalTime, 1e-12)

	empty := ComputeStatistics(vmprof.NewProfile())
	require.Zero(t, empty.TotalSamples)
	require.Zero(t, empty.MinStackDepth)
}

func TestFindCommonStackPatterns(t *testing.T) {
	patterns := FindCommonStackPatterns(testProfile(), 2, 0)
	require.Len(t, patterns, 5)
	require.Equal(t, "n:memcpy <- py:work", patterns[0].Pattern)
	require.Equal(t, []string{"n:memcpy", "py:work"}, patterns[0].Frames)
	require.Equal(t, 2, patterns[0].Occurrences)
	require.InDelta(t, 100.0/3, patterns[0].Percentage, 1e-9)

	require.Len(t, FindCommonStackPatterns(testProfile(), 1, 2), 2)
}

func TestDetectPerformanceIssues(t *testing.T) {
	issues := DetectPerformanceIssues(testProfile())
	require.Len(t, issues, 5)
	require.Equal(t, "Critical", issues[0].Severity)
	require.Equal(t, "CPU Hotspot", issues[0].Category)
	require.Equal(t, "Failed Samples", issues[4].Category)

	for _, issue := range issues {
		require.NotEqual(t, "main", issue.Function, "the root frame is on every stack and not an issue")
	}
}

func TestDetectDeepStacksAndMemoryGrowth(t *testing.T) {
	deep := make([]vmprof.FrameID, 60)
	for i := range deep {
		deep[i] = vmprof.FrameID(i + 1)
	}

	p := vmprof.NewProfile()
	p.Session = vmprof.Session{Period: time.Millisecond, ProfileMemory: true}
	p.Samples = []vmprof.Sample{
		{Stack: deep, Timestamp: 0, MemKB: 100},
		{Stack: deep[:10], Timestamp: 0.001, MemKB: 400},
	}

	categories := map[string]bool{}
	for _, issue := range DetectPerformanceIssues(p) {
		categories[issue.Category] = true
	}
	require.True(t, categories["Deep Call Stack"])
	require.True(t, categories["Memory Growth"])
}
