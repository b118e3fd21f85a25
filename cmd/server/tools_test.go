package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vmprof-mcp/internal/config"
	"vmprof-mcp/internal/store"
	"vmprof-mcp/internal/vmprof"
)

func writeTestProfile(t *testing.T, dir string) string {
	t.Helper()
	p := vmprof.NewProfile()
	p.Session = vmprof.Session{Period: time.Millisecond, Interpreter: "cpython", Version: vmprof.CurrentVersion}
	p.Symbols.Add(0x10, "py:main:1:app.py")
	p.Symbols.Add(0x20, "py:work:10:app.py")
	p.Symbols.Add(0x30, "n:memcpy:libc.so")
	p.Symbols.Add(0x40, "py:idle:20:app.py")
	p.Samples = []vmprof.Sample{
		{Stack: []vmprof.FrameID{0x10, 0x20, 0x30}, Timestamp: 0.001, ThreadID: 7},
		{Stack: []vmprof.FrameID{0x10, 0x20, 0x30}, Timestamp: 0.002, ThreadID: 7},
		{Stack: []vmprof.FrameID{0x10, 0x20}, Timestamp: 0.003, ThreadID: 7},
		{Stack: []vmprof.FrameID{0x10, 0x40}, Timestamp: 0.004, ThreadID: 7},
	}

	var buf bytes.Buffer
	require.NoError(t, vmprof.WriteProfile(&buf, p))
	path := filepath.Join(dir, "app.prof")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func newTestTools() *tools {
	return &tools{cache: store.New(), cfg: config.DefaultConfig(), logger: zap.NewNop()}
}

func call(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := handler(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text, res.IsError
}

func TestToolsRequireLoadedProfile(t *testing.T) {
	tl := newTestTools()
	text, isErr := call(t, tl.findHotspots, map[string]any{"file_path": "/nowhere/app.prof"})
	require.True(t, isErr)
	require.Contains(t, text, "load_profile")

	_, isErr = call(t, tl.getStatistics, map[string]any{})
	require.True(t, isErr)
}

func TestLoadProfileErrors(t *testing.T) {
	tl := newTestTools()
	text, isErr := call(t, tl.loadProfile, map[string]any{"file_path": filepath.Join(t.TempDir(), "missing.prof")})
	require.True(t, isErr)
	require.Contains(t, text, "Failed to load profile")
}

func TestAnalysisTools(t *testing.T) {
	path := writeTestProfile(t, t.TempDir())
	tl := newTestTools()

	text, isErr := call(t, tl.loadProfile, map[string]any{"file_path": path})
	require.False(t, isErr, text)
	require.Contains(t, text, "Samples: 4 (0 failed)")
	require.Contains(t, text, "Interpreter: cpython")

	for _, test := range []struct {
		name    string
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args    map[string]any
		want    []string
	}{
		{
			name:    "top functions",
			handler: tl.topFunctions,
			want:    []string{"TOP FUNCTIONS", "100.00%", "75.00%", "py:work:10:app.py"},
		},
		{
			name:    "hotspots",
			handler: tl.findHotspots,
			args:    map[string]any{"top_n": 2.0},
			want:    []string{"TOP CPU HOTSPOTS", "#1: ", "#2: "},
		},
		{
			name:    "leaf functions",
			handler: tl.findLeafFunctions,
			want:    []string{"LEAF FUNCTIONS", "memcpy", "Samples: 2"},
		},
		{
			name:    "kinds",
			handler: tl.analyzeKinds,
			want:    []string{"TIME BY FRAME KIND", "py", "n"},
		},
		{
			name:    "issues",
			handler: tl.detectIssues,
			want:    []string{"PERFORMANCE ISSUE DETECTION", "SUMMARY"},
		},
		{
			name:    "statistics",
			handler: tl.getStatistics,
			want:    []string{"PROFILE STATISTICS", "Maximum: 3 frames", "Threads: 1"},
		},
		{
			name:    "callstack",
			handler: tl.viewCallstack,
			args:    map[string]any{"sample_index": 1.0},
			want:    []string{"SAMPLE #1", "Thread: 7", "Stack Depth: 3 frames"},
		},
		{
			name:    "call tree",
			handler: tl.callTree,
			args:    map[string]any{"min_percent": 0.0},
			want:    []string{"CALL TREE", "py:main:1:app.py", "n:memcpy:libc.so"},
		},
		{
			name:    "callees by name",
			handler: tl.functionProfile,
			args:    map[string]any{"function": "work"},
			want:    []string{"CALLEES OF py:work:10:app.py", "Occurrences on stacks: 3", "n:memcpy:libc.so"},
		},
		{
			name:    "callers by address",
			handler: tl.functionProfile,
			args:    map[string]any{"function": "0x20", "direction": "callers"},
			want:    []string{"CALLERS OF py:work:10:app.py", "py:main:1:app.py"},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			args := map[string]any{"file_path": path}
			for k, v := range test.args {
				args[k] = v
			}
			text, isErr := call(t, test.handler, args)
			require.False(t, isErr, text)
			for _, want := range test.want {
				require.Contains(t, text, want)
			}
		})
	}
}

func TestToolArgumentErrors(t *testing.T) {
	path := writeTestProfile(t, t.TempDir())
	tl := newTestTools()
	_, isErr := call(t, tl.loadProfile, map[string]any{"file_path": path})
	require.False(t, isErr)

	for _, test := range []struct {
		name    string
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args    map[string]any
		want    string
	}{
		{name: "sample index too large", handler: tl.viewCallstack, args: map[string]any{"sample_index": 5.0}, want: "Valid range: 1-4"},
		{name: "sample index missing", handler: tl.viewCallstack, args: map[string]any{}, want: "Valid range: 1-4"},
		{name: "unknown function", handler: tl.functionProfile, args: map[string]any{"function": "nope"}, want: "not found"},
		{name: "bad direction", handler: tl.functionProfile, args: map[string]any{"function": "work", "direction": "sideways"}, want: "unknown direction"},
	} {
		t.Run(test.name, func(t *testing.T) {
			args := map[string]any{"file_path": path}
			for k, v := range test.args {
				args[k] = v
			}
			text, isErr := call(t, test.handler, args)
			require.True(t, isErr)
			require.Contains(t, text, test.want)
		})
	}
}

func TestExportTools(t *testing.T) {
	dir := t.TempDir()
	path := writeTestProfile(t, dir)
	tl := newTestTools()
	_, isErr := call(t, tl.loadProfile, map[string]any{"file_path": path})
	require.False(t, isErr)

	text, isErr := call(t, tl.exportFlameChart, map[string]any{"file_path": path})
	require.False(t, isErr, text)
	require.Contains(t, text, filepath.Join(dir, "app.json"))

	data, err := os.ReadFile(filepath.Join(dir, "app.json"))
	require.NoError(t, err)
	var trace struct {
		TraceEvents []map[string]any `json:"traceEvents"`
		MetaUser    string           `json:"meta_user"`
	}
	require.NoError(t, json.Unmarshal(data, &trace))
	require.Equal(t, "cpython", trace.MetaUser)
	require.NotEmpty(t, trace.TraceEvents)

	out := filepath.Join(dir, "nested", "out.pb.gz")
	text, isErr = call(t, tl.exportPProf, map[string]any{"file_path": path, "output_path": out})
	require.False(t, isErr, text)
	info, err := os.Stat(out)
	require.NoError(t, err)
	require.NotZero(t, info.Size())
}

func TestNewMCPServerRegistersTools(t *testing.T) {
	s := newMCPServer(newTestTools())
	require.NotNil(t, s)
}
