package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"vmprof-mcp/internal/analyzer"
	"vmprof-mcp/internal/config"
	"vmprof-mcp/internal/report"
	"vmprof-mcp/internal/store"
	"vmprof-mcp/internal/vmprof"
)

// tools holds the state shared by the MCP tool handlers.
type tools struct {
	cache  *store.Cache
	cfg    *config.Config
	logger *zap.Logger
}

func filePathArg() mcp.ToolOption {
	return mcp.WithString("file_path",
		mcp.Required(),
		mcp.Description("Path to the loaded vmprof profile file"),
	)
}

func topNArg(what string) mcp.ToolOption {
	return mcp.WithNumber("top_n",
		mcp.Description(fmt.Sprintf("Number of %s to return (default: from config, usually 10)", what)),
	)
}

func newMCPServer(t *tools) *server.MCPServer {
	s := server.NewMCPServer(
		t.cfg.Server.Name,
		version,
		server.WithLogging(),
		server.WithToolCapabilities(true),
	)

	s.AddTool(mcp.NewTool("load_profile",
		mcp.WithDescription("Load a vmprof profile file (optionally gzip or zstd compressed) for analysis"),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Path to the vmprof profile file"),
		),
	), t.loadProfile)

	s.AddTool(mcp.NewTool("top_functions",
		mcp.WithDescription("Flat profile: how many samples had each function anywhere on the stack. Recursive frames count once per sample."),
		filePathArg(),
		topNArg("functions"),
	), t.topFunctions)

	s.AddTool(mcp.NewTool("find_hotspots",
		mcp.WithDescription("Find the top CPU hotspots (functions consuming the most time) in the profile. This is the most important tool for identifying performance bottlenecks."),
		filePathArg(),
		topNArg("hotspots"),
	), t.findHotspots)

	s.AddTool(mcp.NewTool("find_leaf_functions",
		mcp.WithDescription("Find leaf functions (the innermost frame of each sample, where the CPU time is actually spent). These are usually the first thing to optimize."),
		filePathArg(),
		topNArg("functions"),
	), t.findLeafFunctions)

	s.AddTool(mcp.NewTool("analyze_kinds",
		mcp.WithDescription("Break down leaf time by frame kind (py, n for native, jit, ...). Shows whether time goes to interpreted code or native extensions."),
		filePathArg(),
	), t.analyzeKinds)

	s.AddTool(mcp.NewTool("detect_performance_issues",
		mcp.WithDescription("Automatically detect performance issues such as CPU hotspots, hot paths, deep call stacks, failed samples and memory growth."),
		filePathArg(),
	), t.detectIssues)

	s.AddTool(mcp.NewTool("get_statistics",
		mcp.WithDescription("Get overall statistics about the profile (samples, threads, stack depths, memory)."),
		filePathArg(),
	), t.getStatistics)

	s.AddTool(mcp.NewTool("view_callstack",
		mcp.WithDescription("View one sample's full call stack, root to leaf."),
		filePathArg(),
		mcp.WithNumber("sample_index",
			mcp.Required(),
			mcp.Description("1-based index of the sample"),
		),
	), t.viewCallstack)

	s.AddTool(mcp.NewTool("call_tree",
		mcp.WithDescription("Render the aggregated call tree with total and self percentages per path."),
		filePathArg(),
		mcp.WithNumber("max_depth",
			mcp.Description("Deepest level to print, 0 for all (default: from config)"),
		),
		mcp.WithNumber("min_percent",
			mcp.Description("Skip subtrees below this percentage of all samples (default: from config)"),
		),
	), t.callTree)

	s.AddTool(mcp.NewTool("function_profile",
		mcp.WithDescription("Show the direct callees or callers of one function across all samples."),
		filePathArg(),
		mcp.WithString("function",
			mcp.Required(),
			mcp.Description("Function name, full symbol (kind:name:line:file) or frame address such as 0x7f3a"),
		),
		mcp.WithString("direction",
			mcp.Description("Which neighbours to collect"),
			mcp.Enum("callees", "callers"),
		),
	), t.functionProfile)

	s.AddTool(mcp.NewTool("export_flame_chart",
		mcp.WithDescription("Reconstruct per-thread flame charts and write them as a chrome trace (JSON, loadable in chrome://tracing or Perfetto)."),
		filePathArg(),
		mcp.WithString("output_path",
			mcp.Description("Destination file (default: the profile path with a .json extension)"),
		),
	), t.exportFlameChart)

	s.AddTool(mcp.NewTool("export_pprof",
		mcp.WithDescription("Convert the profile to gzipped pprof protobuf for go tool pprof and other pprof viewers."),
		filePathArg(),
		mcp.WithString("output_path",
			mcp.Description("Destination file (default: the profile path with a .pb.gz extension)"),
		),
	), t.exportPProf)

	return s
}

// profile fetches the loaded profile named by the file_path argument.
func (t *tools) profile(request mcp.CallToolRequest) (string, *vmprof.Profile, *mcp.CallToolResult) {
	filePath, err := request.RequireString("file_path")
	if err != nil {
		return "", nil, mcp.NewToolResultError(err.Error())
	}
	p, err := t.cache.Get(filePath)
	if err != nil {
		if errors.Is(err, store.ErrNotLoaded) {
			return "", nil, mcp.NewToolResultError("Profile not loaded. Use load_profile tool first")
		}
		return "", nil, mcp.NewToolResultError(err.Error())
	}
	return filePath, p, nil
}

func (t *tools) topN(request mcp.CallToolRequest) int {
	n := int(request.GetFloat("top_n", float64(t.cfg.Report.TopN)))
	if n <= 0 {
		return t.cfg.Report.TopN
	}
	return n
}

func (t *tools) loadProfile(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filePath, err := request.RequireString("file_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	p, err := t.cache.Load(filePath)
	if err != nil {
		t.logger.Warn("load failed", zap.String("path", filePath), zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load profile: %v", err)), nil
	}
	return mcp.NewToolResultText(report.LoadSummary(filePath, p)), nil
}

func (t *tools) topFunctions(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, p, errResult := t.profile(request)
	if errResult != nil {
		return errResult, nil
	}
	top := analyzer.TopFunctions(p, t.topN(request))
	return mcp.NewToolResultText(report.TopFunctions(top)), nil
}

func (t *tools) findHotspots(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, p, errResult := t.profile(request)
	if errResult != nil {
		return errResult, nil
	}
	hotspots := analyzer.FindHotspots(p, t.topN(request))
	return mcp.NewToolResultText(report.Hotspots(
		"🔥 TOP CPU HOTSPOTS (Functions Consuming Most Time)",
		"",
		hotspots,
	)), nil
}

func (t *tools) findLeafFunctions(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, p, errResult := t.profile(request)
	if errResult != nil {
		return errResult, nil
	}
	leaves := analyzer.FindLeafFunctions(p, t.topN(request))
	return mcp.NewToolResultText(report.Hotspots(
		"🎯 LEAF FUNCTIONS (Where Actual CPU Work Happens)",
		"These are the functions at the bottom of callstacks - the actual CPU-intensive operations.\n"+
			"Optimizing these will have direct performance impact.",
		leaves,
	)), nil
}

func (t *tools) analyzeKinds(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, p, errResult := t.profile(request)
	if errResult != nil {
		return errResult, nil
	}
	return mcp.NewToolResultText(report.Kinds(analyzer.FindKindHotspots(p))), nil
}

func (t *tools) detectIssues(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, p, errResult := t.profile(request)
	if errResult != nil {
		return errResult, nil
	}
	return mcp.NewToolResultText(report.Issues(analyzer.DetectPerformanceIssues(p))), nil
}

func (t *tools) getStatistics(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, p, errResult := t.profile(request)
	if errResult != nil {
		return errResult, nil
	}
	return mcp.NewToolResultText(report.Statistics(analyzer.ComputeStatistics(p))), nil
}

func (t *tools) viewCallstack(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, p, errResult := t.profile(request)
	if errResult != nil {
		return errResult, nil
	}
	index := int(request.GetFloat("sample_index", 0))
	text, err := report.Callstack(p, index)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (t *tools) callTree(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, p, errResult := t.profile(request)
	if errResult != nil {
		return errResult, nil
	}
	opts := report.TreeOptions{
		MaxDepth:   int(request.GetFloat("max_depth", float64(t.cfg.Report.TreeDepth))),
		MinPercent: request.GetFloat("min_percent", t.cfg.Report.TreeMinPercent),
	}
	root := analyzer.BuildTree(p.Samples)
	return mcp.NewToolResultText(report.Tree(p, root, opts)), nil
}

func (t *tools) functionProfile(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, p, errResult := t.profile(request)
	if errResult != nil {
		return errResult, nil
	}
	function, err := request.RequireString("function")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dir, err := analyzer.ParseDirection(request.GetString("direction", "callees"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	frames := lookupFrames(p.Symbols, function)
	if len(frames) == 0 {
		return mcp.NewToolResultError(fmt.Sprintf("function %q not found in profile symbols", function)), nil
	}

	var sb strings.Builder
	for i, frame := range frames {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(report.FunctionProfile(p, analyzer.ProfileFunction(p.Samples, frame, dir)))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// lookupFrames resolves a symbol name or a hex frame address. A name shared
// by several frames (same function on different lines) yields all of them.
func lookupFrames(symbols *vmprof.SymbolTable, function string) []vmprof.FrameID {
	if hex, ok := strings.CutPrefix(strings.ToLower(function), "0x"); ok {
		if id, err := strconv.ParseUint(hex, 16, 64); err == nil {
			return []vmprof.FrameID{vmprof.FrameID(id)}
		}
	}
	return symbols.Find(function)
}

func (t *tools) exportFlameChart(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.export(request, formatChrome)
}

func (t *tools) exportPProf(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.export(request, formatPProf)
}

func (t *tools) export(request mcp.CallToolRequest, format string) (*mcp.CallToolResult, error) {
	filePath, p, errResult := t.profile(request)
	if errResult != nil {
		return errResult, nil
	}
	out := request.GetString("output_path", "")
	if out == "" {
		out = outputPath(filePath, t.cfg.Export.OutDir, format)
	}

	if err := writeExport(out, format, p, t.cfg, t.logger); err != nil {
		t.logger.Warn("export failed", zap.String("path", filePath), zap.String("format", format), zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("Failed to export profile: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Exported %d samples as %s to %s\n", len(p.Valid()), format, out)), nil
}
