package analyzer

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"vmprof-mcp/internal/vmprof"
)

// ProfileStatistics contains summary statistics about the profile
type ProfileStatistics struct {
	Interpreter       string
	Version           int
	Period            time.Duration
	TotalTime         float64 // valid samples times the period, in seconds
	WallTime          float64 // first to last valid timestamp, in seconds
	TotalSamples      int
	FailedSamples     int
	TotalSymbols      int
	Threads           int
	AverageStackDepth float64
	MaxStackDepth     int
	MinStackDepth     int
	UniqueKinds       int
	UniqueFunctions   int
	PeakMemKB         uint64
}

// ComputeStatistics calculates summary statistics for the profile
func ComputeStatistics(profile *vmprof.Profile) ProfileStatistics {
	stats := ProfileStatistics{
		Interpreter:  profile.Session.Interpreter,
		Version:      profile.Session.Version,
		Period:       profile.Session.Period,
		TotalSymbols: profile.Symbols.Len(),
		Threads:      len(profile.Threads()),
	}

	valid := profile.Valid()
	stats.TotalSamples = len(valid)
	stats.FailedSamples = len(profile.Samples) - len(valid)
	if len(valid) == 0 {
		return stats
	}

	totalDepth := 0
	stats.MinStackDepth = math.MaxInt32
	stats.TotalTime = float64(len(valid)) * profile.Session.Period.Seconds()
	stats.WallTime = valid[len(valid)-1].Timestamp - valid[0].Timestamp

	kindSet := make(map[string]bool)
	functionSet := make(map[string]bool)

	for i := range valid {
		s := &valid[i]
		depth := len(s.Stack)
		totalDepth += depth
		if depth > stats.MaxStackDepth {
			stats.MaxStackDepth = depth
		}
		if depth < stats.MinStackDepth {
			stats.MinStackDepth = depth
		}
		if s.MemKB > stats.PeakMemKB {
			stats.PeakMemKB = s.MemKB
		}

		for _, id := range s.Stack {
			frame := profile.Symbols.Resolve(id)
			if frame.Kind != "" {
				kindSet[frame.Kind] = true
			}
			functionSet[frame.Signature()] = true
		}
	}

	stats.AverageStackDepth = float64(totalDepth) / float64(len(valid))
	stats.UniqueKinds = len(kindSet)
	stats.UniqueFunctions = len(functionSet)

	return stats
}

// FunctionFrequency represents how many stacks a function appears on
type FunctionFrequency struct {
	Function   string
	Kind       string
	Count      int
	Percentage float64
}

// GetFunctionFrequencies returns functions sorted by how many stacks they appear on
func GetFunctionFrequencies(profile *vmprof.Profile) []FunctionFrequency {
	hotspots := FindHotspots(profile, 0)
	out := make([]FunctionFrequency, 0, len(hotspots))
	for _, hs := range hotspots {
		out = append(out, FunctionFrequency{
			Function:   hs.Function,
			Kind:       hs.Kind,
			Count:      hs.SampleCount,
			Percentage: hs.Percentage,
		})
	}
	return out
}

// StackPattern is a run of innermost frames shared by many samples
type StackPattern struct {
	Pattern     string   // frames joined leaf first with " <- "
	Frames      []string // signatures, leaf first
	Occurrences int
	TotalTime   float64
	Percentage  float64
}

// FindCommonStackPatterns groups samples by their innermost depth frames.
func FindCommonStackPatterns(profile *vmprof.Profile, depth int, topN int) []StackPattern {
	patterns := make(map[string]*StackPattern)
	total := 0
	period := profile.Session.Period.Seconds()

	for i := range profile.Samples {
		s := &profile.Samples[i]
		if s.Failed() || len(s.Stack) == 0 {
			continue
		}
		total++

		n := depth
		if n <= 0 || n > len(s.Stack) {
			n = len(s.Stack)
		}
		frames := make([]string, n)
		for j := 0; j < n; j++ {
			id := s.Stack[len(s.Stack)-1-j]
			frames[j] = profile.Symbols.Resolve(id).Signature()
		}
		key := strings.Join(frames, " <- ")

		p, ok := patterns[key]
		if !ok {
			p = &StackPattern{Pattern: key, Frames: frames}
			patterns[key] = p
		}
		p.Occurrences++
	}

	list := make([]StackPattern, 0, len(patterns))
	for _, p := range patterns {
		p.TotalTime = float64(p.Occurrences) * period
		if total > 0 {
			p.Percentage = float64(p.Occurrences) / float64(total) * 100.0
		}
		list = append(list, *p)
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].Occurrences != list[j].Occurrences {
			return list[i].Occurrences > list[j].Occurrences
		}
		return list[i].Pattern < list[j].Pattern
	})

	if topN > 0 && topN < len(list) {
		return list[:topN]
	}
	return list
}

// PerformanceIssue is one finding of DetectPerformanceIssues
type PerformanceIssue struct {
	Severity    string // "Critical", "High", "Medium", "Low"
	Category    string
	Description string
	Function    string
	Kind        string
	Impact      float64 // % of samples
}

// DetectPerformanceIssues applies simple heuristics to flag likely problems.
func DetectPerformanceIssues(profile *vmprof.Profile) []PerformanceIssue {
	issues := []PerformanceIssue{}
	stats := ComputeStatistics(profile)

	if stats.MaxStackDepth > 50 {
		issues = append(issues, PerformanceIssue{
			Severity:    "High",
			Category:    "Deep Call Stack",
			Description: fmt.Sprintf("Maximum stack depth of %d frames detected. This may indicate deep recursion or complex call chains.", stats.MaxStackDepth),
		})
	}

	if all := stats.TotalSamples + stats.FailedSamples; all > 0 && stats.FailedSamples > 0 {
		ratio := float64(stats.FailedSamples) / float64(all) * 100.0
		if ratio > 5.0 {
			issues = append(issues, PerformanceIssue{
				Severity:    "Medium",
				Category:    "Failed Samples",
				Description: fmt.Sprintf("%d of %d samples (%.2f%%) could not capture a stack; timings are less reliable", stats.FailedSamples, all, ratio),
				Impact:      ratio,
			})
		}
	}

	// ranked by self samples
	for _, hs := range FindLeafFunctions(profile, 10) {
		switch {
		case hs.Percentage > 20.0:
			issues = append(issues, hotspotIssue("Critical", hs))
		case hs.Percentage > 10.0:
			issues = append(issues, hotspotIssue("High", hs))
		}
	}

	for _, freq := range GetFunctionFrequencies(profile) {
		if freq.Percentage <= 80.0 || freq.Count < 2 {
			continue
		}
		if isRoot(profile, freq) {
			continue
		}
		issues = append(issues, PerformanceIssue{
			Severity:    "Medium",
			Category:    "Hot Path",
			Description: fmt.Sprintf("Function appears in %.2f%% of all stacks", freq.Percentage),
			Function:    freq.Function,
			Kind:        freq.Kind,
			Impact:      freq.Percentage,
		})
	}

	if profile.Session.ProfileMemory {
		if growth := memoryGrowth(profile); growth > 0 {
			issues = append(issues, PerformanceIssue{
				Severity:    "Low",
				Category:    "Memory Growth",
				Description: fmt.Sprintf("Memory grew by %d KB between the first and last sample", growth),
			})
		}
	}

	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Impact > issues[j].Impact
	})

	return issues
}

func hotspotIssue(severity string, hs Hotspot) PerformanceIssue {
	return PerformanceIssue{
		Severity:    severity,
		Category:    "CPU Hotspot",
		Description: fmt.Sprintf("Function is on top of the stack in %.2f%% of samples", hs.Percentage),
		Function:    hs.Function,
		Kind:        hs.Kind,
		Impact:      hs.Percentage,
	}
}

// isRoot reports whether freq names the outermost frame of any valid sample.
func isRoot(profile *vmprof.Profile, freq FunctionFrequency) bool {
	for i := range profile.Samples {
		s := &profile.Samples[i]
		if s.Failed() || len(s.Stack) == 0 {
			continue
		}
		f := profile.Symbols.Resolve(s.Stack[0])
		if f.Function == freq.Function && f.Kind == freq.Kind {
			return true
		}
	}
	return false
}

func memoryGrowth(profile *vmprof.Profile) int64 {
	valid := profile.Valid()
	if len(valid) < 2 {
		return 0
	}
	return int64(valid[len(valid)-1].MemKB) - int64(valid[0].MemKB)
}
