package analyzer

import (
	"sort"

	"vmprof-mcp/internal/vmprof"
)

// FrameCount pairs a frame with a sample count.
type FrameCount struct {
	Frame      vmprof.FrameID
	Name       string
	Count      int
	Percentage float64 // of all valid samples
}

// TopProfile counts every occurrence of each frame at every depth. A recursive
// frame is counted once per level it appears at.
func TopProfile(samples []vmprof.Sample) map[vmprof.FrameID]int {
	counts := make(map[vmprof.FrameID]int)
	for _, s := range samples {
		if s.Failed() {
			continue
		}
		for _, frame := range s.Stack {
			counts[frame]++
		}
	}
	return counts
}

// TopFunctions ranks frames by TopProfile count, resolving names through the
// profile's symbol table. n <= 0 returns all of them.
func TopFunctions(p *vmprof.Profile, n int) []FrameCount {
	valid := p.Valid()
	return rankFrames(TopProfile(valid), p.Symbols, len(valid), n)
}

func rankFrames(counts map[vmprof.FrameID]int, symbols *vmprof.SymbolTable, total, n int) []FrameCount {
	out := make([]FrameCount, 0, len(counts))
	for frame, count := range counts {
		fc := FrameCount{Frame: frame, Name: symbols.Name(frame), Count: count}
		if total > 0 {
			fc.Percentage = float64(count) / float64(total) * 100.0
		}
		out = append(out, fc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Frame < out[j].Frame
	})
	if n > 0 && n < len(out) {
		return out[:n]
	}
	return out
}
