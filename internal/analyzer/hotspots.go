package analyzer

import (
	"sort"

	"vmprof-mcp/internal/vmprof"
)

// Hotspot represents a function that consumes a significant share of samples
type Hotspot struct {
	Function    string
	Kind        string
	SourceFile  string
	LineNumber  int
	Frames      []vmprof.FrameID // ids that resolved to this function
	TotalTime   float64          // samples times the sampling period, in seconds
	SampleCount int
	Percentage  float64 // of all valid samples
	SampleRefs  []int   // indices into Profile.Samples
}

func (h *Hotspot) addFrame(id vmprof.FrameID) {
	for _, f := range h.Frames {
		if f == id {
			return
		}
	}
	h.Frames = append(h.Frames, id)
}

// FindHotspots identifies the functions present on the most stacks (inclusive
// time). A function is counted once per sample even when it recurses.
// Returns hotspots sorted by sample count (descending)
func FindHotspots(profile *vmprof.Profile, topN int) []Hotspot {
	hotspotMap := make(map[string]*Hotspot)
	total := 0

	for idx := range profile.Samples {
		s := &profile.Samples[idx]
		if s.Failed() {
			continue
		}
		total++

		frames := profile.Symbols.ResolveStack(s)
		seenInThisStack := make(map[string]bool)
		for _, frame := range frames {
			sig := frame.Signature()
			if seenInThisStack[sig] {
				continue
			}
			seenInThisStack[sig] = true
			hotspotFor(hotspotMap, frame).record(frame.Address, idx)
		}
	}

	return rankHotspots(hotspotMap, total, profile.Session.Period.Seconds(), topN)
}

// FindLeafFunctions identifies the innermost frames of each stack (self time).
// These are usually where the CPU time is actually spent.
func FindLeafFunctions(profile *vmprof.Profile, topN int) []Hotspot {
	leafMap := make(map[string]*Hotspot)
	total := 0

	for idx := range profile.Samples {
		s := &profile.Samples[idx]
		if s.Failed() {
			continue
		}
		total++

		leaf, ok := s.Leaf()
		if !ok {
			continue
		}
		frame := profile.Symbols.Resolve(leaf)
		if len(s.Lines) == len(s.Stack) && s.Lines[len(s.Lines)-1] > 0 {
			frame.LineNumber = int(s.Lines[len(s.Lines)-1])
		}
		hotspotFor(leafMap, frame).record(leaf, idx)
	}

	return rankHotspots(leafMap, total, profile.Session.Period.Seconds(), topN)
}

// FindKindHotspots groups inclusive samples by symbol kind ("py", "n", "jit";
// "[unknown]" for unnamed frames) and returns seconds per kind.
func FindKindHotspots(profile *vmprof.Profile) map[string]float64 {
	kindTime := make(map[string]float64)
	period := profile.Session.Period.Seconds()

	for i := range profile.Samples {
		s := &profile.Samples[i]
		if s.Failed() {
			continue
		}

		seenKinds := make(map[string]bool)
		for _, id := range s.Stack {
			kind := profile.Symbols.Resolve(id).Kind
			if kind == "" {
				kind = "[unknown]"
			}
			if seenKinds[kind] {
				continue
			}
			seenKinds[kind] = true
			kindTime[kind] += period
		}
	}

	return kindTime
}

func hotspotFor(m map[string]*Hotspot, frame vmprof.ResolvedFrame) *Hotspot {
	sig := frame.Signature()
	hs, ok := m[sig]
	if !ok {
		hs = &Hotspot{
			Function:   frame.Function,
			Kind:       frame.Kind,
			SourceFile: frame.SourceFile,
			LineNumber: frame.LineNumber,
		}
		m[sig] = hs
	}
	return hs
}

func (h *Hotspot) record(id vmprof.FrameID, sampleIdx int) {
	h.addFrame(id)
	h.SampleCount++
	h.SampleRefs = append(h.SampleRefs, sampleIdx)
}

func rankHotspots(m map[string]*Hotspot, total int, period float64, topN int) []Hotspot {
	hotspots := make([]Hotspot, 0, len(m))
	for _, hs := range m {
		hs.TotalTime = float64(hs.SampleCount) * period
		if total > 0 {
			hs.Percentage = float64(hs.SampleCount) / float64(total) * 100.0
		}
		hotspots = append(hotspots, *hs)
	}

	sort.Slice(hotspots, func(i, j int) bool {
		if hotspots[i].SampleCount != hotspots[j].SampleCount {
			return hotspots[i].SampleCount > hotspots[j].SampleCount
		}
		return hotspots[i].Kind+":"+hotspots[i].Function < hotspots[j].Kind+":"+hotspots[j].Function
	})

	if topN > 0 && topN < len(hotspots) {
		return hotspots[:topN]
	}
	return hotspots
}
