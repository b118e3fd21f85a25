package vmprof

import (
	"sort"
	"time"
)

// FrameID identifies a code location on a sampled stack (an address or a
// virtual-ip symbol id).
type FrameID uint64

// FailedTimestamp marks a sample whose stack could not be captured.
const FailedTimestamp = -1.0

// Session holds the header data of a profile
type Session struct {
	Period        time.Duration
	Interpreter   string
	Version       int
	ProfileMemory bool
	ProfileLines  bool
	StartTime     time.Time
	EndTime       time.Time
	TimeZone      string
}

// Sample represents a single captured stack
type Sample struct {
	Stack     []FrameID // root first
	Lines     []int64   // parallel to Stack, only with line profiling
	Timestamp float64   // seconds, FailedTimestamp if sampling failed
	ThreadID  uint64
	MemKB     uint64
}

// Failed reports whether the sampler could not capture this stack.
func (s *Sample) Failed() bool {
	return s.Timestamp == FailedTimestamp
}

// Leaf returns the innermost frame of the stack.
func (s *Sample) Leaf() (FrameID, bool) {
	if len(s.Stack) == 0 {
		return 0, false
	}
	return s.Stack[len(s.Stack)-1], true
}

// Profile holds all the parsed data from a vmprof profile file
type Profile struct {
	Session Session
	Symbols *SymbolTable
	Samples []Sample
	Meta    map[string]string
}

// NewProfile returns an empty profile ready to be filled by a decoder.
func NewProfile() *Profile {
	return &Profile{
		Symbols: NewSymbolTable(),
		Meta:    make(map[string]string),
	}
}

// ValidSamples returns the samples that carry a usable timestamp, preserving
// their order. Failed samples are dropped as if they were never recorded.
func ValidSamples(samples []Sample) []Sample {
	valid := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if s.Failed() {
			continue
		}
		valid = append(valid, s)
	}
	return valid
}

// Valid returns the profile's samples without failed ones.
func (p *Profile) Valid() []Sample {
	return ValidSamples(p.Samples)
}

// Threads returns the distinct thread ids seen in the profile, sorted.
func (p *Profile) Threads() []uint64 {
	seen := make(map[uint64]bool)
	var ids []uint64
	for _, s := range p.Samples {
		if !seen[s.ThreadID] {
			seen[s.ThreadID] = true
			ids = append(ids, s.ThreadID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ByThread partitions samples by thread id, keeping each thread's samples in
// their original order.
func ByThread(samples []Sample) map[uint64][]Sample {
	parts := make(map[uint64][]Sample)
	for _, s := range samples {
		parts[s.ThreadID] = append(parts[s.ThreadID], s)
	}
	return parts
}

// ResolvedFrame represents a single frame in a stack with resolved symbol information
type ResolvedFrame struct {
	Address    FrameID
	Kind       string // "py", "n", "jit", ... or "" for unnamed frames
	Function   string
	SourceFile string
	LineNumber int
}

// Signature returns the display name used to group frames in reports.
func (f ResolvedFrame) Signature() string {
	if f.Kind == "" {
		return f.Function
	}
	return f.Kind + ":" + f.Function
}
