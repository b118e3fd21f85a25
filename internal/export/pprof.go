package export

import (
	"fmt"
	"io"

	pprofProfile "github.com/google/pprof/profile"

	"vmprof-mcp/internal/vmprof"
)

type locationKey struct {
	frame vmprof.FrameID
	line  int64
}

// BuildPProf converts every valid sample into a pprof sample with a count and
// a cpu time value of one sampling period.
func BuildPProf(p *vmprof.Profile) (*pprofProfile.Profile, error) {
	period := p.Session.Period.Nanoseconds()
	prof := &pprofProfile.Profile{
		SampleType: []*pprofProfile.ValueType{
			{Type: "samples", Unit: "count"},
			{Type: "cpu", Unit: "nanoseconds"},
		},
		PeriodType: &pprofProfile.ValueType{Type: "cpu", Unit: "nanoseconds"},
		Period:     period,
	}
	if !p.Session.StartTime.IsZero() {
		prof.TimeNanos = p.Session.StartTime.UnixNano()
		if !p.Session.EndTime.IsZero() {
			prof.DurationNanos = p.Session.EndTime.Sub(p.Session.StartTime).Nanoseconds()
		}
	}
	if p.Session.Interpreter != "" {
		prof.Comments = append(prof.Comments, "interpreter: "+p.Session.Interpreter)
	}

	locationMap := make(map[locationKey]*pprofProfile.Location)
	functionMap := make(map[string]*pprofProfile.Function)

	location := func(id vmprof.FrameID, line int64) *pprofProfile.Location {
		key := locationKey{frame: id, line: line}
		if loc, ok := locationMap[key]; ok {
			return loc
		}

		frame := p.Symbols.Resolve(id)
		if line > 0 {
			frame.LineNumber = int(line)
		}
		name := frame.Signature()
		fn, ok := functionMap[name+"\x00"+frame.SourceFile]
		if !ok {
			fn = &pprofProfile.Function{
				ID:         uint64(len(prof.Function) + 1),
				Name:       name,
				SystemName: p.Symbols.Name(id),
				Filename:   frame.SourceFile,
			}
			functionMap[name+"\x00"+frame.SourceFile] = fn
			prof.Function = append(prof.Function, fn)
		}

		loc := &pprofProfile.Location{
			ID:      uint64(len(prof.Location) + 1),
			Address: uint64(id),
			Line:    []pprofProfile.Line{{Function: fn, Line: int64(frame.LineNumber)}},
		}
		locationMap[key] = loc
		prof.Location = append(prof.Location, loc)
		return loc
	}

	for i := range p.Samples {
		s := &p.Samples[i]
		if s.Failed() || len(s.Stack) == 0 {
			continue
		}

		// pprof wants the leaf first
		locations := make([]*pprofProfile.Location, 0, len(s.Stack))
		for j := len(s.Stack) - 1; j >= 0; j-- {
			var line int64
			if j < len(s.Lines) {
				line = s.Lines[j]
			}
			locations = append(locations, location(s.Stack[j], line))
		}

		numLabel := map[string][]int64{"thread_id": {int64(s.ThreadID)}}
		if p.Session.ProfileMemory {
			numLabel["mem_kb"] = []int64{int64(s.MemKB)}
		}
		prof.Sample = append(prof.Sample, &pprofProfile.Sample{
			Location: locations,
			Value:    []int64{1, period},
			NumLabel: numLabel,
		})
	}

	if err := prof.CheckValid(); err != nil {
		return nil, fmt.Errorf("invalid pprof profile: %w", err)
	}
	return prof, nil
}

// WritePProf writes p as a gzip-compressed pprof protobuf.
func WritePProf(w io.Writer, p *vmprof.Profile) error {
	prof, err := BuildPProf(p)
	if err != nil {
		return err
	}
	// prof.Write() outputs gzip-compressed protobuf (pprof standard format)
	if err := prof.Write(w); err != nil {
		return fmt.Errorf("failed to write pprof: %w", err)
	}
	return nil
}
