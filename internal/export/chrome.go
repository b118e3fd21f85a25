// Package export writes profiles in formats understood by external viewers.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"math"

	"go.uber.org/zap"

	"vmprof-mcp/internal/flamechart"
	"vmprof-mcp/internal/vmprof"
)

const microsecondsPerSecond = 1e6

// TraceEvent is one entry of the chrome tracing event format.
type TraceEvent struct {
	Name string         `json:"name"`
	Cat  string         `json:"cat,omitempty"`
	Ph   string         `json:"ph"`
	Ts   float64        `json:"ts"`
	Dur  *float64       `json:"dur,omitempty"`
	Pid  uint64         `json:"pid"`
	Tid  uint64         `json:"tid"`
	S    string         `json:"s,omitempty"`
	Args map[string]any `json:"args,omitempty"`
}

// Trace is the top-level chrome tracing document.
type Trace struct {
	TraceEvents []TraceEvent `json:"traceEvents"`
	MetaUser    string       `json:"meta_user"`
}

// ChromeOptions tunes the flame chart reconstruction.
type ChromeOptions struct {
	Skew             float64 // seconds between nested frames opening or closing together
	LookaheadPeriods float64 // frames still open after the last sample close this many periods later
	Pid              uint64
	Logger           *zap.Logger
}

// DefaultChromeOptions returns a 1µs skew and a two period lookahead.
func DefaultChromeOptions() ChromeOptions {
	return ChromeOptions{
		Skew:             1 / microsecondsPerSecond,
		LookaheadPeriods: 2,
		Pid:              1,
	}
}

// BuildChromeTrace reconstructs per-thread flame charts and converts them to
// trace events. Timestamps are microseconds from the first valid sample.
func BuildChromeTrace(p *vmprof.Profile, opts ChromeOptions) (*Trace, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	lookahead := flamechart.WithLookaheadPeriods(p.Session.Period, opts.LookaheadPeriods)
	if p.Session.Period <= 0 || opts.LookaheadPeriods <= 0 {
		lookahead = flamechart.WithLookahead(2e-3)
	}

	trace := &Trace{TraceEvents: []TraceEvent{}, MetaUser: p.Session.Interpreter}
	valid := p.Valid()
	if len(valid) == 0 {
		return trace, nil
	}
	origin := valid[0].Timestamp
	byThread := vmprof.ByThread(valid)

	for _, tid := range p.Threads() {
		samples := byThread[tid]
		if len(samples) == 0 {
			continue
		}
		intervals, err := flamechart.Coalesce(samples,
			flamechart.WithFactor(microsecondsPerSecond),
			flamechart.WithSkew(opts.Skew),
			lookahead,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to coalesce thread %d: %w", tid, err)
		}
		logger.Debug("coalesced thread",
			zap.Uint64("tid", tid),
			zap.Int("samples", len(samples)),
			zap.Int("intervals", len(intervals)),
		)

		// Coalesce starts every thread at zero
		shift := (samples[0].Timestamp - origin) * microsecondsPerSecond

		trace.TraceEvents = append(trace.TraceEvents, TraceEvent{
			Name: "thread_name",
			Ph:   "M",
			Pid:  opts.Pid,
			Tid:  tid,
			Args: map[string]any{"name": fmt.Sprintf("thread %d", tid)},
		})
		for _, iv := range intervals {
			dur := round(iv.Duration())
			trace.TraceEvents = append(trace.TraceEvents, TraceEvent{
				Name: p.Symbols.Name(iv.Frame),
				Cat:  p.Symbols.Resolve(iv.Frame).Kind,
				Ph:   "X",
				Ts:   round(iv.Start + shift),
				Dur:  &dur,
				Pid:  opts.Pid,
				Tid:  tid,
			})
		}
	}

	// failed samples carry no timestamp to place on the timeline
	for _, s := range valid {
		ts := round((s.Timestamp - origin) * microsecondsPerSecond)
		trace.TraceEvents = append(trace.TraceEvents, TraceEvent{
			Name: "sample",
			Ph:   "i",
			Ts:   ts,
			Pid:  opts.Pid,
			Tid:  s.ThreadID,
			S:    "t",
		})
		if p.Session.ProfileMemory {
			trace.TraceEvents = append(trace.TraceEvents, TraceEvent{
				Name: "memory",
				Ph:   "C",
				Ts:   ts,
				Pid:  opts.Pid,
				Args: map[string]any{"memory": s.MemKB},
			})
		}
	}

	return trace, nil
}

// WriteChromeTrace writes p as chrome tracing JSON.
func WriteChromeTrace(w io.Writer, p *vmprof.Profile, opts ChromeOptions) error {
	trace, err := BuildChromeTrace(p, opts)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(w).Encode(trace); err != nil {
		return fmt.Errorf("failed to encode trace: %w", err)
	}
	return nil
}

// round trims float noise below a nanosecond.
func round(us float64) float64 {
	return math.Round(us*1000) / 1000
}
