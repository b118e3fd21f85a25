// Package flamechart turns timestamped stack samples into an approximate
// timeline of function invocations.
package flamechart

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"vmprof-mcp/internal/vmprof"
)

var (
	// ErrUnbalanced means frames were left open after the closing sample.
	ErrUnbalanced = errors.New("flamechart: unbalanced frame stack")
	// ErrInvalidOption is returned for a non-positive factor or lookahead, or a negative skew.
	ErrInvalidOption = errors.New("flamechart: invalid option")
)

// Interval is one estimated invocation of a frame.
type Interval struct {
	Frame vmprof.FrameID
	Start float64
	End   float64
}

// Duration returns End - Start.
func (i Interval) Duration() float64 {
	return i.End - i.Start
}

type options struct {
	factor    float64
	skew      float64
	lookahead float64
}

// Option configures Coalesce.
type Option func(*options)

// WithFactor scales both ends of every interval, e.g. 1e6 for seconds to microseconds.
func WithFactor(f float64) Option {
	return func(o *options) { o.factor = f }
}

// WithSkew sets the per-depth offset, in timestamp units, between nested frames
// that open or close at the same sample.
func WithSkew(s float64) Option {
	return func(o *options) { o.skew = s }
}

// WithLookahead sets how long after the last sample every frame is closed, in
// timestamp units. The default of 2 is two seconds for vmprof timestamps, so
// callers working in seconds usually want WithLookaheadPeriods.
func WithLookahead(l float64) Option {
	return func(o *options) { o.lookahead = l }
}

// WithLookaheadPeriods closes frames n sampling periods after the last sample,
// for timestamps in seconds.
func WithLookaheadPeriods(period time.Duration, n float64) Option {
	return func(o *options) { o.lookahead = n * period.Seconds() }
}

func buildOptions(opts []Option) (options, error) {
	o := options{factor: 1, skew: 0, lookahead: 2}
	for _, opt := range opts {
		opt(&o)
	}
	if o.factor <= 0 {
		return o, fmt.Errorf("%w: factor %v", ErrInvalidOption, o.factor)
	}
	if o.skew < 0 {
		return o, fmt.Errorf("%w: skew %v", ErrInvalidOption, o.skew)
	}
	if o.lookahead <= 0 {
		return o, fmt.Errorf("%w: lookahead %v", ErrInvalidOption, o.lookahead)
	}
	return o, nil
}

type openFrame struct {
	frame vmprof.FrameID
	start float64
}

// Coalesce reconstructs intervals from samples of a single thread, in order.
// A frame is assumed to run from the midpoint before the sample where it first
// appears to the midpoint after the last sample that still has it on the same
// path. Failed samples are dropped before matching.
func Coalesce(samples []vmprof.Sample, opts ...Option) ([]Interval, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}

	samples = vmprof.ValidSamples(samples)
	if len(samples) == 0 {
		return []Interval{}, nil
	}

	base := samples[0].Timestamp
	final := samples[len(samples)-1].Timestamp - base + o.lookahead

	var (
		out  []Interval
		open []openFrame
		prev float64
	)
	step := func(stack []vmprof.FrameID, t float64) {
		estimated := (prev + t) / 2

		common := 0
		for common < len(stack) && common < len(open) && stack[common] == open[common].frame {
			common++
		}

		// deepest first; d reaches 0 at the shallowest closing frame
		d := len(open) - common - 1
		for len(open) > common {
			top := open[len(open)-1]
			open = open[:len(open)-1]
			end := (estimated - o.skew*float64(d)) * o.factor
			if end < top.start {
				end = top.start
			}
			out = append(out, Interval{Frame: top.frame, Start: top.start, End: end})
			d--
		}

		for d, frame := range stack[common:] {
			start := (estimated + o.skew*float64(d)) * o.factor
			open = append(open, openFrame{frame: frame, start: start})
		}
		prev = t
	}

	for i := range samples {
		step(samples[i].Stack, samples[i].Timestamp-base)
	}
	step(nil, final)

	if len(open) != 0 {
		return nil, fmt.Errorf("%w: %d frames still open", ErrUnbalanced, len(open))
	}

	Sort(out)
	return out, nil
}

// CoalesceByThread partitions samples by thread id and coalesces each thread
// on its own.
func CoalesceByThread(samples []vmprof.Sample, opts ...Option) (map[uint64][]Interval, error) {
	if _, err := buildOptions(opts); err != nil {
		return nil, err
	}
	out := make(map[uint64][]Interval)
	for tid, part := range vmprof.ByThread(samples) {
		intervals, err := Coalesce(part, opts...)
		if err != nil {
			return nil, fmt.Errorf("thread %d: %w", tid, err)
		}
		if len(intervals) > 0 {
			out[tid] = intervals
		}
	}
	return out, nil
}

// Sort orders intervals by start, then longer intervals first, then frame id.
func Sort(intervals []Interval) {
	sort.Slice(intervals, func(i, j int) bool {
		a, b := intervals[i], intervals[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if da, db := a.Start-a.End, b.Start-b.End; da != db {
			return da < db
		}
		return a.Frame < b.Frame
	})
}
