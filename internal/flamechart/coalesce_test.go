package flamechart

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vmprof-mcp/internal/vmprof"
)

func at(t float64, frames ...vmprof.FrameID) vmprof.Sample {
	return vmprof.Sample{Stack: frames, Timestamp: t}
}

func iv(frame vmprof.FrameID, start, end float64) Interval {
	return Interval{Frame: frame, Start: start, End: end}
}

func TestCoalesce(t *testing.T) {
	for _, test := range []struct {
		name    string
		samples []vmprof.Sample
		opts    []Option
		want    []Interval
	}{
		{
			name:    "single sample",
			samples: []vmprof.Sample{at(5, 1, 2)},
			want:    []Interval{iv(1, 0, 1), iv(2, 0, 1)},
		},
		{
			name:    "lookahead in sampling periods",
			samples: []vmprof.Sample{at(5, 1, 2)},
			opts:    []Option{WithLookaheadPeriods(2*time.Second, 3)},
			want:    []Interval{iv(1, 0, 3), iv(2, 0, 3)},
		},
		{
			name:    "identical stacks extend",
			samples: []vmprof.Sample{at(0, 1, 2), at(2, 1, 2)},
			want:    []Interval{iv(1, 0, 3), iv(2, 0, 3)},
		},
		{
			name:    "leaf replaced",
			samples: []vmprof.Sample{at(0, 1, 2), at(2, 1, 3)},
			want:    []Interval{iv(1, 0, 3), iv(2, 0, 1), iv(3, 1, 3)},
		},
		{
			name:    "call and return",
			samples: []vmprof.Sample{at(0, 1), at(2, 1, 2), at(4, 1)},
			want:    []Interval{iv(1, 0, 5), iv(2, 1, 3)},
		},
		{
			name:    "root replaced",
			samples: []vmprof.Sample{at(0, 1), at(2, 1, 2), at(4, 3)},
			want:    []Interval{iv(1, 0, 3), iv(2, 1, 3), iv(3, 3, 5)},
		},
		{
			name:    "same frame under a new root",
			samples: []vmprof.Sample{at(0, 1), at(2, 1, 2), at(4, 3, 2)},
			want:    []Interval{iv(1, 0, 3), iv(2, 1, 3), iv(2, 3, 5), iv(3, 3, 5)},
		},
		{
			name:    "factor",
			samples: []vmprof.Sample{at(0, 1), at(2, 1, 2), at(4, 3, 2)},
			opts:    []Option{WithFactor(100)},
			want:    []Interval{iv(1, 0, 300), iv(2, 100, 300), iv(2, 300, 500), iv(3, 300, 500)},
		},
		{
			name:    "skew on collapse",
			samples: []vmprof.Sample{at(100, 1, 2, 3, 4), at(300, 1, 2)},
			opts:    []Option{WithSkew(1)},
			want:    []Interval{iv(1, 0, 201), iv(2, 1, 200), iv(3, 2, 100), iv(4, 3, 99)},
		},
		{
			name: "skew on nested divergence",
			samples: []vmprof.Sample{
				at(0, 1),
				at(200, 1, 2, 3, 4, 5),
				at(400, 1, 2, 6),
				at(600, 1, 7, 8),
			},
			opts: []Option{WithSkew(1), WithLookahead(200)},
			want: []Interval{
				iv(1, 0, 700), iv(2, 100, 500), iv(3, 101, 300), iv(4, 102, 299),
				iv(5, 103, 298), iv(6, 300, 499), iv(7, 500, 699), iv(8, 501, 698),
			},
		},
		{
			name:    "skew larger than the gap",
			samples: []vmprof.Sample{at(0, 1, 2, 3)},
			opts:    []Option{WithSkew(10)},
			want:    []Interval{iv(1, 0, 1), iv(2, 10, 10), iv(3, 20, 20)},
		},
		{
			name:    "empty stacks",
			samples: []vmprof.Sample{at(0), at(2, 1), at(4)},
			want:    []Interval{iv(1, 1, 3)},
		},
		{
			name:    "empty input",
			samples: nil,
			want:    []Interval{},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			got, err := Coalesce(test.samples, test.opts...)
			require.NoError(t, err)
			require.Equal(t, test.want, got)
		})
	}
}

func TestCoalesceSkipsFailedSamples(t *testing.T) {
	clean := []vmprof.Sample{at(10, 1), at(12, 1, 2), at(14, 1)}
	noisy := []vmprof.Sample{
		at(vmprof.FailedTimestamp, 9),
		at(10, 1),
		at(vmprof.FailedTimestamp, 1, 9),
		at(12, 1, 2),
		at(14, 1),
		at(vmprof.FailedTimestamp),
	}

	want, err := Coalesce(clean)
	require.NoError(t, err)
	got, err := Coalesce(noisy)
	require.NoError(t, err)
	require.Equal(t, want, got)

	got, err = Coalesce([]vmprof.Sample{at(vmprof.FailedTimestamp, 1)})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestCoalesceProperties(t *testing.T) {
	samples := []vmprof.Sample{
		at(0, 1, 2, 3),
		at(1, 1, 2),
		at(2, 1, 4, 5, 6),
		at(3, 1, 4, 5, 6),
		at(4, 7),
		at(5, 7, 8),
		at(6, 1, 2, 3),
	}

	// one interval per frame pushed onto the open stack
	pushes := 0
	var prev []vmprof.FrameID
	for _, s := range samples {
		common := 0
		for common < len(prev) && common < len(s.Stack) && prev[common] == s.Stack[common] {
			common++
		}
		pushes += len(s.Stack) - common
		prev = s.Stack
	}

	for _, skew := range []float64{0, 0.1, 1, 5} {
		got, err := Coalesce(samples, WithSkew(skew), WithFactor(1000))
		require.NoError(t, err)
		require.Len(t, got, pushes)

		for _, i := range got {
			require.LessOrEqual(t, i.Start, i.End, "interval %+v", i)
		}

		again := append([]Interval(nil), got...)
		Sort(again)
		require.Equal(t, got, again)
	}
}

func TestCoalesceDoesNotMutateInput(t *testing.T) {
	samples := []vmprof.Sample{at(3, 1, 2), at(vmprof.FailedTimestamp, 5), at(4, 1)}
	before := append([]vmprof.Sample(nil), samples...)

	_, err := Coalesce(samples, WithSkew(1))
	require.NoError(t, err)
	require.Equal(t, before, samples)
}

func TestCoalesceInvalidOptions(t *testing.T) {
	for name, opt := range map[string]Option{
		"zero factor":          WithFactor(0),
		"negative skew":        WithSkew(-1),
		"negative lookahead":   WithLookahead(-2),
		"zero sampling period": WithLookaheadPeriods(0, 2),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Coalesce([]vmprof.Sample{at(0, 1)}, opt)
			require.ErrorIs(t, err, ErrInvalidOption)

			_, err = CoalesceByThread(nil, opt)
			require.ErrorIs(t, err, ErrInvalidOption)
		})
	}
}

func TestCoalesceByThread(t *testing.T) {
	a := func(ts float64, tid uint64, frames ...vmprof.FrameID) vmprof.Sample {
		s := at(ts, frames...)
		s.ThreadID = tid
		return s
	}
	samples := []vmprof.Sample{
		a(0, 1, 10, 11),
		a(1, 2, 20),
		a(2, 1, 10, 11),
		a(3, 2, 20, 21),
		a(vmprof.FailedTimestamp, 3, 30),
	}

	got, err := CoalesceByThread(samples)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, []Interval{iv(10, 0, 3), iv(11, 0, 3)}, got[1])
	require.Equal(t, []Interval{iv(20, 0, 3), iv(21, 1, 3)}, got[2])
}
