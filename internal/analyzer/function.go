package analyzer

import (
	"fmt"

	"vmprof-mcp/internal/vmprof"
)

// Direction selects which neighbours of a frame ProfileFunction collects.
type Direction int

const (
	Callees Direction = iota
	Callers
)

func (d Direction) String() string {
	switch d {
	case Callees:
		return "callees"
	case Callers:
		return "callers"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ParseDirection accepts "callees" and "callers".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "", "callees":
		return Callees, nil
	case "callers":
		return Callers, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

// FunctionProfile describes what runs directly beneath or above one frame.
type FunctionProfile struct {
	Frame     vmprof.FrameID
	Direction Direction
	Total     int // occurrences of Frame on any stack
	// Terminal counts occurrences with no neighbour in Direction: the frame was
	// the leaf (callees) or the root (callers).
	Terminal  int
	Neighbors map[vmprof.FrameID]int
}

// ProfileFunction collects the direct callees or callers of frame over all
// valid samples. Every occurrence of frame on a stack contributes once.
func ProfileFunction(samples []vmprof.Sample, frame vmprof.FrameID, dir Direction) FunctionProfile {
	fp := FunctionProfile{
		Frame:     frame,
		Direction: dir,
		Neighbors: make(map[vmprof.FrameID]int),
	}
	for _, s := range samples {
		if s.Failed() {
			continue
		}
		for i, f := range s.Stack {
			if f != frame {
				continue
			}
			fp.Total++

			next := i + 1
			if dir == Callers {
				next = i - 1
			}
			if next < 0 || next >= len(s.Stack) {
				fp.Terminal++
				continue
			}
			fp.Neighbors[s.Stack[next]]++
		}
	}
	return fp
}

// Ranked returns the neighbours by descending count, named through symbols.
// Percentages are relative to Total.
func (fp FunctionProfile) Ranked(symbols *vmprof.SymbolTable) []FrameCount {
	return rankFrames(fp.Neighbors, symbols, fp.Total, 0)
}
