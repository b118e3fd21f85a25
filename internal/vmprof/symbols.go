package vmprof

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// SymbolTable maps frame ids to the names announced by virtual-ip and native
// symbol records. Lookups never fail: unknown ids render as the raw address.
type SymbolTable struct {
	names  map[FrameID]string
	native map[FrameID]bool
}

// NewSymbolTable creates an empty table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		names:  make(map[FrameID]string),
		native: make(map[FrameID]bool),
	}
}

// Add inserts or overwrites the name of id.
func (t *SymbolTable) Add(id FrameID, name string) {
	t.names[id] = name
	delete(t.native, id)
}

// AddNative is Add for symbols announced by a native symbol record.
func (t *SymbolTable) AddNative(id FrameID, name string) {
	t.names[id] = name
	t.native[id] = true
}

// IsNative reports whether id was defined by a native symbol record.
func (t *SymbolTable) IsNative(id FrameID) bool {
	return t.native[id]
}

// Lookup returns the name of id if a record defined it.
func (t *SymbolTable) Lookup(id FrameID) (string, bool) {
	name, ok := t.names[id]
	return name, ok
}

// Name returns the display name of id, or the raw id when it was never defined.
func (t *SymbolTable) Name(id FrameID) string {
	if name, ok := t.names[id]; ok {
		return name
	}
	return RawName(id)
}

// Len returns the number of known symbols.
func (t *SymbolTable) Len() int {
	return len(t.names)
}

// All returns a copy of the table contents.
func (t *SymbolTable) All() map[FrameID]string {
	out := make(map[FrameID]string, len(t.names))
	for id, name := range t.names {
		out[id] = name
	}
	return out
}

// Find returns every id whose name equals name or whose function part equals
// it, in ascending order.
func (t *SymbolTable) Find(name string) []FrameID {
	var ids []FrameID
	for id, full := range t.names {
		if full == name || ParseName(id, full).Function == name {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RawName renders an unresolved frame id.
func RawName(id FrameID) string {
	return fmt.Sprintf("[0x%X]", uint64(id))
}

// Resolve converts id to a resolved frame with symbol information
func (t *SymbolTable) Resolve(id FrameID) ResolvedFrame {
	name, ok := t.names[id]
	if !ok {
		return ResolvedFrame{
			Address:  id,
			Function: RawName(id),
		}
	}
	return ParseName(id, name)
}

// ResolveStack converts a sample's stack to resolved frames, root first.
func (t *SymbolTable) ResolveStack(s *Sample) []ResolvedFrame {
	frames := make([]ResolvedFrame, 0, len(s.Stack))
	for i, id := range s.Stack {
		frame := t.Resolve(id)
		if i < len(s.Lines) && s.Lines[i] > 0 {
			frame.LineNumber = int(s.Lines[i])
		}
		frames = append(frames, frame)
	}
	return frames
}

// ParseName splits a symbol name of the form "kind:function:line:file".
// Names without a kind prefix are returned as the function.
func ParseName(id FrameID, name string) ResolvedFrame {
	frame := ResolvedFrame{Address: id}
	parts := strings.SplitN(name, ":", 4)
	if len(parts) < 2 {
		frame.Function = name
		return frame
	}
	frame.Kind = parts[0]
	frame.Function = parts[1]
	if len(parts) < 3 {
		return frame
	}
	line, err := strconv.Atoi(parts[2])
	if err != nil {
		// "n:symbol:lib.so" style names carry no line number
		frame.SourceFile = strings.Join(parts[2:], ":")
		return frame
	}
	frame.LineNumber = line
	if len(parts) == 4 {
		frame.SourceFile = parts[3]
	}
	return frame
}
