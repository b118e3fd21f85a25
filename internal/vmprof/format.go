package vmprof

import (
	"errors"
	"fmt"
	"time"
)

// Marker is the one-byte tag in front of every body record.
type Marker byte

const (
	MarkerStacktrace    Marker = 0x01
	MarkerVirtualIP     Marker = 0x02
	MarkerTrailer       Marker = 0x03
	MarkerHeader        Marker = 0x05
	MarkerTimeNZone     Marker = 0x06
	MarkerMeta          Marker = 0x07
	MarkerNativeSymbols Marker = 0x08
)

// Format versions. Each one only adds fields to stack records.
const (
	VersionBase      = 0
	VersionThreadID  = 1
	VersionTag       = 2
	VersionMemory    = 3
	VersionModeAware = 4
	VersionDuration  = 5
	VersionTimestamp = 6

	CurrentVersion = VersionTimestamp
)

const (
	wordSize      = 8
	zoneSize      = 8
	maxStackDepth = 1 << 16
	maxStringLen  = 1 << 20

	// header words: count, size, version tag, period, flags
	headerWords = 5
)

// ErrFormat is matched by every error caused by malformed profile bytes.
var ErrFormat = errors.New("malformed profile")

// FormatError describes where and why decoding failed.
type FormatError struct {
	Offset int64
	Msg    string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("vmprof: %s (record at offset %d)", e.Msg, e.Offset)
}

func (e *FormatError) Unwrap() error {
	return ErrFormat
}

// Record is one decoded unit of the stream.
type Record interface {
	Marker() Marker
}

// HeaderRecord carries the session description read before the body.
type HeaderRecord struct {
	Session Session
}

// StackRecord carries one sample.
type StackRecord struct {
	Count  int64
	Sample Sample
}

// SymbolRecord defines the name of a frame id.
type SymbolRecord struct {
	ID     FrameID
	Name   string
	Native bool
}

// MetaRecord is an informational key/value pair.
type MetaRecord struct {
	Key   string
	Value string
}

// TimeRecord anchors the session to wall-clock time.
type TimeRecord struct {
	Time time.Time
	Zone string
}

// TrailerRecord terminates the body.
type TrailerRecord struct{}

func (*HeaderRecord) Marker() Marker  { return MarkerHeader }
func (*StackRecord) Marker() Marker   { return MarkerStacktrace }
func (*MetaRecord) Marker() Marker    { return MarkerMeta }
func (*TimeRecord) Marker() Marker    { return MarkerTimeNZone }
func (*TrailerRecord) Marker() Marker { return MarkerTrailer }

func (r *SymbolRecord) Marker() Marker {
	if r.Native {
		return MarkerNativeSymbols
	}
	return MarkerVirtualIP
}
