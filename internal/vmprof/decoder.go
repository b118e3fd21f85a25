package vmprof

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Result is the outcome of one decode step: either a complete record, or a
// request for more input carrying every byte consumed for the unfinished record.
type Result struct {
	Record  Record
	Pending []byte
}

// NeedsInput reports whether the step stopped for lack of data. The caller
// retries with Pending once more bytes are available.
func (r Result) NeedsInput() bool {
	return r.Record == nil
}

// Decoder reads the record stream one record at a time.
type Decoder struct {
	src     io.Reader
	logger  *zap.Logger
	session Session
	header  bool
	offset  int64
	samples int
}

// Option configures decoding.
type Option func(*Decoder)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Decoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDecoder creates a decoder reading from src.
func NewDecoder(src io.Reader, opts ...Option) *Decoder {
	d := &Decoder{
		src:    src,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Session returns the header data decoded so far.
func (d *Decoder) Session() Session {
	return d.session
}

// Offset returns the number of bytes of fully decoded records.
func (d *Decoder) Offset() int64 {
	return d.offset
}

// Next decodes the next record. The header is decoded first, then body
// records until the trailer. pending must be the Pending bytes of the previous
// result when it needed input, or nil.
func (d *Decoder) Next(pending []byte) (Result, error) {
	src := newRecordSource(d.src, pending)

	var (
		rec Record
		err error
	)
	if !d.header {
		rec, err = d.readHeader(src)
	} else {
		rec, err = d.readRecord(src)
	}

	if errors.Is(err, errShort) {
		return Result{Pending: src.unread()}, nil
	}
	var ferr *FormatError
	if errors.As(err, &ferr) {
		ferr.Offset = d.offset
		return Result{}, ferr
	}
	if err != nil {
		return Result{}, fmt.Errorf("read record at offset %d: %w", d.offset, err)
	}

	d.offset += int64(len(src.consumed))
	return Result{Record: rec}, nil
}

func (d *Decoder) formatError(format string, args ...any) error {
	return &FormatError{Offset: d.offset, Msg: fmt.Sprintf(format, args...)}
}

func (d *Decoder) readHeader(src *recordSource) (Record, error) {
	var words [headerWords]int64
	for i := range words {
		w, err := src.readWord()
		if err != nil {
			return nil, err
		}
		words[i] = w
	}
	if words[0] != 0 || words[1] != 3 || words[2] != 0 || words[4] != 0 {
		return nil, d.formatError("bad header words %v", words)
	}
	if words[3] < 0 {
		return nil, d.formatError("negative sampling period %d", words[3])
	}

	marker, err := src.readByte()
	if err != nil {
		return nil, err
	}
	if Marker(marker) != MarkerHeader {
		return nil, d.formatError("expected header marker, got 0x%02x", marker)
	}

	nameLen, err := src.readByte()
	if err != nil {
		return nil, err
	}
	name, err := src.read(int(nameLen))
	if err != nil {
		return nil, err
	}

	raw, err := src.read(2)
	if err != nil {
		return nil, err
	}
	version := int(binary.BigEndian.Uint16(raw))
	if version > CurrentVersion {
		return nil, d.formatError("unsupported format version %d", version)
	}

	memory, err := d.readFlag(src, "memory")
	if err != nil {
		return nil, err
	}
	lines, err := d.readFlag(src, "lines")
	if err != nil {
		return nil, err
	}

	d.session = Session{
		Period:        time.Duration(words[3]) * time.Microsecond,
		Interpreter:   string(name),
		Version:       version,
		ProfileMemory: memory,
		ProfileLines:  lines,
	}
	d.header = true

	d.logger.Debug("decoded profile header",
		zap.String("interpreter", d.session.Interpreter),
		zap.Int("version", version),
		zap.Duration("period", d.session.Period),
		zap.Bool("memory", memory),
		zap.Bool("lines", lines),
	)

	return &HeaderRecord{Session: d.session}, nil
}

func (d *Decoder) readFlag(src *recordSource, name string) (bool, error) {
	b, err := src.readByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, d.formatError("invalid %s flag 0x%02x", name, b)
	}
}

func (d *Decoder) readRecord(src *recordSource) (Record, error) {
	marker, err := src.readByte()
	if err != nil {
		return nil, err
	}

	switch Marker(marker) {
	case MarkerStacktrace:
		return d.readStack(src)
	case MarkerVirtualIP, MarkerNativeSymbols:
		id, err := src.readAddr()
		if err != nil {
			return nil, err
		}
		name, err := src.readString()
		if err != nil {
			return nil, err
		}
		return &SymbolRecord{
			ID:     FrameID(id),
			Name:   name,
			Native: Marker(marker) == MarkerNativeSymbols,
		}, nil
	case MarkerMeta:
		key, err := src.readString()
		if err != nil {
			return nil, err
		}
		value, err := src.readString()
		if err != nil {
			return nil, err
		}
		return &MetaRecord{Key: key, Value: value}, nil
	case MarkerTimeNZone:
		return d.readTime(src)
	case MarkerTrailer:
		return &TrailerRecord{}, nil
	default:
		return nil, d.formatError("unexpected marker: %d", marker)
	}
}

func (d *Decoder) readStack(src *recordSource) (Record, error) {
	count, err := src.readWord()
	if err != nil {
		return nil, err
	}
	if count != 1 {
		d.logger.Debug("stack record with repeat count other than 1", zap.Int64("count", count))
	}

	depth, err := src.readWord()
	if err != nil {
		return nil, err
	}
	if depth < 0 || depth > maxStackDepth {
		return nil, d.formatError("stack trace depth %d out of range", depth)
	}

	sample := Sample{Stack: make([]FrameID, depth)}
	if d.session.ProfileLines {
		sample.Lines = make([]int64, depth)
	}
	for i := int64(0); i < depth; i++ {
		addr, err := src.readAddr()
		if err != nil {
			return nil, err
		}
		sample.Stack[i] = FrameID(addr)
		if d.session.ProfileLines {
			line, err := src.readWord()
			if err != nil {
				return nil, err
			}
			sample.Lines[i] = line
		}
	}

	if d.session.Version >= VersionThreadID {
		tid, err := src.readAddr()
		if err != nil {
			return nil, err
		}
		sample.ThreadID = tid
	}
	if d.session.ProfileMemory {
		mem, err := src.readAddr()
		if err != nil {
			return nil, err
		}
		sample.MemKB = mem
	}
	if d.session.Version >= VersionTimestamp {
		usec, err := src.readWord()
		if err != nil {
			return nil, err
		}
		sample.Timestamp = timestampSeconds(usec)
	} else {
		sample.Timestamp = float64(d.samples) * d.session.Period.Seconds()
	}

	// on disk the leaf comes first
	reverseFrames(sample.Stack)
	reverseLines(sample.Lines)
	d.samples++

	return &StackRecord{Count: count, Sample: sample}, nil
}

func (d *Decoder) readTime(src *recordSource) (Record, error) {
	sec, err := src.readWord()
	if err != nil {
		return nil, err
	}
	usec, err := src.readWord()
	if err != nil {
		return nil, err
	}
	zone, err := src.read(zoneSize)
	if err != nil {
		return nil, err
	}
	return &TimeRecord{
		Time: time.Unix(sec, usec*int64(time.Microsecond/time.Nanosecond)).UTC(),
		Zone: strings.TrimRight(string(zone), "\x00"),
	}, nil
}

func timestampSeconds(usec int64) float64 {
	if usec == -1 {
		return FailedTimestamp
	}
	return float64(usec) / 1e6
}

func timestampMicros(seconds float64) int64 {
	if seconds == FailedTimestamp {
		return -1
	}
	return int64(math.Round(seconds * 1e6))
}

func reverseFrames(s []FrameID) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func reverseLines(s []int64) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
