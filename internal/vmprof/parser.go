package vmprof

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// ReadProfile reads a vmprof profile file, transparently decompressing gzip
// and zstd files, and parses its contents.
func ReadProfile(filePath string, opts ...Option) (*Profile, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile: %w", err)
	}
	defer f.Close()

	r, closeFn, err := decompress(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	defer closeFn()

	profile, err := Parse(r, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filePath, err)
	}
	return profile, nil
}

// decompress sniffs the compression magic and wraps r accordingly.
func decompress(r *bufio.Reader) (io.Reader, func(), error) {
	head, err := r.Peek(len(zstdMagic))
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, nil, err
	}

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("gzip: %w", err)
		}
		return zr, func() { zr.Close() }, nil
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("zstd: %w", err)
		}
		return zr, zr.Close, nil
	default:
		return r, func() {}, nil
	}
}

// Parse decodes a complete profile from a blocking reader. Running out of
// data before the trailer is a format error.
func Parse(r io.Reader, opts ...Option) (*Profile, error) {
	dec := NewDecoder(r, opts...)
	b := newBuilder(dec.logger)

	for !b.done {
		res, err := dec.Next(nil)
		if err != nil {
			return nil, err
		}
		if res.NeedsInput() {
			return nil, truncated(dec)
		}
		b.add(res.Record)
	}
	return b.profile, nil
}

func truncated(dec *Decoder) error {
	if !dec.header {
		return &FormatError{Offset: dec.Offset(), Msg: "truncated header"}
	}
	return &FormatError{Offset: dec.Offset(), Msg: "truncated profile: missing trailer"}
}

// builder applies decoded records to a profile.
type builder struct {
	profile *Profile
	logger  *zap.Logger
	done    bool
	times   int
}

func newBuilder(logger *zap.Logger) *builder {
	return &builder{
		profile: NewProfile(),
		logger:  logger,
	}
}

func (b *builder) add(rec Record) {
	p := b.profile
	switch r := rec.(type) {
	case *HeaderRecord:
		p.Session = r.Session
	case *StackRecord:
		p.Samples = append(p.Samples, r.Sample)
	case *SymbolRecord:
		if r.Native {
			p.Symbols.AddNative(r.ID, r.Name)
		} else {
			p.Symbols.Add(r.ID, r.Name)
		}
	case *MetaRecord:
		p.Meta[r.Key] = r.Value
	case *TimeRecord:
		if b.times == 0 {
			p.Session.StartTime = r.Time
			p.Session.TimeZone = r.Zone
		} else {
			p.Session.EndTime = r.Time
		}
		b.times++
	case *TrailerRecord:
		b.done = true
		b.logger.Debug("profile decoded",
			zap.Int("samples", len(p.Samples)),
			zap.Int("symbols", p.Symbols.Len()),
		)
	}
}
