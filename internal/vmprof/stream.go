package vmprof

import (
	"bytes"
	"errors"
)

// ErrStreamClosed is returned when writing to a finished stream.
var ErrStreamClosed = errors.New("vmprof: write to closed stream")

// Stream decodes a profile from chunks of bytes as they become available,
// e.g. from a decompression stage. Records split across chunks are retried
// once the missing bytes arrive.
type Stream struct {
	buf     bytes.Buffer
	dec     *Decoder
	b       *builder
	pending []byte
	err     error
	closed  bool
}

// NewStream creates an empty stream decoder.
func NewStream(opts ...Option) *Stream {
	s := &Stream{}
	s.dec = NewDecoder(&s.buf, opts...)
	s.b = newBuilder(s.dec.logger)
	return s
}

// Write feeds a chunk and decodes every record that is now complete. Bytes
// after the trailer are ignored.
func (s *Stream) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ErrStreamClosed
	}
	if s.err != nil {
		return 0, s.err
	}
	if s.b.done {
		return len(p), nil
	}
	s.buf.Write(p)
	return len(p), s.drain()
}

func (s *Stream) drain() error {
	for !s.b.done {
		res, err := s.dec.Next(s.pending)
		if err != nil {
			s.err = err
			return err
		}
		if res.NeedsInput() {
			s.pending = res.Pending
			return nil
		}
		s.pending = nil
		s.b.add(res.Record)
	}
	return nil
}

// Done reports whether the trailer has been decoded.
func (s *Stream) Done() bool {
	return s.b.done
}

// Buffered returns the number of bytes held for an incomplete record.
func (s *Stream) Buffered() int {
	return len(s.pending) + s.buf.Len()
}

// Close ends the input. It returns the decoded profile, or a format error if
// the stream stopped before the trailer.
func (s *Stream) Close() (*Profile, error) {
	s.closed = true
	if s.err != nil {
		return nil, s.err
	}
	if !s.b.done {
		return nil, truncated(s.dec)
	}
	return s.b.profile, nil
}
