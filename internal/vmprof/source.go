package vmprof

import (
	"encoding/binary"
	"errors"
	"io"
)

// errShort is raised inside a record decode when the source runs dry. It
// never leaves the package: Decoder.Next turns it into a Result that needs input.
var errShort = errors.New("vmprof: short read")

// recordSource hands out exact-size reads for a single record. Every byte it
// hands out is remembered so an interrupted record can be replayed later.
type recordSource struct {
	src      io.Reader
	pending  []byte
	consumed []byte
}

func newRecordSource(src io.Reader, pending []byte) *recordSource {
	return &recordSource{src: src, pending: pending}
}

func (s *recordSource) read(n int) ([]byte, error) {
	buf := make([]byte, n)
	got := copy(buf, s.pending)
	s.pending = s.pending[got:]
	for got < n {
		m, err := s.src.Read(buf[got:])
		got += m
		if err != nil {
			// decompressors report a cut-off stream as ErrUnexpectedEOF
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			s.consumed = append(s.consumed, buf[:got]...)
			return nil, err
		}
		if m == 0 {
			break
		}
	}
	s.consumed = append(s.consumed, buf[:got]...)
	if got < n {
		return nil, errShort
	}
	return buf, nil
}

func (s *recordSource) readByte() (byte, error) {
	b, err := s.read(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (s *recordSource) readWord() (int64, error) {
	b, err := s.read(wordSize)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func (s *recordSource) readAddr() (uint64, error) {
	b, err := s.read(wordSize)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// readString reads a word length followed by that many bytes.
func (s *recordSource) readString() (string, error) {
	n, err := s.readWord()
	if err != nil {
		return "", err
	}
	if n < 0 || n > maxStringLen {
		return "", &FormatError{Msg: "string length out of range"}
	}
	b, err := s.read(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// unread returns every byte consumed so far, in order.
func (s *recordSource) unread() []byte {
	out := make([]byte, len(s.consumed)+len(s.pending))
	n := copy(out, s.consumed)
	copy(out[n:], s.pending)
	return out
}
