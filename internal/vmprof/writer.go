package vmprof

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"time"
)

// Writer encodes a profile in the binary record format read by Decoder.
type Writer struct {
	w       *bufio.Writer
	session Session
	err     error
}

// NewWriter writes the header for session and returns a writer for the body.
func NewWriter(w io.Writer, session Session) (*Writer, error) {
	if len(session.Interpreter) > 255 {
		return nil, fmt.Errorf("interpreter name too long: %d bytes", len(session.Interpreter))
	}
	if session.Version < 0 || session.Version > CurrentVersion {
		return nil, fmt.Errorf("unsupported format version %d", session.Version)
	}

	pw := &Writer{w: bufio.NewWriter(w), session: session}
	pw.putWord(0)
	pw.putWord(3)
	pw.putWord(0)
	pw.putWord(session.Period.Microseconds())
	pw.putWord(0)
	pw.putByte(byte(MarkerHeader))
	pw.putByte(byte(len(session.Interpreter)))
	pw.put([]byte(session.Interpreter))
	var version [2]byte
	binary.BigEndian.PutUint16(version[:], uint16(session.Version))
	pw.put(version[:])
	pw.putFlag(session.ProfileMemory)
	pw.putFlag(session.ProfileLines)
	return pw, pw.err
}

// WriteSample appends a stack record. The stack is given root first.
func (w *Writer) WriteSample(s Sample) error {
	if w.session.ProfileLines && len(s.Lines) != len(s.Stack) {
		return fmt.Errorf("sample has %d line numbers for %d frames", len(s.Lines), len(s.Stack))
	}
	w.putByte(byte(MarkerStacktrace))
	w.putWord(1)
	w.putWord(int64(len(s.Stack)))
	for i := len(s.Stack) - 1; i >= 0; i-- {
		w.putWord(int64(s.Stack[i]))
		if w.session.ProfileLines {
			w.putWord(s.Lines[i])
		}
	}
	if w.session.Version >= VersionThreadID {
		w.putWord(int64(s.ThreadID))
	}
	if w.session.ProfileMemory {
		w.putWord(int64(s.MemKB))
	}
	if w.session.Version >= VersionTimestamp {
		w.putWord(timestampMicros(s.Timestamp))
	}
	return w.err
}

// WriteSymbol appends a virtual-ip or native symbol record.
func (w *Writer) WriteSymbol(id FrameID, name string, native bool) error {
	if native {
		w.putByte(byte(MarkerNativeSymbols))
	} else {
		w.putByte(byte(MarkerVirtualIP))
	}
	w.putWord(int64(id))
	w.putString(name)
	return w.err
}

// WriteMeta appends a key/value record.
func (w *Writer) WriteMeta(key, value string) error {
	w.putByte(byte(MarkerMeta))
	w.putString(key)
	w.putString(value)
	return w.err
}

// WriteTime appends a wall-clock anchor.
func (w *Writer) WriteTime(t time.Time, zone string) error {
	if len(zone) > zoneSize {
		zone = zone[:zoneSize]
	}
	var z [zoneSize]byte
	copy(z[:], zone)

	w.putByte(byte(MarkerTimeNZone))
	w.putWord(t.Unix())
	w.putWord(int64(t.Nanosecond()) / int64(time.Microsecond))
	w.put(z[:])
	return w.err
}

// Close writes the trailer and flushes buffered data.
func (w *Writer) Close() error {
	w.putByte(byte(MarkerTrailer))
	if w.err != nil {
		return w.err
	}
	return w.w.Flush()
}

// WriteProfile encodes a whole profile: header, time anchors, metadata,
// symbols in id order, samples, trailer.
func WriteProfile(out io.Writer, p *Profile) error {
	w, err := NewWriter(out, p.Session)
	if err != nil {
		return err
	}
	if !p.Session.StartTime.IsZero() {
		w.WriteTime(p.Session.StartTime, p.Session.TimeZone)
	}

	keys := make([]string, 0, len(p.Meta))
	for k := range p.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		w.WriteMeta(k, p.Meta[k])
	}

	symbols := p.Symbols.All()
	ids := make([]FrameID, 0, len(symbols))
	for id := range symbols {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		w.WriteSymbol(id, symbols[id], p.Symbols.IsNative(id))
	}

	for _, s := range p.Samples {
		if err := w.WriteSample(s); err != nil {
			return err
		}
	}
	if !p.Session.EndTime.IsZero() {
		w.WriteTime(p.Session.EndTime, p.Session.TimeZone)
	}
	return w.Close()
}

func (w *Writer) put(b []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(b)
}

func (w *Writer) putByte(b byte) {
	if w.err != nil {
		return
	}
	w.err = w.w.WriteByte(b)
}

func (w *Writer) putWord(v int64) {
	var b [wordSize]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	w.put(b[:])
}

func (w *Writer) putFlag(v bool) {
	if v {
		w.putByte(1)
	} else {
		w.putByte(0)
	}
}

func (w *Writer) putString(s string) {
	w.putWord(int64(len(s)))
	w.put([]byte(s))
}
