package trace

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"
)

// The wire codec is a compact varint-based binary encoding. Decoding comes
// in two modes: a value in the middle of a buffer leaves trailing bytes
// alone, while the final value of a buffer must consume it exactly;
// callers check the latter with Decoder.Finish as an integrity check
// against truncated or corrupted payloads.

// Encoder accumulates an encoded value.
type Encoder struct {
	buf bytes.Buffer
}

// Uvarint appends an unsigned varint.
func (e *Encoder) Uvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	e.buf.Write(tmp[:n])
}

// Int appends a possibly negative integer as a zigzag varint.
func (e *Encoder) Int(v int64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	e.buf.Write(tmp[:n])
}

// Bytes appends a length-prefixed byte string.
func (e *Encoder) Bytes(b []byte) {
	e.Uvarint(uint64(len(b)))
	e.buf.Write(b)
}

// String appends a length-prefixed string.
func (e *Encoder) String(s string) {
	e.Uvarint(uint64(len(s)))
	e.buf.WriteString(s)
}

// Data returns the encoded bytes.
func (e *Encoder) Data() []byte {
	return e.buf.Bytes()
}

// Decoder reads encoded values from a buffer.
type Decoder struct {
	r *bytes.Reader
}

// NewDecoder creates a decoder over data.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{r: bytes.NewReader(data)}
}

// Uvarint reads an unsigned varint.
func (d *Decoder) Uvarint() (uint64, error) {
	v, err := binary.ReadUvarint(d.r)
	if err != nil {
		return 0, errors.Wrap(err, "reading varint")
	}
	return v, nil
}

// Int reads a zigzag varint.
func (d *Decoder) Int() (int64, error) {
	v, err := binary.ReadVarint(d.r)
	if err != nil {
		return 0, errors.Wrap(err, "reading varint")
	}
	return v, nil
}

// Bytes reads a length-prefixed byte string.
func (d *Decoder) Bytes() ([]byte, error) {
	n, err := d.Uvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(d.r.Len()) {
		return nil, errors.Errorf("declared length %d exceeds remaining %d bytes", n, d.r.Len())
	}
	out := make([]byte, n)
	if _, err := d.r.Read(out); err != nil {
		return nil, errors.Wrap(err, "reading bytes")
	}
	return out, nil
}

// String reads a length-prefixed string.
func (d *Decoder) String() (string, error) {
	b, err := d.Bytes()
	return string(b), err
}

// Remaining returns the number of bytes not yet consumed.
func (d *Decoder) Remaining() int {
	return d.r.Len()
}

// Finish returns an error if the buffer was not consumed exactly.
func (d *Decoder) Finish() error {
	if n := d.r.Len(); n != 0 {
		return errors.Errorf("%d unexpected trailing bytes", n)
	}
	return nil
}

// EncodeFileFormat appends a file format.
func EncodeFileFormat(e *Encoder, f FileFormat) {
	e.Uvarint(uint64(f))
}

// DecodeFileFormat reads a file format.
func DecodeFileFormat(d *Decoder) (FileFormat, error) {
	v, err := d.Uvarint()
	if err != nil {
		return FormatUnknown, err
	}
	if v > uint64(FormatUnknown) {
		return FormatUnknown, errors.Errorf("unknown file format tag %d", v)
	}
	return FileFormat(v), nil
}

// EncodeHierarchy appends a hierarchy. The derived navigation indices are
// not transmitted; the decoder rebuilds them.
func EncodeHierarchy(e *Encoder, h *Hierarchy) {
	e.String(h.Version)
	e.String(h.Timescale)
	e.Uvarint(uint64(h.NumSignals))
	e.Uvarint(uint64(len(h.Scopes)))
	for _, s := range h.Scopes {
		e.String(s.Name)
		e.String(s.Kind)
		e.Int(int64(s.Parent))
	}
	e.Uvarint(uint64(len(h.Vars)))
	for _, v := range h.Vars {
		e.String(v.Name)
		e.String(v.Kind)
		e.Uvarint(uint64(v.Width))
		e.Int(int64(v.Scope))
		e.Uvarint(uint64(v.Signal))
	}
}

// DecodeHierarchy reads a hierarchy and rebuilds its derived indices.
func DecodeHierarchy(d *Decoder) (*Hierarchy, error) {
	h := &Hierarchy{}
	var err error
	if h.Version, err = d.String(); err != nil {
		return nil, errors.Wrap(err, "decoding hierarchy version")
	}
	if h.Timescale, err = d.String(); err != nil {
		return nil, errors.Wrap(err, "decoding hierarchy timescale")
	}
	numSignals, err := d.Uvarint()
	if err != nil {
		return nil, err
	}
	h.NumSignals = int(numSignals)
	numScopes, err := d.Uvarint()
	if err != nil {
		return nil, err
	}
	h.Scopes = make([]Scope, numScopes)
	for i := range h.Scopes {
		s := &h.Scopes[i]
		if s.Name, err = d.String(); err != nil {
			return nil, errors.Wrapf(err, "decoding scope %d", i)
		}
		if s.Kind, err = d.String(); err != nil {
			return nil, errors.Wrapf(err, "decoding scope %d", i)
		}
		parent, err := d.Int()
		if err != nil {
			return nil, errors.Wrapf(err, "decoding scope %d", i)
		}
		if parent >= int64(i) || parent < -1 {
			return nil, errors.Errorf("scope %d has invalid parent %d", i, parent)
		}
		s.Parent = int(parent)
	}
	numVars, err := d.Uvarint()
	if err != nil {
		return nil, err
	}
	h.Vars = make([]Var, numVars)
	for i := range h.Vars {
		v := &h.Vars[i]
		if v.Name, err = d.String(); err != nil {
			return nil, errors.Wrapf(err, "decoding var %d", i)
		}
		if v.Kind, err = d.String(); err != nil {
			return nil, errors.Wrapf(err, "decoding var %d", i)
		}
		width, err := d.Uvarint()
		if err != nil {
			return nil, errors.Wrapf(err, "decoding var %d", i)
		}
		v.Width = uint32(width)
		scope, err := d.Int()
		if err != nil {
			return nil, errors.Wrapf(err, "decoding var %d", i)
		}
		if scope >= int64(numScopes) || scope < -1 {
			return nil, errors.Errorf("var %d has invalid scope %d", i, scope)
		}
		v.Scope = int(scope)
		sig, err := d.Uvarint()
		if err != nil {
			return nil, errors.Wrapf(err, "decoding var %d", i)
		}
		v.Signal = SignalRef(sig)
	}
	h.Rebuild()
	return h, nil
}

// EncodeCompressedTimeTable appends a time table, delta- and run-length
// encoded over the monotonic timestamp sequence.
func EncodeCompressedTimeTable(e *Encoder, t TimeTable) {
	e.Uvarint(uint64(len(t)))
	if len(t) == 0 {
		return
	}
	e.Uvarint(t[0])
	// Runs of (delta, repetition count) pairs.
	var delta uint64
	run := uint64(0)
	for i := 1; i < len(t); i++ {
		d := t[i] - t[i-1]
		if run > 0 && d == delta {
			run++
			continue
		}
		if run > 0 {
			e.Uvarint(delta)
			e.Uvarint(run)
		}
		delta, run = d, 1
	}
	if run > 0 {
		e.Uvarint(delta)
		e.Uvarint(run)
	}
}

// DecodeCompressedTimeTable reads and expands a time table.
func DecodeCompressedTimeTable(d *Decoder) (TimeTable, error) {
	count, err := d.Uvarint()
	if err != nil {
		return nil, errors.Wrap(err, "decoding time table")
	}
	if count == 0 {
		return TimeTable{}, nil
	}
	first, err := d.Uvarint()
	if err != nil {
		return nil, errors.Wrap(err, "decoding time table")
	}
	out := make(TimeTable, 1, count)
	out[0] = first
	for uint64(len(out)) < count {
		delta, err := d.Uvarint()
		if err != nil {
			return nil, errors.Wrap(err, "decoding time table")
		}
		run, err := d.Uvarint()
		if err != nil {
			return nil, errors.Wrap(err, "decoding time table")
		}
		if run == 0 || uint64(len(out))+run > count {
			return nil, errors.Errorf("time table run of %d overflows declared count %d", run, count)
		}
		for ; run > 0; run-- {
			out = append(out, out[len(out)-1]+delta)
		}
	}
	return out, nil
}

// Value lists inside a compressed signal are NUL-joined and block
// compressed; VCD values never contain NUL bytes.
const valueSeparator = "\x00"

// EncodeCompressedSignal appends one signal: its ref, delta-encoded change
// indices and an lz4-compressed value block.
func EncodeCompressedSignal(e *Encoder, s *Signal) {
	e.Uvarint(uint64(s.Ref))
	e.Uvarint(uint64(len(s.TimeIndices)))
	prev := uint32(0)
	for _, idx := range s.TimeIndices {
		e.Uvarint(uint64(idx - prev))
		prev = idx
	}
	e.Bytes(CompressPrependSize([]byte(strings.Join(s.Values, valueSeparator))))
}

// DecodeCompressedSignal reads and expands one signal.
func DecodeCompressedSignal(d *Decoder) (*Signal, error) {
	ref, err := d.Uvarint()
	if err != nil {
		return nil, errors.Wrap(err, "decoding signal ref")
	}
	count, err := d.Uvarint()
	if err != nil {
		return nil, errors.Wrap(err, "decoding signal change count")
	}
	s := &Signal{Ref: SignalRef(ref)}
	prev := uint32(0)
	for i := uint64(0); i < count; i++ {
		delta, err := d.Uvarint()
		if err != nil {
			return nil, errors.Wrapf(err, "decoding signal %d change indices", ref)
		}
		if i > 0 {
			prev += uint32(delta)
		} else {
			prev = uint32(delta)
		}
		s.TimeIndices = append(s.TimeIndices, prev)
	}
	blob, err := d.Bytes()
	if err != nil {
		return nil, errors.Wrapf(err, "decoding signal %d value block", ref)
	}
	raw, err := DecompressSizePrepended(blob)
	if err != nil {
		return nil, errors.Wrapf(err, "decompressing signal %d values", ref)
	}
	if count > 0 {
		s.Values = strings.Split(string(raw), valueSeparator)
		if uint64(len(s.Values)) != count {
			return nil, errors.Errorf("signal %d has %d values for %d changes", ref, len(s.Values), count)
		}
	} else if len(raw) != 0 {
		return nil, errors.Errorf("signal %d has values but no changes", ref)
	}
	return s, nil
}
