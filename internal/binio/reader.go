// Package binio implements the endian-aware byte cursor shared by every
// container and object codec in this module.
package binio

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// ErrTruncated is returned when a read runs past the end of the buffer.
var ErrTruncated = errors.New("binio: unexpected end of data")

// maxCString bounds null-terminated string scans on corrupt input.
const maxCString = 1 << 20

type Endian int

const (
	BigEndian Endian = iota
	LittleEndian
)

// Order returns the encoding/binary byte order for e.
func (e Endian) Order() binary.ByteOrder {
	if e == LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

func (e Endian) String() string {
	if e == LittleEndian {
		return "little"
	}
	return "big"
}

// Reader is a cursor over an in-memory byte slice. Container headers start
// big-endian; callers switch with SetEndian once the file declares its order.
type Reader struct {
	b      []byte
	pos    int64
	endian Endian
	order  binary.ByteOrder
}

func NewReader(b []byte, e Endian) *Reader {
	return &Reader{b: b, endian: e, order: e.Order()}
}

func (r *Reader) Pos() int64       { return r.pos }
func (r *Reader) SetPos(p int64)   { r.pos = p }
func (r *Reader) Len() int64       { return int64(len(r.b)) }
func (r *Reader) Remaining() int64 { return int64(len(r.b)) - r.pos }
func (r *Reader) Endian() Endian   { return r.endian }

// Data returns the full underlying buffer.
func (r *Reader) Data() []byte { return r.b }

func (r *Reader) SetEndian(e Endian) {
	r.endian = e
	r.order = e.Order()
}

func (r *Reader) truncated(n int64) error {
	return errors.Wrapf(ErrTruncated, "need %d bytes at offset %d, have %d", n, r.pos, r.Remaining())
}

// Bytes returns the next n bytes without copying.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 || r.pos < 0 || r.pos+int64(n) > int64(len(r.b)) {
		return nil, r.truncated(int64(n))
	}
	out := r.b[r.pos : r.pos+int64(n)]
	r.pos += int64(n)
	return out, nil
}

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(n int64) error {
	if n < 0 || r.pos+n > int64(len(r.b)) {
		return r.truncated(n)
	}
	r.pos += n
	return nil
}

func (r *Reader) U8() (byte, error) {
	if r.pos < 0 || r.pos >= int64(len(r.b)) {
		return 0, r.truncated(1)
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) I8() (int8, error) {
	v, err := r.U8()
	return int8(v), err
}

func (r *Reader) Bool() (bool, error) {
	v, err := r.U8()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (r *Reader) U16() (uint16, error) {
	b, err := r.Bytes(2)
	if err != nil {
		return 0, err
	}
	return r.order.Uint16(b), nil
}

func (r *Reader) I16() (int16, error) {
	v, err := r.U16()
	return int16(v), err
}

func (r *Reader) U32() (uint32, error) {
	b, err := r.Bytes(4)
	if err != nil {
		return 0, err
	}
	return r.order.Uint32(b), nil
}

func (r *Reader) I32() (int32, error) {
	v, err := r.U32()
	return int32(v), err
}

func (r *Reader) U64() (uint64, error) {
	b, err := r.Bytes(8)
	if err != nil {
		return 0, err
	}
	return r.order.Uint64(b), nil
}

func (r *Reader) I64() (int64, error) {
	v, err := r.U64()
	return int64(v), err
}

func (r *Reader) F32() (float32, error) {
	v, err := r.U32()
	return math.Float32frombits(v), err
}

func (r *Reader) F64() (float64, error) {
	v, err := r.U64()
	return math.Float64frombits(v), err
}

// Align moves the cursor forward to the next multiple of n.
func (r *Reader) Align(n int64) {
	if n <= 1 {
		return
	}
	if m := r.pos % n; m != 0 {
		r.pos += n - m
	}
}

// StringToNull reads a null-terminated string and consumes the terminator.
func (r *Reader) StringToNull() (string, error) {
	start := r.pos
	for {
		if r.pos >= int64(len(r.b)) {
			r.pos = start
			return "", errors.Wrapf(ErrTruncated, "unterminated string at offset %d", start)
		}
		if r.b[r.pos] == 0 {
			s := string(r.b[start:r.pos])
			r.pos++
			return s, nil
		}
		r.pos++
		if r.pos-start > maxCString {
			return "", errors.Errorf("binio: string at offset %d too long (no null terminator?)", start)
		}
	}
}

// StringToNullFixed reads exactly n bytes and cuts them at the first null.
func (r *Reader) StringToNullFixed(n int) (string, error) {
	b, err := r.Bytes(n)
	if err != nil {
		return "", err
	}
	for i := range b {
		if b[i] == 0 {
			return string(b[:i]), nil
		}
	}
	return string(b), nil
}

// SizedBytes reads an int32 length followed by that many bytes (copied).
func (r *Reader) SizedBytes() ([]byte, error) {
	n, err := r.I32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, errors.Errorf("binio: negative length %d at offset %d", n, r.pos-4)
	}
	b, err := r.Bytes(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// AlignedString reads an int32-length-prefixed string and aligns to 4.
func (r *Reader) AlignedString() (string, error) {
	b, err := r.SizedBytes()
	if err != nil {
		return "", err
	}
	r.Align(4)
	return string(b), nil
}

// I32Array reads an int32 count followed by that many int32 values.
func (r *Reader) I32Array() ([]int32, error) {
	n, err := r.I32()
	if err != nil {
		return nil, err
	}
	if n < 0 || int64(n)*4 > r.Remaining() {
		return nil, errors.Errorf("binio: bad int32 array length %d at offset %d", n, r.pos-4)
	}
	out := make([]int32, n)
	for i := range out {
		if out[i], err = r.I32(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ReadFull copies n bytes from ra into a new Reader.
func ReadFull(ra io.ReaderAt, n int64, e Endian) (*Reader, error) {
	buf := make([]byte, n)
	if _, err := ra.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "binio: read source")
	}
	return NewReader(buf, e), nil
}

// Uvarint reads a 7-bit-per-byte variable length integer, least
// significant group first.
func (r *Reader) Uvarint() (uint64, error) {
	if r.pos >= int64(len(r.b)) {
		return 0, r.truncated(1)
	}
	v, n := binary.Uvarint(r.b[r.pos:])
	if n <= 0 {
		return 0, errors.Errorf("binio: bad varint at offset %d", r.pos)
	}
	r.pos += int64(n)
	return v, nil
}
