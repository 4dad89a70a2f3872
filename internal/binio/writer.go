package binio

import (
	"encoding/binary"
	"math"
)

// Writer appends encoded values to a growable buffer. Already written
// fields can be back-patched once later offsets are known.
type Writer struct {
	b      []byte
	endian Endian
	order  byteOrder
}

type byteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

func orderFor(e Endian) byteOrder {
	if e == LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

func NewWriter(e Endian) *Writer {
	return &Writer{endian: e, order: orderFor(e)}
}

func (w *Writer) Pos() int64     { return int64(len(w.b)) }
func (w *Writer) Data() []byte   { return w.b }
func (w *Writer) Endian() Endian { return w.endian }

func (w *Writer) SetEndian(e Endian) {
	w.endian = e
	w.order = orderFor(e)
}

func (w *Writer) Write(p []byte) { w.b = append(w.b, p...) }
func (w *Writer) U8(v byte)      { w.b = append(w.b, v) }
func (w *Writer) I8(v int8)      { w.b = append(w.b, byte(v)) }
func (w *Writer) U16(v uint16)   { w.b = w.order.AppendUint16(w.b, v) }
func (w *Writer) I16(v int16)    { w.U16(uint16(v)) }
func (w *Writer) U32(v uint32)   { w.b = w.order.AppendUint32(w.b, v) }
func (w *Writer) I32(v int32)    { w.U32(uint32(v)) }
func (w *Writer) U64(v uint64)   { w.b = w.order.AppendUint64(w.b, v) }
func (w *Writer) I64(v int64)    { w.U64(uint64(v)) }
func (w *Writer) F32(v float32)  { w.U32(math.Float32bits(v)) }
func (w *Writer) F64(v float64)  { w.U64(math.Float64bits(v)) }
func (w *Writer) Zeros(n int)    { w.b = append(w.b, make([]byte, n)...) }
func (w *Writer) StringToNull(s string) {
	w.b = append(w.b, s...)
	w.b = append(w.b, 0)
}

func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
		return
	}
	w.U8(0)
}

// Align pads with zeros up to the next multiple of n.
func (w *Writer) Align(n int64) {
	if n <= 1 {
		return
	}
	for int64(len(w.b))%n != 0 {
		w.b = append(w.b, 0)
	}
}

// SizedBytes writes an int32 length prefix followed by p.
func (w *Writer) SizedBytes(p []byte) {
	w.I32(int32(len(p)))
	w.Write(p)
}

// AlignedString writes an int32-length-prefixed string and aligns to 4.
func (w *Writer) AlignedString(s string) {
	w.I32(int32(len(s)))
	w.b = append(w.b, s...)
	w.Align(4)
}

func (w *Writer) I32Array(v []int32) {
	w.I32(int32(len(v)))
	for _, x := range v {
		w.I32(x)
	}
}

// PatchU32 overwrites a previously written uint32 at pos.
func (w *Writer) PatchU32(pos int64, v uint32) {
	w.order.PutUint32(w.b[pos:pos+4], v)
}

// PatchI64 overwrites a previously written int64 at pos.
func (w *Writer) PatchI64(pos int64, v int64) {
	w.order.PutUint64(w.b[pos:pos+8], uint64(v))
}

// Uvarint writes v in the encoding read by Reader.Uvarint.
func (w *Writer) Uvarint(v uint64) { w.b = binary.AppendUvarint(w.b, v) }
