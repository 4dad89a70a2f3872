package typetree

import (
	"bytes"
	"strconv"

	"github.com/eichs/unityfs/internal/binio"
	"github.com/pkg/errors"
)

// FormatRefTypeHash is the first serialized file format whose blob nodes
// carry a reference type hash.
const FormatRefTypeHash = 19

// blobSource is the string buffer of one parsed blob.
type blobSource struct {
	buf []byte
}

// blobPlacement records the raw string offsets a node was parsed with and
// the strings they resolved to.
type blobPlacement struct {
	src              *blobSource
	typeOff, nameOff uint32
	typ, name        string
}

func blobNodeSize(format uint32) int64 {
	if format >= FormatRefTypeHash {
		return 32
	}
	return 24
}

// ReadBlob parses the flat encoding: a node array tagged with levels,
// followed by a string buffer. cs resolves common string offsets; nil uses
// the built-in table.
func ReadBlob(r *binio.Reader, format uint32, cs *CommonStrings) (*Node, error) {
	if cs == nil {
		cs = DefaultCommonStrings()
	}
	count, err := r.I32()
	if err != nil {
		return nil, errors.Wrap(err, "read node count")
	}
	bufSize, err := r.I32()
	if err != nil {
		return nil, errors.Wrap(err, "read string buffer size")
	}
	if count <= 0 || bufSize < 0 || int64(count)*blobNodeSize(format)+int64(bufSize) > r.Remaining() {
		return nil, errors.Errorf("typetree: bad blob header (nodes %d, strings %d, remaining %d)",
			count, bufSize, r.Remaining())
	}

	type rawNode struct {
		typeOff, nameOff uint32
	}
	flat := make([]*Node, count)
	raw := make([]rawNode, count)
	for i := range flat {
		n := &Node{}
		version, _ := r.I16()
		level, _ := r.U8()
		typeFlags, _ := r.U8()
		raw[i].typeOff, _ = r.U32()
		raw[i].nameOff, _ = r.U32()
		n.ByteSize, _ = r.I32()
		n.Index, _ = r.I32()
		n.MetaFlag, _ = r.U32()
		if format >= FormatRefTypeHash {
			n.RefTypeHash, _ = r.U64()
		}
		n.Version = int32(version)
		n.Level = int(level)
		n.TypeFlags = int32(typeFlags)
		if i > 0 {
			n.Level = unwrapLevel(flat[i-1].Level, level)
		}
		flat[i] = n
	}
	buf, err := r.Bytes(int(bufSize))
	if err != nil {
		return nil, errors.Wrap(err, "read string buffer")
	}

	src := &blobSource{buf: buf}
	for i, n := range flat {
		if n.Type, err = blobString(buf, raw[i].typeOff, cs); err != nil {
			return nil, errors.Wrapf(err, "node %d type", i)
		}
		if n.Name, err = blobString(buf, raw[i].nameOff, cs); err != nil {
			return nil, errors.Wrapf(err, "node %d name", i)
		}
		n.placement = &blobPlacement{
			src:     src,
			typeOff: raw[i].typeOff,
			nameOff: raw[i].nameOff,
			typ:     n.Type,
			name:    n.Name,
		}
	}
	return Rebuild(flat)
}

// unwrapLevel recovers the depth of a node from its stored 8-bit level:
// the deepest depth no greater than the previous depth+1 that matches the
// stored level modulo 256. Trees deeper than 255 round-trip as long as no
// step climbs back up 256 levels or more.
func unwrapLevel(prev int, stored uint8) int {
	next := prev + 1
	return next - ((next-int(stored))%256+256)%256
}

func blobString(buf []byte, off uint32, cs *CommonStrings) (string, error) {
	if off&commonStringOffset != 0 {
		off &^= commonStringOffset
		if s, ok := cs.Get(off); ok {
			return s, nil
		}
		return strconv.FormatUint(uint64(off), 10), nil
	}
	if int(off) >= len(buf) {
		return "", errors.Errorf("typetree: string offset %d outside buffer of %d bytes", off, len(buf))
	}
	end := bytes.IndexByte(buf[off:], 0)
	if end < 0 {
		return "", errors.Errorf("typetree: unterminated string at offset %d", off)
	}
	return string(buf[off : int(off)+end]), nil
}

// WriteBlob is the inverse of ReadBlob. Nodes that came from ReadBlob keep
// their original string offsets and the root's string buffer is written
// back unchanged, so an unedited tree dumps to the bytes it was parsed
// from. Other strings are written as common offsets when found in cs and
// otherwise appended to the local buffer, deduplicated.
func WriteBlob(w *binio.Writer, format uint32, root *Node, cs *CommonStrings) {
	if cs == nil {
		cs = DefaultCommonStrings()
	}
	var base *blobSource
	if root.placement != nil {
		base = root.placement.src
	}
	var strBuf []byte
	local := map[string]uint32{}
	if base != nil {
		strBuf = append(strBuf, base.buf...)
	}
	offsetOf := func(s string) uint32 {
		if off, ok := cs.Offset(s); ok {
			return off | commonStringOffset
		}
		if off, ok := local[s]; ok {
			return off
		}
		off := uint32(len(strBuf))
		local[s] = off
		strBuf = append(strBuf, s...)
		strBuf = append(strBuf, 0)
		return off
	}
	flat := Flatten(root)
	if base != nil {
		for _, n := range flat {
			if p := n.placement; p != nil && p.src == base {
				if p.typeOff&commonStringOffset == 0 {
					local[p.typ] = p.typeOff
				}
				if p.nameOff&commonStringOffset == 0 {
					local[p.name] = p.nameOff
				}
			}
		}
	}

	nodes := binio.NewWriter(w.Endian())
	for _, n := range flat {
		var typeOff, nameOff uint32
		p := n.placement
		if p != nil && p.src == base && p.typ == n.Type {
			typeOff = p.typeOff
		} else {
			typeOff = offsetOf(n.Type)
		}
		if p != nil && p.src == base && p.name == n.Name {
			nameOff = p.nameOff
		} else {
			nameOff = offsetOf(n.Name)
		}
		nodes.I16(int16(n.Version))
		nodes.U8(uint8(n.Level))
		nodes.U8(uint8(n.TypeFlags))
		nodes.U32(typeOff)
		nodes.U32(nameOff)
		nodes.I32(n.ByteSize)
		nodes.I32(n.Index)
		nodes.U32(n.MetaFlag)
		if format >= FormatRefTypeHash {
			nodes.U64(n.RefTypeHash)
		}
	}

	w.I32(int32(len(flat)))
	w.I32(int32(len(strBuf)))
	w.Write(nodes.Data())
	w.Write(strBuf)
}
