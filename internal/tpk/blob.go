package tpk

import (
	"github.com/eichs/unityfs/internal/binio"
	"github.com/pkg/errors"
)

// ClassFlags describe a class definition.
type ClassFlags uint8

const (
	ClassAbstract       ClassFlags = 1
	ClassSealed         ClassFlags = 2
	ClassEditorOnly     ClassFlags = 4
	ClassReleaseOnly    ClassFlags = 8
	ClassStripped       ClassFlags = 16
	ClassHasEditorRoot  ClassFlags = 64
	ClassHasReleaseRoot ClassFlags = 128
)

const classRootNodeMissing = 0xFFFF

// Class is one class definition. Name and Base index the string buffer,
// the roots index the node buffer.
type Class struct {
	Name        uint16
	Base        uint16
	Flags       ClassFlags
	EditorRoot  uint16
	ReleaseRoot uint16
}

// Root returns the node used to decode built player data.
func (c Class) Root() (uint16, bool) {
	if c.Flags&ClassHasReleaseRoot != 0 {
		return c.ReleaseRoot, true
	}
	if c.Flags&ClassHasEditorRoot != 0 {
		return c.EditorRoot, true
	}
	return 0, false
}

// ClassEntry is a class definition valid from Version onwards. A nil Class
// means the class does not exist from that version.
type ClassEntry struct {
	Version Version
	Class   *Class
}

type ClassInfo struct {
	ID      int32
	Entries []ClassEntry
}

// CommonStringVersion says how many of the common strings exist from
// Version onwards.
type CommonStringVersion struct {
	Version Version
	Count   uint8
}

type CommonStringInfo struct {
	Versions []CommonStringVersion
	Indices  []uint16
}

// Node is a raw schema node; its names index the string buffer and
// SubNodes index the node buffer.
type Node struct {
	TypeName  uint16
	Name      uint16
	ByteSize  int32
	Version   int16
	TypeFlags uint8
	MetaFlag  uint32
	SubNodes  []uint16
}

// Blob is the type tree information payload.
type Blob struct {
	CreationTime  int64
	Versions      []Version
	Classes       []ClassInfo
	CommonStrings CommonStringInfo
	Nodes         []Node
	Strings       []string
}

func readCount(r *binio.Reader, what string, elemSize int64) (int, error) {
	n, err := r.I32()
	if err != nil {
		return 0, errors.Wrapf(err, "read %s count", what)
	}
	if n < 0 || int64(n)*elemSize > r.Remaining() {
		return 0, errors.Errorf("tpk: bad %s count %d", what, n)
	}
	return int(n), nil
}

// ReadBlob parses a type tree information payload.
func ReadBlob(data []byte) (*Blob, error) {
	r := binio.NewReader(data, binio.LittleEndian)
	b := &Blob{}
	var err error
	if b.CreationTime, err = r.I64(); err != nil {
		return nil, errors.Wrap(err, "read creation time")
	}

	n, err := readCount(r, "version", 8)
	if err != nil {
		return nil, err
	}
	b.Versions = make([]Version, n)
	for i := range b.Versions {
		p, err := r.U64()
		if err != nil {
			return nil, errors.Wrap(err, "read versions")
		}
		b.Versions[i] = UnpackVersion(p)
	}

	if n, err = readCount(r, "class", 8); err != nil {
		return nil, err
	}
	b.Classes = make([]ClassInfo, n)
	for i := range b.Classes {
		if b.Classes[i], err = readClassInfo(r); err != nil {
			return nil, errors.Wrapf(err, "read class %d", i)
		}
	}

	if n, err = readCount(r, "common string version", 9); err != nil {
		return nil, err
	}
	b.CommonStrings.Versions = make([]CommonStringVersion, n)
	for i := range b.CommonStrings.Versions {
		p, _ := r.U64()
		c, err := r.U8()
		if err != nil {
			return nil, errors.Wrap(err, "read common string versions")
		}
		b.CommonStrings.Versions[i] = CommonStringVersion{UnpackVersion(p), c}
	}
	if n, err = readCount(r, "common string index", 2); err != nil {
		return nil, err
	}
	b.CommonStrings.Indices = make([]uint16, n)
	for i := range b.CommonStrings.Indices {
		b.CommonStrings.Indices[i], _ = r.U16()
	}

	if n, err = readCount(r, "node", 17); err != nil {
		return nil, err
	}
	b.Nodes = make([]Node, n)
	for i := range b.Nodes {
		if b.Nodes[i], err = readNode(r); err != nil {
			return nil, errors.Wrapf(err, "read node %d", i)
		}
	}

	if n, err = readCount(r, "string", 1); err != nil {
		return nil, err
	}
	b.Strings = make([]string, n)
	for i := range b.Strings {
		size, err := r.Uvarint()
		if err != nil {
			return nil, errors.Wrapf(err, "read string %d", i)
		}
		s, err := r.Bytes(int(size))
		if err != nil {
			return nil, errors.Wrapf(err, "read string %d", i)
		}
		b.Strings[i] = string(s)
	}
	return b, nil
}

func readClassInfo(r *binio.Reader) (ClassInfo, error) {
	var ci ClassInfo
	var err error
	if ci.ID, err = r.I32(); err != nil {
		return ci, err
	}
	n, err := readCount(r, "class entry", 9)
	if err != nil {
		return ci, err
	}
	ci.Entries = make([]ClassEntry, n)
	for i := range ci.Entries {
		p, err := r.U64()
		if err != nil {
			return ci, err
		}
		ci.Entries[i].Version = UnpackVersion(p)
		present, err := r.Bool()
		if err != nil {
			return ci, err
		}
		if !present {
			continue
		}
		c := &Class{EditorRoot: classRootNodeMissing, ReleaseRoot: classRootNodeMissing}
		c.Name, _ = r.U16()
		c.Base, _ = r.U16()
		flags, err := r.U8()
		if err != nil {
			return ci, err
		}
		c.Flags = ClassFlags(flags)
		if c.Flags&ClassHasEditorRoot != 0 {
			if c.EditorRoot, err = r.U16(); err != nil {
				return ci, err
			}
		}
		if c.Flags&ClassHasReleaseRoot != 0 {
			if c.ReleaseRoot, err = r.U16(); err != nil {
				return ci, err
			}
		}
		ci.Entries[i].Class = c
	}
	return ci, nil
}

func readNode(r *binio.Reader) (Node, error) {
	var n Node
	n.TypeName, _ = r.U16()
	n.Name, _ = r.U16()
	n.ByteSize, _ = r.I32()
	n.Version, _ = r.I16()
	n.TypeFlags, _ = r.U8()
	n.MetaFlag, _ = r.U32()
	count, err := r.U16()
	if err != nil {
		return n, err
	}
	if int64(count)*2 > r.Remaining() {
		return n, errors.Errorf("tpk: bad sub node count %d", count)
	}
	if count == 0 {
		return n, nil
	}
	n.SubNodes = make([]uint16, count)
	for i := range n.SubNodes {
		n.SubNodes[i], _ = r.U16()
	}
	return n, nil
}

// Marshal encodes the blob in the layout read by ReadBlob.
func (b *Blob) Marshal() []byte {
	w := binio.NewWriter(binio.LittleEndian)
	w.I64(b.CreationTime)
	w.I32(int32(len(b.Versions)))
	for _, v := range b.Versions {
		w.U64(v.Pack())
	}

	w.I32(int32(len(b.Classes)))
	for _, ci := range b.Classes {
		w.I32(ci.ID)
		w.I32(int32(len(ci.Entries)))
		for _, e := range ci.Entries {
			w.U64(e.Version.Pack())
			w.Bool(e.Class != nil)
			if e.Class == nil {
				continue
			}
			w.U16(e.Class.Name)
			w.U16(e.Class.Base)
			w.U8(uint8(e.Class.Flags))
			if e.Class.Flags&ClassHasEditorRoot != 0 {
				w.U16(e.Class.EditorRoot)
			}
			if e.Class.Flags&ClassHasReleaseRoot != 0 {
				w.U16(e.Class.ReleaseRoot)
			}
		}
	}

	w.I32(int32(len(b.CommonStrings.Versions)))
	for _, cv := range b.CommonStrings.Versions {
		w.U64(cv.Version.Pack())
		w.U8(cv.Count)
	}
	w.I32(int32(len(b.CommonStrings.Indices)))
	for _, idx := range b.CommonStrings.Indices {
		w.U16(idx)
	}

	w.I32(int32(len(b.Nodes)))
	for _, n := range b.Nodes {
		w.U16(n.TypeName)
		w.U16(n.Name)
		w.I32(n.ByteSize)
		w.I16(n.Version)
		w.U8(n.TypeFlags)
		w.U32(n.MetaFlag)
		w.U16(uint16(len(n.SubNodes)))
		for _, s := range n.SubNodes {
			w.U16(s)
		}
	}

	w.I32(int32(len(b.Strings)))
	for _, s := range b.Strings {
		w.Uvarint(uint64(len(s)))
		w.Write([]byte(s))
	}
	return w.Data()
}
