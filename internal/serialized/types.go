package serialized

import (
	"github.com/eichs/unityfs/internal/binio"
	"github.com/eichs/unityfs/internal/typetree"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ObjectInfo is one row of the object table. ByteStart is absolute within
// the file.
type ObjectInfo struct {
	PathID          int64
	ByteStart       int64
	ByteSize        uint32
	TypeID          int32
	ClassID         int32
	IsDestroyed     uint16
	ScriptTypeIndex int16
	Stripped        uint8
}

// LocalSerializedObjectIdentifier names a script asset of the script types
// table.
type LocalSerializedObjectIdentifier struct {
	LocalSerializedFileIndex int32
	LocalIdentifierInFile    int64
}

// FileIdentifier is an entry of the externals table. PPtr file id n refers
// to entry n-1.
type FileIdentifier struct {
	TempEmpty string
	GUID      uuid.UUID
	Type      int32
	PathName  string
}

// FileName returns the last path element of PathName, which is how the
// registry knows the file.
func (fi FileIdentifier) FileName() string { return baseName(fi.PathName) }

// SerializedType is a declared type. Ref types carry the managed class
// names, other types their type dependencies.
type SerializedType struct {
	ClassID         int32
	IsStrippedType  bool
	ScriptTypeIndex int16
	ScriptID        []byte
	OldTypeHash     []byte
	Tree            *typetree.Node

	KlassName string
	NameSpace string
	AsmName   string

	TypeDependencies []int32
}

func hasScriptID(version uint32, classID int32, isRefType bool, scriptTypeIndex int16) bool {
	switch {
	case isRefType && scriptTypeIndex >= 0:
		return true
	case version < FormatRefactoredClassID && classID < 0:
		return true
	case version >= FormatRefactoredClassID && classID == classMonoBehaviour:
		return true
	}
	return false
}

func readSerializedType(r *binio.Reader, version uint32, enableTypeTree, isRefType bool, cs *typetree.CommonStrings) (SerializedType, error) {
	t := SerializedType{ScriptTypeIndex: -1}
	var err error
	if t.ClassID, err = r.I32(); err != nil {
		return t, err
	}
	if version >= FormatRefactoredClassID {
		if t.IsStrippedType, err = r.Bool(); err != nil {
			return t, err
		}
	}
	if version >= FormatRefactorTypeData {
		if t.ScriptTypeIndex, err = r.I16(); err != nil {
			return t, err
		}
	}
	if version >= FormatHasTypeTreeHashes {
		if hasScriptID(version, t.ClassID, isRefType, t.ScriptTypeIndex) {
			if t.ScriptID, err = r.Bytes(16); err != nil {
				return t, err
			}
		}
		if t.OldTypeHash, err = r.Bytes(16); err != nil {
			return t, err
		}
	}

	if !enableTypeTree {
		return t, nil
	}
	if usesBlobTypeTree(version) {
		t.Tree, err = typetree.ReadBlob(r, version, cs)
	} else {
		t.Tree, err = typetree.ReadVerbatim(r, version)
	}
	if err != nil {
		return t, errors.Wrapf(err, "type tree of class %d", t.ClassID)
	}

	if version >= FormatStoresTypeDependencies {
		if isRefType {
			if t.KlassName, err = r.StringToNull(); err != nil {
				return t, err
			}
			if t.NameSpace, err = r.StringToNull(); err != nil {
				return t, err
			}
			if t.AsmName, err = r.StringToNull(); err != nil {
				return t, err
			}
		} else {
			if t.TypeDependencies, err = r.I32Array(); err != nil {
				return t, errors.Wrap(err, "type dependencies")
			}
		}
	}
	return t, nil
}

func writeSerializedType(w *binio.Writer, version uint32, enableTypeTree, isRefType bool, cs *typetree.CommonStrings, t *SerializedType) error {
	w.I32(t.ClassID)
	if version >= FormatRefactoredClassID {
		w.Bool(t.IsStrippedType)
	}
	if version >= FormatRefactorTypeData {
		w.I16(t.ScriptTypeIndex)
	}
	if version >= FormatHasTypeTreeHashes {
		if hasScriptID(version, t.ClassID, isRefType, t.ScriptTypeIndex) {
			if err := writeHash(w, t.ScriptID); err != nil {
				return errors.Wrapf(err, "script id of class %d", t.ClassID)
			}
		}
		if err := writeHash(w, t.OldTypeHash); err != nil {
			return errors.Wrapf(err, "type hash of class %d", t.ClassID)
		}
	}

	if !enableTypeTree {
		return nil
	}
	if t.Tree == nil {
		return errors.Errorf("serialized: class %d has no type tree", t.ClassID)
	}
	if usesBlobTypeTree(version) {
		typetree.WriteBlob(w, version, t.Tree, cs)
	} else {
		typetree.WriteVerbatim(w, version, t.Tree)
	}

	if version >= FormatStoresTypeDependencies {
		if isRefType {
			w.StringToNull(t.KlassName)
			w.StringToNull(t.NameSpace)
			w.StringToNull(t.AsmName)
		} else {
			w.I32Array(t.TypeDependencies)
		}
	}
	return nil
}

// writeHash writes a 16-byte hash; an absent hash is written as zeros.
func writeHash(w *binio.Writer, h []byte) error {
	switch len(h) {
	case 0:
		w.Zeros(16)
	case 16:
		w.Write(h)
	default:
		return errors.Errorf("serialized: hash of %d bytes", len(h))
	}
	return nil
}

func readFileIdentifier(r *binio.Reader, version uint32) (FileIdentifier, error) {
	var fi FileIdentifier
	var err error
	if version >= FormatUnknown6 {
		if fi.TempEmpty, err = r.StringToNull(); err != nil {
			return fi, err
		}
	}
	if version >= FormatUnknown5 {
		b, err := r.Bytes(16)
		if err != nil {
			return fi, err
		}
		copy(fi.GUID[:], b)
		if fi.Type, err = r.I32(); err != nil {
			return fi, err
		}
	}
	if fi.PathName, err = r.StringToNull(); err != nil {
		return fi, err
	}
	return fi, nil
}

func writeFileIdentifier(w *binio.Writer, version uint32, fi *FileIdentifier) {
	if version >= FormatUnknown6 {
		w.StringToNull(fi.TempEmpty)
	}
	if version >= FormatUnknown5 {
		w.Write(fi.GUID[:])
		w.I32(fi.Type)
	}
	w.StringToNull(fi.PathName)
}

// readPathID reads a 64-bit identifier; from format 14 on it is 4-byte
// aligned, before that it is 32 bits wide unless big ids are enabled.
func readPathID(r *binio.Reader, version uint32, bigID bool) (int64, error) {
	switch {
	case bigID:
		return r.I64()
	case version < FormatUnknown14:
		v, err := r.I32()
		return int64(v), err
	default:
		r.Align(4)
		return r.I64()
	}
}

func writePathID(w *binio.Writer, version uint32, bigID bool, id int64) {
	switch {
	case bigID:
		w.I64(id)
	case version < FormatUnknown14:
		w.I32(int32(id))
	default:
		w.Align(4)
		w.I64(id)
	}
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' || p[i] == '\\' {
			return p[i+1:]
		}
	}
	return p
}
