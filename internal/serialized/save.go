package serialized

import (
	"math"

	"github.com/eichs/unityfs/internal/binio"
	"github.com/eichs/unityfs/internal/typetree"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

func alignUp(v, n int64) int64 { return (v + n - 1) / n * n }

// Save serializes the file with its current objects. Objects are laid out
// in table order, each 8-byte aligned, after a 16-byte aligned data offset.
// On success the file is rebased onto the returned bytes.
func (f *File) Save() ([]byte, error) {
	version := f.Header.Version
	if version == 0 {
		return nil, errors.New("serialized: format version not set")
	}

	rel := make([]int64, len(f.Objects))
	payloads := make([][]byte, len(f.Objects))
	var dataLen int64
	for i := range f.Objects {
		payloads[i] = f.payload(&f.Objects[i])
		dataLen = alignUp(dataLen, objectAlignment)
		rel[i] = dataLen
		dataLen += int64(len(payloads[i]))
	}

	h := f.Header
	w := binio.NewWriter(binio.BigEndian)
	writeHeader(w, h)

	var metaStart, dataOffset int64
	if version >= FormatUnknown9 {
		metaStart = w.Pos()
		w.SetEndian(f.endian)
		if err := f.writeMetadata(w, rel); err != nil {
			return nil, err
		}
		h.MetadataSize = uint32(w.Pos() - metaStart)
		dataOffset = alignUp(w.Pos(), dataAlignment)
		w.Zeros(int(dataOffset - w.Pos()))
		writeObjects(w, dataOffset, rel, payloads)
	} else {
		dataOffset = alignUp(w.Pos(), dataAlignment)
		w.Zeros(int(dataOffset - w.Pos()))
		writeObjects(w, dataOffset, rel, payloads)
		metaStart = w.Pos()
		w.U8(h.Endianess)
		w.SetEndian(f.endian)
		if err := f.writeMetadata(w, rel); err != nil {
			return nil, err
		}
		h.MetadataSize = uint32(w.Pos() - metaStart)
	}
	h.FileSize = w.Pos()
	h.DataOffset = dataOffset

	w.SetEndian(binio.BigEndian)
	if version >= FormatLargeFilesSupport {
		w.PatchU32(20, h.MetadataSize)
		w.PatchI64(24, h.FileSize)
		w.PatchI64(32, h.DataOffset)
	} else {
		if h.FileSize > math.MaxUint32 {
			return nil, errors.Errorf("serialized: %d bytes do not fit format %d", h.FileSize, version)
		}
		w.PatchU32(0, h.MetadataSize)
		w.PatchU32(4, uint32(h.FileSize))
		w.PatchU32(12, uint32(h.DataOffset))
	}

	out := w.Data()
	f.Header = h
	f.data = out
	for i := range f.Objects {
		f.Objects[i].ByteStart = dataOffset + rel[i]
		f.Objects[i].ByteSize = uint32(len(payloads[i]))
	}
	clear(f.replaced)
	f.node.ResetChanged()

	logrus.WithFields(logrus.Fields{
		"file":    f.Name,
		"size":    h.FileSize,
		"objects": len(f.Objects),
	}).Debug("saved serialized file")
	return out, nil
}

func writeObjects(w *binio.Writer, dataOffset int64, rel []int64, payloads [][]byte) {
	for i, p := range payloads {
		w.Zeros(int(dataOffset + rel[i] - w.Pos()))
		w.Write(p)
	}
}

func (f *File) writeMetadata(w *binio.Writer, rel []int64) error {
	version := f.Header.Version
	if version >= FormatUnknown7 {
		w.StringToNull(f.UnityVersion)
	}
	if version >= FormatUnknown8 {
		w.I32(f.TargetPlatform)
	}
	if version >= FormatHasTypeTreeHashes {
		w.Bool(f.EnableTypeTree)
	}

	cs := f.commonStrings()
	if err := writeTypes(w, version, f.EnableTypeTree, false, f.Types, cs); err != nil {
		return errors.Wrap(err, "types")
	}
	if version >= FormatUnknown7 && version < FormatUnknown14 {
		w.I32(f.BigIDEnabled)
	}

	w.I32(int32(len(f.Objects)))
	for i := range f.Objects {
		oi := &f.Objects[i]
		writePathID(w, version, f.BigIDEnabled != 0, oi.PathID)
		if version >= FormatLargeFilesSupport {
			w.I64(rel[i])
		} else {
			w.U32(uint32(rel[i]))
		}
		w.U32(uint32(len(f.payload(oi))))
		w.I32(oi.TypeID)
		if version < FormatRefactoredClassID {
			w.U16(uint16(oi.ClassID))
		}
		if version < FormatHasScriptTypeIndex {
			w.U16(oi.IsDestroyed)
		}
		if version >= FormatHasScriptTypeIndex && version < FormatRefactorTypeData {
			w.I16(oi.ScriptTypeIndex)
		}
		if version == FormatSupportsStrippedObject || version == FormatRefactoredClassID {
			w.U8(oi.Stripped)
		}
	}

	if version >= FormatHasScriptTypeIndex {
		w.I32(int32(len(f.ScriptTypes)))
		for _, st := range f.ScriptTypes {
			w.I32(st.LocalSerializedFileIndex)
			writePathID(w, version, false, st.LocalIdentifierInFile)
		}
	}

	w.I32(int32(len(f.Externals)))
	for i := range f.Externals {
		writeFileIdentifier(w, version, &f.Externals[i])
	}

	if version >= FormatSupportsRefObject {
		if err := writeTypes(w, version, f.EnableTypeTree, true, f.RefTypes, cs); err != nil {
			return errors.Wrap(err, "ref types")
		}
	}
	if version >= FormatUnknown5 {
		w.StringToNull(f.UserInformation)
	}
	return nil
}

func writeTypes(w *binio.Writer, version uint32, enableTypeTree, isRefType bool, types []SerializedType, cs *typetree.CommonStrings) error {
	w.I32(int32(len(types)))
	for i := range types {
		if err := writeSerializedType(w, version, enableTypeTree, isRefType, cs, &types[i]); err != nil {
			return errors.Wrapf(err, "type %d", i)
		}
	}
	return nil
}
