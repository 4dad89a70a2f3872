// Package tpk reads the versioned type tree database that supplies schemas
// for files whose type trees were stripped at build time.
package tpk

import (
	"os"

	"github.com/eichs/unityfs/internal/binio"
	"github.com/eichs/unityfs/internal/compress"
	"github.com/pkg/errors"
)

// Magic is "TPK*" read as a little-endian uint32.
const Magic = 0x2A4B5054

const (
	headerSize    = 20
	formatVersion = 1
)

var ErrBadMagic = errors.New("tpk: bad magic")

// DataType tells how a database payload is laid out.
type DataType byte

const (
	TypeTreeInformation DataType = iota
	Collection
	FileSystem
	JSON
	ReferenceAssemblies
	EngineAssets
)

func (d DataType) String() string {
	switch d {
	case TypeTreeInformation:
		return "TypeTreeInformation"
	case Collection:
		return "Collection"
	case FileSystem:
		return "FileSystem"
	case JSON:
		return "Json"
	case ReferenceAssemblies:
		return "ReferenceAssemblies"
	case EngineAssets:
		return "EngineAssets"
	}
	return "Unknown"
}

type Header struct {
	Version          byte
	Compression      compress.Kind
	DataType         DataType
	CompressedSize   int32
	UncompressedSize int32
}

// File is a decoded database container. Payload is the uncompressed blob.
type File struct {
	Header
	Payload []byte
}

// Parse reads the 20 byte header and expands the payload.
func Parse(data []byte) (*File, error) {
	r := binio.NewReader(data, binio.LittleEndian)
	magic, err := r.U32()
	if err != nil {
		return nil, errors.Wrap(err, "read tpk header")
	}
	if magic != Magic {
		return nil, errors.Wrapf(ErrBadMagic, "got 0x%08x", magic)
	}
	var h Header
	h.Version, _ = r.U8()
	kind, _ := r.U8()
	dt, _ := r.U8()
	h.Compression, h.DataType = compress.Kind(kind), DataType(dt)
	if err := r.Skip(5); err != nil {
		return nil, errors.Wrap(err, "read tpk header")
	}
	if h.CompressedSize, err = r.I32(); err != nil {
		return nil, errors.Wrap(err, "read tpk header")
	}
	if h.UncompressedSize, err = r.I32(); err != nil {
		return nil, errors.Wrap(err, "read tpk header")
	}
	if h.CompressedSize < 0 || h.UncompressedSize < 0 {
		return nil, errors.Errorf("tpk: negative payload size %d/%d", h.CompressedSize, h.UncompressedSize)
	}

	comp, err := r.Bytes(int(h.CompressedSize))
	if err != nil {
		return nil, errors.Wrap(err, "read tpk payload")
	}
	payload, err := compress.DecompressGeneral(h.Compression, comp, int(h.UncompressedSize))
	if err != nil {
		return nil, errors.Wrapf(err, "decompress tpk payload (%s)", h.Compression)
	}
	return &File{Header: h, Payload: payload}, nil
}

// Encode builds a database container around payload.
func Encode(kind compress.Kind, dt DataType, payload []byte) ([]byte, error) {
	comp, err := compress.CompressGeneral(kind, payload)
	if err != nil {
		return nil, errors.Wrap(err, "compress tpk payload")
	}
	w := binio.NewWriter(binio.LittleEndian)
	w.U32(Magic)
	w.U8(formatVersion)
	w.U8(byte(kind))
	w.U8(byte(dt))
	w.Zeros(5)
	w.I32(int32(len(comp)))
	w.I32(int32(len(payload)))
	w.Write(comp)
	return w.Data(), nil
}

// Open parses a database container holding type tree information. Data
// may be gzip wrapped.
func Open(data []byte, cache *Cache) (*Database, error) {
	if compress.IsGzip(data) {
		var err error
		if data, err = compress.Gunzip(data); err != nil {
			return nil, errors.Wrap(err, "unwrap gzip tpk")
		}
	}
	f, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if f.DataType != TypeTreeInformation {
		return nil, errors.Errorf("tpk: payload is %s, want %s", f.DataType, TypeTreeInformation)
	}
	blob, err := ReadBlob(f.Payload)
	if err != nil {
		return nil, err
	}
	return NewDatabase(blob, cache), nil
}

// Load opens the database file at path.
func Load(path string, cache *Cache) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	db, err := Open(data, cache)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return db, nil
}
