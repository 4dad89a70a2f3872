package serialized

import (
	"github.com/eichs/unityfs/internal/binio"
	"github.com/pkg/errors"
)

// Header is the fixed prelude of a serialized file. It is always big-endian;
// Endianess tells the order of everything after it (0 = little).
type Header struct {
	MetadataSize uint32
	FileSize     int64
	Version      uint32
	DataOffset   int64
	Endianess    byte
	Reserved     [3]byte
	Unknown      int64
}

func readHeader(r *binio.Reader) (Header, error) {
	var h Header
	var (
		fileSize32, dataOffset32 uint32
		err                      error
	)
	r.SetEndian(binio.BigEndian)
	if h.MetadataSize, err = r.U32(); err != nil {
		return h, err
	}
	if fileSize32, err = r.U32(); err != nil {
		return h, err
	}
	if h.Version, err = r.U32(); err != nil {
		return h, err
	}
	if dataOffset32, err = r.U32(); err != nil {
		return h, err
	}
	h.FileSize, h.DataOffset = int64(fileSize32), int64(dataOffset32)
	if h.Version == 0 || h.Version > 64 {
		return h, errors.Errorf("serialized: implausible format version %d", h.Version)
	}

	if h.Version >= FormatUnknown9 {
		if h.Endianess, err = r.U8(); err != nil {
			return h, err
		}
		b, err := r.Bytes(3)
		if err != nil {
			return h, err
		}
		copy(h.Reserved[:], b)
	} else {
		// Old files keep the endian byte in front of the metadata at the end.
		if h.FileSize < int64(h.MetadataSize) {
			return h, errors.Errorf("serialized: metadata of %d bytes in a %d byte file", h.MetadataSize, h.FileSize)
		}
		r.SetPos(h.FileSize - int64(h.MetadataSize))
		if h.Endianess, err = r.U8(); err != nil {
			return h, err
		}
	}

	if h.Version >= FormatLargeFilesSupport {
		if h.MetadataSize, err = r.U32(); err != nil {
			return h, err
		}
		if h.FileSize, err = r.I64(); err != nil {
			return h, err
		}
		if h.DataOffset, err = r.I64(); err != nil {
			return h, err
		}
		if h.Unknown, err = r.I64(); err != nil {
			return h, err
		}
	}
	return h, nil
}

func writeHeader(w *binio.Writer, h Header) {
	w.SetEndian(binio.BigEndian)
	if h.Version >= FormatLargeFilesSupport {
		w.U32(0)
		w.U32(0)
		w.U32(h.Version)
		w.U32(0)
	} else {
		w.U32(h.MetadataSize)
		w.U32(uint32(h.FileSize))
		w.U32(h.Version)
		w.U32(uint32(h.DataOffset))
	}
	if h.Version >= FormatUnknown9 {
		w.U8(h.Endianess)
		w.Write(h.Reserved[:])
	}
	if h.Version >= FormatLargeFilesSupport {
		w.U32(h.MetadataSize)
		w.I64(h.FileSize)
		w.I64(h.DataOffset)
		w.I64(h.Unknown)
	}
}

// Plausible reports whether data starts with a serialized file header that
// fits in len(data) bytes.
func Plausible(data []byte) bool {
	r := binio.NewReader(data, binio.BigEndian)
	h, err := readHeader(r)
	if err != nil {
		return false
	}
	size := int64(len(data))
	return h.FileSize == size && h.DataOffset <= size && int64(h.MetadataSize) < size
}
