package compress

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/ulikunitz/xz/lzma"
)

const (
	// lzmaPropsSize is the Unity header: 1 properties byte plus a 4 byte
	// little-endian dictionary size. The classic .lzma header adds an 8 byte
	// uncompressed size after it.
	lzmaPropsSize  = 5
	lzmaHeaderSize = 13
	lzmaDictCap    = 1 << 21
)

// decompressLZMA decodes a Unity LZMA stream. withSize reports whether the
// 8 byte uncompressed-size field follows the properties.
func decompressLZMA(src []byte, size int, withSize bool) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	skip := lzmaPropsSize
	if withSize {
		skip = lzmaHeaderSize
	}
	if len(src) < skip {
		return nil, errors.Errorf("lzma: stream too short (%d bytes)", len(src))
	}

	hdr := make([]byte, lzmaHeaderSize)
	copy(hdr, src[:lzmaPropsSize])
	binary.LittleEndian.PutUint64(hdr[lzmaPropsSize:], uint64(size))

	r, err := lzma.NewReader(io.MultiReader(bytes.NewReader(hdr), bytes.NewReader(src[skip:])))
	if err != nil {
		return nil, errors.Wrap(err, "lzma: read header")
	}
	out := make([]byte, size)
	if _, err := io.ReadFull(r, out); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, errors.Wrapf(ErrSizeMismatch, "lzma: stream ended before %d bytes", size)
		}
		return nil, errors.Wrap(err, "lzma decompress failed")
	}
	return out, nil
}

// compressLZMA encodes src as a Unity LZMA stream.
func compressLZMA(src []byte, withSize bool) ([]byte, error) {
	var buf bytes.Buffer
	cfg := lzma.WriterConfig{
		Properties:   &lzma.Properties{LC: 3, LP: 0, PB: 2},
		DictCap:      lzmaDictCap,
		Size:         int64(len(src)),
		SizeInHeader: true,
	}
	w, err := cfg.NewWriter(&buf)
	if err != nil {
		return nil, errors.Wrap(err, "lzma: new writer")
	}
	if _, err := w.Write(src); err != nil {
		return nil, errors.Wrap(err, "lzma compress failed")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "lzma: close")
	}
	out := buf.Bytes()
	if withSize {
		return out, nil
	}
	return append(out[:lzmaPropsSize:lzmaPropsSize], out[lzmaHeaderSize:]...), nil
}

// DecompressLZMAWithSize decodes a stream carrying the classic 13 byte
// header, as used by UnityWeb archives.
func DecompressLZMAWithSize(src []byte, size int) ([]byte, error) {
	return decompressLZMA(src, size, true)
}

// CompressLZMAWithSize is the inverse of DecompressLZMAWithSize.
func CompressLZMAWithSize(src []byte) ([]byte, error) {
	return compressLZMA(src, true)
}
