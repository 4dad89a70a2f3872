package compress

import (
	"bytes"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// Kind is the compression id of a schema database payload. It is a separate
// id space from bundle block algorithms.
type Kind byte

const (
	KindNone Kind = iota
	KindLZ4
	KindLZMA
	KindBrotli
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindLZ4:
		return "lz4"
	case KindLZMA:
		return "lzma"
	case KindBrotli:
		return "brotli"
	}
	return "unknown"
}

// DecompressGeneral expands a whole-payload stream of the given kind.
func DecompressGeneral(kind Kind, src []byte, size int) ([]byte, error) {
	switch kind {
	case KindNone:
		if len(src) != size {
			return nil, errors.Wrapf(ErrSizeMismatch, "stored payload: got %d, expected %d", len(src), size)
		}
		return src, nil
	case KindLZ4:
		return uncompressLZ4(src, size)
	case KindLZMA:
		return decompressLZMA(src, size, true)
	case KindBrotli:
		out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(src)))
		if err != nil {
			return nil, errors.Wrap(err, "brotli decompress failed")
		}
		if len(out) != size {
			return nil, errors.Wrapf(ErrSizeMismatch, "brotli: got %d, expected %d", len(out), size)
		}
		return out, nil
	default:
		return nil, errors.Wrapf(ErrUnknownAlgorithm, "payload kind %d", byte(kind))
	}
}

// CompressGeneral is the inverse of DecompressGeneral.
func CompressGeneral(kind Kind, src []byte) ([]byte, error) {
	switch kind {
	case KindNone:
		return append([]byte(nil), src...), nil
	case KindLZ4:
		return compressLZ4(src, true)
	case KindLZMA:
		return compressLZMA(src, true)
	case KindBrotli:
		var buf bytes.Buffer
		w := brotli.NewWriterLevel(&buf, brotli.BestCompression)
		if _, err := w.Write(src); err != nil {
			return nil, errors.Wrap(err, "brotli compress failed")
		}
		if err := w.Close(); err != nil {
			return nil, errors.Wrap(err, "brotli: close")
		}
		return buf.Bytes(), nil
	default:
		return nil, errors.Wrapf(ErrUnknownAlgorithm, "payload kind %d", byte(kind))
	}
}

// IsGzip reports whether b starts with the gzip magic.
func IsGzip(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b
}

// Gunzip expands a whole gzip file.
func Gunzip(src []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, errors.Wrap(err, "gzip: read header")
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Wrap(err, "gzip decompress failed")
	}
	return out, nil
}

// Gzip compresses a whole file.
func Gzip(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(src); err != nil {
		return nil, errors.Wrap(err, "gzip compress failed")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "gzip: close")
	}
	return buf.Bytes(), nil
}
