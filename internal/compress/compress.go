// Package compress implements the block codecs used by bundle archives and
// the general-purpose codecs used by schema database files.
package compress

import (
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// Algorithm is the compression id carried in the low 6 bits of a bundle
// block or archive flags word.
type Algorithm uint32

const (
	None Algorithm = iota
	LZMA
	LZ4
	LZ4HC
	LZ4AK
)

// AlgorithmMask selects the algorithm bits of a flags word.
const AlgorithmMask = 0x3F

// hcDepth is the LZ4 high-compression search depth used for repacking.
const hcDepth = 12

var (
	ErrUnknownAlgorithm = errors.New("compress: unknown algorithm")
	ErrSizeMismatch     = errors.New("compress: decompressed size mismatch")
)

// FromFlags extracts the algorithm from a flags word.
func FromFlags(flags uint32) Algorithm { return Algorithm(flags & AlgorithmMask) }

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case LZMA:
		return "lzma"
	case LZ4:
		return "lz4"
	case LZ4HC:
		return "lz4hc"
	case LZ4AK:
		return "lz4ak"
	}
	return "unknown"
}

// Decompress expands src, which must decode to exactly size bytes.
func Decompress(src []byte, size int, flags uint32) ([]byte, error) {
	switch a := FromFlags(flags); a {
	case None:
		if len(src) != size {
			return nil, errors.Wrapf(ErrSizeMismatch, "stored block: got %d, expected %d", len(src), size)
		}
		return src, nil
	case LZMA:
		return decompressLZMA(src, size, false)
	case LZ4, LZ4HC:
		return uncompressLZ4(src, size)
	case LZ4AK:
		fixed, err := FromLZ4AK(src, size)
		if err != nil {
			return nil, err
		}
		return uncompressLZ4(fixed, size)
	default:
		return nil, errors.Wrapf(ErrUnknownAlgorithm, "id %d", uint32(a))
	}
}

// Compress encodes src with the algorithm selected by flags. The output is
// always decodable by Decompress, even when it is not smaller than src.
func Compress(src []byte, flags uint32) ([]byte, error) {
	switch a := FromFlags(flags); a {
	case None:
		return append([]byte(nil), src...), nil
	case LZMA:
		return compressLZMA(src, false)
	case LZ4:
		return compressLZ4(src, false)
	case LZ4HC:
		return compressLZ4(src, true)
	case LZ4AK:
		std, err := compressLZ4(src, false)
		if err != nil {
			return nil, err
		}
		return ToLZ4AK(std)
	default:
		return nil, errors.Wrapf(ErrUnknownAlgorithm, "id %d", uint32(a))
	}
}

func uncompressLZ4(src []byte, size int) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, errors.Wrap(err, "lz4 decompress failed")
	}
	if n != size {
		return nil, errors.Wrapf(ErrSizeMismatch, "lz4: got %d, expected %d", n, size)
	}
	return dst, nil
}

func compressLZ4(src []byte, hc bool) ([]byte, error) {
	if len(src) == 0 {
		return literalBlock(src), nil
	}
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	var (
		n   int
		err error
	)
	if hc {
		n, err = lz4.CompressBlockHC(src, dst, hcDepth, nil, nil)
	} else {
		n, err = lz4.CompressBlock(src, dst, nil)
	}
	if err != nil {
		return nil, errors.Wrap(err, "lz4 compress failed")
	}
	if n == 0 {
		// lz4 reports incompressible input with n == 0
		return literalBlock(src), nil
	}
	return dst[:n], nil
}

// literalBlock encodes src as a single literal-only LZ4 sequence.
func literalBlock(src []byte) []byte {
	out := make([]byte, 0, len(src)+len(src)/255+2)
	n := len(src)
	if n < 0xF {
		out = append(out, byte(n<<4))
	} else {
		out = append(out, 0xF0)
		for rest := n - 0xF; ; rest -= 0xFF {
			if rest < 0xFF {
				out = append(out, byte(rest))
				break
			}
			out = append(out, 0xFF)
		}
	}
	return append(out, src...)
}
