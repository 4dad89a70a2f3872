package compress

import "github.com/pkg/errors"

// ChunkSize is the uncompressed size of each LZ4 block written to a bundle.
const ChunkSize = 128 << 10

// StorageBlockFlags is the per-block flags word of a bundle block table.
type StorageBlockFlags uint16

const (
	BlockStreamed  StorageBlockFlags = 0x40
	BlockEncrypted StorageBlockFlags = 0x100
)

func (f StorageBlockFlags) Algorithm() Algorithm { return FromFlags(uint32(f)) }
func (f StorageBlockFlags) Encrypted() bool      { return f&BlockEncrypted != 0 }

// StorageBlock is one independently compressed chunk of a bundle's data
// region.
type StorageBlock struct {
	UncompressedSize uint32
	CompressedSize   uint32
	Flags            StorageBlockFlags
}

// ChunkedCompress splits src into blocks and compresses each one. LZMA and
// stored data form a single block; the LZ4 family uses ChunkSize chunks.
// A chunk that does not shrink is stored raw with its algorithm bits cleared.
func ChunkedCompress(src []byte, flags uint32) ([]byte, []StorageBlock, error) {
	algo := FromFlags(flags)
	chunk := len(src)
	switch algo {
	case None, LZMA:
	case LZ4, LZ4HC, LZ4AK:
		chunk = ChunkSize
	default:
		return nil, nil, errors.Wrapf(ErrUnknownAlgorithm, "id %d", uint32(algo))
	}

	if chunk == 0 {
		return []byte{}, []StorageBlock{{Flags: 0}}, nil
	}

	n := (len(src) + chunk - 1) / chunk
	blocks := make([]StorageBlock, 0, n)
	out := make([]byte, 0, len(src))
	for bi := 0; bi < n; bi++ {
		start := bi * chunk
		end := min(start+chunk, len(src))
		uncomp := src[start:end]

		blkFlags := StorageBlockFlags(algo)
		toWrite := uncomp
		if algo != None {
			comp, err := Compress(uncomp, uint32(algo))
			if err != nil {
				return nil, nil, errors.Wrapf(err, "compress block %d", bi)
			}
			if len(comp) < len(uncomp) {
				toWrite = comp
			} else {
				blkFlags = 0
			}
		}
		out = append(out, toWrite...)
		blocks = append(blocks, StorageBlock{
			UncompressedSize: uint32(len(uncomp)),
			CompressedSize:   uint32(len(toWrite)),
			Flags:            blkFlags,
		})
	}
	return out, blocks, nil
}
