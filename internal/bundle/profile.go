package bundle

import (
	"github.com/eichs/unityfs/internal/compress"
	"github.com/pkg/errors"
)

// Packer names a compression profile.
type Packer string

const (
	PackerNone     Packer = "none"
	PackerOriginal Packer = "original"
	PackerLZ4      Packer = "lz4"
	PackerLZMA     Packer = "lzma"
	PackerExplicit Packer = "explicit"
)

// Profile selects the compression of a saved bundle: the algorithm of the
// block info section and of the data blocks.
type Profile struct {
	Packer         Packer
	BlockInfoFlags uint32
	DataFlags      uint32
}

// flags resolves the profile against the bundle being saved.
func (p Profile) flags(f *File) (info, data uint32, err error) {
	switch p.Packer {
	case PackerNone:
		return uint32(compress.None), uint32(compress.None), nil
	case PackerLZ4:
		return uint32(compress.LZ4HC), uint32(compress.LZ4HC), nil
	case PackerLZMA:
		return uint32(compress.LZMA), uint32(compress.LZMA), nil
	case PackerExplicit:
		return p.BlockInfoFlags & compress.AlgorithmMask, p.DataFlags & compress.AlgorithmMask, nil
	case PackerOriginal, "":
		info = f.Header.Flags.Algorithm()
		if len(f.Blocks) > 0 {
			data = uint32(f.Blocks[0].Flags.Algorithm())
		}
		return info, data, nil
	}
	return 0, 0, errors.Errorf("bundle: unknown packer %q", p.Packer)
}
