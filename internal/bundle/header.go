package bundle

import (
	"github.com/eichs/unityfs/internal/binio"
	"github.com/eichs/unityfs/internal/tpk"
	"github.com/pkg/errors"
)

const (
	SignatureFS  = "UnityFS"
	SignatureWeb = "UnityWeb"
	SignatureRaw = "UnityRaw"
)

// ArchiveFlags is the flags word of a UnityFS header.
type ArchiveFlags uint32

const (
	ArchiveCompressionMask                ArchiveFlags = 0x3F
	ArchiveBlocksAndDirectoryInfoCombined ArchiveFlags = 0x40
	ArchiveBlocksInfoAtTheEnd             ArchiveFlags = 0x80
	ArchiveOldWebPluginCompatibility      ArchiveFlags = 0x100
	ArchiveBlockInfoNeedPaddingAtStart    ArchiveFlags = 0x200
	ArchiveEncrypted                      ArchiveFlags = 0x400
)

// Algorithm returns the compression flags of the block info section.
func (f ArchiveFlags) Algorithm() uint32 { return uint32(f & ArchiveCompressionMask) }

// Header holds the container-level fields. Size and the blocks info sizes
// belong to UnityFS; Legacy is set for UnityWeb and UnityRaw.
type Header struct {
	Signature                  string
	Version                    uint32
	PlayerVersion              string
	EngineVersion              string
	Size                       int64
	CompressedBlocksInfoSize   uint32
	UncompressedBlocksInfoSize uint32
	Flags                      ArchiveFlags
	Legacy                     *LegacyHeader
}

// LegacyHeader is the rest of a UnityWeb or UnityRaw header.
type LegacyHeader struct {
	Hash                  [16]byte
	CRC                   uint32
	MinimumStreamedBytes  uint32
	HeaderSize            uint32
	LevelsBeforeStreaming uint32
	LevelCount            int32
	CompressedSize        uint32
	UncompressedSize      uint32
	CompleteFileSize      uint32
	FileInfoHeaderSize    uint32
}

func readHeader(r *binio.Reader) (Header, error) {
	var h Header
	var err error
	if h.Signature, err = r.StringToNull(); err != nil {
		return h, errors.Wrap(ErrUnknownSignature, err.Error())
	}
	switch h.Signature {
	case SignatureFS, SignatureWeb, SignatureRaw:
	default:
		return h, errors.Wrapf(ErrUnknownSignature, "%q", h.Signature)
	}
	if h.Version, err = r.U32(); err != nil {
		return h, err
	}
	if h.PlayerVersion, err = r.StringToNull(); err != nil {
		return h, err
	}
	if h.EngineVersion, err = r.StringToNull(); err != nil {
		return h, err
	}
	return h, nil
}

func writeHeader(w *binio.Writer, h *Header) {
	w.StringToNull(h.Signature)
	w.U32(h.Version)
	w.StringToNull(h.PlayerVersion)
	w.StringToNull(h.EngineVersion)
}

// HasSignature reports whether data starts with a bundle signature.
func HasSignature(data []byte) bool {
	for _, sig := range []string{SignatureFS, SignatureWeb, SignatureRaw} {
		if len(data) > len(sig) && string(data[:len(sig)]) == sig && data[len(sig)] == 0 {
			return true
		}
	}
	return false
}

// probesPadding reports whether a pre-7 UnityFS header may be followed by
// alignment padding. Engines from 2019.4 on write it; stripped versions are
// probed as well.
func probesPadding(engine string) bool {
	v, err := tpk.ParseVersion(engine)
	if err != nil || v.IsZero() {
		return true
	}
	return !v.Less(tpk.Version{Major: 2019, Minor: 4})
}

// probePadding consumes the bytes up to the next 16-byte boundary if they
// are all zero and reports whether it did.
func probePadding(r *binio.Reader) bool {
	start := r.Pos()
	n := (16 - start%16) % 16
	pad, err := r.Bytes(int(n))
	if err != nil {
		r.SetPos(start)
		return false
	}
	for _, b := range pad {
		if b != 0 {
			r.SetPos(start)
			return false
		}
	}
	return true
}
