package bundle

import (
	"github.com/eichs/unityfs/internal/binio"
	"github.com/eichs/unityfs/internal/compress"
	"github.com/pkg/errors"
)

// maxLegacySaveVersion is the newest UnityWeb/UnityRaw format Save writes.
const maxLegacySaveVersion = 3

func (f *File) readLegacy(r *binio.Reader) error {
	h := &f.Header
	l := &LegacyHeader{}
	h.Legacy = l
	var err error
	if h.Version >= 4 {
		hash, err := r.Bytes(16)
		if err != nil {
			return errors.Wrap(err, "read hash")
		}
		copy(l.Hash[:], hash)
		if l.CRC, err = r.U32(); err != nil {
			return errors.Wrap(err, "read crc")
		}
	}
	if l.MinimumStreamedBytes, err = r.U32(); err != nil {
		return err
	}
	if l.HeaderSize, err = r.U32(); err != nil {
		return err
	}
	if l.LevelsBeforeStreaming, err = r.U32(); err != nil {
		return err
	}
	if l.LevelCount, err = r.I32(); err != nil {
		return err
	}
	if l.LevelCount < 1 || int64(l.LevelCount)*8 > r.Remaining() {
		return errors.Errorf("bundle: bad level count %d", l.LevelCount)
	}
	// Only the last level's sizes describe the whole payload.
	r.SetPos(r.Pos() + 8*int64(l.LevelCount-1))
	if l.CompressedSize, err = r.U32(); err != nil {
		return err
	}
	if l.UncompressedSize, err = r.U32(); err != nil {
		return err
	}
	if h.Version >= 2 {
		if l.CompleteFileSize, err = r.U32(); err != nil {
			return err
		}
	}
	if h.Version >= 3 {
		if l.FileInfoHeaderSize, err = r.U32(); err != nil {
			return err
		}
	}

	r.SetPos(int64(l.HeaderSize))
	payload, err := r.Bytes(int(l.CompressedSize))
	if err != nil {
		return errors.Wrap(err, "read payload")
	}
	if h.Signature == SignatureWeb {
		f.region, err = compress.DecompressLZMAWithSize(payload, int(l.UncompressedSize))
		if err != nil {
			return errors.Wrap(err, "decompress payload")
		}
		f.cfg.Metrics.RecordBlock(compress.LZMA.String(), len(payload), len(f.region))
	} else {
		f.region = payload
	}

	dir := binio.NewReader(f.region, binio.BigEndian)
	count, err := dir.I32()
	if err != nil {
		return errors.Wrap(err, "read directory")
	}
	if count < 0 || int64(count)*9 > dir.Remaining() {
		return errors.Errorf("bundle: bad node count %d", count)
	}
	f.Nodes = make([]Node, count)
	for i := range f.Nodes {
		n := &f.Nodes[i]
		if n.Path, err = dir.StringToNull(); err != nil {
			return errors.Wrapf(err, "node %d", i)
		}
		off, _ := dir.U32()
		size, err := dir.U32()
		if err != nil {
			return errors.Wrapf(err, "node %d", i)
		}
		n.Offset, n.Size = int64(off), int64(size)
	}
	return nil
}

// legacySignature picks the container for a profile: LZMA means UnityWeb,
// no compression UnityRaw.
func (f *File) legacySignature(p Profile) (string, error) {
	switch p.Packer {
	case PackerOriginal, "":
		return f.Header.Signature, nil
	case PackerNone:
		return SignatureRaw, nil
	case PackerLZMA:
		return SignatureWeb, nil
	case PackerExplicit:
		switch compress.FromFlags(p.DataFlags) {
		case compress.None:
			return SignatureRaw, nil
		case compress.LZMA:
			return SignatureWeb, nil
		}
	}
	return "", errors.Wrapf(ErrUnsupportedSave, "%s cannot hold %s data", f.Header.Signature, p.Packer)
}

func (f *File) saveLegacy(p Profile, region []byte, nodes []Node) ([]byte, error) {
	h := f.Header
	if h.Version > maxLegacySaveVersion {
		return nil, errors.Wrapf(ErrUnsupportedSave, "%s format version %d", h.Signature, h.Version)
	}
	sig, err := f.legacySignature(p)
	if err != nil {
		return nil, err
	}
	h.Signature = sig

	dirSize := int64(4)
	for _, n := range nodes {
		dirSize += int64(len(n.Path)) + 1 + 8
	}
	dir := binio.NewWriter(binio.BigEndian)
	dir.I32(int32(len(nodes)))
	for _, n := range nodes {
		dir.StringToNull(n.Path)
		dir.U32(uint32(n.Offset + dirSize))
		dir.U32(uint32(n.Size))
	}
	dir.Write(region)
	full := dir.Data()

	payload := full
	if sig == SignatureWeb {
		if payload, err = compress.CompressLZMAWithSize(full); err != nil {
			return nil, errors.Wrap(err, "compress payload")
		}
	}

	l := LegacyHeader{}
	if h.Legacy != nil {
		l = *h.Legacy
	}
	l.LevelCount = 1
	l.LevelsBeforeStreaming = 1
	l.CompressedSize = uint32(len(payload))
	l.UncompressedSize = uint32(len(full))
	l.FileInfoHeaderSize = uint32(dirSize)

	hw := binio.NewWriter(binio.BigEndian)
	writeHeader(hw, &h)
	fields := 4 * 6
	if h.Version >= 2 {
		fields += 4
	}
	if h.Version >= 3 {
		fields += 4
	}
	l.HeaderSize = uint32((hw.Pos() + int64(fields) + 3) &^ 3)
	l.CompleteFileSize = l.HeaderSize + l.CompressedSize
	l.MinimumStreamedBytes = l.CompleteFileSize

	hw.U32(l.MinimumStreamedBytes)
	hw.U32(l.HeaderSize)
	hw.U32(l.LevelsBeforeStreaming)
	hw.I32(l.LevelCount)
	hw.U32(l.CompressedSize)
	hw.U32(l.UncompressedSize)
	if h.Version >= 2 {
		hw.U32(l.CompleteFileSize)
	}
	if h.Version >= 3 {
		hw.U32(l.FileInfoHeaderSize)
	}
	hw.Zeros(int(int64(l.HeaderSize) - hw.Pos()))
	hw.Write(payload)

	h.Legacy = &l
	f.Header = h
	return hw.Data(), nil
}
