package bundle

import (
	"github.com/eichs/unityfs/internal/binio"
	"github.com/eichs/unityfs/internal/compress"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// maxExpansion bounds the preallocated data region relative to the input.
const maxExpansion = 256

func (f *File) readFS(r *binio.Reader) error {
	h := &f.Header
	var err error
	if h.Size, err = r.I64(); err != nil {
		return errors.Wrap(err, "read size")
	}
	if h.CompressedBlocksInfoSize, err = r.U32(); err != nil {
		return errors.Wrap(err, "read blocks info size")
	}
	if h.UncompressedBlocksInfoSize, err = r.U32(); err != nil {
		return errors.Wrap(err, "read blocks info size")
	}
	var flags uint32
	if flags, err = r.U32(); err != nil {
		return errors.Wrap(err, "read flags")
	}
	h.Flags = ArchiveFlags(flags)

	log := logrus.WithFields(logrus.Fields{
		"bundle":  f.Name,
		"version": h.Version,
		"engine":  h.EngineVersion,
		"size":    h.Size,
		"flags":   h.Flags,
	})
	log.Debug("bundle header")

	if h.Version >= 7 {
		r.Align(16)
		f.blockAlignment = true
	} else if probesPadding(h.EngineVersion) {
		f.blockAlignment = probePadding(r)
		log.WithField("padded", f.blockAlignment).Debug("probed header padding")
	}

	var info []byte
	if h.Flags&ArchiveBlocksInfoAtTheEnd != 0 {
		start := r.Len() - int64(h.CompressedBlocksInfoSize)
		if start < r.Pos() {
			return errors.Errorf("bundle: blocks info of %d bytes does not fit at the end", h.CompressedBlocksInfoSize)
		}
		info = r.Data()[start : start+int64(h.CompressedBlocksInfoSize)]
	} else if info, err = r.Bytes(int(h.CompressedBlocksInfoSize)); err != nil {
		return errors.Wrap(err, "read blocks info")
	}
	if h.Flags&ArchiveEncrypted != 0 {
		if info, err = f.decrypt(info, -1); err != nil {
			return err
		}
	}
	raw, err := compress.Decompress(info, int(h.UncompressedBlocksInfoSize), h.Flags.Algorithm())
	if err != nil {
		return errors.Wrap(err, "decompress blocks info")
	}
	f.cfg.Metrics.RecordBlock(compress.FromFlags(h.Flags.Algorithm()).String(), len(info), len(raw))
	if err := f.readBlocksInfo(binio.NewReader(raw, binio.BigEndian)); err != nil {
		return errors.Wrap(err, "read block info")
	}

	if h.Flags&ArchiveBlockInfoNeedPaddingAtStart != 0 {
		r.Align(16)
	}
	return f.readBlocks(r)
}

func (f *File) readBlocksInfo(r *binio.Reader) error {
	hash, err := r.Bytes(16)
	if err != nil {
		return err
	}
	copy(f.DataHash[:], hash)

	count, err := r.I32()
	if err != nil {
		return err
	}
	if count < 0 || int64(count)*10 > r.Remaining() {
		return errors.Errorf("bundle: bad block count %d", count)
	}
	f.Blocks = make([]compress.StorageBlock, count)
	for i := range f.Blocks {
		b := &f.Blocks[i]
		b.UncompressedSize, _ = r.U32()
		b.CompressedSize, _ = r.U32()
		flags, err := r.U16()
		if err != nil {
			return errors.Wrapf(err, "block %d", i)
		}
		b.Flags = compress.StorageBlockFlags(flags)
	}

	count, err = r.I32()
	if err != nil {
		return err
	}
	if count < 0 || int64(count)*21 > r.Remaining() {
		return errors.Errorf("bundle: bad node count %d", count)
	}
	f.Nodes = make([]Node, count)
	for i := range f.Nodes {
		n := &f.Nodes[i]
		n.Offset, _ = r.I64()
		n.Size, _ = r.I64()
		n.Flags, _ = r.U32()
		if n.Path, err = r.StringToNull(); err != nil {
			return errors.Wrapf(err, "node %d", i)
		}
	}
	logrus.WithFields(logrus.Fields{
		"bundle": f.Name,
		"blocks": len(f.Blocks),
		"nodes":  len(f.Nodes),
	}).Debug("bundle block table")
	return nil
}

// readBlocks decrypts and decompresses every block in turn and joins them
// into the data region.
func (f *File) readBlocks(r *binio.Reader) error {
	var total int64
	for _, b := range f.Blocks {
		total += int64(b.UncompressedSize)
	}
	f.region = make([]byte, 0, min(total, r.Len()*maxExpansion))

	for i, b := range f.Blocks {
		src, err := r.Bytes(int(b.CompressedSize))
		if err != nil {
			return errors.Wrapf(err, "read block %d", i)
		}
		if b.Flags.Encrypted() {
			if src, err = f.decrypt(src, i); err != nil {
				return err
			}
		}
		out, err := compress.Decompress(src, int(b.UncompressedSize), uint32(b.Flags))
		if err != nil {
			return errors.Wrapf(err, "decompress block %d", i)
		}
		f.cfg.Metrics.RecordBlock(b.Flags.Algorithm().String(), len(src), len(out))
		f.region = append(f.region, out...)
	}
	return nil
}

func (f *File) saveFS(p Profile, region []byte, nodes []Node) ([]byte, error) {
	infoFlags, dataFlags, err := p.flags(f)
	if err != nil {
		return nil, err
	}
	blocksData, blocks, err := compress.ChunkedCompress(region, dataFlags)
	if err != nil {
		return nil, errors.Wrap(err, "compress data")
	}
	for _, b := range blocks {
		f.cfg.Metrics.RecordBlock(b.Flags.Algorithm().String(), int(b.CompressedSize), int(b.UncompressedSize))
	}

	info := binio.NewWriter(binio.BigEndian)
	info.Write(f.DataHash[:])
	info.I32(int32(len(blocks)))
	for _, b := range blocks {
		info.U32(b.UncompressedSize)
		info.U32(b.CompressedSize)
		info.U16(uint16(b.Flags))
	}
	info.I32(int32(len(nodes)))
	for _, n := range nodes {
		info.I64(n.Offset)
		info.I64(n.Size)
		info.U32(n.Flags)
		info.StringToNull(n.Path)
	}
	infoComp, err := compress.Compress(info.Data(), infoFlags)
	if err != nil {
		return nil, errors.Wrap(err, "compress blocks info")
	}

	h := f.Header
	h.Flags &^= ArchiveCompressionMask | ArchiveBlocksInfoAtTheEnd | ArchiveEncrypted
	h.Flags |= ArchiveFlags(infoFlags)&ArchiveCompressionMask | ArchiveBlocksAndDirectoryInfoCombined
	h.CompressedBlocksInfoSize = uint32(len(infoComp))
	h.UncompressedBlocksInfoSize = uint32(len(info.Data()))

	w := binio.NewWriter(binio.BigEndian)
	writeHeader(w, &h)
	sizePos := w.Pos()
	w.I64(0)
	w.U32(h.CompressedBlocksInfoSize)
	w.U32(h.UncompressedBlocksInfoSize)
	w.U32(uint32(h.Flags))
	if f.blockAlignment {
		w.Align(16)
	}
	w.Write(infoComp)
	if h.Flags&ArchiveBlockInfoNeedPaddingAtStart != 0 {
		w.Align(16)
	}
	w.Write(blocksData)
	h.Size = w.Pos()
	w.PatchI64(sizePos, h.Size)

	f.Header = h
	f.Blocks = blocks
	return w.Data(), nil
}
