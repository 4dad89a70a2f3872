package bundle

import (
	"bytes"
	"fmt"
	"sort"
	"testing"

	"github.com/eichs/unityfs/internal/binio"
	"github.com/eichs/unityfs/internal/compress"
	"github.com/eichs/unityfs/internal/object"
	"github.com/eichs/unityfs/internal/serialized"
	"github.com/eichs/unityfs/internal/typetree"
	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEngine = "2020.3.0f1"

func str(name string) *typetree.Node {
	return &typetree.Node{Type: "string", Name: name, ByteSize: -1, MetaFlag: typetree.AlignFlag, Children: []*typetree.Node{{
		Type: "Array", Name: "Array", ByteSize: -1, MetaFlag: typetree.AlignFlag, Children: []*typetree.Node{
			{Type: "int", Name: "size", ByteSize: 4},
			{Type: "char", Name: "data", ByteSize: 1},
		},
	}}}
}

func textAssetTree() *typetree.Node {
	root := &typetree.Node{Type: "TextAsset", Name: "Base", ByteSize: -1, Children: []*typetree.Node{
		str("m_Name"), str("m_Script"),
	}}
	i := int32(0)
	typetree.Walk(root, func(n *typetree.Node, depth int) bool {
		n.Level = depth
		n.Index = i
		i++
		return true
	})
	return root
}

// textAssetFile returns a serialized file holding one TextAsset at path id 1.
func textAssetFile(t *testing.T, name, script string) []byte {
	t.Helper()
	f := serialized.New("CAB-test", serialized.FormatLatest, testEngine, binio.LittleEndian, serialized.Config{})
	tree := textAssetTree()
	tid := f.AddType(serialized.SerializedType{ClassID: 49, ScriptTypeIndex: -1, Tree: tree})
	data, err := object.EncodeBytes(map[string]any{"m_Name": name, "m_Script": script}, tree, binio.LittleEndian, object.Options{})
	require.NoError(t, err)
	require.NoError(t, f.AddObject(1, tid, data))
	out, err := f.Save()
	require.NoError(t, err)
	return out
}

func fsHeader() Header {
	return Header{Signature: SignatureFS, Version: 8, PlayerVersion: "5.x.x", EngineVersion: testEngine}
}

func textAsset(t *testing.T, b *File, entry string) *serialized.ObjectReader {
	t.Helper()
	e, ok := b.Entry(entry)
	require.True(t, ok, "entry %s", entry)
	require.Equal(t, EntrySerializedFile, e.Kind())
	o, ok := e.File.Object(1)
	require.True(t, ok)
	return o
}

func TestEndToEndUnityFS(t *testing.T) {
	b := New("scene.bundle", fsHeader(), Config{})
	_, err := b.AddEntry("CAB-test", EntrySerialized, textAssetFile(t, "readme", "hello"))
	require.NoError(t, err)
	out, err := b.Save(Profile{Packer: PackerLZ4})
	require.NoError(t, err)
	assert.False(t, b.Changed())

	parsed, err := Parse("scene.bundle", out, Config{})
	require.NoError(t, err)
	assert.Equal(t, int64(len(out)), parsed.Header.Size)
	assert.NotZero(t, parsed.Header.Flags&ArchiveBlocksAndDirectoryInfoCombined)
	require.Len(t, parsed.Entries, 1)

	o := textAsset(t, parsed, "CAB-test")
	assert.Equal(t, int32(49), o.ClassID())
	want := []byte{
		6, 0, 0, 0, 'r', 'e', 'a', 'd', 'm', 'e', 0, 0,
		5, 0, 0, 0, 'h', 'e', 'l', 'l', 'o', 0, 0, 0,
	}
	assert.Equal(t, want, o.Bytes())

	fields, err := o.ReadMap()
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]any{"m_Name": "readme", "m_Script": "hello"}, fields); diff != "" {
		t.Fatalf("decoded object (-want +got):\n%s", diff)
	}

	tree, err := o.Tree()
	require.NoError(t, err)
	again, err := object.EncodeBytes(fields, tree, binio.LittleEndian, object.Options{})
	require.NoError(t, err)
	assert.Equal(t, o.Bytes(), again)
}

func TestSaveAfterEdit(t *testing.T) {
	b := New("scene.bundle", fsHeader(), Config{})
	_, err := b.AddEntry("CAB-test", EntrySerialized, textAssetFile(t, "readme", "hello"))
	require.NoError(t, err)
	out, err := b.Save(Profile{Packer: PackerLZ4})
	require.NoError(t, err)

	parsed, err := Parse("scene.bundle", out, Config{})
	require.NoError(t, err)
	require.False(t, parsed.Changed())

	o := textAsset(t, parsed, "CAB-test")
	obj, err := o.Read()
	require.NoError(t, err)
	ta, ok := obj.(*object.TextAsset)
	require.True(t, ok, "got %T", obj)
	ta.Script = "hello, world"
	require.NoError(t, o.Write(ta))
	assert.True(t, parsed.Changed())

	out, err = parsed.Save(Profile{Packer: PackerOriginal})
	require.NoError(t, err)
	assert.False(t, parsed.Changed())

	reparsed, err := Parse("scene.bundle", out, Config{})
	require.NoError(t, err)
	fields, err := textAsset(t, reparsed, "CAB-test").ReadMap()
	require.NoError(t, err)
	assert.Equal(t, "hello, world", fields["m_Script"])
	assert.Equal(t, "readme", fields["m_Name"])
}

func TestSaveProfiles(t *testing.T) {
	big := bytes.Repeat([]byte("unityfs "), 40000)
	cases := []struct {
		name     string
		profile  Profile
		info     compress.Algorithm
		data     compress.Algorithm
		minBlock int
	}{
		{"none", Profile{Packer: PackerNone}, compress.None, compress.None, 1},
		{"lz4", Profile{Packer: PackerLZ4}, compress.LZ4HC, compress.LZ4HC, 3},
		{"lzma", Profile{Packer: PackerLZMA}, compress.LZMA, compress.LZMA, 1},
		{"explicit", Profile{
			Packer:         PackerExplicit,
			BlockInfoFlags: uint32(compress.LZ4HC),
			DataFlags:      uint32(compress.LZMA),
		}, compress.LZ4HC, compress.LZMA, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := New("big.bundle", fsHeader(), Config{})
			_, err := b.AddEntry("CAB-test", EntrySerialized, textAssetFile(t, "readme", "hello"))
			require.NoError(t, err)
			_, err = b.AddEntry("big.resS", 0, big)
			require.NoError(t, err)

			out, err := b.Save(tc.profile)
			require.NoError(t, err)
			parsed, err := Parse("big.bundle", out, Config{})
			require.NoError(t, err)

			assert.Equal(t, tc.info, compress.FromFlags(parsed.Header.Flags.Algorithm()))
			require.GreaterOrEqual(t, len(parsed.Blocks), tc.minBlock)
			assert.Equal(t, tc.data, parsed.Blocks[0].Flags.Algorithm())
			assert.Equal(t, b.Region(), parsed.Region())

			e, ok := parsed.Entry("big.resS")
			require.True(t, ok)
			assert.Equal(t, EntryRaw, e.Kind())
			assert.Equal(t, big, e.Data)

			// Saving again with the original profile keeps the algorithms.
			again, err := parsed.Save(Profile{})
			require.NoError(t, err)
			reparsed, err := Parse("big.bundle", again, Config{})
			require.NoError(t, err)
			assert.Equal(t, tc.info, compress.FromFlags(reparsed.Header.Flags.Algorithm()))
			assert.Equal(t, tc.data, reparsed.Blocks[0].Flags.Algorithm())
		})
	}
}

func TestSaveUnknownPacker(t *testing.T) {
	b := New("x.bundle", fsHeader(), Config{})
	_, err := b.Save(Profile{Packer: "zstd"})
	assert.Error(t, err)
}

func TestEntriesStayInBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("saved entries are disjoint and inside the data region", prop.ForAll(
		func(blobs [][]byte) bool {
			b := New("prop.bundle", fsHeader(), Config{})
			for i, d := range blobs {
				if _, err := b.AddEntry(fmt.Sprintf("blob%d.resS", i), 0, d); err != nil {
					return false
				}
			}
			out, err := b.Save(Profile{Packer: PackerLZ4})
			if err != nil {
				return false
			}
			p, err := Parse("prop.bundle", out, Config{})
			if err != nil || len(p.Entries) != len(blobs) {
				return false
			}
			nodes := append([]Node(nil), p.Nodes...)
			sort.Slice(nodes, func(i, j int) bool { return nodes[i].Offset < nodes[j].Offset })
			end := int64(0)
			for _, n := range nodes {
				if n.Offset < end || n.Offset+n.Size > int64(len(p.Region())) {
					return false
				}
				end = n.Offset + n.Size
			}
			for i, e := range p.Entries {
				if !bytes.Equal(e.Data, blobs[i]) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.SliceOf(gen.UInt8())),
	))
	properties.TestingRun(t)
}

// rawBundle assembles a UnityFS archive by hand with a stored block info
// section and a single stored block.
type rawBundle struct {
	version    uint32
	engine     string
	pad        bool
	flags      ArchiveFlags
	blockFlags compress.StorageBlockFlags
	payload    []byte
}

func xorKey(index int) byte { return byte(0x5A + index) }

func xorDecryptor() Decryptor {
	return DecryptorFunc(func(data []byte, index int) ([]byte, error) {
		for i := range data {
			data[i] ^= xorKey(index)
		}
		return data, nil
	})
}

func (rb rawBundle) build() []byte {
	info := binio.NewWriter(binio.BigEndian)
	for i := 0; i < 16; i++ {
		info.U8(byte(i + 1))
	}
	info.I32(1)
	info.U32(uint32(len(rb.payload)))
	info.U32(uint32(len(rb.payload)))
	info.U16(uint16(rb.blockFlags))
	info.I32(1)
	info.I64(0)
	info.I64(int64(len(rb.payload)))
	info.U32(0)
	info.StringToNull("blob.resS")

	infoBytes := bytes.Clone(info.Data())
	data := bytes.Clone(rb.payload)
	if rb.flags&ArchiveEncrypted != 0 {
		for i := range infoBytes {
			infoBytes[i] ^= xorKey(-1)
		}
	}
	if rb.blockFlags.Encrypted() {
		for i := range data {
			data[i] ^= xorKey(0)
		}
	}

	w := binio.NewWriter(binio.BigEndian)
	writeHeader(w, &Header{Signature: SignatureFS, Version: rb.version, PlayerVersion: "5.x.x", EngineVersion: rb.engine})
	sizePos := w.Pos()
	w.I64(0)
	w.U32(uint32(len(infoBytes)))
	w.U32(uint32(len(infoBytes)))
	w.U32(uint32(rb.flags))
	if rb.pad {
		w.Align(16)
	}
	if rb.flags&ArchiveBlocksInfoAtTheEnd != 0 {
		w.Write(data)
		w.Write(infoBytes)
	} else {
		w.Write(infoBytes)
		w.Write(data)
	}
	w.PatchI64(sizePos, w.Pos())
	return w.Data()
}

func TestHandBuiltArchives(t *testing.T) {
	payload := []byte("streamed resource bytes")
	cases := []struct {
		name string
		rb   rawBundle
	}{
		{"pre-2019.4 unpadded", rawBundle{version: 6, engine: "2018.4.0f1"}},
		{"2019.4 padded", rawBundle{version: 6, engine: "2019.4.31f1", pad: true}},
		{"2020.1 unpadded", rawBundle{version: 6, engine: "2020.1.0f1"}},
		{"stripped engine padded", rawBundle{version: 6, engine: "0.0.0", pad: true}},
		{"version 7 aligned", rawBundle{version: 7, engine: testEngine, pad: true}},
		{"info at end", rawBundle{version: 7, engine: testEngine, pad: true, flags: ArchiveBlocksInfoAtTheEnd}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.rb.payload = payload
			b, err := Parse("hand.bundle", tc.rb.build(), Config{})
			require.NoError(t, err)
			require.Len(t, b.Entries, 1)
			assert.Equal(t, payload, b.Entries[0].Data)
			assert.Equal(t, byte(1), b.DataHash[0])
			assert.Equal(t, tc.rb.pad, b.blockAlignment)
		})
	}
}

func TestEncryptedBlocks(t *testing.T) {
	payload := []byte("secret resource bytes")
	rb := rawBundle{version: 7, engine: testEngine, pad: true, blockFlags: compress.BlockEncrypted, payload: payload}

	_, err := Parse("enc.bundle", rb.build(), Config{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEncrypted), "got %v", err)

	b, err := Parse("enc.bundle", rb.build(), Config{Decryptor: xorDecryptor()})
	require.NoError(t, err)
	assert.Equal(t, payload, b.Entries[0].Data)

	// Saved archives are written in the clear.
	out, err := b.Save(Profile{Packer: PackerNone})
	require.NoError(t, err)
	plain, err := Parse("enc.bundle", out, Config{})
	require.NoError(t, err)
	assert.Equal(t, payload, plain.Entries[0].Data)
	assert.False(t, plain.Blocks[0].Flags.Encrypted())
}

func TestEncryptedBlockInfo(t *testing.T) {
	payload := []byte("resource behind an encrypted table")
	rb := rawBundle{version: 7, engine: testEngine, pad: true, flags: ArchiveEncrypted, payload: payload}

	_, err := Parse("enc.bundle", rb.build(), Config{})
	assert.True(t, errors.Is(err, ErrEncrypted), "got %v", err)

	b, err := Parse("enc.bundle", rb.build(), Config{Decryptor: xorDecryptor()})
	require.NoError(t, err)
	assert.Equal(t, payload, b.Entries[0].Data)

	out, err := b.Save(Profile{Packer: PackerNone})
	require.NoError(t, err)
	plain, err := Parse("enc.bundle", out, Config{})
	require.NoError(t, err)
	assert.Zero(t, plain.Header.Flags&ArchiveEncrypted)
}

func TestLegacyRoundTrip(t *testing.T) {
	big := bytes.Repeat([]byte("legacy "), 20000)
	for _, sig := range []string{SignatureWeb, SignatureRaw} {
		t.Run(sig, func(t *testing.T) {
			b := New("old.unity3d", Header{Signature: sig, Version: 3, PlayerVersion: "3.x.x", EngineVersion: "3.5.7f6"}, Config{})
			_, err := b.AddEntry("CAB-legacy", 0, textAssetFile(t, "readme", "hello"))
			require.NoError(t, err)
			_, err = b.AddEntry("big.resource", 0, big)
			require.NoError(t, err)

			out, err := b.Save(Profile{Packer: PackerOriginal})
			require.NoError(t, err)
			parsed, err := Parse("old.unity3d", out, Config{})
			require.NoError(t, err)

			assert.Equal(t, sig, parsed.Header.Signature)
			l := parsed.Header.Legacy
			require.NotNil(t, l)
			assert.Equal(t, int32(1), l.LevelCount)
			assert.Equal(t, uint32(len(out)), l.CompleteFileSize)
			if sig == SignatureWeb {
				assert.Less(t, l.CompressedSize, l.UncompressedSize)
			} else {
				assert.Equal(t, l.CompressedSize, l.UncompressedSize)
			}

			fields, err := textAsset(t, parsed, "CAB-legacy").ReadMap()
			require.NoError(t, err)
			assert.Equal(t, "hello", fields["m_Script"])
			e, ok := parsed.Entry("big.resource")
			require.True(t, ok)
			assert.Equal(t, big, e.Data)
		})
	}
}

func TestLegacySwitchContainer(t *testing.T) {
	b := New("old.unity3d", Header{Signature: SignatureRaw, Version: 3, PlayerVersion: "3.x.x", EngineVersion: "3.5.7f6"}, Config{})
	_, err := b.AddEntry("blob.resource", 0, []byte("payload"))
	require.NoError(t, err)

	out, err := b.Save(Profile{Packer: PackerLZMA})
	require.NoError(t, err)
	parsed, err := Parse("old.unity3d", out, Config{})
	require.NoError(t, err)
	assert.Equal(t, SignatureWeb, parsed.Header.Signature)

	_, err = parsed.Save(Profile{Packer: PackerLZ4})
	assert.True(t, errors.Is(err, ErrUnsupportedSave), "got %v", err)
}

func TestLegacySaveVersionLimit(t *testing.T) {
	b := New("new.unity3d", Header{Signature: SignatureWeb, Version: 4, PlayerVersion: "3.x.x", EngineVersion: "4.7.2f1"}, Config{})
	_, err := b.AddEntry("blob.resource", 0, []byte("payload"))
	require.NoError(t, err)
	_, err = b.Save(Profile{})
	assert.True(t, errors.Is(err, ErrUnsupportedSave), "got %v", err)
}

func TestUnknownSignature(t *testing.T) {
	_, err := Parse("junk", []byte("UnityArchive\x00\x00\x00\x00\x01"), Config{})
	assert.True(t, errors.Is(err, ErrUnknownSignature), "got %v", err)
	assert.False(t, HasSignature([]byte("UnityFS")))
	assert.True(t, HasSignature([]byte("UnityFS\x00")))
}

func TestNestedBundle(t *testing.T) {
	inner := New("inner", fsHeader(), Config{})
	_, err := inner.AddEntry("CAB-inner", EntrySerialized, textAssetFile(t, "inner", "nested"))
	require.NoError(t, err)
	innerData, err := inner.Save(Profile{Packer: PackerLZ4})
	require.NoError(t, err)

	reg := serialized.NewRegistry()
	outer := New("outer", fsHeader(), Config{Registry: reg})
	_, err = outer.AddEntry("CAB-outer", EntrySerialized, textAssetFile(t, "outer", "top"))
	require.NoError(t, err)
	_, err = outer.AddEntry("inner.bundle", 0, innerData)
	require.NoError(t, err)
	_, err = outer.AddEntry("outer.resS", 0, []byte("texture bytes"))
	require.NoError(t, err)
	out, err := outer.Save(Profile{Packer: PackerLZMA})
	require.NoError(t, err)

	parsed, err := Parse("outer", out, Config{Registry: reg})
	require.NoError(t, err)
	e, ok := parsed.Entry("inner.bundle")
	require.True(t, ok)
	require.Equal(t, EntryBundle, e.Kind())
	assert.Len(t, parsed.Files(), 2)

	_, ok = reg.File("CAB-inner")
	assert.True(t, ok)
	res, ok := reg.Resource("outer.resS")
	require.True(t, ok)
	buf := make([]byte, 7)
	_, err = res.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "texture", string(buf))

	o := textAsset(t, e.Bundle, "CAB-inner")
	fields, err := o.ReadMap()
	require.NoError(t, err)
	fields["m_Script"] = "edited"
	require.NoError(t, o.WriteMap(fields))
	assert.True(t, e.Bundle.Changed())
	assert.True(t, parsed.Changed())

	out, err = parsed.Save(Profile{})
	require.NoError(t, err)
	reparsed, err := Parse("outer", out, Config{})
	require.NoError(t, err)
	e, ok = reparsed.Entry("inner.bundle")
	require.True(t, ok)
	fields, err = textAsset(t, e.Bundle, "CAB-inner").ReadMap()
	require.NoError(t, err)
	assert.Equal(t, "edited", fields["m_Script"])
}

func TestDuplicateEntry(t *testing.T) {
	b := New("dup", fsHeader(), Config{})
	_, err := b.AddEntry("a.resS", 0, []byte{1})
	require.NoError(t, err)
	_, err = b.AddEntry("a.resS", 0, []byte{2})
	assert.Error(t, err)
}

func TestNodeOutOfRange(t *testing.T) {
	b := &File{Name: "bad", region: make([]byte, 8), Nodes: []Node{{Offset: 4, Size: 8, Path: "x"}}}
	assert.Error(t, b.readEntries())
}
