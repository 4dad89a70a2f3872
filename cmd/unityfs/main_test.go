package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eichs/unityfs/internal/binio"
	"github.com/eichs/unityfs/internal/bundle"
	"github.com/eichs/unityfs/internal/compress"
	"github.com/eichs/unityfs/internal/metrics"
	"github.com/eichs/unityfs/internal/object"
	"github.com/eichs/unityfs/internal/serialized"
	"github.com/eichs/unityfs/internal/typetree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func textAssetTree() *typetree.Node {
	str := func(name string) *typetree.Node {
		return &typetree.Node{Type: "string", Name: name, ByteSize: -1, MetaFlag: typetree.AlignFlag, Children: []*typetree.Node{{
			Type: "Array", Name: "Array", ByteSize: -1, MetaFlag: typetree.AlignFlag, Children: []*typetree.Node{
				{Type: "int", Name: "size", ByteSize: 4},
				{Type: "char", Name: "data", ByteSize: 1},
			},
		}}}
	}
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

// writeBundle writes a bundle holding one TextAsset and returns its path.
func writeBundle(t *testing.T) string {
	t.Helper()
	f := serialized.New("CAB-test", serialized.FormatLatest, "2020.3.0f1", binio.LittleEndian, serialized.Config{})
	tree := textAssetTree()
	tid := f.AddType(serialized.SerializedType{ClassID: classTextAsset, ScriptTypeIndex: -1, Tree: tree})
	data, err := object.EncodeBytes(map[string]any{"m_Name": "readme", "m_Script": "hello there"}, tree, binio.LittleEndian, object.Options{})
	require.NoError(t, err)
	require.NoError(t, f.AddObject(7, tid, data))
	cab, err := f.Save()
	require.NoError(t, err)

	b := bundle.New("scene.bundle", bundle.Header{
		Signature: bundle.SignatureFS, Version: 8, PlayerVersion: "5.x.x", EngineVersion: "2020.3.0f1",
	}, bundle.Config{})
	_, err = b.AddEntry("CAB-test", bundle.EntrySerialized, cab)
	require.NoError(t, err)
	_, err = b.AddEntry("CAB-test.resS", 0, []byte("raw texture bytes"))
	require.NoError(t, err)
	out, err := b.Save(bundle.Profile{Packer: bundle.PackerLZ4})
	require.NoError(t, err)

	p := filepath.Join(t.TempDir(), "scene.bundle")
	require.NoError(t, os.WriteFile(p, out, 0o644))
	return p
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	app := newApp()
	app.Writer = &buf
	app.ErrWriter = &buf
	err := app.Run(append([]string{"unityfs"}, args...))
	return buf.String(), err
}

func TestGetGlobalFlags(t *testing.T) {
	require.Equal(t, 6, len(getGlobalFlags()))
}

func TestLs(t *testing.T) {
	p := writeBundle(t)
	out, err := run(t, "ls", "--objects", p)
	require.NoError(t, err)
	assert.Contains(t, out, "scene.bundle")
	assert.Contains(t, out, "CAB-test.resS")
	assert.Contains(t, out, "UnityFS v8")
	assert.Contains(t, out, "TextAsset")
	assert.Contains(t, out, "readme")
}

func TestDumpJSON(t *testing.T) {
	p := writeBundle(t)
	out, err := run(t, "dump", "--path-id", "7", p)
	require.NoError(t, err)

	var rec dumpRecord
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "CAB-test", rec.File)
	assert.Equal(t, int64(7), rec.PathID)
	assert.Equal(t, "TextAsset", rec.Class)
	assert.Equal(t, "hello there", rec.Fields["m_Script"])
}

func TestDumpMsgpack(t *testing.T) {
	p := writeBundle(t)
	out, err := run(t, "dump", "--format", "msgpack", p)
	require.NoError(t, err)

	var rec dumpRecord
	require.NoError(t, msgpack.NewDecoder(strings.NewReader(out)).Decode(&rec))
	assert.Equal(t, "readme", rec.Fields["m_Name"])
}

func TestDumpUnknownFormat(t *testing.T) {
	_, err := run(t, "dump", "--format", "xml", writeBundle(t))
	assert.Error(t, err)
}

func TestExtract(t *testing.T) {
	p := writeBundle(t)
	dir := t.TempDir()
	out, err := run(t, "extract", "--out", dir, "--entries", p)
	require.NoError(t, err)
	assert.Contains(t, out, "3 files")

	data, err := os.ReadFile(filepath.Join(dir, "CAB-test", "7_readme.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello there", string(data))

	data, err = os.ReadFile(filepath.Join(dir, "scene.bundle", "CAB-test.resS"))
	require.NoError(t, err)
	assert.Equal(t, "raw texture bytes", string(data))
}

func TestRepack(t *testing.T) {
	p := writeBundle(t)
	dst := filepath.Join(t.TempDir(), "repacked.bundle")
	_, err := run(t, "repack", "--packer", "lzma", "--out", dst, p)
	require.NoError(t, err)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	b, err := bundle.Parse("repacked.bundle", data, bundle.Config{})
	require.NoError(t, err)
	assert.Equal(t, compress.LZMA, b.Blocks[0].Flags.Algorithm())
	assert.Len(t, b.Entries, 2)
}

func TestRepackNeedsOneInput(t *testing.T) {
	_, err := run(t, "repack", "--out", filepath.Join(t.TempDir(), "x"))
	assert.Error(t, err)
}

func TestConfigErrors(t *testing.T) {
	_, err := run(t, "--log-level", "loud", "ls", writeBundle(t))
	assert.Error(t, err)

	_, err = run(t, "--tpk", filepath.Join(t.TempDir(), "missing.tpk"), "ls", writeBundle(t))
	assert.Error(t, err)
}

func TestWriteMetrics(t *testing.T) {
	reg := metrics.NewRegistry()
	reg.RecordBlock("lz4", 10, 30)
	reg.RecordBundle("UnityFS", "parse")

	var buf bytes.Buffer
	require.NoError(t, writeMetrics(&buf, reg))
	assert.Contains(t, buf.String(), "unityfs_blocks_decompressed_total{algorithm=lz4} 1")
	assert.Contains(t, buf.String(), "unityfs_bundles_total{operation=parse,signature=UnityFS} 1")

	_, err := run(t, "--metrics", "ls", writeBundle(t))
	require.NoError(t, err)
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "unnamed", sanitizeFileName(""))
	assert.Equal(t, "a_b_c", sanitizeFileName("a/b:c"))
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".txt", extensionFor([]byte("plain words")))
	assert.Equal(t, ".png", extensionFor([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")))
}
