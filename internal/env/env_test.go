package env

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/eichs/unityfs/internal/binio"
	"github.com/eichs/unityfs/internal/bundle"
	"github.com/eichs/unityfs/internal/compress"
	"github.com/eichs/unityfs/internal/object"
	"github.com/eichs/unityfs/internal/serialized"
	"github.com/eichs/unityfs/internal/typetree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEngine = "2021.3.5f1"

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

func textAssetFile(t *testing.T, name, script string, externals ...string) []byte {
	t.Helper()
	f := serialized.New(name, serialized.FormatLatest, testEngine, binio.LittleEndian, serialized.Config{})
	for _, ext := range externals {
		f.Externals = append(f.Externals, serialized.FileIdentifier{PathName: ext})
	}
	tree := textAssetTree()
	tid := f.AddType(serialized.SerializedType{ClassID: 49, ScriptTypeIndex: -1, Tree: tree})
	data, err := object.EncodeBytes(map[string]any{"m_Name": name, "m_Script": script}, tree, binio.LittleEndian, object.Options{})
	require.NoError(t, err)
	require.NoError(t, f.AddObject(1, tid, data))
	out, err := f.Save()
	require.NoError(t, err)
	return out
}

func bundleWith(t *testing.T, entry string, data []byte) []byte {
	t.Helper()
	b := bundle.New("scene.bundle", bundle.Header{
		Signature: bundle.SignatureFS, Version: 8, PlayerVersion: "5.x.x", EngineVersion: testEngine,
	}, bundle.Config{})
	_, err := b.AddEntry(entry, bundle.EntrySerialized, data)
	require.NoError(t, err)
	out, err := b.Save(bundle.Profile{Packer: bundle.PackerLZ4})
	require.NoError(t, err)
	return out
}

func writeFixtures(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	gz, err := compress.Gzip(textAssetFile(t, "CAB-c", "zipped"))
	require.NoError(t, err)
	files := map[string][]byte{
		"scene.bundle": bundleWith(t, "CAB-b", textAssetFile(t, "CAB-b", "in bundle")),
		"CAB-a":        textAssetFile(t, "CAB-a", "standalone", "archive:/CAB-b/CAB-b"),
		"sub/tex.resS": []byte("texture payload"),
		"sub/CAB-c.gz": gz,
	}
	for name, data := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, data, 0o644))
	}
	return dir
}

func TestLoadPaths(t *testing.T) {
	dir := writeFixtures(t)
	e := New(bundle.Config{})
	assets, err := e.LoadPaths(context.Background(), []string{dir})
	require.NoError(t, err)
	require.Len(t, assets, 4)

	kinds := map[string]Kind{}
	for _, a := range e.Assets() {
		rel, err := filepath.Rel(dir, a.Path)
		require.NoError(t, err)
		kinds[filepath.ToSlash(rel)] = a.Kind
	}
	assert.Equal(t, map[string]Kind{
		"scene.bundle": KindBundle,
		"CAB-a":        KindSerialized,
		"sub/tex.resS": KindRaw,
		"sub/CAB-c":    KindSerialized,
	}, kinds)

	assert.Len(t, e.Files(), 3)
	assert.Len(t, e.Objects(), 3)

	res, ok := e.Registry().Resource("tex.resS")
	require.True(t, ok)
	buf := make([]byte, 7)
	_, err = res.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "texture", string(buf))
}

func TestCrossFileResolve(t *testing.T) {
	dir := writeFixtures(t)
	e := New(bundle.Config{})
	_, err := e.LoadPaths(context.Background(), []string{dir})
	require.NoError(t, err)

	a, ok := e.Registry().File("CAB-a")
	require.True(t, ok)
	o, ok := a.Resolve(object.PPtr{FileID: 1, PathID: 1})
	require.True(t, ok)
	assert.Equal(t, "CAB-b", o.File().Name)
	fields, err := o.ReadMap()
	require.NoError(t, err)
	assert.Equal(t, "in bundle", fields["m_Script"])

	_, err = a.ResolveStrict(object.PPtr{FileID: 2, PathID: 1})
	assert.ErrorIs(t, err, serialized.ErrUnresolved)
}

func TestAssetSave(t *testing.T) {
	dir := writeFixtures(t)
	e := New(bundle.Config{})
	a, err := e.LoadFile(filepath.Join(dir, "scene.bundle"))
	require.NoError(t, err)
	require.Equal(t, KindBundle, a.Kind)
	assert.False(t, a.Changed())

	o, ok := a.Files()[0].Object(1)
	require.True(t, ok)
	fields, err := o.ReadMap()
	require.NoError(t, err)
	fields["m_Script"] = "rewritten"
	require.NoError(t, o.WriteMap(fields))
	assert.True(t, a.Changed())

	out, err := a.Save(bundle.Profile{Packer: bundle.PackerLZMA})
	require.NoError(t, err)
	assert.False(t, a.Changed())

	fresh := New(bundle.Config{})
	b, err := fresh.Load("scene.bundle", out)
	require.NoError(t, err)
	o, ok = b.Files()[0].Object(1)
	require.True(t, ok)
	fields, err = o.ReadMap()
	require.NoError(t, err)
	assert.Equal(t, "rewritten", fields["m_Script"])

	raw, err := fresh.Load("blob.bin", []byte("plain"))
	require.NoError(t, err)
	same, err := raw.Save(bundle.Profile{})
	require.NoError(t, err)
	assert.Equal(t, []byte("plain"), same)
}

func TestLoadFilesMissing(t *testing.T) {
	e := New(bundle.Config{})
	_, err := e.LoadFiles(context.Background(), []string{filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

func TestLoadBrokenBundle(t *testing.T) {
	e := New(bundle.Config{})
	_, err := e.Load("broken.bundle", []byte("UnityFS\x00\x00\x00\x00\x08"))
	assert.Error(t, err)
	assert.Empty(t, e.Assets())
}
