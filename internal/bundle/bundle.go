// Package bundle reads and writes asset bundle archives: the UnityFS
// block-compressed container and the legacy UnityWeb and UnityRaw formats.
package bundle

import (
	"bytes"
	"strings"

	"github.com/eichs/unityfs/internal/binio"
	"github.com/eichs/unityfs/internal/compress"
	"github.com/eichs/unityfs/internal/metrics"
	"github.com/eichs/unityfs/internal/ref"
	"github.com/eichs/unityfs/internal/serialized"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	ErrUnknownSignature = errors.New("bundle: unknown signature")
	// ErrEncrypted is returned for encrypted data when no Decryptor is set.
	ErrEncrypted = errors.New("bundle: encrypted data without decryptor")
	// ErrUnsupportedSave is returned when a format cannot be written.
	ErrUnsupportedSave = errors.New("bundle: save not supported")
)

// EntrySerialized marks a directory entry holding a serialized file.
const EntrySerialized = 0x4

// Node is a directory entry: a named byte range of the data region.
type Node struct {
	Offset int64
	Size   int64
	Flags  uint32
	Path   string
}

// EntryKind tells what an entry was decoded as.
type EntryKind int

const (
	EntryRaw EntryKind = iota
	EntrySerializedFile
	EntryBundle
)

func (k EntryKind) String() string {
	switch k {
	case EntrySerializedFile:
		return "serialized"
	case EntryBundle:
		return "bundle"
	}
	return "raw"
}

// Entry is a decoded directory entry. Exactly one of File and Bundle is set
// unless the entry is a raw blob.
type Entry struct {
	Node
	Data   []byte
	File   *serialized.File
	Bundle *File
}

func (e *Entry) Kind() EntryKind {
	switch {
	case e.File != nil:
		return EntrySerializedFile
	case e.Bundle != nil:
		return EntryBundle
	}
	return EntryRaw
}

// Name returns the last path element of the entry.
func (e *Entry) Name() string {
	if i := strings.LastIndexAny(e.Path, "/\\"); i >= 0 {
		return e.Path[i+1:]
	}
	return e.Path
}

// Config carries the collaborators of a bundle. Children inherit it.
type Config struct {
	Serialized serialized.Config
	Decryptor  Decryptor
	Registry   *serialized.Registry
	Metrics    *metrics.Registry
}

// File is a parsed bundle. It owns its data region and every entry.
type File struct {
	Name     string
	Header   Header
	DataHash [16]byte
	Blocks   []compress.StorageBlock
	Nodes    []Node
	Entries  []*Entry

	cfg            Config
	region         []byte
	blockAlignment bool
	node           *ref.Node
}

// Parse reads a bundle and decodes its entries.
func Parse(name string, data []byte, cfg Config) (*File, error) {
	f := &File{Name: name, cfg: cfg}
	f.node = ref.NewNode(f)
	r := binio.NewReader(data, binio.BigEndian)

	var err error
	if f.Header, err = readHeader(r); err != nil {
		return nil, err
	}
	if f.Header.Signature == SignatureFS {
		err = f.readFS(r)
	} else {
		err = f.readLegacy(r)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s bundle %s", f.Header.Signature, name)
	}
	if err := f.readEntries(); err != nil {
		return nil, errors.Wrapf(err, "bundle %s", name)
	}
	cfg.Metrics.RecordBundle(f.Header.Signature, "parse")
	return f, nil
}

// New returns an empty bundle with the given header, ready for AddEntry.
func New(name string, h Header, cfg Config) *File {
	f := &File{Name: name, Header: h, cfg: cfg}
	f.node = ref.NewNode(f)
	f.blockAlignment = h.Signature == SignatureFS && h.Version >= 7
	return f
}

// AddEntry appends an entry and decodes it the way parsed entries are.
func (f *File) AddEntry(path string, flags uint32, data []byte) (*Entry, error) {
	if _, dup := f.Entry(path); dup {
		return nil, errors.Errorf("bundle: duplicate entry %s", path)
	}
	e := &Entry{Node: Node{Size: int64(len(data)), Flags: flags, Path: path}, Data: data}
	if err := f.dispatch(e); err != nil {
		return nil, errors.Wrapf(err, "entry %s", path)
	}
	f.Entries = append(f.Entries, e)
	f.node.MarkChanged()
	return e, nil
}

// Node returns the changed-tracking handle of the bundle.
func (f *File) Node() *ref.Node { return f.node }

// Changed reports whether any entry was modified since parse or save.
func (f *File) Changed() bool { return f.node.Changed() }

// Region returns the decompressed data region.
func (f *File) Region() []byte { return f.region }

// Entry returns the entry with the given path.
func (f *File) Entry(path string) (*Entry, bool) {
	for _, e := range f.Entries {
		if e.Path == path {
			return e, true
		}
	}
	return nil, false
}

// Files returns the serialized files of the bundle, nested bundles included.
func (f *File) Files() []*serialized.File {
	var out []*serialized.File
	stack := []*File{f}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range b.Entries {
			switch {
			case e.File != nil:
				out = append(out, e.File)
			case e.Bundle != nil:
				stack = append(stack, e.Bundle)
			}
		}
	}
	return out
}

func (f *File) readEntries() error {
	f.Entries = make([]*Entry, 0, len(f.Nodes))
	size := int64(len(f.region))
	for _, n := range f.Nodes {
		if n.Offset < 0 || n.Size < 0 || n.Offset > size || n.Size > size-n.Offset {
			return errors.Errorf("bundle: node out of range: %s offset=%d size=%d region=%d",
				n.Path, n.Offset, n.Size, size)
		}
		e := &Entry{Node: n, Data: f.region[n.Offset : n.Offset+n.Size]}
		if err := f.dispatch(e); err != nil {
			return errors.Wrapf(err, "entry %s", n.Path)
		}
		f.Entries = append(f.Entries, e)
	}
	return nil
}

// dispatch decodes an entry as a serialized file or nested bundle, keeping
// it as a raw blob when it is neither.
func (f *File) dispatch(e *Entry) error {
	log := logrus.WithFields(logrus.Fields{"bundle": f.Name, "entry": e.Path})
	switch {
	case e.Flags&EntrySerialized != 0:
		sf, err := serialized.Parse(e.Name(), e.Data, f.cfg.Serialized)
		if err != nil {
			return err
		}
		f.adopt(e, sf)
	case HasSignature(e.Data):
		b, err := Parse(e.Name(), e.Data, f.cfg)
		if err != nil {
			return err
		}
		b.node.Attach(f.node)
		e.Bundle = b
	case !isResource(e.Path) && serialized.Plausible(e.Data):
		sf, err := serialized.Parse(e.Name(), e.Data, f.cfg.Serialized)
		if err != nil {
			log.WithError(err).Debug("entry looked like a serialized file, keeping it raw")
			f.addResource(e)
			return nil
		}
		f.adopt(e, sf)
	default:
		f.addResource(e)
	}
	log.WithField("kind", e.Kind()).Debug("bundle entry")
	return nil
}

func (f *File) adopt(e *Entry, sf *serialized.File) {
	sf.Node().Attach(f.node)
	e.File = sf
	if f.cfg.Registry != nil {
		f.cfg.Registry.AddFile(e.Path, sf)
	}
}

func (f *File) addResource(e *Entry) {
	if f.cfg.Registry != nil {
		f.cfg.Registry.AddResource(e.Path, bytes.NewReader(e.Data))
	}
}

func isResource(path string) bool {
	return strings.HasSuffix(path, ".resS") || strings.HasSuffix(path, ".resource")
}

// entryData returns the bytes an entry saves as, re-serializing modified
// children.
func (f *File) entryData(e *Entry, p Profile) ([]byte, error) {
	switch {
	case e.File != nil && e.File.Changed():
		return e.File.Save()
	case e.Bundle != nil && e.Bundle.Changed():
		return e.Bundle.Save(p)
	}
	return e.Data, nil
}

// Save writes the bundle with the compression chosen by p. On success the
// bundle and its entries are rebased onto the new data.
func (f *File) Save(p Profile) ([]byte, error) {
	payloads := make([][]byte, len(f.Entries))
	nodes := make([]Node, len(f.Entries))
	var offset int64
	for i, e := range f.Entries {
		data, err := f.entryData(e, p)
		if err != nil {
			return nil, errors.Wrapf(err, "save entry %s", e.Path)
		}
		payloads[i] = data
		nodes[i] = Node{Offset: offset, Size: int64(len(data)), Flags: e.Flags, Path: e.Path}
		offset += int64(len(data))
	}
	region := bytes.Join(payloads, nil)

	var (
		out []byte
		err error
	)
	if f.Header.Signature == SignatureFS {
		out, err = f.saveFS(p, region, nodes)
	} else {
		out, err = f.saveLegacy(p, region, nodes)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "save bundle %s", f.Name)
	}

	f.region = region
	f.Nodes = nodes
	for i, e := range f.Entries {
		e.Node = nodes[i]
		e.Data = region[nodes[i].Offset : nodes[i].Offset+nodes[i].Size]
	}
	f.node.ResetChanged()
	f.cfg.Metrics.RecordBundle(f.Header.Signature, "save")
	return out, nil
}

// Decryptor decrypts encrypted bundle data. index is the position of the
// block in the block table, or -1 for the block info section.
type Decryptor interface {
	Decrypt(data []byte, index int) ([]byte, error)
}

// DecryptorFunc adapts a function to Decryptor.
type DecryptorFunc func(data []byte, index int) ([]byte, error)

func (fn DecryptorFunc) Decrypt(data []byte, index int) ([]byte, error) { return fn(data, index) }

func (f *File) decrypt(data []byte, index int) ([]byte, error) {
	if f.cfg.Decryptor == nil {
		return nil, errors.Wrapf(ErrEncrypted, "block %d", index)
	}
	out, err := f.cfg.Decryptor.Decrypt(bytes.Clone(data), index)
	if err != nil {
		return nil, errors.Wrapf(err, "decrypt block %d", index)
	}
	return out, nil
}
