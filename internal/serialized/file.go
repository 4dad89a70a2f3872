// Package serialized reads and writes serialized files: the object table,
// the declared types and the objects themselves.
package serialized

import (
	"github.com/eichs/unityfs/internal/binio"
	"github.com/eichs/unityfs/internal/metrics"
	"github.com/eichs/unityfs/internal/object"
	"github.com/eichs/unityfs/internal/ref"
	"github.com/eichs/unityfs/internal/tpk"
	"github.com/eichs/unityfs/internal/typetree"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrUnresolved is returned by the strict resolution calls when a reference
// leads nowhere.
var ErrUnresolved = object.ErrUnresolved

// DefaultScriptTreeCache is the number of generated script trees a file keeps.
const DefaultScriptTreeCache = 256

// Schema supplies type trees for files that do not embed them. *tpk.Database
// implements it.
type Schema interface {
	Lookup(classID int32, v tpk.Version) (*typetree.Node, error)
}

type commonStringSource interface {
	CommonStrings(v tpk.Version) *typetree.CommonStrings
}

// ScriptTreeGenerator builds the type tree of a scripted component from its
// assembly and namespace qualified class name.
type ScriptTreeGenerator interface {
	Generate(assembly, className string) (*typetree.Node, error)
}

// Config carries the collaborators of a file. The zero value uses the
// process-wide schema database and no script generator.
type Config struct {
	Schema          Schema
	Scripts         ScriptTreeGenerator
	Peeker          *typetree.Peeker
	Strict          bool
	FallbackVersion string
	ScriptTreeCache int
	Metrics         *metrics.Registry
}

type scriptKey struct {
	file   string
	pathID int64
}

type File struct {
	Name            string
	Header          Header
	UnityVersion    string
	TargetPlatform  int32
	EnableTypeTree  bool
	BigIDEnabled    int32
	Types           []SerializedType
	Objects         []ObjectInfo
	ScriptTypes     []LocalSerializedObjectIdentifier
	Externals       []FileIdentifier
	RefTypes        []SerializedType
	UserInformation string

	cfg         Config
	data        []byte
	endian      binio.Endian
	index       map[int64]int
	replaced    map[int64][]byte
	node        *ref.Node
	registry    ref.Link[Registry]
	scriptTrees *lru.Cache[scriptKey, *typetree.Node]
}

func newFile(name string, cfg Config) *File {
	size := cfg.ScriptTreeCache
	if size <= 0 {
		size = DefaultScriptTreeCache
	}
	cache, _ := lru.New[scriptKey, *typetree.Node](size)
	f := &File{
		Name:        name,
		cfg:         cfg,
		index:       map[int64]int{},
		replaced:    map[int64][]byte{},
		scriptTrees: cache,
	}
	f.node = ref.NewNode(f)
	return f
}

// New returns an empty file of the given format version, ready for AddType
// and AddObject.
func New(name string, version uint32, unityVersion string, e binio.Endian, cfg Config) *File {
	f := newFile(name, cfg)
	f.Header.Version = version
	f.UnityVersion = unityVersion
	f.EnableTypeTree = true
	f.setEndian(e)
	return f
}

func (f *File) setEndian(e binio.Endian) {
	f.endian = e
	f.Header.Endianess = 0
	if e == binio.BigEndian {
		f.Header.Endianess = 1
	}
}

// Parse reads a serialized file. data must stay unmodified while the file
// is in use; object payloads are sliced from it.
func Parse(name string, data []byte, cfg Config) (*File, error) {
	f := newFile(name, cfg)
	f.data = data
	r := binio.NewReader(data, binio.BigEndian)

	var err error
	if f.Header, err = readHeader(r); err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	if f.Header.FileSize > int64(len(data)) {
		return nil, errors.Errorf("serialized: header declares %d bytes, have %d", f.Header.FileSize, len(data))
	}
	f.endian = binio.LittleEndian
	if f.Header.Endianess != 0 {
		f.endian = binio.BigEndian
	}
	r.SetEndian(f.endian)

	if err := f.readMetadata(r); err != nil {
		return nil, errors.Wrapf(err, "read metadata of %s (format %d)", name, f.Header.Version)
	}
	logrus.WithFields(logrus.Fields{
		"file":    name,
		"format":  f.Header.Version,
		"unity":   f.UnityVersion,
		"types":   len(f.Types),
		"objects": len(f.Objects),
	}).Debug("parsed serialized file")
	return f, nil
}

func (f *File) readMetadata(r *binio.Reader) error {
	version := f.Header.Version
	var err error
	if version >= FormatUnknown7 {
		if f.UnityVersion, err = r.StringToNull(); err != nil {
			return errors.Wrap(err, "unity version")
		}
	}
	if version >= FormatUnknown8 {
		if f.TargetPlatform, err = r.I32(); err != nil {
			return errors.Wrap(err, "target platform")
		}
	}
	f.EnableTypeTree = true
	if version >= FormatHasTypeTreeHashes {
		if f.EnableTypeTree, err = r.Bool(); err != nil {
			return errors.Wrap(err, "type tree flag")
		}
	}

	cs := f.commonStrings()
	if f.Types, err = readTypes(r, version, f.EnableTypeTree, false, cs); err != nil {
		return errors.Wrap(err, "types")
	}

	if version >= FormatUnknown7 && version < FormatUnknown14 {
		if f.BigIDEnabled, err = r.I32(); err != nil {
			return errors.Wrap(err, "big id flag")
		}
	}

	if err := f.readObjects(r); err != nil {
		return errors.Wrap(err, "objects")
	}

	if version >= FormatHasScriptTypeIndex {
		count, err := readCount(r, 8)
		if err != nil {
			return errors.Wrap(err, "script type count")
		}
		f.ScriptTypes = make([]LocalSerializedObjectIdentifier, count)
		for i := range f.ScriptTypes {
			st := &f.ScriptTypes[i]
			if st.LocalSerializedFileIndex, err = r.I32(); err != nil {
				return errors.Wrapf(err, "script type %d", i)
			}
			if st.LocalIdentifierInFile, err = readPathID(r, version, false); err != nil {
				return errors.Wrapf(err, "script type %d", i)
			}
		}
	}

	count, err := readCount(r, 5)
	if err != nil {
		return errors.Wrap(err, "external count")
	}
	f.Externals = make([]FileIdentifier, count)
	for i := range f.Externals {
		if f.Externals[i], err = readFileIdentifier(r, version); err != nil {
			return errors.Wrapf(err, "external %d", i)
		}
	}

	if version >= FormatSupportsRefObject {
		if f.RefTypes, err = readTypes(r, version, f.EnableTypeTree, true, cs); err != nil {
			return errors.Wrap(err, "ref types")
		}
	}
	if version >= FormatUnknown5 {
		if f.UserInformation, err = r.StringToNull(); err != nil {
			return errors.Wrap(err, "user information")
		}
	}
	return nil
}

// readCount reads an element count and rejects counts that cannot fit in
// the remaining bytes at minSize bytes per element.
func readCount(r *binio.Reader, minSize int64) (int, error) {
	n, err := r.I32()
	if err != nil {
		return 0, err
	}
	if n < 0 || int64(n)*minSize > r.Remaining() {
		return 0, errors.Errorf("serialized: bad count %d with %d bytes left", n, r.Remaining())
	}
	return int(n), nil
}

func readTypes(r *binio.Reader, version uint32, enableTypeTree, isRefType bool, cs *typetree.CommonStrings) ([]SerializedType, error) {
	count, err := readCount(r, 4)
	if err != nil {
		return nil, err
	}
	types := make([]SerializedType, count)
	for i := range types {
		if types[i], err = readSerializedType(r, version, enableTypeTree, isRefType, cs); err != nil {
			return nil, errors.Wrapf(err, "type %d", i)
		}
	}
	return types, nil
}

func (f *File) readObjects(r *binio.Reader) error {
	version := f.Header.Version
	count, err := readCount(r, 12)
	if err != nil {
		return err
	}
	f.Objects = make([]ObjectInfo, count)
	for i := range f.Objects {
		oi := &f.Objects[i]
		if oi.PathID, err = readPathID(r, version, f.BigIDEnabled != 0); err != nil {
			return errors.Wrapf(err, "object %d path id", i)
		}
		if version >= FormatLargeFilesSupport {
			oi.ByteStart, err = r.I64()
		} else {
			var start uint32
			start, err = r.U32()
			oi.ByteStart = int64(start)
		}
		if err != nil {
			return errors.Wrapf(err, "object %d start", i)
		}
		oi.ByteStart += f.Header.DataOffset
		if oi.ByteSize, err = r.U32(); err != nil {
			return errors.Wrapf(err, "object %d size", i)
		}
		if oi.TypeID, err = r.I32(); err != nil {
			return errors.Wrapf(err, "object %d type", i)
		}
		if version < FormatRefactoredClassID {
			classID, err := r.U16()
			if err != nil {
				return errors.Wrapf(err, "object %d class", i)
			}
			oi.ClassID = int32(classID)
		} else {
			if oi.TypeID < 0 || int(oi.TypeID) >= len(f.Types) {
				return errors.Errorf("serialized: object %d has type index %d of %d", i, oi.TypeID, len(f.Types))
			}
			oi.ClassID = f.Types[oi.TypeID].ClassID
		}
		oi.ScriptTypeIndex = -1
		if version >= FormatRefactorTypeData {
			oi.ScriptTypeIndex = f.Types[oi.TypeID].ScriptTypeIndex
		}
		if version < FormatHasScriptTypeIndex {
			if oi.IsDestroyed, err = r.U16(); err != nil {
				return errors.Wrapf(err, "object %d destroyed flag", i)
			}
		}
		if version >= FormatHasScriptTypeIndex && version < FormatRefactorTypeData {
			if oi.ScriptTypeIndex, err = r.I16(); err != nil {
				return errors.Wrapf(err, "object %d script type", i)
			}
		}
		if version == FormatSupportsStrippedObject || version == FormatRefactoredClassID {
			if oi.Stripped, err = r.U8(); err != nil {
				return errors.Wrapf(err, "object %d stripped flag", i)
			}
		}
		if end := oi.ByteStart + int64(oi.ByteSize); oi.ByteStart < 0 || end > int64(len(f.data)) {
			return errors.Errorf("serialized: object out of range: pathID=%d start=%d size=%d file=%d",
				oi.PathID, oi.ByteStart, oi.ByteSize, len(f.data))
		}
		if _, dup := f.index[oi.PathID]; dup {
			return errors.Errorf("serialized: duplicate path id %d", oi.PathID)
		}
		f.index[oi.PathID] = i
	}
	return nil
}

// EngineVersion returns the engine version the file was built with, or the
// configured fallback when the file's version is stripped.
func (f *File) EngineVersion() (tpk.Version, error) {
	v, err := tpk.ParseVersion(f.UnityVersion)
	if err == nil && !v.IsZero() {
		return v, nil
	}
	if f.cfg.FallbackVersion == "" {
		return tpk.Version{}, errors.Errorf("serialized: no usable engine version in %q", f.UnityVersion)
	}
	return tpk.ParseVersion(f.cfg.FallbackVersion)
}

func (f *File) schema() Schema {
	if f.cfg.Schema != nil {
		return f.cfg.Schema
	}
	if db := tpk.Default(); db != nil {
		return db
	}
	return nil
}

// commonStrings returns the engine's string table for the file's version,
// or nil for the built-in one.
func (f *File) commonStrings() *typetree.CommonStrings {
	src, ok := f.schema().(commonStringSource)
	if !ok {
		return nil
	}
	v, err := f.EngineVersion()
	if err != nil {
		return nil
	}
	return src.CommonStrings(v)
}

// Endian returns the byte order of the metadata and objects.
func (f *File) Endian() binio.Endian { return f.endian }

// Node returns the changed-tracking handle of the file. Containers attach
// it to their own.
func (f *File) Node() *ref.Node { return f.node }

// Changed reports whether an object was written since the last Save.
func (f *File) Changed() bool { return f.node.Changed() }

// SetRegistry sets the registry used to resolve references into other
// files. The file does not keep the registry alive.
func (f *File) SetRegistry(reg *Registry) { f.registry = ref.NewLink(reg) }

// Registry returns the registry the file resolves through.
func (f *File) Registry() (*Registry, error) { return f.registry.Get() }

// AddType appends a declared type and returns its type id.
func (f *File) AddType(t SerializedType) int32 {
	f.Types = append(f.Types, t)
	return int32(len(f.Types) - 1)
}

// AddObject appends an object with the given payload. typeID is an index
// into Types.
func (f *File) AddObject(pathID int64, typeID int32, data []byte) error {
	if _, dup := f.index[pathID]; dup {
		return errors.Errorf("serialized: duplicate path id %d", pathID)
	}
	if typeID < 0 || int(typeID) >= len(f.Types) {
		return errors.Errorf("serialized: type id %d out of range", typeID)
	}
	f.Objects = append(f.Objects, ObjectInfo{
		PathID:          pathID,
		ByteSize:        uint32(len(data)),
		TypeID:          typeID,
		ClassID:         f.Types[typeID].ClassID,
		ScriptTypeIndex: f.Types[typeID].ScriptTypeIndex,
	})
	if f.Header.Version < FormatRefactoredClassID {
		f.Objects[len(f.Objects)-1].TypeID = f.Types[typeID].ClassID
	}
	f.index[pathID] = len(f.Objects) - 1
	f.replaced[pathID] = data
	f.node.MarkChanged()
	return nil
}

// payload returns the current bytes of an object.
func (f *File) payload(oi *ObjectInfo) []byte {
	if b, ok := f.replaced[oi.PathID]; ok {
		return b
	}
	return f.data[oi.ByteStart : oi.ByteStart+int64(oi.ByteSize)]
}

func (f *File) replace(pathID int64, data []byte) {
	i := f.index[pathID]
	f.replaced[pathID] = data
	f.Objects[i].ByteSize = uint32(len(data))
	f.node.MarkChanged()
}

// declaredType returns the type of an object from the file's type table.
func (f *File) declaredType(oi *ObjectInfo) *SerializedType {
	if f.Header.Version >= FormatRefactoredClassID {
		if oi.TypeID >= 0 && int(oi.TypeID) < len(f.Types) {
			return &f.Types[oi.TypeID]
		}
		return nil
	}
	for i := range f.Types {
		if f.Types[i].ClassID == oi.TypeID {
			return &f.Types[i]
		}
	}
	for i := range f.Types {
		if f.Types[i].ClassID == oi.ClassID {
			return &f.Types[i]
		}
	}
	return nil
}

// ResolveRefType finds the tree of a managed reference type in the ref
// types table.
func (f *File) ResolveRefType(class, namespace, assembly string) *typetree.Node {
	for i := range f.RefTypes {
		t := &f.RefTypes[i]
		if t.KlassName == class && t.NameSpace == namespace && t.AsmName == assembly {
			return t.Tree
		}
	}
	return nil
}
