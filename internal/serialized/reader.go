package serialized

import (
	"github.com/eichs/unityfs/internal/object"
	"github.com/eichs/unityfs/internal/tpk"
	"github.com/eichs/unityfs/internal/typetree"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ObjectReader is a lazy handle on one object of a file. Nothing is decoded
// until Read, ReadMap or PeekName is called.
type ObjectReader struct {
	file   *File
	pathID int64
}

// Object returns the reader for pathID.
func (f *File) Object(pathID int64) (*ObjectReader, bool) {
	if _, ok := f.index[pathID]; !ok {
		return nil, false
	}
	return &ObjectReader{file: f, pathID: pathID}, true
}

// ObjectReaders returns readers for every object in table order.
func (f *File) ObjectReaders() []*ObjectReader {
	out := make([]*ObjectReader, len(f.Objects))
	for i := range f.Objects {
		out[i] = &ObjectReader{file: f, pathID: f.Objects[i].PathID}
	}
	return out
}

func (o *ObjectReader) info() *ObjectInfo { return &o.file.Objects[o.file.index[o.pathID]] }

func (o *ObjectReader) File() *File      { return o.file }
func (o *ObjectReader) PathID() int64    { return o.pathID }
func (o *ObjectReader) ClassID() int32   { return o.info().ClassID }
func (o *ObjectReader) Info() ObjectInfo { return *o.info() }

// Type returns the declared type of the object, or nil.
func (o *ObjectReader) Type() *SerializedType { return o.file.declaredType(o.info()) }

// Bytes returns the object's current payload. The slice must not be
// modified.
func (o *ObjectReader) Bytes() []byte { return o.file.payload(o.info()) }

// Tree resolves the object's type tree: the tree the file declares for it,
// otherwise the schema's tree for its class at the file's engine version.
func (o *ObjectReader) Tree() (*typetree.Node, error) {
	if t := o.Type(); t != nil && t.Tree != nil {
		return t.Tree, nil
	}
	base, err := o.file.schemaTree(o.ClassID())
	if err != nil {
		return nil, err
	}
	if o.ClassID() == classMonoBehaviour {
		return o.file.scriptTree(o, base), nil
	}
	return base, nil
}

func (f *File) schemaTree(classID int32) (*typetree.Node, error) {
	s := f.schema()
	if s == nil {
		return nil, errors.Wrapf(tpk.ErrSchemaUnavailable, "class %d: no schema database loaded", classID)
	}
	v, err := f.EngineVersion()
	if err != nil {
		return nil, errors.Wrap(tpk.ErrSchemaUnavailable, err.Error())
	}
	return s.Lookup(classID, v)
}

// scriptTree finds the tree of a scripted component through the script it
// references. Any failure on the way yields base.
func (f *File) scriptTree(o *ObjectReader, base *typetree.Node) *typetree.Node {
	if f.cfg.Scripts == nil {
		return base
	}
	log := logrus.WithFields(logrus.Fields{"file": f.Name, "pathID": o.pathID})

	prefix, err := object.DecodeBytes(base, o.Bytes(), f.endian, object.Options{})
	if err != nil {
		log.WithError(err).Debug("scripted component prefix unreadable")
		return base
	}
	fields, _ := prefix.(map[string]any)
	script, ok := fields["m_Script"].(object.PPtr)
	if !ok || script.IsNull() {
		return base
	}
	target, err := f.ResolveStrict(script)
	if err != nil {
		log.WithError(err).Debug("script of scripted component not found")
		return base
	}
	key := scriptKey{target.file.Name, target.pathID}
	if t, ok := f.scriptTrees.Get(key); ok {
		return t
	}

	obj, err := target.Read()
	if err != nil {
		log.WithError(err).Debug("script unreadable")
		return base
	}
	ms, ok := obj.(*object.MonoScript)
	if !ok {
		log.WithField("class", obj.Tree().Type).Debug("script reference is not a MonoScript")
		return base
	}
	tree, err := f.cfg.Scripts.Generate(ms.AssemblyName, ms.FullName())
	if err != nil || tree == nil {
		log.WithError(err).WithField("script", ms.FullName()).Warn("no script type tree, using generic layout")
		return base
	}
	f.scriptTrees.Add(key, tree)
	return tree
}

func (o *ObjectReader) options(typed bool) object.Options {
	return object.Options{Typed: typed, Strict: o.file.cfg.Strict, Refs: o.file}
}

func (o *ObjectReader) decode(typed bool) (*typetree.Node, map[string]any, error) {
	mode := "map"
	if typed {
		mode = "typed"
	}
	tree, err := o.Tree()
	if err != nil {
		o.file.cfg.Metrics.RecordObjectDecode(mode, "unavailable")
		return nil, nil, err
	}
	v, err := object.DecodeBytes(tree, o.Bytes(), o.file.endian, o.options(typed))
	if err != nil {
		result := "error"
		var bc *object.ByteCountError
		if errors.As(err, &bc) {
			result = "mismatch"
		}
		o.file.cfg.Metrics.RecordObjectDecode(mode, result)
		return nil, nil, errors.Wrapf(err, "decode object %d (%s)", o.pathID, tree.Type)
	}
	fields, ok := v.(map[string]any)
	if !ok {
		o.file.cfg.Metrics.RecordObjectDecode(mode, "error")
		return nil, nil, errors.Errorf("serialized: object %d decoded to %T", o.pathID, v)
	}
	return tree, fields, nil
}

// ReadMap decodes the object into a map keyed by raw field names.
func (o *ObjectReader) ReadMap() (map[string]any, error) {
	_, fields, err := o.decode(false)
	if err != nil {
		return nil, err
	}
	o.file.cfg.Metrics.RecordObjectDecode("map", "ok")
	return fields, nil
}

// Read decodes the object into its typed form, or *object.Generic.
func (o *ObjectReader) Read() (object.Object, error) {
	tree, fields, err := o.decode(true)
	if err != nil {
		return nil, err
	}
	obj := object.Construct(tree, fields)
	result := "ok"
	if object.IsGeneric(obj) {
		result = "generic"
	}
	o.file.cfg.Metrics.RecordObjectDecode("typed", result)
	return obj, nil
}

// Write replaces the object with obj, which is usually a value returned by
// Read and then modified.
func (o *ObjectReader) Write(obj object.Object) error {
	data, err := object.EncodeBytes(obj, obj.Tree(), o.file.endian, o.options(true))
	if err != nil {
		return errors.Wrapf(err, "encode object %d", o.pathID)
	}
	o.file.replace(o.pathID, data)
	return nil
}

// WriteMap replaces the object with a map in the ReadMap layout.
func (o *ObjectReader) WriteMap(fields map[string]any) error {
	tree, err := o.Tree()
	if err != nil {
		return err
	}
	data, err := object.EncodeBytes(fields, tree, o.file.endian, o.options(false))
	if err != nil {
		return errors.Wrapf(err, "encode object %d", o.pathID)
	}
	o.file.replace(o.pathID, data)
	return nil
}

// PeekName decodes only as much of the object as needed to find its name.
// Objects without a name field return "".
func (o *ObjectReader) PeekName() (string, error) {
	tree, err := o.Tree()
	if err != nil {
		return "", err
	}
	peeker := o.file.cfg.Peeker
	if peeker == nil {
		peeker = sharedPeeker
	}
	cut := peeker.NameTree(tree)
	if cut == nil {
		return "", nil
	}
	v, err := object.DecodeBytes(cut, o.Bytes(), o.file.endian, object.Options{})
	if err != nil {
		return "", errors.Wrapf(err, "peek name of object %d", o.pathID)
	}
	return findName(cut, v), nil
}

// findName follows the last child of each level of the peek tree, which
// is where the name field sits.
func findName(tree *typetree.Node, v any) string {
	for n := tree; len(n.Children) > 0; {
		m, ok := v.(map[string]any)
		if !ok {
			return ""
		}
		n = n.Children[len(n.Children)-1]
		v = m[n.Name]
		if n.Type == "string" {
			s, _ := v.(string)
			return s
		}
	}
	return ""
}

var sharedPeeker = typetree.NewPeeker(typetree.DefaultPeekEntries)
