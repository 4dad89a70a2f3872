package object

import (
	"reflect"
	"strings"

	"github.com/eichs/unityfs/internal/typetree"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Object is the closed set of object kinds Construct produces. Kinds
// without a Go type, or whose data does not fit the Go type, are *Generic.
type Object interface {
	Tree() *typetree.Node
	base() *Base
}

// Base holds the decoded fields of an object, keyed by sanitized name, and
// the type tree they were decoded with.
type Base struct {
	tree   *typetree.Node
	fields map[string]any
}

func (b *Base) Tree() *typetree.Node { return b.tree }
func (b *Base) base() *Base          { return b }

// Raw returns every decoded field. Typed struct fields are copies; use
// Fields to get a map that reflects edits to them.
func (b *Base) Raw() map[string]any { return b.fields }

// Class returns the type name of the object's root node.
func (b *Base) Class() string { return b.tree.Type }

// Generic is an object without a Go type.
type Generic struct {
	Base
}

type GameObject struct {
	Base
	Name     string `unity:"m_Name"`
	Layer    uint32 `unity:"m_Layer"`
	Tag      uint16 `unity:"m_Tag"`
	IsActive bool   `unity:"m_IsActive"`
}

// Components returns the component references in declaration order. Both
// the ComponentPair and the older pair<int, PPtr> layouts are understood.
func (g *GameObject) Components() []PPtr {
	items, _ := g.fields["m_Component"].([]any)
	out := make([]PPtr, 0, len(items))
	for _, it := range items {
		switch c := it.(type) {
		case map[string]any:
			if p, ok := c["component"].(PPtr); ok {
				out = append(out, p)
			}
		case Pair:
			if p, ok := c.Second.(PPtr); ok {
				out = append(out, p)
			}
		}
	}
	return out
}

type TextAsset struct {
	Base
	Name   string `unity:"m_Name"`
	Script string `unity:"m_Script"`
}

// StreamingInfo locates texture data stored in a resource file.
type StreamingInfo struct {
	Offset uint64 `unity:"offset"`
	Size   uint32 `unity:"size"`
	Path   string `unity:"path"`
}

type Texture2D struct {
	Base
	Name       string        `unity:"m_Name"`
	Width      int32         `unity:"m_Width"`
	Height     int32         `unity:"m_Height"`
	Format     int32         `unity:"m_TextureFormat"`
	MipCount   int32         `unity:"m_MipCount,optional"`
	ImageData  []byte        `unity:"image_data"`
	StreamData StreamingInfo `unity:"m_StreamData,optional"`
}

type MonoScript struct {
	Base
	Name         string `unity:"m_Name"`
	ClassName    string `unity:"m_ClassName"`
	Namespace    string `unity:"m_Namespace"`
	AssemblyName string `unity:"m_AssemblyName"`
}

// FullName returns the namespace qualified class name.
func (m *MonoScript) FullName() string {
	if m.Namespace == "" {
		return m.ClassName
	}
	return m.Namespace + "." + m.ClassName
}

type MonoBehaviour struct {
	Base
	Name       string `unity:"m_Name"`
	GameObject PPtr   `unity:"m_GameObject"`
	Enabled    uint8  `unity:"m_Enabled"`
	Script     PPtr   `unity:"m_Script"`
}

var kinds = map[string]func() Object{
	"GameObject":    func() Object { return &GameObject{} },
	"TextAsset":     func() Object { return &TextAsset{} },
	"Texture2D":     func() Object { return &Texture2D{} },
	"MonoScript":    func() Object { return &MonoScript{} },
	"MonoBehaviour": func() Object { return &MonoBehaviour{} },
}

// Construct builds the typed object for tree's class from fields decoded in
// typed mode. It falls back to *Generic when the class has no Go type or
// the fields do not fit it.
func Construct(tree *typetree.Node, fields map[string]any) Object {
	if mk, ok := kinds[tree.Type]; ok {
		obj := mk()
		*obj.base() = Base{tree: tree, fields: fields}
		err := fill(reflect.ValueOf(obj).Elem(), fields)
		if err == nil {
			return obj
		}
		logrus.WithError(err).WithField("class", tree.Type).Debug("typed construction failed, using generic object")
	}
	return &Generic{Base{tree: tree, fields: fields}}
}

// IsGeneric reports whether obj is the untyped fallback.
func IsGeneric(obj Object) bool {
	_, ok := obj.(*Generic)
	return ok
}

func parseTag(tag string) (name string, optional bool) {
	name, opts, _ := strings.Cut(tag, ",")
	return name, opts == "optional"
}

func fill(dst reflect.Value, fields map[string]any) error {
	t := dst.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("unity")
		if tag == "" {
			continue
		}
		name, optional := parseTag(tag)
		v, ok := fields[name]
		if !ok {
			if optional {
				continue
			}
			return errors.Wrap(ErrMissingField, name)
		}
		if err := assign(dst.Field(i), v); err != nil {
			return errors.Wrapf(err, "field %s", name)
		}
	}
	return nil
}

func isNumber(k reflect.Kind) bool {
	return (k >= reflect.Int && k <= reflect.Uint64) || k == reflect.Float32 || k == reflect.Float64
}

func assign(dst reflect.Value, v any) error {
	if v == nil {
		return nil
	}
	sv := reflect.ValueOf(v)
	switch {
	case sv.Type().AssignableTo(dst.Type()):
		dst.Set(sv)
	case dst.Kind() == reflect.Struct:
		m, ok := v.(map[string]any)
		if !ok {
			return errors.Errorf("object: cannot use %T as %s", v, dst.Type())
		}
		return fill(dst, m)
	case isNumber(dst.Kind()) && isNumber(sv.Kind()):
		dst.Set(sv.Convert(dst.Type()))
	case dst.Kind() == reflect.Bool && isNumber(sv.Kind()):
		n, _ := toInt64(v)
		dst.SetBool(n != 0)
	case dst.Type() == reflect.TypeOf([]byte(nil)) && sv.Kind() == reflect.Slice:
		b := make([]byte, sv.Len())
		for i := range b {
			n, err := toUint64(sv.Index(i).Interface())
			if err != nil {
				return err
			}
			b[i] = byte(n)
		}
		dst.SetBytes(b)
	default:
		return errors.Errorf("object: cannot use %T as %s", v, dst.Type())
	}
	return nil
}

// Fields returns the object's field map with the typed struct fields
// written back, ready for Encode. The map stored in the object is not
// modified.
func Fields(obj Object) (map[string]any, error) {
	b := obj.base()
	if _, ok := obj.(*Generic); ok {
		return b.fields, nil
	}
	return flatten(reflect.ValueOf(obj).Elem(), b.fields)
}

func flatten(src reflect.Value, orig map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(orig))
	for k, v := range orig {
		out[k] = v
	}
	t := src.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("unity")
		if tag == "" {
			continue
		}
		name, _ := parseTag(tag)
		prev, ok := orig[name]
		if !ok {
			continue
		}
		fv := src.Field(i)
		if fv.Kind() == reflect.Struct && fv.Type() != reflect.TypeOf(PPtr{}) {
			nested, _ := prev.(map[string]any)
			m, err := flatten(fv, nested)
			if err != nil {
				return nil, errors.Wrapf(err, "field %s", name)
			}
			out[name] = m
			continue
		}
		out[name] = fv.Interface()
	}
	return out, nil
}
