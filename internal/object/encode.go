package object

import (
	"reflect"
	"strings"

	"github.com/eichs/unityfs/internal/binio"
	"github.com/eichs/unityfs/internal/typetree"
	"github.com/pkg/errors"
)

type encoder struct {
	opts         Options
	w            *binio.Writer
	registryDone bool
}

// Encode writes v in the layout described by node. Typed Object values are
// flattened with Fields first.
func Encode(v any, node *typetree.Node, w *binio.Writer, opts Options) error {
	if obj, ok := v.(Object); ok {
		fields, err := Fields(obj)
		if err != nil {
			return err
		}
		v = fields
	}
	e := &encoder{opts: opts, w: w}
	return e.write(v, node)
}

// EncodeBytes encodes a whole object payload.
func EncodeBytes(v any, node *typetree.Node, endian binio.Endian, opts Options) ([]byte, error) {
	w := binio.NewWriter(endian)
	if err := Encode(v, node, w, opts); err != nil {
		return nil, err
	}
	return w.Data(), nil
}

func (e *encoder) write(v any, node *typetree.Node) error {
	if err := e.writeValue(v, node); err != nil {
		return err
	}
	if node.Aligned() {
		e.w.Align(4)
	}
	return nil
}

func (e *encoder) writeValue(v any, node *typetree.Node) error {
	w := e.w
	if p, ok := primitives[node.Type]; ok && len(node.Children) == 0 {
		if err := p.write(w, v); err != nil {
			return errors.Wrapf(err, "write %s %s", node.Type, node.Name)
		}
		return nil
	}
	switch node.Type {
	case "string":
		switch s := v.(type) {
		case string:
			w.AlignedString(s)
		case []byte:
			w.SizedBytes(s)
			w.Align(4)
		default:
			return errors.Errorf("object: %s wants a string, got %T", node.Name, v)
		}
		return nil
	case "TypelessData":
		b, ok := v.([]byte)
		if !ok {
			return errors.Errorf("object: %s wants []byte, got %T", node.Name, v)
		}
		w.SizedBytes(b)
		return nil
	case "pair":
		p, ok := v.(Pair)
		if !ok || len(node.Children) != 2 {
			return errors.Errorf("object: %s wants a pair, got %T", node.Name, v)
		}
		if err := e.write(p.First, node.Children[0]); err != nil {
			return err
		}
		return e.write(p.Second, node.Children[1])
	case "ReferencedObject":
		return e.writeReferenced(v, node)
	}

	if node.IsArray() {
		return e.writeArray(v, node)
	}
	if strings.HasPrefix(node.Type, "PPtr<") {
		return e.writePPtr(v, node)
	}
	return e.writeFields(v, node)
}

func (e *encoder) fieldMap(v any, node *typetree.Node) (map[string]any, error) {
	switch m := v.(type) {
	case map[string]any:
		return m, nil
	case Object:
		return Fields(m)
	}
	return nil, errors.Errorf("object: %s %s wants a map, got %T", node.Type, node.Name, v)
}

func (e *encoder) writeFields(v any, node *typetree.Node) error {
	fields, err := e.fieldMap(v, node)
	if err != nil {
		return err
	}
	for _, c := range node.Children {
		if c.Name == registryField {
			if e.registryDone {
				continue
			}
			e.registryDone = true
		}
		fv, ok := fields[e.opts.key(c.Name)]
		if !ok {
			return errors.Wrapf(ErrMissingField, "%s.%s", node.Name, c.Name)
		}
		if err := e.write(fv, c); err != nil {
			return errors.Wrapf(err, "%s.%s", node.Name, c.Name)
		}
	}
	return nil
}

func (e *encoder) writeArray(v any, node *typetree.Node) error {
	elem := node.Element()
	if elem == nil {
		return errors.Errorf("object: array %s has no element type", node.Name)
	}
	rv := reflect.ValueOf(v)
	if v != nil && rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return errors.Errorf("object: %s wants a slice, got %T", node.Name, v)
	}
	n := 0
	if v != nil {
		n = rv.Len()
	}
	e.w.I32(int32(n))
	for i := 0; i < n; i++ {
		if err := e.write(rv.Index(i).Interface(), elem); err != nil {
			return errors.Wrapf(err, "%s[%d]", node.Name, i)
		}
	}
	if node.Array().Aligned() {
		e.w.Align(4)
	}
	return nil
}

func (e *encoder) writePPtr(v any, node *typetree.Node) error {
	var p PPtr
	switch t := v.(type) {
	case PPtr:
		p = t
	case *PPtr:
		p = *t
	default:
		return errors.Errorf("object: %s wants a PPtr, got %T", node.Name, v)
	}
	for _, c := range node.Children {
		var fv any
		switch c.Name {
		case "m_FileID":
			fv = p.FileID
		case "m_PathID":
			fv = p.PathID
		default:
			fv = 0
		}
		if err := e.write(fv, c); err != nil {
			return errors.Wrapf(err, "%s.%s", node.Name, c.Name)
		}
	}
	return nil
}

func (e *encoder) writeReferenced(v any, node *typetree.Node) error {
	fields, err := e.fieldMap(v, node)
	if err != nil {
		return err
	}
	var desc map[string]any
	for _, c := range node.Children {
		key := e.opts.key(c.Name)
		fv := fields[key]
		if c.Type != "ReferencedObjectData" {
			if err := e.write(fv, c); err != nil {
				return errors.Wrapf(err, "%s.%s", node.Name, c.Name)
			}
			if c.Type == "ReferencedManagedType" {
				desc, _ = fv.(map[string]any)
			}
			continue
		}
		if fv == nil {
			continue
		}
		tree, err := resolveRefType(e.opts, desc)
		if err != nil {
			return errors.Wrapf(err, "%s.%s", node.Name, c.Name)
		}
		if tree == nil {
			continue
		}
		if err := e.write(fv, tree); err != nil {
			return errors.Wrapf(err, "%s.%s", node.Name, c.Name)
		}
	}
	return nil
}
