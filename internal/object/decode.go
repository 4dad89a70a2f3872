package object

import (
	"strings"

	"github.com/eichs/unityfs/internal/binio"
	"github.com/eichs/unityfs/internal/typetree"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const registryField = "ManagedReferencesRegistry"

// decoder carries the state of one Decode call.
type decoder struct {
	opts         Options
	r            *binio.Reader
	registryDone bool
}

// Decode reads the value described by node at the cursor.
func Decode(node *typetree.Node, r *binio.Reader, opts Options) (any, error) {
	d := &decoder{opts: opts, r: r}
	return d.read(node)
}

// DecodeBytes decodes a whole object payload. With opts.Strict it fails with
// a *ByteCountError unless exactly len(data) bytes were consumed.
func DecodeBytes(node *typetree.Node, data []byte, e binio.Endian, opts Options) (any, error) {
	r := binio.NewReader(data, e)
	v, err := Decode(node, r, opts)
	if err != nil {
		return nil, err
	}
	if opts.Strict && r.Pos() != int64(len(data)) {
		return nil, &ByteCountError{Type: node.Type, Expected: int64(len(data)), Read: r.Pos()}
	}
	return v, nil
}

func (d *decoder) read(node *typetree.Node) (any, error) {
	v, err := d.readValue(node)
	if err != nil {
		return nil, err
	}
	if node.Aligned() {
		d.r.Align(4)
	}
	return v, nil
}

func (d *decoder) readValue(node *typetree.Node) (any, error) {
	r := d.r
	if p, ok := primitives[node.Type]; ok && len(node.Children) == 0 {
		return p.read(r)
	}
	switch node.Type {
	case "string":
		b, err := r.SizedBytes()
		if err != nil {
			return nil, errors.Wrapf(err, "read string %s", node.Name)
		}
		r.Align(4)
		return string(b), nil
	case "TypelessData":
		b, err := r.SizedBytes()
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", node.Name)
		}
		return b, nil
	case "pair":
		if len(node.Children) != 2 {
			return nil, errors.Errorf("object: pair %s has %d children", node.Name, len(node.Children))
		}
		first, err := d.read(node.Children[0])
		if err != nil {
			return nil, err
		}
		second, err := d.read(node.Children[1])
		if err != nil {
			return nil, err
		}
		return Pair{first, second}, nil
	case "ReferencedObject":
		return d.readReferenced(node)
	}

	if node.IsArray() {
		return d.readArray(node)
	}
	if strings.HasPrefix(node.Type, "PPtr<") {
		return d.readPPtr(node)
	}
	return d.readFields(node)
}

func (d *decoder) readFields(node *typetree.Node) (map[string]any, error) {
	fields := make(map[string]any, len(node.Children))
	for _, c := range node.Children {
		if c.Name == registryField {
			if d.registryDone {
				continue
			}
			d.registryDone = true
		}
		v, err := d.read(c)
		if err != nil {
			return nil, errors.Wrapf(err, "%s.%s", node.Name, c.Name)
		}
		fields[d.opts.key(c.Name)] = v
	}
	return fields, nil
}

func (d *decoder) readArray(node *typetree.Node) ([]any, error) {
	elem := node.Element()
	if elem == nil {
		return nil, errors.Errorf("object: array %s has no element type", node.Name)
	}
	count, err := d.r.I32()
	if err != nil {
		return nil, errors.Wrapf(err, "read %s length", node.Name)
	}
	if count < 0 || int64(count) > d.r.Remaining() {
		return nil, errors.Errorf("object: bad array length %d for %s at offset %d", count, node.Name, d.r.Pos()-4)
	}

	out := make([]any, count)
	if p, ok := primitives[elem.Type]; ok && len(elem.Children) == 0 {
		if int64(count)*int64(p.size) > d.r.Remaining() {
			return nil, errors.Wrapf(binio.ErrTruncated, "array %s of %d %s", node.Name, count, elem.Type)
		}
		align := elem.Aligned()
		for i := range out {
			if out[i], err = p.read(d.r); err != nil {
				return nil, err
			}
			if align {
				d.r.Align(4)
			}
		}
	} else {
		for i := range out {
			if out[i], err = d.read(elem); err != nil {
				return nil, errors.Wrapf(err, "%s[%d]", node.Name, i)
			}
		}
	}
	if node.Array().Aligned() {
		d.r.Align(4)
	}
	return out, nil
}

func (d *decoder) readPPtr(node *typetree.Node) (PPtr, error) {
	var p PPtr
	for _, c := range node.Children {
		v, err := d.read(c)
		if err != nil {
			return p, errors.Wrapf(err, "read %s", node.Name)
		}
		n, err := toInt64(v)
		if err != nil {
			return p, errors.Wrapf(err, "%s.%s", node.Name, c.Name)
		}
		switch c.Name {
		case "m_FileID":
			p.FileID = int32(n)
		case "m_PathID":
			p.PathID = n
		}
	}
	return p, nil
}

// readReferenced decodes a managed reference: the payload's type tree is
// looked up by the class, namespace and assembly decoded just before it.
func (d *decoder) readReferenced(node *typetree.Node) (map[string]any, error) {
	fields := make(map[string]any, len(node.Children))
	var desc map[string]any
	for _, c := range node.Children {
		key := d.opts.key(c.Name)
		if c.Type != "ReferencedObjectData" {
			v, err := d.read(c)
			if err != nil {
				return nil, errors.Wrapf(err, "%s.%s", node.Name, c.Name)
			}
			fields[key] = v
			if c.Type == "ReferencedManagedType" {
				desc, _ = v.(map[string]any)
			}
			continue
		}

		tree, err := d.refType(desc)
		if err != nil {
			logrus.WithError(err).Debug("managed reference payload skipped")
			fields[key] = nil
			continue
		}
		if tree == nil {
			fields[key] = nil
			continue
		}
		v, err := d.read(tree)
		if err != nil {
			return nil, errors.Wrapf(err, "%s.%s", node.Name, c.Name)
		}
		fields[key] = v
	}
	return fields, nil
}

// refType returns the payload tree named by a ReferencedManagedType value,
// nil for the empty (null) reference.
func (d *decoder) refType(desc map[string]any) (*typetree.Node, error) {
	return resolveRefType(d.opts, desc)
}

func resolveRefType(opts Options, desc map[string]any) (*typetree.Node, error) {
	class, _ := desc[opts.key("class")].(string)
	ns, _ := desc[opts.key("ns")].(string)
	asm, _ := desc[opts.key("asm")].(string)
	if class == "" {
		return nil, nil
	}
	if opts.Refs == nil {
		return nil, errors.Wrapf(ErrUnresolved, "no reference types for %s.%s [%s]", ns, class, asm)
	}
	tree := opts.Refs.ResolveRefType(class, ns, asm)
	if tree == nil {
		return nil, errors.Wrapf(ErrUnresolved, "reference type %s.%s [%s]", ns, class, asm)
	}
	return tree, nil
}
