package typetree

import (
	"github.com/eichs/unityfs/internal/binio"
	"github.com/pkg/errors"
)

// maxChildren bounds a single node's child count on corrupt input.
const maxChildren = 1 << 16

// ReadVerbatim parses the per-node encoding used by serialized file formats
// below 10 and 11: each node is followed depth-first by its children.
func ReadVerbatim(r *binio.Reader, format uint32) (*Node, error) {
	root, count, err := readVerbatimNode(r, format)
	if err != nil {
		return nil, errors.Wrap(err, "read type tree root")
	}

	type frame struct {
		node      *Node
		remaining int32
	}
	stack := []frame{{root, count}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.remaining == 0 {
			stack = stack[:len(stack)-1]
			continue
		}
		top.remaining--
		parent := top.node

		child, n, err := readVerbatimNode(r, format)
		if err != nil {
			return nil, errors.Wrapf(err, "read child of %s %s", parent.Type, parent.Name)
		}
		child.Level = parent.Level + 1
		parent.Children = append(parent.Children, child)
		stack = append(stack, frame{child, n})
	}
	return root, nil
}

func readVerbatimNode(r *binio.Reader, format uint32) (*Node, int32, error) {
	n := &Node{}
	var err error
	if n.Type, err = r.StringToNull(); err != nil {
		return nil, 0, err
	}
	if n.Name, err = r.StringToNull(); err != nil {
		return nil, 0, err
	}
	if n.ByteSize, err = r.I32(); err != nil {
		return nil, 0, err
	}
	if format == 2 {
		if n.VariableCount, err = r.I32(); err != nil {
			return nil, 0, err
		}
	}
	if format != 3 {
		if n.Index, err = r.I32(); err != nil {
			return nil, 0, err
		}
	}
	if n.TypeFlags, err = r.I32(); err != nil {
		return nil, 0, err
	}
	if n.Version, err = r.I32(); err != nil {
		return nil, 0, err
	}
	if format != 3 {
		if n.MetaFlag, err = r.U32(); err != nil {
			return nil, 0, err
		}
	}
	count, err := r.I32()
	if err != nil {
		return nil, 0, err
	}
	if count < 0 || count > maxChildren {
		return nil, 0, errors.Errorf("typetree: bad child count %d for %s %s", count, n.Type, n.Name)
	}
	return n, count, nil
}

// WriteVerbatim is the inverse of ReadVerbatim.
func WriteVerbatim(w *binio.Writer, format uint32, root *Node) {
	Walk(root, func(n *Node, _ int) bool {
		w.StringToNull(n.Type)
		w.StringToNull(n.Name)
		w.I32(n.ByteSize)
		if format == 2 {
			w.I32(n.VariableCount)
		}
		if format != 3 {
			w.I32(n.Index)
		}
		w.I32(n.TypeFlags)
		w.I32(n.Version)
		if format != 3 {
			w.U32(n.MetaFlag)
		}
		w.I32(int32(len(n.Children)))
		return true
	})
}
