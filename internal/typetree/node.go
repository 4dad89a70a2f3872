// Package typetree models the per-class field schema that drives object
// (de)serialization, and its two wire encodings.
//
// Real trees can nest thousands of levels deep, so every traversal in this
// package runs on an explicit stack.
package typetree

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// AlignFlag in MetaFlag means the value is followed by padding to a 4 byte
// boundary.
const AlignFlag = 0x4000

// Node describes one field: its type, name, fixed size (-1 when variable)
// and ordered child fields.
type Node struct {
	Level         int
	Type          string
	Name          string
	ByteSize      int32
	Version       int32
	TypeFlags     int32
	Index         int32
	MetaFlag      uint32
	VariableCount int32
	RefTypeHash   uint64
	Children      []*Node

	placement *blobPlacement
}

// Aligned reports whether the value is padded to 4 bytes after decoding.
func (n *Node) Aligned() bool { return n.MetaFlag&AlignFlag != 0 }

// IsArray reports whether n is a length-prefixed sequence, i.e. its first
// child is the "Array" node. The element type is Array().Children[1].
func (n *Node) IsArray() bool {
	return len(n.Children) > 0 && IsArrayType(n.Children[0].Type)
}

// Array returns the "Array" child of an array node.
func (n *Node) Array() *Node { return n.Children[0] }

// Element returns the element type of an array node.
func (n *Node) Element() *Node {
	arr := n.Children[0]
	if len(arr.Children) < 2 {
		return nil
	}
	return arr.Children[1]
}

// Walk visits the tree in pre-order with the depth of each node. Returning
// false from fn skips that node's children.
func Walk(root *Node, fn func(n *Node, depth int) bool) {
	type item struct {
		n     *Node
		depth int
	}
	stack := []item{{root, 0}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(it.n, it.depth) {
			continue
		}
		for i := len(it.n.Children) - 1; i >= 0; i-- {
			stack = append(stack, item{it.n.Children[i], it.depth + 1})
		}
	}
}

// Flatten returns the nodes in pre-order with Level set from tree depth.
// The returned nodes are copies without children.
func Flatten(root *Node) []*Node {
	var flat []*Node
	Walk(root, func(n *Node, depth int) bool {
		c := *n
		c.Level = depth
		c.Children = nil
		flat = append(flat, &c)
		return true
	})
	return flat
}

// Rebuild links a pre-order list of level-tagged nodes back into a tree:
// a node becomes the child of the nearest preceding node with a smaller
// level. The nodes are modified in place.
func Rebuild(flat []*Node) (*Node, error) {
	if len(flat) == 0 {
		return nil, errors.New("typetree: empty node list")
	}
	root := flat[0]
	stack := []*Node{root}
	for i, n := range flat[1:] {
		for len(stack) > 0 && stack[len(stack)-1].Level >= n.Level {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			return nil, errors.Errorf("typetree: node %d (%s %s) has level %d but root is %d",
				i+1, n.Type, n.Name, n.Level, root.Level)
		}
		parent := stack[len(stack)-1]
		parent.Children = append(parent.Children, n)
		stack = append(stack, n)
	}
	return root, nil
}

// Clone deep-copies the tree.
func (n *Node) Clone() *Node {
	type pair struct{ src, dst *Node }
	root := &Node{}
	stack := []pair{{n, root}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		*p.dst = *p.src
		if len(p.src.Children) == 0 {
			p.dst.Children = nil
			continue
		}
		p.dst.Children = make([]*Node, len(p.src.Children))
		for i, c := range p.src.Children {
			p.dst.Children[i] = &Node{}
			stack = append(stack, pair{c, p.dst.Children[i]})
		}
	}
	return root
}

// Count returns the number of nodes in the tree.
func (n *Node) Count() int {
	c := 0
	Walk(n, func(*Node, int) bool { c++; return true })
	return c
}

// Child returns the direct child called name.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// String dumps the tree one field per line, indented by depth.
func (n *Node) String() string {
	var sb strings.Builder
	Walk(n, func(c *Node, depth int) bool {
		sb.WriteString(strings.Repeat("  ", depth))
		fmt.Fprintf(&sb, "%s %s // ByteSize{%x}, Index{%x}, Version{%x}, IsArray{%d}, MetaFlag{%x}\n",
			c.Type, c.Name, uint32(c.ByteSize), uint32(c.Index), uint32(c.Version), c.TypeFlags, c.MetaFlag)
		return true
	})
	return sb.String()
}
