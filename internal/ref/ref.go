// Package ref provides non-owning back references between containers and
// the files they hold, and upward propagation of the "changed" state.
package ref

import (
	"weak"

	"github.com/pkg/errors"
)

// ErrGone is returned when the referent of a Link has been collected.
var ErrGone = errors.New("ref: referent no longer available")

// Link is a weak reference. The zero Link refers to nothing.
type Link[T any] struct {
	p weak.Pointer[T]
}

func NewLink[T any](v *T) Link[T] {
	if v == nil {
		return Link[T]{}
	}
	return Link[T]{p: weak.Make(v)}
}

// Get returns the referent, or ErrGone once it has been collected or if the
// link was never set.
func (l Link[T]) Get() (*T, error) {
	if v := l.p.Value(); v != nil {
		return v, nil
	}
	return nil, ErrGone
}

// Node is the changed-tracking handle of a container. A container holds
// its Node strongly; children point at their parent's Node weakly.
type Node struct {
	owner   any
	parent  Link[Node]
	changed bool
}

func NewNode(owner any) *Node { return &Node{owner: owner} }

// Owner returns the container the node belongs to.
func (n *Node) Owner() any { return n.owner }

// Attach makes parent the node's parent.
func (n *Node) Attach(parent *Node) { n.parent = NewLink(parent) }

// Parent returns the parent node, or ErrGone when it has been released.
func (n *Node) Parent() (*Node, error) { return n.parent.Get() }

// MarkChanged flags n and every live ancestor as changed.
func (n *Node) MarkChanged() {
	for cur := n; cur != nil; {
		cur.changed = true
		next, err := cur.parent.Get()
		if err != nil {
			return
		}
		cur = next
	}
}

func (n *Node) Changed() bool { return n.changed }

// ResetChanged clears the flag on n only.
func (n *Node) ResetChanged() { n.changed = false }
