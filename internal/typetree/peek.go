package typetree

import (
	"sync"

	"github.com/golang/groupcache/lru"
)

// DefaultPeekEntries bounds the peeker shared by files that are not given
// one.
const DefaultPeekEntries = 4096

type peekKey struct {
	name    string
	typ     string
	version int32
}

// Peeker builds and caches name-only views of type trees: the tree cut
// right after the first m_Name or name field, so decoding it yields an
// object's display name without reading the rest of the object.
type Peeker struct {
	mu    sync.Mutex
	cache *lru.Cache
}

// NewPeeker returns a peeker keeping at most maxEntries trees. Zero or less
// means no limit.
func NewPeeker(maxEntries int) *Peeker {
	if maxEntries < 0 {
		maxEntries = 0
	}
	return &Peeker{cache: lru.New(maxEntries)}
}

// NameTree returns the truncated tree for root, or nil when root has no
// name field outside of arrays.
func (p *Peeker) NameTree(root *Node) *Node {
	key := peekKey{root.Name, root.Type, root.Version}

	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.cache.Get(key); ok {
		return v.(*Node)
	}
	t := truncateAtName(root)
	p.cache.Add(key, t)
	return t
}

// Len returns the number of cached trees.
func (p *Peeker) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Len()
}

func isNameField(n *Node) bool { return n.Name == "m_Name" || n.Name == "name" }

func truncateAtName(root *Node) *Node {
	parent := map[*Node]*Node{}
	var found *Node
	Walk(root, func(n *Node, depth int) bool {
		if found != nil {
			return false
		}
		if depth > 0 && isNameField(n) {
			found = n
			return false
		}
		if n.IsArray() {
			return false
		}
		for _, c := range n.Children {
			parent[c] = n
		}
		return true
	})
	if found == nil {
		return nil
	}

	// Copy the path bottom-up. Each copied ancestor keeps the siblings that
	// precede the path child, which are shared with the source tree.
	cut := *found
	child := &cut
	for orig := found; orig != root; orig = parent[orig] {
		up := parent[orig]
		cp := *up
		cp.Children = nil
		for _, c := range up.Children {
			if c == orig {
				break
			}
			cp.Children = append(cp.Children, c)
		}
		cp.Children = append(cp.Children, child)
		child = &cp
	}
	return child
}
