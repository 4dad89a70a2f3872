package ref

import (
	"runtime"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type container struct {
	name string
	node *Node
}

func newContainer(name string) *container {
	c := &container{name: name}
	c.node = NewNode(c)
	return c
}

func TestMarkChangedPropagates(t *testing.T) {
	bundle := newContainer("bundle")
	nested := newContainer("nested")
	file := newContainer("file")
	nested.node.Attach(bundle.node)
	file.node.Attach(nested.node)

	file.node.MarkChanged()
	assert.True(t, file.node.Changed())
	assert.True(t, nested.node.Changed())
	assert.True(t, bundle.node.Changed())

	bundle.node.ResetChanged()
	assert.False(t, bundle.node.Changed())
	assert.True(t, nested.node.Changed())

	p, err := file.node.Parent()
	require.NoError(t, err)
	assert.Same(t, nested, p.Owner())
	runtime.KeepAlive(bundle)
}

//go:noinline
func attachToTemporary(child *Node) {
	parent := newContainer("temporary")
	child.Attach(parent.node)
}

func TestParentGone(t *testing.T) {
	child := newContainer("child")
	attachToTemporary(child.node)
	runtime.GC()

	_, err := child.node.Parent()
	assert.True(t, errors.Is(err, ErrGone))
	assert.NotPanics(t, child.node.MarkChanged)
	assert.True(t, child.node.Changed())
}

func TestZeroLink(t *testing.T) {
	var l Link[int]
	_, err := l.Get()
	assert.True(t, errors.Is(err, ErrGone))

	_, err = NewLink[int](nil).Get()
	assert.True(t, errors.Is(err, ErrGone))

	v := 5
	l = NewLink(&v)
	got, err := l.Get()
	require.NoError(t, err)
	assert.Equal(t, 5, *got)
	runtime.KeepAlive(&v)
}
