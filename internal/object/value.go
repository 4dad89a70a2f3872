// Package object decodes and encodes object payloads against their type
// trees.
//
// Values are dynamically typed: compound fields become map[string]any,
// arrays []any, "pair" nodes Pair, PPtr<...> nodes PPtr, TypelessData
// []byte, and primitives the matching Go scalar. In typed mode the map keys
// are SanitizeName forms of the field names and the top-level value can be
// turned into one of the Object kinds with Construct.
package object

import (
	"fmt"

	"github.com/eichs/unityfs/internal/typetree"
	"github.com/pkg/errors"
)

var (
	// ErrUnresolved marks a reference that could not be followed.
	ErrUnresolved = errors.New("object: reference unresolved")
	// ErrMissingField is returned by Encode when a value lacks a field the
	// type tree requires.
	ErrMissingField = errors.New("object: missing field")
)

// PPtr is a reference to an object, possibly in another file. FileID 0 is
// the owning file; other ids index its externals table plus one.
type PPtr struct {
	FileID int32
	PathID int64
}

// IsNull reports whether the reference points nowhere.
func (p PPtr) IsNull() bool { return p.PathID == 0 }

func (p PPtr) String() string { return fmt.Sprintf("PPtr{%d, %d}", p.FileID, p.PathID) }

// Pair is the value of a "pair" node.
type Pair struct {
	First  any
	Second any
}

// ByteCountError reports that decoding an object consumed a different
// number of bytes than the object table declares.
type ByteCountError struct {
	Type     string
	Expected int64
	Read     int64
}

func (e *ByteCountError) Error() string {
	return fmt.Sprintf("object: %s read %d bytes, expected %d", e.Type, e.Read, e.Expected)
}

// RefTypeResolver finds the type tree of a managed reference type by its
// class, namespace and assembly names.
type RefTypeResolver interface {
	ResolveRefType(class, namespace, assembly string) *typetree.Node
}

// Options controls one Decode or Encode call.
type Options struct {
	// Typed selects sanitized map keys instead of raw field names.
	Typed bool
	// Strict makes DecodeBytes fail unless the object is consumed exactly.
	Strict bool
	// Refs resolves ReferencedObject payload types.
	Refs RefTypeResolver
}

func (o Options) key(name string) string {
	if o.Typed {
		return SanitizeName(name)
	}
	return name
}
