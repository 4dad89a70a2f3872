package serialized

import (
	"io"
	"strings"
	"sync"

	"github.com/eichs/unityfs/internal/object"
	"github.com/pkg/errors"
)

// Registry maps CAB names to loaded files and resource blobs so references
// can cross file boundaries. Names are matched case-insensitively on their
// last path element.
type Registry struct {
	mu        sync.RWMutex
	files     map[string]*File
	resources map[string]io.ReaderAt
}

func NewRegistry() *Registry {
	return &Registry{
		files:     map[string]*File{},
		resources: map[string]io.ReaderAt{},
	}
}

func registryKey(name string) string { return strings.ToLower(baseName(name)) }

// AddFile registers f under name and points f at the registry.
func (reg *Registry) AddFile(name string, f *File) {
	reg.mu.Lock()
	reg.files[registryKey(name)] = f
	reg.mu.Unlock()
	f.SetRegistry(reg)
}

// AddResource registers a raw blob such as a .resS file.
func (reg *Registry) AddResource(name string, r io.ReaderAt) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.resources[registryKey(name)] = r
}

func (reg *Registry) File(name string) (*File, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	f, ok := reg.files[registryKey(name)]
	return f, ok
}

func (reg *Registry) Resource(name string) (io.ReaderAt, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.resources[registryKey(name)]
	return r, ok
}

// Files returns the registered file names.
func (reg *Registry) Files() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]string, 0, len(reg.files))
	for name := range reg.files {
		out = append(out, name)
	}
	return out
}

// Remove drops name from both tables.
func (reg *Registry) Remove(name string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.files, registryKey(name))
	delete(reg.resources, registryKey(name))
}

// ResolveStrict follows p to the object it names. File id 0 is f itself;
// others go through the externals table and the registry.
func (f *File) ResolveStrict(p object.PPtr) (*ObjectReader, error) {
	if p.IsNull() {
		return nil, errors.Wrap(ErrUnresolved, "null reference")
	}
	target := f
	if p.FileID != 0 {
		if p.FileID < 0 || int(p.FileID) > len(f.Externals) {
			return nil, errors.Wrapf(ErrUnresolved, "%s: file id out of range (%d externals)", p, len(f.Externals))
		}
		name := f.Externals[p.FileID-1].FileName()
		reg, err := f.Registry()
		if err != nil {
			return nil, errors.Wrapf(ErrUnresolved, "%s: %s: %v", p, name, err)
		}
		ext, ok := reg.File(name)
		if !ok {
			return nil, errors.Wrapf(ErrUnresolved, "%s: %s not loaded", p, name)
		}
		target = ext
	}
	o, ok := target.Object(p.PathID)
	if !ok {
		return nil, errors.Wrapf(ErrUnresolved, "%s: no object in %s", p, target.Name)
	}
	return o, nil
}

// Resolve is ResolveStrict with an unresolved reference reported as
// absent.
func (f *File) Resolve(p object.PPtr) (*ObjectReader, bool) {
	o, err := f.ResolveStrict(p)
	return o, err == nil
}
