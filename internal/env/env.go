// Package env loads asset files from disk into a shared environment whose
// registry resolves references between them.
package env

import (
	"bytes"
	"context"
	"io/fs"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/eichs/unityfs/internal/binio"
	"github.com/eichs/unityfs/internal/bundle"
	"github.com/eichs/unityfs/internal/compress"
	"github.com/eichs/unityfs/internal/serialized"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/mmap"
	"golang.org/x/sync/errgroup"
)

// Kind tells what a loaded file was decoded as.
type Kind int

const (
	KindRaw Kind = iota
	KindSerialized
	KindBundle
)

func (k Kind) String() string {
	switch k {
	case KindSerialized:
		return "serialized"
	case KindBundle:
		return "bundle"
	}
	return "raw"
}

// Asset is one top-level file of the environment.
type Asset struct {
	Path   string
	Kind   Kind
	Data   []byte
	Bundle *bundle.File
	File   *serialized.File
}

// Files returns the serialized files held by the asset.
func (a *Asset) Files() []*serialized.File {
	switch a.Kind {
	case KindBundle:
		return a.Bundle.Files()
	case KindSerialized:
		return []*serialized.File{a.File}
	}
	return nil
}

// Changed reports whether the asset was modified since it was loaded or
// saved.
func (a *Asset) Changed() bool {
	switch a.Kind {
	case KindBundle:
		return a.Bundle.Changed()
	case KindSerialized:
		return a.File.Changed()
	}
	return false
}

// Save re-encodes the asset. Raw assets are returned unchanged.
func (a *Asset) Save(p bundle.Profile) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch a.Kind {
	case KindBundle:
		out, err = a.Bundle.Save(p)
	case KindSerialized:
		out, err = a.File.Save()
	default:
		return a.Data, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "save %s", a.Path)
	}
	a.Data = out
	return out, nil
}

// Environment owns every loaded asset. Its registry is shared by all of
// them, so a reference may point into any file loaded before it is
// followed.
type Environment struct {
	cfg      bundle.Config
	registry *serialized.Registry

	mu     sync.Mutex
	assets []*Asset
}

// New returns an empty environment. cfg.Registry is replaced by the
// environment's own.
func New(cfg bundle.Config) *Environment {
	reg := serialized.NewRegistry()
	cfg.Registry = reg
	return &Environment{cfg: cfg, registry: reg}
}

func (e *Environment) Registry() *serialized.Registry { return e.registry }

// Assets returns the loaded assets sorted by path.
func (e *Environment) Assets() []*Asset {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := append([]*Asset(nil), e.assets...)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Files returns every serialized file of the environment.
func (e *Environment) Files() []*serialized.File {
	var out []*serialized.File
	for _, a := range e.Assets() {
		out = append(out, a.Files()...)
	}
	return out
}

// Objects returns a reader for every object of every serialized file.
func (e *Environment) Objects() []*serialized.ObjectReader {
	var out []*serialized.ObjectReader
	for _, f := range e.Files() {
		out = append(out, f.ObjectReaders()...)
	}
	return out
}

// Load decodes data as a bundle, a serialized file or a raw blob and adds
// it to the environment. Gzip wrapped input is unpacked first.
func (e *Environment) Load(path string, data []byte) (*Asset, error) {
	if compress.IsGzip(data) {
		plain, err := compress.Gunzip(data)
		if err != nil {
			return nil, errors.Wrapf(err, "gunzip %s", path)
		}
		data = plain
		path = strings.TrimSuffix(path, ".gz")
	}
	a := &Asset{Path: path, Data: data}
	name := filepath.Base(path)
	switch {
	case bundle.HasSignature(data):
		b, err := bundle.Parse(name, data, e.cfg)
		if err != nil {
			return nil, err
		}
		a.Kind, a.Bundle = KindBundle, b
	case serialized.Plausible(data):
		f, err := serialized.Parse(name, data, e.cfg.Serialized)
		if err != nil {
			logrus.WithError(err).WithField("path", path).Debug("not a serialized file, loading raw")
			e.registry.AddResource(name, bytes.NewReader(data))
			break
		}
		e.registry.AddFile(name, f)
		a.Kind, a.File = KindSerialized, f
	default:
		e.registry.AddResource(name, bytes.NewReader(data))
	}

	e.mu.Lock()
	e.assets = append(e.assets, a)
	e.mu.Unlock()
	logrus.WithFields(logrus.Fields{"path": path, "kind": a.Kind}).Debug("loaded asset")
	return a, nil
}

// LoadFile reads a file through a read-only memory map and loads it.
func (e *Environment) LoadFile(path string) (*Asset, error) {
	data, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	a, err := e.Load(path, data)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return a, nil
}

// LoadFiles loads paths in parallel. The first failure cancels the rest.
func (e *Environment) LoadFiles(ctx context.Context, paths []string) ([]*Asset, error) {
	out := make([]*Asset, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			a, err := e.LoadFile(p)
			if err != nil {
				return err
			}
			out[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadPaths loads files and, recursively, the regular files of
// directories.
func (e *Environment) LoadPaths(ctx context.Context, paths []string) ([]*Asset, error) {
	var files []string
	for _, root := range paths {
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "walk %s", root)
		}
	}
	return e.LoadFiles(ctx, files)
}

// ReadFile copies a whole file out of a read-only memory map.
func ReadFile(path string) ([]byte, error) {
	ra, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer ra.Close()
	r, err := binio.ReadFull(ra, int64(ra.Len()), binio.BigEndian)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return r.Data(), nil
}
