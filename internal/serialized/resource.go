package serialized

import (
	"io"

	"github.com/eichs/unityfs/internal/object"
	"github.com/pkg/errors"
)

// ReadResource reads size bytes at offset from a resource file named by an
// archive path such as "archive:/CAB-x/CAB-x.resS".
func (f *File) ReadResource(path string, offset uint64, size uint32) ([]byte, error) {
	reg, err := f.Registry()
	if err != nil {
		return nil, errors.Wrapf(ErrUnresolved, "resource %s: %v", path, err)
	}
	ra, ok := reg.Resource(path)
	if !ok {
		return nil, errors.Wrapf(ErrUnresolved, "resource %s not loaded", path)
	}
	buf := make([]byte, size)
	n, err := ra.ReadAt(buf, int64(offset))
	if n == len(buf) {
		return buf, nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return nil, errors.Wrapf(err, "read %d bytes at %d from %s", size, offset, path)
}

// TextureData returns the pixel payload of tex, inline or streamed.
func (f *File) TextureData(tex *object.Texture2D) ([]byte, error) {
	if len(tex.ImageData) > 0 || tex.StreamData.Path == "" {
		return tex.ImageData, nil
	}
	return f.ReadResource(tex.StreamData.Path, tex.StreamData.Offset, tex.StreamData.Size)
}
