package object

import (
	"math"
	"reflect"

	"github.com/eichs/unityfs/internal/binio"
	"github.com/pkg/errors"
)

type primitive struct {
	size  int
	read  func(r *binio.Reader) (any, error)
	write func(w *binio.Writer, v any) error
}

func readAs[T any](f func(*binio.Reader) (T, error)) func(*binio.Reader) (any, error) {
	return func(r *binio.Reader) (any, error) {
		v, err := f(r)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

func writeInt[T int8 | int16 | int32 | int64](f func(*binio.Writer, T)) func(*binio.Writer, any) error {
	return func(w *binio.Writer, v any) error {
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		f(w, T(n))
		return nil
	}
}

func writeUint[T uint8 | uint16 | uint32 | uint64](f func(*binio.Writer, T)) func(*binio.Writer, any) error {
	return func(w *binio.Writer, v any) error {
		n, err := toUint64(v)
		if err != nil {
			return err
		}
		f(w, T(n))
		return nil
	}
}

var (
	pI8   = primitive{1, readAs((*binio.Reader).I8), writeInt((*binio.Writer).I8)}
	pU8   = primitive{1, readAs((*binio.Reader).U8), writeUint((*binio.Writer).U8)}
	pI16  = primitive{2, readAs((*binio.Reader).I16), writeInt((*binio.Writer).I16)}
	pU16  = primitive{2, readAs((*binio.Reader).U16), writeUint((*binio.Writer).U16)}
	pI32  = primitive{4, readAs((*binio.Reader).I32), writeInt((*binio.Writer).I32)}
	pU32  = primitive{4, readAs((*binio.Reader).U32), writeUint((*binio.Writer).U32)}
	pI64  = primitive{8, readAs((*binio.Reader).I64), writeInt((*binio.Writer).I64)}
	pU64  = primitive{8, readAs((*binio.Reader).U64), writeUint((*binio.Writer).U64)}
	pF32  = primitive{4, readAs((*binio.Reader).F32), func(w *binio.Writer, v any) error {
		f, err := toFloat64(v)
		w.F32(float32(f))
		return err
	}}
	pF64 = primitive{8, readAs((*binio.Reader).F64), func(w *binio.Writer, v any) error {
		f, err := toFloat64(v)
		w.F64(f)
		return err
	}}
	pBool = primitive{1, readAs((*binio.Reader).Bool), func(w *binio.Writer, v any) error {
		b, ok := v.(bool)
		if !ok {
			n, err := toInt64(v)
			if err != nil {
				return err
			}
			b = n != 0
		}
		w.Bool(b)
		return nil
	}}
)

var primitives = map[string]primitive{
	"SInt8":              pI8,
	"UInt8":              pU8,
	"char":               pU8,
	"SInt16":             pI16,
	"short":              pI16,
	"UInt16":             pU16,
	"unsigned short":     pU16,
	"SInt32":             pI32,
	"int":                pI32,
	"UInt32":             pU32,
	"unsigned int":       pU32,
	"Type*":              pU32,
	"SInt64":             pI64,
	"long long":          pI64,
	"UInt64":             pU64,
	"unsigned long long": pU64,
	"FileSize":           pU64,
	"float":              pF32,
	"double":             pF64,
	"bool":               pBool,
}

func toInt64(v any) (int64, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return int64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return int64(rv.Float()), nil
	case reflect.Bool:
		if rv.Bool() {
			return 1, nil
		}
		return 0, nil
	}
	return 0, errors.Errorf("object: %T is not an integer", v)
}

func toUint64(v any) (uint64, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint(), nil
	}
	n, err := toInt64(v)
	return uint64(n), err
}

func toFloat64(v any) (float64, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	n, err := toInt64(v)
	if err != nil {
		return math.NaN(), err
	}
	return float64(n), nil
}
