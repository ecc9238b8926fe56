package gguf

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"maps"
	"math"
	"os"
	"reflect"
	"slices"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// KV is the set of key-value pairs written to a file. Values must be one of
// the fixed-width numeric types, bool, string, or a slice of those.
type KV map[string]any

// Tensor is a tensor to be written. WriterTo must produce exactly the number
// of bytes implied by Type and Shape.
type Tensor struct {
	Name  string
	Type  TensorType
	Shape []uint64

	io.WriterTo
}

func (t *Tensor) info() TensorInfo {
	return TensorInfo{Name: t.Name, Type: t.Type, Shape: t.Shape}
}

// NewTensor encodes values as a tensor of type F32, F16 or BF16.
func NewTensor(name string, tt TensorType, shape []uint64, values []float32) (*Tensor, error) {
	t := &Tensor{Name: name, Type: tt, Shape: shape}
	if n := t.info().NumValues(); n != uint64(len(values)) {
		return nil, fmt.Errorf("gguf: tensor %q has %d values, shape %v needs %d", name, len(values), shape, n)
	}

	var bts []byte
	switch tt {
	case TensorTypeF32:
		bts = make([]byte, 4*len(values))
		for i, v := range values {
			binary.LittleEndian.PutUint32(bts[4*i:], math.Float32bits(v))
		}
	case TensorTypeF16:
		bts = make([]byte, 2*len(values))
		for i, v := range values {
			binary.LittleEndian.PutUint16(bts[2*i:], float16.Fromfloat32(v).Bits())
		}
	case TensorTypeBF16:
		bts = bfloat16.EncodeFloat32(values)
	default:
		return nil, fmt.Errorf("gguf: cannot encode %s tensor %q", tt, name)
	}

	t.WriterTo = bytes.NewReader(bts)
	return t, nil
}

// WriteFile writes a version 3 GGUF file to path.
func WriteFile(path string, kv KV, ts []*Tensor) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := Write(f, kv, ts); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

// Write encodes a version 3 GGUF file. Keys are written in sorted order and
// tensors in the order given, each aligned to general.alignment.
func Write(w io.Writer, kv KV, ts []*Tensor) error {
	alignment := uint64(DefaultAlignment)
	if v, ok := kv["general.alignment"]; ok {
		alignment = Value{v}.Uint()
		if alignment == 0 || alignment&(alignment-1) != 0 {
			return fmt.Errorf("gguf: alignment %v is not a power of two", v)
		}
	}

	bw := bufio.NewWriter(w)
	cw := &countWriter{w: bw}

	if _, err := cw.Write([]byte(magic)); err != nil {
		return err
	}

	if err := writeAll(cw, uint32(3), uint64(len(ts)), uint64(len(kv))); err != nil {
		return err
	}

	for _, key := range slices.Sorted(maps.Keys(kv)) {
		if err := writeKeyValue(cw, key, kv[key]); err != nil {
			return err
		}
	}

	var offset uint64
	for _, t := range ts {
		ti := t.info()
		if !ti.Valid() {
			return fmt.Errorf("gguf: invalid tensor %q", t.Name)
		}

		if err := writeString(cw, t.Name); err != nil {
			return err
		}

		if err := writeAll(cw, uint32(len(t.Shape)), t.Shape, uint32(t.Type), offset); err != nil {
			return err
		}

		offset = padding(offset+ti.NumBytes(), alignment)
	}

	for _, t := range ts {
		if err := pad(cw, alignment); err != nil {
			return err
		}

		want := int64(t.info().NumBytes())
		n, err := t.WriteTo(cw)
		if err != nil {
			return err
		}

		if n != want {
			return fmt.Errorf("gguf: tensor %q wrote %d bytes, want %d", t.Name, n, want)
		}
	}

	return bw.Flush()
}

type countWriter struct {
	w io.Writer
	n uint64
}

func (w *countWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.n += uint64(n)
	return n, err
}

func pad(w *countWriter, alignment uint64) error {
	_, err := w.Write(make([]byte, padding(w.n, alignment)-w.n))
	return err
}

func writeAll(w io.Writer, vs ...any) error {
	for _, v := range vs {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(s))); err != nil {
		return err
	}

	_, err := io.WriteString(w, s)
	return err
}

func valueType(v any) (uint32, bool) {
	switch v.(type) {
	case uint8, []uint8:
		return typeUint8, true
	case int8, []int8:
		return typeInt8, true
	case uint16, []uint16:
		return typeUint16, true
	case int16, []int16:
		return typeInt16, true
	case uint32, []uint32:
		return typeUint32, true
	case int32, []int32:
		return typeInt32, true
	case float32, []float32:
		return typeFloat32, true
	case bool, []bool:
		return typeBool, true
	case string, []string:
		return typeString, true
	case uint64, []uint64:
		return typeUint64, true
	case int64, []int64:
		return typeInt64, true
	case float64, []float64:
		return typeFloat64, true
	default:
		return 0, false
	}
}

func writeKeyValue(w io.Writer, key string, v any) error {
	t, ok := valueType(v)
	if !ok {
		return fmt.Errorf("gguf: key %q has unsupported type %T", key, v)
	}

	if err := writeString(w, key); err != nil {
		return err
	}

	switch v := v.(type) {
	case string:
		if err := writeAll(w, typeString); err != nil {
			return err
		}
		return writeString(w, v)
	case []string:
		if err := writeAll(w, typeArray, typeString, uint64(len(v))); err != nil {
			return err
		}
		for _, s := range v {
			if err := writeString(w, s); err != nil {
				return err
			}
		}
		return nil
	case []bool, []uint8, []int8, []uint16, []int16, []uint32, []int32, []float32, []uint64, []int64, []float64:
		return writeAll(w, typeArray, t, uint64(reflect.ValueOf(v).Len()), v)
	default:
		return writeAll(w, t, v)
	}
}
