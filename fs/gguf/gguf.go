// Package gguf reads and writes GGUF tensor containers.
package gguf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"math/bits"
	"os"
	"strings"
)

const (
	magic = "GGUF"

	DefaultAlignment = 32
	MaxDims          = 4

	maxStringLength = 1 << 20
	maxArrayLength  = 100_000_000
)

var ErrMalformed = errors.New("gguf: malformed file")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// File is an open GGUF file. The key-value section and the tensor directory
// are read and validated by Open; tensor data is read on demand.
type File struct {
	Version uint32

	keyValues []KeyValue
	tensors   []TensorInfo
	keys      map[string]int
	names     map[string]int

	alignment uint64
	offset    int64
	size      int64

	file   *os.File
	reader *readSeeker
}

// Open reads the header and tensor directory of the GGUF file at path. Any
// structural problem is reported as an error wrapping ErrMalformed.
func Open(path string) (f *File, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			file.Close()
		}
	}()

	fi, err := file.Stat()
	if err != nil {
		return nil, err
	}

	f = &File{
		file:   file,
		reader: newReadSeeker(file, 32<<10),
		size:   fi.Size(),
		keys:   make(map[string]int),
		names:  make(map[string]int),
	}

	if err := f.decode(); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			err = malformed("unexpected end of file")
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return f, nil
}

func (f *File) decode() error {
	var m [4]byte
	if _, err := io.ReadFull(f.reader, m[:]); err != nil {
		return err
	}

	if string(m[:]) != magic {
		return malformed("invalid magic %q", m[:])
	}

	if err := binary.Read(f.reader, binary.LittleEndian, &f.Version); err != nil {
		return err
	}

	if f.Version < 2 || f.Version > 3 {
		return malformed("unsupported version %d", f.Version)
	}

	var numTensors, numKeyValues uint64
	if err := binary.Read(f.reader, binary.LittleEndian, &numTensors); err != nil {
		return err
	}

	if err := binary.Read(f.reader, binary.LittleEndian, &numKeyValues); err != nil {
		return err
	}

	// every entry occupies at least one byte
	if numTensors > uint64(f.size) || numKeyValues > uint64(f.size) {
		return malformed("%d tensors and %d key-values in a %d byte file", numTensors, numKeyValues, f.size)
	}

	for range numKeyValues {
		kv, err := f.readKeyValue()
		if err != nil {
			return err
		}

		if _, ok := f.keys[kv.Key]; ok {
			return malformed("duplicate key %q", kv.Key)
		}

		f.keys[kv.Key] = len(f.keyValues)
		f.keyValues = append(f.keyValues, kv)
	}

	f.alignment = DefaultAlignment
	if kv := f.KeyValue("general.alignment"); kv.Valid() {
		alignment := kv.Uint()
		if alignment == 0 || alignment&(alignment-1) != 0 {
			return malformed("alignment %d is not a power of two", alignment)
		}
		f.alignment = alignment
	}

	for range numTensors {
		ti, err := f.readTensorInfo()
		if err != nil {
			return err
		}

		if _, ok := f.names[ti.Name]; ok {
			return malformed("duplicate tensor %q", ti.Name)
		}

		f.names[ti.Name] = len(f.tensors)
		f.tensors = append(f.tensors, ti)
	}

	offset, err := f.reader.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	f.offset = int64(padding(uint64(offset), f.alignment))

	var avail uint64
	if f.offset < f.size {
		avail = uint64(f.size - f.offset)
	}

	for _, ti := range f.tensors {
		if ti.Offset%f.alignment != 0 {
			return malformed("tensor %q offset %d is not aligned to %d", ti.Name, ti.Offset, f.alignment)
		}

		if ti.Offset > avail || ti.NumBytes() > avail-ti.Offset {
			return malformed("tensor %q data extends past end of file", ti.Name)
		}
	}

	return nil
}

func padding(n, align uint64) uint64 {
	return (n + align - 1) / align * align
}

func (f *File) readKeyValue() (KeyValue, error) {
	key, err := readString(f.reader)
	if err != nil {
		return KeyValue{}, err
	}

	var t uint32
	if err := binary.Read(f.reader, binary.LittleEndian, &t); err != nil {
		return KeyValue{}, err
	}

	v, err := readValue(f.reader, t, f.size-f.reader.pos)
	if err != nil {
		return KeyValue{}, fmt.Errorf("key %q: %w", key, err)
	}

	return KeyValue{Key: key, Value: Value{v}}, nil
}

func (f *File) readTensorInfo() (TensorInfo, error) {
	name, err := readString(f.reader)
	if err != nil {
		return TensorInfo{}, err
	}

	var dims uint32
	if err := binary.Read(f.reader, binary.LittleEndian, &dims); err != nil {
		return TensorInfo{}, err
	}

	if dims == 0 || dims > MaxDims {
		return TensorInfo{}, malformed("tensor %q has %d dimensions", name, dims)
	}

	shape := make([]uint64, dims)
	if err := binary.Read(f.reader, binary.LittleEndian, shape); err != nil {
		return TensorInfo{}, err
	}

	var n uint64 = 1
	for _, dim := range shape {
		if dim == 0 {
			return TensorInfo{}, malformed("tensor %q has an empty dimension", name)
		}

		hi, lo := bits.Mul64(n, dim)
		if hi != 0 || lo > math.MaxInt64/512 {
			return TensorInfo{}, malformed("tensor %q shape %v overflows", name, shape)
		}
		n = lo
	}

	var t uint32
	if err := binary.Read(f.reader, binary.LittleEndian, &t); err != nil {
		return TensorInfo{}, err
	}

	tt := TensorType(t)
	if !tt.Valid() {
		return TensorInfo{}, malformed("tensor %q has unknown type %d", name, t)
	}

	if shape[0]%tt.BlockSize() != 0 {
		return TensorInfo{}, malformed("tensor %q row size %d is not a multiple of the %s block size", name, shape[0], tt)
	}

	var offset uint64
	if err := binary.Read(f.reader, binary.LittleEndian, &offset); err != nil {
		return TensorInfo{}, err
	}

	return TensorInfo{Name: name, Offset: offset, Shape: shape, Type: tt}, nil
}

func readString(r io.Reader) (string, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}

	if n > maxStringLength {
		return "", malformed("string length %d exceeds %d", n, maxStringLength)
	}

	bts := make([]byte, n)
	if _, err := io.ReadFull(r, bts); err != nil {
		return "", err
	}

	return string(bts), nil
}

func readScalar[T any](r io.Reader) (T, error) {
	var v T
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

// readValue decodes one value of type t. remaining bounds the size of arrays.
func readValue(r io.Reader, t uint32, remaining int64) (any, error) {
	switch t {
	case typeUint8:
		return readScalar[uint8](r)
	case typeInt8:
		return readScalar[int8](r)
	case typeUint16:
		return readScalar[uint16](r)
	case typeInt16:
		return readScalar[int16](r)
	case typeUint32:
		return readScalar[uint32](r)
	case typeInt32:
		return readScalar[int32](r)
	case typeFloat32:
		return readScalar[float32](r)
	case typeBool:
		b, err := readScalar[uint8](r)
		return b != 0, err
	case typeString:
		return readString(r)
	case typeUint64:
		return readScalar[uint64](r)
	case typeInt64:
		return readScalar[int64](r)
	case typeFloat64:
		return readScalar[float64](r)
	case typeArray:
		return readArray(r, remaining)
	default:
		return nil, malformed("unknown value type %d", t)
	}
}

func readArraySlice[T any](r io.Reader, n uint64) ([]T, error) {
	s := make([]T, n)
	err := binary.Read(r, binary.LittleEndian, s)
	return s, err
}

// elementSizes is the smallest encoding of one array element; a string is at
// least its length prefix.
var elementSizes = map[uint32]int64{
	typeUint8: 1, typeInt8: 1, typeBool: 1,
	typeUint16: 2, typeInt16: 2,
	typeUint32: 4, typeInt32: 4, typeFloat32: 4,
	typeUint64: 8, typeInt64: 8, typeFloat64: 8,
	typeString: 8,
}

func readArray(r io.Reader, remaining int64) (any, error) {
	var t uint32
	if err := binary.Read(r, binary.LittleEndian, &t); err != nil {
		return nil, err
	}

	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}

	if n > maxArrayLength {
		return nil, malformed("array length %d exceeds %d", n, maxArrayLength)
	}

	size, ok := elementSizes[t]
	if !ok {
		return nil, malformed("unsupported array element type %d", t)
	}

	// remaining still counts the type and length just read
	if remaining -= 12; remaining < 0 || n > uint64(remaining/size) {
		return nil, malformed("array of %d elements does not fit in the %d bytes left", n, max(remaining, 0))
	}

	switch t {
	case typeUint8:
		return readArraySlice[uint8](r, n)
	case typeInt8:
		return readArraySlice[int8](r, n)
	case typeUint16:
		return readArraySlice[uint16](r, n)
	case typeInt16:
		return readArraySlice[int16](r, n)
	case typeUint32:
		return readArraySlice[uint32](r, n)
	case typeInt32:
		return readArraySlice[int32](r, n)
	case typeFloat32:
		return readArraySlice[float32](r, n)
	case typeUint64:
		return readArraySlice[uint64](r, n)
	case typeInt64:
		return readArraySlice[int64](r, n)
	case typeFloat64:
		return readArraySlice[float64](r, n)
	case typeBool:
		u8s, err := readArraySlice[uint8](r, n)
		if err != nil {
			return nil, err
		}
		bools := make([]bool, n)
		for i, b := range u8s {
			bools[i] = b != 0
		}
		return bools, nil
	case typeString:
		s := make([]string, n)
		for i := range s {
			var err error
			if s[i], err = readString(r); err != nil {
				return nil, err
			}
		}
		return s, nil
	default:
		return nil, malformed("unsupported array element type %d", t)
	}
}

// KeyValue returns the value of key. Keys outside the general. and tokenizer.
// namespaces are looked up under the model architecture, so "block_count"
// finds "llama.block_count". The result is invalid if the key is absent.
func (f *File) KeyValue(key string) KeyValue {
	if !strings.HasPrefix(key, "general.") && !strings.HasPrefix(key, "tokenizer.") {
		if arch := f.KeyValue("general.architecture").String(); arch != "" && !strings.HasPrefix(key, arch+".") {
			key = arch + "." + key
		}
	}

	if i, ok := f.keys[key]; ok {
		return f.keyValues[i]
	}

	return KeyValue{}
}

func (f *File) NumKeyValues() int {
	return len(f.keyValues)
}

// KeyValues iterates the key-value pairs in file order.
func (f *File) KeyValues() iter.Seq2[int, KeyValue] {
	return func(yield func(int, KeyValue) bool) {
		for i, kv := range f.keyValues {
			if !yield(i, kv) {
				return
			}
		}
	}
}

// TensorInfo returns the directory entry for name. The result is invalid if
// there is no such tensor.
func (f *File) TensorInfo(name string) TensorInfo {
	if i, ok := f.names[name]; ok {
		return f.tensors[i]
	}

	return TensorInfo{}
}

func (f *File) NumTensors() int {
	return len(f.tensors)
}

// TensorInfos iterates the tensor directory in file order.
func (f *File) TensorInfos() iter.Seq2[int, TensorInfo] {
	return func(yield func(int, TensorInfo) bool) {
		for i, ti := range f.tensors {
			if !yield(i, ti) {
				return
			}
		}
	}
}

// TensorReader returns a reader over the raw data of tensor name. Readers of
// different tensors may be used concurrently.
func (f *File) TensorReader(name string) (TensorInfo, io.Reader, error) {
	ti := f.TensorInfo(name)
	if !ti.Valid() {
		return TensorInfo{}, nil, fmt.Errorf("gguf: tensor %q not found", name)
	}

	return ti, io.NewSectionReader(f.file, f.offset+int64(ti.Offset), int64(ti.NumBytes())), nil
}

// Alignment of the data section and of every tensor offset within it.
func (f *File) Alignment() uint64 {
	return f.alignment
}

// DataOffset is the file offset of the first byte of tensor data.
func (f *File) DataOffset() int64 {
	return f.offset
}

func (f *File) Close() error {
	return f.file.Close()
}
