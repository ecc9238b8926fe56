package ml

import (
	"encoding/binary"
	"fmt"
	"math"
)

// TensorSet copies data into t's memory starting offset bytes into the tensor.
func TensorSet(t *Tensor, data []byte, offset int) error {
	if !t.Allocated() {
		return fmt.Errorf("%w: %q", ErrTensorNotAllocated, t.name)
	}

	return t.buffer.SetTensor(t, data, offset)
}

// TensorGet copies len(data) bytes of t's memory, starting offset bytes into
// the tensor, into data.
func TensorGet(t *Tensor, data []byte, offset int) error {
	if !t.Allocated() {
		return fmt.Errorf("%w: %q", ErrTensorNotAllocated, t.name)
	}

	return t.buffer.GetTensor(t, data, offset)
}

// TensorSetFloats writes the whole of an F32 tensor. len(s) must equal the
// tensor's element count.
func TensorSetFloats(t *Tensor, s []float32) error {
	if t.dtype != DTypeF32 {
		return fmt.Errorf("ml: tensor %q is %s, not F32", t.name, t.dtype)
	}

	if len(s) != t.NumElements() {
		return fmt.Errorf("ml: tensor %q has %d elements, got %d", t.name, t.NumElements(), len(s))
	}

	bts := make([]byte, 4*len(s))
	for i, f := range s {
		binary.LittleEndian.PutUint32(bts[4*i:], math.Float32bits(f))
	}

	return TensorSet(t, bts, 0)
}

// TensorFloats reads the whole of an F32 tensor.
func TensorFloats(t *Tensor) ([]float32, error) {
	if t.dtype != DTypeF32 {
		return nil, fmt.Errorf("ml: tensor %q is %s, not F32", t.name, t.dtype)
	}

	bts := make([]byte, t.NBytes())
	if err := TensorGet(t, bts, 0); err != nil {
		return nil, err
	}

	s := make([]float32, t.NumElements())
	for i := range s {
		s[i] = math.Float32frombits(binary.LittleEndian.Uint32(bts[4*i:]))
	}

	return s, nil
}

// HostBytes returns the memory of t without copying. t must live in a
// HostBuffer.
func HostBytes(t *Tensor) ([]byte, error) {
	if !t.Allocated() {
		return nil, fmt.Errorf("%w: %q", ErrTensorNotAllocated, t.name)
	}

	hb, ok := t.buffer.(HostBuffer)
	if !ok {
		return nil, fmt.Errorf("ml: tensor %q is not in host memory (%s)", t.name, t.buffer.Type().Name())
	}

	bts, err := hb.Bytes()
	if err != nil {
		return nil, err
	}

	return bts[t.offset : t.offset+t.NBytes()], nil
}
