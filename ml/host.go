package ml

import (
	"errors"
	"fmt"
	"math"
)

// PadSize rounds n up to a multiple of align.
func PadSize(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

type hostBufferType struct {
	name      string
	alignment int
}

// NewHostBufferType returns a buffer type backed by ordinary Go memory.
func NewHostBufferType(name string, alignment int) BufferType {
	return &hostBufferType{name: name, alignment: alignment}
}

func (bt *hostBufferType) Name() string   { return bt.name }
func (bt *hostBufferType) Alignment() int { return bt.alignment }
func (bt *hostBufferType) MaxSize() int   { return math.MaxInt }

func (bt *hostBufferType) Alloc(size int) (Buffer, error) {
	if size < 0 {
		return nil, &AllocationError{BufferType: bt.name, Size: size, Err: errors.New("negative size")}
	}

	return &hostBuffer{bt: bt, data: make([]byte, size)}, nil
}

type hostBuffer struct {
	bt       *hostBufferType
	data     []byte
	released bool
}

func (b *hostBuffer) Type() BufferType { return b.bt }

func (b *hostBuffer) Size() int { return len(b.data) }

func (b *hostBuffer) Bytes() ([]byte, error) {
	if b.released {
		return nil, ErrBufferReleased
	}
	return b.data, nil
}

func (b *hostBuffer) region(t *Tensor, n, offset int) ([]byte, error) {
	if b.released {
		return nil, ErrBufferReleased
	}

	if t.buffer == nil {
		return nil, fmt.Errorf("%w: %q", ErrTensorNotAllocated, t.name)
	}

	if offset < 0 || offset+n > t.NBytes() {
		return nil, fmt.Errorf("ml: %d bytes at offset %d out of range for tensor %q of %d bytes", n, offset, t.name, t.NBytes())
	}

	start := t.offset + offset
	return b.data[start : start+n], nil
}

func (b *hostBuffer) SetTensor(t *Tensor, data []byte, offset int) error {
	dst, err := b.region(t, len(data), offset)
	if err != nil {
		return err
	}

	copy(dst, data)
	return nil
}

func (b *hostBuffer) GetTensor(t *Tensor, data []byte, offset int) error {
	src, err := b.region(t, len(data), offset)
	if err != nil {
		return err
	}

	copy(data, src)
	return nil
}

func (b *hostBuffer) Clear(value byte) error {
	if b.released {
		return ErrBufferReleased
	}

	for i := range b.data {
		b.data[i] = value
	}
	return nil
}

func (b *hostBuffer) Free() error {
	if b.released {
		return ErrBufferReleased
	}

	b.released = true
	b.data = nil
	return nil
}
