// Package mltest provides instrumented backends and buffers that count
// allocations, releases and computations so tests can check that resources
// are released exactly once.
package mltest

import (
	"errors"
	"fmt"

	"github.com/tinygraph/tinygraph/ml"
)

var ErrLimit = errors.New("mltest: allocation limit exceeded")

// BufferType wraps another buffer type and records what happens to its
// buffers.
type BufferType struct {
	ml.BufferType

	// Limit fails any request larger than Limit bytes when non-zero.
	Limit int

	// Shrink makes every buffer Shrink bytes smaller than requested.
	Shrink int

	Allocs      int
	Frees       int
	DoubleFrees int
}

func NewBufferType(bt ml.BufferType) *BufferType {
	return &BufferType{BufferType: bt}
}

func (bt *BufferType) Alloc(size int) (ml.Buffer, error) {
	if bt.Limit > 0 && size > bt.Limit {
		return nil, &ml.AllocationError{BufferType: bt.Name(), Size: size, Err: ErrLimit}
	}

	b, err := bt.BufferType.Alloc(max(size-bt.Shrink, 0))
	if err != nil {
		return nil, err
	}

	bt.Allocs++
	return &Buffer{Buffer: b, bt: bt}, nil
}

// Live is the number of buffers allocated and not yet freed.
func (bt *BufferType) Live() int {
	return bt.Allocs - bt.Frees
}

type Buffer struct {
	ml.Buffer
	bt *BufferType
}

func (b *Buffer) Type() ml.BufferType { return b.bt }

func (b *Buffer) Free() error {
	err := b.Buffer.Free()
	switch {
	case errors.Is(err, ml.ErrBufferReleased):
		b.bt.DoubleFrees++
	case err == nil:
		b.bt.Frees++
	}
	return err
}

// Bytes exposes the wrapped buffer's memory so the CPU backend can compute
// on tensors placed in it.
func (b *Buffer) Bytes() ([]byte, error) {
	hb, ok := b.Buffer.(ml.HostBuffer)
	if !ok {
		return nil, fmt.Errorf("mltest: %s buffer is not host memory", b.Buffer.Type().Name())
	}
	return hb.Bytes()
}

// Backend wraps another backend, routes its default buffer type through a
// counting BufferType and can be told to fail.
type Backend struct {
	ml.Backend
	bt *BufferType

	// FailCompute makes Compute return a *ml.ComputeError wrapping it.
	FailCompute error

	Computes int
	Closes   int
}

func NewBackend(b ml.Backend) *Backend {
	return &Backend{Backend: b, bt: NewBufferType(b.DefaultBufferType())}
}

func (b *Backend) DefaultBufferType() ml.BufferType { return b.bt }

// BufferType returns the counting buffer type behind DefaultBufferType.
func (b *Backend) BufferType() *BufferType { return b.bt }

func (b *Backend) Compute(g *ml.Graph) error {
	b.Computes++
	if b.FailCompute != nil {
		return &ml.ComputeError{Status: ml.StatusFailed, Err: b.FailCompute}
	}
	return b.Backend.Compute(g)
}

func (b *Backend) Close() error {
	b.Closes++
	return b.Backend.Close()
}
