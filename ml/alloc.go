package ml

import (
	"errors"
	"fmt"
	"log/slog"
)

// AllocContextTensors places every unallocated tensor of ctx in one new buffer
// from bt, contiguously and in creation order, each padded to the buffer type's
// alignment. The caller owns the returned buffer.
func AllocContextTensors(ctx *Context, bt BufferType) (Buffer, error) {
	var size int
	for _, t := range ctx.Tensors() {
		if !t.Allocated() {
			size += PadSize(t.NBytes(), bt.Alignment())
		}
	}

	if size > bt.MaxSize() {
		return nil, &AllocationError{BufferType: bt.Name(), Size: size, Err: fmt.Errorf("exceeds maximum buffer size %d", bt.MaxSize())}
	}

	buf, err := bt.Alloc(size)
	if err != nil {
		var aerr *AllocationError
		if !errors.As(err, &aerr) {
			err = &AllocationError{BufferType: bt.Name(), Size: size, Err: err}
		}
		return nil, err
	}

	var ts []*Tensor
	var offsets []int
	var offset int
	for _, t := range ctx.Tensors() {
		if t.Allocated() {
			continue
		}

		ts = append(ts, t)
		offsets = append(offsets, offset)
		offset += PadSize(t.NBytes(), bt.Alignment())
	}

	if err := AllocTensors(buf, ts, offsets); err != nil {
		buf.Free()
		return nil, err
	}

	for i, t := range ts {
		slog.Debug("placed tensor", "name", t.Name(), "type", t.DType(), "shape", t.Shape(), "offset", offsets[i])
	}

	return buf, nil
}
