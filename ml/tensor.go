package ml

import (
	"fmt"
	"strings"
)

const MaxDims = 4

type Op int

const (
	OpNone Op = iota
	OpMulmat
	OpAdd
	OpSigmoid
)

func (o Op) String() string {
	switch o {
	case OpNone:
		return "NONE"
	case OpMulmat:
		return "MUL_MAT"
	case OpAdd:
		return "ADD"
	case OpSigmoid:
		return "SIGMOID"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

type Flag uint8

const (
	FlagParam Flag = 1 << iota
	FlagInput
	FlagOutput
)

// Tensor describes a typed, shaped array. Its type and shape are fixed when it
// is created; only its backing memory may be assigned later, once.
type Tensor struct {
	ctx *Context

	name  string
	dtype DType
	ndims int
	ne    [MaxDims]int
	nb    [MaxDims]int

	op    Op
	src   []*Tensor
	flags Flag

	buffer Buffer
	offset int
}

func newTensor(ctx *Context, dtype DType, shape []int) *Tensor {
	if dtype.Size() == 0 {
		panic(fmt.Errorf("%w: unsupported type %s", ErrInvalidShape, dtype))
	}

	if len(shape) < 1 || len(shape) > MaxDims {
		panic(fmt.Errorf("%w: %d dimensions", ErrInvalidShape, len(shape)))
	}

	t := &Tensor{ctx: ctx, dtype: dtype, ndims: len(shape)}
	for i := range MaxDims {
		t.ne[i] = 1
		if i < len(shape) {
			if shape[i] < 1 {
				panic(fmt.Errorf("%w: %v", ErrInvalidShape, shape))
			}
			t.ne[i] = shape[i]
		}
	}

	t.nb[0] = dtype.Size()
	for i := 1; i < MaxDims; i++ {
		t.nb[i] = t.nb[i-1] * t.ne[i-1]
	}

	return t
}

func (t *Tensor) Name() string { return t.name }

// SetName names the tensor and registers it with its context so it can be
// found with Context.Tensor. It panics with ErrContextClosed once the context
// is closed.
func (t *Tensor) SetName(name string) *Tensor {
	if t.ctx == nil {
		t.name = name
		return t
	}

	t.ctx.register(t, name)
	return t
}

func (t *Tensor) DType() DType { return t.dtype }

// Dim returns the size of dimension n. Dimensions past the tensor's rank
// are 1.
func (t *Tensor) Dim(n int) int { return t.ne[n] }

func (t *Tensor) Stride(n int) int { return t.nb[n] }

func (t *Tensor) NumDims() int { return t.ndims }

func (t *Tensor) Shape() []int {
	shape := make([]int, t.ndims)
	copy(shape, t.ne[:t.ndims])
	return shape
}

func (t *Tensor) NumElements() int {
	return t.ne[0] * t.ne[1] * t.ne[2] * t.ne[3]
}

// NBytes is the size of the tensor's data in bytes.
func (t *Tensor) NBytes() int {
	return t.NumElements() * t.dtype.Size()
}

func (t *Tensor) Op() Op { return t.op }

func (t *Tensor) Sources() []*Tensor { return t.src }

func (t *Tensor) Flags() Flag { return t.flags }

func (t *Tensor) SetParam() *Tensor  { t.flags |= FlagParam; return t }
func (t *Tensor) SetInput() *Tensor  { t.flags |= FlagInput; return t }
func (t *Tensor) SetOutput() *Tensor { t.flags |= FlagOutput; return t }

func (t *Tensor) IsParam() bool  { return t.flags&FlagParam != 0 }
func (t *Tensor) IsInput() bool  { return t.flags&FlagInput != 0 }
func (t *Tensor) IsOutput() bool { return t.flags&FlagOutput != 0 }

func (t *Tensor) Buffer() Buffer { return t.buffer }

func (t *Tensor) Offset() int { return t.offset }

// Allocated reports whether the tensor has backing memory.
func (t *Tensor) Allocated() bool { return t.buffer != nil }

// Alloc places the tensor at offset in buf. A tensor can be placed once and
// must fit entirely inside the buffer.
func (t *Tensor) Alloc(buf Buffer, offset int) error {
	if err := t.checkAlloc(buf, offset); err != nil {
		return err
	}

	t.buffer, t.offset = buf, offset
	return nil
}

func (t *Tensor) checkAlloc(buf Buffer, offset int) error {
	if t.buffer != nil {
		return fmt.Errorf("ml: tensor %q is already allocated", t.name)
	}

	if offset < 0 || offset > buf.Size() || t.NBytes() > buf.Size()-offset {
		return fmt.Errorf("ml: tensor %q (%d bytes) does not fit at offset %d of a %d byte buffer", t.name, t.NBytes(), offset, buf.Size())
	}

	return nil
}

// AllocTensors places ts[i] at offsets[i] of buf. Every placement is checked
// first, so on error no tensor has been placed.
func AllocTensors(buf Buffer, ts []*Tensor, offsets []int) error {
	if len(ts) != len(offsets) {
		return fmt.Errorf("ml: %d tensors but %d offsets", len(ts), len(offsets))
	}

	seen := make(map[*Tensor]struct{}, len(ts))
	for i, t := range ts {
		if _, ok := seen[t]; ok {
			return fmt.Errorf("ml: tensor %q placed twice", t.name)
		}
		seen[t] = struct{}{}

		if err := t.checkAlloc(buf, offsets[i]); err != nil {
			return err
		}
	}

	for i, t := range ts {
		t.buffer, t.offset = buf, offsets[i]
	}

	return nil
}

func (t *Tensor) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s{name=%q type=%s shape=%v", t.op, t.name, t.dtype, t.Shape())
	if t.flags != 0 {
		var flags []string
		if t.IsParam() {
			flags = append(flags, "param")
		}
		if t.IsInput() {
			flags = append(flags, "input")
		}
		if t.IsOutput() {
			flags = append(flags, "output")
		}
		fmt.Fprintf(&sb, " flags=%s", strings.Join(flags, "|"))
	}
	sb.WriteString("}")
	return sb.String()
}
