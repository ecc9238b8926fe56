package ml

import "fmt"

const (
	objectOverhead = 32
	tensorSize     = 336
	graphSize      = 80
	pointerSize    = 8

	// TensorOverhead is the metadata footprint of one tensor in a Context.
	TensorOverhead = objectOverhead + tensorSize

	DefaultGraphSize = 2048
)

// GraphOverhead is the metadata footprint of a graph that can hold size nodes
// and size leafs.
func GraphOverhead(size int) int {
	return objectOverhead + graphSize + pointerSize*(2*size+hashSize(2*size))
}

// hashSize rounds n up to the next power of two, used to size the visited set.
func hashSize(n int) int {
	size := 1
	for size < n {
		size <<= 1
	}
	return size
}

type ContextParams struct {
	// MemSize is the metadata capacity of the context in bytes. It bounds the
	// number of tensors and graphs the context can hold.
	MemSize int
}

// Context is an arena of tensor and graph metadata. Tensors are handed out in
// creation order and are never freed individually; Close releases the arena.
// Tensor data never lives in a Context. It is placed in a Buffer.
type Context struct {
	memSize int
	used    int

	tensors []*Tensor
	names   map[string]*Tensor
	closed  bool
}

func NewContext(params ContextParams) *Context {
	return &Context{
		memSize: params.MemSize,
		names:   make(map[string]*Tensor),
	}
}

func (c *Context) MemSize() int { return c.memSize }

func (c *Context) Used() int { return c.used }

func (c *Context) reserve(n int) {
	if c.closed {
		panic(ErrContextClosed)
	}

	if c.used+n > c.memSize {
		panic(fmt.Errorf("%w: need %d bytes, %d of %d used", ErrContextFull, n, c.used, c.memSize))
	}

	c.used += n
}

// NewTensor creates an unallocated tensor. It panics with ErrContextFull when
// the context has no room left and with ErrInvalidShape for a bad shape.
func (c *Context) NewTensor(dtype DType, shape ...int) *Tensor {
	t := newTensor(c, dtype, shape)
	c.reserve(TensorOverhead)
	c.tensors = append(c.tensors, t)
	return t
}

func (c *Context) register(t *Tensor, name string) {
	if c.closed {
		panic(fmt.Errorf("%w: cannot name tensor %q", ErrContextClosed, name))
	}

	t.name = name
	if name != "" {
		c.names[name] = t
	}
}

// Tensor returns the tensor registered under name, or nil.
func (c *Context) Tensor(name string) *Tensor {
	return c.names[name]
}

// Lookup is like Tensor but returns a NameLookupError when name is unknown.
func (c *Context) Lookup(name string) (*Tensor, error) {
	if t, ok := c.names[name]; ok {
		return t, nil
	}

	return nil, &NameLookupError{Name: name, Where: "context"}
}

// Tensors returns the tensors of the context in creation order.
func (c *Context) Tensors() []*Tensor {
	return c.tensors
}

func (c *Context) NewGraph() *Graph {
	return c.NewGraphSize(DefaultGraphSize)
}

func (c *Context) NewGraphSize(size int) *Graph {
	c.reserve(GraphOverhead(size))
	return &Graph{
		ctx:     c,
		size:    size,
		visited: make(map[*Tensor]struct{}),
		names:   make(map[string]*Tensor),
	}
}

// Close releases the arena. Tensors created by the context must not be used
// afterwards. Closing twice returns ErrContextClosed.
func (c *Context) Close() error {
	if c.closed {
		return ErrContextClosed
	}

	c.closed = true
	c.tensors = nil
	c.names = nil
	return nil
}

// DupTensor creates a tensor in ctx with the name, type and shape of t.
func DupTensor(ctx *Context, t *Tensor) *Tensor {
	dup := ctx.NewTensor(t.dtype, t.Shape()...)
	if t.name != "" {
		dup.SetName(t.name)
	}

	return dup
}
