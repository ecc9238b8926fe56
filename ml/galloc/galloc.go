// Package galloc places the intermediate tensors of a graph in one shared
// buffer, reusing the memory of tensors whose last consumer has run.
package galloc

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/tinygraph/tinygraph/format"
	"github.com/tinygraph/tinygraph/ml"
)

var (
	ErrGraphMismatch   = errors.New("galloc: allocator is bound to a different graph")
	ErrTopologyChanged = errors.New("galloc: graph topology changed since it was allocated")
	ErrClosed          = errors.New("galloc: allocator closed")
)

// Allocation is the placement of one tensor. First and Last are the indices
// of the nodes that define and last read the tensor. Graph inputs have First
// -1; tensors that are never released have Last equal to the node count.
type Allocation struct {
	Tensor *ml.Tensor
	Offset int
	Size   int
	First  int
	Last   int
}

// Allocator owns the memory of one graph's intermediates. It binds to the
// first graph it allocates and refuses any other.
type Allocator struct {
	bt ml.BufferType

	graph     *ml.Graph
	signature []int
	buffer    ml.Buffer
	allocs    []Allocation
	size      int
	closed    bool
}

func New(bt ml.BufferType) *Allocator {
	return &Allocator{bt: bt}
}

// AllocGraph assigns memory to every tensor of g that has none and is not a
// parameter. Calling it again with the same, unchanged graph only validates
// the graph and keeps the existing placement.
func (a *Allocator) AllocGraph(g *ml.Graph) error {
	if a.closed {
		return ErrClosed
	}

	sig := signature(g)
	if a.graph != nil {
		if a.graph != g {
			return ErrGraphMismatch
		}

		if !slices.Equal(a.signature, sig) {
			return ErrTopologyChanged
		}

		return nil
	}

	allocs, size := plan(g, a.bt.Alignment())
	if size > a.bt.MaxSize() {
		return &ml.AllocationError{BufferType: a.bt.Name(), Size: size, Err: fmt.Errorf("exceeds maximum buffer size %d", a.bt.MaxSize())}
	}

	buf, err := a.bt.Alloc(size)
	if err != nil {
		var aerr *ml.AllocationError
		if !errors.As(err, &aerr) {
			err = &ml.AllocationError{BufferType: a.bt.Name(), Size: size, Err: err}
		}
		return err
	}

	ts := make([]*ml.Tensor, len(allocs))
	offsets := make([]int, len(allocs))
	for i, alloc := range allocs {
		ts[i], offsets[i] = alloc.Tensor, alloc.Offset
	}

	if err := ml.AllocTensors(buf, ts, offsets); err != nil {
		buf.Free()
		return err
	}

	slog.Debug("graph allocated", "nodes", len(g.Nodes()), "tensors", len(allocs), "buffer", a.bt.Name(), "size", format.HumanBytes2(uint64(size)))

	a.graph, a.signature = g, sig
	a.buffer, a.allocs, a.size = buf, allocs, size
	return nil
}

// Allocations returns the placement computed for the bound graph.
func (a *Allocator) Allocations() []Allocation {
	return a.allocs
}

// BufferSize is the size of the shared buffer: the peak of simultaneously live
// intermediates.
func (a *Allocator) BufferSize() int {
	return a.size
}

// Close frees the shared buffer. Tensors of the bound graph must not be used
// afterwards.
func (a *Allocator) Close() error {
	if a.closed {
		return ErrClosed
	}

	a.closed = true
	if a.buffer != nil {
		return a.buffer.Free()
	}
	return nil
}

func plan(g *ml.Graph, alignment int) ([]Allocation, int) {
	nodes := g.Nodes()

	consumers := make(map[*ml.Tensor]int)
	for _, node := range nodes {
		for _, src := range node.Sources() {
			consumers[src]++
		}
	}

	var allocs []Allocation
	index := make(map[*ml.Tensor]int)
	live := make(map[*ml.Tensor]bool)
	d := newDynAllocator(alignment)

	allocate := func(t *ml.Tensor, at int) {
		if t.Allocated() || t.IsParam() {
			return
		}

		if _, ok := index[t]; ok {
			return
		}

		offset, size := d.alloc(t.NBytes())
		index[t] = len(allocs)
		live[t] = true
		allocs = append(allocs, Allocation{Tensor: t, Offset: offset, Size: size, First: at, Last: at})
	}

	for _, leaf := range g.Leafs() {
		if leaf.IsInput() {
			allocate(leaf, -1)
		}
	}

	for i, node := range nodes {
		for _, src := range node.Sources() {
			allocate(src, i)
		}

		allocate(node, i)

		for _, src := range node.Sources() {
			j, ok := index[src]
			if !ok {
				continue
			}

			allocs[j].Last = i
			consumers[src]--
			if consumers[src] == 0 && !src.IsOutput() && live[src] {
				d.release(allocs[j].Offset, allocs[j].Size)
				live[src] = false
			}
		}
	}

	for t, ok := range live {
		if ok {
			allocs[index[t]].Last = len(nodes)
		}
	}

	return allocs, d.maxSize
}

// signature captures everything the placement depends on: the operation,
// type, shape and flags of each node and leaf, and which tensors feed each
// node.
func signature(g *ml.Graph) []int {
	ids := make(map[*ml.Tensor]int)
	for i, leaf := range g.Leafs() {
		ids[leaf] = -(i + 1)
	}
	for i, node := range g.Nodes() {
		ids[node] = i + 1
	}

	var sig []int
	describe := func(t *ml.Tensor) {
		sig = append(sig, int(t.Op()), int(t.DType()), int(t.Flags()), t.Dim(0), t.Dim(1), t.Dim(2), t.Dim(3))
	}

	sig = append(sig, len(g.Leafs()), len(g.Nodes()))
	for _, leaf := range g.Leafs() {
		describe(leaf)
	}
	for _, node := range g.Nodes() {
		describe(node)
		sig = append(sig, len(node.Sources()))
		for _, src := range node.Sources() {
			sig = append(sig, ids[src])
		}
	}

	return sig
}
