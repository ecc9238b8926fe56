package galloc

import (
	"github.com/emirpasic/gods/v2/lists/arraylist"

	"github.com/tinygraph/tinygraph/ml"
)

type block struct {
	offset, size int
}

// dynAllocator plans offsets in a buffer that does not exist yet. Free space
// below the current top is kept as offset-sorted blocks; requests take the
// first block large enough and otherwise grow the top.
type dynAllocator struct {
	alignment int
	free      *arraylist.List[block]
	top       int
	maxSize   int
}

func newDynAllocator(alignment int) *dynAllocator {
	return &dynAllocator{
		alignment: alignment,
		free:      arraylist.New[block](),
	}
}

func (d *dynAllocator) alloc(size int) (offset, padded int) {
	padded = ml.PadSize(size, d.alignment)

	for i := range d.free.Size() {
		b, _ := d.free.Get(i)
		if b.size < padded {
			continue
		}

		if b.size == padded {
			d.free.Remove(i)
		} else {
			d.free.Set(i, block{offset: b.offset + padded, size: b.size - padded})
		}
		return b.offset, padded
	}

	offset = d.top
	d.top += padded
	d.maxSize = max(d.maxSize, d.top)
	return offset, padded
}

func (d *dynAllocator) release(offset, size int) {
	i := 0
	for ; i < d.free.Size(); i++ {
		if b, _ := d.free.Get(i); b.offset > offset {
			break
		}
	}

	nb := block{offset: offset, size: size}

	// merge with the following block
	if next, ok := d.free.Get(i); ok && nb.offset+nb.size == next.offset {
		nb.size += next.size
		d.free.Remove(i)
	}

	// merge with the preceding block
	if i > 0 {
		if prev, _ := d.free.Get(i - 1); prev.offset+prev.size == nb.offset {
			nb.offset, nb.size = prev.offset, prev.size+nb.size
			d.free.Remove(i - 1)
			i--
		}
	}

	if nb.offset+nb.size == d.top {
		d.top = nb.offset
		return
	}

	d.free.Insert(i, nb)
}

// blocks returns the free list, for tests.
func (d *dynAllocator) blocks() []block {
	return d.free.Values()
}
