package model

import (
	"github.com/tinygraph/tinygraph/envconfig"
	"github.com/tinygraph/tinygraph/ml"
)

// GraphSize is the node capacity used for forward graphs.
func GraphSize() int {
	if n := int(envconfig.GraphSize()); n > 0 {
		return n
	}

	return ml.DefaultGraphSize
}

// NewGraphContext returns a context with room for one graph of GraphSize
// nodes and the metadata of every tensor in it.
func NewGraphContext() *ml.Context {
	size := GraphSize()
	return ml.NewContext(ml.ContextParams{MemSize: ml.TensorOverhead*size + ml.GraphOverhead(size)})
}
