package ml

import "fmt"

// Graph is a forward computation in topological order. Leafs are tensors
// without an operation (parameters and inputs); nodes are operation results
// ordered so that every node follows its sources.
type Graph struct {
	ctx  *Context
	size int

	nodes []*Tensor
	leafs []*Tensor

	visited map[*Tensor]struct{}

	// names indexes nodes and leafs by name at the time they are expanded
	names map[string]*Tensor
}

// BuildForwardExpand adds t and everything it depends on to the graph. It
// panics with ErrGraphFull when the graph's capacity is exceeded.
func (g *Graph) BuildForwardExpand(t *Tensor) *Graph {
	g.visit(t)
	return g
}

func (g *Graph) visit(t *Tensor) {
	if _, ok := g.visited[t]; ok {
		return
	}
	g.visited[t] = struct{}{}

	for _, src := range t.src {
		g.visit(src)
	}

	if t.op == OpNone {
		if len(g.leafs) >= g.size {
			panic(fmt.Errorf("%w: more than %d leafs", ErrGraphFull, g.size))
		}
		g.leafs = append(g.leafs, t)
	} else {
		if len(g.nodes) >= g.size {
			panic(fmt.Errorf("%w: more than %d nodes", ErrGraphFull, g.size))
		}
		g.nodes = append(g.nodes, t)
	}

	if t.name != "" {
		if _, ok := g.names[t.name]; !ok {
			g.names[t.name] = t
		}
	}
}

func (g *Graph) Nodes() []*Tensor { return g.nodes }

func (g *Graph) Leafs() []*Tensor { return g.leafs }

func (g *Graph) Size() int { return g.size }

// Tensor finds a node or leaf by the name it had when it was expanded.
func (g *Graph) Tensor(name string) (*Tensor, error) {
	if t, ok := g.names[name]; ok {
		return t, nil
	}

	return nil, &NameLookupError{Name: name, Where: "graph"}
}
