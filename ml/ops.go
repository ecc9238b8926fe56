package ml

// Operations record a node in ctx and return its result tensor. Nothing is
// computed until the graph containing the node is run by a Backend. Results are
// always F32. Incompatible shapes panic with *ShapeMismatchError.

// Mulmat multiplies t by t2: the result has shape [t.Dim(1), t2.Dim(1),
// t2.Dim(2), t2.Dim(3)]. t.Dim(0) and t2.Dim(0) must match and the outer
// dimensions of t must divide those of t2.
func (t *Tensor) Mulmat(ctx *Context, t2 *Tensor) *Tensor {
	if t.ne[0] != t2.ne[0] || t2.ne[2]%t.ne[2] != 0 || t2.ne[3]%t.ne[3] != 0 {
		panic(&ShapeMismatchError{Op: OpMulmat, A: t.Shape(), B: t2.Shape()})
	}

	out := ctx.NewTensor(DTypeF32, shapeN(max(t.ndims, t2.ndims), t.ne[1], t2.ne[1], t2.ne[2], t2.ne[3])...)
	out.op = OpMulmat
	out.src = []*Tensor{t, t2}
	return out
}

// Add adds t2 to t elementwise, repeating t2 along any dimension that evenly
// divides the corresponding dimension of t. The result has t's shape.
func (t *Tensor) Add(ctx *Context, t2 *Tensor) *Tensor {
	for i := range MaxDims {
		if t.ne[i]%t2.ne[i] != 0 {
			panic(&ShapeMismatchError{Op: OpAdd, A: t.Shape(), B: t2.Shape()})
		}
	}

	out := ctx.NewTensor(DTypeF32, t.Shape()...)
	out.op = OpAdd
	out.src = []*Tensor{t, t2}
	return out
}

func (t *Tensor) Sigmoid(ctx *Context) *Tensor {
	out := ctx.NewTensor(DTypeF32, t.Shape()...)
	out.op = OpSigmoid
	out.src = []*Tensor{t}
	return out
}

func shapeN(n int, ne ...int) []int {
	return ne[:n]
}
