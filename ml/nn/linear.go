package nn

import "github.com/tinygraph/tinygraph/ml"

// Linear computes Weight·x + Bias. Weight is [in, out] in ggml order, so
// Forward takes x of shape [in, batch] and returns [out, batch].
type Linear struct {
	Weight *ml.Tensor `gguf:"weight"`
	Bias   *ml.Tensor `gguf:"bias"`
}

func (m *Linear) Forward(ctx *ml.Context, t *ml.Tensor) *ml.Tensor {
	t = m.Weight.Mulmat(ctx, t)
	if m.Bias != nil {
		t = t.Add(ctx, m.Bias)
	}

	return t
}

// Inputs is the size of the contraction dimension.
func (m *Linear) Inputs() int {
	return m.Weight.Dim(0)
}

// Outputs is the number of output features.
func (m *Linear) Outputs() int {
	return m.Weight.Dim(1)
}
