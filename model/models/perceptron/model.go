// Package perceptron implements a single linear layer followed by a sigmoid.
package perceptron

import (
	"github.com/tinygraph/tinygraph/ml"
	"github.com/tinygraph/tinygraph/ml/nn"
	"github.com/tinygraph/tinygraph/model"
)

type Model struct {
	Linear *nn.Linear `gguf:"linear"`
}

func New(w *model.Weights) (model.Model, error) {
	var m Model
	if err := model.Populate(w, &m); err != nil {
		return nil, err
	}

	return &m, nil
}

// Build declares a [inputs, 1] F32 tensor named "input" and computes
// sigmoid(linear.weight·input + linear.bias) into "output".
func (m *Model) Build(ctx *ml.Context) (_ *ml.Graph, err error) {
	defer ml.Recover(&err)

	input := ctx.NewTensor(ml.DTypeF32, m.Linear.Inputs(), 1).SetName("input").SetInput()

	t := m.Linear.Forward(ctx, input)
	t = t.Sigmoid(ctx).SetName("output").SetOutput()

	return ctx.NewGraphSize(model.GraphSize()).BuildForwardExpand(t), nil
}

func init() {
	model.Register(model.DefaultArchitecture, New)
}
