package perceptron_test

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinygraph/tinygraph/fs/gguf"
	"github.com/tinygraph/tinygraph/ml"
	"github.com/tinygraph/tinygraph/ml/backend/cpu"
	"github.com/tinygraph/tinygraph/ml/galloc"
	"github.com/tinygraph/tinygraph/model"
	_ "github.com/tinygraph/tinygraph/model/models/perceptron"
)

func load(t *testing.T, ts ...*gguf.Tensor) (*model.Weights, ml.Backend) {
	t.Helper()

	p := filepath.Join(t.TempDir(), "perceptron.gguf")
	require.NoError(t, gguf.WriteFile(p, gguf.KV{"general.architecture": "perceptron"}, ts))

	b := cpu.New(1)
	t.Cleanup(func() { b.Close() })

	w, err := model.Load(context.Background(), p, b)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	return w, b
}

func tensor(t *testing.T, name string, shape []uint64, values ...float32) *gguf.Tensor {
	t.Helper()

	tt, err := gguf.NewTensor(name, gguf.TensorTypeF32, shape, values)
	require.NoError(t, err)
	return tt
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

func TestForward(t *testing.T) {
	w, b := load(t,
		tensor(t, "linear.weight", []uint64{2, 1}, 1, 1),
		tensor(t, "linear.bias", []uint64{1}, 0),
	)

	m, err := model.New(w)
	require.NoError(t, err)

	ctx := model.NewGraphContext()
	defer ctx.Close()

	g, err := m.Build(ctx)
	require.NoError(t, err)

	input, err := g.Tensor("input")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, input.Shape())
	assert.True(t, input.IsInput())

	output, err := g.Tensor("output")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1}, output.Shape())
	assert.True(t, output.IsOutput())
	assert.Equal(t, ml.OpSigmoid, output.Op())

	alloc := galloc.New(b.DefaultBufferType())
	defer alloc.Close()
	require.NoError(t, alloc.AllocGraph(g))

	cases := []struct {
		name  string
		input []float32
	}{
		{"zero", []float32{0, 0}},
		{"positive", []float32{0.5, 1.5}},
		{"negative", []float32{-3, 1}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, ml.TensorSetFloats(input, tt.input))
			require.NoError(t, b.Compute(g))

			got, err := ml.TensorFloats(output)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.InDelta(t, sigmoid(float64(tt.input[0]+tt.input[1])), got[0], 1e-6)
		})
	}
}

func TestBuildRejectsShapes(t *testing.T) {
	cases := []struct {
		name   string
		weight []uint64
		bias   []uint64
	}{
		{"bias wider than result", []uint64{2, 1}, []uint64{3}},
		{"weight batch does not divide input", []uint64{2, 1, 2}, []uint64{1}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			var n uint64 = 1
			for _, d := range tt.weight {
				n *= d
			}

			w, _ := load(t,
				tensor(t, "linear.weight", tt.weight, make([]float32, n)...),
				tensor(t, "linear.bias", tt.bias, make([]float32, tt.bias[0])...),
			)

			m, err := model.New(w)
			require.NoError(t, err)

			ctx := model.NewGraphContext()
			defer ctx.Close()

			g, err := m.Build(ctx)
			assert.Nil(t, g)

			var serr *ml.ShapeMismatchError
			require.ErrorAs(t, err, &serr)
		})
	}
}

func TestMissingBias(t *testing.T) {
	w, _ := load(t, tensor(t, "linear.weight", []uint64{2, 1}, 1, 1))

	_, err := model.New(w)

	var lerr *ml.NameLookupError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "linear.bias", lerr.Name)
}
