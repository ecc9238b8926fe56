package runner_test

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinygraph/tinygraph/fs/gguf"
	"github.com/tinygraph/tinygraph/ml"
	"github.com/tinygraph/tinygraph/ml/backend/cpu"
	"github.com/tinygraph/tinygraph/ml/mltest"
	"github.com/tinygraph/tinygraph/model"
	"github.com/tinygraph/tinygraph/runner"
)

func createModel(t *testing.T, weight []float32, bias ...float32) string {
	t.Helper()

	w, err := gguf.NewTensor("linear.weight", gguf.TensorTypeF32, []uint64{uint64(len(weight)), 1}, weight)
	require.NoError(t, err)

	b, err := gguf.NewTensor("linear.bias", gguf.TensorTypeF32, []uint64{uint64(len(bias))}, bias)
	require.NoError(t, err)

	p := filepath.Join(t.TempDir(), "model.gguf")
	require.NoError(t, gguf.WriteFile(p, gguf.KV{"general.architecture": "perceptron"}, []*gguf.Tensor{w, b}))
	return p
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

func TestInfer(t *testing.T) {
	b := mltest.NewBackend(cpu.New(1))

	p, err := runner.NewWithBackend(context.Background(), createModel(t, []float32{1, 1}, 0), b)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 2, p.Inputs())

	got, err := p.Infer([]float32{0, 0})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5}, got)

	// weights and graph memory
	allocs := b.BufferType().Allocs
	assert.Equal(t, 2, allocs)

	for _, in := range [][]float32{{1, 2}, {-4, 0.5}, {0, 0}} {
		got, err := p.Infer(in)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.InDelta(t, sigmoid(float64(in[0]+in[1])), got[0], 1e-6)
	}

	assert.Equal(t, allocs, b.BufferType().Allocs, "inference must not reallocate")
	assert.Equal(t, 4, b.Computes)

	_, err = p.Infer([]float32{1})
	assert.ErrorContains(t, err, "want 2")
	assert.Equal(t, 4, b.Computes)
}

func TestInferComputeFailure(t *testing.T) {
	b := mltest.NewBackend(cpu.New(1))

	p, err := runner.NewWithBackend(context.Background(), createModel(t, []float32{1, 1}, 0), b)
	require.NoError(t, err)
	defer p.Close()

	boom := errors.New("boom")
	b.FailCompute = boom

	got, err := p.Infer([]float32{0, 0})
	assert.Nil(t, got)

	var cerr *ml.ComputeError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ml.StatusFailed, cerr.Status)
	assert.ErrorIs(t, err, boom)

	b.FailCompute = nil
	got, err = p.Infer([]float32{0, 0})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5}, got)
}

func TestClose(t *testing.T) {
	b := mltest.NewBackend(cpu.New(1))

	p, err := runner.NewWithBackend(context.Background(), createModel(t, []float32{1, 1}, 0), b)
	require.NoError(t, err)

	_, err = p.Infer([]float32{0, 0})
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.Equal(t, 2, b.BufferType().Frees)
	assert.Zero(t, b.BufferType().Live())
	assert.Zero(t, b.BufferType().DoubleFrees)
	assert.Equal(t, 1, b.Closes)

	assert.ErrorIs(t, p.Close(), runner.ErrClosed)
	_, err = p.Infer([]float32{0, 0})
	assert.ErrorIs(t, err, runner.ErrClosed)

	assert.Equal(t, 2, b.BufferType().Frees)
	assert.Zero(t, b.BufferType().DoubleFrees)
	assert.Equal(t, 1, b.Closes)
}

func TestNewFailure(t *testing.T) {
	cases := []struct {
		name  string
		path  func(t *testing.T) string
		check func(t *testing.T, err error)
	}{
		{
			name: "missing file",
			path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing.gguf") },
			check: func(t *testing.T, err error) {
				var lerr *model.LoadError
				require.ErrorAs(t, err, &lerr)
			},
		},
		{
			name: "bias shape",
			path: func(t *testing.T) string { return createModel(t, []float32{1, 1}, 0, 0, 0) },
			check: func(t *testing.T, err error) {
				var serr *ml.ShapeMismatchError
				require.ErrorAs(t, err, &serr)
				assert.Equal(t, ml.OpAdd, serr.Op)
			},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			b := mltest.NewBackend(cpu.New(1))

			p, err := runner.NewWithBackend(context.Background(), tt.path(t), b)
			assert.Nil(t, p)
			tt.check(t, err)

			assert.Zero(t, b.BufferType().Live())
			assert.Zero(t, b.BufferType().DoubleFrees)
			assert.Equal(t, 1, b.Closes)
		})
	}
}

func TestNew(t *testing.T) {
	t.Setenv("TINYGRAPH_CONFIG", filepath.Join(t.TempDir(), "none.toml"))
	t.Setenv("TINYGRAPH_BACKEND", "cpu")
	t.Setenv("TINYGRAPH_NUM_THREADS", "2")

	p, err := runner.New(context.Background(), createModel(t, []float32{0.5, -0.5, 2}, 1))
	require.NoError(t, err)
	defer p.Close()

	got, err := p.Infer([]float32{2, 2, -1})
	require.NoError(t, err)
	assert.InDelta(t, sigmoid(0.5*2-0.5*2+2*-1+1), got[0], 1e-6)

	t.Setenv("TINYGRAPH_BACKEND", "gpu")
	_, err = runner.New(context.Background(), createModel(t, []float32{1}, 0))
	assert.ErrorContains(t, err, "no gpu device")
}
