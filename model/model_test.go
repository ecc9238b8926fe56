package model_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinygraph/tinygraph/fs/gguf"
	"github.com/tinygraph/tinygraph/ml"
	"github.com/tinygraph/tinygraph/ml/backend/cpu"
	"github.com/tinygraph/tinygraph/ml/mltest"
	"github.com/tinygraph/tinygraph/model"
)

func createFile(tb testing.TB, kv gguf.KV, ts ...*gguf.Tensor) string {
	tb.Helper()

	p := filepath.Join(tb.TempDir(), "model.gguf")
	if err := gguf.WriteFile(p, kv, ts); err != nil {
		tb.Fatal(err)
	}

	return p
}

func mustTensor(tb testing.TB, name string, tt gguf.TensorType, shape []uint64, values ...float32) *gguf.Tensor {
	tb.Helper()

	t, err := gguf.NewTensor(name, tt, shape, values)
	if err != nil {
		tb.Fatal(err)
	}

	return t
}

func newBackend(t *testing.T) *mltest.Backend {
	t.Helper()

	b := mltest.NewBackend(cpu.New(1))
	t.Cleanup(func() { b.Close() })
	return b
}

func fileBytes(t *testing.T, path, name string) []byte {
	t.Helper()

	f, err := gguf.Open(path)
	require.NoError(t, err)
	defer f.Close()

	_, r, err := f.TensorReader(name)
	require.NoError(t, err)

	bts, err := io.ReadAll(r)
	require.NoError(t, err)
	return bts
}

func TestLoad(t *testing.T) {
	p := createFile(t, gguf.KV{"general.architecture": "perceptron", "general.alignment": uint32(64)},
		mustTensor(t, "linear.weight", gguf.TensorTypeF32, []uint64{2, 1}, 0.25, -3),
		mustTensor(t, "linear.bias", gguf.TensorTypeF16, []uint64{1}, 0.5),
		mustTensor(t, "extra", gguf.TensorTypeBF16, []uint64{3, 2}, 1, 2, 3, 4, 5, 6),
	)

	b := newBackend(t)
	w, err := model.Load(context.Background(), p, b)
	require.NoError(t, err)

	assert.Equal(t, "perceptron", w.Architecture())
	assert.EqualValues(t, 64, w.KeyValue("general.alignment").Uint())
	assert.Equal(t, 1, b.BufferType().Live())
	assert.Equal(t, 3*32, w.Size())

	var names []string
	for _, tt := range w.Tensors() {
		names = append(names, tt.Name())
		assert.True(t, tt.IsParam(), tt.Name())
		assert.Same(t, b.BufferType(), tt.Buffer().Type())
	}
	if diff := cmp.Diff([]string{"linear.weight", "linear.bias", "extra"}, names); diff != "" {
		t.Errorf("tensor order mismatch (-want +got):\n%s", diff)
	}

	cases := []struct {
		name  string
		dtype ml.DType
		shape []int
	}{
		{"linear.weight", ml.DTypeF32, []int{2, 1}},
		{"linear.bias", ml.DTypeF16, []int{1}},
		{"extra", ml.DTypeBF16, []int{3, 2}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			tensor, err := w.Tensor(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.dtype, tensor.DType())
			assert.Equal(t, tt.shape, tensor.Shape())

			got := make([]byte, tensor.NBytes())
			require.NoError(t, ml.TensorGet(tensor, got, 0))
			assert.Equal(t, fileBytes(t, p, tt.name), got)
		})
	}

	assert.Nil(t, w.Get("missing"))
	_, err = w.Tensor("missing")
	var lerr *ml.NameLookupError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "missing", lerr.Name)

	require.NoError(t, w.Close())
	assert.Zero(t, b.BufferType().Live())
	assert.ErrorIs(t, w.Close(), ml.ErrBufferReleased)
	assert.Equal(t, 1, b.BufferType().DoubleFrees)
}

func TestLoadErrors(t *testing.T) {
	garbage := filepath.Join(t.TempDir(), "garbage.gguf")
	require.NoError(t, os.WriteFile(garbage, []byte("GGUF\x03\x00\x00\x00not really"), 0o644))

	// the directory promises more data than the file holds
	short := createFile(t, nil, mustTensor(t, "w", gguf.TensorTypeF32, []uint64{4}, 1, 2, 3, 4))
	bts, err := os.ReadFile(short)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(short, bts[:len(bts)-4], 0o644))

	// a tensor offset near 2^64 wraps a signed end computation
	wrapped := createFile(t, nil, mustTensor(t, "w", gguf.TensorTypeF32, []uint64{8}, 1, 2, 3, 4, 5, 6, 7, 8))
	bts, err = os.ReadFile(wrapped)
	require.NoError(t, err)
	binary.LittleEndian.PutUint64(bts[49:], 0xFFFFFFFFFFFFFFE0)
	require.NoError(t, os.WriteFile(wrapped, bts, 0o644))

	var i32 bytes.Buffer
	require.NoError(t, binary.Write(&i32, binary.LittleEndian, []int32{1, 2}))

	cases := []struct {
		name string
		path string
		want error
	}{
		{"missing", filepath.Join(t.TempDir(), "nope.gguf"), os.ErrNotExist},
		{"garbage", garbage, gguf.ErrMalformed},
		{"truncated", short, gguf.ErrMalformed},
		{"offset wraps", wrapped, gguf.ErrMalformed},
		{"unsupported type", createFile(t, nil,
			&gguf.Tensor{Name: "w", Type: gguf.TensorTypeF64, Shape: []uint64{1}, WriterTo: bytes.NewReader(make([]byte, 8))}), nil},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			b := newBackend(t)

			w, err := model.Load(context.Background(), tt.path, b)
			assert.Nil(t, w)

			var lerr *model.LoadError
			require.ErrorAs(t, err, &lerr)
			assert.Equal(t, tt.path, lerr.Path)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}

			assert.Zero(t, b.BufferType().Allocs)
		})
	}

	t.Run("I32", func(t *testing.T) {
		p := createFile(t, nil, &gguf.Tensor{Name: "ids", Type: gguf.TensorTypeI32, Shape: []uint64{2}, WriterTo: bytes.NewReader(i32.Bytes())})

		w, err := model.Load(context.Background(), p, newBackend(t))
		require.NoError(t, err)
		defer w.Close()

		assert.Equal(t, ml.DTypeI32, w.Get("ids").DType())
	})
}

func TestLoadAllocationFailure(t *testing.T) {
	p := createFile(t, nil,
		mustTensor(t, "linear.weight", gguf.TensorTypeF32, []uint64{2, 1}, 1, 1),
		mustTensor(t, "linear.bias", gguf.TensorTypeF32, []uint64{1}, 0),
	)

	b := newBackend(t)
	b.BufferType().Limit = 16

	w, err := model.Load(context.Background(), p, b)
	assert.Nil(t, w)

	var lerr *model.LoadError
	require.ErrorAs(t, err, &lerr)

	var aerr *ml.AllocationError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, 64, aerr.Size)
	assert.ErrorIs(t, err, mltest.ErrLimit)
	assert.Zero(t, b.BufferType().Live())
}

func TestLoadCanceled(t *testing.T) {
	p := createFile(t, nil, mustTensor(t, "linear.weight", gguf.TensorTypeF32, []uint64{2, 1}, 1, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := newBackend(t)
	w, err := model.Load(ctx, p, b)
	assert.Nil(t, w)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, b.BufferType().Allocs)
}

type block struct {
	Norm *ml.Tensor `gguf:"norm,alt:ln"`
	Proj struct {
		Weight *ml.Tensor `gguf:"weight"`
	} `gguf:"proj"`
}

type network struct {
	Blocks *block     `gguf:"blk"`
	Output *ml.Tensor `gguf:"output"`

	unexported *ml.Tensor
}

func TestPopulate(t *testing.T) {
	p := createFile(t, nil,
		mustTensor(t, "blk.ln", gguf.TensorTypeF32, []uint64{1}, 1),
		mustTensor(t, "blk.proj.weight", gguf.TensorTypeF32, []uint64{1}, 2),
		mustTensor(t, "output", gguf.TensorTypeF32, []uint64{1}, 3),
	)

	w, err := model.Load(context.Background(), p, newBackend(t))
	require.NoError(t, err)
	defer w.Close()

	var n network
	require.NoError(t, model.Populate(w, &n))
	require.NotNil(t, n.Blocks)
	assert.Same(t, w.Get("blk.ln"), n.Blocks.Norm)
	assert.Same(t, w.Get("blk.proj.weight"), n.Blocks.Proj.Weight)
	assert.Same(t, w.Get("output"), n.Output)
	assert.Nil(t, n.unexported)

	var missing struct {
		Head *ml.Tensor `gguf:"head,alt:lm_head"`
	}
	err = model.Populate(w, &missing)
	var lerr *ml.NameLookupError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "head|lm_head", lerr.Name)

	assert.Error(t, model.Populate(w, missing))
}

func TestParseTags(t *testing.T) {
	cases := map[string]model.Tag{
		"output":                 {Name: "output"},
		"norm,alt:ln":            {Name: "norm", Alternate: []string{"ln"}},
		"norm,alt:ln,alt:ln_1,x": {Name: "norm", Alternate: []string{"ln", "ln_1"}},
	}

	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			if diff := cmp.Diff(want, model.ParseTags(in)); diff != "" {
				t.Errorf("ParseTags mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNewUnknownArchitecture(t *testing.T) {
	p := createFile(t, gguf.KV{"general.architecture": "transformer"},
		mustTensor(t, "output", gguf.TensorTypeF32, []uint64{1}, 3))

	w, err := model.Load(context.Background(), p, newBackend(t))
	require.NoError(t, err)
	defer w.Close()

	_, err = model.New(w)
	assert.ErrorContains(t, err, `"transformer"`)
}
