package model

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/tinygraph/tinygraph/format"
	"github.com/tinygraph/tinygraph/fs/gguf"
	"github.com/tinygraph/tinygraph/ml"
)

func dtypeOf(tt gguf.TensorType) (ml.DType, error) {
	switch tt {
	case gguf.TensorTypeF32:
		return ml.DTypeF32, nil
	case gguf.TensorTypeF16:
		return ml.DTypeF16, nil
	case gguf.TensorTypeBF16:
		return ml.DTypeBF16, nil
	case gguf.TensorTypeI32:
		return ml.DTypeI32, nil
	default:
		return ml.DTypeOther, fmt.Errorf("unsupported tensor type %s", tt)
	}
}

// Load reads every tensor of the GGUF file at path into one buffer of the
// backend's default buffer type. Tensor data is first staged in host memory,
// then copied byte for byte into the backend; the staging memory and the file
// are released before Load returns. On failure nothing is returned and
// everything allocated so far is released. ctx cancels the file reads.
func Load(ctx context.Context, path string, backend ml.Backend) (*Weights, error) {
	w, err := load(ctx, path, backend)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	return w, nil
}

func load(ctx context.Context, path string, backend ml.Backend) (_ *Weights, err error) {
	f, err := gguf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	staging, err := stage(f)
	if err != nil {
		return nil, err
	}
	defer staging.Close()

	host, err := ml.AllocContextTensors(staging, ml.NewHostBufferType("host", int(f.Alignment())))
	if err != nil {
		return nil, err
	}
	defer host.Free()

	if err := read(ctx, path, f, staging.Tensors()); err != nil {
		return nil, err
	}

	n := len(staging.Tensors())
	dst := ml.NewContext(ml.ContextParams{MemSize: ml.TensorOverhead * n})
	defer func() {
		if err != nil {
			dst.Close()
		}
	}()

	if err := dup(dst, staging); err != nil {
		return nil, err
	}

	bt := backend.DefaultBufferType()
	buf, err := ml.AllocContextTensors(dst, bt)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			buf.Free()
		}
	}()

	for i, src := range staging.Tensors() {
		t := dst.Tensors()[i]

		bts, err := ml.HostBytes(src)
		if err != nil {
			return nil, err
		}

		if len(bts) != t.NBytes() {
			return nil, fmt.Errorf("tensor %q: staged %d bytes, want %d", t.Name(), len(bts), t.NBytes())
		}

		if err := ml.TensorSet(t, bts, 0); err != nil {
			return nil, fmt.Errorf("tensor %q: %w", t.Name(), err)
		}
	}

	var values uint64
	for _, t := range dst.Tensors() {
		values += uint64(t.NumElements())
	}

	keyValues := make(map[string]gguf.KeyValue, f.NumKeyValues())
	for _, kv := range f.KeyValues() {
		keyValues[kv.Key] = kv
	}

	slog.Info("model weights",
		"architecture", keyValues["general.architecture"].String(),
		"tensors", n,
		"parameters", format.HumanNumber(values),
		"buffer", bt.Name(),
		"size", format.HumanBytes2(uint64(buf.Size())))

	return &Weights{ctx: dst, buffer: buf, keyValues: keyValues}, nil
}

// stage creates a host tensor for every directory entry of f.
func stage(f *gguf.File) (_ *ml.Context, err error) {
	staging := ml.NewContext(ml.ContextParams{MemSize: ml.TensorOverhead * f.NumTensors()})
	defer func() {
		if err != nil {
			staging.Close()
		}
	}()
	defer ml.Recover(&err)

	for _, ti := range f.TensorInfos() {
		dtype, err := dtypeOf(ti.Type)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", ti.Name, err)
		}

		shape := make([]int, len(ti.Shape))
		for i, dim := range ti.Shape {
			shape[i] = int(dim)
		}

		t := staging.NewTensor(dtype, shape...).SetName(ti.Name)
		slog.Debug("created tensor", "name", ti.Name, "type", dtype, "shape", shape)

		if uint64(t.NBytes()) != ti.NumBytes() {
			return nil, fmt.Errorf("tensor %q: %d bytes in file, want %d", ti.Name, ti.NumBytes(), t.NBytes())
		}
	}

	return staging, nil
}

// read fills the staged tensors from the file, several tensors at a time.
// Each reader opens its own file descriptor so reads stay sequential.
func read(ctx context.Context, path string, f *gguf.File, ts []*ml.Tensor) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for _, t := range ts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			bts, err := ml.HostBytes(t)
			if err != nil {
				return err
			}

			file, err := os.Open(path)
			if err != nil {
				return err
			}
			defer file.Close()

			ti := f.TensorInfo(t.Name())
			sr := io.NewSectionReader(file, f.DataOffset()+int64(ti.Offset), int64(ti.NumBytes()))
			if _, err := io.ReadFull(sr, bts); err != nil {
				slog.Warn("file read error", "file", path, "tensor", t.Name(), "error", err)
				return fmt.Errorf("tensor %q: %w", t.Name(), err)
			}

			return nil
		})
	}

	return g.Wait()
}

func dup(dst, src *ml.Context) (err error) {
	defer ml.Recover(&err)

	for _, t := range src.Tensors() {
		ml.DupTensor(dst, t).SetParam()
	}

	return nil
}
