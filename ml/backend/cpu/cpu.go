// Package cpu is the reference backend. It evaluates graphs on the host with
// plain Go kernels and registers itself as the "cpu" device.
package cpu

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"

	"github.com/tinygraph/tinygraph/envconfig"
	"github.com/tinygraph/tinygraph/logutil"
	"github.com/tinygraph/tinygraph/ml"
)

// Alignment of tensors placed in CPU buffers.
const Alignment = 32

func init() {
	ml.RegisterDevice("cpu", device{})
}

type device struct{}

func (device) Info() ml.DeviceInfo {
	return ml.DeviceInfo{
		Name:        "CPU",
		Description: description(),
		Type:        ml.DeviceTypeCPU,
	}
}

func (device) NewBackend() (ml.Backend, error) {
	return New(int(envconfig.NumThreads())), nil
}

func description() string {
	var features []string
	for _, f := range []cpuid.FeatureID{cpuid.SSE4, cpuid.AVX, cpuid.AVX2, cpuid.FMA3, cpuid.AVX512F, cpuid.ASIMD, cpuid.SVE} {
		if cpuid.CPU.Supports(f) {
			features = append(features, f.String())
		}
	}

	brand := cpuid.CPU.BrandName
	if brand == "" {
		brand = runtime.GOARCH
	}

	if len(features) == 0 {
		return fmt.Sprintf("%s (%d threads)", brand, runtime.NumCPU())
	}

	return fmt.Sprintf("%s (%d threads, %s)", brand, runtime.NumCPU(), strings.Join(features, " "))
}

type Backend struct {
	threads int
	bt      ml.BufferType
	closed  bool
}

// New returns a CPU backend using up to threads goroutines per operation.
// threads <= 0 uses one per logical CPU.
func New(threads int) *Backend {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	return &Backend{
		threads: threads,
		bt:      ml.NewHostBufferType("CPU", Alignment),
	}
}

func (b *Backend) Device() ml.DeviceInfo {
	return device{}.Info()
}

func (b *Backend) DefaultBufferType() ml.BufferType {
	return b.bt
}

func (b *Backend) Threads() int {
	return b.threads
}

func (b *Backend) Compute(g *ml.Graph) error {
	if b.closed {
		return ml.ErrBackendClosed
	}

	for i, node := range g.Nodes() {
		logutil.Trace("compute", "index", i, "op", node.Op(), "name", node.Name(), "shape", node.Shape())
		if err := b.compute(node); err != nil {
			slog.Error("compute failed", "index", i, "op", node.Op(), "name", node.Name(), "error", err)
			return err
		}
	}

	return nil
}

func (b *Backend) compute(node *ml.Tensor) error {
	fail := func(status ml.Status, err error) error {
		return &ml.ComputeError{Status: status, Node: nodeName(node), Err: err}
	}

	if node.DType() != ml.DTypeF32 {
		return fail(ml.StatusUnsupported, fmt.Errorf("%s output must be F32, got %s", node.Op(), node.DType()))
	}

	dst, err := ml.HostBytes(node)
	if err != nil {
		return fail(ml.StatusAllocFailed, err)
	}

	srcs := make([][]float32, len(node.Sources()))
	for i, src := range node.Sources() {
		bts, err := ml.HostBytes(src)
		if err != nil {
			return fail(ml.StatusAllocFailed, fmt.Errorf("source %d: %w", i, err))
		}

		if srcs[i], err = decode(src.DType(), bts); err != nil {
			return fail(ml.StatusUnsupported, fmt.Errorf("source %d: %w", i, err))
		}
	}

	var out []float32
	switch node.Op() {
	case ml.OpMulmat:
		out = b.mulmat(node.Sources()[0], node.Sources()[1], srcs[0], srcs[1])
	case ml.OpAdd:
		out = add(node.Sources()[0], node.Sources()[1], srcs[0], srcs[1])
	case ml.OpSigmoid:
		out = sigmoid(srcs[0])
	default:
		return fail(ml.StatusUnsupported, fmt.Errorf("unsupported operation %s", node.Op()))
	}

	encodeF32(dst, out)
	return nil
}

func nodeName(t *ml.Tensor) string {
	if t.Name() != "" {
		return t.Name()
	}
	return t.Op().String()
}

// Close releases the backend. Buffers allocated from it stay valid until they
// are freed by their owners.
func (b *Backend) Close() error {
	if b.closed {
		return ml.ErrBackendClosed
	}

	b.closed = true
	return nil
}
