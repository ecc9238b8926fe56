// Package runner ties the stages of an inference together: it loads weights,
// builds and plans the forward graph once, then evaluates it for any number
// of inputs.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tinygraph/tinygraph/envconfig"
	"github.com/tinygraph/tinygraph/format"
	"github.com/tinygraph/tinygraph/logutil"
	"github.com/tinygraph/tinygraph/ml"
	_ "github.com/tinygraph/tinygraph/ml/backend"
	"github.com/tinygraph/tinygraph/ml/galloc"
	"github.com/tinygraph/tinygraph/model"
	_ "github.com/tinygraph/tinygraph/model/models"
)

var ErrClosed = errors.New("runner: pipeline closed")

// Pipeline owns a backend, the weights in it, a forward graph and the graph's
// memory. It is not safe for concurrent use; run several pipelines instead.
type Pipeline struct {
	logger *slog.Logger

	backend ml.Backend
	weights *model.Weights

	ctx   *ml.Context
	graph *ml.Graph
	alloc *galloc.Allocator

	input, output *ml.Tensor

	closed bool
}

// New creates a pipeline for the model at path on the device selected by
// TINYGRAPH_BACKEND.
func New(ctx context.Context, path string) (*Pipeline, error) {
	slog.Info("config", "env", envconfig.Values())

	t, err := ml.ParseDeviceType(envconfig.Backend())
	if err != nil {
		return nil, err
	}

	b, err := ml.NewBackend(t)
	if err != nil {
		return nil, err
	}

	return NewWithBackend(ctx, path, b)
}

// NewWithBackend creates a pipeline on b. The pipeline takes ownership of b,
// which is closed with the pipeline or when NewWithBackend fails.
func NewWithBackend(ctx context.Context, path string, b ml.Backend) (_ *Pipeline, err error) {
	p := &Pipeline{
		logger:  slog.With("pipeline", uuid.New().String()),
		backend: b,
	}
	defer func() {
		if err != nil {
			p.Close()
		}
	}()

	p.weights, err = model.Load(ctx, path, b)
	if err != nil {
		return nil, err
	}

	m, err := model.New(p.weights)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}

	p.ctx = model.NewGraphContext()
	p.graph, err = m.Build(p.ctx)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}

	if p.input, err = p.graph.Tensor("input"); err != nil {
		return nil, err
	}

	if p.output, err = p.graph.Tensor("output"); err != nil {
		return nil, err
	}

	p.alloc = galloc.New(b.DefaultBufferType())
	if err := p.alloc.AllocGraph(p.graph); err != nil {
		return nil, err
	}

	p.logger.Info("pipeline ready",
		"model", path,
		"nodes", len(p.graph.Nodes()),
		"input", p.input.Shape(),
		"output", p.output.Shape(),
		"graph", format.HumanBytes(int64(p.alloc.BufferSize())))
	return p, nil
}

// Inputs is the number of values Infer expects.
func (p *Pipeline) Inputs() int {
	return p.input.NumElements()
}

// Infer evaluates the graph for input and returns a copy of the output
// tensor's values. len(input) must equal Inputs.
func (p *Pipeline) Infer(input []float32) ([]float32, error) {
	if p.closed {
		return nil, ErrClosed
	}

	if len(input) != p.input.NumElements() {
		return nil, fmt.Errorf("runner: input has %d values, want %d", len(input), p.input.NumElements())
	}

	// an unchanged graph keeps its buffer
	if err := p.alloc.AllocGraph(p.graph); err != nil {
		return nil, err
	}

	if err := ml.TensorSetFloats(p.input, input); err != nil {
		return nil, err
	}

	if err := p.backend.Compute(p.graph); err != nil {
		return nil, err
	}

	output, err := ml.TensorFloats(p.output)
	if err != nil {
		return nil, err
	}

	if p.logger.Enabled(context.TODO(), logutil.LevelTrace) {
		logutil.TraceLogger(p.logger, "output", "values", ml.Dump(p.output))
	}

	return output, nil
}

// Close releases the graph, its memory, the weights and the backend in that
// order. Calling Close again returns ErrClosed.
func (p *Pipeline) Close() error {
	if p.closed {
		return ErrClosed
	}
	p.closed = true

	var errs []error
	if p.ctx != nil {
		errs = append(errs, p.ctx.Close())
	}

	if p.alloc != nil {
		errs = append(errs, p.alloc.Close())
	}

	if p.weights != nil {
		errs = append(errs, p.weights.Close())
	}

	errs = append(errs, p.backend.Close())
	return errors.Join(errs...)
}
