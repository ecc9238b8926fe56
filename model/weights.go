package model

import (
	"errors"
	"fmt"

	"github.com/tinygraph/tinygraph/fs/gguf"
	"github.com/tinygraph/tinygraph/ml"
)

// LoadError reports a model file that could not be turned into weights.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("model: load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Weights holds the parameters of a model in backend memory. All tensors share
// one buffer, which the Weights own until Close.
type Weights struct {
	ctx    *ml.Context
	buffer ml.Buffer

	keyValues map[string]gguf.KeyValue
}

// Get returns the named parameter or nil.
func (w *Weights) Get(name string) *ml.Tensor {
	return w.ctx.Tensor(name)
}

// Tensor returns the named parameter or a *ml.NameLookupError.
func (w *Weights) Tensor(name string) (*ml.Tensor, error) {
	if t := w.ctx.Tensor(name); t != nil {
		return t, nil
	}

	return nil, &ml.NameLookupError{Name: name, Where: "weights"}
}

// Tensors returns the parameters in file order.
func (w *Weights) Tensors() []*ml.Tensor {
	return w.ctx.Tensors()
}

func (w *Weights) KeyValue(key string) gguf.KeyValue {
	return w.keyValues[key]
}

func (w *Weights) Architecture() string {
	return w.KeyValue("general.architecture").String()
}

// Size is the number of bytes of backend memory held.
func (w *Weights) Size() int {
	return w.buffer.Size()
}

// Close releases the backend buffer and the tensor metadata. Calling it again
// returns an error wrapping ml.ErrBufferReleased.
func (w *Weights) Close() error {
	return errors.Join(w.buffer.Free(), w.ctx.Close())
}
