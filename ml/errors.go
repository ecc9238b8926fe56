package ml

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

var (
	ErrContextFull        = errors.New("ml: context memory exhausted")
	ErrContextClosed      = errors.New("ml: context closed")
	ErrGraphFull          = errors.New("ml: graph is full")
	ErrInvalidShape       = errors.New("ml: invalid shape")
	ErrBufferReleased     = errors.New("ml: buffer already released")
	ErrBackendClosed      = errors.New("ml: backend closed")
	ErrTensorNotAllocated = errors.New("ml: tensor not allocated")
)

// ShapeMismatchError is raised when an operation is given tensors whose shapes
// cannot be combined.
type ShapeMismatchError struct {
	Op   Op
	A, B []int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("ml: %s: incompatible shapes %v and %v", e.Op, e.A, e.B)
}

// AllocationError reports a buffer request that could not be satisfied.
type AllocationError struct {
	BufferType string
	Size       int
	Err        error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("ml: failed to allocate %d bytes from %s buffer: %v", e.Size, e.BufferType, e.Err)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

// NameLookupError reports a named tensor missing from a context, graph or
// weight store.
type NameLookupError struct {
	Name  string
	Where string
}

func (e *NameLookupError) Error() string {
	return fmt.Sprintf("ml: tensor %q not found in %s", e.Name, e.Where)
}

type Status int

const (
	StatusSuccess Status = iota
	StatusFailed
	StatusAllocFailed
	StatusUnsupported
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	case StatusAllocFailed:
		return "alloc failed"
	case StatusUnsupported:
		return "unsupported"
	case StatusAborted:
		return "aborted"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ComputeError is returned by Backend.Compute when a node could not be
// evaluated. Node is the name of the failing tensor, if any.
type ComputeError struct {
	Status Status
	Node   string
	Err    error
}

func (e *ComputeError) Error() string {
	var sb strings.Builder
	sb.WriteString("ml: compute ")
	sb.WriteString(e.Status.String())
	if e.Node != "" {
		fmt.Fprintf(&sb, " at node %q", e.Node)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *ComputeError) Unwrap() error {
	return e.Err
}

// Recover turns a panic raised while building tensors or graphs back into an
// error. It must be deferred directly:
//
//	defer ml.Recover(&err)
//
// Runtime errors and non-error panics are re-raised.
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}

	if _, ok := r.(runtime.Error); ok {
		panic(r)
	}

	err, ok := r.(error)
	if !ok {
		panic(r)
	}

	*errp = err
}
