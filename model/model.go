package model

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/tinygraph/tinygraph/ml"
)

// DefaultArchitecture is assumed for files without general.architecture.
const DefaultArchitecture = "perceptron"

// Model builds the forward graph of a network whose parameters were bound
// from Weights.
type Model interface {
	// Build declares the input tensor, the operations and the output tensor
	// in ctx and returns the expanded graph. Shape errors surface here.
	Build(ctx *ml.Context) (*ml.Graph, error)
}

var models = make(map[string]func(*Weights) (Model, error))

// Register makes a model constructor available by architecture name.
func Register(name string, f func(*Weights) (Model, error)) {
	if _, ok := models[name]; ok {
		panic("model: model already registered")
	}

	models[name] = f
}

// New constructs the model registered for the architecture of w.
func New(w *Weights) (Model, error) {
	arch := w.Architecture()
	if arch == "" {
		arch = DefaultArchitecture
	}

	f, ok := models[arch]
	if !ok {
		return nil, fmt.Errorf("unsupported model architecture %q", arch)
	}

	return f(w)
}

// Populate binds the tensors of w to the *ml.Tensor fields of the struct v
// points to. Field names come from `gguf` tags, joined with dots across
// nested structs, so a field tagged "weight" inside a field tagged "linear"
// binds "linear.weight". A tag may list alternates with ",alt:name". Nil
// struct pointers are allocated. A tensor field with no match in w is a
// *ml.NameLookupError.
func Populate(w *Weights, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("model: populate requires a non-nil struct pointer, got %T", v)
	}

	return populateFields(w, rv.Elem())
}

var tensorType = reflect.TypeOf((*ml.Tensor)(nil))

func populateFields(w *Weights, v reflect.Value, tags ...Tag) error {
	t := v.Type()
	for i := range t.NumField() {
		tt := t.Field(i).Type
		vv := v.Field(i)
		if !vv.CanSet() {
			continue
		}

		tagsCopy := tags
		if tag := t.Field(i).Tag.Get("gguf"); tag != "" {
			tagsCopy = append(tagsCopy[:len(tagsCopy):len(tagsCopy)], ParseTags(tag))
		}

		switch {
		case tt == tensorType:
			names := candidates(tagsCopy)
			for _, name := range names {
				if tensor := w.Get(name); tensor != nil {
					slog.Debug("found tensor", "name", name)
					vv.Set(reflect.ValueOf(tensor))
					break
				}
			}

			if vv.IsNil() {
				return &ml.NameLookupError{Name: strings.Join(names, "|"), Where: "weights"}
			}
		case tt.Kind() == reflect.Pointer && tt.Elem().Kind() == reflect.Struct:
			if vv.IsNil() {
				vv.Set(reflect.New(tt.Elem()))
			}

			if err := populateFields(w, vv.Elem(), tagsCopy...); err != nil {
				return err
			}
		case tt.Kind() == reflect.Struct:
			if err := populateFields(w, vv, tagsCopy...); err != nil {
				return err
			}
		}
	}

	return nil
}

// candidates expands tags into every dotted name they can spell, primary
// names first.
func candidates(tags []Tag) []string {
	if len(tags) < 1 {
		return nil
	}

	heads := append([]string{tags[0].Name}, tags[0].Alternate...)
	rest := candidates(tags[1:])
	if len(rest) == 0 {
		return heads
	}

	var names []string
	for _, head := range heads {
		for _, tail := range rest {
			names = append(names, head+"."+tail)
		}
	}

	return names
}

type Tag struct {
	Name      string
	Alternate []string
}

func ParseTags(s string) (tag Tag) {
	parts := strings.Split(s, ",")
	if len(parts) > 0 {
		tag.Name = parts[0]

		for _, part := range parts[1:] {
			if value, ok := strings.CutPrefix(part, "alt:"); ok {
				tag.Alternate = append(tag.Alternate, value)
			}
		}
	}

	return
}
