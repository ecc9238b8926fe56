package gguf

import (
	"fmt"
	"reflect"
	"slices"
)

type KeyValue struct {
	Key string
	Value
}

func (kv KeyValue) Valid() bool {
	return kv.Key != "" && kv.Value.value != nil
}

// Value holds one decoded value. Accessors convert between widths of the same
// kind and return the zero value for any other kind.
type Value struct {
	value any
}

var (
	signed   = []reflect.Kind{reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64}
	unsigned = []reflect.Kind{reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64}
	floats   = []reflect.Kind{reflect.Float32, reflect.Float64}
)

func convert[T any](v reflect.Value, kinds []reflect.Kind) (t T, ok bool) {
	if !v.IsValid() || !slices.Contains(kinds, v.Kind()) {
		return t, false
	}
	return v.Convert(reflect.TypeOf(t)).Interface().(T), true
}

func scalar[T any](v Value, kinds ...reflect.Kind) T {
	t, _ := convert[T](reflect.ValueOf(v.value), kinds)
	return t
}

func array[T any](v Value, kinds ...reflect.Kind) []T {
	vv := reflect.ValueOf(v.value)
	if vv.Kind() != reflect.Slice || !slices.Contains(kinds, vv.Type().Elem().Kind()) {
		return nil
	}

	ts := make([]T, vv.Len())
	for i := range ts {
		ts[i], _ = convert[T](vv.Index(i), kinds)
	}
	return ts
}

func (v Value) Int() int64      { return scalar[int64](v, signed...) }
func (v Value) Ints() []int64   { return array[int64](v, signed...) }
func (v Value) Uint() uint64    { return scalar[uint64](v, unsigned...) }
func (v Value) Uints() []uint64 { return array[uint64](v, unsigned...) }
func (v Value) Float() float64  { return scalar[float64](v, floats...) }

func (v Value) Floats() []float64 { return array[float64](v, floats...) }
func (v Value) Bool() bool        { return scalar[bool](v, reflect.Bool) }
func (v Value) Bools() []bool     { return array[bool](v, reflect.Bool) }

// String returns the value if it is a string and "" otherwise. Use Format for
// a printable form of any value.
func (v Value) String() string { return scalar[string](v, reflect.String) }

func (v Value) Strings() []string { return array[string](v, reflect.String) }

// Format renders any value for display. Long arrays are abbreviated to their
// length and element type.
func (v Value) Format() string {
	vv := reflect.ValueOf(v.value)
	switch {
	case !vv.IsValid():
		return ""
	case vv.Kind() == reflect.Slice && vv.Len() > 8:
		return fmt.Sprintf("[%d x %s]", vv.Len(), vv.Type().Elem().Kind())
	case vv.Kind() == reflect.String:
		return fmt.Sprintf("%q", v.value)
	default:
		return fmt.Sprint(v.value)
	}
}

// Interface returns the underlying decoded value.
func (v Value) Interface() any { return v.value }
