// Package xslices provide missing functionality to the slices package.
package xslices

import (
	"flag"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Map executes the given function sequentially for every element on in, and returns a mapped slice.
func Map[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}

// At returns the element at the given position. If the position is negative
// it counts from the end -- so At(slice, -1) returns the last element.
func At[T any](slice []T, pos int) T {
	if pos < 0 {
		pos = len(slice) + pos
	}
	return slice[pos]
}

// Last returns the last element of the slice.
func Last[T any](slice []T) T {
	return slice[len(slice)-1]
}

// Pop removes the last element of the slice and returns it along with the shortened slice.
func Pop[T any](slice []T) (T, []T) {
	last := Last(slice)
	return last, slice[:len(slice)-1]
}

// sliceFlag implements the flag.Value interface for comma-separated slice values.
type sliceFlag[T any] struct {
	values  *[]T
	parseFn func(string) (T, error)
}

// String implements flag.Value.
func (f *sliceFlag[T]) String() string {
	if f == nil || f.values == nil {
		return ""
	}
	parts := Map(*f.values, func(v T) string { return fmt.Sprintf("%v", v) })
	return strings.Join(parts, ",")
}

// Set implements flag.Value, parsing a comma-separated list of values.
func (f *sliceFlag[T]) Set(valuesStr string) error {
	parts := strings.Split(valuesStr, ",")
	newValues := make([]T, 0, len(parts))
	for _, part := range parts {
		value, err := f.parseFn(strings.TrimSpace(part))
		if err != nil {
			return errors.Wrapf(err, "failed to parse %q as flag value", part)
		}
		newValues = append(newValues, value)
	}
	*f.values = newValues
	return nil
}

// Flag defines a new flag with the given name that accepts a comma-separated list of
// values, each parsed with parseFn. It returns a pointer to the slice with the current
// values, initialized with defaultValues.
func Flag[T any](name string, defaultValues []T, usage string, parseFn func(string) (T, error)) *[]T {
	values := make([]T, len(defaultValues))
	copy(values, defaultValues)
	f := &sliceFlag[T]{values: &values, parseFn: parseFn}
	flag.Var(f, name, usage)
	return &values
}
