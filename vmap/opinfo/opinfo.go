// Package opinfo keeps a registry of operations and their test metadata.
//
// Each OpInfo record describes one operation: its name and variant, the vmap.Func that
// evaluates it, a generator of sample inputs, and an ordered collection of decorators
// -- conditional skip/expected-failure markers that test drivers consult before
// reporting a result. Records are registered at init time (see db.go for the built-in
// database) and looked up by name, or by name and variant.
package opinfo

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/ZolotukhinM/functorch/vmap"
)

// SampleInput holds one set of concrete argument values for an operation.
type SampleInput struct {
	Args   []any
	Kwargs map[string]any
}

// DecorateInfo is a conditional marker attached to an OpInfo: it scopes a skip or an
// expected failure to one test class/base test, optionally restricted by device type
// and dtypes.
type DecorateInfo struct {
	// ExpectedFailure distinguishes an expected failure (true) from a plain skip.
	ExpectedFailure bool

	TestClassName string
	BaseTestName  string

	// DeviceType restricts the marker to one device type; empty matches all.
	DeviceType string

	// DTypes restricts the marker to the listed dtypes; empty matches all.
	DTypes []dtypes.DType
}

// Matches reports whether the marker applies to the given test context.
func (d *DecorateInfo) Matches(testClassName, baseTestName, deviceType string, dtype dtypes.DType) bool {
	if d.TestClassName != testClassName || d.BaseTestName != baseTestName {
		return false
	}
	if d.DeviceType != "" && d.DeviceType != deviceType {
		return false
	}
	if len(d.DTypes) > 0 && !slices.Contains(d.DTypes, dtype) {
		return false
	}
	return true
}

// OpInfo describes one operation's name, variant and associated test metadata.
type OpInfo struct {
	// Name of the operation, e.g. "add".
	Name string

	// VariantTestName distinguishes variants of the same operation; empty for the
	// default variant.
	VariantTestName string

	// Op evaluates the operation and optionally carries its batching rule.
	Op *vmap.Func

	// SampleInputs generates fresh concrete inputs for testing the operation.
	SampleInputs func() []SampleInput

	// Decorators is the mutable ordered collection of conditional markers. SkipOps
	// (package vmaptest) appends to it.
	Decorators []*DecorateInfo
}

// FullName returns "name" or "name.variant".
func (o *OpInfo) FullName() string {
	if o.VariantTestName == "" {
		return o.Name
	}
	return o.Name + "." + o.VariantTestName
}

// ExpectedFailure reports whether any of the record's decorators marks the given test
// context as an expected failure.
func (o *OpInfo) ExpectedFailure(testClassName, baseTestName, deviceType string, dtype dtypes.DType) bool {
	for _, d := range o.Decorators {
		if d.ExpectedFailure && d.Matches(testClassName, baseTestName, deviceType, dtype) {
			return true
		}
	}
	return false
}

// Skipped reports whether any of the record's decorators marks the given test context
// as skipped (without expecting a failure).
func (o *OpInfo) Skipped(testClassName, baseTestName, deviceType string, dtype dtypes.DType) bool {
	for _, d := range o.Decorators {
		if !d.ExpectedFailure && d.Matches(testClassName, baseTestName, deviceType, dtype) {
			return true
		}
	}
	return false
}

var registry []*OpInfo

// Register adds the record to the package registry. It panics on a duplicate
// (name, variant) pair.
func Register(op *OpInfo) {
	if op.Name == "" {
		exceptions.Panicf("opinfo.Register: record requires a name")
	}
	if op.Op == nil {
		exceptions.Panicf("opinfo.Register: record %q requires an Op", op.FullName())
	}
	for _, existing := range registry {
		if existing.Name == op.Name && existing.VariantTestName == op.VariantTestName {
			exceptions.Panicf("opinfo.Register: record %q already registered", op.FullName())
		}
	}
	registry = append(registry, op)
}

// All returns the registered records, in registration order. The returned slice is
// owned by the registry; don't modify it.
func All() []*OpInfo {
	return registry
}

// FindByName returns all records with the given operation name, across variants.
func FindByName(name string) []*OpInfo {
	var matches []*OpInfo
	for _, op := range registry {
		if op.Name == name {
			matches = append(matches, op)
		}
	}
	return matches
}

// Find returns the records matching the given name and variant. An empty variantName
// matches all variants of that name.
func Find(name, variantName string) []*OpInfo {
	if variantName == "" {
		return FindByName(name)
	}
	var matches []*OpInfo
	for _, op := range registry {
		if op.Name == name && op.VariantTestName == variantName {
			matches = append(matches, op)
		}
	}
	return matches
}
