package vmaptest

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/ZolotukhinM/functorch/vmap/opinfo"
)

// SkipEntry is one skip-list entry: it selects OpInfo records by name (and variant, if
// given) and describes the conditional marker to attach to them. Build entries with
// XFail.
type SkipEntry struct {
	OpName string

	// VariantName selects one variant; empty matches all variants of OpName.
	VariantName string

	// DeviceType restricts the marker to one device type; empty matches all.
	DeviceType string

	// DTypes restricts the marker to the listed dtypes; empty matches all.
	DTypes []dtypes.DType

	// ExpectedFailure marks the test as an expected failure; false marks a plain skip.
	ExpectedFailure bool
}

// XFailOption configures an XFail entry.
type XFailOption func(entry *SkipEntry)

// WithDeviceType restricts the entry to one device type.
func WithDeviceType(deviceType string) XFailOption {
	return func(entry *SkipEntry) { entry.DeviceType = deviceType }
}

// WithDTypes restricts the entry to the given dtypes.
func WithDTypes(dts ...dtypes.DType) XFailOption {
	return func(entry *SkipEntry) { entry.DTypes = dts }
}

// Skipped turns the entry into a plain skip instead of an expected failure.
func Skipped() XFailOption {
	return func(entry *SkipEntry) { entry.ExpectedFailure = false }
}

// XFail constructs one skip-list entry marking the operation as an expected failure.
// variantName may be empty to match all variants. It is a pure data constructor with no
// side effects.
func XFail(opName, variantName string, opts ...XFailOption) SkipEntry {
	entry := SkipEntry{OpName: opName, VariantName: variantName, ExpectedFailure: true}
	for _, opt := range opts {
		opt(&entry)
	}
	return entry
}

// SkipOps appends, for each entry of the skip list, a conditional marker -- scoped to
// the given test class and base test names -- to the decorator collection of every
// matching OpInfo record. It panics if any entry matches no record, and in that case no
// record is mutated.
//
// It returns a no-op decorator, so a skip list can syntactically annotate the test
// function it serves:
//
//	var _ = vmaptest.SkipOps("TestVmapOperators", "TestExhaustive", []vmaptest.SkipEntry{
//		vmaptest.XFail("sum", ""),
//	})
func SkipOps(testClassName, baseTestName string, toSkip []SkipEntry) func(fn any) any {
	// Fail-fast before mutating anything.
	matching := make([][]*opinfo.OpInfo, len(toSkip))
	for ii, entry := range toSkip {
		matching[ii] = opinfo.Find(entry.OpName, entry.VariantName)
		if len(matching[ii]) == 0 {
			exceptions.Panicf("vmaptest.SkipOps: couldn't find OpInfo for %q (variant %q)",
				entry.OpName, entry.VariantName)
		}
	}
	for ii, entry := range toSkip {
		for _, op := range matching[ii] {
			op.Decorators = append(op.Decorators, &opinfo.DecorateInfo{
				ExpectedFailure: entry.ExpectedFailure,
				TestClassName:   testClassName,
				BaseTestName:    baseTestName,
				DeviceType:      entry.DeviceType,
				DTypes:          entry.DTypes,
			})
		}
	}

	// This decorator doesn't modify fn in any way.
	return func(fn any) any { return fn }
}
