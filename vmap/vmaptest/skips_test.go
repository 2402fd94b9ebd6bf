package vmaptest

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZolotukhinM/functorch/types/tensors"
	"github.com/ZolotukhinM/functorch/vmap"
	"github.com/ZolotukhinM/functorch/vmap/opinfo"
)

// registerProbeOp adds a throwaway OpInfo record so skip-list tests don't mutate the
// built-in database entries.
func registerProbeOp(name, variant string) *opinfo.OpInfo {
	op := &opinfo.OpInfo{
		Name:            name,
		VariantTestName: variant,
		Op: vmap.NewFunc(name, func(args []any, _ map[string]any) any {
			return tensors.Sum(args[0].(*tensors.Tensor))
		}, nil),
	}
	opinfo.Register(op)
	return op
}

func TestXFail(t *testing.T) {
	entry := XFail("sum", "")
	assert.Equal(t, SkipEntry{OpName: "sum", ExpectedFailure: true}, entry)

	entry = XFail("add", "broadcast",
		WithDeviceType("cuda"), WithDTypes(dtypes.Float64), Skipped())
	assert.Equal(t, SkipEntry{
		OpName:      "add",
		VariantName: "broadcast",
		DeviceType:  "cuda",
		DTypes:      []dtypes.DType{dtypes.Float64},
	}, entry)
}

func TestSkipOps(t *testing.T) {
	failing := registerProbeOp("skipProbeFail", "")
	skipped := registerProbeOp("skipProbeSkip", "")

	decorate := SkipOps("TestOperators", "TestExhaustive", []SkipEntry{
		XFail("skipProbeFail", ""),
		XFail("skipProbeSkip", "", Skipped()),
	})

	assert.True(t, failing.ExpectedFailure("TestOperators", "TestExhaustive", "cpu", dtypes.Float32))
	assert.False(t, failing.Skipped("TestOperators", "TestExhaustive", "cpu", dtypes.Float32))
	assert.True(t, skipped.Skipped("TestOperators", "TestExhaustive", "cpu", dtypes.Float32))
	assert.False(t, skipped.ExpectedFailure("TestOperators", "TestExhaustive", "cpu", dtypes.Float32))

	// Markers are scoped to the given test class and base test.
	assert.False(t, failing.ExpectedFailure("TestOperators", "TestOther", "cpu", dtypes.Float32))

	// The returned decorator forwards the decorated function untouched.
	fn := func() {}
	assert.NotNil(t, decorate(fn))
}

func TestSkipOpsVariants(t *testing.T) {
	plain := registerProbeOp("skipProbeVariants", "")
	inplace := registerProbeOp("skipProbeVariants", "inplace")

	// An empty variant name matches all variants of the operation.
	SkipOps("TestOperators", "TestAllVariants", []SkipEntry{
		XFail("skipProbeVariants", ""),
	})
	assert.True(t, plain.ExpectedFailure("TestOperators", "TestAllVariants", "cpu", dtypes.Float32))
	assert.True(t, inplace.ExpectedFailure("TestOperators", "TestAllVariants", "cpu", dtypes.Float32))

	// A concrete variant name matches only that variant.
	SkipOps("TestOperators", "TestOneVariant", []SkipEntry{
		XFail("skipProbeVariants", "inplace"),
	})
	assert.False(t, plain.ExpectedFailure("TestOperators", "TestOneVariant", "cpu", dtypes.Float32))
	assert.True(t, inplace.ExpectedFailure("TestOperators", "TestOneVariant", "cpu", dtypes.Float32))
}

func TestSkipOpsMissingOp(t *testing.T) {
	probe := registerProbeOp("skipProbeMissing", "")
	before := len(probe.Decorators)

	// A skip list naming an unknown operation fails fast, mutating nothing: not even
	// the entries that did match.
	require.Panics(t, func() {
		SkipOps("TestOperators", "TestExhaustive", []SkipEntry{
			XFail("skipProbeMissing", ""),
			XFail("noSuchOperation", ""),
		})
	})
	assert.Len(t, probe.Decorators, before)
}

func TestDisableVmapFallback(t *testing.T) {
	require.True(t, vmap.FallbackEnabled())

	restore := DisableVmapFallback()
	assert.False(t, vmap.FallbackEnabled())

	// Nested guards restore the exact prior state, not just `true`.
	restoreInner := DisableVmapFallback()
	assert.False(t, vmap.FallbackEnabled())
	restoreInner()
	assert.False(t, vmap.FallbackEnabled())

	restore()
	assert.True(t, vmap.FallbackEnabled())
}

func TestDisableVmapFallbackRestoresOnPanic(t *testing.T) {
	exception := exceptions.Try(func() {
		defer DisableVmapFallback()()
		require.False(t, vmap.FallbackEnabled())
		exceptions.Panicf("boom")
	})
	require.NotNil(t, exception)
	assert.True(t, vmap.FallbackEnabled())
}

func TestCheckVmapFallback(t *testing.T) {
	withRule := &opinfo.OpInfo{
		Name: "checkProbeRuled",
		Op: vmap.NewFunc("checkProbeRuled", func(args []any, _ map[string]any) any {
			return tensors.Neg(args[0].(*tensors.Tensor))
		}, vmap.ElementwiseUnaryRule(tensors.Neg)),
	}
	opinfo.Register(withRule)
	ruleless := registerProbeOp("checkProbeRuleless", "")
	variant := registerProbeOp("checkProbeRuleless", "decomposed")

	batched := tensors.FromValue([][]float32{{1, 2}, {3, 4}, {5, 6}})
	runVmap := func(op *opinfo.OpInfo) func() {
		return func() {
			vmap.Vmap(op.Op, []int{0}, 0).Call([]any{batched}, nil)
		}
	}

	// An operation with a batching rule passes with the fallback disabled.
	CheckVmapFallback(t, runVmap(withRule), withRule, false)
	assert.True(t, vmap.FallbackEnabled())

	// Without a rule the transform panics, and the panic propagates when not a dry run.
	require.Panics(t, func() { CheckVmapFallback(t, runVmap(ruleless), ruleless, false) })
	assert.True(t, vmap.FallbackEnabled())

	// A dry run swallows the panic and prints a ready-to-paste skip-list entry instead.
	CheckVmapFallback(t, runVmap(ruleless), ruleless, true)
	CheckVmapFallback(t, runVmap(variant), variant, true)
	assert.True(t, vmap.FallbackEnabled())
}
