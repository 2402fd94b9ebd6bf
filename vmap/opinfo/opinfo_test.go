package opinfo

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZolotukhinM/functorch/types/tensors"
	"github.com/ZolotukhinM/functorch/vmap"
)

func TestRegister(t *testing.T) {
	require.NotEmpty(t, All())

	// Duplicate (name, variant) pairs and incomplete records are rejected.
	require.Panics(t, func() { Register(unaryOpInfo("neg", tensors.Neg)) })
	require.Panics(t, func() { Register(&OpInfo{Op: vmap.FuncOf(nil)}) })
	require.Panics(t, func() { Register(&OpInfo{Name: "nameless"}) })
}

func TestFind(t *testing.T) {
	adds := FindByName("add")
	require.Len(t, adds, 2)
	assert.Equal(t, "add", adds[0].FullName())
	assert.Equal(t, "add.broadcast", adds[1].FullName())

	// Empty variant matches all variants, a concrete one only itself.
	assert.Equal(t, adds, Find("add", ""))
	broadcast := Find("add", "broadcast")
	require.Len(t, broadcast, 1)
	assert.Equal(t, "add.broadcast", broadcast[0].FullName())

	assert.Empty(t, Find("add", "nonexistent"))
	assert.Empty(t, FindByName("nonexistent"))
}

func TestDatabaseEntries(t *testing.T) {
	for _, op := range All() {
		require.NotNil(t, op.Op, op.FullName())
		require.NotNil(t, op.SampleInputs, op.FullName())
		samples := op.SampleInputs()
		require.NotEmpty(t, samples, op.FullName())
		for _, sample := range samples {
			out := op.Op.Call(sample.Args, sample.Kwargs)
			require.NotNil(t, out, op.FullName())
		}
	}
}

func TestDecorateInfoMatches(t *testing.T) {
	d := &DecorateInfo{
		TestClassName: "TestVmapOperators",
		BaseTestName:  "TestVmapExhaustive",
	}
	assert.True(t, d.Matches("TestVmapOperators", "TestVmapExhaustive", "cpu", dtypes.Float32))
	assert.False(t, d.Matches("TestVmapOperators", "TestOther", "cpu", dtypes.Float32))
	assert.False(t, d.Matches("TestOther", "TestVmapExhaustive", "cpu", dtypes.Float32))

	d.DeviceType = "cuda"
	assert.False(t, d.Matches("TestVmapOperators", "TestVmapExhaustive", "cpu", dtypes.Float32))
	assert.True(t, d.Matches("TestVmapOperators", "TestVmapExhaustive", "cuda", dtypes.Float32))

	d.DTypes = []dtypes.DType{dtypes.Float64}
	assert.False(t, d.Matches("TestVmapOperators", "TestVmapExhaustive", "cuda", dtypes.Float32))
	assert.True(t, d.Matches("TestVmapOperators", "TestVmapExhaustive", "cuda", dtypes.Float64))
}

func TestExpectedFailureAndSkipped(t *testing.T) {
	op := &OpInfo{
		Name: "probe",
		Op:   vmap.FuncOf(func(args []any, kwargs map[string]any) any { return args[0] }),
	}
	assert.False(t, op.ExpectedFailure("C", "B", "cpu", dtypes.Float32))
	assert.False(t, op.Skipped("C", "B", "cpu", dtypes.Float32))

	op.Decorators = append(op.Decorators, &DecorateInfo{
		ExpectedFailure: true,
		TestClassName:   "C",
		BaseTestName:    "B",
	})
	assert.True(t, op.ExpectedFailure("C", "B", "cpu", dtypes.Float32))
	assert.False(t, op.Skipped("C", "B", "cpu", dtypes.Float32))

	op.Decorators = append(op.Decorators, &DecorateInfo{
		TestClassName: "C",
		BaseTestName:  "Other",
	})
	assert.True(t, op.Skipped("C", "Other", "cpu", dtypes.Float32))
	assert.False(t, op.ExpectedFailure("C", "Other", "cpu", dtypes.Float32))
}
