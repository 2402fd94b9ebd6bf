// Package vmaptest holds test-authoring utilities for packages that exercise the vmap
// transform.
//
// It provides two loosely related facilities:
//
//   - Parameter expansion: a Suite collects test templates together with named
//     parameter axes (see Parameterized), and Instantiate expands the cross product of
//     all axes' cases into individually named test methods. See Suite for an example.
//
//   - Batched-vs-loop comparison: ExhaustiveBatchedInputs enumerates every way of
//     batching an operation's tensor arguments, Loop gives the per-index reference
//     semantics, and FallbackAndVmapExhaustive yields (reference, vectorized) output
//     pairs -- including a nested double-vmap trial -- for equality assertions.
//
// Supporting utilities register conditional skip/expected-failure markers on OpInfo
// records (SkipOps, XFail) and toggle vmap's fallback path in a scoped fashion
// (DisableVmapFallback, CheckVmapFallback), so tests can require that an operation has
// a real batching rule.
package vmaptest

import (
	"fmt"
	"testing"

	"github.com/gomlx/exceptions"

	"github.com/ZolotukhinM/functorch/types/xslices"
	"github.com/ZolotukhinM/functorch/vmap"
	"github.com/ZolotukhinM/functorch/vmap/opinfo"
)

// testDevices is the devices device-aware suites run against by default.
var testDevices = xslices.Flag("vmap_devices", []Device{CPU},
	"comma-separated list of device types for device-aware parameterized tests",
	func(v string) (Device, error) { return Device(v), nil })

// DisableVmapFallback disables vmap's fallback path and returns a function that
// restores the previous setting -- the exact prior value, including when the guarded
// block panics:
//
//	defer vmaptest.DisableVmapFallback()()
func DisableVmapFallback() (restore func()) {
	previous := vmap.SetFallbackEnabled(false)
	return func() { vmap.SetFallbackEnabled(previous) }
}

// CheckVmapFallback runs thunk with the vmap fallback path disabled, forcing it to
// exercise a real batching rule. If thunk panics and dryRun is false, the panic
// propagates and the test fails. With dryRun true the panic is swallowed and a
// ready-to-paste XFail entry for the operation is printed instead, to help build a
// skip list -- a developer-only mode that trades the correctness signal for
// convenience.
func CheckVmapFallback(t *testing.T, thunk func(), op *opinfo.OpInfo, dryRun bool) {
	t.Helper()
	exception := exceptions.Try(func() {
		defer DisableVmapFallback()()
		thunk()
	})
	if exception == nil {
		return
	}
	if !dryRun {
		panic(exception)
	}
	if op.VariantTestName != "" {
		fmt.Printf("XFail(%q, %q),\n", op.Name, op.VariantTestName)
	} else {
		fmt.Printf("XFail(%q, \"\"),\n", op.Name)
	}
}
