package vmaptest

import (
	"fmt"
	"testing"

	"github.com/gomlx/exceptions"
)

// Case binds a human-readable label to a concrete value for one parameter axis.
type Case struct {
	Label string
	Value any
}

// Cases is the ordered case mapping of one parameter axis. The order defines the order
// in which generated method names enumerate, nothing else.
type Cases []Case

// Axis is one (argument name, case mapping) pair to attach to a test template. Build it
// with Parameterized or ParameterizedWithDevice.
type Axis struct {
	argName    string
	cases      Cases
	withDevice bool
}

// Parameterized returns a parameter axis binding the given argument name to each of the
// given cases in turn. Attach axes to a template with Suite.Define; each attached axis
// multiplies the number of generated test methods by its number of cases.
func Parameterized(argName string, cases Cases) Axis {
	if argName == "" {
		exceptions.Panicf("vmaptest.Parameterized: argument name must not be empty")
	}
	if len(cases) == 0 {
		exceptions.Panicf("vmaptest.Parameterized(%q): at least one case is required", argName)
	}
	return Axis{argName: argName, cases: cases}
}

// ParameterizedWithDevice is like Parameterized, but additionally tags the template as
// device-aware: generated methods take a leading device argument, forwarded untouched
// to the template. Device-aware axes can only be attached with Suite.DefineWithDevice.
func ParameterizedWithDevice(argName string, cases Cases) Axis {
	axis := Parameterized(argName, cases)
	axis.withDevice = true
	return axis
}

// Params holds the case values of one instantiated combination, keyed by the argument
// names of the template's axes.
type Params map[string]any

// Get returns the value bound to the given argument name. It panics if the template has
// no axis with that name.
func (p Params) Get(argName string) any {
	value, found := p[argName]
	if !found {
		exceptions.Panicf("vmaptest.Params: no parameter named %q (have %v)", argName, p)
	}
	return value
}

// Param returns the value bound to the given argument name, asserting its type.
func Param[T any](p Params, argName string) T {
	value := p.Get(argName)
	typed, ok := value.(T)
	if !ok {
		var want T
		exceptions.Panicf("vmaptest.Param[%T](%q): case value has type %T", want, argName, value)
	}
	return typed
}

// Device identifies the device type a device-aware test method runs against. The engine
// is host-only, so methods receive the device as an opaque tag.
type Device string

// CPU is the default device.
const CPU Device = "cpu"

// TemplateFn is a test template whose parameters are bound through Params.
type TemplateFn func(t *testing.T, params Params)

// DeviceTemplateFn is a device-aware test template: the device argument is forwarded
// untouched by the generated wrappers.
type DeviceTemplateFn func(t *testing.T, device Device, params Params)

// TestFn is a generated, fully-bound test method.
type TestFn func(t *testing.T)

// DeviceTestFn is a generated device-aware test method; the caller supplies the device.
type DeviceTestFn func(t *testing.T, device Device)

// template is one side-table entry: the registered function and its parameter stack.
type template struct {
	name     string
	fn       TemplateFn
	deviceFn DeviceTemplateFn
	stack    []Axis
}

// Suite collects parameterized test templates and expands them into individually named
// test methods, one per combination of the cross product of the templates' parameter
// axes:
//
//	suite := vmaptest.NewSuite()
//	suite.Define("TestUnary", func(t *testing.T, params vmaptest.Params) {
//		op := vmaptest.Param[*vmap.Func](params, "op")
//		...
//	}, vmaptest.Parameterized("op", vmaptest.Cases{
//		{"abs", opAbs},
//		{"cos", opCos},
//	}))
//	suite.Instantiate() // Generates TestUnary_abs and TestUnary_cos; removes TestUnary.
//	suite.Run(t)
//
// The parameter metadata lives in an explicit side-table inside the Suite, keyed by
// template name, populated by Define and consumed (and cleared) by Instantiate.
type Suite struct {
	templates     map[string]*template
	templateOrder []string

	methods     map[string]TestFn
	methodOrder []string

	deviceMethods     map[string]DeviceTestFn
	deviceMethodOrder []string

	devices []Device
}

// NewSuite returns an empty Suite. Device-aware methods run against the devices from
// the -vmap_devices flag unless overridden with WithDevices.
func NewSuite() *Suite {
	return &Suite{
		templates:     make(map[string]*template),
		methods:       make(map[string]TestFn),
		deviceMethods: make(map[string]DeviceTestFn),
		devices:       append([]Device{}, *testDevices...),
	}
}

// WithDevices sets the devices that Run binds device-aware methods to. It returns the
// suite for chaining.
func (s *Suite) WithDevices(devices ...Device) *Suite {
	s.devices = append([]Device{}, devices...)
	return s
}

// Define registers a test template under the given name and pushes the given parameter
// axes onto its parameter stack, in the order given -- the first axis's case label comes
// first in generated method names.
//
// Configuration errors panic at registration time: a duplicate template name, a
// duplicate argument name among the axes, a device-aware axis (the template function
// takes no device), or no axes at all.
func (s *Suite) Define(name string, fn TemplateFn, axes ...Axis) {
	if fn == nil {
		exceptions.Panicf("vmaptest.Suite.Define(%q): nil template function", name)
	}
	s.define(&template{name: name, fn: fn, stack: axes})
}

// DefineWithDevice is like Define for device-aware templates: every generated method
// forwards a leading device argument untouched to the template.
func (s *Suite) DefineWithDevice(name string, fn DeviceTemplateFn, axes ...Axis) {
	if fn == nil {
		exceptions.Panicf("vmaptest.Suite.DefineWithDevice(%q): nil template function", name)
	}
	s.define(&template{name: name, deviceFn: fn, stack: axes})
}

func (s *Suite) define(tpl *template) {
	name := tpl.name
	if name == "" {
		exceptions.Panicf("vmaptest.Suite: template name must not be empty")
	}
	if _, found := s.templates[name]; found {
		exceptions.Panicf("vmaptest.Suite: template %q defined twice", name)
	}
	if _, found := s.methods[name]; found {
		exceptions.Panicf("vmaptest.Suite: template %q collides with an instantiated method", name)
	}
	if len(tpl.stack) == 0 {
		exceptions.Panicf("vmaptest.Suite: template %q has no parameter axes", name)
	}
	seenArgs := make(map[string]bool)
	for _, axis := range tpl.stack {
		if seenArgs[axis.argName] {
			exceptions.Panicf("vmaptest.Suite: template %q has two axes for argument %q", name, axis.argName)
		}
		seenArgs[axis.argName] = true
		if axis.withDevice && tpl.deviceFn == nil {
			exceptions.Panicf("vmaptest.Suite: template %q has a device-aware axis %q but takes no device; use DefineWithDevice",
				name, axis.argName)
		}
	}
	s.templates[name] = tpl
	s.templateOrder = append(s.templateOrder, name)
}

// Instantiate expands every registered template: for each combination of the cross
// product of the template's case mappings it generates a method named
// `<template>_<label1>_..._<labelK>` (labels joined in axis order) that binds the
// combination's values into Params and calls the template. The consumed templates are
// removed from the suite, so Instantiate is a no-op the second time.
//
// Method names are unique given unique label combinations; identical label tuples
// overwrite (last write wins).
func (s *Suite) Instantiate() {
	for _, name := range s.templateOrder {
		tpl, found := s.templates[name]
		if !found {
			continue // Already instantiated.
		}
		s.expand(tpl)
		delete(s.templates, name)
	}
	s.templateOrder = nil
}

// expand generates all methods of one template's cross product.
func (s *Suite) expand(tpl *template) {
	indices := make([]int, len(tpl.stack))
	for {
		name := tpl.name
		params := make(Params, len(tpl.stack))
		for ii, axis := range tpl.stack {
			chosen := axis.cases[indices[ii]]
			name += "_" + chosen.Label
			params[axis.argName] = chosen.Value
		}
		s.setMethod(tpl, name, params)

		axis := len(indices) - 1
		for ; axis >= 0; axis-- {
			indices[axis]++
			if indices[axis] < len(tpl.stack[axis].cases) {
				break
			}
			indices[axis] = 0
		}
		if axis < 0 {
			return
		}
	}
}

func (s *Suite) setMethod(tpl *template, name string, params Params) {
	if tpl.deviceFn != nil {
		if _, found := s.deviceMethods[name]; !found {
			s.deviceMethodOrder = append(s.deviceMethodOrder, name)
		}
		deviceFn := tpl.deviceFn
		s.deviceMethods[name] = func(t *testing.T, device Device) {
			deviceFn(t, device, params)
		}
		return
	}
	if _, found := s.methods[name]; !found {
		s.methodOrder = append(s.methodOrder, name)
	}
	fn := tpl.fn
	s.methods[name] = func(t *testing.T) {
		fn(t, params)
	}
}

// Methods returns the generated method names, in generation order (device-aware methods
// last).
func (s *Suite) Methods() []string {
	names := append([]string{}, s.methodOrder...)
	return append(names, s.deviceMethodOrder...)
}

// Method returns the generated method with the given name, or nil. Device-aware methods
// are returned bound to the suite's first device.
func (s *Suite) Method(name string) TestFn {
	if fn, found := s.methods[name]; found {
		return fn
	}
	if deviceFn, found := s.deviceMethods[name]; found {
		device := CPU
		if len(s.devices) > 0 {
			device = s.devices[0]
		}
		return func(t *testing.T) { deviceFn(t, device) }
	}
	return nil
}

// Run instantiates any pending templates and runs every generated method as a subtest.
// Device-aware methods run once per configured device, with the device appended to the
// subtest name.
func (s *Suite) Run(t *testing.T) {
	s.Instantiate()
	for _, name := range s.methodOrder {
		t.Run(name, s.methods[name])
	}
	for _, name := range s.deviceMethodOrder {
		for _, device := range s.devices {
			deviceFn := s.deviceMethods[name]
			boundDevice := device
			t.Run(fmt.Sprintf("%s_%s", name, device), func(t *testing.T) {
				deviceFn(t, boundDevice)
			})
		}
	}
}
