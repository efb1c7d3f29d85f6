/*
 *	Copyright 2026 The tracefn Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package vars implements the persistent variable cells captured by traced
// programs: state that survives across calls of a compiled function, mutated
// only through the operations embedded in its artifacts.
//
// Creation vs. reuse follows a strict rule so that a cell is created at most
// once over the function's lifetime:
//
//   - Named variables (VariableWithValue, VariableWithInitializer) are
//     created on the first trace that mentions the name and reused, by name,
//     on every later trace. A name is provably created at most once.
//   - Anonymous cells (New, NewWithInitializer) have no name to reuse by, so
//     their creation must be guarded by the caller (typically a nil check on
//     a captured pointer). The dispatcher validates this by re-tracing with
//     the context sealed: any creation attempt during a sealed trace aborts
//     with AmbiguousVariableCreationError.
//
// Initializers may read other variables' values; initialization follows the
// resulting dependency order, and a dependency cycle aborts with
// CyclicInitializerError.
package vars

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/tracefn/tracefn/types/shapes"
	"github.com/tracefn/tracefn/types/tensors"
)

// AmbiguousVariableCreationError reports a variable creation that cannot be
// proven to execute at most once over the function's lifetime. Tracing is
// aborted and nothing is cached.
type AmbiguousVariableCreationError struct {
	Name string // empty for anonymous cells
}

func (e *AmbiguousVariableCreationError) Error() string {
	if e.Name == "" {
		return "cannot prove the anonymous variable creation runs at most once: " +
			"it executed again on a re-trace -- guard the creation so it only runs " +
			"when the captured cell is still nil, or use a named variable"
	}
	return fmt.Sprintf("cannot prove creation of variable %q runs at most once: "+
		"it first appeared on a re-trace, so its creation depends on the call signature", e.Name)
}

// CyclicInitializerError reports a dependency cycle among variable
// initializers. Tracing is aborted and nothing is cached.
type CyclicInitializerError struct {
	Name string
}

func (e *CyclicInitializerError) Error() string {
	return fmt.Sprintf("cyclic initializer dependency detected while initializing variable %q", e.Name)
}

// Initializer produces a variable's initial value. It may read other
// variables through the InitScope, which both returns their initialized
// value and records the ordering dependency.
type Initializer func(scope *InitScope) *tensors.Tensor

type initState int

const (
	initPending initState = iota
	initRunning
	initDone
)

// Variable is one persistent cell. Its value is read and written at artifact
// execution time through the embedded variable operations; user code should
// treat it as opaque between calls, except for inspection.
type Variable struct {
	ctx   *Context
	id    uint64
	name  string // empty for anonymous cells
	shape shapes.Shape

	mu    sync.Mutex
	value *tensors.Tensor // nil until initialized

	initializer Initializer
	state       initState
}

// Name returns the variable's name, or "var#<id>" for anonymous cells.
func (v *Variable) Name() string {
	if v.name == "" {
		return fmt.Sprintf("var#%d", v.id)
	}
	return v.name
}

// Shape of the cell's value.
func (v *Variable) Shape() shapes.Shape { return v.shape }

// IsAnonymous reports whether the cell was created without a name (New or
// NewWithInitializer), i.e. it cannot be reused by name on a later trace.
func (v *Variable) IsAnonymous() bool { return v.name == "" }

// Value returns the current value, nil if not yet initialized.
func (v *Variable) Value() *tensors.Tensor {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value
}

// SetValue replaces the cell's value. It is called by the variable-assign
// operations during artifact execution; calling it from untraced code steps
// outside the compiled function's contract.
func (v *Variable) SetValue(value *tensors.Tensor) error {
	if !value.Shape().Eq(v.shape) {
		return errors.Errorf("variable %q holds shape %s, cannot assign value shaped %s",
			v.Name(), v.shape, value.Shape())
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = value
	return nil
}

// Update applies fn to the current value and stores the result, all under
// the cell's lock, so read-modify-write operations (accumulation) stay
// atomic across concurrent artifact executions. It returns the new value.
func (v *Variable) Update(fn func(old *tensors.Tensor) (*tensors.Tensor, error)) (*tensors.Tensor, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	value, err := fn(v.value)
	if err != nil {
		return nil, err
	}
	if !value.Shape().Eq(v.shape) {
		return nil, errors.Errorf("variable %q holds shape %s, update produced %s",
			v.Name(), v.shape, value.Shape())
	}
	v.value = value
	return value, nil
}

// Context owns the variables of one registered function. All traces of that
// function share it, which is what makes the cells persistent.
type Context struct {
	mu        sync.Mutex
	byName    map[string]*Variable
	variables []*Variable // creation order
	sealed    bool
}

// NewContext returns an empty variable context.
func NewContext() *Context {
	return &Context{byName: make(map[string]*Variable)}
}

// Seal forbids further variable creation. Reuse of existing named variables
// stays allowed. Used by the dispatcher's validation re-trace.
func (ctx *Context) Seal() {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.sealed = true
}

// Unseal allows variable creation again.
func (ctx *Context) Unseal() {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.sealed = false
}

// IsSealed reports whether creation is currently forbidden.
func (ctx *Context) IsSealed() bool {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.sealed
}

// NumVariables returns how many cells were created so far.
func (ctx *Context) NumVariables() int {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return len(ctx.variables)
}

// EnumerateVariables calls fn for each variable in creation order.
func (ctx *Context) EnumerateVariables(fn func(v *Variable)) {
	ctx.mu.Lock()
	snapshot := make([]*Variable, len(ctx.variables))
	copy(snapshot, ctx.variables)
	ctx.mu.Unlock()
	for _, v := range snapshot {
		fn(v)
	}
}

// InspectVariable returns the named variable, or nil. It bypasses the
// creation rules, for diagnostics only.
func (ctx *Context) InspectVariable(name string) *Variable {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.byName[name]
}

// VariableWithValue creates the named variable initialized to the given
// value (anything tensors.FromAnyValue accepts), or reuses it if a variable
// with that name already exists. Reuse checks that the shape is unchanged.
//
// It panics with an error (AmbiguousVariableCreationError if creation is not
// allowed); the dispatcher converts the panic at its boundary.
func (ctx *Context) VariableWithValue(name string, value any) *Variable {
	t, err := tensors.FromAnyValue(value)
	if err != nil {
		panic(errors.WithMessagef(err, "variable %q initial value", name))
	}
	return ctx.variable(name, t.Shape(), func(*InitScope) *tensors.Tensor { return t })
}

// VariableWithInitializer creates the named variable with a deferred
// initializer, or reuses it by name. The initializer runs once, before the
// first artifact execution that needs the variable.
func (ctx *Context) VariableWithInitializer(name string, shape shapes.Shape, init Initializer) *Variable {
	if name == "" {
		panic(errors.Errorf("variable name cannot be empty, use New for anonymous cells"))
	}
	return ctx.variable(name, shape, init)
}

// New creates an anonymous cell initialized to the given value. The creation
// must be guarded so it runs at most once per registered function (e.g. only
// when the captured *Variable is still nil); unconditional creation fails
// the dispatcher's validation re-trace with AmbiguousVariableCreationError.
func New(ctx *Context, value any) *Variable {
	t, err := tensors.FromAnyValue(value)
	if err != nil {
		panic(errors.WithMessage(err, "anonymous variable initial value"))
	}
	return ctx.variable("", t.Shape(), func(*InitScope) *tensors.Tensor { return t })
}

// NewWithInitializer is New with a deferred initializer.
func NewWithInitializer(ctx *Context, shape shapes.Shape, init Initializer) *Variable {
	return ctx.variable("", shape, init)
}

func (ctx *Context) variable(name string, shape shapes.Shape, init Initializer) *Variable {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if name != "" {
		if v, found := ctx.byName[name]; found {
			if !shape.Eq(v.shape) {
				panic(errors.Errorf(
					"requested to reuse variable %q with a different shape: previous shape=%s, requested shape=%s",
					name, v.shape, shape))
			}
			return v
		}
	}
	if ctx.sealed {
		panic(errors.WithStack(&AmbiguousVariableCreationError{Name: name}))
	}
	v := &Variable{
		ctx:         ctx,
		id:          uint64(len(ctx.variables) + 1),
		name:        name,
		shape:       shape.Clone(),
		initializer: init,
	}
	if name != "" {
		ctx.byName[name] = v
	}
	ctx.variables = append(ctx.variables, v)
	return v
}

// Rollback discards every variable created after the first count ones. The
// dispatcher uses it to undo the creations of a failed trace, so a failed
// trace leaves no partial state behind.
func (ctx *Context) Rollback(count int) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if count >= len(ctx.variables) {
		return
	}
	for _, v := range ctx.variables[count:] {
		if v.name != "" {
			delete(ctx.byName, v.name)
		}
	}
	ctx.variables = ctx.variables[:count]
}

// InitScope is handed to initializers so they can read other variables'
// initialized values while recording the ordering dependency.
type InitScope struct {
	ctx     *Context
	running []*Variable // DFS stack, for cycle reporting
}

// ValueOf initializes (if needed) and returns the value of another variable.
// A cycle panics with CyclicInitializerError.
func (s *InitScope) ValueOf(v *Variable) *tensors.Tensor {
	s.ctx.initVariable(s, v)
	return v.Value()
}

// InitializeVariables runs the initializers of every variable that has no
// value yet, following initializer dependencies (a referenced variable is
// fully initialized before its referrer). Dependency cycles panic with
// CyclicInitializerError; on failure no partially initialized value is kept.
func (ctx *Context) InitializeVariables() {
	scope := &InitScope{ctx: ctx}
	ctx.EnumerateVariables(func(v *Variable) {
		ctx.initVariable(scope, v)
	})
}

// initVariable runs v's initializer depth-first. The DFS doubles as the
// topological ordering: dependencies initialize on the way down.
func (ctx *Context) initVariable(scope *InitScope, v *Variable) {
	v.mu.Lock()
	switch v.state {
	case initDone:
		v.mu.Unlock()
		return
	case initRunning:
		v.mu.Unlock()
		panic(errors.WithStack(&CyclicInitializerError{Name: v.Name()}))
	}
	if v.value != nil {
		v.state = initDone
		v.mu.Unlock()
		return
	}
	v.state = initRunning
	v.mu.Unlock()

	scope.running = append(scope.running, v)
	value := v.initializer(scope)
	scope.running = scope.running[:len(scope.running)-1]

	if value == nil {
		panic(errors.Errorf("initializer of variable %q returned nil", v.Name()))
	}
	if !value.Shape().Eq(v.shape) {
		panic(errors.Errorf("initializer of variable %q returned shape %s, variable was declared with shape %s",
			v.Name(), value.Shape(), v.shape))
	}
	v.mu.Lock()
	v.value = value
	v.state = initDone
	v.mu.Unlock()
}
