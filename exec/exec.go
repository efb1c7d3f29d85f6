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

// Package exec implements the dispatcher of the polymorphic compiled-function
// cache: it registers a Go function, derives a call signature from each
// call's arguments, and serves the call from a cached compiled artifact,
// tracing the function at most once per distinct signature.
//
// A minimal use looks like:
//
//	var length = exec.MustNewExec(func(x *trace.Node) *trace.Node {
//		return trace.Sqrt(trace.ReduceSum(trace.Mul(x, x)))
//	})
//	out, err := length.Call([]float32{3, 4})     // traces for (Float32)rank=1
//	out, err = length.Call([]float32{1, 2, 2})   // cache hit, no re-trace
//
// The function's parameters determine how each argument is keyed:
//
//   - *trace.Node parameters receive tensor arguments, keyed by rank and
//     dtype (full shape only under an explicit constraint, see
//     SetConstraint).
//   - Primitive parameters (bool, ints, floats, string) are keyed by their
//     literal value: a new value means a new trace, and the value is baked
//     into the artifact as a constant of the trace.
//   - Any other parameter type is keyed by the argument's identity token:
//     a different instance means a new trace, even if equal by value.
//
// An optional leading *vars.Context parameter gives the function persistent
// variable cells, and a *trace.Program parameter (when the function takes no
// *trace.Node) gives it the tracing context to record constants into.
//
// Go code in the function body runs once per trace. Its side effects
// (printing, appending to a captured slice) happen at trace time only and
// are never replayed by cache hits; only the recorded operations replay.
package exec

import (
	"fmt"
	"reflect"
	"runtime"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/tracefn/tracefn/trace"
	"github.com/tracefn/tracefn/types/dtypes"
	"github.com/tracefn/tracefn/types/shapes"
	"github.com/tracefn/tracefn/types/signature"
	"github.com/tracefn/tracefn/types/tensors"
	"github.com/tracefn/tracefn/types/xsync"
	"github.com/tracefn/tracefn/vars"
)

// ExecFn is the type parameter of accepted function types for the NewExec
// constructor. Functions mixing tensor parameters with primitives or opaque
// objects are registered with NewExecAny instead.
type ExecFn interface {
	func(*trace.Program) *trace.Node |
		func(*trace.Node) *trace.Node |
		func(*trace.Node, *trace.Node) *trace.Node |
		func(*trace.Node, *trace.Node, *trace.Node) *trace.Node |
		func(*vars.Context, *trace.Program) *trace.Node |
		func(*vars.Context, *trace.Node) *trace.Node |
		func(*vars.Context, *trace.Node, *trace.Node) *trace.Node |

		// With 2 outputs.
		func(*trace.Node) (*trace.Node, *trace.Node) |
		func(*trace.Node, *trace.Node) (*trace.Node, *trace.Node) |

		// With a slice of nodes as output.
		func(*trace.Node) []*trace.Node |
		func(*trace.Node, *trace.Node) []*trace.Node
}

type paramRole int

const (
	roleContext paramRole = iota
	roleProgram
	roleTensor
	rolePrimitive
	roleObject
)

type paramSpec struct {
	role   paramRole
	goType reflect.Type
}

// Exec is a dispatcher handle over one registered function. Each handle owns
// its trace cache, its variable context and its identity-token registry:
// handles never share compiled artifacts, even over the same Go function.
type Exec struct {
	fn   any
	fnV  reflect.Value
	name string
	id   uuid.UUID

	params        []paramSpec
	numArgs       int // arguments the caller supplies (tensor+primitive+object)
	numTensors    int
	numOutputs    int
	outputAsSlice bool

	varsCtx  *vars.Context
	registry *signature.Registry

	// constraint, when set, has one shape per tensor argument; wildcard
	// dimensions (shapes.AnyDimension) leave the size free.
	constraint []shapes.Shape

	cache    *traceCache
	traceMu  sync.Mutex
	traceSeq xsync.Counter
}

var (
	nodeType    = reflect.TypeOf((*trace.Node)(nil))
	programType = reflect.TypeOf((*trace.Program)(nil))
	contextType = reflect.TypeOf((*vars.Context)(nil))
	nodeSlice   = reflect.TypeOf([]*trace.Node(nil))
)

// NewExecAny registers fn and returns its dispatcher handle. fn's parameters
// may be *trace.Node (tensor inputs), primitives, opaque objects, an
// optional leading *vars.Context, and a *trace.Program when there are no
// *trace.Node parameters. fn must return one or more *trace.Node, or a
// single []*trace.Node.
func NewExecAny(fn any) (*Exec, error) {
	fnT := reflect.TypeOf(fn)
	if fnT == nil || fnT.Kind() != reflect.Func {
		return nil, errors.Errorf("fn must be a function, got %T", fn)
	}
	funcName := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()
	e := &Exec{
		fn:         fn,
		fnV:        reflect.ValueOf(fn),
		name:       fmt.Sprintf("Exec:%s", funcName),
		id:         uuid.New(),
		numOutputs: fnT.NumOut(),
		varsCtx:    vars.NewContext(),
		registry:   signature.NewRegistry(),
		cache:      newTraceCache(),
	}

	for ii := 0; ii < fnT.NumIn(); ii++ {
		inT := fnT.In(ii)
		switch {
		case inT == contextType:
			if ii != 0 {
				return nil, errors.Errorf("*vars.Context is only accepted as the first parameter, got it at %d", ii)
			}
			e.params = append(e.params, paramSpec{role: roleContext, goType: inT})
		case inT == programType:
			e.params = append(e.params, paramSpec{role: roleProgram, goType: inT})
		case inT == nodeType:
			e.params = append(e.params, paramSpec{role: roleTensor, goType: inT})
			e.numArgs++
			e.numTensors++
		case dtypes.FromGoType(inT) != dtypes.InvalidDType:
			e.params = append(e.params, paramSpec{role: rolePrimitive, goType: inT})
			e.numArgs++
		default:
			e.params = append(e.params, paramSpec{role: roleObject, goType: inT})
			e.numArgs++
		}
	}
	numPrograms := 0
	for _, spec := range e.params {
		if spec.role == roleProgram {
			numPrograms++
		}
	}
	if numPrograms > 1 {
		return nil, errors.Errorf("at most one *trace.Program parameter is accepted, got %d", numPrograms)
	}
	if numPrograms == 1 && e.numTensors > 0 {
		return nil, errors.Errorf("*trace.Program parameter is only accepted when there are no *trace.Node parameters: " +
			"with tensor inputs, reach the program through any input node")
	}
	if numPrograms == 0 && e.numTensors == 0 {
		return nil, errors.Errorf("fn takes no *trace.Node input, so it needs a *trace.Program parameter to record operations into")
	}

	if fnT.NumOut() < 1 {
		return nil, errors.Errorf("fn must return at least one *trace.Node")
	}
	if fnT.NumOut() == 1 && fnT.Out(0) == nodeSlice {
		e.outputAsSlice = true
	} else {
		for ii := 0; ii < fnT.NumOut(); ii++ {
			if fnT.Out(ii) != nodeType {
				return nil, errors.Errorf("output %d is not a *trace.Node (%s)", ii, fnT.Out(ii))
			}
		}
	}
	return e, nil
}

// NewExec registers a tensor-only function, using generics to type check it.
// It panics on invalid functions, which cannot happen for the types ExecFn
// admits.
func NewExec[F ExecFn](fn F) *Exec {
	e, err := NewExecAny(fn)
	if err != nil {
		exceptions.Panicf("NewExec: invalid function %T: %+v", fn, err)
	}
	return e
}

// MustNewExec registers any acceptable function, panicking on error. Meant
// for package-level registration where an error return is unwieldy.
func MustNewExec(fn any) *Exec {
	e, err := NewExecAny(fn)
	if err != nil {
		exceptions.Panicf("MustNewExec: %+v", err)
	}
	return e
}

// Name of the handle, used as prefix for the names of traced programs.
func (e *Exec) Name() string { return e.name }

// SetName changes the handle's name. Call it before the first Call. It
// returns the handle, so calls can be chained.
func (e *Exec) SetName(name string) *Exec {
	e.name = name
	return e
}

// SetMaxCache limits how many artifacts the handle may cache; once reached,
// calls with novel signatures fail instead of tracing. Zero or negative
// means unlimited, the default: the cache never evicts, so highly variable
// signatures (e.g. a fresh object argument per call) grow it without bound.
// It returns the handle, so calls can be chained.
func (e *Exec) SetMaxCache(maxSize int) *Exec {
	e.cache.mu.Lock()
	defer e.cache.mu.Unlock()
	e.cache.maxSize = maxSize
	return e
}

// SetConstraint fixes the expected shape of every tensor argument, one
// Shape per *trace.Node parameter, with shapes.AnyDimension leaving a
// dimension free. Calls that do not satisfy it fail with
// SignatureConstraintError without tracing; calls that do are all served by
// a single artifact per constraint, since the constraint pins the signature.
// Call it before the first Call. It returns the handle for chaining.
func (e *Exec) SetConstraint(constraint ...shapes.Shape) *Exec {
	if len(constraint) != e.numTensors {
		exceptions.Panicf("SetConstraint: %q takes %d tensor arguments, got %d constraint shapes",
			e.name, e.numTensors, len(constraint))
	}
	if e.cache.numEntries() > 0 {
		exceptions.Panicf("SetConstraint: %q already traced, constraints must be set before the first call", e.name)
	}
	e.constraint = constraint
	return e
}

// Vars returns the handle's variable context, for inspection.
func (e *Exec) Vars() *vars.Context { return e.varsCtx }

// callInfo carries one call's processed arguments through dispatch.
type callInfo struct {
	keys         []signature.ArgKey
	tensorShapes []shapes.Shape    // per tensor argument, the shape to trace with
	tensorValues []*tensors.Tensor // nil when dispatching a constraint-only trace
	rawByParam   []any             // raw values aligned with e.params, non-nil for primitive/object
}

// processArgs validates the call arguments and derives their signature keys.
func (e *Exec) processArgs(args []any) (*callInfo, error) {
	if len(args) != e.numArgs {
		return nil, errors.Errorf("%q takes %d arguments, got %d", e.name, e.numArgs, len(args))
	}
	info := &callInfo{rawByParam: make([]any, len(e.params))}
	argIdx := 0
	tensorIdx := 0
	for paramIdx, spec := range e.params {
		switch spec.role {
		case roleContext, roleProgram:
			continue
		case roleTensor:
			arg := args[argIdx]
			t, err := tensors.FromAnyValue(arg)
			if err != nil {
				return nil, errors.WithMessagef(err, "argument %d of %q", argIdx, e.name)
			}
			if e.constraint != nil {
				cs := e.constraint[tensorIdx]
				if !cs.Covers(t.Shape()) {
					return nil, errors.WithStack(&SignatureConstraintError{
						ExecName: e.name,
						Arg:      argIdx,
						Detail:   fmt.Sprintf("constraint %s does not cover shape %s", cs, t.Shape()),
					})
				}
				info.keys = append(info.keys, signature.PinnedTensorKey(cs))
				info.tensorShapes = append(info.tensorShapes, cs)
			} else {
				info.keys = append(info.keys, signature.TensorKey(t.Shape()))
				info.tensorShapes = append(info.tensorShapes, t.Shape())
			}
			info.tensorValues = append(info.tensorValues, t)
			tensorIdx++
		case rolePrimitive:
			arg := args[argIdx]
			argT := reflect.TypeOf(arg)
			if argT == nil || !argT.AssignableTo(spec.goType) {
				return nil, errors.Errorf("argument %d of %q must be assignable to %s, got %T",
					argIdx, e.name, spec.goType, arg)
			}
			info.keys = append(info.keys, signature.PrimitiveKey(arg))
			info.rawByParam[paramIdx] = arg
		case roleObject:
			arg := args[argIdx]
			argT := reflect.TypeOf(arg)
			if argT == nil || !argT.AssignableTo(spec.goType) {
				return nil, errors.Errorf("argument %d of %q must be assignable to %s, got %T",
					argIdx, e.name, spec.goType, arg)
			}
			info.keys = append(info.keys, signature.ObjectKey(e.registry.TokenFor(arg)))
			info.rawByParam[paramIdx] = arg
		}
		argIdx++
	}
	return info, nil
}

// Call dispatches one call: it derives the signature, serves a cache hit by
// executing the cached artifact or traces fn once for a novel signature
// before executing. It returns the outputs as a slice even when fn has a
// single output. Errors of the embedded operations propagate unchanged.
func (e *Exec) Call(args ...any) ([]*tensors.Tensor, error) {
	info, err := e.processArgs(args)
	if err != nil {
		return nil, err
	}
	program, err := e.programFor(signature.Make(info.keys...), info)
	if err != nil {
		return nil, err
	}
	return program.Execute(info.tensorValues...)
}

// programFor resolves the artifact for sig: a cached one, the one an
// in-flight trace of the same signature is about to produce, or a fresh
// trace by this caller.
func (e *Exec) programFor(sig signature.CallSignature, info *callInfo) (*trace.Program, error) {
	entry := e.cache.lookup(sig)
	if entry == nil {
		entry = newCacheEntry(sig)
		winner, err := e.cache.insert(entry)
		var dup *DuplicateKeyError
		switch {
		case err == nil:
			// This caller owns the trace.
			e.traceAndPublish(entry, info)
		case errors.As(err, &dup):
			// Lost the insert race: the winner's artifact is authoritative.
			entry = winner
		default:
			return nil, err
		}
	}
	result := entry.latch.Wait()
	return result.program, result.err
}

// traceAndPublish traces fn for the published entry and triggers its latch
// with the outcome. A failed trace removes the entry: no partial entries
// survive, and a later call with the same signature may trace again.
func (e *Exec) traceAndPublish(entry *cacheEntry, info *callInfo) {
	e.traceMu.Lock()
	defer e.traceMu.Unlock()

	varsBefore := e.varsCtx.NumVariables()
	program, err := e.buildProgram(info, false)
	if err == nil && e.createdAnonymousSince(varsBefore) {
		// The trace created unguarded cells: prove the creations run at
		// most once by re-tracing with creation sealed. The body runs
		// again, so its trace-time Go side effects repeat for this one
		// validation pass.
		_, err = e.buildProgram(info, true)
	}
	if err == nil {
		err = exceptions.TryCatch[error](e.varsCtx.InitializeVariables)
	}
	if err != nil {
		e.varsCtx.Rollback(varsBefore)
		e.cache.remove(entry.sig)
		entry.latch.Trigger(traceResult{err: err})
		return
	}
	klog.V(1).Infof("%s[%s]: traced %q for signature %s (%d ops cached, %d artifacts)",
		e.name, e.id, program.Name(), entry.sig, program.NumOps(), e.cache.numEntries())
	entry.latch.Trigger(traceResult{program: program})
}

// createdAnonymousSince reports whether any variable created after the first
// `before` ones is an anonymous cell.
func (e *Exec) createdAnonymousSince(before int) bool {
	created := false
	index := 0
	e.varsCtx.EnumerateVariables(func(v *vars.Variable) {
		if index >= before && v.IsAnonymous() {
			created = true
		}
		index++
	})
	return created
}

// buildProgram runs fn once, recording its operations into a fresh Program.
// With sealed set, variable creation is forbidden for the duration: the
// validation pass of the at-most-once creation rule.
func (e *Exec) buildProgram(info *callInfo, sealed bool) (program *trace.Program, err error) {
	program = trace.New(fmt.Sprintf("%s#%d", e.name, e.traceSeq.Next()-1))
	if sealed {
		e.varsCtx.Seal()
		defer e.varsCtx.Unseal()
	}
	err = exceptions.TryCatch[error](func() {
		argsV := make([]reflect.Value, 0, len(e.params))
		argIdx := 0
		tensorIdx := 0
		for paramIdx, spec := range e.params {
			switch spec.role {
			case roleContext:
				argsV = append(argsV, reflect.ValueOf(e.varsCtx))
				continue
			case roleProgram:
				argsV = append(argsV, reflect.ValueOf(program))
				continue
			case roleTensor:
				node := program.Parameter(fmt.Sprintf("arg#%d", argIdx), info.tensorShapes[tensorIdx])
				argsV = append(argsV, reflect.ValueOf(node))
				tensorIdx++
			case rolePrimitive, roleObject:
				argsV = append(argsV, reflect.ValueOf(info.rawByParam[paramIdx]))
			}
			argIdx++
		}
		outputsV := e.fnV.Call(argsV)
		var outputs []*trace.Node
		if e.outputAsSlice {
			outputs = outputsV[0].Interface().([]*trace.Node)
		} else {
			outputs = make([]*trace.Node, 0, len(outputsV))
			for _, outV := range outputsV {
				outputs = append(outputs, outV.Interface().(*trace.Node))
			}
		}
		if len(outputs) == 0 {
			exceptions.Panicf("%q returned no output nodes", e.name)
		}
		program.Finalize(outputs...)
	})
	if err != nil {
		return nil, err
	}
	return program, nil
}
