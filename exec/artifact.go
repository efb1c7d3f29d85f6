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

package exec

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"

	"github.com/tracefn/tracefn/trace"
	"github.com/tracefn/tracefn/types/shapes"
	"github.com/tracefn/tracefn/types/signature"
	"github.com/tracefn/tracefn/types/tensors"
)

// Artifact is one compiled artifact retrieved explicitly for a constraint,
// bypassing signature dispatch. It shares the handle's trace cache: asking
// for an artifact the dispatcher already traced returns the cached one, and
// an artifact traced here serves matching Call dispatches too.
type Artifact struct {
	exec        *Exec
	sig         signature.CallSignature
	constraints []shapes.Shape // per tensor argument
	program     *trace.Program
}

// ConcreteArtifact traces (or fetches from cache) the artifact for an
// explicit constraint description, one spec per argument of the function:
//
//   - a tensor argument takes a shapes.Shape, possibly with AnyDimension
//     wildcards, which pins the full shape into the signature; or a concrete
//     value, whose exact shape is pinned;
//   - a primitive argument takes its literal value;
//   - an opaque argument takes the instance itself.
//
// The returned Artifact only accepts calls compatible with the constraint it
// was built for; others fail with IncompatibleSignatureError.
func (e *Exec) ConcreteArtifact(specs ...any) (*Artifact, error) {
	if len(specs) != e.numArgs {
		return nil, errors.Errorf("%q takes %d arguments, got %d constraint specs",
			e.name, e.numArgs, len(specs))
	}
	info := &callInfo{rawByParam: make([]any, len(e.params))}
	var constraints []shapes.Shape
	argIdx := 0
	for paramIdx, spec := range e.params {
		switch spec.role {
		case roleContext, roleProgram:
			continue
		case roleTensor:
			var cs shapes.Shape
			switch v := specs[argIdx].(type) {
			case shapes.Shape:
				cs = v
			default:
				t, err := tensors.FromAnyValue(v)
				if err != nil {
					return nil, errors.WithMessagef(err, "constraint spec %d of %q", argIdx, e.name)
				}
				cs = t.Shape()
			}
			info.keys = append(info.keys, signature.PinnedTensorKey(cs))
			info.tensorShapes = append(info.tensorShapes, cs)
			constraints = append(constraints, cs)
		case rolePrimitive:
			arg := specs[argIdx]
			argT := reflect.TypeOf(arg)
			if argT == nil || !argT.AssignableTo(spec.goType) {
				return nil, errors.Errorf("constraint spec %d of %q must be a literal assignable to %s, got %T",
					argIdx, e.name, spec.goType, arg)
			}
			info.keys = append(info.keys, signature.PrimitiveKey(arg))
			info.rawByParam[paramIdx] = arg
		case roleObject:
			arg := specs[argIdx]
			argT := reflect.TypeOf(arg)
			if argT == nil || !argT.AssignableTo(spec.goType) {
				return nil, errors.Errorf("constraint spec %d of %q must be an instance assignable to %s, got %T",
					argIdx, e.name, spec.goType, arg)
			}
			info.keys = append(info.keys, signature.ObjectKey(e.registry.TokenFor(arg)))
			info.rawByParam[paramIdx] = arg
		}
		argIdx++
	}
	sig := signature.Make(info.keys...)
	program, err := e.programFor(sig, info)
	if err != nil {
		return nil, err
	}
	return &Artifact{exec: e, sig: sig, constraints: constraints, program: program}, nil
}

// Signature the artifact was built for.
func (a *Artifact) Signature() signature.CallSignature { return a.sig }

// Program returns the artifact's recorded program, for introspection.
func (a *Artifact) Program() *trace.Program { return a.program }

// NumOps returns the artifact's embedded operation count, sub-programs
// included. Diagnostics only; the exact count is not a stable contract.
func (a *Artifact) NumOps() int { return a.program.NumOps() }

// Execute runs the artifact directly. Arguments must be compatible with the
// constraint the artifact was built for: tensors covered by the constrained
// shapes, primitives equal to the pinned literals, objects identical to the
// pinned instances. Incompatible arguments fail with
// IncompatibleSignatureError before anything executes.
func (a *Artifact) Execute(args ...any) ([]*tensors.Tensor, error) {
	e := a.exec
	if len(args) != e.numArgs {
		return nil, errors.Errorf("artifact of %q takes %d arguments, got %d",
			e.name, e.numArgs, len(args))
	}
	keys := a.sig.Keys()
	var tensorArgs []*tensors.Tensor
	argIdx := 0
	tensorIdx := 0
	for _, spec := range e.params {
		switch spec.role {
		case roleContext, roleProgram:
			continue
		case roleTensor:
			t, err := tensors.FromAnyValue(args[argIdx])
			if err != nil {
				return nil, errors.WithMessagef(err, "argument %d", argIdx)
			}
			cs := a.constraints[tensorIdx]
			if !cs.Covers(t.Shape()) {
				return nil, errors.WithStack(&IncompatibleSignatureError{
					ExecName: e.name,
					Arg:      argIdx,
					Detail:   fmt.Sprintf("built for %s, called with %s", cs, t.Shape()),
				})
			}
			tensorArgs = append(tensorArgs, t)
			tensorIdx++
		case rolePrimitive:
			if keys[argIdx].Value != args[argIdx] {
				return nil, errors.WithStack(&IncompatibleSignatureError{
					ExecName: e.name,
					Arg:      argIdx,
					Detail: fmt.Sprintf("built for literal %v, called with %v",
						keys[argIdx].Value, args[argIdx]),
				})
			}
		case roleObject:
			if keys[argIdx].Token != e.registry.TokenFor(args[argIdx]) {
				return nil, errors.WithStack(&IncompatibleSignatureError{
					ExecName: e.name,
					Arg:      argIdx,
					Detail:   "built for a different object instance",
				})
			}
		}
		argIdx++
	}
	return a.program.Execute(tensorArgs...)
}
