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

package trace

import (
	"math"

	"github.com/pkg/errors"
	"github.com/tracefn/tracefn/types/shapes"
	"github.com/tracefn/tracefn/types/tensors"
)

// Execute replays the finalized program over the given parameter values and
// returns its outputs. The program itself is immutable, so executions may
// run concurrently; variable cells serialize their own reads and writes.
//
// Parameters are checked for dtype and rank only: unless the dispatch
// signature pinned the full shape, the same artifact serves every call with
// the same rank and dtype, and dimension mismatches surface as execution
// errors from the operations that hit them. Errors signaled by embedded
// operations propagate to the caller unchanged.
func (p *Program) Execute(params ...*tensors.Tensor) ([]*tensors.Tensor, error) {
	if p != p.root {
		return nil, errors.Errorf("Execute called on sub-program %q", p.name)
	}
	if !p.finalized {
		return nil, errors.Errorf("program %q is still being traced, cannot execute", p.name)
	}
	if len(params) != p.numParams {
		return nil, errors.Errorf("program %q takes %d parameters, got %d",
			p.name, p.numParams, len(params))
	}
	values, err := p.eval(params, nil)
	if err != nil {
		return nil, err
	}
	outputs := make([]*tensors.Tensor, len(p.outputs))
	for ii, out := range p.outputs {
		outputs[ii] = values[out.id]
	}
	return outputs, nil
}

// eval replays the program's op list sequentially, returning the value of
// every node. captured holds the values of the parent nodes this
// sub-program lifted.
func (p *Program) eval(params, captured []*tensors.Tensor) ([]*tensors.Tensor, error) {
	values := make([]*tensors.Tensor, len(p.nodes))
	for _, node := range p.nodes {
		value, err := p.evalNode(node, params, captured, values)
		if err != nil {
			return nil, errors.WithMessagef(err, "executing %s of program %q", node, p.name)
		}
		values[node.id] = value
	}
	return values, nil
}

func (p *Program) evalNode(node *Node, params, captured, values []*tensors.Tensor) (*tensors.Tensor, error) {
	in := func(ii int) *tensors.Tensor { return values[node.inputs[ii].id] }
	switch node.op {
	case OpParameter:
		param := params[node.paramIndex]
		if param.DType() != node.shape.DType || param.Rank() != node.shape.Rank() {
			return nil, errors.Errorf("parameter %q expects rank %d of %s, got %s",
				node.paramName, node.shape.Rank(), node.shape.DType, param.Shape())
		}
		return param, nil
	case OpCapture:
		return captured[node.captureIndex], nil
	case OpConst:
		return node.constValue, nil
	case OpAdd:
		return elementwise(node, in(0), in(1), func(a, b float64) float64 { return a + b })
	case OpSub:
		return elementwise(node, in(0), in(1), func(a, b float64) float64 { return a - b })
	case OpMul:
		return elementwise(node, in(0), in(1), func(a, b float64) float64 { return a * b })
	case OpDiv:
		return elementwise(node, in(0), in(1), func(a, b float64) float64 { return a / b })
	case OpLessThan:
		return elementwise(node, in(0), in(1), func(a, b float64) float64 { return boolToFloat(a < b) })
	case OpGreaterThan:
		return elementwise(node, in(0), in(1), func(a, b float64) float64 { return boolToFloat(a > b) })
	case OpNeg:
		return unary(node, in(0), func(a float64) float64 { return -a })
	case OpSqrt:
		return unary(node, in(0), math.Sqrt)
	case OpReduceSum:
		sum := 0.0
		for _, v := range in(0).Flat() {
			sum += v
		}
		return tensors.FromScalar(in(0).DType(), sum), nil
	case OpVarRead:
		value := node.variable.Value()
		if value == nil {
			return nil, errors.Errorf("variable %q read before initialization", node.variable.Name())
		}
		return value, nil
	case OpVarAssign:
		value := in(0)
		if err := node.variable.SetValue(value); err != nil {
			return nil, err
		}
		return value, nil
	case OpVarAssignAdd:
		return node.variable.Update(func(old *tensors.Tensor) (*tensors.Tensor, error) {
			if old == nil {
				return nil, errors.Errorf("variable %q accumulated before initialization", node.variable.Name())
			}
			return addInto(old, in(0))
		})
	case OpCond:
		pred := values[node.inputs[0].id]
		sub := node.subPrograms[1]
		if pred.Bool() {
			sub = node.subPrograms[0]
		}
		subValues, err := sub.eval(nil, captureValues(sub, values))
		if err != nil {
			return nil, err
		}
		return subValues[sub.outputs[0].id], nil
	case OpWhile:
		condSub, bodySub := node.subPrograms[0], node.subPrograms[1]
		condCaptured := captureValues(condSub, values)
		bodyCaptured := captureValues(bodySub, values)
		state := values[node.inputs[0].id]
		for {
			condValues, err := condSub.eval([]*tensors.Tensor{state}, condCaptured)
			if err != nil {
				return nil, err
			}
			if !condValues[condSub.outputs[0].id].Bool() {
				return state, nil
			}
			bodyValues, err := bodySub.eval([]*tensors.Tensor{state}, bodyCaptured)
			if err != nil {
				return nil, err
			}
			state = bodyValues[bodySub.outputs[0].id]
		}
	}
	return nil, errors.Errorf("op %s not supported by the interpreter", node.op)
}

// captureValues collects the parent values a sub-program lifted.
func captureValues(sub *Program, parentValues []*tensors.Tensor) []*tensors.Tensor {
	captured := make([]*tensors.Tensor, len(sub.captured))
	for ii, node := range sub.captured {
		captured[ii] = parentValues[node.id]
	}
	return captured
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func unary(node *Node, x *tensors.Tensor, fn func(float64) float64) (*tensors.Tensor, error) {
	flat := make([]float64, x.Size())
	for ii, v := range x.Flat() {
		flat[ii] = fn(v)
	}
	return tensors.FromFlat(resultShape(node, x), flat)
}

// elementwise applies fn over two operands, broadcasting a scalar operand.
// Dimension mismatches are runtime errors: the trace checked the shapes it
// saw, but an unpinned artifact may be fed different dimensions later.
func elementwise(node *Node, lhs, rhs *tensors.Tensor, fn func(a, b float64) float64) (*tensors.Tensor, error) {
	switch {
	case lhs.Shape().IsScalar() && !rhs.Shape().IsScalar():
		a := lhs.Scalar()
		flat := make([]float64, rhs.Size())
		for ii, b := range rhs.Flat() {
			flat[ii] = fn(a, b)
		}
		return tensors.FromFlat(resultShape(node, rhs), flat)
	case rhs.Shape().IsScalar():
		b := rhs.Scalar()
		flat := make([]float64, lhs.Size())
		for ii, a := range lhs.Flat() {
			flat[ii] = fn(a, b)
		}
		return tensors.FromFlat(resultShape(node, lhs), flat)
	default:
		if !lhs.Shape().Eq(rhs.Shape()) {
			return nil, errors.Errorf("%s: operand shapes %s and %s do not match",
				node.op, lhs.Shape(), rhs.Shape())
		}
		flat := make([]float64, lhs.Size())
		rhsFlat := rhs.Flat()
		for ii, a := range lhs.Flat() {
			flat[ii] = fn(a, rhsFlat[ii])
		}
		return tensors.FromFlat(resultShape(node, lhs), flat)
	}
}

// resultShape keeps the value's concrete dimensions but takes the node's
// dtype, so comparisons produce Bool tensors.
func resultShape(node *Node, operand *tensors.Tensor) shapes.Shape {
	shape := operand.Shape().Clone()
	shape.DType = node.shape.DType
	return shape
}

// addInto returns old + delta, broadcasting a scalar delta.
func addInto(old, delta *tensors.Tensor) (*tensors.Tensor, error) {
	if delta.Shape().IsScalar() && !old.Shape().IsScalar() {
		d := delta.Scalar()
		flat := make([]float64, old.Size())
		for ii, v := range old.Flat() {
			flat[ii] = v + d
		}
		return tensors.FromFlat(old.Shape(), flat)
	}
	if !old.Shape().Eq(delta.Shape()) && !delta.Shape().IsScalar() {
		return nil, errors.Errorf("cannot accumulate %s into %s", delta.Shape(), old.Shape())
	}
	flat := make([]float64, old.Size())
	deltaFlat := delta.Flat()
	for ii, v := range old.Flat() {
		if delta.Shape().IsScalar() {
			flat[ii] = v + deltaFlat[0]
		} else {
			flat[ii] = v + deltaFlat[ii]
		}
	}
	return tensors.FromFlat(old.Shape(), flat)
}
