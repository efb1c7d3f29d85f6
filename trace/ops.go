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
	"github.com/gomlx/exceptions"
	"github.com/tracefn/tracefn/types/dtypes"
	"github.com/tracefn/tracefn/types/shapes"
	"github.com/tracefn/tracefn/vars"
)

// binaryShape validates the operand shapes of an elementwise binary op and
// returns the result shape. Operands must have the same dtype and either the
// same dimensions or one of them scalar (broadcast).
func binaryShape(op OpType, lhs, rhs *Node) shapes.Shape {
	lhsShape, rhsShape := lhs.Shape(), rhs.Shape()
	if lhsShape.DType != rhsShape.DType {
		exceptions.Panicf("%s: operands must have the same dtype, got %s and %s",
			op, lhsShape, rhsShape)
	}
	if lhsShape.IsScalar() {
		return rhsShape
	}
	if rhsShape.IsScalar() || lhsShape.Eq(rhsShape) {
		return lhsShape
	}
	exceptions.Panicf("%s: incompatible operand shapes %s and %s", op, lhsShape, rhsShape)
	return shapes.Invalid()
}

func binaryOp(op OpType, lhs, rhs *Node) *Node {
	shape := binaryShape(op, lhs, rhs)
	return lhs.Program().newNode(op, shape, lhs, rhs)
}

// Add returns lhs + rhs, elementwise. A scalar operand broadcasts.
func Add(lhs, rhs *Node) *Node { return binaryOp(OpAdd, lhs, rhs) }

// Sub returns lhs - rhs, elementwise. A scalar operand broadcasts.
func Sub(lhs, rhs *Node) *Node { return binaryOp(OpSub, lhs, rhs) }

// Mul returns lhs * rhs, elementwise. A scalar operand broadcasts.
func Mul(lhs, rhs *Node) *Node { return binaryOp(OpMul, lhs, rhs) }

// Div returns lhs / rhs, elementwise. A scalar operand broadcasts.
func Div(lhs, rhs *Node) *Node { return binaryOp(OpDiv, lhs, rhs) }

// Neg returns -x, elementwise.
func Neg(x *Node) *Node {
	return x.Program().newNode(OpNeg, x.Shape(), x)
}

// Sqrt returns the elementwise square root of x. x must be a float tensor.
func Sqrt(x *Node) *Node {
	if !x.DType().IsFloat() {
		exceptions.Panicf("Sqrt: requires a float operand, got %s", x.Shape())
	}
	return x.Program().newNode(OpSqrt, x.Shape(), x)
}

func compareOp(op OpType, lhs, rhs *Node) *Node {
	shape := binaryShape(op, lhs, rhs)
	shape.DType = dtypes.Bool
	return lhs.Program().newNode(op, shape, lhs, rhs)
}

// LessThan returns lhs < rhs elementwise, as a Bool tensor.
func LessThan(lhs, rhs *Node) *Node { return compareOp(OpLessThan, lhs, rhs) }

// GreaterThan returns lhs > rhs elementwise, as a Bool tensor.
func GreaterThan(lhs, rhs *Node) *Node { return compareOp(OpGreaterThan, lhs, rhs) }

// ReduceSum sums all elements of x into a scalar of the same dtype.
func ReduceSum(x *Node) *Node {
	shape := shapes.Shape{DType: x.DType()}
	return x.Program().newNode(OpReduceSum, shape, x)
}

// ReadVar records a read of the variable's current value.
func ReadVar(p *Program, v *vars.Variable) *Node {
	node := p.newNode(OpVarRead, v.Shape())
	node.variable = v
	return node
}

// AssignVar records an assignment of value to the variable. The node's
// result is the assigned value, so assignments stay reachable in the op
// list even when the caller discards it.
func AssignVar(v *vars.Variable, value *Node) *Node {
	if !value.Shape().Eq(v.Shape()) {
		exceptions.Panicf("AssignVar(%s): variable holds shape %s, cannot assign %s",
			v.Name(), v.Shape(), value.Shape())
	}
	node := value.Program().newNode(OpVarAssign, v.Shape(), value)
	node.variable = v
	return node
}

// AssignAddVar records an in-place accumulation: the variable's value plus
// the operand is stored back into the cell. The node's result is the
// accumulated value.
func AssignAddVar(v *vars.Variable, value *Node) *Node {
	if v.Shape().DType != value.DType() {
		exceptions.Panicf("AssignAddVar(%s): variable dtype %s, operand dtype %s",
			v.Name(), v.Shape().DType, value.DType())
	}
	if !value.Shape().IsScalar() && !value.Shape().Eq(v.Shape()) {
		exceptions.Panicf("AssignAddVar(%s): variable holds shape %s, cannot accumulate %s",
			v.Name(), v.Shape(), value.Shape())
	}
	node := value.Program().newNode(OpVarAssignAdd, v.Shape(), value)
	node.variable = v
	return node
}
