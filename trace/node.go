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
	"fmt"
	"strings"

	"github.com/tracefn/tracefn/types/dtypes"
	"github.com/tracefn/tracefn/types/shapes"
	"github.com/tracefn/tracefn/types/tensors"
	"github.com/tracefn/tracefn/types/xslices"
	"github.com/tracefn/tracefn/vars"
)

// OpType identifies the primitive operation a node records.
type OpType int

const (
	OpInvalid OpType = iota
	OpParameter
	OpCapture
	OpConst
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpNeg
	OpSqrt
	OpLessThan
	OpGreaterThan
	OpReduceSum
	OpVarRead
	OpVarAssign
	OpVarAssignAdd
	OpCond
	OpWhile
)

var opNames = map[OpType]string{
	OpInvalid:      "Invalid",
	OpParameter:    "Parameter",
	OpCapture:      "Capture",
	OpConst:        "Const",
	OpAdd:          "Add",
	OpSub:          "Sub",
	OpMul:          "Mul",
	OpDiv:          "Div",
	OpNeg:          "Neg",
	OpSqrt:         "Sqrt",
	OpLessThan:     "LessThan",
	OpGreaterThan:  "GreaterThan",
	OpReduceSum:    "ReduceSum",
	OpVarRead:      "VarRead",
	OpVarAssign:    "VarAssign",
	OpVarAssignAdd: "VarAssignAdd",
	OpCond:         "Cond",
	OpWhile:        "While",
}

// String implements fmt.Stringer.
func (op OpType) String() string {
	if name, found := opNames[op]; found {
		return name
	}
	return fmt.Sprintf("OpType(%d)", int(op))
}

// ResolutionKind tags how a control-flow decision value resolves: at trace
// time or at artifact-execution time. It drives the branch-embedding
// decision: static predicates embed exactly one branch, deferred predicates
// embed all of them.
type ResolutionKind int

const (
	// StaticPrimitive: the value is known while tracing (a Go primitive or
	// a recorded constant), so the decision is taken at trace time.
	StaticPrimitive ResolutionKind = iota
	// DeferredRuntime: the value depends on parameters or variables and is
	// only known when the artifact runs.
	DeferredRuntime
)

// String implements fmt.Stringer.
func (k ResolutionKind) String() string {
	if k == StaticPrimitive {
		return "static-primitive"
	}
	return "deferred-runtime"
}

// Node is one recorded operation in a Program. Nodes are created by the op
// functions (Add, Mul, ...) while tracing and are immutable once the program
// is finalized.
type Node struct {
	program *Program
	id      NodeID
	op      OpType
	shape   shapes.Shape
	inputs  []*Node

	// Static payloads, set depending on op.
	constValue   *tensors.Tensor // OpConst
	paramIndex   int             // OpParameter
	paramName    string          // OpParameter
	captureIndex int             // OpCapture
	variable     *vars.Variable  // OpVarRead, OpVarAssign, OpVarAssignAdd

	// subPrograms holds embedded programs: {onTrue, onFalse} for a deferred
	// OpCond, {condition, body} for OpWhile.
	subPrograms []*Program

	// resolution of the controlling value, for OpCond/OpWhile nodes.
	resolution ResolutionKind
}

// Program that recorded this node.
func (n *Node) Program() *Program { return n.program }

// ID of the node within its program's op list.
func (n *Node) ID() NodeID {
	if n == nil {
		return InvalidNodeID
	}
	return n.id
}

// Type of the recorded operation.
func (n *Node) Type() OpType {
	if n == nil {
		return OpInvalid
	}
	return n.op
}

// Shape of the node's value.
func (n *Node) Shape() shapes.Shape {
	if n == nil {
		return shapes.Shape{}
	}
	return n.shape
}

// DType of the node's value.
func (n *Node) DType() dtypes.DType { return n.Shape().DType }

// Inputs returns the node's input edges. Treat as read-only.
func (n *Node) Inputs() []*Node { return n.inputs }

// IsStatic reports whether the node's value is fully resolved at trace time.
// Only constants qualify: anything touching a parameter, capture or variable
// is deferred.
func (n *Node) IsStatic() bool { return n.op == OpConst }

// StaticValue returns the trace-time value of a static node.
func (n *Node) StaticValue() (*tensors.Tensor, bool) {
	if n.op == OpConst {
		return n.constValue, true
	}
	return nil, false
}

// Resolution returns the tagged resolution kind of a control-flow node. For
// other nodes it reports how the node itself resolves.
func (n *Node) Resolution() ResolutionKind {
	switch n.op {
	case OpCond, OpWhile:
		return n.resolution
	case OpConst:
		return StaticPrimitive
	}
	return DeferredRuntime
}

// Variable returns the cell a variable op touches, nil for other ops.
func (n *Node) Variable() *vars.Variable { return n.variable }

// String prints a one-line description of the node.
func (n *Node) String() string {
	if n == nil {
		return "Node(nil)"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "#%d %s", n.id, n.op)
	switch n.op {
	case OpParameter:
		fmt.Fprintf(&sb, "(%q)", n.paramName)
	case OpConst:
		fmt.Fprintf(&sb, "(%s)", n.constValue)
	case OpVarRead, OpVarAssign, OpVarAssignAdd:
		fmt.Fprintf(&sb, "(%s)", n.variable.Name())
	case OpCond, OpWhile:
		fmt.Fprintf(&sb, "[%s]", n.resolution)
	}
	if len(n.inputs) > 0 {
		ids := xslices.Map(n.inputs, func(input *Node) string {
			return fmt.Sprintf("#%d", input.id)
		})
		fmt.Fprintf(&sb, " <- %s", strings.Join(ids, ", "))
	}
	fmt.Fprintf(&sb, " : %s", n.shape)
	return sb.String()
}
