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

// Package trace implements the tracer and its product: Program, the
// replayable artifact recorded by executing a function body once.
//
// During a trace the user's Go function runs normally, and every primitive
// operation it invokes (Add, Mul, variable reads and assigns, ...) is
// recorded as a node into the Program instead of computing anything. Go-side
// side effects of the body (printing, mutating captured containers) happen
// exactly once, at trace time, and are never replayed: replaying the Program
// only re-executes the recorded operations. This is the core observable
// contract of tracing, not an accident.
//
// Control flow over values resolved at trace time (Go primitives, constants)
// is decided at trace time: only the taken branch is recorded, a fixed loop
// is unrolled. Control flow over deferred values (anything derived from a
// parameter or a variable) embeds all alternatives: Cond records both
// branches as sub-programs, While records the body exactly once and decides
// the trip count when the artifact runs. See ResolutionKind.
//
// There is no ambient "currently tracing" state: the Program is the explicit
// tracing context, reached through the nodes passed to the function.
package trace

import (
	"github.com/gomlx/exceptions"
	"github.com/tracefn/tracefn/types/shapes"
	"github.com/tracefn/tracefn/types/tensors"
)

// NodeID is the position of a node in its Program's op list.
type NodeID int

// InvalidNodeID indicates a node that failed to be created.
const InvalidNodeID = NodeID(-1)

// Program is the artifact of one trace: a sequential list of recorded
// operations, replayable any number of times. It is mutable while being
// traced and immutable after Finalize; the owning cache entry is its only
// owner afterwards.
type Program struct {
	name string

	parent *Program // nil for the root program
	root   *Program

	nodes   []*Node
	outputs []*Node

	numParams int

	// captured lists parent nodes lifted into this sub-program; the node at
	// captureNodes[ii] is the local stand-in for captured[ii].
	captured     []*Node // nodes owned by parent programs
	captureNodes []*Node // local opCapture nodes, same order
	captureByID  map[*Node]*Node

	// active is only used on the root: the program currently being traced
	// into, the innermost sub-program under construction.
	active *Program

	finalized bool
}

// New returns an empty root Program to trace into.
func New(name string) *Program {
	p := &Program{name: name}
	p.root = p
	p.active = p
	return p
}

// Name of the program, used in logs and diagnostics.
func (p *Program) Name() string { return p.name }

// NumParameters returns the number of parameters declared so far.
func (p *Program) NumParameters() int { return p.numParams }

// NumNodes returns the number of nodes recorded directly in this program.
func (p *Program) NumNodes() int { return len(p.nodes) }

// NumOps returns the total number of operations embedded in the artifact,
// including the bodies of sub-programs (both branches of a deferred Cond,
// the body of a While). Parameters and captures count as operations.
func (p *Program) NumOps() int {
	count := len(p.nodes)
	for _, node := range p.nodes {
		for _, sub := range node.subPrograms {
			count += sub.NumOps()
		}
	}
	return count
}

// IsFinalized reports whether the program was frozen by Finalize.
func (p *Program) IsFinalized() bool { return p.root.finalized }

// Outputs returns the output nodes set by Finalize.
func (p *Program) Outputs() []*Node { return p.outputs }

// Finalize freezes the root program with the given outputs. After this no
// node can be added, and the program may be replayed concurrently.
func (p *Program) Finalize(outputs ...*Node) {
	if p != p.root {
		exceptions.Panicf("Finalize called on a sub-program of %q", p.root.name)
	}
	if p.finalized {
		exceptions.Panicf("program %q already finalized", p.name)
	}
	if p.active != p {
		exceptions.Panicf("program %q cannot be finalized while a sub-program is still being traced", p.name)
	}
	if len(outputs) == 0 {
		exceptions.Panicf("program %q finalized with no outputs", p.name)
	}
	for _, out := range outputs {
		if out.Program().root != p {
			exceptions.Panicf("output node belongs to program %q, not %q", out.Program().root.name, p.name)
		}
	}
	p.outputs = outputs
	p.finalized = true
}

// checkBuilding panics unless the program can still record nodes.
func (p *Program) checkBuilding() {
	if p.root.finalized {
		exceptions.Panicf("program %q is finalized and immutable, cannot record more operations", p.root.name)
	}
}

// target resolves the program nodes should currently be recorded into: the
// innermost sub-program being traced under this program's root.
func (p *Program) target() *Program {
	return p.root.active
}

// newNode records a node in the active program, lifting inputs recorded in
// outer programs into captures.
func (p *Program) newNode(op OpType, shape shapes.Shape, inputs ...*Node) *Node {
	p.checkBuilding()
	target := p.target()
	lifted := make([]*Node, len(inputs))
	for ii, input := range inputs {
		lifted[ii] = target.capture(input)
	}
	node := &Node{
		program: target,
		id:      NodeID(len(target.nodes)),
		op:      op,
		shape:   shape,
		inputs:  lifted,
	}
	target.nodes = append(target.nodes, node)
	return node
}

// capture returns the local stand-in for a node owned by an outer program,
// creating an opCapture node on first use. Nodes already local are returned
// unchanged. Referencing a node from an unrelated program panics.
func (p *Program) capture(node *Node) *Node {
	owner := node.Program()
	if owner == p {
		return node
	}
	if owner.root != p.root {
		exceptions.Panicf("node from program %q used while tracing %q: programs do not mix",
			owner.root.name, p.root.name)
	}
	// Make sure the node is visible in the parent first, then lift one level.
	if p.parent == nil {
		exceptions.Panicf("node of sub-program %q used in its enclosing program %q: "+
			"sub-program values only escape through the control-flow node's result",
			owner.name, p.name)
	}
	inParent := p.parent.capture(node)
	if local, found := p.captureByID[inParent]; found {
		return local
	}
	local := &Node{
		program:      p,
		id:           NodeID(len(p.nodes)),
		op:           OpCapture,
		shape:        inParent.Shape(),
		captureIndex: len(p.captured),
	}
	p.nodes = append(p.nodes, local)
	p.captured = append(p.captured, inParent)
	p.captureNodes = append(p.captureNodes, local)
	if p.captureByID == nil {
		p.captureByID = make(map[*Node]*Node)
	}
	p.captureByID[inParent] = local
	return local
}

// subProgram starts tracing a nested program (a Cond branch or While body
// or condition). Callers must pair it with endSubProgram.
func (p *Program) subProgram(name string) *Program {
	p.checkBuilding()
	parent := p.target()
	sub := &Program{
		name:   parent.name + "/" + name,
		parent: parent,
		root:   p.root,
	}
	p.root.active = sub
	return sub
}

// endSubProgram finishes tracing sub, setting its single output and
// restoring its parent as the active program.
func (p *Program) endSubProgram(sub *Program, output *Node) {
	if p.root.active != sub {
		exceptions.Panicf("sub-program %q closed out of order", sub.name)
	}
	if output.Program() != sub {
		// An output untouched by the branch body, e.g. `return x` of an
		// outer x. Capture it so the sub-program yields it.
		output = sub.capture(output)
	}
	sub.outputs = []*Node{output}
	p.root.active = sub.parent
}

// Parameter declares an input of the program. Parameters are fed in order
// when the artifact is executed.
func (p *Program) Parameter(name string, shape shapes.Shape) *Node {
	p.checkBuilding()
	target := p.target()
	node := &Node{
		program:    target,
		id:         NodeID(len(target.nodes)),
		op:         OpParameter,
		shape:      shape,
		paramIndex: target.numParams,
		paramName:  name,
	}
	target.nodes = append(target.nodes, node)
	target.numParams++
	return node
}

// Const records a constant, a value fully resolved at trace time.
func (p *Program) Const(value any) *Node {
	t, err := tensors.FromAnyValue(value)
	if err != nil {
		exceptions.Panicf("Const(%T): %v", value, err)
	}
	node := p.newNode(OpConst, t.Shape())
	node.constValue = t
	return node
}
