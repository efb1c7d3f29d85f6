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
)

// Cond records a conditional over pred.
//
// The embedding follows pred's resolution kind:
//
//   - StaticPrimitive (pred is, or folds to, a trace-time constant): the
//     decision is taken now. Exactly one branch function runs and its
//     operations are recorded inline; the other branch is never executed and
//     leaves no trace in the artifact.
//   - DeferredRuntime: both branch functions run now, each recorded into its
//     own embedded sub-program, and the artifact picks one when it executes.
//
// Both branches must produce values of the same shape when deferred.
// Go-side side effects inside a branch function follow the same trace-time
// contract as the rest of the body: they happen when (and only when) the
// branch function itself runs.
func Cond(pred *Node, onTrue, onFalse func() *Node) *Node {
	if pred.DType() != dtypes.Bool || !pred.Shape().IsScalar() {
		exceptions.Panicf("Cond: predicate must be a Bool scalar, got %s", pred.Shape())
	}
	if value, ok := pred.StaticValue(); ok {
		// Trace-time decision: embed just the taken branch.
		if value.Bool() {
			return onTrue()
		}
		return onFalse()
	}

	prog := pred.Program()
	trueSub := prog.subProgram("cond.true")
	prog.endSubProgram(trueSub, onTrue())
	falseSub := prog.subProgram("cond.false")
	prog.endSubProgram(falseSub, onFalse())

	trueShape := trueSub.outputs[0].Shape()
	falseShape := falseSub.outputs[0].Shape()
	if !trueShape.Eq(falseShape) {
		exceptions.Panicf("Cond: branches must produce the same shape, got %s and %s",
			trueShape, falseShape)
	}
	node := prog.newNode(OpCond, trueShape, pred)
	node.subPrograms = []*Program{trueSub, falseSub}
	node.resolution = DeferredRuntime
	return node
}

// While records a loop with a runtime trip count: the body is embedded
// exactly once as a sub-program, along with the loop condition, and the
// artifact iterates until the condition turns false.
//
// init is the initial loop state; cond and body each receive the state
// parameter of their sub-program. cond must produce a Bool scalar, body a
// value shaped like init. The node's result is the final state.
//
// For a trip count known at trace time use Repeat (or a plain Go loop),
// which unrolls instead.
func While(init *Node, cond, body func(state *Node) *Node) *Node {
	prog := init.Program()
	stateShape := init.Shape()

	condSub := prog.subProgram("while.cond")
	condState := prog.Parameter("state", stateShape)
	condOut := cond(condState)
	prog.endSubProgram(condSub, condOut)
	if condOut.DType() != dtypes.Bool || !condOut.Shape().IsScalar() {
		exceptions.Panicf("While: condition must produce a Bool scalar, got %s", condOut.Shape())
	}

	bodySub := prog.subProgram("while.body")
	bodyState := prog.Parameter("state", stateShape)
	bodyOut := body(bodyState)
	prog.endSubProgram(bodySub, bodyOut)
	if !bodySub.outputs[0].Shape().Eq(stateShape) {
		exceptions.Panicf("While: body must produce the state shape %s, got %s",
			stateShape, bodySub.outputs[0].Shape())
	}

	node := prog.newNode(OpWhile, stateShape, init)
	node.subPrograms = []*Program{condSub, bodySub}
	node.resolution = DeferredRuntime
	return node
}

// Repeat unrolls a loop with a trace-time trip count: the body function runs
// n times now, recording its operations inline each iteration. Nothing of
// the loop structure survives into the artifact, only the unrolled ops.
func Repeat(n int, init *Node, body func(iter int, state *Node) *Node) *Node {
	if n < 0 {
		exceptions.Panicf("Repeat: negative trip count %d", n)
	}
	state := init
	for iter := 0; iter < n; iter++ {
		state = body(iter, state)
	}
	return state
}
