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

package exec_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/tracefn/tracefn/exec"
	"github.com/tracefn/tracefn/trace"
	"github.com/tracefn/tracefn/types/dtypes"
	"github.com/tracefn/tracefn/types/shapes"
	"github.com/tracefn/tracefn/types/tensors"
	"github.com/tracefn/tracefn/vars"
)

func lengthGraph(x *trace.Node) *trace.Node {
	return trace.Sqrt(trace.ReduceSum(trace.Mul(x, x)))
}

func TestCallCachesPerSignature(t *testing.T) {
	traces := 0
	length := MustNewExec(func(x *trace.Node) *trace.Node {
		traces++
		return lengthGraph(x)
	}).SetName("length")

	outputs, err := length.Call([]float64{3, 4})
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, 5.0, outputs[0].Scalar())
	require.Equal(t, 1, traces)

	// Same rank and dtype, different dimensions: still a cache hit, the
	// trace-time side effect does not repeat.
	outputs, err = length.Call([]float64{1, 2, 2})
	require.NoError(t, err)
	assert.Equal(t, 3.0, outputs[0].Scalar())
	assert.Equal(t, 1, traces)

	// Different rank: re-trace.
	outputs, err = length.Call([][]float64{{3}, {4}})
	require.NoError(t, err)
	assert.Equal(t, 5.0, outputs[0].Scalar())
	assert.Equal(t, 2, traces)

	// Different dtype: re-trace.
	_, err = length.Call([]float32{3, 4})
	require.NoError(t, err)
	assert.Equal(t, 3, traces)
	assert.Equal(t, 3, length.NumCachedTraces())
}

func TestPrimitiveValuesRetrace(t *testing.T) {
	traces := 0
	scale := MustNewExec(func(x *trace.Node, factor float64) *trace.Node {
		traces++
		return trace.Mul(x, x.Program().Const(factor))
	})

	for _, factor := range []float64{2, 3, 2, 2} {
		outputs, err := scale.Call([]float64{1, 2}, factor)
		require.NoError(t, err)
		assert.Equal(t, []float64{factor, 2 * factor}, outputs[0].Flat())
	}
	// Distinct literal values 2 and 3: one artifact each, revisits hit.
	assert.Equal(t, 2, traces)
}

type opaqueConfig struct{ bias float64 }

func TestObjectIdentityRetraces(t *testing.T) {
	traces := 0
	biased := MustNewExec(func(x *trace.Node, cfg *opaqueConfig) *trace.Node {
		traces++
		return trace.Add(x, x.Program().Const(cfg.bias))
	})

	cfgA := &opaqueConfig{bias: 1}
	cfgB := &opaqueConfig{bias: 1} // equal by value, distinct instance

	_, err := biased.Call([]float64{1}, cfgA)
	require.NoError(t, err)
	_, err = biased.Call([]float64{1}, cfgA)
	require.NoError(t, err)
	assert.Equal(t, 1, traces)

	_, err = biased.Call([]float64{1}, cfgB)
	require.NoError(t, err)
	assert.Equal(t, 2, traces, "a distinct instance must retrace even if equal by value")
}

func TestTraceTimeSideEffectsDoNotReplay(t *testing.T) {
	var log []string
	noisy := MustNewExec(func(x *trace.Node) *trace.Node {
		log = append(log, "traced")
		return trace.Neg(x)
	})
	for ii := 0; ii < 5; ii++ {
		_, err := noisy.Call([]float64{float64(ii)})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"traced"}, log)
}

func TestSetConstraint(t *testing.T) {
	traces := 0
	sum := MustNewExec(func(x *trace.Node) *trace.Node {
		traces++
		return trace.ReduceSum(x)
	}).SetConstraint(shapes.MakeConstraint(dtypes.Float64, shapes.AnyDimension, 2))

	outputs, err := sum.Call([][]float64{{1, 2}, {3, 4}})
	require.NoError(t, err)
	assert.Equal(t, 10.0, outputs[0].Scalar())

	// Different leading dimension, still covered: same pinned signature.
	_, err = sum.Call([][]float64{{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, 1, traces)

	// Violations are rejected before tracing.
	_, err = sum.Call([][]float64{{1, 2, 3}})
	var constraintErr *SignatureConstraintError
	require.ErrorAs(t, err, &constraintErr)
	_, err = sum.Call([]float64{1, 2})
	require.ErrorAs(t, err, &constraintErr)
	assert.Equal(t, 1, traces)
	assert.Equal(t, 1, sum.NumCachedTraces())
}

func TestConcreteArtifact(t *testing.T) {
	length := MustNewExec(lengthGraph)
	artifact, err := length.ConcreteArtifact(shapes.MakeConstraint(dtypes.Float64, shapes.AnyDimension))
	require.NoError(t, err)

	outputs, err := artifact.Execute([]float64{3, 4})
	require.NoError(t, err)
	assert.Equal(t, 5.0, outputs[0].Scalar())

	// Rank mismatch violates the constraint the artifact was built for.
	_, err = artifact.Execute([][]float64{{3, 4}})
	var incompatible *IncompatibleSignatureError
	require.ErrorAs(t, err, &incompatible)

	// The explicit artifact shares the handle's cache: a dispatched call
	// under the same constraint does not retrace.
	require.Equal(t, 1, length.NumCachedTraces())
}

func TestUnconditionalVariableCreationFails(t *testing.T) {
	leaky := MustNewExec(func(ctx *vars.Context, p *trace.Program, x float64) *trace.Node {
		cell := vars.New(ctx, 1.0)
		return trace.AssignAddVar(cell, p.Const(x))
	})
	_, err := leaky.Call(1.0)
	var ambiguous *vars.AmbiguousVariableCreationError
	require.ErrorAs(t, err, &ambiguous)
	// A failed trace leaves no cache entry.
	assert.Equal(t, 0, leaky.NumCachedTraces())
}

func TestGuardedVariableCreationAccumulates(t *testing.T) {
	var cell *vars.Variable
	acc := MustNewExec(func(ctx *vars.Context, p *trace.Program, x float64) *trace.Node {
		if cell == nil {
			cell = vars.New(ctx, 1.0)
		}
		return trace.AssignAddVar(cell, p.Const(x))
	})

	outputs, err := acc.Call(1.0)
	require.NoError(t, err)
	assert.Equal(t, 2.0, outputs[0].Scalar())

	outputs, err = acc.Call(2.0)
	require.NoError(t, err)
	assert.Equal(t, 4.0, outputs[0].Scalar())
}

func TestNamedVariableReuseAcrossTraces(t *testing.T) {
	counter := MustNewExec(func(ctx *vars.Context, p *trace.Program, step float64) *trace.Node {
		total := ctx.VariableWithValue("total", float64(0))
		return trace.AssignAddVar(total, p.Const(step))
	})
	want := 0.0
	for _, step := range []float64{1, 2, 3, 1} {
		outputs, err := counter.Call(step)
		require.NoError(t, err)
		want += step
		assert.Equal(t, want, outputs[0].Scalar())
	}
	// Three artifacts (literals 1, 2, 3), one shared cell.
	assert.Equal(t, 3, counter.NumCachedTraces())
	assert.Equal(t, 1, counter.Vars().NumVariables())
}

func TestDeferredCondEmbedsBothBranches(t *testing.T) {
	deferred := MustNewExec(func(x *trace.Node) *trace.Node {
		pred := trace.GreaterThan(trace.ReduceSum(x), x.Program().Const(0.0))
		return trace.Cond(pred,
			func() *trace.Node { return trace.Sqrt(x) },
			func() *trace.Node { return trace.Neg(x) })
	})
	static := MustNewExec(func(x *trace.Node) *trace.Node {
		pred := x.Program().Const(true)
		return trace.Cond(pred,
			func() *trace.Node { return trace.Sqrt(x) },
			func() *trace.Node { return trace.Neg(x) })
	})

	deferredArtifact, err := deferred.ConcreteArtifact(shapes.Make(dtypes.Float64, 2))
	require.NoError(t, err)
	staticArtifact, err := static.ConcreteArtifact(shapes.Make(dtypes.Float64, 2))
	require.NoError(t, err)

	// Both the Sqrt and the Neg body are embedded when the predicate only
	// resolves at run time; the trace-time predicate keeps just one.
	assert.Greater(t, deferredArtifact.NumOps(), staticArtifact.NumOps())

	outputs, err := deferredArtifact.Execute([]float64{9, 16})
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4}, outputs[0].Flat())
	outputs, err = deferredArtifact.Execute([]float64{-1, -2})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, outputs[0].Flat())

	outputs, err = staticArtifact.Execute([]float64{9, 16})
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4}, outputs[0].Flat())
}

func TestHandlesDoNotShareCaches(t *testing.T) {
	traces := 0
	fn := func(x *trace.Node) *trace.Node {
		traces++
		return trace.Neg(x)
	}
	handleA := MustNewExec(fn)
	handleB := MustNewExec(fn)

	_, err := handleA.Call([]float64{1})
	require.NoError(t, err)
	_, err = handleB.Call([]float64{1})
	require.NoError(t, err)

	// Same function, same signature, two handles: two traces.
	assert.Equal(t, 2, traces)
	assert.Equal(t, 1, handleA.NumCachedTraces())
	assert.Equal(t, 1, handleB.NumCachedTraces())
}

func TestConcurrentCallsTraceOnce(t *testing.T) {
	var mu sync.Mutex
	traces := 0
	slow := MustNewExec(func(x *trace.Node) *trace.Node {
		mu.Lock()
		traces++
		mu.Unlock()
		return lengthGraph(x)
	})

	const numCallers = 16
	var wg sync.WaitGroup
	errs := make([]error, numCallers)
	for ii := 0; ii < numCallers; ii++ {
		wg.Add(1)
		go func(ii int) {
			defer wg.Done()
			_, errs[ii] = slow.Call([]float64{3, 4})
		}(ii)
	}
	wg.Wait()
	for ii, err := range errs {
		require.NoErrorf(t, err, "caller %d", ii)
	}
	assert.Equal(t, 1, traces, "exactly one trace per novel signature, however many concurrent callers")
	assert.Equal(t, 1, slow.NumCachedTraces())
}

func TestMaxCache(t *testing.T) {
	varying := MustNewExec(func(p *trace.Program, n int64) *trace.Node {
		return p.Const(n)
	}).SetMaxCache(2)

	for n := int64(0); n < 2; n++ {
		_, err := varying.Call(n)
		require.NoError(t, err)
	}
	_, err := varying.Call(int64(2))
	require.ErrorContains(t, err, "maximum")
	// Cached signatures still serve.
	outputs, err := varying.Call(int64(1))
	require.NoError(t, err)
	assert.Equal(t, 1.0, outputs[0].Scalar())
}

func TestNewExecAnyValidation(t *testing.T) {
	// Not a function.
	_, err := NewExecAny(42)
	require.Error(t, err)
	// No way to record operations: no nodes and no program.
	_, err = NewExecAny(func(n int) *trace.Node { return nil })
	require.Error(t, err)
	// Program parameter is redundant with tensor inputs.
	_, err = NewExecAny(func(p *trace.Program, x *trace.Node) *trace.Node { return x })
	require.Error(t, err)
	// Wrong output type.
	_, err = NewExecAny(func(x *trace.Node) int { return 0 })
	require.Error(t, err)
	// Context accepted only in front.
	_, err = NewExecAny(func(x *trace.Node, ctx *vars.Context) *trace.Node { return x })
	require.Error(t, err)
}

func TestMultipleOutputs(t *testing.T) {
	sumDiff := MustNewExec(func(x, y *trace.Node) (*trace.Node, *trace.Node) {
		return trace.Add(x, y), trace.Sub(x, y)
	})
	outputs, err := sumDiff.Call([]float64{3, 10}, []float64{1, 4})
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	assert.Equal(t, []float64{4, 14}, outputs[0].Flat())
	assert.Equal(t, []float64{2, 6}, outputs[1].Flat())
}

func TestExecutionErrorsPropagate(t *testing.T) {
	add := MustNewExec(func(x, y *trace.Node) *trace.Node {
		return trace.Add(x, y)
	})
	// First call fixes rank 1 for both arguments; mismatched dimensions
	// within the same signature only fail when the operation runs.
	_, err := add.Call([]float64{1, 2}, []float64{3, 4})
	require.NoError(t, err)
	_, err = add.Call([]float64{1, 2, 3}, []float64{4, 5})
	require.Error(t, err)
	assert.Equal(t, 1, add.NumCachedTraces(), "execution failures do not disturb the cache")
}

func TestCyclicInitializersFailTheTrace(t *testing.T) {
	looped := MustNewExec(func(ctx *vars.Context, p *trace.Program) *trace.Node {
		var a, b *vars.Variable
		scalar := shapes.Make(dtypes.Float64)
		a = ctx.VariableWithInitializer("a", scalar, func(scope *vars.InitScope) *tensors.Tensor {
			return scope.ValueOf(b)
		})
		b = ctx.VariableWithInitializer("b", scalar, func(scope *vars.InitScope) *tensors.Tensor {
			return scope.ValueOf(a)
		})
		return trace.ReadVar(p, a)
	})

	_, err := looped.Call()
	var cyclic *vars.CyclicInitializerError
	require.ErrorAs(t, err, &cyclic)
	// The failed trace leaves nothing behind: no cache entry, no variables.
	assert.Equal(t, 0, looped.NumCachedTraces())
	assert.Equal(t, 0, looped.Vars().NumVariables())
}

func TestSignaturesEnumeration(t *testing.T) {
	length := MustNewExec(lengthGraph)
	_, err := length.Call([]float64{3, 4})
	require.NoError(t, err)
	_, err = length.Call([]float32{3, 4})
	require.NoError(t, err)
	sigs := length.Signatures()
	require.Len(t, sigs, 2)
	for _, sig := range sigs {
		assert.Equal(t, 1, sig.NumArgs())
		assert.Contains(t, []string{"((Float64)rank=1)", "((Float32)rank=1)"}, fmt.Sprintf("%s", sig))
	}
}
