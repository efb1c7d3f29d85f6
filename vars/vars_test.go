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

package vars_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracefn/tracefn/types/dtypes"
	"github.com/tracefn/tracefn/types/shapes"
	"github.com/tracefn/tracefn/types/tensors"
	. "github.com/tracefn/tracefn/vars"
)

func TestNamedCreateAndReuse(t *testing.T) {
	ctx := NewContext()
	v0 := ctx.VariableWithValue("weights", []float64{1, 2, 3})
	require.Equal(t, 1, ctx.NumVariables())

	// Same name on a later trace reuses the same cell.
	v1 := ctx.VariableWithValue("weights", []float64{9, 9, 9})
	assert.Same(t, v0, v1)
	require.Equal(t, 1, ctx.NumVariables())

	// Reuse with a different shape is a bug in the traced function.
	require.Panics(t, func() { ctx.VariableWithValue("weights", []float64{1, 2}) })

	ctx.InitializeVariables()
	// The first creation's value wins: reuse does not reinitialize.
	assert.Equal(t, []float64{1, 2, 3}, v0.Value().Flat())
}

func TestSealedCreationFails(t *testing.T) {
	ctx := NewContext()
	ctx.VariableWithValue("x", 1.0)
	ctx.Seal()
	defer ctx.Unseal()

	// Reusing an existing name stays allowed while sealed.
	require.NotPanics(t, func() { ctx.VariableWithValue("x", 1.0) })

	// Creation of anything new is ambiguous.
	checkAmbiguous := func(fn func()) {
		defer func() {
			r := recover()
			require.NotNil(t, r)
			err, ok := r.(error)
			require.True(t, ok)
			var ambiguous *AmbiguousVariableCreationError
			require.ErrorAs(t, err, &ambiguous)
		}()
		fn()
	}
	checkAmbiguous(func() { ctx.VariableWithValue("y", 1.0) })
	checkAmbiguous(func() { New(ctx, 1.0) })
}

func TestInitializerOrdering(t *testing.T) {
	ctx := NewContext()
	scalar := shapes.Make(dtypes.Float64)
	var order []string

	// "derived" reads "base", so "base" must finish initializing first even
	// though "derived" was created first.
	var baseV *Variable
	derived := ctx.VariableWithInitializer("derived", scalar, func(scope *InitScope) *tensors.Tensor {
		order = append(order, "derived")
		doubled := scope.ValueOf(baseV).Scalar() * 2
		return tensors.FromScalar(dtypes.Float64, doubled)
	})
	baseV = ctx.VariableWithInitializer("base", scalar, func(*InitScope) *tensors.Tensor {
		order = append(order, "base")
		return tensors.FromScalar(dtypes.Float64, 3)
	})

	ctx.InitializeVariables()
	assert.Equal(t, []string{"derived", "base"}, order,
		"base runs nested inside derived's initializer, finishing first")
	assert.Equal(t, 3.0, baseV.Value().Scalar())
	assert.Equal(t, 6.0, derived.Value().Scalar())
}

func TestCyclicInitializers(t *testing.T) {
	ctx := NewContext()
	scalar := shapes.Make(dtypes.Float64)
	var a, b *Variable
	a = ctx.VariableWithInitializer("a", scalar, func(scope *InitScope) *tensors.Tensor {
		return scope.ValueOf(b)
	})
	b = ctx.VariableWithInitializer("b", scalar, func(scope *InitScope) *tensors.Tensor {
		return scope.ValueOf(a)
	})

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		var cyclic *CyclicInitializerError
		require.ErrorAs(t, err, &cyclic)
	}()
	ctx.InitializeVariables()
}

func TestRollback(t *testing.T) {
	ctx := NewContext()
	ctx.VariableWithValue("keep", 1.0)
	before := ctx.NumVariables()
	ctx.VariableWithValue("discard", 2.0)
	New(ctx, 3.0)

	ctx.Rollback(before)
	assert.Equal(t, 1, ctx.NumVariables())
	assert.Nil(t, ctx.InspectVariable("discard"))
	assert.NotNil(t, ctx.InspectVariable("keep"))

	// The rolled back name can be created again.
	require.NotPanics(t, func() { ctx.VariableWithValue("discard", 2.0) })
}

func TestUpdate(t *testing.T) {
	ctx := NewContext()
	v := ctx.VariableWithValue("total", 10.0)
	ctx.InitializeVariables()

	value, err := v.Update(func(old *tensors.Tensor) (*tensors.Tensor, error) {
		return tensors.FromScalar(dtypes.Float64, old.Scalar()+5), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 15.0, value.Scalar())
	assert.Equal(t, 15.0, v.Value().Scalar())
}
