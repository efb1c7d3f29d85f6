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

package shapes_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracefn/tracefn/types/dtypes"
	. "github.com/tracefn/tracefn/types/shapes"
)

func TestMake(t *testing.T) {
	s := Make(dtypes.Float32, 2, 3)
	assert.Equal(t, 2, s.Rank())
	assert.Equal(t, 6, s.Size())
	assert.False(t, s.IsScalar())
	assert.Equal(t, "(Float32)[2 3]", s.String())

	scalar := Scalar[float64]()
	assert.Equal(t, 0, scalar.Rank())
	assert.True(t, scalar.IsScalar())
	assert.Equal(t, 1, scalar.Size())
	assert.Equal(t, "(Float64)", scalar.String())

	require.Panics(t, func() { Make(dtypes.Float32, 0) })
	require.Panics(t, func() { Make(dtypes.Float32, AnyDimension) })
}

func TestConstraint(t *testing.T) {
	c := MakeConstraint(dtypes.Float32, AnyDimension, 3)
	assert.True(t, c.IsConstraint())
	assert.Equal(t, -1, c.Size())
	assert.Equal(t, "(Float32)[? 3]", c.String())
	require.Panics(t, func() { MakeConstraint(dtypes.Float32, -2) })

	assert.True(t, c.Covers(Make(dtypes.Float32, 7, 3)))
	assert.True(t, c.Covers(Make(dtypes.Float32, 1, 3)))
	assert.False(t, c.Covers(Make(dtypes.Float32, 7, 4)), "non-wildcard axes match exactly")
	assert.False(t, c.Covers(Make(dtypes.Float64, 7, 3)), "dtype must match")
	assert.False(t, c.Covers(Make(dtypes.Float32, 3)), "rank must match")
}

func TestEqAndClone(t *testing.T) {
	a := Make(dtypes.Int64, 4)
	assert.True(t, a.Eq(Make(dtypes.Int64, 4)))
	assert.False(t, a.Eq(Make(dtypes.Int64, 5)))
	assert.False(t, a.Eq(MakeConstraint(dtypes.Int64, AnyDimension)),
		"Eq is structural, wildcards are not treated as matching")

	clone := a.Clone()
	clone.Dimensions[0] = 9
	assert.Equal(t, 4, a.Dimensions[0])
}

func TestInvalid(t *testing.T) {
	assert.False(t, Invalid().Ok())
	assert.True(t, Make(dtypes.Bool).Ok())
}
