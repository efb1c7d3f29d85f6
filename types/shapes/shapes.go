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

// Package shapes defines Shape, the combination of an element type (DType)
// and dimensions that describes a tensor value or the expected form of a
// traced program's parameter.
//
// Glossary:
//
//   - Rank: number of axes of a tensor. Scalars have rank 0.
//   - Axis: the index of a dimension. Its size is the dimension.
//   - DType: the element type, see the dtypes package.
//
// A Shape also serves as an argument constraint: a dimension set to
// AnyDimension matches any size, which is how dispatch constraints express
// "rank and dtype fixed, sizes free".
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/tracefn/tracefn/types/dtypes"
)

// AnyDimension is a wildcard dimension in a constraint Shape. It matches any
// concrete size at the same axis.
const AnyDimension = -1

// Shape represents the shape of a tensor value or a traced parameter.
//
// Use Make to create one; the zero Shape is invalid.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape with the given element type and dimensions. It panics
// on dimensions <= 0 (use MakeConstraint for wildcard dimensions).
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim <= 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with an axis with dimension <= 0", s)
		}
	}
	return s
}

// MakeConstraint is like Make but allows AnyDimension entries, producing a
// shape usable as a dispatch constraint.
func MakeConstraint(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim <= 0 && dim != AnyDimension {
			exceptions.Panicf("shapes.MakeConstraint(%s): dimensions must be > 0 or AnyDimension", s)
		}
	}
	return s
}

// Scalar returns a rank-0 Shape for the given Go numeric type.
func Scalar[T dtypes.Number]() Shape {
	return Shape{DType: dtypes.FromGenericsType[T]()}
}

// Invalid returns an invalid shape. Invalid().Ok() == false.
func Invalid() Shape { return Shape{DType: dtypes.InvalidDType} }

// Ok returns whether this is a valid Shape.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape, the number of axes. Scalars have rank 0.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape has rank 0.
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// Size returns the number of elements a tensor of this shape holds, the
// product of its dimensions. Scalars have size 1. Constraint shapes with
// wildcard dimensions have undefined size; Size returns -1 for those.
func (s Shape) Size() int {
	size := 1
	for _, dim := range s.Dimensions {
		if dim == AnyDimension {
			return -1
		}
		size *= dim
	}
	return size
}

// IsConstraint returns whether any dimension is a wildcard.
func (s Shape) IsConstraint() bool {
	return slices.Contains(s.Dimensions, AnyDimension)
}

// Clone makes a deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
}

// Eq compares two shapes for structural equality: dtype, rank and every
// dimension (wildcards included) must match exactly.
func (s Shape) Eq(other Shape) bool {
	return s.DType == other.DType && slices.Equal(s.Dimensions, other.Dimensions)
}

// Covers returns whether a concrete shape satisfies this shape seen as a
// constraint: dtype and rank must match, and each dimension must either match
// or be AnyDimension on the constraint side.
func (s Shape) Covers(concrete Shape) bool {
	if s.DType != concrete.DType || s.Rank() != concrete.Rank() {
		return false
	}
	for axis, dim := range s.Dimensions {
		if dim != AnyDimension && dim != concrete.Dimensions[axis] {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer, printing like "(Float32)[2 3]".
func (s Shape) String() string {
	if !s.Ok() {
		return "(invalid shape)"
	}
	if s.IsScalar() {
		return fmt.Sprintf("(%s)", s.DType)
	}
	parts := make([]string, 0, s.Rank())
	for _, dim := range s.Dimensions {
		if dim == AnyDimension {
			parts = append(parts, "?")
		} else {
			parts = append(parts, fmt.Sprintf("%d", dim))
		}
	}
	return fmt.Sprintf("(%s)[%s]", s.DType, strings.Join(parts, " "))
}
