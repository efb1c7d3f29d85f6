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

// Package tensors implements the concrete value type traced programs compute
// over: a small dense tensor with a Shape and flat storage.
//
// Storage is uniformly float64 whatever the DType: the DType tags the value
// for signature extraction and formatting, it does not change the arithmetic.
// Bool tensors store 0 or 1. This keeps the replay interpreter to a single
// code path; precision of narrower dtypes is not modeled.
package tensors

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/pkg/errors"
	"github.com/tracefn/tracefn/types/dtypes"
	"github.com/tracefn/tracefn/types/shapes"
)

// Tensor is an immutable dense value. Create with FromAnyValue, FromScalar or
// FromFlat. Do not mutate the slice returned by Flat.
type Tensor struct {
	shape shapes.Shape
	flat  []float64
}

// FromScalar creates a rank-0 tensor.
func FromScalar(dtype dtypes.DType, value float64) *Tensor {
	return &Tensor{shape: shapes.Shape{DType: dtype}, flat: []float64{value}}
}

// FromFlat creates a tensor from a shape and its row-major flat values.
func FromFlat(shape shapes.Shape, flat []float64) (*Tensor, error) {
	if !shape.Ok() || shape.IsConstraint() {
		return nil, errors.Errorf("tensors.FromFlat: shape %s is not concrete", shape)
	}
	if len(flat) != shape.Size() {
		return nil, errors.Errorf("tensors.FromFlat: shape %s needs %d values, got %d",
			shape, shape.Size(), len(flat))
	}
	return &Tensor{shape: shape.Clone(), flat: flat}, nil
}

// FromAnyValue converts a Go value to a Tensor: a *Tensor is returned
// unchanged, a numeric or bool scalar becomes a rank-0 tensor, and nested
// slices of a numeric type become a dense tensor of the corresponding rank.
// Ragged slices or unsupported element types return an error.
func FromAnyValue(value any) (*Tensor, error) {
	if t, ok := value.(*Tensor); ok {
		return t, nil
	}
	if value == nil {
		return nil, errors.Errorf("tensors.FromAnyValue: cannot convert nil")
	}
	shape, err := shapeForValue(reflect.ValueOf(value))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot infer shape from %T", value)
	}
	t := &Tensor{shape: shape, flat: make([]float64, 0, shape.Size())}
	if err := t.appendValues(reflect.ValueOf(value), shape.Rank()); err != nil {
		return nil, err
	}
	return t, nil
}

// shapeForValue infers the Shape of a scalar or nested-slice value. The
// element type at the bottom determines the DType; the first sub-slice at
// each level determines the dimension (raggedness is caught while copying).
func shapeForValue(v reflect.Value) (shapes.Shape, error) {
	var dims []int
	for v.Kind() == reflect.Slice {
		if v.Len() == 0 {
			return shapes.Invalid(), errors.Errorf("empty slices not supported as tensor values")
		}
		dims = append(dims, v.Len())
		v = v.Index(0)
	}
	dtype := dtypes.FromGoType(v.Type())
	if !dtype.IsNumeric() && dtype != dtypes.Bool {
		return shapes.Invalid(), errors.Errorf("element type %s has no numeric DType", v.Type())
	}
	return shapes.Shape{DType: dtype, Dimensions: dims}, nil
}

// appendValues walks the nested slices depth-first, appending converted
// elements to t.flat and checking each level against the inferred shape.
func (t *Tensor) appendValues(v reflect.Value, levelsLeft int) error {
	if levelsLeft == 0 {
		f, ok := dtypes.ToFloat64(v.Interface())
		if !ok {
			return errors.Errorf("cannot convert %T to a tensor element", v.Interface())
		}
		t.flat = append(t.flat, f)
		return nil
	}
	axis := t.shape.Rank() - levelsLeft
	if v.Len() != t.shape.Dimensions[axis] {
		return errors.Errorf("ragged slice: axis %d has %d elements, expected %d",
			axis, v.Len(), t.shape.Dimensions[axis])
	}
	for ii := 0; ii < v.Len(); ii++ {
		if err := t.appendValues(v.Index(ii), levelsLeft-1); err != nil {
			return err
		}
	}
	return nil
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor's elements.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank of the tensor.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size is the number of elements.
func (t *Tensor) Size() int { return len(t.flat) }

// Flat returns the row-major storage. Treat it as read-only.
func (t *Tensor) Flat() []float64 { return t.flat }

// Scalar returns the single element of a rank-0 tensor. It panics if the
// tensor is not a scalar.
func (t *Tensor) Scalar() float64 {
	if !t.shape.IsScalar() {
		panic(errors.Errorf("Tensor.Scalar() called on non-scalar tensor shaped %s", t.shape))
	}
	return t.flat[0]
}

// Bool returns the scalar interpreted as a predicate: non-zero is true.
func (t *Tensor) Bool() bool { return t.Scalar() != 0 }

// Equal compares shape and every element.
func (t *Tensor) Equal(other *Tensor) bool {
	if !t.shape.Eq(other.shape) {
		return false
	}
	for ii, v := range t.flat {
		if other.flat[ii] != v {
			return false
		}
	}
	return true
}

const maxElementsToPrint = 8

// String prints the shape and up to a few leading elements.
func (t *Tensor) String() string {
	if t == nil {
		return "(nil tensor)"
	}
	var sb strings.Builder
	sb.WriteString(t.shape.String())
	sb.WriteString(": [")
	for ii, v := range t.flat {
		if ii >= maxElementsToPrint {
			sb.WriteString(", ...")
			break
		}
		if ii > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%g", v)
	}
	sb.WriteString("]")
	return sb.String()
}
