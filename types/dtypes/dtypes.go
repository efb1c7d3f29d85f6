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

// Package dtypes enumerates the element types understood by the tracing
// runtime: the unit type of a tensor value, and the type tag used when a
// primitive Go value becomes part of a call signature.
//
// Go float16 support uses the github.com/x448/float16 implementation.
package dtypes

import (
	"reflect"

	"github.com/x448/float16"
)

// DType indicates the type of the unit element of a Tensor, or the type tag
// of a primitive scalar argument.
type DType int32

const (
	InvalidDType DType = iota
	Bool
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float16
	Float32
	Float64
	String
)

// Aliases, following the usual accelerator shorthand.
const (
	I32 = Int32
	I64 = Int64
	F16 = Float16
	F32 = Float32
	F64 = Float64
)

var dtypeNames = map[DType]string{
	InvalidDType: "InvalidDType",
	Bool:         "Bool",
	Int8:         "Int8",
	Int16:        "Int16",
	Int32:        "Int32",
	Int64:        "Int64",
	Uint8:        "Uint8",
	Uint16:       "Uint16",
	Uint32:       "Uint32",
	Uint64:       "Uint64",
	Float16:      "Float16",
	Float32:      "Float32",
	Float64:      "Float64",
	String:       "String",
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	if name, found := dtypeNames[dtype]; found {
		return name
	}
	return "UnknownDType"
}

// IsFloat returns whether dtype is a float type, including Float16.
func (dtype DType) IsFloat() bool {
	return dtype == Float16 || dtype == Float32 || dtype == Float64
}

// IsInt returns whether dtype is a signed or unsigned integer type.
func (dtype DType) IsInt() bool {
	switch dtype {
	case Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64:
		return true
	}
	return false
}

// IsNumeric returns whether values of dtype can be stored in a Tensor.
// String and Bool arguments are signature primitives but Bool is also
// a valid tensor element (for predicates).
func (dtype DType) IsNumeric() bool {
	return dtype.IsFloat() || dtype.IsInt()
}

// Number is the set of Go types directly convertible to a numeric DType.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

var goToDType = map[reflect.Kind]DType{
	reflect.Bool:    Bool,
	reflect.Int8:    Int8,
	reflect.Int16:   Int16,
	reflect.Int32:   Int32,
	reflect.Int:     Int64,
	reflect.Int64:   Int64,
	reflect.Uint8:   Uint8,
	reflect.Uint16:  Uint16,
	reflect.Uint32:  Uint32,
	reflect.Uint64:  Uint64,
	reflect.Float32: Float32,
	reflect.Float64: Float64,
	reflect.String:  String,
}

var float16Type = reflect.TypeOf(float16.Float16(0))

// FromGoType returns the DType for the given Go type, or InvalidDType if the
// type has no DType counterpart. float16.Float16 maps to Float16.
func FromGoType(t reflect.Type) DType {
	if t == float16Type {
		return Float16
	}
	if dtype, found := goToDType[t.Kind()]; found {
		return dtype
	}
	return InvalidDType
}

// FromAnyValue is like FromGoType for a concrete value. Returns InvalidDType
// for values with no DType counterpart (structs, pointers, maps, ...).
func FromAnyValue(value any) DType {
	if value == nil {
		return InvalidDType
	}
	return FromGoType(reflect.TypeOf(value))
}

// FromGenericsType returns the DType for the Go numeric type parameter.
func FromGenericsType[T Number]() DType {
	var v T
	return FromGoType(reflect.TypeOf(v))
}

// ToFloat64 converts a primitive numeric Go value to float64, the uniform
// storage type of the interpreter. It returns false for non-numeric values.
// Bools convert to 0 or 1.
func ToFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float16.Float16:
		return float64(v.Float32()), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}
