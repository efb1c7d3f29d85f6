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

// Package xslices adds generics slice utilities used across the module.
package xslices

import (
	"golang.org/x/exp/constraints"
)

// Map executes fn on each element of the slice and returns a new slice with
// the results.
func Map[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}

// Last returns the last element of a slice.
func Last[T any](slice []T) T {
	return slice[len(slice)-1]
}

// Keys returns the keys of a map in unspecified order.
func Keys[K comparable, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// Close returns whether a and b are within a small delta of each other,
// scaled by their magnitude. Used by tests comparing float results.
func Close[T constraints.Float](a, b T) bool {
	const epsilon = 1e-4
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	scale := a
	if scale < 0 {
		scale = -scale
	}
	if b > scale {
		scale = b
	} else if -b > scale {
		scale = -b
	}
	return diff <= epsilon*scale || diff <= epsilon
}

// Max returns the largest of the given values.
func Max[T constraints.Ordered](first T, others ...T) T {
	largest := first
	for _, v := range others {
		if v > largest {
			largest = v
		}
	}
	return largest
}
