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

// Package signature derives the cache key that decides whether a call can be
// served by an existing compiled artifact or requires a new trace.
//
// A CallSignature is an ordered sequence of per-argument keys:
//
//   - Tensor arguments contribute (rank, element dtype). The concrete
//     dimensions enter the key only when the argument was matched against an
//     explicit shape constraint, which pins the shape.
//   - Primitive arguments (bools, ints, floats, strings) contribute their
//     literal value: changing the value means a different artifact.
//   - Any other object contributes a per-instance identity token issued by a
//     Registry, never its content: two distinct instances never share a key,
//     even if equal by value.
//
// Signatures hash with xxhash; collisions are resolved by structural
// equality, so the hash is a fast path, not the identity.
package signature

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/tracefn/tracefn/types/dtypes"
	"github.com/tracefn/tracefn/types/shapes"
	"github.com/tracefn/tracefn/types/xslices"
	"github.com/tracefn/tracefn/types/xsync"
)

// Kind tags one argument key of a CallSignature.
type Kind int

const (
	// KindTensor keys a numeric-array argument by rank and dtype (and
	// dimensions, when pinned by a constraint).
	KindTensor Kind = iota
	// KindPrimitive keys a scalar argument by its literal value.
	KindPrimitive
	// KindObject keys any other argument by its identity token.
	KindObject
)

// ArgKey is the signature contribution of one argument.
type ArgKey struct {
	Kind Kind

	// Tensor keys.
	Rank  int
	DType dtypes.DType
	// Dimensions is nil unless the shape was pinned by a constraint.
	Dimensions []int

	// Primitive keys: the literal value (a comparable Go primitive).
	Value any

	// Object keys.
	Token uint64
}

// TensorKey returns the key of a tensor argument: rank and dtype only.
func TensorKey(shape shapes.Shape) ArgKey {
	return ArgKey{Kind: KindTensor, Rank: shape.Rank(), DType: shape.DType}
}

// PinnedTensorKey returns the key of a tensor argument whose full shape was
// pinned by an explicit constraint: rank, dtype and every dimension.
func PinnedTensorKey(shape shapes.Shape) ArgKey {
	key := TensorKey(shape)
	key.Dimensions = shape.Clone().Dimensions
	return key
}

// PrimitiveKey returns the literal-value key of a primitive argument.
func PrimitiveKey(value any) ArgKey {
	return ArgKey{Kind: KindPrimitive, Value: value}
}

// ObjectKey returns the identity-token key of an opaque object argument.
func ObjectKey(token uint64) ArgKey {
	return ArgKey{Kind: KindObject, Token: token}
}

func (k ArgKey) eq(other ArgKey) bool {
	if k.Kind != other.Kind {
		return false
	}
	switch k.Kind {
	case KindTensor:
		if k.Rank != other.Rank || k.DType != other.DType ||
			len(k.Dimensions) != len(other.Dimensions) {
			return false
		}
		for ii, dim := range k.Dimensions {
			if other.Dimensions[ii] != dim {
				return false
			}
		}
		return true
	case KindPrimitive:
		return k.Value == other.Value
	case KindObject:
		return k.Token == other.Token
	}
	return false
}

func (k ArgKey) hashInto(digest *xxhash.Digest) {
	switch k.Kind {
	case KindTensor:
		_, _ = fmt.Fprintf(digest, "T%d:%d", k.Rank, k.DType)
		for _, dim := range k.Dimensions {
			_, _ = fmt.Fprintf(digest, ",%d", dim)
		}
	case KindPrimitive:
		_, _ = fmt.Fprintf(digest, "P%T=%v", k.Value, k.Value)
	case KindObject:
		_, _ = fmt.Fprintf(digest, "O%d", k.Token)
	}
	_, _ = digest.WriteString(";")
}

// String prints a compact human-readable form, for logs and diagnostics.
func (k ArgKey) String() string {
	switch k.Kind {
	case KindTensor:
		if k.Dimensions != nil {
			return shapes.Shape{DType: k.DType, Dimensions: k.Dimensions}.String()
		}
		return fmt.Sprintf("(%s)rank=%d", k.DType, k.Rank)
	case KindPrimitive:
		return fmt.Sprintf("%v", k.Value)
	case KindObject:
		return fmt.Sprintf("obj#%d", k.Token)
	}
	return "invalid"
}

// CallSignature is the ordered sequence of argument keys of one call. Build
// it with Make; it is immutable afterwards.
type CallSignature struct {
	keys []ArgKey
	hash uint64
}

// Make builds a CallSignature from the per-argument keys, computing its hash.
func Make(keys ...ArgKey) CallSignature {
	digest := xxhash.New()
	for _, key := range keys {
		key.hashInto(digest)
	}
	return CallSignature{keys: keys, hash: digest.Sum64()}
}

// Hash returns the xxhash of the signature, usable as a map key. Equal
// signatures hash equal; the reverse needs Eq.
func (s CallSignature) Hash() uint64 { return s.hash }

// NumArgs returns the number of argument keys.
func (s CallSignature) NumArgs() int { return len(s.keys) }

// Keys returns the argument keys. Treat as read-only.
func (s CallSignature) Keys() []ArgKey { return s.keys }

// Eq compares two signatures structurally.
func (s CallSignature) Eq(other CallSignature) bool {
	if s.hash != other.hash || len(s.keys) != len(other.keys) {
		return false
	}
	for ii, key := range s.keys {
		if !key.eq(other.keys[ii]) {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer.
func (s CallSignature) String() string {
	parts := xslices.Map(s.keys, func(key ArgKey) string { return key.String() })
	return "(" + strings.Join(parts, ", ") + ")"
}

// Registry issues identity tokens for opaque (non-tensor, non-primitive)
// arguments. Tokens are monotonically assigned and stable per object
// reference: asking twice for the same object yields the same token.
//
// Identity in Go exists for reference values (pointers, maps, slices,
// channels, functions); those are keyed by their referent address. Other
// comparable values are keyed by value as a best effort, since a copied
// value has no instance identity. The table is never pruned, which matches
// the trace cache's own no-eviction policy: a token outliving its object
// only costs memory.
type Registry struct {
	tokens    xsync.SyncMap[any, uint64]
	nextToken xsync.Counter
}

// NewRegistry returns an empty token registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// TokenFor returns the identity token of obj, issuing a fresh one the first
// time obj is seen. The issuance is the only side effect of signature
// extraction.
func (r *Registry) TokenFor(obj any) uint64 {
	key := identityKey(obj)
	if token, found := r.tokens.Load(key); found {
		return token
	}
	token, _ := r.tokens.LoadOrStore(key, r.nextToken.Next())
	return token
}

// identityKey reduces obj to a comparable stand-in for its identity.
func identityKey(obj any) any {
	v := reflect.ValueOf(obj)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan,
		reflect.Func, reflect.UnsafePointer:
		return referenceKey{kind: v.Kind(), addr: v.Pointer()}
	}
	if v.IsValid() && v.Type().Comparable() {
		return obj
	}
	// Non-comparable value with no address: key by its type, the best
	// stand-in left.
	return referenceKey{kind: v.Kind(), addr: 0}
}

type referenceKey struct {
	kind reflect.Kind
	addr uintptr
}
