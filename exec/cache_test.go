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

package exec

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracefn/tracefn/types/dtypes"
	"github.com/tracefn/tracefn/types/shapes"
	"github.com/tracefn/tracefn/types/signature"
)

func sigOf(rank int) signature.CallSignature {
	dims := make([]int, rank)
	for ii := range dims {
		dims[ii] = 2
	}
	return signature.Make(signature.TensorKey(shapes.Make(dtypes.Float64, dims...)))
}

func TestTraceCacheInsertLookup(t *testing.T) {
	cache := newTraceCache()
	assert.Nil(t, cache.lookup(sigOf(1)))

	entry := newCacheEntry(sigOf(1))
	inserted, err := cache.insert(entry)
	require.NoError(t, err)
	assert.Same(t, entry, inserted)
	assert.Same(t, entry, cache.lookup(sigOf(1)))
	assert.Equal(t, 1, cache.numEntries())

	// Unpinned tensor keys carry rank and dtype only, so a rank-1 call with
	// any dimensions finds the same entry.
	wider := signature.Make(signature.TensorKey(shapes.Make(dtypes.Float64, 99)))
	assert.Same(t, entry, cache.lookup(wider))

	other, err := cache.insert(newCacheEntry(sigOf(2)))
	require.NoError(t, err)
	assert.NotSame(t, entry, other)
	assert.Equal(t, 2, cache.numEntries())
}

func TestTraceCacheDuplicateKey(t *testing.T) {
	cache := newTraceCache()
	winner, err := cache.insert(newCacheEntry(sigOf(1)))
	require.NoError(t, err)

	loser := newCacheEntry(sigOf(1))
	existing, err := cache.insert(loser)
	var dup *DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.True(t, dup.Signature.Eq(sigOf(1)))
	assert.Same(t, winner, existing, "the race loser adopts the published entry")
	assert.Equal(t, 1, cache.numEntries())
}

func TestTraceCacheRemove(t *testing.T) {
	cache := newTraceCache()
	_, err := cache.insert(newCacheEntry(sigOf(1)))
	require.NoError(t, err)

	cache.remove(sigOf(1))
	assert.Nil(t, cache.lookup(sigOf(1)))
	assert.Equal(t, 0, cache.numEntries())
	cache.remove(sigOf(1)) // removing an absent entry is a no-op

	// The signature can be re-inserted, e.g. retrying after a failed trace.
	_, err = cache.insert(newCacheEntry(sigOf(1)))
	require.NoError(t, err)
}

func TestTraceCacheMaxSize(t *testing.T) {
	cache := newTraceCache()
	cache.maxSize = 2
	_, err := cache.insert(newCacheEntry(sigOf(1)))
	require.NoError(t, err)
	_, err = cache.insert(newCacheEntry(sigOf(2)))
	require.NoError(t, err)

	_, err = cache.insert(newCacheEntry(sigOf(3)))
	require.ErrorContains(t, err, "maximum")
	var dup *DuplicateKeyError
	assert.False(t, errors.As(err, &dup), "overflow is not a duplicate-key race")

	// A duplicate of a cached signature still reports the duplicate, not
	// the size limit.
	_, err = cache.insert(newCacheEntry(sigOf(1)))
	require.ErrorAs(t, err, &dup)
}

func TestTraceCacheEnumerate(t *testing.T) {
	cache := newTraceCache()
	for rank := 1; rank <= 3; rank++ {
		_, err := cache.insert(newCacheEntry(sigOf(rank)))
		require.NoError(t, err)
	}
	count := 0
	cache.enumerate(func(entry *cacheEntry) { count++ })
	assert.Equal(t, 3, count)
}
