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
	"sync"

	"github.com/pkg/errors"
	"github.com/tracefn/tracefn/trace"
	"github.com/tracefn/tracefn/types/signature"
	"github.com/tracefn/tracefn/types/xsync"
)

// traceResult is what a cache entry's latch resolves to once its trace
// finishes: the artifact, or the error that aborted the trace.
type traceResult struct {
	program *trace.Program
	err     error
}

// cacheEntry is one signature's slot in the trace cache. It is published
// before the trace runs; the latch serializes everyone else behind the
// tracing caller.
type cacheEntry struct {
	sig   signature.CallSignature
	latch *xsync.LatchWithValue[traceResult]
}

func newCacheEntry(sig signature.CallSignature) *cacheEntry {
	return &cacheEntry{sig: sig, latch: xsync.NewLatchWithValue[traceResult]()}
}

// traceCache maps call signatures to compiled artifacts for one Exec.
// Entries are hashed (xxhash over the signature) and collision-checked
// structurally. There is no eviction: entries live as long as the Exec, and
// unbounded growth is the documented cost of signature-polymorphic caching.
// An optional maxSize turns overflow into an error instead.
type traceCache struct {
	mu      sync.Mutex
	buckets map[uint64][]*cacheEntry
	size    int
	maxSize int // <= 0 means unlimited
}

func newTraceCache() *traceCache {
	return &traceCache{buckets: make(map[uint64][]*cacheEntry)}
}

// lookup returns the entry for sig, or nil if absent.
func (c *traceCache) lookup(sig signature.CallSignature) *cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(sig)
}

func (c *traceCache) lookupLocked(sig signature.CallSignature) *cacheEntry {
	for _, entry := range c.buckets[sig.Hash()] {
		if entry.sig.Eq(sig) {
			return entry
		}
	}
	return nil
}

// insert adds entry keyed by its signature. Tracing must be at-most-once
// per signature, so a second insert of the same signature fails with
// DuplicateKeyError; the caller discards its own work and adopts the entry
// already there. A full cache (maxSize reached) is a plain error.
func (c *traceCache) insert(entry *cacheEntry) (*cacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing := c.lookupLocked(entry.sig); existing != nil {
		return existing, errors.WithStack(&DuplicateKeyError{Signature: entry.sig})
	}
	if c.maxSize > 0 && c.size >= c.maxSize {
		return nil, errors.Errorf(
			"trace cache reached its maximum of %d artifacts -- every distinct call signature "+
				"traces and caches a new artifact; consider a shape constraint, or raise the "+
				"limit with SetMaxCache", c.maxSize)
	}
	hash := entry.sig.Hash()
	c.buckets[hash] = append(c.buckets[hash], entry)
	c.size++
	return entry, nil
}

// remove drops the entry for sig, if present. Used to undo the published
// entry of a failed trace: a failed trace leaves no partial entry.
func (c *traceCache) remove(sig signature.CallSignature) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bucket := c.buckets[sig.Hash()]
	for ii, entry := range bucket {
		if entry.sig.Eq(sig) {
			c.buckets[sig.Hash()] = append(bucket[:ii], bucket[ii+1:]...)
			c.size--
			return
		}
	}
}

// numEntries returns the number of cached (including in-flight) signatures.
func (c *traceCache) numEntries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// enumerate calls fn for every entry, in no particular order.
func (c *traceCache) enumerate(fn func(entry *cacheEntry)) {
	c.mu.Lock()
	snapshot := make([]*cacheEntry, 0, c.size)
	for _, bucket := range c.buckets {
		snapshot = append(snapshot, bucket...)
	}
	c.mu.Unlock()
	for _, entry := range snapshot {
		fn(entry)
	}
}
