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
	"github.com/tracefn/tracefn/types/signature"
)

// CacheStats describes one cached artifact, for diagnostics. Field values
// and formatting are not a stable contract.
type CacheStats struct {
	Signature   signature.CallSignature
	ProgramName string
	NumOps      int
	Pending     bool // trace still in flight
	Failed      bool // latch resolved to an error (entry about to disappear)
}

// Signatures enumerates the signatures with a completed artifact in the
// cache, in no particular order.
func (e *Exec) Signatures() []signature.CallSignature {
	var sigs []signature.CallSignature
	e.cache.enumerate(func(entry *cacheEntry) {
		if entry.latch.Test() && entry.latch.Wait().err == nil {
			sigs = append(sigs, entry.sig)
		}
	})
	return sigs
}

// NumCachedTraces returns how many signatures the cache currently holds,
// in-flight traces included.
func (e *Exec) NumCachedTraces() int { return e.cache.numEntries() }

// Stats snapshots the cache for diagnostics.
func (e *Exec) Stats() []CacheStats {
	var stats []CacheStats
	e.cache.enumerate(func(entry *cacheEntry) {
		s := CacheStats{Signature: entry.sig}
		if !entry.latch.Test() {
			s.Pending = true
		} else {
			result := entry.latch.Wait()
			if result.err != nil {
				s.Failed = true
			} else {
				s.ProgramName = result.program.Name()
				s.NumOps = result.program.NumOps()
			}
		}
		stats = append(stats, s)
	})
	return stats
}
