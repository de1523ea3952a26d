// Copyright 2024 The gopmem Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package memmap

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/btree"
)

// ErrResourceExhausted is returned when an allocation needed to complete
// Register or Unregister could not be made. Production Go allocation
// essentially never fails this way; the flag exists so tests can exercise
// the "leave the registry consistent" contract deterministically.
var ErrResourceExhausted = errors.New("memmap: allocation failed")

// ErrNotFound is returned by Unregister when no tracked range intersects
// the requested interval. Callers that treat "not found" as success
// (pkg/pmem's Unmap) should use errors.Is against this sentinel.
var ErrNotFound = errors.New("memmap: range not registered")

// Registry is a sorted, non-overlapping set of Trackers keyed by
// BaseAddr, guarded by a single reader/writer lock: Find takes the
// shared side, Register/Unregister take the exclusive side.
type Registry struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[*Tracker]

	// failNextAlloc is test-only fault injection for the "allocate both
	// fragments before removing the original" contract in Unregister.
	failNextAlloc atomic.Bool
}

const btreeDegree = 32

func less(a, b *Tracker) bool { return a.BaseAddr < b.BaseAddr }

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tree: btree.NewG[*Tracker](btreeDegree, less)}
}

// DefaultRegistry is the process-wide registry pkg/pmem registers DAX
// mappings into and pkg/pmemops's IsPmem detector queries.
var DefaultRegistry = NewRegistry()

// SetFailNextAlloc is a test-only hook: the next Register, or the first
// entry the next Unregister matches, fails once with ErrResourceExhausted
// before the tree is touched, then the hook resets itself.
func (r *Registry) SetFailNextAlloc(fail bool) {
	r.failNextAlloc.Store(fail)
}

func (r *Registry) consumeFailNextAlloc() bool {
	return r.failNextAlloc.CompareAndSwap(true, false)
}

// Register inserts a new tracked range. It panics if the range overlaps
// an existing entry: overlapping mappings are not a supported API state,
// and the caller (pkg/pmem's MapFile) is expected to never construct one
// — this is a programmer error, not a runtime condition to recover from.
func (r *Registry) Register(addr, length uintptr, deviceID uint64, regionID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	end := addr + length
	if overlap := r.findLocked(addr, length); overlap != nil {
		panic(fmt.Sprintf("memmap: Register([%#x, %#x)) overlaps existing tracker [%#x, %#x)",
			addr, end, overlap.BaseAddr, overlap.EndAddr))
	}

	if r.consumeFailNextAlloc() {
		return ErrResourceExhausted
	}

	r.tree.ReplaceOrInsert(&Tracker{
		BaseAddr: addr,
		EndAddr:  end,
		Flags:    DirectMapped,
		DeviceID: deviceID,
		RegionID: regionID,
	})
	return nil
}

// Find returns the first tracked entry partially overlapping
// [addr, addr+length), or nil.
func (r *Registry) Find(addr, length uintptr) *Tracker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findLocked(addr, length)
}

func (r *Registry) findLocked(addr, length uintptr) *Tracker {
	end := addr + length
	var found *Tracker
	r.tree.Ascend(func(t *Tracker) bool {
		if t.BaseAddr < end && addr < t.EndAddr {
			found = t
			return false
		}
		if addr < t.BaseAddr {
			return false
		}
		return true
	})
	return found
}

// IsPmemRange reports whether every byte of [addr, addr+length) is
// covered by tracked ranges carrying DirectMapped. It is installed as
// pkg/pmemops's IsPmemDetect backend by pkg/pmem at init.
func (r *Registry) IsPmemRange(addr, length uintptr) bool {
	if length == 0 {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	cursor := addr
	end := addr + length
	for cursor < end {
		t := r.findLocked(cursor, end-cursor)
		if t == nil || t.Flags&DirectMapped == 0 || t.BaseAddr > cursor {
			return false
		}
		cursor = t.EndAddr
	}
	return true
}

// Unregister removes [addr, addr+length) from the tracked set, splitting
// any entry it partially covers into up to two fragments. addr and
// addr+length must be aligned to the system mapping granularity; this
// package does not check that, since alignment is expressed in terms of
// the OS page size, which it does not otherwise need to know about. The
// caller (pkg/pmem's Unmap) rejects an addr that is not page-aligned and
// passes length through unchecked.
//
// Unregister is best-effort: if a split's fragment allocation fails, the
// call returns ErrResourceExhausted and leaves the registry exactly as it
// was before the call — both fragments are built before the original
// entry is removed.
func (r *Registry) Unregister(addr, length uintptr) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	end := addr + length
	removedAny := false
	for {
		t := r.findLocked(addr, end-addr)
		if t == nil {
			break
		}
		removedAny = true

		var left, right *Tracker
		if t.BaseAddr < addr {
			left = t.clone(t.BaseAddr, addr)
		}
		if end < t.EndAddr {
			right = t.clone(end, t.EndAddr)
		}

		if r.consumeFailNextAlloc() {
			return ErrResourceExhausted
		}

		r.tree.Delete(t)
		if left != nil {
			r.tree.ReplaceOrInsert(left)
		}
		if right != nil {
			r.tree.ReplaceOrInsert(right)
		}
	}

	if !removedAny {
		return ErrNotFound
	}
	return nil
}

// RLock acquires the registry's shared lock. Paired with RUnlock, it lets
// pkg/pmem's deep-flush walk hold one lock across the whole cursor loop
// instead of re-acquiring it for every segment.
func (r *Registry) RLock() { r.mu.RLock() }

// RUnlock releases the lock taken by RLock.
func (r *Registry) RUnlock() { r.mu.RUnlock() }

// FindLocked is Find without acquiring the lock; the caller must already
// hold it via RLock (or the write lock, internally).
func (r *Registry) FindLocked(addr, length uintptr) *Tracker {
	return r.findLocked(addr, length)
}

// Len reports the number of tracked entries. Test and diagnostic use only.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tree.Len()
}
