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

// Package memmap tracks which mapped address ranges are direct-mapped PM
// versus page-cache-backed. It is the independent leaf of the module:
// Register/Find/Unregister never call into pkg/pmemops or pkg/pmem.
package memmap

// Flag is a bitset of tracked-mapping properties.
type Flag uint32

// DirectMapped marks a range as byte-addressable PM, not page-cache-backed.
const DirectMapped Flag = 1 << 0

// Tracker is one entry in a Registry: a half-open byte interval
// [BaseAddr, EndAddr) in process virtual address space, plus the backing
// device identity needed to drive deep-flush.
type Tracker struct {
	BaseAddr uintptr
	EndAddr  uintptr
	Flags    Flag

	// DeviceID is an opaque kernel device identifier for the backing
	// device, zero if not applicable.
	DeviceID uint64

	// RegionID addresses the kernel's per-region deep-flush control file,
	// or -1 if the mapping has none.
	RegionID int
}

func (t *Tracker) len() uintptr { return t.EndAddr - t.BaseAddr }

// clone returns a copy of t with a new address range, inheriting flags,
// device identity, and region id. Used to build the left/right fragments
// left behind by a partial Unregister.
func (t *Tracker) clone(base, end uintptr) *Tracker {
	c := *t
	c.BaseAddr = base
	c.EndAddr = end
	return &c
}
