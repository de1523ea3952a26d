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

package pmem

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"github.com/gopmem/gopmem/internal/pmemlog"
	"github.com/gopmem/gopmem/pkg/memmap"
	"github.com/gopmem/gopmem/pkg/pmemops"
)

// deepFlushSentinel is the byte the kernel's deep_flush sysfs control
// file expects on write: any of the conventional "truthy" bytes works,
// but the kernel's own tools write "1".
const deepFlushSentinel = "1"

// DeepFlush pushes [addr, addr+length) past the platform's normal flush
// path all the way to media, for the subset of PM whose durability
// domain sits beyond a plain Flush/Drain (eADR-less platforms). Gaps not
// covered by any tracked direct-mapped range are handled with an
// MsyncSync instead, on the assumption that they are page-cache-backed.
func DeepFlush(addr unsafe.Pointer, length uintptr) error {
	if length == 0 {
		return nil
	}

	reg := memmap.DefaultRegistry
	reg.RLock()
	defer reg.RUnlock()

	cursor := uintptr(addr)
	end := cursor + length
	seenRegions := make(map[int]bool)

	for cursor < end {
		t := reg.FindLocked(cursor, end-cursor)
		if t == nil || t.BaseAddr > cursor {
			// No tracked range starts at cursor: treat the gap up to the
			// next tracked entry (or end) as page-cache-backed.
			gapEnd := end
			if t != nil && t.BaseAddr < gapEnd {
				gapEnd = t.BaseAddr
			}
			if err := pmemops.MsyncSync(unsafe.Pointer(cursor), gapEnd-cursor); err != nil {
				return ioErr("DeepFlush", err)
			}
			cursor = gapEnd
			continue
		}

		segEnd := t.EndAddr
		if segEnd > end {
			segEnd = end
		}
		pmemops.Flush(unsafe.Pointer(cursor), segEnd-cursor)
		pmemops.Drain()
		if t.RegionID >= 0 && !seenRegions[t.RegionID] {
			seenRegions[t.RegionID] = true
			if err := writeDeepFlushControl(t.RegionID); err != nil {
				return err
			}
		}
		cursor = segEnd
	}

	return nil
}

// writeDeepFlushControl writes the deep-flush sentinel to the sysfs
// control file for regionID. A missing control file is not an error: not
// every kernel/NVDIMM combination exposes one, and Flush plus Drain have
// already pushed the segment as far as the CPU can. It is logged so a deployment missing
// the file is still discoverable.
func writeDeepFlushControl(regionID int) error {
	path := fmt.Sprintf("/sys/bus/nd/devices/region%d/deep_flush", regionID)
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			pmemlog.Warnf("DeepFlush: no deep_flush control file for region%d, relying on Drain alone", regionID)
			return nil
		}
		return ioErr("DeepFlush", err)
	}
	defer f.Close()

	if _, err := f.WriteString(deepFlushSentinel); err != nil {
		return ioErr("DeepFlush", err)
	}
	return nil
}
