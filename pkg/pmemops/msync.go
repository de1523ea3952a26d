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

package pmemops

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// MsyncSync rounds addr down to a page boundary, extends length to cover
// the requested range, and issues a synchronous page sync. It is safe on
// any memory-mapped file, not only PM, and is the fallback deep_flush
// uses for page-cache-backed segments.
//
// Rounding addr down to a page boundary can cause msync to touch pages
// outside the caller's intended range; this mirrors the underlying
// syscall's own page granularity and is not compensated for here.
func MsyncSync(addr unsafe.Pointer, length uintptr) error {
	if length == 0 {
		return nil
	}
	pageSize := uintptr(unix.Getpagesize())
	start := alignDown(uintptr(addr), pageSize)
	end := uintptr(addr) + length
	span := end - start
	b := unsafe.Slice((*byte)(unsafe.Pointer(start)), span)
	return unix.Msync(b, unix.MS_SYNC)
}
