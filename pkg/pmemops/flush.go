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

// Package pmemops implements the persistence primitives: Flush, Drain,
// Persist, the bulk cache-bypassing copy/set routines, and page-granular
// sync. Every exported function here is thread-safe and lock-free once
// cpufeature.Probe has run; none of them allocate or block except
// MsyncSync, which issues a real syscall.
package pmemops

import (
	"unsafe"

	"github.com/gopmem/gopmem/pkg/cpufeature"
)

// isPmemDetector is set by pkg/pmem at init time to back the "detect"
// dispatch of IsPmem with the mapping registry. pkg/pmemops itself never
// imports pkg/memmap: the façade package wires the two together, keeping
// the primitives package's only dependency on cpufeature.
var isPmemDetector func(addr uintptr, length uintptr) bool

// SetIsPmemDetector installs the function IsPmem calls when the dispatch
// table says IsPmemDetect. Called exactly once, from pkg/pmem's init.
func SetIsPmemDetector(fn func(addr uintptr, length uintptr) bool) {
	isPmemDetector = fn
}

// Flush issues the dispatch-selected cache-line writeback for every cache
// line intersecting [addr, addr+length). It does not fence; callers that
// need the flush to be durable call Drain afterward (or use Persist).
func Flush(addr unsafe.Pointer, length uintptr) {
	if length == 0 {
		return
	}
	start := alignDown(uintptr(addr), cpufeature.FlushAlign)
	end := uintptr(addr) + length
	kind := cpufeature.Current().Flush
	for p := start; p < end; p += cpufeature.FlushAlign {
		flushLine(kind, unsafe.Pointer(p))
	}
}

// Drain issues the dispatch-selected store fence. With CLWB/CLFLUSHOPT
// this is SFENCE; with plain CLFLUSH it is a no-op, since CLFLUSH is
// already serializing.
func Drain() {
	if cpufeature.Current().Drain == cpufeature.DrainSFence {
		sfence()
	}
}

// Persist is Flush followed by Drain.
func Persist(addr unsafe.Pointer, length uintptr) {
	Flush(addr, length)
	Drain()
}

// HasHWDrain always returns false: x86 has no hardware-drain instruction
// distinct from SFENCE, so the library-level Drain call is always
// sufficient. Kept as a public symbol for architectures that might one day
// need to answer differently.
func HasHWDrain() bool { return false }

// IsPmem reports whether every byte of [addr, addr+length) is covered by
// a tracked direct-mapped range. Dispatches through the probe's IsPmem
// selection; IsPmemDetect delegates to the registry hook installed by
// pkg/pmem.
func IsPmem(addr unsafe.Pointer, length uintptr) bool {
	switch cpufeature.Current().IsPmem {
	case cpufeature.IsPmemAlways:
		return true
	case cpufeature.IsPmemNever:
		return false
	default:
		if isPmemDetector == nil {
			return false
		}
		return isPmemDetector(uintptr(addr), length)
	}
}

func alignDown(v uintptr, align uintptr) uintptr {
	return v &^ (align - 1)
}

func alignUp(v uintptr, align uintptr) uintptr {
	return alignDown(v+align-1, align)
}
