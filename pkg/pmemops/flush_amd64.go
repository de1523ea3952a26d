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

//go:build amd64

package pmemops

import (
	"unsafe"

	"github.com/gopmem/gopmem/pkg/cpufeature"
)

// The following are implemented in asm_amd64.s.
func clflushAddr(addr unsafe.Pointer)
func clflushoptAddr(addr unsafe.Pointer)
func clwbAddr(addr unsafe.Pointer)
func sfence()
func movntiStoreDword(dst unsafe.Pointer, v uint32)
func movntCopy16(dst, src unsafe.Pointer)
func movntCopyChunk(dst, src unsafe.Pointer)
func movntSet16(dst, pattern unsafe.Pointer)
func movntSetChunk(dst, pattern unsafe.Pointer)

func flushLine(kind cpufeature.FlushKind, addr unsafe.Pointer) {
	switch kind {
	case cpufeature.FlushCLWB:
		clwbAddr(addr)
	case cpufeature.FlushCLFlushOpt:
		clflushoptAddr(addr)
	case cpufeature.FlushCLFlush:
		clflushAddr(addr)
	case cpufeature.FlushEmpty:
		// no-op
	}
}
