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

//go:build !amd64

package pmemops

import (
	"unsafe"

	"github.com/gopmem/gopmem/pkg/cpufeature"
)

// Non-amd64 builds have no cache-line-flush instructions; cpufeature's
// detectHW never reports a flushable capability on these architectures,
// so the dispatch keeps its FlushCLFlush default (or FlushEmpty under
// PMEM_NO_FLUSH=1), and flushLine ignores whichever kind it is given.
func flushLine(cpufeature.FlushKind, unsafe.Pointer) {}

func sfence() {}

func movntiStoreDword(dst unsafe.Pointer, v uint32) {
	*(*uint32)(dst) = v
}

func movntCopy16(dst, src unsafe.Pointer) {
	copyBytes(dst, src, 16)
}

func movntCopyChunk(dst, src unsafe.Pointer) {
	copyBytes(dst, src, cpufeature.Chunk)
}

func movntSet16(dst, pattern unsafe.Pointer) {
	copyBytes(dst, pattern, 16)
}

func movntSetChunk(dst, pattern unsafe.Pointer) {
	for off := uintptr(0); off < cpufeature.Chunk; off += 16 {
		copyBytes(unsafe.Add(dst, off), pattern, 16)
	}
}
