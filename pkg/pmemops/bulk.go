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

	"github.com/gopmem/gopmem/pkg/cpufeature"
)

// MemmoveNodrain copies n bytes from src to dst, handling overlap like
// memmove. Every byte written is guaranteed durable only after a
// subsequent Drain call. It returns dst.
func MemmoveNodrain(dst, src unsafe.Pointer, n uintptr) unsafe.Pointer {
	if n == 0 {
		return dst
	}
	d := cpufeature.Current()
	if d.Memmove == cpufeature.BulkStreaming && n >= d.MovntThreshold {
		if uintptr(dst)-uintptr(src) >= n {
			streamingMemmoveForward(dst, src, n)
		} else {
			streamingMemmoveBackward(dst, src, n)
		}
		sfence()
		return dst
	}
	if uintptr(dst)-uintptr(src) >= n {
		copyBytes(dst, src, n)
	} else {
		copyBytesBackward(dst, src, n)
	}
	Flush(dst, n)
	return dst
}

// MemcpyNodrain is a straight forwarding alias to MemmoveNodrain: the
// non-overlapping contract memcpy promises is a strict subset of what
// memmove already handles correctly.
func MemcpyNodrain(dst, src unsafe.Pointer, n uintptr) unsafe.Pointer {
	return MemmoveNodrain(dst, src, n)
}

// MemsetNodrain fills n bytes at dst with c. Every byte written is
// guaranteed durable only after a subsequent Drain call.
func MemsetNodrain(dst unsafe.Pointer, c byte, n uintptr) unsafe.Pointer {
	if n == 0 {
		return dst
	}
	d := cpufeature.Current()
	if d.Memset == cpufeature.BulkStreaming && n >= d.MovntThreshold {
		streamingMemset(dst, c, n)
		sfence()
		return dst
	}
	setBytes(dst, c, n)
	Flush(dst, n)
	return dst
}

// MemmovePersist is MemmoveNodrain followed by Drain.
func MemmovePersist(dst, src unsafe.Pointer, n uintptr) unsafe.Pointer {
	r := MemmoveNodrain(dst, src, n)
	Drain()
	return r
}

// MemcpyPersist is MemcpyNodrain followed by Drain.
func MemcpyPersist(dst, src unsafe.Pointer, n uintptr) unsafe.Pointer {
	r := MemcpyNodrain(dst, src, n)
	Drain()
	return r
}

// MemsetPersist is MemsetNodrain followed by Drain.
func MemsetPersist(dst unsafe.Pointer, c byte, n uintptr) unsafe.Pointer {
	r := MemsetNodrain(dst, c, n)
	Drain()
	return r
}

// streamingMemmoveForward implements the head-align / streaming-body /
// 16-byte-tail / sub-16-tail sequence, walking from low to high addresses.
func streamingMemmoveForward(dst, src unsafe.Pointer, n uintptr) {
	d, s := uintptr(dst), uintptr(src)

	// Head alignment: ordinary byte stores until dst is 64-byte aligned,
	// flushed explicitly since they bypass no cache.
	headEnd := alignUp(d, cpufeature.FlushAlign)
	if headEnd > d+n {
		headEnd = d + n
	}
	if head := headEnd - d; head > 0 {
		copyBytes(unsafe.Pointer(d), unsafe.Pointer(s), head)
		Flush(unsafe.Pointer(d), head)
		d += head
		s += head
		n -= head
	}

	for n >= cpufeature.Chunk {
		movntCopyChunk(unsafe.Pointer(d), unsafe.Pointer(s))
		d += cpufeature.Chunk
		s += cpufeature.Chunk
		n -= cpufeature.Chunk
	}

	for n >= cpufeature.MovntUnit {
		movntCopy16(unsafe.Pointer(d), unsafe.Pointer(s))
		d += cpufeature.MovntUnit
		s += cpufeature.MovntUnit
		n -= cpufeature.MovntUnit
	}

	for n >= cpufeature.Dword {
		movntiStoreDword(unsafe.Pointer(d), *(*uint32)(unsafe.Pointer(s)))
		d += cpufeature.Dword
		s += cpufeature.Dword
		n -= cpufeature.Dword
	}

	if n > 0 {
		copyBytes(unsafe.Pointer(d), unsafe.Pointer(s), n)
		Flush(unsafe.Pointer(d), n)
	}
}

// streamingMemmoveBackward mirrors streamingMemmoveForward, walking from
// high to low addresses; the alignment rule is applied to the initial
// (high-address) byte tail.
func streamingMemmoveBackward(dst, src unsafe.Pointer, n uintptr) {
	d, s := uintptr(dst)+n, uintptr(src)+n

	tailStart := alignDown(d, cpufeature.FlushAlign)
	if tailStart < d-n {
		tailStart = d - n
	}
	if tail := d - tailStart; tail > 0 {
		d -= tail
		s -= tail
		copyBytesBackward(unsafe.Pointer(d), unsafe.Pointer(s), tail)
		Flush(unsafe.Pointer(d), tail)
		n -= tail
	}

	for n >= cpufeature.Chunk {
		d -= cpufeature.Chunk
		s -= cpufeature.Chunk
		movntCopyChunk(unsafe.Pointer(d), unsafe.Pointer(s))
		n -= cpufeature.Chunk
	}

	for n >= cpufeature.MovntUnit {
		d -= cpufeature.MovntUnit
		s -= cpufeature.MovntUnit
		movntCopy16(unsafe.Pointer(d), unsafe.Pointer(s))
		n -= cpufeature.MovntUnit
	}

	for n >= cpufeature.Dword {
		d -= cpufeature.Dword
		s -= cpufeature.Dword
		movntiStoreDword(unsafe.Pointer(d), *(*uint32)(unsafe.Pointer(s)))
		n -= cpufeature.Dword
	}

	if n > 0 {
		d -= n
		s -= n
		copyBytesBackward(unsafe.Pointer(d), unsafe.Pointer(s), n)
		Flush(unsafe.Pointer(d), n)
	}
}

// streamingMemset is the memmove streaming algorithm specialized to a
// single broadcast source: the pattern is a 16-byte buffer filled with c,
// used as the "source" for every vector store.
func streamingMemset(dst unsafe.Pointer, c byte, n uintptr) {
	var pattern [16]byte
	for i := range pattern {
		pattern[i] = c
	}
	pp := unsafe.Pointer(&pattern[0])

	d := uintptr(dst)
	headEnd := alignUp(d, cpufeature.FlushAlign)
	if headEnd > d+n {
		headEnd = d + n
	}
	if head := headEnd - d; head > 0 {
		setBytes(unsafe.Pointer(d), c, head)
		Flush(unsafe.Pointer(d), head)
		d += head
		n -= head
	}

	for n >= cpufeature.Chunk {
		movntSetChunk(unsafe.Pointer(d), pp)
		d += cpufeature.Chunk
		n -= cpufeature.Chunk
	}

	for n >= cpufeature.MovntUnit {
		movntSet16(unsafe.Pointer(d), pp)
		d += cpufeature.MovntUnit
		n -= cpufeature.MovntUnit
	}

	patternWord := uint32(c) | uint32(c)<<8 | uint32(c)<<16 | uint32(c)<<24
	for n >= cpufeature.Dword {
		movntiStoreDword(unsafe.Pointer(d), patternWord)
		d += cpufeature.Dword
		n -= cpufeature.Dword
	}

	if n > 0 {
		setBytes(unsafe.Pointer(d), c, n)
		Flush(unsafe.Pointer(d), n)
	}
}

func copyBytes(dst, src unsafe.Pointer, n uintptr) {
	for i := uintptr(0); i < n; i++ {
		*(*byte)(unsafe.Add(dst, i)) = *(*byte)(unsafe.Add(src, i))
	}
}

func copyBytesBackward(dst, src unsafe.Pointer, n uintptr) {
	for i := n; i > 0; i-- {
		*(*byte)(unsafe.Add(dst, i-1)) = *(*byte)(unsafe.Add(src, i-1))
	}
}

func setBytes(dst unsafe.Pointer, c byte, n uintptr) {
	for i := uintptr(0); i < n; i++ {
		*(*byte)(unsafe.Add(dst, i)) = c
	}
}
