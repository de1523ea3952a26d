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

package cpufeature

import "golang.org/x/sys/cpu"

// cpuidLeaf is implemented in cpuid_amd64.s. It returns the four
// general-purpose registers CPUID writes for the given leaf/sub-leaf.
func cpuidLeaf(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32)

const (
	leaf1EDXCLFlush     = 1 << 19
	leaf7EBXCLFlushOpt  = 1 << 23
	leaf7EBXCLWB        = 1 << 24
)

// detectHW reads CPUID directly for the two bits golang.org/x/sys/cpu does
// not expose (CLFLUSHOPT, CLWB). CLFLUSH is reported when x/sys/cpu says
// SSE2 is present (SSE2 implies CLFLUSH) or when the raw leaf 1 EDX bit is
// set.
func detectHW() hwCaps {
	_, ebx, _, edx1 := cpuidLeafPair()
	return hwCaps{
		hasCLFlush:    cpu.X86.HasSSE2 || edx1&leaf1EDXCLFlush != 0,
		hasCLFlushOpt: ebx&leaf7EBXCLFlushOpt != 0,
		hasCLWB:       ebx&leaf7EBXCLWB != 0,
	}
}

// cpuidLeafPair queries leaf 7 sub-leaf 0 for the EBX extended-feature bits
// and leaf 1 for the EDX CLFLUSH bit in a single helper, since both are
// needed for a single probe pass.
func cpuidLeafPair() (leaf7eax, leaf7ebx, leaf1ecx, leaf1edx uint32) {
	_, ebx7, _, _ := cpuidLeaf(7, 0)
	_, _, ecx1, edx1 := cpuidLeaf(1, 0)
	return 0, ebx7, ecx1, edx1
}
