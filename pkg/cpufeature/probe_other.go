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

package cpufeature

// detectHW has no cache-line-flush instructions to offer outside amd64.
// With no capabilities reported, the Dispatch keeps its defaults of
// FlushCLFlush/DrainEmpty/IsPmemNever (before env overrides); the
// non-amd64 flushLine and sfence ignore them, so flush and drain are
// no-ops and durability claims require a different mechanism (on ARM this
// would be DC CVAC + DSB SY, not implemented here).
func detectHW() hwCaps {
	return hwCaps{}
}
