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

// Package cpufeature runs the one-shot platform probe: it inspects CPU
// capability bits and environment overrides and builds the process-global
// Dispatch table that pkg/pmemops indirects through on every call.
//
// Lock order: none. The probe uses a three-state CAS init instead of a
// mutex so that post-init readers never synchronize: the table is
// immutable for the life of the process once built.
package cpufeature

import (
	"runtime"
	"sync/atomic"
)

// FlushKind selects the cache-line writeback instruction pkg/pmemops
// issues for each line touched by Flush.
type FlushKind int

const (
	FlushEmpty FlushKind = iota
	FlushCLFlush
	FlushCLFlushOpt
	FlushCLWB
)

// DrainKind selects the fence pkg/pmemops issues from Drain.
type DrainKind int

const (
	DrainEmpty DrainKind = iota
	DrainSFence
)

// BulkKind selects whether the bulk memmove/memset routines use ordinary
// stores or the non-temporal streaming path.
type BulkKind int

const (
	BulkNormal BulkKind = iota
	BulkStreaming
)

// IsPmemKind selects how IsPmem answers without inspecting every byte.
type IsPmemKind int

const (
	IsPmemDetect IsPmemKind = iota // delegate to the mapping registry
	IsPmemAlways
	IsPmemNever
)

// Constants shared by the flush/fence/bulk-transfer math.
const (
	FlushAlign = 64
	Chunk      = 128
	MovntUnit  = 16
	Dword      = 4

	defaultMovntThreshold = 256
)

// Dispatch is the process-global, immutable-after-init configuration
// table. Every field is read lock-free after Probe completes.
type Dispatch struct {
	Flush          FlushKind
	Drain          DrainKind
	Memmove        BulkKind
	Memset         BulkKind
	IsPmem         IsPmemKind
	MovntThreshold uint64
}

const (
	stateUninit int32 = iota
	stateInProgress
	stateDone
)

var (
	state   atomic.Int32
	current Dispatch
)

// Probe runs the one-shot platform detection. It is idempotent and safe to
// call from multiple goroutines racing at process start: exactly one of
// them runs the detection logic, the rest spin until it is done.
func Probe() {
	if state.Load() == stateDone {
		return
	}
	if state.CompareAndSwap(stateUninit, stateInProgress) {
		current = detect()
		state.Store(stateDone)
		return
	}
	for state.Load() != stateDone {
		runtime.Gosched()
	}
}

// Current returns the dispatch table built by Probe. Callers need not call
// Probe first (pkg/pmemops never does): calling Current before any Probe
// call runs Probe synchronously.
func Current() Dispatch {
	Probe()
	return current
}

// reset is a test-only hook that forces a fresh Probe on next use. Real
// callers never need this: the environment is never re-read after init.
func reset() {
	state.Store(stateUninit)
	current = Dispatch{}
}

// ResetForTest forces the next Current call in any package to re-run
// Probe. It exists only so that pmemops and pmem tests can exercise
// different environment-variable overrides within a single test binary;
// production code never calls it.
func ResetForTest() {
	reset()
}

// detect applies the selection rules in order, later rules overriding
// earlier ones.
func detect() Dispatch {
	d := Dispatch{
		Flush:          FlushCLFlush,
		Drain:          DrainEmpty,
		Memmove:        BulkNormal,
		Memset:         BulkNormal,
		IsPmem:         IsPmemNever,
		MovntThreshold: defaultMovntThreshold,
	}

	caps := detectHW()

	if caps.hasCLFlush {
		d.IsPmem = IsPmemDetect
	}

	if caps.hasCLFlushOpt && !envDisabled("PMEM_NO_CLFLUSHOPT") {
		d.Flush = FlushCLFlushOpt
		d.Drain = DrainSFence
	}

	if caps.hasCLWB && !envDisabled("PMEM_NO_CLWB") {
		d.Flush = FlushCLWB
		d.Drain = DrainSFence
	}

	if envDisabled("PMEM_NO_FLUSH") {
		d.Flush = FlushEmpty
		d.Drain = DrainSFence
	}

	if envDisabled("PMEM_NO_MOVNT") {
		d.Memmove = BulkNormal
		d.Memset = BulkNormal
	} else {
		d.Memmove = BulkStreaming
		d.Memset = BulkStreaming
	}

	if v, ok := envThreshold("PMEM_MOVNT_THRESHOLD"); ok {
		d.MovntThreshold = v
	}

	switch envForce("PMEM_IS_PMEM_FORCE") {
	case forceNever:
		d.IsPmem = IsPmemNever
	case forceAlways:
		d.IsPmem = IsPmemAlways
	}

	return d
}

type hwCaps struct {
	hasCLFlush    bool
	hasCLFlushOpt bool
	hasCLWB       bool
}
