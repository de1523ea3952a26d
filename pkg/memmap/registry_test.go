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

package memmap

import (
	"errors"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestIsPmemRangeScenario(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(0x1000, 0x4000, 7, 3); err != nil { // [0x1000, 0x5000)
		t.Fatalf("Register: %v", err)
	}

	if !r.IsPmemRange(0x2000, 0x1000) {
		t.Errorf("IsPmemRange(0x2000, 0x1000) = false, want true")
	}
	if r.IsPmemRange(0x4000, 0x2000) {
		t.Errorf("IsPmemRange(0x4000, 0x2000) = true, want false")
	}
}

func TestUnregisterSplitsInterior(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(0x1000, 0x4000, 0, 0); err != nil { // [0x1000, 0x5000)
		t.Fatalf("Register: %v", err)
	}
	if err := r.Unregister(0x2000, 0x1000); err != nil { // remove [0x2000, 0x3000)
		t.Fatalf("Unregister: %v", err)
	}

	if got := r.Find(0x2000, 0x1000); got != nil {
		t.Errorf("Find(removed range) = %+v, want nil", got)
	}
	left := r.Find(0x1000, 1)
	if left == nil || left.BaseAddr != 0x1000 || left.EndAddr != 0x2000 {
		t.Errorf("left fragment = %+v, want [0x1000, 0x2000)", left)
	}
	right := r.Find(0x3000, 1)
	if right == nil || right.BaseAddr != 0x3000 || right.EndAddr != 0x5000 {
		t.Errorf("right fragment = %+v, want [0x3000, 0x5000)", right)
	}
	if got := r.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
}

func TestRegisterUnregisterRoundtrip(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(0x10000, 0x1000, 0, 0); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Unregister(0x10000, 0x1000); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if got := r.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
}

func TestUnregisterNotFoundIsReported(t *testing.T) {
	r := NewRegistry()
	err := r.Unregister(0xdead0000, 0x1000)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Unregister(unregistered range) = %v, want ErrNotFound", err)
	}
}

func TestRegisterOverlapPanics(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(0x1000, 0x1000, 0, 0); err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Errorf("Register(overlapping range) did not panic")
		}
	}()
	_ = r.Register(0x1800, 0x1000, 0, 0)
}

func TestUnregisterFailedAllocLeavesRegistryIntact(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(0x1000, 0x4000, 42, 9); err != nil {
		t.Fatalf("Register: %v", err)
	}

	r.SetFailNextAlloc(true)
	err := r.Unregister(0x2000, 0x1000)
	if !errors.Is(err, ErrResourceExhausted) {
		t.Fatalf("Unregister with injected failure = %v, want ErrResourceExhausted", err)
	}

	// The original entry must still be intact: same bounds, same identity.
	got := r.Find(0x1000, 1)
	if got == nil || got.BaseAddr != 0x1000 || got.EndAddr != 0x5000 || got.DeviceID != 42 || got.RegionID != 9 {
		t.Fatalf("registry entry corrupted after failed split: %+v", got)
	}
	if got := r.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1 (unregister must not have removed anything)", got)
	}
}

// TestConcurrentReadersWriters exercises the reader/writer lock: many
// goroutines register/find/unregister disjoint ranges concurrently, and
// the registry invariant (disjoint, sorted) must hold throughout.
func TestConcurrentReadersWriters(t *testing.T) {
	r := NewRegistry()
	const n = 64
	const rangeLen = 0x1000

	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			base := uintptr(i) * rangeLen
			if err := r.Register(base, rangeLen, uint64(i), i); err != nil {
				return err
			}
			if t := r.Find(base, rangeLen); t == nil {
				return errors.New("registered range not found")
			}
			if !r.IsPmemRange(base, rangeLen) {
				return errors.New("registered range not reported as pmem")
			}
			return r.Unregister(base, rangeLen)
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent register/find/unregister: %v", err)
	}
	if got := r.Len(); got != 0 {
		t.Fatalf("Len() = %d, want 0 after all ranges unregistered", got)
	}
}
