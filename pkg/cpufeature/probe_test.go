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

package cpufeature

import (
	"sync"
	"testing"
)

func withEnv(t *testing.T, kv map[string]string, fn func()) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
	reset()
	defer reset()
	fn()
}

func TestProbeIdempotentUnderRace(t *testing.T) {
	reset()
	defer reset()

	const n = 32
	var wg sync.WaitGroup
	results := make([]Dispatch, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = Current()
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatalf("dispatch table differs across racing callers: %+v vs %+v", results[i], results[0])
		}
	}
}

func TestProbeNoFlushForcesSFence(t *testing.T) {
	withEnv(t, map[string]string{"PMEM_NO_FLUSH": "1"}, func() {
		d := Current()
		if d.Flush != FlushEmpty {
			t.Errorf("Flush = %v, want FlushEmpty", d.Flush)
		}
		if d.Drain != DrainSFence {
			t.Errorf("Drain = %v, want DrainSFence", d.Drain)
		}
	})
}

func TestProbeNoMovntKeepsNormalBulk(t *testing.T) {
	withEnv(t, map[string]string{"PMEM_NO_MOVNT": "1"}, func() {
		d := Current()
		if d.Memmove != BulkNormal || d.Memset != BulkNormal {
			t.Errorf("bulk kind = %v/%v, want BulkNormal/BulkNormal", d.Memmove, d.Memset)
		}
	})
}

func TestProbeMovntThresholdOverride(t *testing.T) {
	withEnv(t, map[string]string{"PMEM_MOVNT_THRESHOLD": "4096"}, func() {
		if got := Current().MovntThreshold; got != 4096 {
			t.Errorf("MovntThreshold = %d, want 4096", got)
		}
	})
}

func TestProbeMovntThresholdInvalidIsIgnored(t *testing.T) {
	withEnv(t, map[string]string{"PMEM_MOVNT_THRESHOLD": "not-a-number"}, func() {
		if got := Current().MovntThreshold; got != defaultMovntThreshold {
			t.Errorf("MovntThreshold = %d, want default %d", got, defaultMovntThreshold)
		}
	})
}

func TestProbeIsPmemForce(t *testing.T) {
	withEnv(t, map[string]string{"PMEM_IS_PMEM_FORCE": "1"}, func() {
		if got := Current().IsPmem; got != IsPmemAlways {
			t.Errorf("IsPmem = %v, want IsPmemAlways", got)
		}
	})
	withEnv(t, map[string]string{"PMEM_IS_PMEM_FORCE": "0"}, func() {
		if got := Current().IsPmem; got != IsPmemNever {
			t.Errorf("IsPmem = %v, want IsPmemNever", got)
		}
	})
}
