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

package pmem

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/gopmem/gopmem/pkg/pmemops"
)

func TestMapFileCreateExclRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool")

	m, err := MapFile(path, 1<<20, Create|Excl, 0600)
	require.NoError(t, err)
	require.EqualValues(t, 1<<20, m.Len())

	pattern := bytes.Repeat([]byte{0xab}, 4096)
	pmemops.MemcpyPersist(m.Addr(), unsafe.Pointer(&pattern[0]), uintptr(len(pattern)))

	require.NoError(t, Unmap(m.Addr(), m.Len()))

	m2, err := MapFile(path, 0, 0, 0)
	require.NoError(t, err)
	defer Unmap(m2.Addr(), m2.Len())

	require.True(t, bytes.Equal(m2.Bytes()[:4096], pattern))
}

func TestMapFileZeroLengthCreateIsInvalidArgument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool")

	_, err := MapFile(path, 0, Create, 0600)
	require.Error(t, err)

	var pmErr *Error
	require.True(t, errors.As(err, &pmErr))
	require.Equal(t, InvalidArgument, pmErr.Kind)
}

func TestMapFileTmpfileUnlinksOnClose(t *testing.T) {
	dir := t.TempDir()

	m, err := MapFile(dir, 4096, Create|Tmpfile, 0600)
	require.NoError(t, err)
	require.EqualValues(t, 4096, m.Len())
	require.NoError(t, Unmap(m.Addr(), m.Len()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

// TestConcurrentMapUnmapStress exercises open/map/unmap contention over a
// single shared backing file from many goroutines, checking that no
// MapFile or Unmap call returns an unexpected error.
func TestConcurrentMapUnmapStress(t *testing.T) {
	dir := t.TempDir()
	const workers = 16
	const iterations = 32

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			path := filepath.Join(dir, "pool")
			for j := 0; j < iterations; j++ {
				m, err := MapFile(path, 0, 0, 0)
				if err != nil {
					// The file may not exist on the very first iterations
					// across workers; create it instead.
					m, err = MapFile(path, 4096, Create, 0600)
					if err != nil && !errors.Is(err, os.ErrExist) {
						return err
					}
					if err != nil {
						continue
					}
				}
				if err := Unmap(m.Addr(), m.Len()); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	_ = workers
}

func TestDeepFlushNoopOnZeroLength(t *testing.T) {
	require.NoError(t, DeepFlush(unsafe.Pointer(uintptr(0x1000)), 0))
}

func TestDeepFlushUntrackedRangeFallsBackToMsync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool")
	m, err := MapFile(path, 4096, Create|Excl, 0600)
	require.NoError(t, err)
	defer Unmap(m.Addr(), m.Len())

	require.NoError(t, DeepFlush(m.Addr(), m.Len()))
}
