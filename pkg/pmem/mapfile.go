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

// Package pmem is the mapping façade: MapFile and Unmap allocate and
// release mappings, registering direct-mapped ones with pkg/memmap, and
// DeepFlush combines msync with the device-level deep-flush control file.
// It is the only package in this module that wires pkg/pmemops to
// pkg/memmap.
package pmem

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/gopmem/gopmem/internal/pmemlog"
	"github.com/gopmem/gopmem/pkg/memmap"
	"github.com/gopmem/gopmem/pkg/pmemops"
)

func init() {
	pmemops.SetIsPmemDetector(memmap.DefaultRegistry.IsPmemRange)
}

// Flag is a bitmask of MapFile creation options.
type Flag uint32

const (
	Create  Flag = 1 << 0
	Excl    Flag = 1 << 1
	Sparse  Flag = 1 << 2
	Tmpfile Flag = 1 << 3
)

// Mapping is a live memory mapping returned by MapFile.
type Mapping struct {
	data     []byte
	isPmem   bool
	isDAX    bool
	path     string
	ownsFile bool
}

// Addr returns the mapping's base address.
func (m *Mapping) Addr() unsafe.Pointer { return unsafe.Pointer(&m.data[0]) }

// Bytes exposes the mapping as a byte slice for ordinary reads and, for
// callers that want durability, as the destination argument to
// pkg/pmemops's persist routines.
func (m *Mapping) Bytes() []byte { return m.data }

// Len returns the mapping length in bytes.
func (m *Mapping) Len() uintptr { return uintptr(len(m.data)) }

// IsPmem reports whether the mapping is a DAX device whose range was
// registered with pkg/memmap, or a regular file mapping that
// pkg/pmemops.IsPmem independently confirms is direct-mapped.
func (m *Mapping) IsPmem() bool { return m.isPmem }

// MapFile opens or creates path, sized and flagged per flags, and maps it
// shared into the process. DAX character devices register the resulting
// range with pkg/memmap so later IsPmem/DeepFlush calls can find it.
func MapFile(path string, length int64, flags Flag, mode uint32) (*Mapping, error) {
	if err := validateFlags(length, flags); err != nil {
		return nil, err
	}

	isDevice, devSize, err := statDAXDevice(path)
	if err != nil {
		return nil, ioErr("MapFile", err)
	}
	if isDevice {
		if flags&^(Create|Sparse) != 0 {
			return nil, invalidArg("MapFile", fmt.Errorf("DAX device %s accepts only CREATE|SPARSE", path))
		}
		if length != 0 && length != devSize {
			return nil, invalidArg("MapFile", fmt.Errorf("length %d does not match device size %d", length, devSize))
		}
		length = devSize
	}

	openFlags := unix.O_RDWR
	ownsFile := false
	switch {
	case flags&Tmpfile != 0:
		openFlags |= unix.O_TMPFILE
	case flags&Create != 0:
		openFlags |= unix.O_CREAT
		if flags&Excl != 0 {
			openFlags |= unix.O_EXCL
			ownsFile = true
		}
	}

	fd, err := unix.Open(path, openFlags, mode)
	if err != nil {
		return nil, ioErr("MapFile", err)
	}

	cleanup := func() {
		unix.Close(fd)
		if ownsFile {
			unix.Unlink(path)
		}
	}

	if flags&Create != 0 && !isDevice {
		if err := unix.Ftruncate(fd, length); err != nil {
			cleanup()
			return nil, ioErr("MapFile", err)
		}
		if flags&Sparse == 0 && !isDevice {
			if err := unix.Fallocate(fd, 0, 0, length); err != nil && !errors.Is(err, unix.ENOTSUP) {
				cleanup()
				return nil, ioErr("MapFile", err)
			} else if err != nil {
				pmemlog.Warnf("MapFile: fallocate unsupported on %s, falling back to truncate-only", path)
			}
		}
	}

	mapLen := length
	if mapLen == 0 {
		var st unix.Stat_t
		if err := unix.Fstat(fd, &st); err != nil {
			cleanup()
			return nil, ioErr("MapFile", err)
		}
		mapLen = st.Size
	}

	data, err := unix.Mmap(fd, 0, int(mapLen), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		cleanup()
		return nil, ioErr("MapFile", err)
	}

	unix.Close(fd)

	m := &Mapping{data: data, path: path, ownsFile: ownsFile, isDAX: isDevice}

	if isDevice {
		deviceID, regionID := identifyDevice(path)
		if err := memmap.DefaultRegistry.Register(uintptr(unsafe.Pointer(&data[0])), uintptr(mapLen), deviceID, regionID); err != nil {
			// Preserved on purpose: a failed registration downgrades the
			// mapping to untracked rather than failing MapFile. Callers
			// see IsPmem() == false even though the device is DAX.
			pmemlog.Warnf("MapFile: failed to register direct-mapped range for %s: %v", path, err)
		} else {
			m.isPmem = true
		}
	} else {
		m.isPmem = pmemops.IsPmem(unsafe.Pointer(&data[0]), uintptr(mapLen))
	}

	return m, nil
}

// Unmap releases addr's mapping. "Not found" in the registry is not an
// error: plenty of mappings are never tracked (page-cache-backed ones).
func Unmap(addr unsafe.Pointer, length uintptr) error {
	if uintptr(addr)%uintptr(unix.Getpagesize()) != 0 {
		return invalidArg("Unmap", fmt.Errorf("address %p is not page-aligned", addr))
	}
	if err := memmap.DefaultRegistry.Unregister(uintptr(addr), length); err != nil && !errors.Is(err, memmap.ErrNotFound) {
		return resourceExhausted("Unmap", err)
	}
	data := unsafe.Slice((*byte)(addr), int(length))
	if err := unix.Munmap(data); err != nil {
		return ioErr("Unmap", err)
	}
	return nil
}

func validateFlags(length int64, flags Flag) error {
	if flags&Tmpfile != 0 && flags&Create == 0 {
		return invalidArg("MapFile", errors.New("TMPFILE requires CREATE"))
	}
	if length != 0 && flags&Create == 0 {
		return invalidArg("MapFile", errors.New("non-zero length requires CREATE"))
	}
	if length == 0 && flags&Create != 0 {
		return invalidArg("MapFile", errors.New("zero length forbids CREATE"))
	}
	return nil
}

// statDAXDevice reports whether path names an existing character device,
// and if so, its size. A non-existent path is not an error here: MapFile
// will go on to create it as a regular file.
func statDAXDevice(path string) (isDevice bool, size int64, err error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return false, 0, nil
		}
		return false, 0, err
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		return false, 0, nil
	}
	return true, st.Size, nil
}

// identifyDevice resolves a DAX character device's kernel device id and
// the region id of its backing NVDIMM region, by following the sysfs
// symlink a char device exposes at /sys/dev/char/<major>:<minor>/device.
// The region id is embedded in that symlink's target as "regionN"; if it
// cannot be found, RegionID is left at -1 and DeepFlush skips the
// deep_flush control-file write for that mapping (it still flushes and
// drains the range).
func identifyDevice(path string) (deviceID uint64, regionID int) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, -1
	}
	deviceID = st.Rdev

	major := unix.Major(st.Rdev)
	minor := unix.Minor(st.Rdev)
	link := fmt.Sprintf("/sys/dev/char/%d:%d/device", major, minor)
	target, err := os.Readlink(link)
	if err != nil {
		pmemlog.Warnf("MapFile: could not resolve region id for %s: %v", path, err)
		return deviceID, -1
	}

	const marker = "region"
	idx := strings.LastIndex(target, marker)
	if idx < 0 {
		return deviceID, -1
	}
	rest := target[idx+len(marker):]
	end := strings.IndexAny(rest, "/.")
	if end >= 0 {
		rest = rest[:end]
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return deviceID, -1
	}
	return deviceID, n
}
