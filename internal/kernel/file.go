// Copyright 2024 Google Inc. All Rights Reserved.
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

package kernel

import (
	"golang.org/x/sys/unix"
)

// SyncFileRangeFlags is the set of bits spec.md §4.1 says must be validated
// before forwarding sync_file_range to the host kernel unconditionally.
const SyncFileRangeFlags = unix.SYNC_FILE_RANGE_WAIT_BEFORE |
	unix.SYNC_FILE_RANGE_WRITE |
	unix.SYNC_FILE_RANGE_WAIT_AFTER

// Fsync flushes fd's data and metadata.
func Fsync(fd int) unix.Errno {
	if err := unix.Fsync(fd); err != nil {
		return TranslateErrno("fsync", err)
	}
	return 0
}

// Fdatasync flushes fd's data only.
func Fdatasync(fd int) unix.Errno {
	if err := unix.Fdatasync(fd); err != nil {
		return TranslateErrno("fdatasync", err)
	}
	return 0
}

// SyncFileRange forwards to the host kernel unconditionally once flags is
// known to be a subset of SyncFileRangeFlags (spec.md §9: "portability
// across hosts is limited" — this is accepted as-is).
func SyncFileRange(fd int, offset, nbytes int64, flags uint) unix.Errno {
	if err := unix.SyncFileRange(fd, offset, nbytes, int(flags)); err != nil {
		return TranslateErrno("sync_file_range", err)
	}
	return 0
}

// Mmap maps length bytes of fd starting at offset, shared and read/write.
func Mmap(fd int, offset int64, length int) ([]byte, error) {
	return unix.Mmap(fd, offset, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

// Munmap unmaps b.
func Munmap(b []byte) error {
	return unix.Munmap(b)
}

// Mremap grows/shrinks an existing mapping in place when possible, moving
// it (MREMAP_MAYMOVE) when the kernel cannot extend it where it sits. Used
// by C2 when the journal's data region overflows its current 1 MiB
// multiple (spec.md §4.2).
func Mremap(oldData []byte, newSize int) ([]byte, error) {
	return unix.Mremap(oldData, newSize, unix.MREMAP_MAYMOVE)
}

// Ftruncate sets fd's length.
func Ftruncate(fd int, length int64) unix.Errno {
	if err := unix.Ftruncate(fd, length); err != nil {
		return TranslateErrno("ftruncate", err)
	}
	return 0
}
