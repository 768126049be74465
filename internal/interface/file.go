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

// Package ifc implements C1, the File Object Pool: it owns the raw host
// file handles backing regular files and exposes positional read/write
// over them. Grounded on _examples/original_source/src/interface/file.rs's
// EmulatedFile/EmulatedFileMap, translated into Go's os.File plus an
// explicit mutex (file.rs relies on Rust's RwLock around the same handle).
package ifc

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/yzhang71/safeposix-go/internal/kernel"
)

// EmulatedFile is the shared handle multiple fds across multiple cages may
// reference. knownSize is the largest offset+length written so far (Shrink
// lowers it to the new length); reads never change it. It exists only to trap out-of-range access with a programmer-error
// panic, not to enforce any real size limit.
type EmulatedFile struct {
	filename string

	mu     sync.Mutex // serializes positional I/O, spec.md §5
	handle *os.File

	knownSize int64 // atomic-free: only touched under mu
	refcount  int32 // atomic: shared across cages via Pool
}

// Open opens filename in read+write+create mode, matching file.rs's
// openfile.
func Open(filename string) (*EmulatedFile, error) {
	h, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, err
	}
	return &EmulatedFile{filename: filename, handle: h, refcount: 1}, nil
}

// Filename returns the backing file's path.
func (f *EmulatedFile) Filename() string { return f.filename }

// IncRef bumps the shared reference count (another fd/cage now references
// this handle).
func (f *EmulatedFile) IncRef() {
	atomic.AddInt32(&f.refcount, 1)
}

// DecRef drops the shared reference count, closing the underlying handle
// and returning true when it reaches zero.
func (f *EmulatedFile) DecRef() (closed bool, err error) {
	if atomic.AddInt32(&f.refcount, -1) > 0 {
		return false, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return true, f.handle.Close()
}

// ReadAt reads len(buf) bytes starting at offset. Panics with a
// programmer-error diagnostic if offset exceeds the known size (spec.md
// §4.1): a well-behaved caller never reads past what it or a peer has
// written.
func (f *EmulatedFile) ReadAt(buf []byte, offset int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if offset > f.knownSize {
		panic(fmt.Sprintf("ifc: ReadAt(%s): offset %d exceeds known size %d", f.filename, offset, f.knownSize))
	}
	n, err := f.handle.ReadAt(buf, offset)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// WriteAt writes buf at offset, extending knownSize to
// max(knownSize, offset+len(buf)).
func (f *EmulatedFile) WriteAt(buf []byte, offset int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.handle.WriteAt(buf, offset)
	if err != nil {
		return n, err
	}
	if end := offset + int64(n); end > f.knownSize {
		f.knownSize = end
	}
	return n, nil
}

// Shrink truncates the file to length, failing if length exceeds the
// known size.
func (f *EmulatedFile) Shrink(length int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if length > f.knownSize {
		return fmt.Errorf("ifc: Shrink(%s): length %d exceeds known size %d", f.filename, length, f.knownSize)
	}
	if err := f.handle.Truncate(length); err != nil {
		return err
	}
	f.knownSize = length
	return nil
}

// KnownSize returns the largest offset+length written so far, or the
// length of a later Shrink.
func (f *EmulatedFile) KnownSize() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.knownSize
}

// Fdatasync flushes data only.
func (f *EmulatedFile) Fdatasync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if errno := kernel.Fdatasync(int(f.handle.Fd())); errno != 0 {
		return errno
	}
	return nil
}

// Fsync flushes data and metadata.
func (f *EmulatedFile) Fsync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if errno := kernel.Fsync(int(f.handle.Fd())); errno != 0 {
		return errno
	}
	return nil
}

// ValidateSyncFlags rejects anything outside the three sync range bits
// spec.md §4.1 allows.
func ValidateSyncFlags(flags uint) bool {
	return flags & ^uint(kernel.SyncFileRangeFlags) == 0
}

// SyncFileRange forwards to the host kernel unconditionally once flags
// passes ValidateSyncFlags.
func (f *EmulatedFile) SyncFileRange(offset, nbytes int64, flags uint) error {
	if !ValidateSyncFlags(flags) {
		return unix.EINVAL
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if errno := kernel.SyncFileRange(int(f.handle.Fd()), offset, nbytes, flags); errno != 0 {
		return errno
	}
	return nil
}

// ReadAllBytes reads the entire file from offset 0.
func (f *EmulatedFile) ReadAllBytes() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, f.knownSize)
	if _, err := f.handle.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// AppendAllBytes replaces the file's contents with buf in full, used by
// snapshot rewrites in C3.
func (f *EmulatedFile) AppendAllBytes(buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.handle.Truncate(0); err != nil {
		return err
	}
	n, err := f.handle.WriteAt(buf, 0)
	if err != nil {
		return err
	}
	f.knownSize = int64(n)
	return nil
}

// ZerofillAt writes count zero bytes starting at offset.
func (f *EmulatedFile) ZerofillAt(offset int64, count int) (int, error) {
	zeros := make([]byte, count)
	return f.WriteAt(zeros, offset)
}

// RawDescriptor exposes the host fd for use by C6's readiness checks on
// regular files (always-ready, per spec.md §4.6.1).
func (f *EmulatedFile) RawDescriptor() int {
	return int(f.handle.Fd())
}
