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

// Package metadata implements C3, the filesystem metadata store: the inode
// table, path resolver, and journal+snapshot persistence layer. Grounded
// on _examples/original_source/src/safeposix/filesystem.rs's Inode/
// FilesystemMetadata enum and on the teacher's fs/inode package for the Go
// idiom of a lock-carrying inode object addressed by a numeric id
// (compare github.com/jacobsa/fuse/fuseops.InodeID, generalized here to
// fdtable.InodeNumber).
package metadata

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/yzhang71/safeposix-go/internal/fdtable"
)

// Kind discriminates the tagged Inode variant (spec.md §3).
type Kind int

const (
	KindRegularFile Kind = iota
	KindCharDevice
	KindSocket
	KindDirectory
)

// DefaultUID/DefaultGID back freshly-formatted inodes; this layer does not
// enforce real permission checks (spec.md §1 Non-goals), so these are
// nominal.
const (
	DefaultUID = 0
	DefaultGID = 0
)

// Mode bits reused directly from the host's definitions, since this layer
// mimics Linux mode semantics closely enough for unmodified userspace
// (spec.md §1).
const (
	ModeDir    = unix.S_IFDIR
	ModeChar   = unix.S_IFCHR
	ModeSocket = unix.S_IFSOCK
	ModeReg    = unix.S_IFREG
	PermRWXAll = 0777
	PermRW     = 0666
	PermDir    = 0755
)

// Inode is the in-memory representation of spec.md §3's tagged Inode
// variant. Every mutating method requires mu to be held by the caller
// (store.go takes it before dispatching), matching the teacher's
// "All methods below require the lock to be held" convention in
// fs/inode/inode.go.
type Inode struct {
	mu sync.RWMutex

	Kind Kind

	Size      int64
	UID, GID  uint32
	Mode      uint32
	LinkCount uint32 // persistent
	RefCount  int32  // in-memory only; never persisted

	Atime, Ctime, Mtime time.Time

	// CharDevice
	Major, Minor uint32

	// Directory: name -> child inode number. Always contains "." (self)
	// and ".." (parent); root's ".." points to itself.
	Children map[string]fdtable.InodeNumber
}

// Lock/Unlock/RLock/RUnlock expose the inode's lock directly, following
// the teacher's Inode interface embedding sync.Locker.
func (n *Inode) Lock()    { n.mu.Lock() }
func (n *Inode) Unlock()  { n.mu.Unlock() }
func (n *Inode) RLock()   { n.mu.RLock() }
func (n *Inode) RUnlock() { n.mu.RUnlock() }

// IsDir reports whether the inode is a directory. Caller must hold at
// least a read lock.
func (n *Inode) IsDir() bool { return n.Kind == KindDirectory }

// CheckInvariants panics (a tier-2 programmer error, spec.md §7) if any of
// the per-inode invariants from spec.md §3/§8 are violated. Callers
// normally only invoke this under a debug build or in tests; it is not on
// the hot path.
func (n *Inode) CheckInvariants(self fdtable.InodeNumber) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.Kind == KindDirectory {
		dotIno, hasDot := n.Children["."]
		if !hasDot || dotIno != self {
			panic("metadata: directory missing or wrong '.' entry")
		}
		if _, hasDotDot := n.Children[".."]; !hasDotDot {
			panic("metadata: directory missing '..' entry")
		}
	}
}
