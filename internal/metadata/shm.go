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

package metadata

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jacobsa/syncutil"
	"golang.org/x/sys/unix"

	"github.com/yzhang71/safeposix-go/internal/journal"
)

// ShmSegment is a System V shared-memory segment (spec.md §6 names the
// on-disk artifact "shm-<key>" but never gives it an operation; this type
// supplies Create/Attach/Detach/Remove following
// _examples/original_source/src/interface/file.rs's shared-memory handle
// pattern: a backing file is created, mmap'd, then unlinked immediately so
// the mapping, not the directory entry, is what keeps it alive).
type ShmSegment struct {
	mu      syncutil.InvariantMutex
	key     string
	size    int
	mapped  []byte
	attachN int32
	marked  bool // Remove was called; delete once attachN reaches 0
}

// checkInvariants is seg.mu's invariant function: the attach count never
// goes negative, and a segment can't be both torn down (mapped == nil)
// and still claim attachers.
func (seg *ShmSegment) checkInvariants() {
	if seg.attachN < 0 {
		panic(fmt.Sprintf("metadata: shm segment %q has negative attach count %d", seg.key, seg.attachN))
	}
	if seg.mapped == nil && !seg.marked {
		panic(fmt.Sprintf("metadata: shm segment %q unmapped without being marked for removal", seg.key))
	}
}

// ShmCreate returns the segment for key, creating and mapping it at size
// bytes if this is the first reference. A second Create with a different
// size for an already-live key is rejected, matching shmget's EINVAL on a
// size mismatch against an existing segment.
func (s *Store) ShmCreate(key string, size int) (*ShmSegment, error) {
	s.shmMu.Lock()
	defer s.shmMu.Unlock()

	if s.shmSegments == nil {
		s.shmSegments = make(map[string]*ShmSegment)
	}
	if seg, ok := s.shmSegments[key]; ok {
		if seg.size != size {
			return nil, fmt.Errorf("metadata: shm key %q already exists with size %d, requested %d", key, seg.size, size)
		}
		return seg, nil
	}

	path := filepath.Join(s.workingDir, "shm-"+key)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, err
	}
	mapped, err := journal.MapShared(int(f.Fd()), size)
	if err != nil {
		f.Close()
		return nil, err
	}
	// The file descriptor's mapping keeps the pages alive; the directory
	// entry is no longer needed once every attacher addresses the segment
	// by key through the in-memory registry, not by reopening the path.
	if err := unix.Unlink(path); err != nil {
		// Non-fatal: the mapping is already established.
	}
	f.Close()

	seg := &ShmSegment{key: key, size: size, mapped: mapped}
	seg.mu = syncutil.NewInvariantMutex(seg.checkInvariants)
	s.shmSegments[key] = seg
	return seg, nil
}

// Attach returns the segment's mapped bytes and bumps its attach count.
func (seg *ShmSegment) Attach() []byte {
	seg.mu.Lock()
	defer seg.mu.Unlock()
	seg.attachN++
	return seg.mapped
}

// Detach drops one attach reference. If Remove has already been called and
// this was the last attacher, the mapping is torn down and true is
// returned.
func (seg *ShmSegment) Detach() (removed bool, err error) {
	seg.mu.Lock()
	defer seg.mu.Unlock()
	if seg.attachN > 0 {
		seg.attachN--
	}
	if seg.marked && seg.attachN == 0 {
		err = unix.Munmap(seg.mapped)
		seg.mapped = nil
		return true, err
	}
	return false, nil
}

// Remove marks key for deletion: once every attacher has detached, the
// segment's mapping is torn down and it is evicted from the store's
// registry. If nobody currently holds it, it is torn down immediately.
func (s *Store) ShmRemove(key string) error {
	s.shmMu.Lock()
	seg, ok := s.shmSegments[key]
	if !ok {
		s.shmMu.Unlock()
		return fmt.Errorf("metadata: shm key %q not found", key)
	}
	delete(s.shmSegments, key)
	s.shmMu.Unlock()

	seg.mu.Lock()
	defer seg.mu.Unlock()
	seg.marked = true
	if seg.attachN == 0 && seg.mapped != nil {
		err := unix.Munmap(seg.mapped)
		seg.mapped = nil
		return err
	}
	return nil
}
