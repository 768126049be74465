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

// Package journal implements C2, the memory-mapped append log: a fixed
// 8-byte big-endian count header followed by a growable data region,
// mapped shared over a backing file. Grounded on
// _examples/original_source/src/interface/file.rs's EmulatedFileMap
// (mmap/mremap over a single growable region) translated to
// golang.org/x/sys/unix's Mmap/Mremap.
package journal

import (
	"encoding/binary"
	"os"
	"sync"
	"time"

	"github.com/yzhang71/safeposix-go/internal/kernel"
	"github.com/yzhang71/safeposix-go/internal/metrics"
)

const (
	// CountHeaderSize is the size in bytes of the big-endian valid-byte
	// count that prefixes the mapped region.
	CountHeaderSize = 8
	// RegionGrowth is the fixed increment (1 MiB) the data region grows by
	// whenever the next append would overflow it.
	RegionGrowth = 1 << 20
)

// AppendLog is a 1 MiB (or larger, after growth) shared mapping over a
// backing file, split into the count header and a data region. The design
// assumes a single writer (spec.md §4.2); readers must reopen the backing
// file separately.
type AppendLog struct {
	mu       sync.Mutex
	f        *os.File
	mapped   []byte // whole mapping: header + data
	dataSize int     // capacity of the data region (len(mapped) - CountHeaderSize)
	count    int     // valid bytes within the data region
}

// New creates or reopens filename as a fresh 1 MiB append log with a zero
// count.
func New(filename string) (*AppendLog, error) {
	f, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, err
	}
	total := RegionGrowth
	if err := f.Truncate(int64(total)); err != nil {
		f.Close()
		return nil, err
	}
	mapped, err := kernel.Mmap(int(f.Fd()), 0, total)
	if err != nil {
		f.Close()
		return nil, err
	}
	l := &AppendLog{f: f, mapped: mapped, dataSize: RegionGrowth - CountHeaderSize, count: 0}
	l.writeCountLocked()
	return l, nil
}

func (l *AppendLog) header() []byte { return l.mapped[:CountHeaderSize] }
func (l *AppendLog) data() []byte   { return l.mapped[CountHeaderSize:] }

func (l *AppendLog) writeCountLocked() {
	binary.BigEndian.PutUint64(l.header(), uint64(l.count))
}

// Write appends bytes to the data region, growing the mapping by
// RegionGrowth (possibly moving it via mremap) whenever the append would
// overflow the current capacity, then updates the commit marker (the
// header count).
func (l *AppendLog) Write(payload []byte) error {
	start := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count+len(payload) > l.dataSize {
		if err := l.growLocked(len(payload)); err != nil {
			return err
		}
	}

	copy(l.data()[l.count:l.count+len(payload)], payload)
	l.count += len(payload)
	l.writeCountLocked()

	metrics.RecordJournalAppend(nil, float64(time.Since(start).Microseconds())/1000.0)
	return nil
}

func (l *AppendLog) growLocked(atLeast int) error {
	newDataSize := l.dataSize
	for l.count+atLeast > newDataSize {
		newDataSize += RegionGrowth
	}
	newTotal := CountHeaderSize + newDataSize
	if err := l.f.Truncate(int64(newTotal)); err != nil {
		return err
	}
	newMapped, err := kernel.Mremap(l.mapped, newTotal)
	if err != nil {
		return err
	}
	l.mapped = newMapped
	l.dataSize = newDataSize
	return nil
}

// Count returns the number of valid bytes currently in the data region.
func (l *AppendLog) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Bytes returns a copy of the valid portion of the data region.
func (l *AppendLog) Bytes() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]byte, l.count)
	copy(out, l.data()[:l.count])
	return out
}

// Close unmaps both regions and closes the backing file.
func (l *AppendLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := kernel.Munmap(l.mapped); err != nil {
		return err
	}
	return l.f.Close()
}

// ReadExisting reopens filename as a reader: it reads the count header
// first, then exactly that many bytes from the data region, as spec.md
// §4.2 requires of independent readers.
func ReadExisting(filename string) ([]byte, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header := make([]byte, CountHeaderSize)
	if _, err := f.ReadAt(header, 0); err != nil {
		return nil, err
	}
	count := binary.BigEndian.Uint64(header)

	buf := make([]byte, count)
	if count > 0 {
		if _, err := f.ReadAt(buf, CountHeaderSize); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// MapShared maps a plain (non-journal) region of size bytes over fd,
// shared, for use by shm segments (spec.md §6's shm-<key> artifacts) which
// reuse this package's growable-mmap machinery rather than duplicating it.
func MapShared(fd int, size int) ([]byte, error) {
	return kernel.Mmap(fd, 0, size)
}
