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

package multiplex

import (
	"time"

	"golang.org/x/sys/unix"

	safeposix "github.com/yzhang71/safeposix-go"
	"github.com/yzhang71/safeposix-go/internal/cage"
	"github.com/yzhang71/safeposix-go/internal/fdtable"
	"github.com/yzhang71/safeposix-go/internal/kernel"
	"github.com/yzhang71/safeposix-go/internal/netstack"
	"github.com/yzhang71/safeposix-go/internal/unixpipe"
)

// Mux bundles the collaborators select/poll/epoll need: the cage whose
// fd table is being inspected and the netstack/registry C6 consults for
// socket readiness (spec.md §2: "C6 inspects C5 and kernel fds").
type Mux struct {
	Cage  *cage.Cage
	Stack *netstack.Stack
}

// Select implements spec.md §4.6.1. readSet/writeSet/exceptSet are
// mutated in place down to their ready subset, matching fd_set's
// in-place semantics; any of the three may be nil. timeout nil means
// block indefinitely; *timeout == 0 means poll once and return.
func (m *Mux) Select(nfds int, readSet, writeSet, exceptSet *FDSet, timeout *time.Duration) (int, *safeposix.PosixError) {
	if nfds < int(fdtable.StartingFD) || nfds >= fdtable.FDSetMaxFD {
		return 0, safeposix.NewError("select", safeposix.ErrInval)
	}

	deadline := time.Time{}
	hasDeadline := false
	if timeout != nil {
		deadline = time.Now().Add(*timeout)
		hasDeadline = true
	}

	for {
		readyR, readyW, readyE, n, err := m.pollOnce(nfds, readSet, writeSet, exceptSet)
		if err != nil {
			return 0, err
		}
		if n > 0 {
			if readSet != nil {
				*readSet = *readyR
			}
			if writeSet != nil {
				*writeSet = *readyW
			}
			if exceptSet != nil {
				*exceptSet = *readyE
			}
			return n, nil
		}
		if m.Cage.Signaled() {
			return 0, safeposix.NewError("select", safeposix.ErrIntr)
		}
		if hasDeadline && !time.Now().Before(deadline) {
			if readSet != nil {
				readSet.Zero()
			}
			if writeSet != nil {
				writeSet.Zero()
			}
			if exceptSet != nil {
				exceptSet.Zero()
			}
			return 0, nil
		}
		for m.Cage.Canceled() {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(time.Millisecond)
	}
}

// pollOnce performs exactly one non-blocking readiness pass over the
// requested sets, returning the ready subsets and their combined count.
func (m *Mux) pollOnce(nfds int, readSet, writeSet, exceptSet *FDSet) (*FDSet, *FDSet, *FDSet, int, *safeposix.PosixError) {
	outR, outW, outE := NewFDSet(), NewFDSet(), NewFDSet()
	count := 0

	var inetReadFDs, inetWriteFDs []int
	inetByFD := map[int]fdtable.FD{}
	inetWriteDescs := map[int]*netstack.Desc{}

	classify := func(fd fdtable.FD) (*cage.Entry, bool) {
		e := m.Cage.Get(fd)
		return e, e != nil
	}

	if readSet != nil {
		for _, fd := range readSet.Members(nfds) {
			e, ok := classify(fd)
			if !ok {
				continue
			}
			switch e.Kind {
			case fdtable.KindSocket:
				d := e.Value.(*netstack.Desc)
				if d.IsUnix() {
					if d.ReadableUnix(m.Stack.Registry) {
						outR.Set(fd)
						count++
					}
					continue
				}
				kfd := d.KernelFD()
				if kfd >= 0 {
					inetReadFDs = append(inetReadFDs, kfd)
					inetByFD[kfd] = fd
				}
			case fdtable.KindPipe:
				if p, ok := e.Value.(*unixpipe.Pipe); ok && p.Readable() {
					outR.Set(fd)
					count++
				}
			case fdtable.KindRegularFile:
				outR.Set(fd)
				count++
			case fdtable.KindStream:
				// never ready
			}
		}
	}

	if writeSet != nil {
		for _, fd := range writeSet.Members(nfds) {
			e, ok := classify(fd)
			if !ok {
				continue
			}
			switch e.Kind {
			case fdtable.KindSocket:
				d := e.Value.(*netstack.Desc)
				if d.IsUnix() {
					if d.WritableUnix() {
						outW.Set(fd)
						count++
					}
					continue
				}
				if d.StateIsInProgress() {
					kfd := d.KernelFD()
					if kfd >= 0 {
						inetWriteFDs = append(inetWriteFDs, kfd)
						inetByFD[kfd] = fd
						inetWriteDescs[kfd] = d
					}
					continue
				}
				outW.Set(fd)
				count++
			case fdtable.KindPipe:
				outW.Set(fd)
				count++
			case fdtable.KindRegularFile:
				outW.Set(fd)
				count++
			}
		}
	}

	if exceptSet != nil {
		for _, fd := range exceptSet.Members(nfds) {
			if _, ok := classify(fd); ok {
				// spec.md §4.6.1/§9: exceptfds validates existence only.
				continue
			}
			return nil, nil, nil, 0, safeposix.NewError("select", safeposix.ErrBadF)
		}
	}

	if len(inetReadFDs) > 0 || len(inetWriteFDs) > 0 {
		n, err := kernelSelectBatch(inetReadFDs, inetWriteFDs, inetByFD, outR, outW)
		if err != nil {
			return nil, nil, nil, 0, err
		}
		count += n

		// spec.md §4.6.1 step 2: a write-ready in-progress inet socket's
		// connect has completed.
		for kfd, d := range inetWriteDescs {
			if outW.IsSet(inetByFD[kfd]) {
				d.MarkConnected()
			}
		}
	}

	return outR, outW, outE, count, nil
}

// kernelSelectBatch performs a single host select() over the collected
// inet raw fds and translates results back to cage fd numbers.
func kernelSelectBatch(readFDs, writeFDs []int, byFD map[int]fdtable.FD, outR, outW *FDSet) (int, *safeposix.PosixError) {
	var rset, wset unix.FdSet
	maxFD := 0
	for _, fd := range readFDs {
		setKernelBit(&rset, fd)
		if fd > maxFD {
			maxFD = fd
		}
	}
	for _, fd := range writeFDs {
		setKernelBit(&wset, fd)
		if fd > maxFD {
			maxFD = fd
		}
	}
	zero := unix.Timeval{}
	n, errno := kernel.Select(maxFD+1, &rset, &wset, nil, &zero)
	if errno != 0 {
		return 0, safeposix.NewError("select", errno)
	}
	if n == 0 {
		return 0, nil
	}
	count := 0
	for _, fd := range readFDs {
		if kernelBitSet(&rset, fd) {
			outR.Set(byFD[fd])
			count++
		}
	}
	for _, fd := range writeFDs {
		if kernelBitSet(&wset, fd) {
			outW.Set(byFD[fd])
			count++
		}
	}
	return count, nil
}

func setKernelBit(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= int64(1) << uint(fd%64)
}

func kernelBitSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(int64(1)<<uint(fd%64)) != 0
}
