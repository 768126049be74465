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
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"

	safeposix "github.com/yzhang71/safeposix-go"
	"github.com/yzhang71/safeposix-go/internal/fdtable"
)

// PollFD is one entry of a poll() call: the requested events and, after
// Poll returns, the observed ones.
type PollFD struct {
	FD      fdtable.FD
	Events  int16 // POLLIN, POLLOUT
	Revents int16
}

const (
	pollIn  = unix.POLLIN
	pollOut = unix.POLLOUT
	pollErr = unix.POLLERR
)

// maxConcurrentPollWaits bounds how many singleton-fd-set Select calls a
// single Poll pass may have in flight at once, the way internal/block's
// semaphore.NewWeighted bounds concurrent block allocations.
const maxConcurrentPollWaits = 32

var pollWaitSem = semaphore.NewWeighted(maxConcurrentPollWaits)

// Poll implements spec.md §4.6.2: built directly on Select, one
// singleton-fd-set call per registered pollfd, looping with the caller's
// timeout under the same signal/cancel rules Select itself applies. The
// per-fd Select calls within a single pass are independent, so they run
// concurrently through an errgroup, bounded by pollWaitSem the same way
// the teacher bounds concurrent block fetches.
func (m *Mux) Poll(fds []PollFD, timeout *time.Duration) (int, *safeposix.PosixError) {
	deadline := time.Time{}
	hasDeadline := false
	if timeout != nil {
		deadline = time.Now().Add(*timeout)
		hasDeadline = true
	}

	for {
		for i := range fds {
			fds[i].Revents = 0
		}

		if err := m.pollPass(fds); err != nil {
			return 0, err
		}

		ready := 0
		for i := range fds {
			if fds[i].Revents != 0 {
				ready++
			}
		}
		if ready > 0 {
			return ready, nil
		}
		if m.Cage.Signaled() {
			return 0, safeposix.NewError("poll", safeposix.ErrIntr)
		}
		if hasDeadline && !time.Now().Before(deadline) {
			return 0, nil
		}
		for m.Cage.Canceled() {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(time.Millisecond)
	}
}

// pollPass runs one non-blocking readiness check per entry in fds,
// concurrently, and fills in each entry's Revents.
func (m *Mux) pollPass(fds []PollFD) *safeposix.PosixError {
	eg, ctx := errgroup.WithContext(context.Background())
	for i := range fds {
		i := i
		if err := pollWaitSem.Acquire(ctx, 1); err != nil {
			break
		}
		eg.Go(func() error {
			defer pollWaitSem.Release(1)

			var rset, wset FDSet
			if fds[i].Events&pollIn != 0 {
				rset.Set(fds[i].FD)
			}
			if fds[i].Events&pollOut != 0 {
				wset.Set(fds[i].FD)
			}
			zero := time.Duration(0)
			n, err := m.Select(int(fds[i].FD)+1, &rset, &wset, nil, &zero)
			if err != nil {
				return err
			}
			if n == 0 {
				return nil
			}
			if rset.IsSet(fds[i].FD) {
				fds[i].Revents |= pollIn
			}
			if wset.IsSet(fds[i].FD) {
				fds[i].Revents |= pollOut
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		if pe, ok := err.(*safeposix.PosixError); ok {
			return pe
		}
		return safeposix.NewError("poll", safeposix.ErrInval)
	}
	return nil
}
