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
	"sync"
	"time"

	"golang.org/x/sys/unix"

	safeposix "github.com/yzhang71/safeposix-go"
	"github.com/yzhang71/safeposix-go/internal/fdtable"
)

// EpollEvent is a registration entry: the requested event mask (POLLIN/
// POLLOUT bits, optionally EPOLLET) and the fd it was registered for.
type EpollEvent struct {
	Events uint32
	FD     fdtable.FD
}

type epollReg struct {
	event     EpollEvent
	lastReady bool // edge-triggered bookkeeping: was this fd ready last epoll_wait
}

// EpollFile is the object behind an epoll fd (spec.md §4.6.3):
// {registered: map<fd, EpollEvent>}.
type EpollFile struct {
	mu         sync.Mutex
	registered map[fdtable.FD]*epollReg
}

// EpollCreate implements spec.md §4.6.3's epoll_create(size>0).
func EpollCreate(size int) (*EpollFile, *safeposix.PosixError) {
	if size <= 0 {
		return nil, safeposix.NewError("epoll_create", safeposix.ErrInval)
	}
	return &EpollFile{registered: make(map[fdtable.FD]*epollReg)}, nil
}

const (
	opAdd = unix.EPOLL_CTL_ADD
	opMod = unix.EPOLL_CTL_MOD
	opDel = unix.EPOLL_CTL_DEL

	// EpollET mirrors EPOLLET: report readiness only on the
	// not-ready-to-ready transition (spec.md §3 supplement).
	EpollET = uint32(unix.EPOLLET)
)

// EpollCtl implements spec.md §4.6.3's epoll_ctl. targetIsEpoll lets the
// caller (which owns the cage fd table) tell EpollCtl that fd itself
// names an epoll file, since this package doesn't hold the fd table.
func (ef *EpollFile) EpollCtl(op int, fd fdtable.FD, event EpollEvent, targetIsEpoll bool) *safeposix.PosixError {
	if targetIsEpoll {
		return safeposix.NewError("epoll_ctl", safeposix.ErrInval)
	}
	ef.mu.Lock()
	defer ef.mu.Unlock()

	switch op {
	case opAdd:
		if _, ok := ef.registered[fd]; ok {
			return safeposix.NewError("epoll_ctl", safeposix.ErrExist)
		}
		ef.registered[fd] = &epollReg{event: event}
		return nil
	case opMod:
		r, ok := ef.registered[fd]
		if !ok {
			return safeposix.NewError("epoll_ctl", safeposix.ErrNoEnt)
		}
		r.event = event
		return nil
	case opDel:
		delete(ef.registered, fd)
		return nil
	default:
		return safeposix.NewError("epoll_ctl", safeposix.ErrInval)
	}
}

// EpollWait implements spec.md §4.6.3: snapshot the registration map,
// prune fds the cage no longer has open, translate to poll structs,
// delegate to Poll, then translate revents back to EPOLLIN/EPOLLOUT/
// EPOLLERR — applying edge-triggered suppression for entries registered
// with EpollET.
func (m *Mux) EpollWait(ef *EpollFile, maxEvents int, timeout *time.Duration) ([]EpollEvent, *safeposix.PosixError) {
	ef.mu.Lock()
	fds := make([]PollFD, 0, len(ef.registered))
	order := make([]fdtable.FD, 0, len(ef.registered))
	for fd, r := range ef.registered {
		if m.Cage.Get(fd) == nil {
			delete(ef.registered, fd)
			continue
		}
		var events int16
		if r.event.Events&uint32(pollIn) != 0 {
			events |= pollIn
		}
		if r.event.Events&uint32(pollOut) != 0 {
			events |= pollOut
		}
		fds = append(fds, PollFD{FD: fd, Events: events})
		order = append(order, fd)
	}
	ef.mu.Unlock()

	if len(fds) == 0 {
		return nil, nil
	}

	if _, err := m.Poll(fds, timeout); err != nil {
		return nil, err
	}

	ef.mu.Lock()
	defer ef.mu.Unlock()

	var out []EpollEvent
	for i, fd := range order {
		r, ok := ef.registered[fd]
		if !ok {
			continue
		}
		isReady := fds[i].Revents != 0
		edgeTriggered := r.event.Events&EpollET != 0

		report := isReady
		if edgeTriggered {
			report = isReady && !r.lastReady
		}
		r.lastReady = isReady

		if !report {
			continue
		}

		var outEvents uint32
		if fds[i].Revents&pollIn != 0 {
			outEvents |= unix.EPOLLIN
		}
		if fds[i].Revents&pollOut != 0 {
			outEvents |= unix.EPOLLOUT
		}
		if fds[i].Revents&pollErr != 0 {
			outEvents |= unix.EPOLLERR
		}
		out = append(out, EpollEvent{Events: outEvents, FD: fd})
		if len(out) >= maxEvents {
			break
		}
	}
	return out, nil
}
