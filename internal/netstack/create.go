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

package netstack

import (
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	safeposix "github.com/yzhang71/safeposix-go"
	"github.com/yzhang71/safeposix-go/internal/kernel"
	"github.com/yzhang71/safeposix-go/internal/unixpipe"
)

// Socket implements spec.md §4.5.1. It masks SOCK_NONBLOCK/SOCK_CLOEXEC
// into the returned Desc's flags, validates the (domain, type, protocol)
// triple, and deliberately does not create a kernel socket yet — that
// happens lazily on first bind/connect/listen (forceInnerSocket) so
// socket options set between socket() and bind() are still honored
// kernel-side.
func (s *Stack) Socket(domain, typ, protocol int) (*Desc, *safeposix.PosixError) {
	flags := 0
	rawType := typ &^ (unix.SOCK_NONBLOCK | unix.SOCK_CLOEXEC)
	if typ&unix.SOCK_NONBLOCK != 0 {
		flags |= unix.O_NONBLOCK
	}
	if typ&unix.SOCK_CLOEXEC != 0 {
		flags |= unix.O_CLOEXEC
	}

	if domain != unix.AF_UNIX && domain != unix.AF_INET && domain != unix.AF_INET6 {
		return nil, safeposix.NewError("socket", safeposix.ErrOpNotSupp)
	}
	switch rawType {
	case unix.SOCK_STREAM:
		if protocol != 0 && protocol != unix.IPPROTO_TCP {
			return nil, safeposix.NewError("socket", safeposix.ErrOpNotSupp)
		}
		protocol = unix.IPPROTO_TCP
	case unix.SOCK_DGRAM:
		if protocol != 0 && protocol != unix.IPPROTO_UDP {
			return nil, safeposix.NewError("socket", safeposix.ErrOpNotSupp)
		}
		protocol = unix.IPPROTO_UDP
	default:
		return nil, safeposix.NewError("socket", safeposix.ErrOpNotSupp)
	}

	h := newHandle(domain, rawType, protocol)
	return &Desc{Flags: flags, Domain: domain, RawKernelFD: -1, Handle: h}, nil
}

// forceInnerSocket lazily creates the kernel socket backing h, the first
// time bind/connect/listen needs one (spec.md §4.5.1). No-op for
// AF_UNIX, which never has a kernel socket.
func (s *Stack) forceInnerSocket(d *Desc) *safeposix.PosixError {
	h := d.Handle
	if h.Domain == unix.AF_UNIX {
		return nil
	}
	if h.kernelFD >= 0 {
		return nil
	}
	fd, errno := kernel.Socket(h.Domain, h.SockType, 0)
	if errno != 0 {
		return safeposix.NewError("socket", errno)
	}
	if d.nonblock() {
		if errno := kernel.SetNonblock(fd, true); errno != 0 {
			kernel.Close(fd)
			return safeposix.NewError("socket", errno)
		}
	}
	h.kernelFD = fd
	d.RawKernelFD = fd
	return nil
}

// synthPath generates a synthetic Unix-domain path used for implicit
// binds (a connecting or sending socket that never called bind itself,
// spec.md §4.5.3 step 1 and §9's "implicit bind").
func synthPath() string {
	return fmt.Sprintf("/tmp/.socket-%s", uuid.New())
}

// Socketpair implements spec.md §4.5.12: only AF_UNIX × SOCK_STREAM ×
// IPPROTO_TCP is accepted (matching the Linux socketpair(2) restriction
// this layer emulates). Two handles are created, each implicit-bound to
// its own synthetic path, cross-wired through one pipe pair, and both
// left CONNECTED.
func (s *Stack) Socketpair(domain, typ, protocol int) (*Desc, *Desc, *safeposix.PosixError) {
	if domain != unix.AF_UNIX {
		return nil, nil, safeposix.NewError("socketpair", safeposix.ErrOpNotSupp)
	}
	rawType := typ &^ (unix.SOCK_NONBLOCK | unix.SOCK_CLOEXEC)
	if rawType != unix.SOCK_STREAM {
		return nil, nil, safeposix.NewError("socketpair", safeposix.ErrOpNotSupp)
	}

	d0, err := s.Socket(domain, typ, protocol)
	if err != nil {
		return nil, nil, err
	}
	d1, err := s.Socket(domain, typ, protocol)
	if err != nil {
		return nil, nil, err
	}

	path0, err := s.bindUnixSynthetic(d0)
	if err != nil {
		return nil, nil, err
	}
	path1, err := s.bindUnixSynthetic(d1)
	if err != nil {
		return nil, nil, err
	}

	p0to1 := unixpipe.New()
	p1to0 := unixpipe.New()

	d0.Handle.unix.SendPipe = p0to1
	d0.Handle.unix.ReceivePipe = p1to0
	d1.Handle.unix.SendPipe = p1to0
	d1.Handle.unix.ReceivePipe = p0to1

	d0.Handle.remoteAddr = &unix.SockaddrUnix{Name: path1}
	d1.Handle.remoteAddr = &unix.SockaddrUnix{Name: path0}
	d0.Handle.state = Connected
	d1.Handle.state = Connected

	if n := s.Store.Get(d0.Handle.unix.Inode); n != nil {
		n.Lock()
		n.RefCount++
		n.Unlock()
	}
	if n := s.Store.Get(d1.Handle.unix.Inode); n != nil {
		n.Lock()
		n.RefCount++
		n.Unlock()
	}

	return d0, d1, nil
}
