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
	"golang.org/x/sys/unix"

	safeposix "github.com/yzhang71/safeposix-go"
	"github.com/yzhang71/safeposix-go/internal/cage"
)

// Bind dispatches to BindUnix or BindInet based on sa's concrete type.
// The argument-union unpacking this saves the caller from doing is the
// dispatcher's job in the full system (spec.md §9); this is the one
// convenience seam this package offers a caller that already has a
// decoded unix.Sockaddr rather than a raw argument union.
func (s *Stack) Bind(d *Desc, cwd string, sa unix.Sockaddr) *safeposix.PosixError {
	switch v := sa.(type) {
	case *unix.SockaddrUnix:
		return s.BindUnix(d, cwd, v.Name)
	case *unix.SockaddrInet4, *unix.SockaddrInet6:
		return s.BindInet(d, sa)
	default:
		return safeposix.NewError("bind", safeposix.ErrInval)
	}
}

// Connect dispatches to ConnectUnix/ConnectInet/ConnectUDP based on the
// handle's domain/protocol and sa's type.
func (s *Stack) Connect(d *Desc, cg *cage.Cage, cwd string, sa unix.Sockaddr) *safeposix.PosixError {
	if v, ok := sa.(*unix.SockaddrUnix); ok {
		return s.ConnectUnix(d, cg, cwd, v.Name)
	}
	if d.Handle.Protocol == unix.IPPROTO_UDP {
		return s.ConnectUDP(d, sa)
	}
	return s.ConnectInet(d, sa)
}

// Accept dispatches to AcceptUnix/AcceptInet based on the handle's
// domain.
func (s *Stack) Accept(d *Desc, cg *cage.Cage) (*Desc, *safeposix.PosixError) {
	if d.Handle.Domain == unix.AF_UNIX {
		return s.AcceptUnix(d, cg)
	}
	return s.AcceptInet(d, cg)
}

// Dup returns a new Desc sharing d's handle (dup(2)/accept-fd-sharing
// idiom), bumping the handle's refcount.
func (s *Stack) Dup(d *Desc) *Desc {
	d.Handle.incRef()
	return &Desc{Flags: d.Flags, Domain: d.Domain, RawKernelFD: d.RawKernelFD, Handle: d.Handle}
}
