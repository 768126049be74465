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
	"github.com/yzhang71/safeposix-go/internal/kernel"
)

// shutdownTransition is spec.md §4.5.10's fixed state table.
func shutdownTransition(from State, how int) (State, bool) {
	switch from {
	case Connected:
		switch how {
		case unix.SHUT_RD:
			return ConnWROnly, true
		case unix.SHUT_WR:
			return ConnRDOnly, true
		case unix.SHUT_RDWR:
			return NotConnected, true
		}
	case ConnWROnly:
		switch how {
		case unix.SHUT_RD:
			return NotConnected, true
		case unix.SHUT_WR:
			return ConnWROnly, true
		case unix.SHUT_RDWR:
			return NotConnected, true
		}
	case ConnRDOnly:
		switch how {
		case unix.SHUT_RD:
			return ConnRDOnly, true
		case unix.SHUT_WR:
			return NotConnected, true
		case unix.SHUT_RDWR:
			return NotConnected, true
		}
	}
	return from, false
}

// Shutdown implements spec.md §4.5.10: transition per the fixed table,
// forward to the kernel for inet, and release any bound port when the
// state becomes NOTCONNECTED.
func (s *Stack) Shutdown(d *Desc, how int) *safeposix.PosixError {
	if how != unix.SHUT_RD && how != unix.SHUT_WR && how != unix.SHUT_RDWR {
		return safeposix.NewError("shutdown", safeposix.ErrInval)
	}
	h := d.Handle
	h.Lock()
	defer h.Unlock()

	next, ok := shutdownTransition(h.state, how)
	if !ok {
		return safeposix.NewError("shutdown", safeposix.ErrNotConn)
	}

	if h.Domain != unix.AF_UNIX && h.kernelFD >= 0 {
		if errno := kernel.Shutdown(h.kernelFD, how); errno != 0 {
			return safeposix.NewError("shutdown", errno)
		}
	}
	h.state = next
	if next == NotConnected {
		s.releasePortLocked(h)
	}
	return nil
}

func (s *Stack) releasePortLocked(h *Handle) {
	if h.Domain == unix.AF_UNIX || !h.bound || h.boundPort == 0 {
		return
	}
	addr, _ := splitSockaddr(h.localAddr)
	s.Registry.ReleaseLocalPort(addr, h.boundPort, h.Protocol, h.Domain)
	h.boundPort = 0
}

// Close implements the fd-close half of spec.md §4.5.10: drops this fd's
// reference to the handle, and when it was the last reference, releases
// the bound port, unregisters the listening key, drops the Unix-domain
// path registration, decrements the backing inode's refcount, and closes
// the kernel socket if one exists.
func (s *Stack) Close(d *Desc) *safeposix.PosixError {
	h := d.Handle
	if !h.decRef() {
		return nil
	}

	h.Lock()
	defer h.Unlock()

	s.releasePortLocked(h)
	if h.listening {
		s.Registry.Unlisten(h.listenKey)
	}
	if h.Domain == unix.AF_UNIX && h.unix != nil {
		if h.unix.SendPipe != nil {
			h.unix.SendPipe.Close()
		}
		if h.bound && h.localPath != "" {
			s.Registry.UnbindDomsockPath(h.localPath)
		}
		if h.unix.Inode != 0 {
			if n := s.Store.Get(h.unix.Inode); n != nil {
				n.Lock()
				n.RefCount--
				remove := n.RefCount <= 0 && n.LinkCount == 0
				n.Unlock()
				if remove {
					_ = s.Store.Delete(h.unix.Inode)
				}
			}
		}
	}
	if h.kernelFD >= 0 {
		kernel.Close(h.kernelFD)
		h.kernelFD = -1
	}
	return nil
}
