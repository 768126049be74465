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
	"github.com/yzhang71/safeposix-go/internal/kernel"
	"github.com/yzhang71/safeposix-go/internal/portalloc"
)

// AcceptUnix implements spec.md §4.5.7's Unix-domain branch: loop looking
// up the DomsockTableEntry published under the listener's own bound
// path; when present, signal its connector, take the (already swapped)
// pipes and remote address, build a CONNECTED handle for the new fd, and
// bump the refcount of the inode the connecting path resolved to.
func (s *Stack) AcceptUnix(d *Desc, cg *cage.Cage) (*Desc, *safeposix.PosixError) {
	h := d.Handle
	h.RLock()
	if h.state != Listen {
		h.RUnlock()
		return nil, safeposix.NewError("accept", safeposix.ErrInval)
	}
	localPath := h.localPath
	nonblocking := d.nonblock()
	h.RUnlock()

	takeOne := func() (*portalloc.DomsockTableEntry, bool) {
		return s.Registry.TakeRendezvous(localPath)
	}

	var entry *portalloc.DomsockTableEntry
	var ok bool
	if nonblocking {
		entry, ok = takeOne()
		if !ok {
			return nil, safeposix.NewError("accept", safeposix.ErrAgain)
		}
	} else {
		if err := waitUntil(cg, "accept", func() bool {
			entry, ok = takeOne()
			return ok
		}); err != nil {
			return nil, err
		}
	}

	entry.Signal()

	newHandleObj := newHandle(unix.AF_UNIX, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	newHandleObj.state = Connected
	newHandleObj.localPath = localPath
	newHandleObj.localAddr = &unix.SockaddrUnix{Name: localPath}
	newHandleObj.remoteAddr = &unix.SockaddrUnix{Name: entry.ListenerLocalAddr}
	newHandleObj.bound = true
	newHandleObj.unix = &UnixInfo{
		Mode:        unix.S_IFSOCK | 0777,
		SendPipe:    entry.SendPipe,
		ReceivePipe: entry.ReceivePipe,
	}

	if wr := s.Store.Metawalk(entry.ListenerLocalAddr); wr.Found {
		wr.InodeObj.Lock()
		wr.InodeObj.RefCount++
		wr.InodeObj.Unlock()
		newHandleObj.unix.Inode = wr.Inode
	}

	return &Desc{Flags: 0, Domain: unix.AF_UNIX, RawKernelFD: -1, Handle: newHandleObj}, nil
}

// AcceptInet implements spec.md §4.5.7's inet branch: consult the
// registry's pending-connection queue first (populated by C6 observing
// the listener readable under a different syscall); otherwise perform
// the kernel accept directly, wrapping a blocking accept with a bounded
// receive timeout so the cage's cancel flag stays reachable.
func (s *Stack) AcceptInet(d *Desc, cg *cage.Cage) (*Desc, *safeposix.PosixError) {
	h := d.Handle
	h.RLock()
	if h.state != Listen {
		h.RUnlock()
		return nil, safeposix.NewError("accept", safeposix.ErrInval)
	}
	key := h.listenKey
	listenerFD := h.kernelFD
	domain, protocol := h.Domain, h.Protocol
	nonblocking := d.nonblock()
	h.RUnlock()

	if pc, ok := s.Registry.PopPending(key); ok {
		return s.installAcceptedInet(pc.KernelFD, domain, protocol)
	}

	if errno := kernel.SetRecvTimeout(listenerFD, s.RecvTimeout); errno != 0 {
		return nil, safeposix.NewError("accept", errno)
	}

	for {
		newfd, _, errno := kernel.Accept4(listenerFD, nonblocking)
		if errno == 0 {
			return s.installAcceptedInet(newfd, domain, protocol)
		}
		if errno == safeposix.ErrAgain {
			if nonblocking {
				return nil, safeposix.NewError("accept", safeposix.ErrAgain)
			}
			if cg.Signaled() {
				return nil, safeposix.NewError("accept", safeposix.ErrIntr)
			}
			for cg.Canceled() {
				// cancel-point: park here until uncancelled (spec.md §5).
			}
			continue
		}
		return nil, safeposix.NewError("accept", errno)
	}
}

func (s *Stack) installAcceptedInet(newfd, domain, protocol int) (*Desc, *safeposix.PosixError) {
	sa, errno := kernel.GetpeerName(newfd)
	if errno != 0 {
		kernel.Close(newfd)
		return nil, safeposix.NewError("accept", errno)
	}

	laddr, errno := kernel.GetsockName(newfd)
	if errno != 0 {
		kernel.Close(newfd)
		return nil, safeposix.NewError("accept", errno)
	}
	addr, _ := splitSockaddr(laddr)
	port, perr := s.Registry.ReserveLocalPort(addr, sockaddrPort(laddr), protocol, domain, false)
	if perr != nil {
		kernel.Close(newfd)
		return nil, perr
	}

	h := newHandle(domain, unix.SOCK_STREAM, protocol)
	h.state = Connected
	h.kernelFD = newfd
	h.localAddr = laddr
	h.remoteAddr = sa
	h.bound = true
	h.boundPort = port

	return &Desc{Flags: 0, Domain: domain, RawKernelFD: newfd, Handle: h}, nil
}
