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
	"github.com/yzhang71/safeposix-go/internal/metadata"
	"github.com/yzhang71/safeposix-go/internal/portalloc"
	"github.com/yzhang71/safeposix-go/internal/unixpipe"
)

// ConnectUnix implements spec.md §4.5.3, the Unix-domain rendezvous: if
// unbound, implicit-bind to a synthetic path; look up the remote path in
// the registry's domsock_paths; create a fresh pipe pair; publish the
// handoff record under the remote path; transition to CONNECTED; if
// blocking, wait for accept to signal it.
func (s *Stack) ConnectUnix(d *Desc, cg *cage.Cage, cwd, remotePath string) *safeposix.PosixError {
	h := d.Handle

	h.RLock()
	state := h.state
	bound := h.bound
	h.RUnlock()
	if state == Listen || state == Connected {
		return safeposix.NewError("connect", safeposix.ErrIsConn)
	}

	if !bound {
		if _, err := s.bindUnixSynthetic(d); err != nil {
			return err
		}
	}

	remote := metadata.Normpath(remotePath, cwd)
	if !s.Registry.DomsockPathBound(remote) {
		return safeposix.NewError("connect", safeposix.ErrNoEnt)
	}

	toListener := unixpipe.New()
	toConnector := unixpipe.New()

	h.Lock()
	h.unix.SendPipe = toListener
	h.unix.ReceivePipe = toConnector
	local := h.localPath
	nonblocking := d.nonblock()
	h.state = Connected
	h.remoteAddr = &unix.SockaddrUnix{Name: remote}
	h.Unlock()

	var entry *portalloc.DomsockTableEntry
	if nonblocking {
		entry = portalloc.NewNonBlockingEntry(local, toListener, toConnector)
	} else {
		entry = portalloc.NewBlockingEntry(local, toListener, toConnector)
	}
	s.Registry.PublishRendezvous(remote, entry)

	if nonblocking {
		return nil
	}

	return waitUntil(cg, "connect", func() bool {
		entry.CondMu.Lock()
		defer entry.CondMu.Unlock()
		return entry.Signaled
	})
}

// ConnectInet implements spec.md §4.5.4: reject unless NOTCONNECTED,
// lazily bind, call kernel connect; on EINPROGRESS for a non-blocking fd
// transition to INPROGRESS and surface it, else CONNECTED.
func (s *Stack) ConnectInet(d *Desc, sa unix.Sockaddr) *safeposix.PosixError {
	h := d.Handle
	h.Lock()
	defer h.Unlock()

	if h.state != NotConnected {
		return safeposix.NewError("connect", safeposix.ErrIsConn)
	}
	if !h.bound {
		if err := s.bindInetImplicitLocked(d); err != nil {
			return err
		}
	}

	errno := kernel.Connect(h.kernelFD, sa)
	if errno != 0 {
		if errno == safeposix.ErrInProgress && d.nonblock() {
			h.state = InProgress
			h.remoteAddr = sa
			return safeposix.NewError("connect", safeposix.ErrInProgress)
		}
		return safeposix.NewError("connect", errno)
	}

	h.state = Connected
	h.remoteAddr = sa
	d.RawKernelFD = h.kernelFD
	return nil
}

// ConnectUDP implements spec.md §4.5.5: record the remote address,
// implicit-binding the local side first if absent. No handshake.
func (s *Stack) ConnectUDP(d *Desc, sa unix.Sockaddr) *safeposix.PosixError {
	h := d.Handle
	h.Lock()
	defer h.Unlock()

	if !h.bound {
		if err := s.bindInetImplicitLocked(d); err != nil {
			return err
		}
	}
	h.remoteAddr = sa
	h.state = Connected
	return nil
}

// bindInetImplicitLocked implicit-binds an unbound inet handle to port 0
// on the wildcard address, as connect/sendto/listen need to before they
// can proceed (spec.md §9's "implicit bind"). Caller holds h.mu.
func (s *Stack) bindInetImplicitLocked(d *Desc) *safeposix.PosixError {
	h := d.Handle
	if err := s.forceInnerSocketLocked(d); err != nil {
		return err
	}
	var sa unix.Sockaddr
	if h.Domain == unix.AF_INET6 {
		sa = &unix.SockaddrInet6{}
	} else {
		sa = &unix.SockaddrInet4{}
	}
	addr, _ := splitSockaddr(sa)
	port, perr := s.Registry.ReserveLocalPort(addr, 0, h.Protocol, h.Domain, false)
	if perr != nil {
		return perr
	}
	sa = withPort(sa, port)
	if errno := kernelBind(h.kernelFD, sa); errno != 0 {
		s.Registry.ReleaseLocalPort(addr, port, h.Protocol, h.Domain)
		return safeposix.NewError("bind", errno)
	}
	h.localAddr = sa
	h.boundPort = port
	h.bound = true
	return nil
}
