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
	"context"

	"golang.org/x/sys/unix"

	safeposix "github.com/yzhang71/safeposix-go"
	"github.com/yzhang71/safeposix-go/internal/cage"
	"github.com/yzhang71/safeposix-go/internal/kernel"
	"github.com/yzhang71/safeposix-go/internal/metrics"
)

func domainLabel(domain int) string {
	switch domain {
	case unix.AF_UNIX:
		return "unix"
	case unix.AF_INET:
		return "inet4"
	case unix.AF_INET6:
		return "inet6"
	default:
		return "unknown"
	}
}

// validateSendFlags implements spec.md §4.5.8's "only MSG_NOSIGNAL
// accepted".
func validateSendFlags(flags int) *safeposix.PosixError {
	if flags&^unix.MSG_NOSIGNAL != 0 {
		return safeposix.NewError("send", safeposix.ErrOpNotSupp)
	}
	return nil
}

// Send implements spec.md §4.5.8's plain send(): TCP requires CONNECTED
// or CONNWRONLY; UDP requires a remote recorded by a prior connect().
func (s *Stack) Send(d *Desc, buf []byte, flags int) (int, *safeposix.PosixError) {
	if err := validateSendFlags(flags); err != nil {
		return 0, err
	}
	h := d.Handle
	h.Lock()
	defer h.Unlock()

	if h.Protocol == unix.IPPROTO_UDP {
		if h.remoteAddr == nil {
			return 0, safeposix.NewError("send", safeposix.ErrNotConn)
		}
		return s.sendUDPLocked(d, buf, h.remoteAddr)
	}

	if h.state != Connected && h.state != ConnWROnly {
		return 0, safeposix.NewError("send", safeposix.ErrNotConn)
	}
	n, err := s.writeStreamLocked(d, buf)
	if err == nil {
		metrics.RecordSocketCall(context.Background(), "send", domainLabel(h.Domain))
		metrics.RecordSocketBytes(context.Background(), domainLabel(h.Domain), int64(n))
	}
	return n, err
}

// SendTo implements spec.md §4.5.8's sendto(): for TCP an explicit
// destination is a misuse (EISCONN); for UDP it implicit-binds an unbound
// handle then kernel-sends. The implicit bind uses the handle's own domain;
// the destination's family is not consulted.
func (s *Stack) SendTo(d *Desc, buf []byte, flags int, to unix.Sockaddr) (int, *safeposix.PosixError) {
	if err := validateSendFlags(flags); err != nil {
		return 0, err
	}
	h := d.Handle
	h.Lock()
	defer h.Unlock()

	if h.Protocol != unix.IPPROTO_UDP {
		return 0, safeposix.NewError("sendto", safeposix.ErrIsConn)
	}
	return s.sendUDPLocked(d, buf, to)
}

func (s *Stack) sendUDPLocked(d *Desc, buf []byte, to unix.Sockaddr) (int, *safeposix.PosixError) {
	h := d.Handle
	if !h.bound {
		if err := s.bindInetImplicitLocked(d); err != nil {
			return 0, err
		}
	}
	n, errno := kernel.Sendto(h.kernelFD, buf, 0, to)
	if errno != 0 {
		return 0, safeposix.NewError("sendto", errno)
	}
	metrics.RecordSocketCall(context.Background(), "sendto", domainLabel(h.Domain))
	metrics.RecordSocketBytes(context.Background(), domainLabel(h.Domain), int64(n))
	return n, nil
}

func (s *Stack) writeStreamLocked(d *Desc, buf []byte) (int, *safeposix.PosixError) {
	h := d.Handle
	if h.Domain == unix.AF_UNIX {
		n, closed := h.unix.SendPipe.Write(buf)
		if closed {
			return 0, safeposix.NewError("send", safeposix.ErrNotConn)
		}
		return n, nil
	}
	n, errno := kernel.Send(h.kernelFD, buf, 0)
	if errno != 0 {
		return 0, safeposix.NewError("send", errno)
	}
	return n, nil
}

// Recv implements spec.md §4.5.9: peek-buffer handling shared across
// domains, then per-domain read with the lock-bump-and-retry pattern for
// blocking waits.
func (s *Stack) Recv(d *Desc, cg *cage.Cage, buf []byte, flags int) (int, *safeposix.PosixError) {
	return s.recvCommon(d, cg, buf, flags, nil)
}

// RecvFrom implements spec.md §4.5.9's recvfrom(): it also returns the
// sender's address for UDP. An unbound UDP handle is implicit-bound to the
// handle's own domain; wantFamily is not consulted.
func (s *Stack) RecvFrom(d *Desc, cg *cage.Cage, buf []byte, flags int, wantFamily int) (int, unix.Sockaddr, *safeposix.PosixError) {
	var from unix.Sockaddr
	n, err := s.recvCommon(d, cg, buf, flags, &from)
	return n, from, err
}

func (s *Stack) recvCommon(d *Desc, cg *cage.Cage, buf []byte, flags int, fromOut *unix.Sockaddr) (int, *safeposix.PosixError) {
	h := d.Handle
	peek := flags&unix.MSG_PEEK != 0

	h.Lock()
	if len(h.lastPeek) > 0 {
		n := copy(buf, h.lastPeek)
		if !peek {
			h.lastPeek = h.lastPeek[n:]
		}
		if n == len(buf) {
			h.Unlock()
			return n, nil
		}
		remaining := buf[n:]
		consumedFromPeek := n
		m, err := s.recvFillLocked(d, cg, remaining, flags, fromOut)
		total := consumedFromPeek + m
		if peek && m > 0 {
			h.lastPeek = append(h.lastPeek, remaining[:m]...)
		}
		h.Unlock()
		return total, err
	}

	n, err := s.recvFillLocked(d, cg, buf, flags, fromOut)
	if peek && n > 0 {
		h.lastPeek = append(h.lastPeek, buf[:n]...)
	}
	h.Unlock()
	return n, err
}

// recvFillLocked performs the actual per-domain read. Caller holds h.mu.
func (s *Stack) recvFillLocked(d *Desc, cg *cage.Cage, buf []byte, flags int, fromOut *unix.Sockaddr) (int, *safeposix.PosixError) {
	h := d.Handle

	if h.Domain == unix.AF_UNIX {
		if h.unix == nil || h.unix.ReceivePipe == nil {
			return 0, safeposix.NewError("recv", safeposix.ErrNotConn)
		}
		for {
			n, ok := h.unix.ReceivePipe.TryRead(buf)
			if ok {
				return n, nil
			}
			if d.nonblock() {
				return 0, safeposix.NewError("recv", safeposix.ErrAgain)
			}
			h.Unlock()
			werr := waitUntil(cg, "recv", h.unix.ReceivePipe.Readable)
			h.Lock()
			if werr != nil {
				return 0, werr
			}
		}
	}

	if h.Protocol == unix.IPPROTO_UDP {
		if !h.bound {
			if err := s.bindInetImplicitLocked(d); err != nil {
				return 0, err
			}
		}
		n, from, errno := kernel.Recvfrom(h.kernelFD, buf, 0)
		if errno != 0 {
			return 0, safeposix.NewError("recvfrom", errno)
		}
		if fromOut != nil {
			*fromOut = from
		}
		return n, nil
	}

	if h.state == InProgress {
		if _, errno := kernel.GetpeerName(h.kernelFD); errno == 0 {
			h.state = Connected
		}
	}
	if h.state != Connected && h.state != ConnRDOnly {
		return 0, safeposix.NewError("recv", safeposix.ErrNotConn)
	}

	if errno := kernel.SetRecvTimeout(h.kernelFD, s.RecvTimeout); errno != 0 {
		return 0, safeposix.NewError("recv", errno)
	}
	for {
		n, _, errno := kernel.Recvfrom(h.kernelFD, buf, 0)
		if errno == 0 {
			return n, nil
		}
		if errno == safeposix.ErrAgain {
			if d.nonblock() {
				return 0, safeposix.NewError("recv", safeposix.ErrAgain)
			}
			if cg.Signaled() {
				return 0, safeposix.NewError("recv", safeposix.ErrIntr)
			}
			for cg.Canceled() {
			}
			continue
		}
		return 0, safeposix.NewError("recv", errno)
	}
}
