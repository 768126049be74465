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

package kernel

import (
	"time"

	"golang.org/x/sys/unix"
)

// Socket creates a host kernel socket of the given domain/type/protocol.
func Socket(domain, typ, protocol int) (fd int, errno unix.Errno) {
	fd, err := unix.Socket(domain, typ, protocol)
	if err != nil {
		return -1, TranslateErrno("socket", err)
	}
	return fd, 0
}

// Bind binds fd to sa.
func Bind(fd int, sa unix.Sockaddr) unix.Errno {
	if err := unix.Bind(fd, sa); err != nil {
		return TranslateErrno("bind", err)
	}
	return 0
}

// Connect connects fd to sa.
func Connect(fd int, sa unix.Sockaddr) unix.Errno {
	if err := unix.Connect(fd, sa); err != nil {
		return TranslateErrno("connect", err)
	}
	return 0
}

// Listen marks fd as a listening socket with the given backlog.
func Listen(fd, backlog int) unix.Errno {
	if err := unix.Listen(fd, backlog); err != nil {
		return TranslateErrno("listen", err)
	}
	return 0
}

// Accept4 accepts a connection on fd, optionally setting SOCK_NONBLOCK on
// the new socket.
func Accept4(fd int, nonblock bool) (newfd int, sa unix.Sockaddr, errno unix.Errno) {
	flags := 0
	if nonblock {
		flags = unix.SOCK_NONBLOCK
	}
	newfd, sa, err := unix.Accept4(fd, flags)
	if err != nil {
		return -1, nil, TranslateErrno("accept4", err)
	}
	return newfd, sa, 0
}

// SetNonblock toggles O_NONBLOCK on fd.
func SetNonblock(fd int, nonblock bool) unix.Errno {
	if err := unix.SetNonblock(fd, nonblock); err != nil {
		return TranslateErrno("setnonblock", err)
	}
	return 0
}

// SetRecvTimeout bounds how long a blocking recv/accept on fd may take,
// which is how this layer keeps a cooperative cancellation check reachable
// under a kernel-level blocking call (spec.md §5: "bounded 1-second receive
// timeout").
func SetRecvTimeout(fd int, d time.Duration) unix.Errno {
	tv := unix.NsecToTimeval(d.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return TranslateErrno("setsockopt(SO_RCVTIMEO)", err)
	}
	return 0
}

// SetsockoptInt sets an integer socket option.
func SetsockoptInt(fd, level, opt, value int) unix.Errno {
	if err := unix.SetsockoptInt(fd, level, opt, value); err != nil {
		return TranslateErrno("setsockopt", err)
	}
	return 0
}

// GetsockoptInt reads an integer socket option.
func GetsockoptInt(fd, level, opt int) (int, unix.Errno) {
	v, err := unix.GetsockoptInt(fd, level, opt)
	if err != nil {
		return 0, TranslateErrno("getsockopt", err)
	}
	return v, 0
}

// Send writes buf to fd with the given flags.
func Send(fd int, buf []byte, flags int) (int, unix.Errno) {
	n, err := unix.Write(fd, buf)
	_ = flags // MSG_NOSIGNAL has no effect on a Go-managed fd; validated by the caller.
	if err != nil {
		return 0, TranslateErrno("send", err)
	}
	return n, 0
}

// Sendto writes buf to fd, addressed at sa if non-nil.
func Sendto(fd int, buf []byte, flags int, sa unix.Sockaddr) (int, unix.Errno) {
	if sa == nil {
		return Send(fd, buf, flags)
	}
	if err := unix.Sendto(fd, buf, flags, sa); err != nil {
		return 0, TranslateErrno("sendto", err)
	}
	return len(buf), 0
}

// Recvfrom reads into buf from fd, returning the peer address when
// available (UDP) or nil (TCP/connected sockets).
func Recvfrom(fd int, buf []byte, flags int) (n int, from unix.Sockaddr, errno unix.Errno) {
	n, from, err := unix.Recvfrom(fd, buf, flags)
	if err != nil {
		return 0, nil, TranslateErrno("recvfrom", err)
	}
	return n, from, 0
}

// Shutdown shuts down fd's read and/or write half.
func Shutdown(fd, how int) unix.Errno {
	if err := unix.Shutdown(fd, how); err != nil {
		return TranslateErrno("shutdown", err)
	}
	return 0
}

// Close closes fd.
func Close(fd int) unix.Errno {
	if err := unix.Close(fd); err != nil {
		return TranslateErrno("close", err)
	}
	return 0
}

// Socketpair creates a connected pair of host sockets.
func Socketpair(domain, typ, protocol int) (fd0, fd1 int, errno unix.Errno) {
	fds, err := unix.Socketpair(domain, typ, protocol)
	if err != nil {
		return -1, -1, TranslateErrno("socketpair", err)
	}
	return fds[0], fds[1], 0
}

// GetsockName returns fd's local address.
func GetsockName(fd int) (unix.Sockaddr, unix.Errno) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, TranslateErrno("getsockname", err)
	}
	return sa, 0
}

// GetpeerName returns fd's remote address.
func GetpeerName(fd int) (unix.Sockaddr, unix.Errno) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return nil, TranslateErrno("getpeername", err)
	}
	return sa, 0
}

// Select performs a single kernel select() over the given fd sets within
// timeout, returning the ready counts via the sets themselves (mutated in
// place) and the number of ready descriptors.
func Select(nfds int, r, w, e *unix.FdSet, timeout *unix.Timeval) (int, unix.Errno) {
	n, err := unix.Select(nfds, r, w, e, timeout)
	if err != nil {
		return 0, TranslateErrno("select", err)
	}
	return n, 0
}
