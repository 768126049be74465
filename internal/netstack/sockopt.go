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

// SetSockOpt implements spec.md §4.5.11: option storage lives in the
// handle; SO_REUSEADDR/SO_REUSEPORT/TCP_NODELAY are also forwarded to
// the kernel socket, if one already exists, when changed. Read-only
// options return ENOPROTOOPT.
func (s *Stack) SetSockOpt(d *Desc, level, opt, value int) *safeposix.PosixError {
	h := d.Handle
	h.Lock()
	defer h.Unlock()

	switch {
	case level == unix.SOL_SOCKET && opt == unix.SO_REUSEADDR:
		h.opts.ReuseAddr = value != 0
		return s.forwardBoolOptLocked(h, unix.SOL_SOCKET, unix.SO_REUSEADDR, h.opts.ReuseAddr)
	case level == unix.SOL_SOCKET && opt == unix.SO_REUSEPORT:
		h.opts.ReusePort = value != 0
		return s.forwardBoolOptLocked(h, unix.SOL_SOCKET, unix.SO_REUSEPORT, h.opts.ReusePort)
	case level == unix.IPPROTO_TCP && opt == unix.TCP_NODELAY:
		h.opts.NoDelay = value != 0
		return s.forwardBoolOptLocked(h, unix.IPPROTO_TCP, unix.TCP_NODELAY, h.opts.NoDelay)
	case level == unix.SOL_SOCKET && opt == unix.SO_SNDBUF:
		h.opts.SndBuf = value
		return nil
	case level == unix.SOL_SOCKET && opt == unix.SO_RCVBUF:
		h.opts.RcvBuf = value
		return nil
	case level == unix.SOL_SOCKET && opt == unix.SO_BROADCAST:
		h.opts.Broadcast = value != 0
		return nil
	case level == unix.SOL_SOCKET && opt == unix.SO_KEEPALIVE:
		h.opts.KeepAlive = value != 0
		return nil
	case level == unix.SOL_SOCKET && opt == unix.SO_ACCEPTCONN:
		return safeposix.NewError("setsockopt", safeposix.ErrNoProtoOpt)
	default:
		return safeposix.NewError("setsockopt", safeposix.ErrOpNotSupp)
	}
}

func (s *Stack) forwardBoolOptLocked(h *Handle, level, opt int, v bool) *safeposix.PosixError {
	if h.kernelFD < 0 {
		return nil
	}
	iv := 0
	if v {
		iv = 1
	}
	if errno := kernel.SetsockoptInt(h.kernelFD, level, opt, iv); errno != 0 {
		return safeposix.NewError("setsockopt", errno)
	}
	return nil
}

// GetSockOpt implements spec.md §4.5.11's read side. SO_ACCEPTCONN
// reflects state == LISTEN.
func (s *Stack) GetSockOpt(d *Desc, level, opt int) (int, *safeposix.PosixError) {
	h := d.Handle
	h.Lock()
	defer h.Unlock()

	switch {
	case level == unix.SOL_SOCKET && opt == unix.SO_REUSEADDR:
		return boolToInt(h.opts.ReuseAddr), nil
	case level == unix.SOL_SOCKET && opt == unix.SO_REUSEPORT:
		return boolToInt(h.opts.ReusePort), nil
	case level == unix.IPPROTO_TCP && opt == unix.TCP_NODELAY:
		return boolToInt(h.opts.NoDelay), nil
	case level == unix.SOL_SOCKET && opt == unix.SO_SNDBUF:
		return h.opts.SndBuf, nil
	case level == unix.SOL_SOCKET && opt == unix.SO_RCVBUF:
		return h.opts.RcvBuf, nil
	case level == unix.SOL_SOCKET && opt == unix.SO_BROADCAST:
		return boolToInt(h.opts.Broadcast), nil
	case level == unix.SOL_SOCKET && opt == unix.SO_KEEPALIVE:
		return boolToInt(h.opts.KeepAlive), nil
	case level == unix.SOL_SOCKET && opt == unix.SO_ACCEPTCONN:
		return boolToInt(h.state == Listen), nil
	case level == unix.SOL_SOCKET && opt == unix.SO_ERROR:
		e := int(h.lastErrno)
		h.lastErrno = 0
		return e, nil
	default:
		return 0, safeposix.NewError("getsockopt", safeposix.ErrOpNotSupp)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
