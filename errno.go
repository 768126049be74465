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

// Package safeposix is the root of the in-process POSIX emulation layer.
// The syscall-shaped methods of its netstack, multiplex and portalloc
// subpackages return a tier-1 error (see PosixError below) instead of
// panicking, except where the method's own doc comment says it may panic
// on programmer misuse. The file, journal and metadata packages return
// plain Go errors.
package safeposix

import "golang.org/x/sys/unix"

// PosixError is the tier-1 error surfaced by every syscall-shaped method in
// this layer: a negative errno, exactly as the real kernel would return it
// from the syscall instruction. Dispatchers sitting above this layer should
// take the *PosixError and return its Negative() to the guest; they must
// never see a bare Go error escape a successful-looking call.
type PosixError struct {
	Op    string
	Errno unix.Errno
}

func (e *PosixError) Error() string {
	return e.Op + ": " + e.Errno.Error()
}

// Negative returns -errno, the value a raw syscall trampoline hands back to
// the guest.
func (e *PosixError) Negative() int {
	return -int(e.Errno)
}

// NewError wraps errno as a PosixError attributed to op.
func NewError(op string, errno unix.Errno) *PosixError {
	return &PosixError{Op: op, Errno: errno}
}

// Common errno shorthands used throughout the component packages.
var (
	ErrBadF       = unix.EBADF
	ErrInval      = unix.EINVAL
	ErrNotSock    = unix.ENOTSOCK
	ErrNotConn    = unix.ENOTCONN
	ErrIsConn     = unix.EISCONN
	ErrAddrInUse  = unix.EADDRINUSE
	ErrAgain      = unix.EAGAIN
	ErrInProgress = unix.EINPROGRESS
	ErrOpNotSupp  = unix.EOPNOTSUPP
	ErrNoEnt      = unix.ENOENT
	ErrNotDir     = unix.ENOTDIR
	ErrExist      = unix.EEXIST
	ErrFault      = unix.EFAULT
	ErrIlSeq      = unix.EILSEQ
	ErrNoProtoOpt = unix.ENOPROTOOPT
	ErrIntr       = unix.EINTR
)
