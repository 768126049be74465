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

// Package fdtable holds the strongly-typed numeric handles shared across the
// component packages and the Kind tags of fd table entries; the per-cage
// table itself lives in internal/cage.
// The InodeNumber/FD wrapper types follow the same idiom as
// github.com/jacobsa/fuse/fuseops.InodeID: a bare uint64/int is too easy to
// pass to the wrong parameter.
package fdtable

import "fmt"

// InodeNumber addresses an Inode in the process-wide metadata store.
type InodeNumber uint64

func (n InodeNumber) String() string { return fmt.Sprintf("ino%d", uint64(n)) }

// Reserved inode numbers, fixed at format time (spec §3, §6).
const (
	RootInode       InodeNumber = 1
	DevInode        InodeNumber = 2
	DevNullInode    InodeNumber = 3
	DevZeroInode    InodeNumber = 4
	DevURandomInode InodeNumber = 5
	DevRandomInode  InodeNumber = 6
	TmpInode        InodeNumber = 7
	FirstUserInode  InodeNumber = 8
)

// FD is a guest-visible file descriptor number, scoped to one cage.
type FD int32

// StartingFD is the lowest nfds value select accepts; anything below it is
// EINVAL (spec §4.6.1). fd 0/1/2 are the cage's inherited stdio streams,
// which select accepts but never reports ready.
const StartingFD FD = 0

// FDSetMaxFD bounds nfds for select, matching Linux's FD_SETSIZE.
const FDSetMaxFD = 1024

// Kind discriminates what sits behind a fd table entry.
type Kind int

const (
	KindUnknown Kind = iota
	KindSocket
	KindRegularFile
	KindPipe
	KindEpoll
	KindStream // stdin/stdout/stderr
)

func (k Kind) String() string {
	switch k {
	case KindSocket:
		return "socket"
	case KindRegularFile:
		return "file"
	case KindPipe:
		return "pipe"
	case KindEpoll:
		return "epoll"
	case KindStream:
		return "stream"
	default:
		return "unknown"
	}
}
