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

// Package netstack is the per-fd socket state machine bridging real
// kernel sockets with emulated Unix-domain sockets (spec.md §4.5,
// component C5): bind/connect/listen/accept/send/recv/shutdown/sockopt/
// socketpair over both AF_UNIX and AF_INET{,6} × {TCP, UDP}.
package netstack

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/yzhang71/safeposix-go/internal/fdtable"
	"github.com/yzhang71/safeposix-go/internal/metadata"
	"github.com/yzhang71/safeposix-go/internal/portalloc"
	"github.com/yzhang71/safeposix-go/internal/unixpipe"
)

// State is a SocketHandle's connection state (spec.md §3).
type State int

const (
	NotConnected State = iota
	InProgress
	Connected
	Listen
	ConnRDOnly
	ConnWROnly
)

func (s State) String() string {
	switch s {
	case NotConnected:
		return "NOTCONNECTED"
	case InProgress:
		return "INPROGRESS"
	case Connected:
		return "CONNECTED"
	case Listen:
		return "LISTEN"
	case ConnRDOnly:
		return "CONNRDONLY"
	case ConnWROnly:
		return "CONNWRONLY"
	default:
		return "UNKNOWN"
	}
}

// SocketOptions mirrors the subset of setsockopt/getsockopt state spec.md
// §4.5.11 says lives in the handle, forwarding only ReuseAddr/ReusePort/
// NoDelay to the kernel socket when one exists.
type SocketOptions struct {
	ReuseAddr bool
	ReusePort bool
	NoDelay   bool
	SndBuf    int
	RcvBuf    int
	Broadcast bool
	KeepAlive bool
	Linger    int32 // -1: unset
}

// UnixInfo is spec.md §3's UnixSocketInfo: the bound inode and the pair
// of unidirectional pipes wired up at connect/accept time.
type UnixInfo struct {
	Mode        uint32
	Inode       fdtable.InodeNumber
	SendPipe    *unixpipe.Pipe
	ReceivePipe *unixpipe.Pipe
}

// Handle is spec.md §3's SocketHandle: the shared object behind every fd
// that references the same socket (dup, accept, socketpair each add a
// reference; the handle is destroyed when the last one closes).
type Handle struct {
	mu sync.RWMutex

	Domain   int
	SockType int
	Protocol int

	state State
	opts  SocketOptions

	localAddr  unix.Sockaddr
	remoteAddr unix.Sockaddr
	localPath  string // bound/synthetic Unix-domain path, "" if inet or unbound

	boundPort uint16
	listenKey portalloc.MuxKey
	bound     bool
	listening bool

	kernelFD int // -1 until force_innersocket creates one
	unix     *UnixInfo

	lastPeek []byte

	lastErrno unix.Errno

	refcount int32
}

// newHandle constructs an unbound handle with no kernel socket yet,
// matching spec.md §4.5.1's lazy creation.
func newHandle(domain, socktype, protocol int) *Handle {
	return &Handle{
		Domain:   domain,
		SockType: socktype,
		Protocol: protocol,
		state:    NotConnected,
		kernelFD: -1,
		refcount: 1,
		opts:     SocketOptions{Linger: -1},
	}
}

// Lock/Unlock/RLock/RUnlock expose the handle's rw-lock directly: spec.md
// §5 says readers (accept, getsockname, getpeername) take shared and
// everything else takes exclusive, and blocking recv/accept must "bump"
// (release and reacquire) it mid-wait, which only works if callers can
// drive the lock themselves rather than through a method that always
// holds it for its own duration.
func (h *Handle) Lock()    { h.mu.Lock() }
func (h *Handle) Unlock()  { h.mu.Unlock() }
func (h *Handle) RLock()   { h.mu.RLock() }
func (h *Handle) RUnlock() { h.mu.RUnlock() }

func (h *Handle) incRef() {
	h.mu.Lock()
	h.refcount++
	h.mu.Unlock()
}

// decRef returns true if this was the last reference.
func (h *Handle) decRef() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refcount--
	return h.refcount <= 0
}

// Desc is spec.md §3's SocketDesc: the per-fd view of a (possibly
// shared) handle.
type Desc struct {
	Flags       int // O_NONBLOCK, O_CLOEXEC
	Domain      int
	RawKernelFD int // cached for C6; -1 if none

	Handle *Handle

	advisoryMu   sync.Mutex
	advisoryLock bool
}

func (d *Desc) nonblock() bool { return d.Flags&unix.O_NONBLOCK != 0 }

// Stack is the C5 singleton wiring together the lower components: the
// metadata store for Unix-domain inode bookkeeping (C3), the port
// registry for ephemeral ports/listening set/rendezvous (C4), and the
// bounded kernel receive timeout that keeps blocking inet syscalls
// cancellable (spec.md §5).
type Stack struct {
	Store       *metadata.Store
	Registry    *portalloc.Registry
	RecvTimeout time.Duration
}

// New constructs a Stack over the given metadata store and port
// registry.
func New(store *metadata.Store, registry *portalloc.Registry, recvTimeout time.Duration) *Stack {
	return &Stack{Store: store, Registry: registry, RecvTimeout: recvTimeout}
}
