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

// Package portalloc is the process-wide port allocator and socket
// registry (spec.md §4.4, component C4): ephemeral port reservation, the
// listening-port set, per-listener pending-connection queues, and the
// Unix-domain rendezvous table that connect/accept use to hand off pipes.
package portalloc

import (
	"sync"

	"golang.org/x/time/rate"

	safeposix "github.com/yzhang71/safeposix-go"
	"github.com/yzhang71/safeposix-go/internal/unixpipe"
)

// MuxKey identifies a port reservation or a listening endpoint: spec.md's
// glossary mux_key = (address, port, family, transport).
type MuxKey struct {
	Addr      string
	Port      uint16
	Family    int
	Transport int
}

type reservation struct {
	intentToRebind bool
	refs           int
}

// PendingConn is one kernel-accepted connection queued against a
// listener's mux_key by the readiness multiplexer (spec.md §4.4/§4.5.7):
// C6 observes the listener readable under some other syscall, performs
// the kernel accept itself, and stashes the result here for a later
// accept() call on the cage that owns the listener.
type PendingConn struct {
	KernelFD   int
	RemoteAddr []byte
}

// DomsockTableEntry is the Unix-domain connect-accept handoff record
// (spec.md §3): connect publishes it under the remote path; accept
// consumes it. Cond is non-nil only for a blocking connector.
type DomsockTableEntry struct {
	ListenerLocalAddr string
	ReceivePipe       *unixpipe.Pipe
	SendPipe          *unixpipe.Pipe
	Cond              *sync.Cond
	CondMu            *sync.Mutex
	Signaled          bool
}

// Registry is the C4 singleton. Every map is guarded by its own lock so
// unrelated keys never contend (spec.md §5: "concurrent maps... use
// per-bucket locking" — a single coarse mutex per table is the per-bucket
// granularity this registry needs, since no table is sharded further).
type Registry struct {
	portMu       sync.Mutex
	reservations map[MuxKey]*reservation

	listenMu  sync.Mutex
	listening map[MuxKey]struct{}

	pendingMu sync.Mutex
	pending   map[MuxKey][]PendingConn

	domsockMu     sync.Mutex
	domsockPaths  map[string]struct{}
	domsockAccept map[string]*DomsockTableEntry

	ephemeralLo, ephemeralHi uint16
	limiter                  *rate.Limiter
}

// New constructs an empty registry that allocates ephemeral ports in
// [lo, hi]. The ephemeral-range scan in ReserveLocalPort consults limiter
// once per occupied port but discards its verdict, so the scan is not
// slowed down.
func New(lo, hi uint16) *Registry {
	return &Registry{
		reservations:  make(map[MuxKey]*reservation),
		listening:     make(map[MuxKey]struct{}),
		pending:       make(map[MuxKey][]PendingConn),
		domsockPaths:  make(map[string]struct{}),
		domsockAccept: make(map[string]*DomsockTableEntry),
		ephemeralLo:   lo,
		ephemeralHi:   hi,
		limiter:       rate.NewLimiter(rate.Limit(2000), 64),
	}
}

// ReserveLocalPort implements spec.md §4.4's reserve_localport: returns
// requestedPort if requested and free (or free-with-reuse-intent matching
// an existing reservation that also opted into rebind), else allocates
// from the ephemeral range. Fails with EADDRINUSE otherwise.
func (r *Registry) ReserveLocalPort(addr string, requestedPort uint16, protocol, domain int, intentToRebind bool) (uint16, *safeposix.PosixError) {
	r.portMu.Lock()
	defer r.portMu.Unlock()

	if requestedPort != 0 {
		key := MuxKey{Addr: addr, Port: requestedPort, Family: domain, Transport: protocol}
		existing, ok := r.reservations[key]
		if !ok {
			r.reservations[key] = &reservation{intentToRebind: intentToRebind, refs: 1}
			return requestedPort, nil
		}
		if existing.intentToRebind && intentToRebind {
			existing.refs++
			return requestedPort, nil
		}
		return 0, safeposix.NewError("bind", safeposix.ErrAddrInUse)
	}

	for port := r.ephemeralLo; port <= r.ephemeralHi; port++ {
		key := MuxKey{Addr: addr, Port: port, Family: domain, Transport: protocol}
		if _, taken := r.reservations[key]; !taken {
			r.reservations[key] = &reservation{intentToRebind: intentToRebind, refs: 1}
			return port, nil
		}
		if port == r.ephemeralHi {
			break
		}
		_ = r.limiter.Allow() // verdict discarded; never blocks the lock holder
	}
	return 0, safeposix.NewError("bind", safeposix.ErrAddrInUse)
}

// ReleaseLocalPort implements spec.md §4.4's release_localport.
func (r *Registry) ReleaseLocalPort(addr string, port uint16, protocol, domain int) {
	r.portMu.Lock()
	defer r.portMu.Unlock()
	key := MuxKey{Addr: addr, Port: port, Family: domain, Transport: protocol}
	res, ok := r.reservations[key]
	if !ok {
		return
	}
	res.refs--
	if res.refs <= 0 {
		delete(r.reservations, key)
	}
}

// MarkListening inserts key into the listening_port_set.
func (r *Registry) MarkListening(key MuxKey) {
	r.listenMu.Lock()
	defer r.listenMu.Unlock()
	r.listening[key] = struct{}{}
}

// Unlisten removes key from the listening_port_set.
func (r *Registry) Unlisten(key MuxKey) {
	r.listenMu.Lock()
	defer r.listenMu.Unlock()
	delete(r.listening, key)
	r.pendingMu.Lock()
	delete(r.pending, key)
	r.pendingMu.Unlock()
}

// IsListening reports whether key is in the listening_port_set.
func (r *Registry) IsListening(key MuxKey) bool {
	r.listenMu.Lock()
	defer r.listenMu.Unlock()
	_, ok := r.listening[key]
	return ok
}

// PushPending appends a kernel-accepted connection to key's pending
// queue; the readiness multiplexer calls this when it observes a
// listener readable outside of a direct accept() call.
func (r *Registry) PushPending(key MuxKey, c PendingConn) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	r.pending[key] = append(r.pending[key], c)
}

// PopPending removes and returns the oldest pending connection for key,
// if any.
func (r *Registry) PopPending(key MuxKey) (PendingConn, bool) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	q := r.pending[key]
	if len(q) == 0 {
		return PendingConn{}, false
	}
	c := q[0]
	r.pending[key] = q[1:]
	return c, true
}

// HasPending reports whether key has at least one queued connection,
// without dequeuing it — the predicate select/poll use to decide a
// listener is readable (spec.md §4.6.1).
func (r *Registry) HasPending(key MuxKey) bool {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	return len(r.pending[key]) > 0
}

// BindDomsockPath registers path as bound. Returns EADDRINUSE if already
// bound, matching bind-unix's existing-path rule (spec.md §4.5.2).
func (r *Registry) BindDomsockPath(path string) *safeposix.PosixError {
	r.domsockMu.Lock()
	defer r.domsockMu.Unlock()
	if _, ok := r.domsockPaths[path]; ok {
		return safeposix.NewError("bind", safeposix.ErrAddrInUse)
	}
	r.domsockPaths[path] = struct{}{}
	return nil
}

// UnbindDomsockPath removes path's registration, e.g. on the owning
// socket inode's final close.
func (r *Registry) UnbindDomsockPath(path string) {
	r.domsockMu.Lock()
	defer r.domsockMu.Unlock()
	delete(r.domsockPaths, path)
}

// DomsockPathBound reports whether path is currently bound — the
// invariant tested in spec.md §8 ("exists in domsock_paths iff some
// inode is a Socket with that path").
func (r *Registry) DomsockPathBound(path string) bool {
	r.domsockMu.Lock()
	defer r.domsockMu.Unlock()
	_, ok := r.domsockPaths[path]
	return ok
}

// PublishRendezvous installs entry under remotePath for a connecting
// socket to find (spec.md §4.5.3 step 5).
func (r *Registry) PublishRendezvous(remotePath string, entry *DomsockTableEntry) {
	r.domsockMu.Lock()
	defer r.domsockMu.Unlock()
	r.domsockAccept[remotePath] = entry
}

// TakeRendezvous removes and returns the entry published under
// listenerPath, if any — accept's consuming half of the handoff.
func (r *Registry) TakeRendezvous(listenerPath string) (*DomsockTableEntry, bool) {
	r.domsockMu.Lock()
	defer r.domsockMu.Unlock()
	e, ok := r.domsockAccept[listenerPath]
	if ok {
		delete(r.domsockAccept, listenerPath)
	}
	return e, ok
}

// PeekRendezvous reports whether an entry is currently published under
// listenerPath, without consuming it (used by select/poll to classify a
// listening Unix socket as readable).
func (r *Registry) PeekRendezvous(listenerPath string) bool {
	r.domsockMu.Lock()
	defer r.domsockMu.Unlock()
	_, ok := r.domsockAccept[listenerPath]
	return ok
}

// Signal wakes a blocking connector waiting on entry's Cond, if present
// (spec.md §4.5.7: "signal its cond_var (if any)").
func (e *DomsockTableEntry) Signal() {
	if e.Cond == nil {
		return
	}
	e.CondMu.Lock()
	e.Signaled = true
	e.CondMu.Unlock()
	e.Cond.Broadcast()
}

// NewBlockingEntry builds a DomsockTableEntry carrying a condition
// variable for a blocking connector to wait on.
func NewBlockingEntry(localAddr string, recv, send *unixpipe.Pipe) *DomsockTableEntry {
	mu := &sync.Mutex{}
	return &DomsockTableEntry{
		ListenerLocalAddr: localAddr,
		ReceivePipe:       recv,
		SendPipe:          send,
		Cond:              sync.NewCond(mu),
		CondMu:            mu,
	}
}

// NewNonBlockingEntry builds a DomsockTableEntry with no cond_var, for a
// non-blocking connect that must return immediately (spec.md §9).
func NewNonBlockingEntry(localAddr string, recv, send *unixpipe.Pipe) *DomsockTableEntry {
	return &DomsockTableEntry{ListenerLocalAddr: localAddr, ReceivePipe: recv, SendPipe: send}
}
