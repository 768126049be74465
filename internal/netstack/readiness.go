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

	"github.com/yzhang71/safeposix-go/internal/portalloc"
)

// ReadableUnix implements spec.md §4.6.1's Unix-domain classification:
// a listener is readable iff a rendezvous is published under its bound
// path; a connected socket is readable iff its receive_pipe is
// select-readable. Panics if d is not AF_UNIX — callers (multiplex) must
// branch on Domain first, since inet readiness goes through a kernel
// select batch instead.
func (d *Desc) ReadableUnix(reg *portalloc.Registry) bool {
	h := d.Handle
	h.RLock()
	defer h.RUnlock()
	if h.Domain != unix.AF_UNIX {
		panic("netstack: ReadableUnix called on a non-AF_UNIX descriptor")
	}
	if h.state == Listen {
		return reg.PeekRendezvous(h.localPath)
	}
	if h.unix != nil && h.unix.ReceivePipe != nil {
		return h.unix.ReceivePipe.Readable()
	}
	return false
}

// WritableUnix reports whether a write on d's send_pipe would not block.
// This layer's pipes are unbounded, so a connected Unix socket is always
// writable; an unconnected one is not.
func (d *Desc) WritableUnix() bool {
	h := d.Handle
	h.RLock()
	defer h.RUnlock()
	if h.unix == nil || h.unix.SendPipe == nil {
		return false
	}
	return true
}

// IsUnix reports whether d's handle is AF_UNIX.
func (d *Desc) IsUnix() bool { return d.Handle.Domain == unix.AF_UNIX }

// KernelFD returns the cached raw kernel fd backing d, or -1 if none
// exists yet (spec.md §3's SocketDesc.raw_kernel_fd).
func (d *Desc) KernelFD() int {
	d.Handle.RLock()
	defer d.Handle.RUnlock()
	return d.Handle.kernelFD
}

// StateIsInProgress reports whether d's handle is mid-connect, the case
// select's writefds handling upgrades to CONNECTED once the kernel
// write-readiness fires (spec.md §4.6.1 step 2).
func (d *Desc) StateIsInProgress() bool {
	d.Handle.RLock()
	defer d.Handle.RUnlock()
	return d.Handle.state == InProgress
}

// MarkConnected transitions an INPROGRESS handle to CONNECTED once the
// kernel reports the connect completed.
func (d *Desc) MarkConnected() {
	d.Handle.Lock()
	if d.Handle.state == InProgress {
		d.Handle.state = Connected
	}
	d.Handle.Unlock()
}
