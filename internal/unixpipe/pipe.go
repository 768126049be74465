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

// Package unixpipe implements the bidirectional-FIFO-as-two-unidirectional-
// pipes plumbing that backs Unix-domain sockets (spec.md §3's
// UnixSocketInfo: send_pipe/receive_pipe). There is no ecosystem pipe
// library shaped like this (unbounded single-reader/single-writer byte FIFO
// with a non-blocking try-read used from both the socket state machine and
// the readiness multiplexer), so this is a small bytes.Buffer-backed
// implementation rather than a stdlib workaround for something a library
// already does.
package unixpipe

import (
	"bytes"
	"sync"
)

// Pipe is a unidirectional, unbounded byte FIFO with one writer and one
// reader. Close is one-way: writes after close are rejected, reads drain
// whatever remains before reporting EOF.
type Pipe struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

// New returns an empty, open pipe.
func New() *Pipe { return &Pipe{} }

// Write appends p's bytes, always succeeding unless the pipe is closed.
func (pp *Pipe) Write(p []byte) (n int, closed bool) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if pp.closed {
		return 0, true
	}
	n, _ = pp.buf.Write(p)
	return n, false
}

// TryRead copies up to len(buf) bytes without blocking. ok is false when
// the pipe is empty and still open (the caller should retry); when the
// pipe is empty and closed, TryRead returns (0, true) with n == 0, which
// the caller reads as EOF.
func (pp *Pipe) TryRead(buf []byte) (n int, ok bool) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if pp.buf.Len() == 0 {
		if pp.closed {
			return 0, true
		}
		return 0, false
	}
	n, _ = pp.buf.Read(buf)
	return n, true
}

// Peek copies up to len(buf) bytes without consuming them.
func (pp *Pipe) Peek(buf []byte) (n int, ok bool) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if pp.buf.Len() == 0 {
		if pp.closed {
			return 0, true
		}
		return 0, false
	}
	n = copy(buf, pp.buf.Bytes())
	return n, true
}

// Readable reports whether a read would return data or EOF without
// blocking — the predicate select/poll/epoll use to classify a Unix
// socket's receive_pipe (spec.md §4.6.1).
func (pp *Pipe) Readable() bool {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return pp.buf.Len() > 0 || pp.closed
}

// Close marks the pipe closed for writes; buffered bytes remain readable.
func (pp *Pipe) Close() {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	pp.closed = true
}
