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

// Package multiplex is the readiness multiplexer unifying select, poll,
// and epoll over the mixed fd kinds a cage can hold — sockets, pipes,
// regular files, and epoll fds themselves (spec.md §4.6, component C6).
package multiplex

import "github.com/yzhang71/safeposix-go/internal/fdtable"

// FDSet mirrors fd_set's "set of fd numbers, mutated in place to the
// ready subset" semantics (spec.md §4.6.1), implemented as a fixed
// bitmap sized to FDSetMaxFD rather than a raw kernel fd_set, since a
// cage's fd numbers address this layer's own table, not the host
// kernel's.
type FDSet struct {
	bits [fdtable.FDSetMaxFD/64 + 1]uint64
}

// NewFDSet returns an empty set.
func NewFDSet() *FDSet { return &FDSet{} }

// Zero clears every bit.
func (s *FDSet) Zero() { *s = FDSet{} }

// Set marks fd as a member.
func (s *FDSet) Set(fd fdtable.FD) {
	if fd < 0 || int(fd) >= fdtable.FDSetMaxFD {
		return
	}
	s.bits[fd/64] |= 1 << uint(fd%64)
}

// Clear removes fd from the set.
func (s *FDSet) Clear(fd fdtable.FD) {
	if fd < 0 || int(fd) >= fdtable.FDSetMaxFD {
		return
	}
	s.bits[fd/64] &^= 1 << uint(fd%64)
}

// IsSet reports whether fd is a member.
func (s *FDSet) IsSet(fd fdtable.FD) bool {
	if fd < 0 || int(fd) >= fdtable.FDSetMaxFD {
		return false
	}
	return s.bits[fd/64]&(1<<uint(fd%64)) != 0
}

// Members returns the set bits in ascending order, up to nfds (exclusive).
func (s *FDSet) Members(nfds int) []fdtable.FD {
	var out []fdtable.FD
	for fd := fdtable.FD(0); int(fd) < nfds; fd++ {
		if s.IsSet(fd) {
			out = append(out, fd)
		}
	}
	return out
}

// Count returns the number of members below nfds.
func (s *FDSet) Count(nfds int) int {
	return len(s.Members(nfds))
}
