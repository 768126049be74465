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
)

// GetSockName returns the handle's bound local address, a shared
// (read-lock-only) operation per spec.md §5.
func (s *Stack) GetSockName(d *Desc) (unix.Sockaddr, *safeposix.PosixError) {
	h := d.Handle
	h.RLock()
	defer h.RUnlock()
	if h.localAddr == nil {
		return nil, safeposix.NewError("getsockname", safeposix.ErrInval)
	}
	return h.localAddr, nil
}

// GetPeerName returns the handle's connected remote address.
func (s *Stack) GetPeerName(d *Desc) (unix.Sockaddr, *safeposix.PosixError) {
	h := d.Handle
	h.RLock()
	defer h.RUnlock()
	if h.remoteAddr == nil {
		return nil, safeposix.NewError("getpeername", safeposix.ErrNotConn)
	}
	return h.remoteAddr, nil
}
