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

// Flock implements the advisory per-fd lock on a SocketDesc that the
// original implementation carries alongside the socket state (§3's
// SocketDesc.advisory_lock field, not exercised anywhere else in the
// distilled spec but preserved here since flock(2) is commonly called on
// a socket fd and this layer tracks it per-fd, not per-handle, matching
// Linux semantics where each open() (or here, each fd) owns its own
// advisory lock independent of shared handle state).
func (d *Desc) Flock(operation int) *safeposix.PosixError {
	d.advisoryMu.Lock()
	defer d.advisoryMu.Unlock()

	switch operation &^ unix.LOCK_NB {
	case unix.LOCK_EX, unix.LOCK_SH:
		if d.advisoryLock && operation&unix.LOCK_NB != 0 {
			return safeposix.NewError("flock", safeposix.ErrAgain)
		}
		d.advisoryLock = true
		return nil
	case unix.LOCK_UN:
		d.advisoryLock = false
		return nil
	default:
		return safeposix.NewError("flock", safeposix.ErrInval)
	}
}
