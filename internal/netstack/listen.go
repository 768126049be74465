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
	"github.com/yzhang71/safeposix-go/internal/portalloc"
)

// Listen implements spec.md §4.5.6: valid only from NOTCONNECTED, and
// idempotent from LISTEN. Unix-domain just flips the state; inet
// implicit-binds if needed, calls kernel listen(5), and registers the
// listening mux_key with the port registry.
func (s *Stack) Listen(d *Desc, backlog int) *safeposix.PosixError {
	h := d.Handle
	h.Lock()
	defer h.Unlock()

	if h.state == Listen {
		return nil
	}
	if h.state != NotConnected {
		return safeposix.NewError("listen", safeposix.ErrInval)
	}

	if h.Domain == unix.AF_UNIX {
		if !h.bound {
			h.Unlock()
			_, err := s.bindUnixSynthetic(d)
			h.Lock()
			if err != nil {
				return err
			}
		}
		h.state = Listen
		h.listening = true
		return nil
	}

	if !h.bound {
		if err := s.bindInetImplicitLocked(d); err != nil {
			return err
		}
	}
	if errno := kernel.Listen(h.kernelFD, backlog); errno != 0 {
		return safeposix.NewError("listen", errno)
	}

	addr, _ := splitSockaddr(h.localAddr)
	key := portalloc.MuxKey{Addr: addr, Port: h.boundPort, Family: h.Domain, Transport: h.Protocol}
	s.Registry.MarkListening(key)
	h.listenKey = key
	h.state = Listen
	h.listening = true
	return nil
}
