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
	"net"

	"golang.org/x/sys/unix"

	"github.com/yzhang71/safeposix-go/internal/kernel"
)

// splitSockaddr extracts the textual address and port a unix.Sockaddr
// carries, used as the key into the port registry (mux_key's address
// component, spec.md glossary).
func splitSockaddr(sa unix.Sockaddr) (addr string, port uint16) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(v.Addr[:]).String(), uint16(v.Port)
	case *unix.SockaddrInet6:
		return net.IP(v.Addr[:]).String(), uint16(v.Port)
	default:
		return "", 0
	}
}

// withPort returns a copy of sa with its port overwritten to port, the
// step bind uses to install the registry's reservation back into the
// sockaddr passed to the kernel (spec.md §4.5.2).
func withPort(sa unix.Sockaddr, port uint16) unix.Sockaddr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		cp := *v
		cp.Port = int(port)
		return &cp
	case *unix.SockaddrInet6:
		cp := *v
		cp.Port = int(port)
		return &cp
	default:
		return sa
	}
}

// sockaddrPort reads the port back out of sa, used after accept/connect
// to learn what ephemeral port the kernel assigned.
func sockaddrPort(sa unix.Sockaddr) uint16 {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return uint16(v.Port)
	case *unix.SockaddrInet6:
		return uint16(v.Port)
	default:
		return 0
	}
}

func kernelBind(fd int, sa unix.Sockaddr) unix.Errno {
	return kernel.Bind(fd, sa)
}
