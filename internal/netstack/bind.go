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
	"time"

	"golang.org/x/sys/unix"

	safeposix "github.com/yzhang71/safeposix-go"
	"github.com/yzhang71/safeposix-go/internal/metadata"
)

// BindUnix implements spec.md §4.5.2's Unix-domain branch: normalize path
// relative to cwd, walk it, and either allocate a fresh socket inode or
// fail per the table of error cases there.
func (s *Stack) BindUnix(d *Desc, cwd, rawPath string) *safeposix.PosixError {
	h := d.Handle
	h.Lock()
	defer h.Unlock()

	if h.Domain != unix.AF_UNIX {
		return safeposix.NewError("bind", safeposix.ErrInval)
	}
	if h.bound {
		return safeposix.NewError("bind", safeposix.ErrInval)
	}

	path := metadata.Normpath(rawPath, cwd)
	wr := s.Store.Metawalk(path)
	if wr.Found {
		return safeposix.NewError("bind", safeposix.ErrAddrInUse)
	}
	if !wr.HasParent || wr.ParentObj == nil {
		return safeposix.NewError("bind", safeposix.ErrNoEnt)
	}
	if !wr.ParentObj.IsDir() {
		return safeposix.NewError("bind", safeposix.ErrNotDir)
	}

	if err := s.Registry.BindDomsockPath(path); err != nil {
		return err
	}

	num := s.Store.AllocInode()
	now := time.Now()
	n := &metadata.Inode{
		Kind: metadata.KindSocket, Mode: metadata.ModeSocket | metadata.PermRWXAll,
		LinkCount: 1, RefCount: 1,
		Atime: now, Ctime: now, Mtime: now,
	}
	if err := s.Store.Put(num, n); err != nil {
		s.Registry.UnbindDomsockPath(path)
		return safeposix.NewError("bind", safeposix.ErrFault)
	}

	wr.ParentObj.Lock()
	name := lastComponent(path)
	wr.ParentObj.Children[name] = num
	wr.ParentObj.LinkCount++
	wr.ParentObj.Unlock()
	if err := s.Store.Put(wr.Parent, wr.ParentObj); err != nil {
		return safeposix.NewError("bind", safeposix.ErrFault)
	}

	h.localPath = path
	h.bound = true
	h.unix = &UnixInfo{Mode: metadata.ModeSocket | metadata.PermRWXAll, Inode: num}
	h.localAddr = &unix.SockaddrUnix{Name: path}
	return nil
}

func lastComponent(normalized string) string {
	i := len(normalized) - 1
	for i >= 0 && normalized[i] != '/' {
		i--
	}
	return normalized[i+1:]
}

// bindUnixSynthetic implicit-binds d to a fresh synthetic path (used by
// connect's step 1 and by socketpair), retrying on the astronomically
// unlikely UUID collision.
func (s *Stack) bindUnixSynthetic(d *Desc) (string, *safeposix.PosixError) {
	for i := 0; i < 8; i++ {
		path := synthPath()
		if err := s.BindUnix(d, "/", path); err != nil {
			if err.Errno == safeposix.ErrAddrInUse {
				continue
			}
			return "", err
		}
		return path, nil
	}
	return "", safeposix.NewError("bind", safeposix.ErrAddrInUse)
}

// BindInet implements spec.md §4.5.2's inet branch: lazily create the
// kernel socket, reserve the port through the registry honoring
// SO_REUSEPORT, overwrite the address's port with the reservation, then
// delegate to the kernel.
func (s *Stack) BindInet(d *Desc, sa unix.Sockaddr) *safeposix.PosixError {
	h := d.Handle
	h.Lock()
	defer h.Unlock()

	if h.Domain == unix.AF_UNIX {
		return safeposix.NewError("bind", safeposix.ErrInval)
	}
	if h.bound {
		return safeposix.NewError("bind", safeposix.ErrInval)
	}

	if err := s.forceInnerSocketLocked(d); err != nil {
		return err
	}

	addr, requestedPort := splitSockaddr(sa)
	port, perr := s.Registry.ReserveLocalPort(addr, requestedPort, h.Protocol, h.Domain, h.opts.ReusePort)
	if perr != nil {
		return perr
	}
	sa = withPort(sa, port)

	if errno := kernelBind(h.kernelFD, sa); errno != 0 {
		s.Registry.ReleaseLocalPort(addr, port, h.Protocol, h.Domain)
		return safeposix.NewError("bind", errno)
	}

	h.localAddr = sa
	h.boundPort = port
	h.bound = true
	return nil
}

// forceInnerSocketLocked is forceInnerSocket for a caller that already
// holds h.mu (BindInet and bindInetImplicitLocked call it with the lock
// held); it takes no lock of its own.
func (s *Stack) forceInnerSocketLocked(d *Desc) *safeposix.PosixError {
	return s.forceInnerSocket(d)
}
