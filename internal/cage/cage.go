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

// Package cage models the minimal collaborator the core components need:
// one isolation unit with its own working directory, file descriptor
// table, and signal/cancel flags. The syscall dispatcher that drives a
// cage end to end (argument unions, process startup/teardown) is outside
// the core and is not implemented here (spec.md §1).
package cage

import (
	"sync"

	"github.com/google/uuid"

	"github.com/yzhang71/safeposix-go/internal/fdtable"
)

// Entry is one file descriptor table slot. Value holds whatever
// component-specific object backs the fd (e.g. a *netstack.Desc or a
// *multiplex.EpollFile); component packages type-assert it back themselves
// so this package never needs to import them.
type Entry struct {
	Kind  fdtable.Kind
	Value any
}

// Cage is one emulated process. Every field is guarded by mu except the
// atomics, which are read from suspension points without holding mu so a
// signal/cancel can interrupt a blocked syscall without contending on the
// fd table lock.
type Cage struct {
	ID uuid.UUID

	mu      sync.RWMutex
	cwd     string
	fds     map[fdtable.FD]*Entry
	nextFD  fdtable.FD
	closing bool

	signaled sync.Map // single bool stored under key "v"; see Signaled/SetSignaled
	canceled sync.Map
}

// New creates a cage rooted at cwd (normally "/") with stdin/stdout/stderr
// pre-populated as stream fds, matching POSIX's fd 0/1/2 convention.
func New(cwd string) *Cage {
	c := &Cage{
		ID:     uuid.New(),
		cwd:    cwd,
		fds:    make(map[fdtable.FD]*Entry),
		nextFD: 3,
	}
	for fd := fdtable.FD(0); fd < 3; fd++ {
		c.fds[fd] = &Entry{Kind: fdtable.KindStream}
	}
	return c
}

// Cwd returns the cage's current working directory.
func (c *Cage) Cwd() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cwd
}

// SetCwd updates the cage's current working directory (chdir).
func (c *Cage) SetCwd(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cwd = path
}

// Install allocates the lowest-numbered free fd for value/kind and returns
// it.
func (c *Cage) Install(kind fdtable.Kind, value any) fdtable.FD {
	c.mu.Lock()
	defer c.mu.Unlock()

	fd := fdtable.FD(0)
	for {
		if _, taken := c.fds[fd]; !taken {
			break
		}
		fd++
	}
	c.fds[fd] = &Entry{Kind: kind, Value: value}
	if fd >= c.nextFD {
		c.nextFD = fd + 1
	}
	return fd
}

// InstallAt installs value/kind at an explicit fd, replacing anything
// already there (used by dup2-style semantics, not otherwise exercised by
// this core's spec).
func (c *Cage) InstallAt(fd fdtable.FD, kind fdtable.Kind, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fds[fd] = &Entry{Kind: kind, Value: value}
}

// Get returns the entry installed at fd, or nil if fd is not open.
func (c *Cage) Get(fd fdtable.FD) *Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fds[fd]
}

// Remove closes fd's table slot and returns what was there, or nil.
func (c *Cage) Remove(fd fdtable.FD) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.fds[fd]
	delete(c.fds, fd)
	return e
}

// Snapshot returns a copy of the fd table for iteration by select/poll/
// epoll_wait without holding the cage lock across kernel calls.
func (c *Cage) Snapshot() map[fdtable.FD]*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[fdtable.FD]*Entry, len(c.fds))
	for k, v := range c.fds {
		out[k] = v
	}
	return out
}

// Signaled reports whether the cage's signal flag is set (spec §5:
// suspension points return EINTR when set).
func (c *Cage) Signaled() bool {
	v, ok := c.signaled.Load("v")
	return ok && v.(bool)
}

// SetSignaled sets or clears the signal flag.
func (c *Cage) SetSignaled(v bool) {
	c.signaled.Store("v", v)
}

// Canceled reports whether the cage's cancellation flag is set (spec §5:
// suspension points park in an infinite cancel-point loop when set).
func (c *Cage) Canceled() bool {
	v, ok := c.canceled.Load("v")
	return ok && v.(bool)
}

// SetCanceled sets or clears the cancel flag.
func (c *Cage) SetCanceled(v bool) {
	c.canceled.Store("v", v)
}
