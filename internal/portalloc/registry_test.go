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

package portalloc

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/yzhang71/safeposix-go/internal/unixpipe"
)

type RegistryTest struct {
	suite.Suite
	r *Registry
}

func TestRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(RegistryTest))
}

func (t *RegistryTest) SetupTest() {
	t.r = New(40000, 40010)
}

func (t *RegistryTest) TestReserveRequestedPortThenConflict() {
	port, err := t.r.ReserveLocalPort("0.0.0.0", 8080, unix.IPPROTO_TCP, unix.AF_INET, false)
	require.Nil(t.T(), err)
	assert.EqualValues(t.T(), 8080, port)

	_, err = t.r.ReserveLocalPort("0.0.0.0", 8080, unix.IPPROTO_TCP, unix.AF_INET, false)
	require.NotNil(t.T(), err)
	assert.Equal(t.T(), unix.EADDRINUSE, err.Errno)
}

func (t *RegistryTest) TestReserveRequestedPortReuseIntentStacks() {
	_, err := t.r.ReserveLocalPort("0.0.0.0", 9090, unix.IPPROTO_TCP, unix.AF_INET, true)
	require.Nil(t.T(), err)

	port, err := t.r.ReserveLocalPort("0.0.0.0", 9090, unix.IPPROTO_TCP, unix.AF_INET, true)
	require.Nil(t.T(), err, "two reservations both opting into rebind should stack")
	assert.EqualValues(t.T(), 9090, port)
}

func (t *RegistryTest) TestReserveEphemeralScansRangeThenExhausts() {
	seen := map[uint16]bool{}
	for i := 0; i < 11; i++ {
		port, err := t.r.ReserveLocalPort("0.0.0.0", 0, unix.IPPROTO_TCP, unix.AF_INET, false)
		require.Nil(t.T(), err)
		assert.False(t.T(), seen[port], "ephemeral ports must not repeat while all are reserved")
		seen[port] = true
	}
	_, err := t.r.ReserveLocalPort("0.0.0.0", 0, unix.IPPROTO_TCP, unix.AF_INET, false)
	require.NotNil(t.T(), err, "the ephemeral range [40000,40010] is exhausted after 11 reservations")
	assert.Equal(t.T(), unix.EADDRINUSE, err.Errno)
}

func (t *RegistryTest) TestReleaseFreesPortForReuse() {
	port, _ := t.r.ReserveLocalPort("0.0.0.0", 7000, unix.IPPROTO_TCP, unix.AF_INET, false)
	t.r.ReleaseLocalPort("0.0.0.0", port, unix.IPPROTO_TCP, unix.AF_INET)

	_, err := t.r.ReserveLocalPort("0.0.0.0", port, unix.IPPROTO_TCP, unix.AF_INET, false)
	assert.Nil(t.T(), err, "a released port must be reservable again")
}

func (t *RegistryTest) TestListeningSet() {
	key := MuxKey{Addr: "0.0.0.0", Port: 80, Family: unix.AF_INET, Transport: unix.IPPROTO_TCP}
	assert.False(t.T(), t.r.IsListening(key))

	t.r.MarkListening(key)
	assert.True(t.T(), t.r.IsListening(key))

	t.r.Unlisten(key)
	assert.False(t.T(), t.r.IsListening(key))
}

func (t *RegistryTest) TestUnlistenDrainsPendingQueue() {
	key := MuxKey{Addr: "0.0.0.0", Port: 80, Family: unix.AF_INET, Transport: unix.IPPROTO_TCP}
	t.r.MarkListening(key)
	t.r.PushPending(key, PendingConn{KernelFD: 7})
	require.True(t.T(), t.r.HasPending(key))

	t.r.Unlisten(key)
	assert.False(t.T(), t.r.HasPending(key), "unlisten must drop any queued pending connections")
}

func (t *RegistryTest) TestPendingQueueFIFO() {
	key := MuxKey{Addr: "0.0.0.0", Port: 80, Family: unix.AF_INET, Transport: unix.IPPROTO_TCP}
	t.r.PushPending(key, PendingConn{KernelFD: 1})
	t.r.PushPending(key, PendingConn{KernelFD: 2})

	c, ok := t.r.PopPending(key)
	require.True(t.T(), ok)
	assert.Equal(t.T(), 1, c.KernelFD)

	c, ok = t.r.PopPending(key)
	require.True(t.T(), ok)
	assert.Equal(t.T(), 2, c.KernelFD)

	_, ok = t.r.PopPending(key)
	assert.False(t.T(), ok)
}

func (t *RegistryTest) TestDomsockPathLifecycle() {
	path := "/tmp/.socket-test"
	assert.False(t.T(), t.r.DomsockPathBound(path))

	require.Nil(t.T(), t.r.BindDomsockPath(path))
	assert.True(t.T(), t.r.DomsockPathBound(path))

	err := t.r.BindDomsockPath(path)
	require.NotNil(t.T(), err, "binding an already-bound path must fail")
	assert.Equal(t.T(), unix.EADDRINUSE, err.Errno)

	t.r.UnbindDomsockPath(path)
	assert.False(t.T(), t.r.DomsockPathBound(path))
}

func (t *RegistryTest) TestRendezvousPublishTakePeek() {
	entry := NewNonBlockingEntry("/listener", unixpipe.New(), unixpipe.New())
	assert.False(t.T(), t.r.PeekRendezvous("/listener"))

	t.r.PublishRendezvous("/listener", entry)
	assert.True(t.T(), t.r.PeekRendezvous("/listener"))

	got, ok := t.r.TakeRendezvous("/listener")
	require.True(t.T(), ok)
	assert.Same(t.T(), entry, got)

	_, ok = t.r.TakeRendezvous("/listener")
	assert.False(t.T(), ok, "take is consuming: a second take must find nothing")
}

func (t *RegistryTest) TestBlockingEntrySignal() {
	entry := NewBlockingEntry("/listener", unixpipe.New(), unixpipe.New())
	assert.False(t.T(), entry.Signaled)

	entry.Signal()
	assert.True(t.T(), entry.Signaled)
}

func (t *RegistryTest) TestNonBlockingEntrySignalIsNoop() {
	entry := NewNonBlockingEntry("/listener", unixpipe.New(), unixpipe.New())
	assert.NotPanics(t.T(), entry.Signal)
}
