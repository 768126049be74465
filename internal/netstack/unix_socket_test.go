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

// These tests deliberately stay within AF_UNIX: the rendezvous/pipe
// machinery is fully emulated in-process, so it can be exercised without
// a live host kernel socket (unlike the AF_INET branches, which this
// package always forwards straight to golang.org/x/sys/unix).
package netstack

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/yzhang71/safeposix-go/internal/cage"
	"github.com/yzhang71/safeposix-go/internal/metadata"
	"github.com/yzhang71/safeposix-go/internal/portalloc"
)

type UnixSocketTest struct {
	suite.Suite
	store *metadata.Store
	stack *Stack
	cg    *cage.Cage
}

func TestUnixSocketTestSuite(t *testing.T) {
	suite.Run(t, new(UnixSocketTest))
}

func (t *UnixSocketTest) SetupTest() {
	store, err := metadata.Format(t.T().TempDir())
	require.Nil(t.T(), err)
	t.store = store
	t.stack = New(store, portalloc.New(50000, 50010), time.Second)
	t.cg = cage.New("/")
}

func (t *UnixSocketTest) newUnixStream() *Desc {
	d, err := t.stack.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.Nil(t.T(), err)
	return d
}

func (t *UnixSocketTest) TestSocketRejectsUnsupportedDomain() {
	_, err := t.stack.Socket(999, unix.SOCK_STREAM, 0)
	require.NotNil(t.T(), err)
	assert.Equal(t.T(), unix.EOPNOTSUPP, err.Errno)
}

func (t *UnixSocketTest) TestSocketMasksNonblockAndCloexecFlags() {
	d, err := t.stack.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.Nil(t.T(), err)
	assert.NotZero(t.T(), d.Flags&unix.O_NONBLOCK)
	assert.NotZero(t.T(), d.Flags&unix.O_CLOEXEC)
}

func (t *UnixSocketTest) TestBindUnixThenSecondBindSameFDFails() {
	d := t.newUnixStream()
	require.Nil(t.T(), t.stack.BindUnix(d, "/", "/a-socket"))

	err := t.stack.BindUnix(d, "/", "/another-socket")
	require.NotNil(t.T(), err)
	assert.Equal(t.T(), unix.EINVAL, err.Errno)
}

func (t *UnixSocketTest) TestBindUnixDuplicatePathFailsWithAddrInUse() {
	d1 := t.newUnixStream()
	require.Nil(t.T(), t.stack.BindUnix(d1, "/", "/dup"))

	d2 := t.newUnixStream()
	err := t.stack.BindUnix(d2, "/", "/dup")
	require.NotNil(t.T(), err)
	assert.Equal(t.T(), unix.EADDRINUSE, err.Errno)
}

func (t *UnixSocketTest) TestBindUnixMissingParentFailsWithNoEnt() {
	d := t.newUnixStream()
	err := t.stack.BindUnix(d, "/", "/nonexistent-dir/sock")
	require.NotNil(t.T(), err)
	assert.Equal(t.T(), unix.ENOENT, err.Errno)
}

func (t *UnixSocketTest) TestBindUnixThroughNonDirectoryFailsWithNotDir() {
	// bind under the well-known /dev/null leaf, which is not a directory.
	d := t.newUnixStream()
	err := t.stack.BindUnix(d, "/", "/dev/null/sock")
	require.NotNil(t.T(), err)
	assert.Equal(t.T(), unix.ENOTDIR, err.Errno)
}

func (t *UnixSocketTest) TestSocketpairIsImmediatelyConnectedAndExchangesData() {
	d0, d1, err := t.stack.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.Nil(t.T(), err)

	n, serr := t.stack.Send(d0, []byte("ping"), 0)
	require.Nil(t.T(), serr)
	assert.Equal(t.T(), 4, n)

	buf := make([]byte, 16)
	n, rerr := t.stack.Recv(d1, t.cg, buf, 0)
	require.Nil(t.T(), rerr)
	assert.Equal(t.T(), "ping", string(buf[:n]))
}

func (t *UnixSocketTest) TestConnectUnixNonblockingThenAcceptCompletesRendezvous() {
	listener := t.newUnixStream()
	require.Nil(t.T(), t.stack.BindUnix(listener, "/", "/listener"))
	require.Nil(t.T(), t.stack.Listen(listener, 5))

	connector, err := t.stack.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.Nil(t.T(), err)

	require.Nil(t.T(), t.stack.ConnectUnix(connector, t.cg, "/", "/listener"))

	accepted, aerr := t.stack.AcceptUnix(listener, t.cg)
	require.Nil(t.T(), aerr)
	require.NotNil(t.T(), accepted)

	n, serr := t.stack.Send(connector, []byte("hi"), 0)
	require.Nil(t.T(), serr)
	assert.Equal(t.T(), 2, n)

	buf := make([]byte, 8)
	n, rerr := t.stack.Recv(accepted, t.cg, buf, 0)
	require.Nil(t.T(), rerr)
	assert.Equal(t.T(), "hi", string(buf[:n]))
}

func (t *UnixSocketTest) TestAcceptUnixNonblockingEAgainWhenNoPendingConnect() {
	listener := t.newUnixStream()
	require.Nil(t.T(), t.stack.BindUnix(listener, "/", "/listener2"))
	require.Nil(t.T(), t.stack.Listen(listener, 5))

	nbListener, err := t.stack.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.Nil(t.T(), err)
	require.Nil(t.T(), t.stack.BindUnix(nbListener, "/", "/listener3"))
	require.Nil(t.T(), t.stack.Listen(nbListener, 5))

	_, aerr := t.stack.AcceptUnix(nbListener, t.cg)
	require.NotNil(t.T(), aerr)
	assert.Equal(t.T(), unix.EAGAIN, aerr.Errno)
}

func (t *UnixSocketTest) TestAcceptRejectsNonListeningHandle() {
	d := t.newUnixStream()
	_, err := t.stack.AcceptUnix(d, t.cg)
	require.NotNil(t.T(), err)
	assert.Equal(t.T(), unix.EINVAL, err.Errno)
}

func (t *UnixSocketTest) TestShutdownTransitionsAndRejectsUnconnected() {
	d0, d1, err := t.stack.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.Nil(t.T(), err)
	_ = d1

	require.Nil(t.T(), t.stack.Shutdown(d0, unix.SHUT_WR))
	assert.Equal(t.T(), ConnRDOnly, d0.Handle.state)

	// ConnRDOnly + SHUT_RD -> still ConnRDOnly per the fixed table.
	require.Nil(t.T(), t.stack.Shutdown(d0, unix.SHUT_RD))
	assert.Equal(t.T(), ConnRDOnly, d0.Handle.state)

	fresh := t.newUnixStream()
	err = t.stack.Shutdown(fresh, unix.SHUT_RDWR)
	require.NotNil(t.T(), err)
	assert.Equal(t.T(), unix.ENOTCONN, err.Errno)
}

func (t *UnixSocketTest) TestSetSockOptThenGetSockOptRoundTrips() {
	d := t.newUnixStream()
	require.Nil(t.T(), t.stack.SetSockOpt(d, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1))

	v, err := t.stack.GetSockOpt(d, unix.SOL_SOCKET, unix.SO_KEEPALIVE)
	require.Nil(t.T(), err)
	assert.Equal(t.T(), 1, v)
}

func (t *UnixSocketTest) TestGetSockOptRejectsUnknownOption() {
	d := t.newUnixStream()
	_, err := t.stack.GetSockOpt(d, unix.SOL_SOCKET, 0xDEADBEEF)
	require.NotNil(t.T(), err)
	assert.Equal(t.T(), unix.EOPNOTSUPP, err.Errno)
}

func (t *UnixSocketTest) TestGetSockNameAndGetPeerNameAfterBindAndConnect() {
	listener := t.newUnixStream()
	require.Nil(t.T(), t.stack.BindUnix(listener, "/", "/named-listener"))

	sa, err := t.stack.GetSockName(listener)
	require.Nil(t.T(), err)
	assert.Equal(t.T(), "/named-listener", sa.(*unix.SockaddrUnix).Name)

	d := t.newUnixStream()
	_, err = t.stack.GetPeerName(d)
	require.NotNil(t.T(), err)
	assert.Equal(t.T(), unix.ENOTCONN, err.Errno)
}

func (t *UnixSocketTest) TestFlockExclusiveThenNonBlockingExclusiveFails() {
	d := t.newUnixStream()
	require.Nil(t.T(), d.Flock(unix.LOCK_EX))

	err := d.Flock(unix.LOCK_EX | unix.LOCK_NB)
	require.NotNil(t.T(), err)
	assert.Equal(t.T(), unix.EAGAIN, err.Errno)

	require.Nil(t.T(), d.Flock(unix.LOCK_UN))
	assert.Nil(t.T(), d.Flock(unix.LOCK_EX|unix.LOCK_NB))
}

func (t *UnixSocketTest) TestCloseUnbindsDomsockPath() {
	d := t.newUnixStream()
	require.Nil(t.T(), t.stack.BindUnix(d, "/", "/closeme"))
	assert.True(t.T(), t.stack.Registry.DomsockPathBound("/closeme"))

	require.Nil(t.T(), t.stack.Close(d))
	assert.False(t.T(), t.stack.Registry.DomsockPathBound("/closeme"))
}

func (t *UnixSocketTest) TestReadableUnixReflectsRendezvousAndPipeState() {
	listener := t.newUnixStream()
	require.Nil(t.T(), t.stack.BindUnix(listener, "/", "/readiness-listener"))
	require.Nil(t.T(), t.stack.Listen(listener, 5))
	assert.False(t.T(), listener.ReadableUnix(t.stack.Registry))

	connector, err := t.stack.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.Nil(t.T(), err)
	require.Nil(t.T(), t.stack.ConnectUnix(connector, t.cg, "/", "/readiness-listener"))
	assert.True(t.T(), listener.ReadableUnix(t.stack.Registry))

	accepted, aerr := t.stack.AcceptUnix(listener, t.cg)
	require.Nil(t.T(), aerr)
	assert.False(t.T(), accepted.ReadableUnix(t.stack.Registry), "no bytes written yet")

	t.stack.Send(connector, []byte("x"), 0)
	assert.True(t.T(), accepted.ReadableUnix(t.stack.Registry))
}
