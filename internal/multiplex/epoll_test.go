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

package multiplex

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/yzhang71/safeposix-go/internal/cage"
	"github.com/yzhang71/safeposix-go/internal/fdtable"
	"github.com/yzhang71/safeposix-go/internal/netstack"
	"github.com/yzhang71/safeposix-go/internal/portalloc"
	"github.com/yzhang71/safeposix-go/internal/unixpipe"
)

type EpollTest struct {
	suite.Suite
	cg  *cage.Cage
	mux *Mux
}

func TestEpollTestSuite(t *testing.T) {
	suite.Run(t, new(EpollTest))
}

func (t *EpollTest) SetupTest() {
	t.cg = cage.New("/")
	t.mux = &Mux{Cage: t.cg, Stack: netstack.New(nil, portalloc.New(40000, 40010), time.Second)}
}

func (t *EpollTest) TestEpollCreateRejectsNonPositiveSize() {
	_, err := EpollCreate(0)
	require.NotNil(t.T(), err)
}

func (t *EpollTest) TestCtlAddRejectsDuplicate() {
	ef, err := EpollCreate(4)
	require.Nil(t.T(), err)
	fd := t.cg.Install(fdtable.KindRegularFile, "x")

	require.Nil(t.T(), ef.EpollCtl(unix.EPOLL_CTL_ADD, fd, EpollEvent{Events: uint32(pollIn), FD: fd}, false))

	err = ef.EpollCtl(unix.EPOLL_CTL_ADD, fd, EpollEvent{Events: uint32(pollIn), FD: fd}, false)
	require.NotNil(t.T(), err)
	assert.Equal(t.T(), unix.EEXIST, err.Errno)
}

func (t *EpollTest) TestCtlModRequiresExistingEntry() {
	ef, err := EpollCreate(4)
	require.Nil(t.T(), err)
	fd := t.cg.Install(fdtable.KindRegularFile, "x")

	err = ef.EpollCtl(unix.EPOLL_CTL_MOD, fd, EpollEvent{Events: uint32(pollOut), FD: fd}, false)
	require.NotNil(t.T(), err)
}

func (t *EpollTest) TestCtlDelRemovesEntry() {
	ef, err := EpollCreate(4)
	require.Nil(t.T(), err)
	fd := t.cg.Install(fdtable.KindRegularFile, "x")

	require.Nil(t.T(), ef.EpollCtl(unix.EPOLL_CTL_ADD, fd, EpollEvent{Events: uint32(pollIn), FD: fd}, false))
	require.Nil(t.T(), ef.EpollCtl(unix.EPOLL_CTL_DEL, fd, EpollEvent{}, false))

	// a second DEL of an already-removed fd is a no-op, not an error
	require.Nil(t.T(), ef.EpollCtl(unix.EPOLL_CTL_DEL, fd, EpollEvent{}, false))
}

func (t *EpollTest) TestCtlRejectsEpollTargetingItself() {
	ef, err := EpollCreate(4)
	require.Nil(t.T(), err)
	err = ef.EpollCtl(unix.EPOLL_CTL_ADD, 3, EpollEvent{}, true)
	require.NotNil(t.T(), err)
}

func (t *EpollTest) TestWaitLevelTriggeredReportsEveryPass() {
	ef, err := EpollCreate(4)
	require.Nil(t.T(), err)

	p := unixpipe.New()
	p.Write([]byte("x"))
	fd := t.cg.Install(fdtable.KindPipe, p)
	require.Nil(t.T(), ef.EpollCtl(unix.EPOLL_CTL_ADD, fd, EpollEvent{Events: uint32(pollIn), FD: fd}, false))

	zero := time.Duration(0)

	events, perr := t.mux.EpollWait(ef, 8, &zero)
	require.Nil(t.T(), perr)
	require.Len(t.T(), events, 1)
	assert.Equal(t.T(), fd, events[0].FD)

	// level-triggered: still ready, still reported on a second pass.
	events, perr = t.mux.EpollWait(ef, 8, &zero)
	require.Nil(t.T(), perr)
	assert.Len(t.T(), events, 1)
}

func (t *EpollTest) TestWaitEdgeTriggeredSuppressesRepeat() {
	ef, err := EpollCreate(4)
	require.Nil(t.T(), err)

	p := unixpipe.New()
	p.Write([]byte("x"))
	fd := t.cg.Install(fdtable.KindPipe, p)
	require.Nil(t.T(), ef.EpollCtl(unix.EPOLL_CTL_ADD, fd, EpollEvent{Events: uint32(pollIn) | EpollET, FD: fd}, false))

	zero := time.Duration(0)

	events, perr := t.mux.EpollWait(ef, 8, &zero)
	require.Nil(t.T(), perr)
	require.Len(t.T(), events, 1, "first pass reports the not-ready-to-ready edge")

	events, perr = t.mux.EpollWait(ef, 8, &zero)
	require.Nil(t.T(), perr)
	assert.Len(t.T(), events, 0, "edge-triggered: still ready but no new edge, so no report")
}

func (t *EpollTest) TestWaitPrunesClosedFD() {
	ef, err := EpollCreate(4)
	require.Nil(t.T(), err)

	p := unixpipe.New()
	fd := t.cg.Install(fdtable.KindPipe, p)
	require.Nil(t.T(), ef.EpollCtl(unix.EPOLL_CTL_ADD, fd, EpollEvent{Events: uint32(pollIn), FD: fd}, false))

	t.cg.Remove(fd)

	zero := time.Duration(0)
	events, perr := t.mux.EpollWait(ef, 8, &zero)
	require.Nil(t.T(), perr)
	assert.Len(t.T(), events, 0)

	err = ef.EpollCtl(unix.EPOLL_CTL_MOD, fd, EpollEvent{}, false)
	assert.NotNil(t.T(), err, "the stale registration must have been pruned")
}
