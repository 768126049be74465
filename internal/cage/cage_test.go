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

package cage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/yzhang71/safeposix-go/internal/fdtable"
)

type CageTest struct {
	suite.Suite
}

func TestCageTestSuite(t *testing.T) {
	suite.Run(t, new(CageTest))
}

func (t *CageTest) TestNewPrepopulatesStdio() {
	c := New("/")

	for fd := fdtable.FD(0); fd <= 2; fd++ {
		e := c.Get(fd)
		require.NotNil(t.T(), e)
		assert.Equal(t.T(), fdtable.KindStream, e.Kind)
	}
	assert.Nil(t.T(), c.Get(fdtable.FD(3)))
}

func (t *CageTest) TestInstallAllocatesLowestFreeFD() {
	c := New("/")

	fd1 := c.Install(fdtable.KindRegularFile, "one")
	fd2 := c.Install(fdtable.KindRegularFile, "two")
	assert.Equal(t.T(), fd1+1, fd2)

	c.Remove(fd1)
	fd3 := c.Install(fdtable.KindRegularFile, "three")
	assert.Equal(t.T(), fd1, fd3, "the freed fd should be reused before growing nextFD")
}

func (t *CageTest) TestRemoveReturnsAndClearsEntry() {
	c := New("/")
	fd := c.Install(fdtable.KindPipe, 42)

	e := c.Remove(fd)
	require.NotNil(t.T(), e)
	assert.Equal(t.T(), 42, e.Value)
	assert.Nil(t.T(), c.Get(fd))
}

func (t *CageTest) TestInstallAtReplacesExisting() {
	c := New("/")
	fd := c.Install(fdtable.KindRegularFile, "old")

	c.InstallAt(fd, fdtable.KindSocket, "new")
	e := c.Get(fd)
	require.NotNil(t.T(), e)
	assert.Equal(t.T(), fdtable.KindSocket, e.Kind)
	assert.Equal(t.T(), "new", e.Value)
}

func (t *CageTest) TestSignaledAndCanceledDefaultFalse() {
	c := New("/")
	assert.False(t.T(), c.Signaled())
	assert.False(t.T(), c.Canceled())

	c.SetSignaled(true)
	c.SetCanceled(true)
	assert.True(t.T(), c.Signaled())
	assert.True(t.T(), c.Canceled())

	c.SetSignaled(false)
	assert.False(t.T(), c.Signaled())
}

func (t *CageTest) TestCwd() {
	c := New("/tmp")
	assert.Equal(t.T(), "/tmp", c.Cwd())
	c.SetCwd("/var")
	assert.Equal(t.T(), "/var", c.Cwd())
}

func (t *CageTest) TestSnapshotIsIndependentCopy() {
	c := New("/")
	fd := c.Install(fdtable.KindRegularFile, "x")

	snap := c.Snapshot()
	require.Contains(t.T(), snap, fd)

	c.Remove(fd)
	_, stillThere := snap[fd]
	assert.True(t.T(), stillThere, "snapshot must not be affected by later mutation")
	assert.Nil(t.T(), c.Get(fd))
}
