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

package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ShmTest struct {
	suite.Suite
}

func TestShmTestSuite(t *testing.T) {
	suite.Run(t, new(ShmTest))
}

func (t *ShmTest) newStore() *Store {
	s, err := Format(t.T().TempDir())
	require.Nil(t.T(), err)
	return s
}

func (t *ShmTest) TestCreateThenAttachSharesTheSameMapping() {
	s := t.newStore()
	seg, err := s.ShmCreate("k1", 4096)
	require.Nil(t.T(), err)

	buf := seg.Attach()
	require.Len(t.T(), buf, 4096)
	buf[0] = 0x42

	seg2, err := s.ShmCreate("k1", 4096)
	require.Nil(t.T(), err, "a second create with the same key/size returns the existing segment")
	assert.Same(t.T(), seg, seg2)

	buf2 := seg2.Attach()
	assert.Equal(t.T(), byte(0x42), buf2[0], "attach must expose the same backing pages")
}

func (t *ShmTest) TestCreateWithMismatchedSizeFails() {
	s := t.newStore()
	_, err := s.ShmCreate("k2", 4096)
	require.Nil(t.T(), err)

	_, err = s.ShmCreate("k2", 8192)
	assert.NotNil(t.T(), err, "re-creating an existing key with a different size must fail")
}

func (t *ShmTest) TestDetachBeforeRemoveKeepsMappingAlive() {
	s := t.newStore()
	seg, err := s.ShmCreate("k3", 4096)
	require.Nil(t.T(), err)
	seg.Attach()

	removed, err := seg.Detach()
	require.Nil(t.T(), err)
	assert.False(t.T(), removed, "detach without a prior Remove must not tear the mapping down")
}

func (t *ShmTest) TestRemoveTearsDownOnceLastAttacherDetaches() {
	s := t.newStore()
	seg, err := s.ShmCreate("k4", 4096)
	require.Nil(t.T(), err)
	seg.Attach()

	require.Nil(t.T(), s.ShmRemove("k4"))

	removed, err := seg.Detach()
	require.Nil(t.T(), err)
	assert.True(t.T(), removed, "the final detach after Remove must tear down the mapping")
}

func (t *ShmTest) TestRemoveUnknownKeyFails() {
	s := t.newStore()
	err := s.ShmRemove("nonexistent")
	assert.NotNil(t.T(), err)
}
