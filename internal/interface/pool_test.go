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

package ifc

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type PoolTest struct {
	suite.Suite
}

func TestPoolTestSuite(t *testing.T) {
	suite.Run(t, new(PoolTest))
}

func (t *PoolTest) TestAcquireTwiceSharesTheSameHandle() {
	p := NewPool()
	path := filepath.Join(t.T().TempDir(), "f")

	a, err := p.Acquire(path)
	require.Nil(t.T(), err)
	b, err := p.Acquire(path)
	require.Nil(t.T(), err)
	assert.Same(t.T(), a, b)

	a.WriteAt([]byte("v"), 0)
	buf, err := b.ReadAllBytes()
	require.Nil(t.T(), err)
	assert.Equal(t.T(), "v", string(buf))
}

func (t *PoolTest) TestReleaseRemovesFromPoolOnlyAtZeroRefs() {
	p := NewPool()
	path := filepath.Join(t.T().TempDir(), "f")

	a, err := p.Acquire(path)
	require.Nil(t.T(), err)
	b, err := p.Acquire(path)
	require.Nil(t.T(), err)

	require.Nil(t.T(), p.Release(a))
	_, stillPresent := p.files[path]
	assert.True(t.T(), stillPresent, "one reference remains")

	require.Nil(t.T(), p.Release(b))
	_, stillPresent = p.files[path]
	assert.False(t.T(), stillPresent)
}

func (t *PoolTest) TestAcquireAfterFullReleaseReopens() {
	p := NewPool()
	path := filepath.Join(t.T().TempDir(), "f")

	a, err := p.Acquire(path)
	require.Nil(t.T(), err)
	require.Nil(t.T(), p.Release(a))

	c, err := p.Acquire(path)
	require.Nil(t.T(), err)
	assert.NotSame(t.T(), a, c)
}
