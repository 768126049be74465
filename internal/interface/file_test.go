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

type FileTest struct {
	suite.Suite
}

func TestFileTestSuite(t *testing.T) {
	suite.Run(t, new(FileTest))
}

func (t *FileTest) path() string {
	return filepath.Join(t.T().TempDir(), "backing")
}

func (t *FileTest) TestWriteAtThenReadAtRoundTrips() {
	f, err := Open(t.path())
	require.Nil(t.T(), err)

	n, err := f.WriteAt([]byte("hello"), 0)
	require.Nil(t.T(), err)
	assert.Equal(t.T(), 5, n)
	assert.EqualValues(t.T(), 5, f.KnownSize())

	buf := make([]byte, 5)
	n, err = f.ReadAt(buf, 0)
	require.Nil(t.T(), err)
	assert.Equal(t.T(), "hello", string(buf[:n]))
}

func (t *FileTest) TestWriteAtExtendsKnownSizeToHighWaterMark() {
	f, err := Open(t.path())
	require.Nil(t.T(), err)

	_, err = f.WriteAt([]byte("abc"), 10)
	require.Nil(t.T(), err)
	assert.EqualValues(t.T(), 13, f.KnownSize())

	_, err = f.WriteAt([]byte("x"), 0)
	require.Nil(t.T(), err)
	assert.EqualValues(t.T(), 13, f.KnownSize(), "a write entirely below the high water mark must not shrink it")
}

func (t *FileTest) TestReadAtBeyondKnownSizePanics() {
	f, err := Open(t.path())
	require.Nil(t.T(), err)

	assert.Panics(t.T(), func() {
		f.ReadAt(make([]byte, 1), 100)
	})
}

func (t *FileTest) TestShrinkRejectsGrowingPastKnownSize() {
	f, err := Open(t.path())
	require.Nil(t.T(), err)
	f.WriteAt([]byte("abc"), 0)

	err = f.Shrink(10)
	assert.NotNil(t.T(), err)
}

func (t *FileTest) TestShrinkTruncatesAndUpdatesKnownSize() {
	f, err := Open(t.path())
	require.Nil(t.T(), err)
	f.WriteAt([]byte("abcdef"), 0)

	require.Nil(t.T(), f.Shrink(3))
	assert.EqualValues(t.T(), 3, f.KnownSize())

	buf, err := f.ReadAllBytes()
	require.Nil(t.T(), err)
	assert.Equal(t.T(), "abc", string(buf))
}

func (t *FileTest) TestAppendAllBytesReplacesContents() {
	f, err := Open(t.path())
	require.Nil(t.T(), err)
	f.WriteAt([]byte("old contents here"), 0)

	require.Nil(t.T(), f.AppendAllBytes([]byte("new")))
	buf, err := f.ReadAllBytes()
	require.Nil(t.T(), err)
	assert.Equal(t.T(), "new", string(buf))
}

func (t *FileTest) TestZerofillAtWritesZeroBytes() {
	f, err := Open(t.path())
	require.Nil(t.T(), err)
	f.WriteAt([]byte("aaaa"), 0)

	n, err := f.ZerofillAt(1, 2)
	require.Nil(t.T(), err)
	assert.Equal(t.T(), 2, n)

	buf, err := f.ReadAllBytes()
	require.Nil(t.T(), err)
	assert.Equal(t.T(), []byte{'a', 0, 0, 'a'}, buf)
}

func (t *FileTest) TestValidateSyncFlagsRejectsUnknownBits() {
	assert.False(t.T(), ValidateSyncFlags(^uint(0)))
}

func (t *FileTest) TestRefcountingClosesOnlyAtZero() {
	f, err := Open(t.path())
	require.Nil(t.T(), err)
	f.IncRef()

	closed, err := f.DecRef()
	require.Nil(t.T(), err)
	assert.False(t.T(), closed, "one reference remains")

	closed, err = f.DecRef()
	require.Nil(t.T(), err)
	assert.True(t.T(), closed)
}
