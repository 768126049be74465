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

package fdtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInodeNumberString(t *testing.T) {
	assert.Equal(t, "ino1", RootInode.String())
	assert.Equal(t, "ino42", InodeNumber(42).String())
}

func TestReservedInodesAreDistinctAndBelowFirstUserInode(t *testing.T) {
	reserved := []InodeNumber{RootInode, DevInode, DevNullInode, DevZeroInode, DevURandomInode, DevRandomInode, TmpInode}
	seen := map[InodeNumber]bool{}
	for _, n := range reserved {
		assert.False(t, seen[n], "reserved inode numbers must be distinct")
		seen[n] = true
		assert.Less(t, n, FirstUserInode)
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindSocket:      "socket",
		KindRegularFile: "file",
		KindPipe:        "pipe",
		KindEpoll:       "epoll",
		KindStream:      "stream",
		KindUnknown:     "unknown",
	}
	for k, want := range cases {
		assert.Equal(t, want, k.String())
	}
}
