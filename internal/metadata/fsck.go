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

import "github.com/yzhang71/safeposix-go/internal/logger"

// fsck runs after journal replay (spec.md §4.3.3): retains inodes whose
// invariants hold — files/chardevs with linkcount > 0, directories with
// linkcount > 2 — and always drops orphan sockets (replayed sockets have
// no live connect/accept state to rebind to).
func (s *Store) fsck() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for num, n := range s.inodes {
		switch n.Kind {
		case KindSocket:
			logger.Warnf("metadata: fsck dropping orphan socket inode %d", num)
			delete(s.inodes, num)
		case KindDirectory:
			if n.LinkCount <= 2 {
				logger.Warnf("metadata: fsck dropping directory inode %d with linkcount %d", num, n.LinkCount)
				delete(s.inodes, num)
			}
		default: // regular file, char device
			if n.LinkCount == 0 {
				logger.Warnf("metadata: fsck dropping inode %d with linkcount 0", num)
				delete(s.inodes, num)
			}
		}
	}
}
