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
	"strings"

	"github.com/yzhang71/safeposix-go/internal/fdtable"
)

// Normpath normalizes p against cwd (spec.md §4.3.2): if p is relative,
// prefix it with cwd; then consume ".." components by popping the
// preceding component, and drop "." and empty components. The result
// always starts with "/".
func Normpath(p string, cwd string) string {
	if !strings.HasPrefix(p, "/") {
		p = cwd + "/" + p
	}
	parts := strings.Split(p, "/")
	var stack []string
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, part)
		}
	}
	return "/" + strings.Join(stack, "/")
}

// splitComponents returns the non-empty path components of a normalized
// path (one that Normpath has already produced): no ".", "..", or prefix
// components survive (spec.md §4.3.2).
func splitComponents(normalized string) []string {
	var out []string
	for _, part := range strings.Split(normalized, "/") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// WalkResult is the outcome of a Metawalk.
type WalkResult struct {
	Inode       fdtable.InodeNumber
	InodeObj    *Inode
	Found       bool
	Parent      fdtable.InodeNumber
	ParentObj   *Inode
	HasParent   bool
}

// Metawalk resolves a normalized path from root, consuming one component
// at a time (spec.md §4.3.2). Callers must pass an already-normalized
// path (via Normpath); Metawalk itself only ever walks "/" and plain
// names, rejecting nothing else because Normpath has already stripped
// "."/".."/empty components.
func (s *Store) Metawalk(normalized string) WalkResult {
	components := splitComponents(normalized)

	curNum := fdtable.RootInode
	cur := s.Get(curNum)
	if cur == nil {
		return WalkResult{}
	}
	if len(components) == 0 {
		return WalkResult{Inode: curNum, InodeObj: cur, Found: true, Parent: curNum, ParentObj: cur, HasParent: true}
	}

	var parentNum fdtable.InodeNumber
	var parentObj *Inode
	for i, name := range components {
		parentNum, parentObj = curNum, cur

		cur.RLock()
		isDir := cur.IsDir()
		var childNum fdtable.InodeNumber
		var ok bool
		if isDir {
			childNum, ok = cur.Children[name]
		}
		cur.RUnlock()

		if !isDir {
			return WalkResult{Parent: parentNum, ParentObj: parentObj, HasParent: true}
		}
		if !ok {
			if i == len(components)-1 {
				return WalkResult{Parent: parentNum, ParentObj: parentObj, HasParent: true}
			}
			return WalkResult{}
		}
		child := s.Get(childNum)
		if child == nil {
			return WalkResult{}
		}
		curNum, cur = childNum, child
	}

	return WalkResult{
		Inode: curNum, InodeObj: cur, Found: true,
		Parent: parentNum, ParentObj: parentObj, HasParent: true,
	}
}

// PathnameFromInodeNum walks parents via each directory's ".." entry,
// prepending names, stopping at root (spec.md §4.3.2). Returns false if
// any link in the chain is broken.
func (s *Store) PathnameFromInodeNum(num fdtable.InodeNumber) (string, bool) {
	if num == fdtable.RootInode {
		return "/", true
	}

	var components []string
	cur := num
	for i := 0; i < 1<<20; i++ { // bounded: a well-formed tree has finite depth
		n := s.Get(cur)
		if n == nil {
			return "", false
		}
		parentName, name, ok := s.findParentAndName(cur, n)
		if !ok {
			return "", false
		}
		components = append([]string{name}, components...)
		if parentName == fdtable.RootInode {
			break
		}
		cur = parentName
	}
	return "/" + strings.Join(components, "/"), true
}

// findParentAndName returns the parent inode number of n (via its ".."
// entry) and the name n is registered under in that parent's children.
func (s *Store) findParentAndName(num fdtable.InodeNumber, n *Inode) (parent fdtable.InodeNumber, name string, ok bool) {
	if !n.IsDir() {
		// Regular files/sockets/chardevs don't carry their own "..": the
		// caller must locate them by scanning their parent's children,
		// which this store does not track in reverse. Directories are the
		// only inodes this layer needs reverse-resolvable (mkdir/rmdir,
		// cwd tracking); non-directories are addressed by fd, not by path,
		// once open.
		return 0, "", false
	}
	n.RLock()
	parent, hasParent := n.Children[".."]
	n.RUnlock()
	if !hasParent {
		return 0, "", false
	}

	p := s.Get(parent)
	if p == nil {
		return 0, "", false
	}
	p.RLock()
	defer p.RUnlock()
	for childName, childNum := range p.Children {
		if childName == "." || childName == ".." {
			continue
		}
		if childNum == num {
			return parent, childName, true
		}
	}
	return 0, "", false
}
