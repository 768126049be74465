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

import "sync"

// Pool is the process-wide FileObjectTable (spec.md §4.1): multiple cages
// may hold fds referencing the same backing file, so opens are
// deduplicated by filename and shared through reference counting.
type Pool struct {
	mu    sync.Mutex
	files map[string]*EmulatedFile
}

// NewPool returns an empty file object pool.
func NewPool() *Pool {
	return &Pool{files: make(map[string]*EmulatedFile)}
}

// Acquire returns the shared EmulatedFile for filename, opening it if this
// is the first reference.
func (p *Pool) Acquire(filename string) (*EmulatedFile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if f, ok := p.files[filename]; ok {
		f.IncRef()
		return f, nil
	}
	f, err := Open(filename)
	if err != nil {
		return nil, err
	}
	p.files[filename] = f
	return f, nil
}

// Release drops a reference to f, removing it from the pool once its
// refcount reaches zero.
func (p *Pool) Release(f *EmulatedFile) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	closed, err := f.DecRef()
	if closed {
		delete(p.files, f.filename)
	}
	return err
}
