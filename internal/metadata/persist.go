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
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"time"

	"github.com/yzhang71/safeposix-go/internal/fdtable"
)

// MetadataFileName and LogFileName are the two on-disk artifacts spec.md
// §6 names.
const (
	MetadataFileName = "lind.metadata"
	LogFileName       = "lind.md.log"
)

// persistedInode is the wire form of Inode: RefCount is deliberately
// omitted since spec.md §3/§8 require it reset to 0 on reload.
type persistedInode struct {
	Kind                Kind
	Size                int64
	UID, GID            uint32
	Mode                uint32
	LinkCount           uint32
	AtimeUnixNano       int64
	CtimeUnixNano       int64
	MtimeUnixNano       int64
	Major, Minor        uint32
	Children            map[string]fdtable.InodeNumber
}

func toPersisted(n *Inode) persistedInode {
	return persistedInode{
		Kind:          n.Kind,
		Size:          n.Size,
		UID:           n.UID,
		GID:           n.GID,
		Mode:          n.Mode,
		LinkCount:     n.LinkCount,
		AtimeUnixNano: n.Atime.UnixNano(),
		CtimeUnixNano: n.Ctime.UnixNano(),
		MtimeUnixNano: n.Mtime.UnixNano(),
		Major:         n.Major,
		Minor:         n.Minor,
		Children:      n.Children,
	}
}

func fromPersisted(p persistedInode) *Inode {
	return &Inode{
		Kind:      p.Kind,
		Size:      p.Size,
		UID:       p.UID,
		GID:       p.GID,
		Mode:      p.Mode,
		LinkCount: p.LinkCount,
		RefCount:  0,
		Atime:     time.Unix(0, p.AtimeUnixNano),
		Ctime:     time.Unix(0, p.CtimeUnixNano),
		Mtime:     time.Unix(0, p.MtimeUnixNano),
		Major:     p.Major,
		Minor:     p.Minor,
		Children:  p.Children,
	}
}

// journalRecord is one (inode_number, Some(Inode) | None) entry (spec.md
// §4.3.1). Present=false models the "None" (delete) variant.
type journalRecord struct {
	InodeNum fdtable.InodeNumber
	Present  bool
	Inode    persistedInode
}

// encodeFrame gob-encodes v and prefixes it with its own big-endian uint32
// length, so the journal's data region decodes as a self-delimiting
// sequence of frames without requiring a trailing index (spec.md §4.3.1).
func encodeFrame(v any) ([]byte, error) {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(v); err != nil {
		return nil, err
	}
	frame := make([]byte, 4+body.Len())
	binary.BigEndian.PutUint32(frame[:4], uint32(body.Len()))
	copy(frame[4:], body.Bytes())
	return frame, nil
}

// decodeFrames splits buf into a sequence of gob-decoded journalRecords.
// Returns a tier-3 error (fatal corruption, spec.md §7) if buf is
// truncated or any frame fails to decode.
func decodeFrames(buf []byte) ([]journalRecord, error) {
	var records []journalRecord
	for len(buf) > 0 {
		if len(buf) < 4 {
			return nil, errShortFrame
		}
		n := binary.BigEndian.Uint32(buf[:4])
		buf = buf[4:]
		if uint64(len(buf)) < uint64(n) {
			return nil, errShortFrame
		}
		var rec journalRecord
		if err := gob.NewDecoder(bytes.NewReader(buf[:n])).Decode(&rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
		buf = buf[n:]
	}
	return records, nil
}

// persistedSnapshot is the whole-tree serialized form written to
// lind.metadata.
type persistedSnapshot struct {
	NextInode uint64
	DevID     uint64
	Inodes    map[fdtable.InodeNumber]persistedInode
}

func encodeSnapshot(s persistedSnapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSnapshot(buf []byte) (persistedSnapshot, error) {
	var s persistedSnapshot
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&s); err != nil {
		return persistedSnapshot{}, err
	}
	return s, nil
}
