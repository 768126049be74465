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

// Package kernel wraps the golang.org/x/sys/unix calls this layer issues
// against the host kernel (socket/bind/connect/accept/listen/setsockopt/
// select/mmap/fsync/sync_file_range), and the fixed errno translation
// table spec.md §7 requires ("kernel errno is translated through a fixed
// enum; unknown values abort").
package kernel

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/yzhang71/safeposix-go/internal/logger"
)

// knownErrno is the fixed set spec.md §6 lists as the errno surface this
// layer understands.
var knownErrno = map[unix.Errno]bool{
	unix.EBADF:       true,
	unix.EINVAL:      true,
	unix.ENOTSOCK:    true,
	unix.ENOTCONN:    true,
	unix.EISCONN:     true,
	unix.EADDRINUSE:  true,
	unix.EAGAIN:      true,
	unix.EINPROGRESS: true,
	unix.EOPNOTSUPP:  true,
	unix.ENOENT:      true,
	unix.ENOTDIR:     true,
	unix.EEXIST:      true,
	unix.EFAULT:      true,
	unix.EILSEQ:      true,
	unix.ENOPROTOOPT: true,
	unix.EINTR:       true,
}

// TranslateErrno maps a raw error returned by a golang.org/x/sys/unix call
// to the fixed errno this layer understands. A value outside the fixed set
// is a tier-2 programmer error (spec.md §7): it means the kernel surfaced
// something this layer never accounted for, and the caller cannot safely
// continue guessing at semantics it doesn't model.
func TranslateErrno(op string, err error) unix.Errno {
	if err == nil {
		return 0
	}
	errno, ok := err.(unix.Errno)
	if !ok {
		logger.Fatal("kernel: %s returned non-errno error %v", op, err)
		return unix.EIO
	}
	if !knownErrno[errno] {
		panic(fmt.Sprintf("kernel: %s returned unmapped errno %v", op, errno))
	}
	return errno
}
