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

package logger

import (
	"log/slog"
)

// record is a single buffered log line drained by the async writer goroutine.
type record struct {
	level slog.Level
	msg   string
}

// AsyncLogger buffers log records on a channel so that a hot path (recv,
// send, select, epoll_wait) never blocks on the underlying sink. Dropped
// records (buffer full) are counted rather than applying backpressure to
// the caller, since a lossy debug log beats stalling a syscall.
type AsyncLogger struct {
	ch      chan record
	done    chan struct{}
	dropped uint64
}

// NewAsyncLogger starts a goroutine draining into the package default
// logger and returns a handle that can be used from suspension points in
// internal/multiplex and internal/netstack.
func NewAsyncLogger(bufSize int) *AsyncLogger {
	a := &AsyncLogger{
		ch:   make(chan record, bufSize),
		done: make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncLogger) run() {
	for r := range a.ch {
		switch r.level {
		case slog.LevelDebug:
			Tracef("%s", r.msg)
		case slog.LevelWarn:
			Warnf("%s", r.msg)
		case slog.LevelError:
			Errorf("%s", r.msg)
		default:
			Infof("%s", r.msg)
		}
	}
	close(a.done)
}

// Log enqueues msg at level without blocking; if the buffer is full the
// record is dropped and the drop counter incremented.
func (a *AsyncLogger) Log(level slog.Level, msg string) {
	select {
	case a.ch <- record{level: level, msg: msg}:
	default:
		a.dropped++
	}
}

// Dropped returns the number of records dropped due to a full buffer.
func (a *AsyncLogger) Dropped() uint64 {
	return a.dropped
}

// Close stops accepting new records and waits for the drain goroutine to
// flush everything already enqueued.
func (a *AsyncLogger) Close() {
	close(a.ch)
	<-a.done
}
