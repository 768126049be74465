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

// Package logger wraps log/slog with the level knob and lazily-initialized
// default logger the rest of this module logs through.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	programLevel = new(slog.LevelVar)
	mu           sync.Mutex
	defaultLog   *slog.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: programLevel}))
)

// SetLogLevel adjusts the minimum level emitted by the default logger.
func SetLogLevel(level slog.Level) {
	programLevel.Set(level)
}

// SetOutput redirects the default logger's sink, rotating through
// lumberjack when path is non-empty (mirrors the teacher's debug log file
// wiring for long-running mounts).
func SetOutput(path string) {
	mu.Lock()
	defer mu.Unlock()

	var w io.Writer = os.Stderr
	if path != "" {
		w = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50, // megabytes
			MaxBackups: 3,
			MaxAge:     7, // days
		}
	}
	defaultLog = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: programLevel}))
}

func logger() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return defaultLog
}

// Tracef logs at debug level, gated behind programLevel so hot syscall
// paths (recv/send/select) pay for formatting only when debug logging is on.
func Tracef(format string, args ...any) {
	l := logger()
	if !l.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	l.Debug(fmt.Sprintf(format, args...))
}

// Infof logs at info level.
func Infof(format string, args ...any) {
	logger().Info(fmt.Sprintf(format, args...))
}

// Warnf logs at warn level.
func Warnf(format string, args ...any) {
	logger().Warn(fmt.Sprintf(format, args...))
}

// Errorf logs at error level.
func Errorf(format string, args ...any) {
	logger().Error(fmt.Sprintf(format, args...))
}

// Fatal logs at error level then terminates the process. Reserved for tier-3
// fatal-corruption handling (spec §7): a deserialization failure of the
// metadata snapshot or a journal record leaves the process unable to
// continue with an unknown metadata state.
func Fatal(format string, args ...any) {
	logger().Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}
