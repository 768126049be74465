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
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type LoggerTest struct {
	suite.Suite
	savedLevel *slog.LevelVar
}

func TestLoggerTestSuite(t *testing.T) {
	suite.Run(t, new(LoggerTest))
}

func (t *LoggerTest) SetupTest() {
	SetLogLevel(slog.LevelInfo)
	SetOutput("")
}

func (t *LoggerTest) TearDownTest() {
	SetLogLevel(slog.LevelInfo)
	SetOutput("")
}

func (t *LoggerTest) TestTracefIsSuppressedBelowDebugLevel() {
	var buf bytes.Buffer
	mu.Lock()
	defaultLog = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: programLevel}))
	mu.Unlock()

	SetLogLevel(slog.LevelInfo)
	Tracef("hidden: %s", "x")
	assert.Empty(t.T(), buf.String())

	SetLogLevel(slog.LevelDebug)
	Tracef("visible: %s", "y")
	assert.Contains(t.T(), buf.String(), "visible: y")
}

func (t *LoggerTest) TestInfofWarnfErrorfFormatArgs() {
	var buf bytes.Buffer
	mu.Lock()
	defaultLog = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: programLevel}))
	mu.Unlock()

	Infof("count=%d", 3)
	Warnf("near limit: %s", "inodes")
	Errorf("failed: %v", "boom")

	out := buf.String()
	assert.Contains(t.T(), out, "count=3")
	assert.Contains(t.T(), out, "near limit: inodes")
	assert.Contains(t.T(), out, "failed: boom")
}

func (t *LoggerTest) TestSetOutputRotatesThroughLumberjackWhenPathGiven() {
	path := filepath.Join(t.T().TempDir(), "safeposix.log")
	SetOutput(path)
	Infof("to file")

	_, err := os.Stat(path)
	require.Nil(t.T(), err, "SetOutput with a non-empty path must create the backing log file")
}
