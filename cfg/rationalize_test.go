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

package cfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRationalizeRaisesShortRecvTimeoutToPollInterval(t *testing.T) {
	c := Default()
	c.PollIntervalMs = 50
	c.KernelRecvTimeoutMs = 10

	assert.NoError(t, Rationalize(&c))

	assert.Equal(t, 50, c.KernelRecvTimeoutMs)
}

func TestRationalizeLeavesLongerRecvTimeoutAlone(t *testing.T) {
	c := Default()
	c.PollIntervalMs = 1
	c.KernelRecvTimeoutMs = 1000

	assert.NoError(t, Rationalize(&c))

	assert.Equal(t, 1000, c.KernelRecvTimeoutMs)
}

func TestRationalizeClearsLogFsOpsWithoutInvariantChecking(t *testing.T) {
	c := Default()
	c.Debug.ExitOnInvariantViolation = false
	c.Debug.LogFsOps = true

	assert.NoError(t, Rationalize(&c))

	assert.False(t, c.Debug.LogFsOps)
}
