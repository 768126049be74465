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

// Rationalize updates the config fields based on the values of other fields.
func Rationalize(c *Config) error {
	// A kernel recv/accept call has to return in time for at least one
	// poll tick to observe it, or waitUntil's suspension loop never gets
	// a chance to check for readiness between kernel calls.
	if c.KernelRecvTimeoutMs < c.PollIntervalMs {
		c.KernelRecvTimeoutMs = c.PollIntervalMs
	}

	// A core running with invariant checking off has no use for the
	// extra per-mutation tracing; log-fs-ops exists to explain an
	// invariant failure, not to run standalone.
	if !c.Debug.ExitOnInvariantViolation {
		c.Debug.LogFsOps = false
	}

	return nil
}
