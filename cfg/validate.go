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

import "fmt"

const (
	EphemeralPortRangeInvalidValueError = "ephemeral-port-lo must be less than or equal to ephemeral-port-hi"
	PollIntervalMsInvalidValueError     = "poll-interval-ms must be at least 1"
	KernelRecvTimeoutMsInvalidValueError = "kernel-recv-timeout-ms can't be negative"
	CompactionThresholdInvalidValueError = "compaction-threshold-bytes must be positive"
)

func isValidPortRange(c *Config) error {
	if c.EphemeralPortLo > c.EphemeralPortHi {
		return fmt.Errorf(EphemeralPortRangeInvalidValueError)
	}
	return nil
}

func isValidPollInterval(c *Config) error {
	if c.PollIntervalMs < 1 {
		return fmt.Errorf(PollIntervalMsInvalidValueError)
	}
	return nil
}

func isValidKernelRecvTimeout(c *Config) error {
	if c.KernelRecvTimeoutMs < 0 {
		return fmt.Errorf(KernelRecvTimeoutMsInvalidValueError)
	}
	return nil
}

func isValidCompactionThreshold(c *Config) error {
	if c.CompactionThreshold <= 0 {
		return fmt.Errorf(CompactionThresholdInvalidValueError)
	}
	return nil
}

// ValidateConfig returns a non-nil error if the config is invalid.
func ValidateConfig(config *Config) error {
	if err := isValidPortRange(config); err != nil {
		return fmt.Errorf("error parsing ephemeral port range config: %w", err)
	}
	if err := isValidPollInterval(config); err != nil {
		return fmt.Errorf("error parsing poll-interval-ms config: %w", err)
	}
	if err := isValidKernelRecvTimeout(config); err != nil {
		return fmt.Errorf("error parsing kernel-recv-timeout-ms config: %w", err)
	}
	if err := isValidCompactionThreshold(config); err != nil {
		return fmt.Errorf("error parsing compaction-threshold-bytes config: %w", err)
	}
	return nil
}
