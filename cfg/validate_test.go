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

func TestValidateConfig(t *testing.T) {
	testCases := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name: "defaults",
			config: func() *Config {
				c := Default()
				return &c
			}(),
			wantErr: false,
		},
		{
			name: "inverted port range",
			config: &Config{
				EphemeralPortLo:     60999,
				EphemeralPortHi:     32768,
				PollIntervalMs:      1,
				CompactionThreshold: 1,
			},
			wantErr: true,
		},
		{
			name: "zero poll interval",
			config: &Config{
				PollIntervalMs:      0,
				CompactionThreshold: 1,
			},
			wantErr: true,
		},
		{
			name: "negative kernel recv timeout",
			config: &Config{
				PollIntervalMs:      1,
				KernelRecvTimeoutMs: -1,
				CompactionThreshold: 1,
			},
			wantErr: true,
		},
		{
			name: "non-positive compaction threshold",
			config: &Config{
				PollIntervalMs:      1,
				CompactionThreshold: 0,
			},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateConfig(tc.config)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
