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
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the top-level configuration for a running SafePOSIX core. It is
// decoded from flags/env/file by viper, the same way the teacher's cfg
// package decodes gcsfuse's mount options.
type Config struct {
	WorkingDir string `yaml:"working-dir"`

	EphemeralPortLo uint16 `yaml:"ephemeral-port-lo"`
	EphemeralPortHi uint16 `yaml:"ephemeral-port-hi"`

	PollIntervalMs      int   `yaml:"poll-interval-ms"`
	KernelRecvTimeoutMs int   `yaml:"kernel-recv-timeout-ms"`
	CompactionThreshold int64 `yaml:"compaction-threshold-bytes"`

	Debug DebugConfig `yaml:"debug"`
}

type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`
	LogFsOps                 bool `yaml:"log-fs-ops"`
}

// Default returns the configuration used when no flags/env/file override
// anything: ephemeral ports drawn from the conventional Linux range, a 1ms
// poll granularity for the busy-wait loops in select/poll/accept, and the
// spec-mandated 1s bound on blocking kernel recv/accept calls.
func Default() Config {
	return Config{
		WorkingDir:          ".",
		EphemeralPortLo:     32768,
		EphemeralPortHi:     60999,
		PollIntervalMs:      1,
		KernelRecvTimeoutMs: 1000,
		CompactionThreshold: 64 << 20, // 64 MiB
		Debug: DebugConfig{
			ExitOnInvariantViolation: true,
			LogFsOps:                 false,
		},
	}
}

// BindFlags registers every Config field as a pflag and binds it through
// viper, mirroring the teacher's cfg.BindFlags.
func BindFlags(flagSet *pflag.FlagSet) error {
	d := Default()

	flagSet.String("working-dir", d.WorkingDir, "Cage working directory holding lind.metadata / lind.md.log.")
	flagSet.Uint16("ephemeral-port-lo", d.EphemeralPortLo, "Low end (inclusive) of the ephemeral port range.")
	flagSet.Uint16("ephemeral-port-hi", d.EphemeralPortHi, "High end (inclusive) of the ephemeral port range.")
	flagSet.Int("poll-interval-ms", d.PollIntervalMs, "Yield granularity for select/poll/accept busy-wait loops.")
	flagSet.Int("kernel-recv-timeout-ms", d.KernelRecvTimeoutMs, "Bound on blocking kernel recv/accept so cancellation can be observed.")
	flagSet.Int64("compaction-threshold-bytes", d.CompactionThreshold, "Journal byte threshold that triggers a snapshot rewrite.")
	flagSet.Bool("debug.exit-on-invariant-violation", d.Debug.ExitOnInvariantViolation, "Abort the process when a CheckInvariants call fails.")
	flagSet.Bool("debug.log-fs-ops", d.Debug.LogFsOps, "Trace every filesystem metadata mutation.")

	for _, name := range []string{
		"working-dir", "ephemeral-port-lo", "ephemeral-port-hi", "poll-interval-ms",
		"kernel-recv-timeout-ms", "compaction-threshold-bytes",
		"debug.exit-on-invariant-violation", "debug.log-fs-ops",
	} {
		if err := viper.BindPFlag(name, flagSet.Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}

// Decode reads the bound viper state into a Config, starting from Default()
// so unset fields keep sane values.
func Decode() (Config, error) {
	c := Default()
	if err := viper.Unmarshal(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}
