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

// Package cmd hosts the operator CLI for poking at a cage's on-disk state
// outside of a running emulation, the way the teacher's cmd/root.go hosts
// gcsfuse's mount CLI.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/yzhang71/safeposix-go/cfg"
)

var bindErr error

var rootCmd = &cobra.Command{
	Use:   "safeposixctl",
	Short: "Inspect and administer SafePOSIX core working directories",
	Long: `safeposixctl operates on a SafePOSIX working directory (the
directory holding lind.metadata and lind.md.log) without running a live
emulation: format a fresh one, or reload and fsck an existing one.`,
	SilenceUsage: true,
}

func init() {
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(formatCmd, fsckCmd)
}

// Execute runs the CLI, returning the same error a RunE would.
func Execute() error {
	if bindErr != nil {
		return bindErr
	}
	return rootCmd.Execute()
}

func loadConfig() (cfg.Config, error) {
	c, err := cfg.Decode()
	if err != nil {
		return cfg.Config{}, err
	}
	if err := cfg.Rationalize(&c); err != nil {
		return cfg.Config{}, err
	}
	if err := cfg.ValidateConfig(&c); err != nil {
		return cfg.Config{}, err
	}
	return c, nil
}
