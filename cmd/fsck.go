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

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yzhang71/safeposix-go/internal/metadata"
)

var fsckCmd = &cobra.Command{
	Use:   "fsck",
	Short: "Reload the working directory's journal and snapshot, drop invalid inodes, report the result",
	RunE: func(c *cobra.Command, args []string) error {
		conf, err := loadConfig()
		if err != nil {
			return err
		}
		metadata.SetCompactionThreshold(conf.CompactionThreshold)
		metadata.SetInvariantChecking(conf.Debug.ExitOnInvariantViolation)

		store, err := metadata.Load(conf.WorkingDir)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d live inodes after fsck, next inode %s\n",
			conf.WorkingDir, store.Count(), store.NextInodeWillBe())
		return nil
	},
}
