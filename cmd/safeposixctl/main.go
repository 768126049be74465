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

// Command safeposixctl is the operator CLI entry point.
package main

import (
	"os"

	"github.com/yzhang71/safeposix-go/cmd"
	"github.com/yzhang71/safeposix-go/internal/logger"
)

func main() {
	if err := cmd.Execute(); err != nil {
		logger.Errorf("safeposixctl: %v", err)
		os.Exit(1)
	}
}
