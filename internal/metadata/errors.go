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

package metadata

import "errors"

// errShortFrame is a tier-3 fatal-corruption signal (spec.md §7): the
// journal's data region ended mid-frame, which can only happen if the
// layer itself wrote a torn record.
var errShortFrame = errors.New("metadata: truncated journal frame")
