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

package netstack

import (
	"context"
	"time"

	safeposix "github.com/yzhang71/safeposix-go"
	"github.com/yzhang71/safeposix-go/internal/cage"
	"github.com/yzhang71/safeposix-go/internal/metrics"
)

// tick is how often a suspended blocking call re-polls its readiness
// predicate — the "yield to the scheduler" step of spec.md §5's
// suspension loop.
const tick = 2 * time.Millisecond

// waitUntil implements spec.md §5's suspension-point loop shared by
// blocking recv/accept/connect(Unix): poll ready, check the cage's
// signal flag (return EINTR), check its cancel flag (park in an infinite
// cancel-point loop), else sleep a tick and retry.
func waitUntil(cg *cage.Cage, op string, ready func() bool) *safeposix.PosixError {
	start := time.Now()
	for {
		if ready() {
			elapsedMs := float64(time.Since(start).Milliseconds())
			metrics.RecordWait(context.Background(), op, elapsedMs)
			metrics.RecordLegacyWait(elapsedMs)
			return nil
		}
		if cg.Signaled() {
			return safeposix.NewError(op, safeposix.ErrIntr)
		}
		for cg.Canceled() {
			time.Sleep(tick)
		}
		time.Sleep(tick)
	}
}
