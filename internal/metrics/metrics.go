// Copyright 2024 Google LLC
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

// Package metrics exposes the OpenTelemetry instruments the six core
// components report against: journal append latency (C2), inode table
// size (C3), port allocation failures (C4), socket call counts and byte
// totals (C5), and multiplexer wait-time histograms (C6).
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	ComponentKey = "component"
	OpKey        = "op"
	DomainKey    = "domain"
)

var (
	coreMeter = otel.Meter("safeposix_core")

	journalAppendLatency metric.Float64Histogram
	inodeTableSize       metric.Int64UpDownCounter
	portAllocFailures    metric.Int64Counter
	socketCalls          metric.Int64Counter
	socketBytes          metric.Int64Counter
	waitLatency          metric.Float64Histogram
)

func init() {
	var err error
	journalAppendLatency, err = coreMeter.Float64Histogram(
		"safeposix.journal.append_latency_ms",
		metric.WithDescription("latency of a single C2 mmap-append-log write"),
	)
	if err != nil {
		panic(err)
	}
	inodeTableSize, err = coreMeter.Int64UpDownCounter(
		"safeposix.metadata.inode_table_size",
		metric.WithDescription("number of live inodes in the C3 inode table"),
	)
	if err != nil {
		panic(err)
	}
	portAllocFailures, err = coreMeter.Int64Counter(
		"safeposix.portalloc.failures",
		metric.WithDescription("count of reserve_localport calls that returned EADDRINUSE"),
	)
	if err != nil {
		panic(err)
	}
	socketCalls, err = coreMeter.Int64Counter(
		"safeposix.netstack.calls",
		metric.WithDescription("count of C5 socket-state-machine operations by op/domain"),
	)
	if err != nil {
		panic(err)
	}
	socketBytes, err = coreMeter.Int64Counter(
		"safeposix.netstack.bytes",
		metric.WithDescription("bytes moved through send/recv by domain"),
	)
	if err != nil {
		panic(err)
	}
	waitLatency, err = coreMeter.Float64Histogram(
		"safeposix.multiplex.wait_latency_ms",
		metric.WithDescription("time spent inside select/poll/epoll_wait"),
	)
	if err != nil {
		panic(err)
	}
}

// RecordJournalAppend reports the latency, in milliseconds, of a C2 append.
func RecordJournalAppend(ctx context.Context, ms float64) {
	journalAppendLatency.Record(ctx, ms)
}

// AdjustInodeTableSize adds delta to the live inode table size gauge. The
// metadata store's only call passes its whole inode count once, when it
// loads.
func AdjustInodeTableSize(ctx context.Context, delta int64) {
	inodeTableSize.Add(ctx, delta)
}

// RecordPortAllocFailure increments the EADDRINUSE counter for domain.
func RecordPortAllocFailure(ctx context.Context, domain string) {
	portAllocFailures.Add(ctx, 1, metric.WithAttributes(attribute.String(DomainKey, domain)))
}

// RecordSocketCall increments the per-op, per-domain socket call counter.
func RecordSocketCall(ctx context.Context, op, domain string) {
	socketCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String(OpKey, op),
		attribute.String(DomainKey, domain),
	))
}

// RecordSocketBytes adds n to the byte counter for domain.
func RecordSocketBytes(ctx context.Context, domain string, n int64) {
	if n <= 0 {
		return
	}
	socketBytes.Add(ctx, n, metric.WithAttributes(attribute.String(DomainKey, domain)))
}

// RecordWait reports the latency, in milliseconds, of a select/poll/
// epoll_wait call.
func RecordWait(ctx context.Context, component string, ms float64) {
	waitLatency.Record(ctx, ms, metric.WithAttributes(attribute.String(ComponentKey, component)))
}
