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

package metrics

import (
	"net/http"

	"contrib.go.opencensus.io/exporter/prometheus"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
)

// legacyWaitLatency mirrors waitLatency above through the older OpenCensus
// pipeline. Kept alongside the OpenTelemetry instruments for the same
// reason the teacher keeps both oc_metrics.go and otel_metrics.go during a
// metrics migration: dashboards still pinned to the Prometheus exporter
// built on OpenCensus views.
var legacyWaitLatency = stats.Float64(
	"safeposix/multiplex/wait_latency_ms",
	"time spent inside select/poll/epoll_wait",
	stats.UnitMilliseconds,
)

// RegisterLegacyExporter installs the OpenCensus Prometheus exporter and
// its view, returning the http.Handler to mount at /metrics.
func RegisterLegacyExporter(namespace string) (http.Handler, error) {
	exporter, err := prometheus.NewExporter(prometheus.Options{Namespace: namespace})
	if err != nil {
		return nil, err
	}

	v := &view.View{
		Name:        "safeposix/multiplex/wait_latency_ms",
		Measure:     legacyWaitLatency,
		Description: "time spent inside select/poll/epoll_wait",
		Aggregation: view.Distribution(0, 1, 5, 10, 50, 100, 500, 1000),
	}
	if err := view.Register(v); err != nil {
		return nil, err
	}

	return exporter, nil
}

// RecordLegacyWait reports ms through the OpenCensus pipeline.
func RecordLegacyWait(ms float64) {
	stats.Record(nil, legacyWaitLatency.M(ms))
}
