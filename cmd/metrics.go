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
	"net/http"

	"github.com/spf13/cobra"

	"github.com/yzhang71/safeposix-go/internal/metrics"
)

var metricsAddr string

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Serve the legacy OpenCensus/Prometheus wait-latency exporter",
	Long: `metrics installs the OpenCensus Prometheus exporter kept alongside
the OpenTelemetry metrics path for dashboards still pinned to it, and
blocks serving it on the given address until the process is killed.`,
	RunE: func(c *cobra.Command, args []string) error {
		handler, err := metrics.RegisterLegacyExporter("safeposix")
		if err != nil {
			return err
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", handler)
		fmt.Printf("serving legacy metrics on %s/metrics\n", metricsAddr)
		return http.ListenAndServe(metricsAddr, mux)
	},
}

func init() {
	metricsCmd.Flags().StringVar(&metricsAddr, "addr", "localhost:9090", "Address to serve /metrics on.")
	rootCmd.AddCommand(metricsCmd)
}
