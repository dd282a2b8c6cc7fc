// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

package registry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Status constants for registry metrics.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusNotFound = "not_found"
	StatusTimeout  = "timeout"
)

// registrationsTotal counts registration attempts by status.
// Use RegisterMetrics to register this with a Prometheus registry.
var registrationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "capstan_plugin_registrations_total",
		Help: "Total number of plugin registration attempts",
	},
	[]string{"status"},
)

// executionsTotal counts capability invocations by capability and
// status.
var executionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "capstan_plugin_executions_total",
		Help: "Total number of plugin capability invocations",
	},
	[]string{"capability", "status"},
)

// executionDuration observes capability invocation latency.
var executionDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "capstan_plugin_execution_duration_seconds",
		Help:    "Plugin capability invocation duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"capability"},
)

// activePlugins tracks the number of currently registered plugins.
var activePlugins = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "capstan_plugins_active",
		Help: "Number of currently registered plugins",
	},
)

// RegisterMetrics registers registry metrics with the given Prometheus
// registry. Panics if registration fails (prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(registrationsTotal)
	reg.MustRegister(executionsTotal)
	reg.MustRegister(executionDuration)
	reg.MustRegister(activePlugins)
}

// recordExecution updates the execution counter and histogram.
func recordExecution(capability, status string, started time.Time) {
	executionsTotal.WithLabelValues(capability, status).Inc()
	executionDuration.WithLabelValues(capability).Observe(time.Since(started).Seconds())
}
