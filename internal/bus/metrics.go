// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

package bus

import "github.com/prometheus/client_golang/prometheus"

// messagesTotal counts messages sent, by channel and type.
// Use RegisterMetrics to register this with a Prometheus registry.
var messagesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "capstan_bus_messages_total",
		Help: "Total number of messages sent on the communication bus",
	},
	[]string{"channel", "type"},
)

// droppedTotal counts deliveries dropped because a subscriber buffer
// was full.
var droppedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "capstan_bus_dropped_total",
		Help: "Total number of bus deliveries dropped due to full subscriber buffers",
	},
	[]string{"channel"},
)

// subscribersGauge tracks live subscribers per channel.
var subscribersGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "capstan_bus_subscribers",
		Help: "Current number of subscribers per bus channel",
	},
	[]string{"channel"},
)

// RegisterMetrics registers bus metrics with the given Prometheus
// registry. Panics if registration fails (prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(messagesTotal)
	reg.MustRegister(droppedTotal)
	reg.MustRegister(subscribersGauge)
}
