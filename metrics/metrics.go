// Package metrics exposes Prometheus instrumentation for payment flows.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FlowsTotal counts completed flows by terminal outcome: "settled",
	// or the failure code that ended the flow.
	FlowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payflow_flows_total",
		Help: "Completed payment flows by outcome",
	}, []string{"outcome"})

	// FlowDuration observes end-to-end flow latency.
	FlowDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payflow_flow_duration_seconds",
		Help:    "End-to-end payment flow latency",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	// SettlementRetries counts settlements retried with a fresh anchor.
	SettlementRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payflow_settlement_retries_total",
		Help: "Settlement attempts retried with a fresh block reference",
	})

	// SweepsIncomplete counts sweeps that left funds behind.
	SweepsIncomplete = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payflow_sweeps_incomplete_total",
		Help: "Sweeps that could not fully recover residual funds",
	})

	// StrandedNative accumulates the native units known to be stranded
	// at unreachable ephemeral addresses.
	StrandedNative = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "payflow_stranded_native_units",
		Help: "Native units stranded at ephemeral addresses",
	})
)
