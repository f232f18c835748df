// Package metrics exposes the Prometheus collectors shared across the
// Device Session and SOAP Transport: command queue depth, dispatch
// latency, and SOAP fault counts, mounted at /metrics alongside every
// other HTTP surface of this module.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueueDepth is the current command queue length per renderer.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dlnacast",
		Subsystem: "session",
		Name:      "queue_depth",
		Help:      "Current Device Session command queue depth.",
	}, []string{"uuid"})

	// DispatchLatency is the time to run one command's dispatch* handler,
	// including its outbound SOAP round trip.
	DispatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dlnacast",
		Subsystem: "session",
		Name:      "dispatch_latency_seconds",
		Help:      "Latency of Device Session command dispatch, by command kind.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"uuid", "kind"})

	// SoapFaults counts SOAP faults returned by a renderer, by action.
	SoapFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dlnacast",
		Subsystem: "transport",
		Name:      "soap_faults_total",
		Help:      "SOAP faults returned by renderers, by action.",
	}, []string{"action"})
)

// Handler returns the /metrics HTTP handler, mounted by cmd/'s server
// wiring next to the native API and event ingress routers.
func Handler() http.Handler {
	return promhttp.Handler()
}
