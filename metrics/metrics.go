// Package metrics realizes spec.md §4.1's EndpointStats/GetStats as
// Prometheus gauges and counters, one label set per (rid, capability)
// endpoint, exported over HTTP the way the pack's sockstats exporter
// (runZeroInc-sockstats/pkg/exporter) registers a custom collector and
// serves it with promhttp.
/*
 * Copyright (c) 2024, Anywire contributors.
 */
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsOpened = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anywire",
		Name:      "sessions_opened_total",
		Help:      "Sessions opened, by server rid and capability.",
	}, []string{"rid", "capability"})

	SessionsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "anywire",
		Name:      "sessions_active",
		Help:      "Currently live sessions, by server rid and capability.",
	}, []string{"rid", "capability"})

	ChunksSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anywire",
		Name:      "chunks_sent_total",
		Help:      "DATA chunks sent to the session by the SOCKS back-end bridge, by local endpoint.",
	}, []string{"rid", "capability"})

	ChunksReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anywire",
		Name:      "chunks_received_total",
		Help:      "DATA chunks received off the session by the SOCKS back-end bridge, by local endpoint.",
	}, []string{"rid", "capability"})

	BytesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anywire",
		Name:      "bytes_sent_total",
		Help:      "Payload bytes sent through the SOCKS bridge, by local endpoint.",
	}, []string{"rid", "capability"})

	BytesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anywire",
		Name:      "bytes_received_total",
		Help:      "Payload bytes received through the SOCKS bridge, by local endpoint.",
	}, []string{"rid", "capability"})

	PollBackoffs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anywire",
		Name:      "poll_backoffs_total",
		Help:      "Times a carrier.Poller widened its interval after a transient medium error.",
	}, []string{"medium"})
)

func init() {
	prometheus.MustRegister(
		SessionsOpened, SessionsActive, ChunksSent, ChunksReceived,
		BytesSent, BytesReceived, PollBackoffs,
	)
}

// SessionOpened records a newly opened session and marks it active. Call
// SessionClosed when it ends.
func SessionOpened(rid, capability string) {
	SessionsOpened.WithLabelValues(rid, capability).Inc()
	SessionsActive.WithLabelValues(rid, capability).Inc()
}

func SessionClosed(rid, capability string) {
	SessionsActive.WithLabelValues(rid, capability).Dec()
}

// Serve exposes the registered metrics at GET /metrics on addr until the
// process exits or the listener errors.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
