// Package metrics provides Prometheus metrics collection for the realtime gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks the current number of authenticated WebSocket connections
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_active_connections_total",
		Help: "Current number of authenticated WebSocket connections",
	})

	// EventsReceived tracks the total number of client events received
	EventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_events_received_total",
		Help: "Total number of events received from clients",
	})

	// EventsSent tracks the total number of events emitted to clients
	EventsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_events_sent_total",
		Help: "Total number of events emitted to clients",
	})

	// EventsDropped tracks events dropped because a client send buffer was full
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_events_dropped_total",
		Help: "Total number of outbound events dropped due to full send buffers",
	})

	// RateLimitedEvents tracks events rejected by the per-event rate limiter
	RateLimitedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_rate_limited_events_total",
		Help: "Total number of inbound events rejected by the rate limiter",
	})

	// DecryptFailures tracks inbound envelopes that could not be decrypted
	DecryptFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_decrypt_failures_total",
		Help: "Total number of inbound envelope decryption failures",
	})

	// EncryptFallbacks tracks outbound events sent in plaintext after an encryption failure
	EncryptFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_encrypt_fallbacks_total",
		Help: "Total number of outbound events sent unencrypted after an encryption failure",
	})

	// ValidationFailures tracks inbound events rejected by payload validation
	ValidationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_validation_failures_total",
		Help: "Total number of inbound events rejected by payload validation",
	})

	// AuthFailures tracks connections rejected during authentication
	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_auth_failures_total",
		Help: "Total number of connections rejected during authentication",
	})

	// ChannelSubscriptions tracks the current number of transport channel subscriptions
	ChannelSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_channel_subscriptions_total",
		Help: "Current number of (connection, channel) transport subscriptions",
	})

	// UnauthorizedJoins tracks soft-failed channel join attempts
	UnauthorizedJoins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_unauthorized_joins_total",
		Help: "Total number of channel join attempts declined by authorization",
	})

	// HTTPRequestDuration tracks HTTP request durations by endpoint and method
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "realtime_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "method"})
)
