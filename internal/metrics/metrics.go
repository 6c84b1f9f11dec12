// Package metrics exposes Prometheus collectors for the affect pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_affect_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "cortex_affect_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "endpoint"},
	)

	FramesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_affect_frames_total",
			Help: "Landmark frames processed, by outcome (classified, missing_landmark, degenerate_geometry)",
		},
		[]string{"outcome"},
	)

	Expressions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_affect_expression_changes_total",
			Help: "Changes of the current facial expression, by new label",
		},
		[]string{"label"},
	)

	EmissionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_affect_emission_decisions_total",
			Help: "Emission throttler decisions",
		},
		[]string{"decision"},
	)

	EmissionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_affect_emission_failures_total",
			Help: "Outbound emotion telemetry failures, by transport",
		},
		[]string{"transport"},
	)

	SentimentRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_affect_sentiment_requests_total",
			Help: "Sentiment lookups, by outcome (applied, stale, failed)",
		},
		[]string{"outcome"},
	)

	SentimentLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "cortex_affect_sentiment_latency_seconds",
			Help: "Sentiment service round-trip latency in seconds",
		},
	)

	AvatarTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_affect_avatar_transitions_total",
			Help: "Avatar playback commands issued, by state",
		},
		[]string{"state"},
	)

	AvatarSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cortex_affect_avatar_subscribers",
			Help: "Connected avatar renderer WebSocket clients",
		},
	)
)
