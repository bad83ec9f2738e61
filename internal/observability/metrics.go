// Package observability exposes the collector's prometheus instrumentation.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsConsumed counts stream entries handed to the pipeline callback.
	EventsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetryhub_events_consumed_total",
		Help: "Stream entries dispatched to the ingestion pipeline.",
	})

	// ParseFailures counts entries skipped because the body was malformed.
	ParseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetryhub_parse_failures_total",
		Help: "Stream entries skipped due to malformed bodies or metadata.",
	})

	// AlertsFired counts alert records emitted by rule evaluators.
	AlertsFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetryhub_alerts_fired_total",
		Help: "Alert records emitted by rule evaluators.",
	})

	// Broadcasts counts hub broadcast calls.
	Broadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetryhub_broadcasts_total",
		Help: "Messages broadcast to live subscribers.",
	})

	// CheckpointFailures counts swallowed checkpoint-advance errors.
	CheckpointFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetryhub_checkpoint_failures_total",
		Help: "Checkpoint advances that failed and were skipped.",
	})

	// LiveSubscribers tracks the current hub subscriber count.
	LiveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "telemetryhub_live_subscribers",
		Help: "Currently registered live subscribers.",
	})
)
