package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FeedFetches records outbound feed fetch attempts by result (success|failure).
	FeedFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raqeeb_feed_fetches_total",
			Help: "Total number of announcement feed fetches",
		},
		[]string{"result"},
	)

	// AnnouncementsStored counts newly persisted announcements.
	AnnouncementsStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "raqeeb_announcements_stored_total",
			Help: "Total number of new announcements stored",
		},
	)

	// MatchesCreated counts newly created keyword matches.
	MatchesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "raqeeb_matches_created_total",
			Help: "Total number of new keyword matches created",
		},
	)

	// NotificationsSent counts delivery attempts by channel and status (sent|failed).
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raqeeb_notifications_total",
			Help: "Total number of notification delivery attempts",
		},
		[]string{"channel", "status"},
	)

	// DigestsProcessed counts due digest queue entries handled by the periodic scan.
	DigestsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "raqeeb_digests_processed_total",
			Help: "Total number of due digests processed",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raqeeb_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
