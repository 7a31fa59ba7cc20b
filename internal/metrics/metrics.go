package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caneko_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "caneko_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Upload admission metrics
	UploadsAdmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caneko_uploads_admitted_total",
			Help: "Total number of admitted upload items",
		},
		[]string{"kind"},
	)

	UploadsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caneko_uploads_rejected_total",
			Help: "Total number of rejected upload items",
		},
		[]string{"kind", "reason"},
	)

	UploadSizeBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "caneko_upload_size_bytes",
			Help:    "Size of uploaded files in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8), // 1KB to 16MB
		},
		[]string{"kind"},
	)

	ItemsRemovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caneko_items_removed_total",
			Help: "Total number of removed upload items",
		},
		[]string{"kind"},
	)

	// Admin metrics
	LimitUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caneko_limit_updates_total",
			Help: "Total number of limit updates",
		},
		[]string{"scope"}, // global, user, cascade
	)

	// Auth metrics
	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caneko_login_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"result"}, // success, failure, locked, inactive
	)

	// Worker metrics
	UsersPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "caneko_users_purged_total",
			Help: "Total number of purged user accounts",
		},
	)

	PurgeFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "caneko_purge_failures_total",
			Help: "Total number of failed purge attempts",
		},
	)
)
