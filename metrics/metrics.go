package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transcode metrics
var (
	TranscodeJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanvault_transcode_jobs_total",
			Help: "Total number of transcode jobs by terminal status",
		},
		[]string{"status"}, // "completed", "failed", "rejected"
	)

	TranscodeRenditionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanvault_transcode_renditions_total",
			Help: "Total number of rendition outcomes",
		},
		[]string{"label", "result"}, // result: "success", "encode_failed", "upload_failed"
	)

	TranscodeJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fanvault_transcode_job_duration_seconds",
			Help:    "Wall time of a transcode job",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		},
	)

	TranscodeJobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fanvault_transcode_jobs_in_progress",
			Help: "Number of transcode jobs currently running",
		},
	)
)

// URL delivery metrics
var (
	URLResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanvault_url_resolutions_total",
			Help: "Signed URL resolutions by outcome",
		},
		[]string{"outcome"}, // "signed", "bypass", "not_found", "denied", "error"
	)

	URLCacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanvault_url_cache_requests_total",
			Help: "URL cache lookups",
		},
		[]string{"result"}, // "hit", "miss", "expired"
	)

	URLCacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanvault_url_cache_evictions_total",
			Help: "URL cache evictions by reason",
		},
		[]string{"reason"}, // "expired", "lru", "quota", "clear"
	)

	URLCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fanvault_url_cache_entries",
			Help: "Entries currently held by the URL cache",
		},
	)

	URLCacheFlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanvault_url_cache_flushes_total",
			Help: "Debounced persistence flushes",
		},
		[]string{"result"}, // "ok", "error"
	)
)

// Playback metrics
var (
	QualitySwitchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanvault_quality_switches_total",
			Help: "Rendition switches attempted by the adaptive controller",
		},
		[]string{"direction", "reason", "result"},
	)
)
