package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sharebin_paste_created_total",
		Help: "no. of pastes created",
	})
	AccessDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sharebin_access_decisions_total",
			Help: "no. of access policy decisions",
		},
		[]string{"kind", "outcome"},
	)
	PasteDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sharebin_paste_deleted_total",
			Help: "no. of delete attempts by result",
		},
		[]string{"result"},
	)
	StaleRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sharebin_stale_records_total",
		Help: "no. of records left behind after their blob was removed",
	})
	BlobCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sharebin_blob_cache_hits_total",
			Help: "no. of blob cache hits",
		},
		[]string{"tier"},
	)
	BlobCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sharebin_blob_cache_misses_total",
		Help: "no. of blob reads that reached the backend",
	})
	UploadBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sharebin_upload_bytes",
		Help:    "size of uploaded files",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sharebin_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
	PruneCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sharebin_prune_cycles_total",
		Help: "no. of cleanup worker cycles",
	})
	EncryptionOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sharebin_encryption_operations_total",
			Help: "no. of seal/open operations",
		},
		[]string{"operation"},
	)
	RecentErrorRatePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sharebin_recent_error_rate_percent",
		Help: "5min rolling avg error rate percentage",
	})
)
