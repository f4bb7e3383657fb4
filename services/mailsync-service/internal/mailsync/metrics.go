package mailsync

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stoik/mailvault/internal/models"
)

// Item outcomes, used as the "outcome" label.
const (
	OutcomeCreated   = "created"
	OutcomeDuplicate = "duplicate"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

var (
	SyncItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailvault_sync_items_total",
			Help: "Mail items seen by the sync, by folder and outcome",
		},
		[]string{"folder", "outcome"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailvault_sync_duration_seconds",
			Help:    "Duration of one folder sync in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"folder"},
	)
)

func recordItem(folder models.Folder, outcome string) {
	SyncItemsTotal.WithLabelValues(string(folder), outcome).Inc()
}

func recordDuration(folder models.Folder, d time.Duration) {
	SyncDuration.WithLabelValues(string(folder)).Observe(d.Seconds())
}
