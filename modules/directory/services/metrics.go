package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	directoryCacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "directory",
		Subsystem: "cache",
		Name:      "requests_total",
		Help:      "Total number of subtree cache lookups broken down by hit/miss.",
	}, []string{"result"})

	directoryCacheInvalidate = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "directory",
		Subsystem: "cache",
		Name:      "invalidate_total",
		Help:      "Total number of subtree cache invalidations broken down by reason.",
	}, []string{"reason"})

	directoryWriteConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "directory",
		Subsystem: "write",
		Name:      "conflicts_total",
		Help:      "Total number of write conflicts broken down by kind.",
	}, []string{"kind"})

	directoryCompactionRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "directory",
		Subsystem: "compaction",
		Name:      "runs_total",
		Help:      "Total number of compaction ticks broken down by outcome.",
	}, []string{"result"})

	directoryCompactionPurged = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "directory",
		Subsystem: "compaction",
		Name:      "purged_total",
		Help:      "Total number of rows hard-deleted by compaction broken down by entity.",
	}, []string{"entity"})
)

func recordCacheRequest(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	directoryCacheRequests.WithLabelValues(result).Inc()
}

func recordCacheInvalidate(reason string) {
	if reason == "" {
		reason = "manual"
	}
	directoryCacheInvalidate.WithLabelValues(reason).Inc()
}

func recordWriteConflict(kind string) {
	if kind == "" {
		kind = "other"
	}
	directoryWriteConflicts.WithLabelValues(kind).Inc()
}

func recordCompactionRun(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	directoryCompactionRuns.WithLabelValues(result).Inc()
}

func recordCompactionPurged(entity string, n int) {
	if n <= 0 {
		return
	}
	directoryCompactionPurged.WithLabelValues(entity).Add(float64(n))
}
