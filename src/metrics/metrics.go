// Package metrics holds the process wide prometheus instruments.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "camvigil"

var Registry = prometheus.NewRegistry()

var (
	RecordersRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "recorder",
		Name:      "running",
		Help:      "Number of camera recorders currently reading their source.",
	})
	SegmentsOpened = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "recorder",
		Name:      "segments_opened_total",
		Help:      "Segment files opened.",
	}, []string{"camera"})
	SegmentsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "recorder",
		Name:      "segments_closed_total",
		Help:      "Segment files finalized.",
	}, []string{"camera"})
	SegmentDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "recorder",
		Name:      "segment_duration_seconds",
		Help:      "Duration of finalized segment files.",
		Buckets:   []float64{5, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"camera"})
	RecordingErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "recorder",
		Name:      "errors_total",
		Help:      "Recorders that stopped because of an error.",
	}, []string{"camera"})

	ArchiveFreeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "archive",
		Name:      "free_bytes",
		Help:      "Free space on the filesystem of the archive root.",
	})
	ArchiveUsedRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "archive",
		Name:      "used_ratio",
		Help:      "Used fraction of the filesystem of the archive root.",
	})
	SourcesRSSBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "recorder",
		Name:      "sources_rss_bytes",
		Help:      "Resident memory of all running ffmpeg sources.",
	})
	RecoveredSegments = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "archive",
		Name:      "recovered_segments_total",
		Help:      "Segments left open by a previous run and finalized at startup.",
	})

	CatalogQueries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "catalog",
		Name:      "queries_total",
		Help:      "Playback catalog lookups by query and cache result.",
	}, []string{"query", "result"})

	Exports = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "export",
		Name:      "total",
		Help:      "Finished exports by outcome.",
	}, []string{"outcome"})
	ExportSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "export",
		Name:      "duration_seconds",
		Help:      "Wall time spent per export.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
)

func init() {
	Registry.MustRegister(
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
		RecordersRunning,
		SegmentsOpened,
		SegmentsClosed,
		SegmentDuration,
		RecordingErrors,
		ArchiveFreeBytes,
		ArchiveUsedRatio,
		SourcesRSSBytes,
		RecoveredSegments,
		CatalogQueries,
		Exports,
		ExportSeconds,
	)
}

// Handler serves Registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
