package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the audit subsystem.
type Metrics struct {
	EntriesWritten     prometheus.Counter
	WriteBatchFailures prometheus.Counter
	CaptureSkips       prometheus.Counter
	Reconstructions    prometheus.Counter
	ReconstructionHits prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		EntriesWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "retrace_entries_written_total",
			Help: "Total number of change log entries persisted",
		}),
		WriteBatchFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "retrace_write_batch_failures_total",
			Help: "Total number of audit write batches that failed and were discarded",
		}),
		CaptureSkips: promauto.NewCounter(prometheus.CounterOpts{
			Name: "retrace_capture_skips_total",
			Help: "Total number of entities skipped during capture due to extraction failures",
		}),
		Reconstructions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "retrace_reconstructions_total",
			Help: "Total number of point-in-time reconstruction requests",
		}),
		ReconstructionHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "retrace_reconstruction_cache_hits_total",
			Help: "Total number of reconstructions served from cache",
		}),
	}
}

// NewForTest creates metrics on a private registry so parallel tests don't
// collide on duplicate registration.
func NewForTest() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		EntriesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "retrace_entries_written_total",
			Help: "Total number of change log entries persisted",
		}),
		WriteBatchFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "retrace_write_batch_failures_total",
			Help: "Total number of audit write batches that failed and were discarded",
		}),
		CaptureSkips: factory.NewCounter(prometheus.CounterOpts{
			Name: "retrace_capture_skips_total",
			Help: "Total number of entities skipped during capture due to extraction failures",
		}),
		Reconstructions: factory.NewCounter(prometheus.CounterOpts{
			Name: "retrace_reconstructions_total",
			Help: "Total number of point-in-time reconstruction requests",
		}),
		ReconstructionHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "retrace_reconstruction_cache_hits_total",
			Help: "Total number of reconstructions served from cache",
		}),
	}
}
