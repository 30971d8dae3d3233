// Package metrics provides observability for the audit recorder.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts audit entry outcomes. WriteFailures tracks entries that
// could not be written while their primary operation committed.
type Metrics struct {
	EntriesWritten prometheus.Counter
	WriteFailures  prometheus.Counter
}

// New registers the recorder metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the recorder metrics on the given registerer.
func NewWith(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		EntriesWritten: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "auditrail_entries_written_total",
			Help: "Total number of audit entries written",
		}),
		WriteFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "auditrail_audit_write_failures_total",
			Help: "Total number of audit entry writes that failed while the primary operation committed",
		}),
	}
}
