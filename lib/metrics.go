package lib

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pushpanel_sync_runs_total",
		Help: "Subscriber reconciliation runs by final status.",
	}, []string{"status"})

	syncRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pushpanel_sync_records_total",
		Help: "Reconciled subscriber records by outcome.",
	}, []string{"outcome"})

	dispatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pushpanel_dispatches_total",
		Help: "Notification dispatch attempts by outcome.",
	}, []string{"outcome"})
)

// syncMetrics tallies per-record outcomes of one reconciliation.
type syncMetrics struct {
	created int
	updated int
	errored int
}

func (m *syncMetrics) Add(other *syncMetrics) {
	m.created += other.created
	m.updated += other.updated
	m.errored += other.errored
}

func (m *syncMetrics) publish(status SyncStatus) {
	syncRunsTotal.WithLabelValues(string(status)).Inc()
	syncRecordsTotal.WithLabelValues("created").Add(float64(m.created))
	syncRecordsTotal.WithLabelValues("updated").Add(float64(m.updated))
	syncRecordsTotal.WithLabelValues("errored").Add(float64(m.errored))
}
