package backup

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts coordinator activity.
type Metrics struct {
	Writes     prometheus.Counter
	Deletes    prometheus.Counter
	Superseded prometheus.Counter
	Failures   prometheus.Counter
}

// NewMetrics creates the coordinator counters and registers them with reg
// when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nbkeep", Subsystem: "backup", Name: "writes_total",
			Help: "Backup records written to the hot-exit directory.",
		}),
		Deletes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nbkeep", Subsystem: "backup", Name: "deletes_total",
			Help: "Backup records deleted from the hot-exit directory.",
		}),
		Superseded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nbkeep", Subsystem: "backup", Name: "superseded_total",
			Help: "Pending backup requests dropped in favour of a newer request.",
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nbkeep", Subsystem: "backup", Name: "failures_total",
			Help: "Backup writes or deletes that failed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Writes, m.Deletes, m.Superseded, m.Failures)
	}
	return m
}
