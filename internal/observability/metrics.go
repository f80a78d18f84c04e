package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	checkInCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance_service",
		Subsystem: "sessions",
		Name:      "check_ins_total",
		Help:      "Number of attendance sessions opened.",
	}, []string{"tenant_id"})

	checkOutCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance_service",
		Subsystem: "sessions",
		Name:      "check_outs_total",
		Help:      "Number of explicit check-outs, including re-closes of closed sessions.",
	}, []string{"tenant_id"})

	staleClosedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance_service",
		Subsystem: "sessions",
		Name:      "stale_sessions_closed_total",
		Help:      "Number of stale sessions force-closed with zero duration during open-session lookups.",
	}, []string{"tenant_id"})

	reportDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "attendance_service",
		Subsystem: "reports",
		Name:      "compute_duration_seconds",
		Help:      "Time spent recomputing a report from source data.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"report"})
)

func init() {
	prometheus.MustRegister(checkInCounter, checkOutCounter, staleClosedCounter, reportDuration)
}

// RecordCheckIn counts an opened session.
func RecordCheckIn(tenantID string) {
	checkInCounter.WithLabelValues(tenantID).Inc()
}

// RecordCheckOut counts an explicit check-out.
func RecordCheckOut(tenantID string) {
	checkOutCounter.WithLabelValues(tenantID).Inc()
}

// RecordStaleClosed counts sessions closed by a stale sweep.
func RecordStaleClosed(tenantID string, n int) {
	if n <= 0 {
		return
	}
	staleClosedCounter.WithLabelValues(tenantID).Add(float64(n))
}

// ObserveReport records how long a report took to compute since start.
func ObserveReport(report string, start time.Time) {
	reportDuration.WithLabelValues(report).Observe(time.Since(start).Seconds())
}
