package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registry operations
	EnterTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_session_enter_total",
		Help: "Enter attempts by caller role and result",
	}, []string{"role", "result"})

	RemoveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_session_remove_total",
		Help: "Remove attempts by result",
	}, []string{"result"})

	// Provisioning
	RoomsProvisionedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_session_rooms_provisioned_total",
		Help: "External rooms created by the provisioner",
	})

	ProvisionFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_session_provision_failures_total",
		Help: "Failed external room creations",
	})

	ProvisionDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "live_session_provision_duration_ms",
		Help:    "External room creation latency in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})

	OrphanedRoomsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_session_orphaned_rooms_total",
		Help: "External rooms whose teardown failed, and later sweeps",
	}, []string{"action"})

	// Redis health
	RedisLatencyMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "live_session_redis_latency_ms",
		Help:    "Redis operation latency in milliseconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 25, 50},
	}, []string{"op"})

	RedisErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_session_redis_errors_total",
		Help: "Total Redis errors",
	}, []string{"op"})
)

// Helper functions

func RecordEnter(role, result string) {
	EnterTotal.WithLabelValues(role, result).Inc()
}

func RecordRemove(result string) {
	RemoveTotal.WithLabelValues(result).Inc()
}

func RecordProvision(started time.Time, err error) {
	ProvisionDurationMs.Observe(float64(time.Since(started).Microseconds()) / 1000)
	if err != nil {
		ProvisionFailuresTotal.Inc()
		return
	}
	RoomsProvisionedTotal.Inc()
}

func RecordOrphan(action string) {
	OrphanedRoomsTotal.WithLabelValues(action).Inc()
}

// ObserveRedis records latency for op and counts err when set.
func ObserveRedis(op string, started time.Time, err error) {
	RedisLatencyMs.WithLabelValues(op).Observe(float64(time.Since(started).Microseconds()) / 1000)
	if err != nil {
		RedisErrorsTotal.WithLabelValues(op).Inc()
	}
}
