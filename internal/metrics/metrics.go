package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	MessagesAccepted      prometheus.Counter
	ThresholdCrossings    *prometheus.CounterVec
	ConsentDecisions      *prometheus.CounterVec
	LevelUnlocks          *prometheus.CounterVec
	GateEventsPushed      *prometheus.CounterVec
	GateStatusRequests    prometheus.Counter
	GateOperationDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		MessagesAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "messages_accepted_total",
			Help: "Total number of messages accepted and counted toward gate thresholds",
		}),
		ThresholdCrossings: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gate_threshold_crossings_total",
			Help: "Total number of level threshold crossings detected",
		}, []string{"level"}),
		ConsentDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gate_consent_decisions_total",
			Help: "Total number of consent decisions applied",
		}, []string{"level", "decision"}),
		LevelUnlocks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gate_level_unlocks_total",
			Help: "Total number of conversation level unlocks",
		}, []string{"level"}),
		GateEventsPushed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gate_events_pushed_total",
			Help: "Total number of gate events pushed to connected clients",
		}, []string{"type"}),
		GateStatusRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gate_status_requests_total",
			Help: "Total number of gate status pull queries",
		}),
		GateOperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gate_operation_duration_seconds",
			Help:    "Time taken for gate storage operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}
