package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the coordinator's telemetry counters. The registerer is
// injected so that the coordinator stays testable without a process wide
// registry. Counters are a side channel and never affect control flow.
type Metrics struct {
	stateTicks     *prometheus.CounterVec
	blocksExecuted prometheus.Counter
	blocksProduced prometheus.Counter
	blocksRejected prometheus.Counter
	fullResyncs    prometheus.Counter
}

// NewMetrics creates the coordinator metrics and registers them with r. A
// nil registerer yields functional but unregistered counters.
func NewMetrics(r prometheus.Registerer) *Metrics {
	m := &Metrics{
		stateTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lattis",
			Subsystem: "coordinator",
			Name:      "state_ticks_total",
			Help:      "Number of ticks handled per coordinator state",
		}, []string{"state"}),
		blocksExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lattis",
			Subsystem: "coordinator",
			Name:      "blocks_executed_total",
			Help:      "Number of blocks successfully executed and committed",
		}),
		blocksProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lattis",
			Subsystem: "coordinator",
			Name:      "blocks_produced_total",
			Help:      "Number of blocks produced and transmitted by this node",
		}),
		blocksRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lattis",
			Subsystem: "coordinator",
			Name:      "blocks_rejected_total",
			Help:      "Number of blocks removed from the chain after failed validation",
		}),
		fullResyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lattis",
			Subsystem: "coordinator",
			Name:      "full_resyncs_total",
			Help:      "Number of escalations to a full revert to genesis",
		}),
	}
	if r != nil {
		r.MustRegister(m.stateTicks, m.blocksExecuted, m.blocksProduced, m.blocksRejected, m.fullResyncs)
	}
	return m
}

func (m *Metrics) tick(s State) {
	m.stateTicks.WithLabelValues(s.String()).Inc()
}
