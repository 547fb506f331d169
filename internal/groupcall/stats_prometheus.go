package groupcall

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tyrowin/gochat-hub/internal/metrics"
)

var (
	statsSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gochat",
		Subsystem: "groupcall",
		Name:      "sessions",
		Help:      "The current number of recorded group call sessions",
	})
	statsSessionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gochat",
		Subsystem: "groupcall",
		Name:      "sessions_started_total",
		Help:      "The total number of started group call sessions",
	})
	statsSessionsEnded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gochat",
		Subsystem: "groupcall",
		Name:      "sessions_ended_total",
		Help:      "The total number of ended group call sessions by reason",
	}, []string{"reason"})
	statsShortCallsDiscarded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gochat",
		Subsystem: "groupcall",
		Name:      "short_calls_discarded_total",
		Help:      "The total number of call logs discarded because the call was too short",
	})
	statsSignalsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gochat",
		Subsystem: "groupcall",
		Name:      "signals_dropped_total",
		Help:      "The total number of mesh signals dropped because the target was gone",
	}, []string{"event"})

	groupcallStats = []prometheus.Collector{
		statsSessions,
		statsSessionsStarted,
		statsSessionsEnded,
		statsShortCallsDiscarded,
		statsSignalsDropped,
	}
)

func RegisterStats() {
	metrics.RegisterAll(groupcallStats...)
}
