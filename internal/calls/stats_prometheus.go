package calls

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tyrowin/gochat-hub/internal/metrics"
)

var (
	statsCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gochat",
		Subsystem: "calls",
		Name:      "total",
		Help:      "The total number of one-to-one call transitions by type",
	}, []string{"type"})
	statsActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gochat",
		Subsystem: "calls",
		Name:      "sessions",
		Help:      "The current number of ringing or connected calls",
	})
	statsSignalsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gochat",
		Subsystem: "calls",
		Name:      "signals_dropped_total",
		Help:      "The total number of signals dropped because the target was unreachable",
	}, []string{"event"})
	statsSwitches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gochat",
		Subsystem: "calls",
		Name:      "switches_total",
		Help:      "The total number of answered video switch requests",
	}, []string{"result"})

	callsStats = []prometheus.Collector{
		statsCalls,
		statsActiveSessions,
		statsSignalsDropped,
		statsSwitches,
	}
)

func RegisterStats() {
	metrics.RegisterAll(callsStats...)
}
