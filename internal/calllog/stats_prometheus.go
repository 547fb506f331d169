package calllog

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tyrowin/gochat-hub/internal/metrics"
)

var (
	statsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gochat",
		Subsystem: "calllog",
		Name:      "written_total",
		Help:      "The total number of stored call logs",
	}, []string{"type", "status"})
	statsFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gochat",
		Subsystem: "calllog",
		Name:      "failures_total",
		Help:      "The total number of call logs that could not be stored",
	})

	calllogStats = []prometheus.Collector{
		statsWritten,
		statsFailures,
	}
)

func RegisterStats() {
	metrics.RegisterAll(calllogStats...)
}
