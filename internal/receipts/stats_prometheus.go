package receipts

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tyrowin/gochat-hub/internal/metrics"
)

var (
	statsAcknowledged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gochat",
		Subsystem: "receipts",
		Name:      "acknowledged_total",
		Help:      "The total number of messages added to an acknowledgment set",
	}, []string{"field"})
	statsFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gochat",
		Subsystem: "receipts",
		Name:      "failures_total",
		Help:      "The total number of failed acknowledgment lookups and updates",
	}, []string{"field"})

	receiptsStats = []prometheus.Collector{
		statsAcknowledged,
		statsFailures,
	}
)

func RegisterStats() {
	metrics.RegisterAll(receiptsStats...)
}
