package presence

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tyrowin/gochat-hub/internal/metrics"
)

var (
	statsOnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gochat",
		Subsystem: "presence",
		Name:      "online_users",
		Help:      "The current number of online users",
	})
	statsPersistenceFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gochat",
		Subsystem: "presence",
		Name:      "persistence_failures_total",
		Help:      "The total number of failed user status updates",
	})

	presenceStats = []prometheus.Collector{
		statsOnlineUsers,
		statsPersistenceFailures,
	}
)

// RegisterStats registers the presence collectors with the default registry.
func RegisterStats() {
	metrics.RegisterAll(presenceStats...)
}
