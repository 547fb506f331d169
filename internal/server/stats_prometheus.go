package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tyrowin/gochat-hub/internal/calllog"
	"github.com/Tyrowin/gochat-hub/internal/calls"
	"github.com/Tyrowin/gochat-hub/internal/groupcall"
	"github.com/Tyrowin/gochat-hub/internal/metrics"
	"github.com/Tyrowin/gochat-hub/internal/presence"
	"github.com/Tyrowin/gochat-hub/internal/receipts"
)

var (
	statsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gochat",
		Subsystem: "hub",
		Name:      "connections",
		Help:      "The current number of websocket connections",
	})
	statsEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gochat",
		Subsystem: "hub",
		Name:      "events_total",
		Help:      "The total number of received events by name",
	}, []string{"event"})
	statsInvalidFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gochat",
		Subsystem: "hub",
		Name:      "invalid_frames_total",
		Help:      "The total number of frames that could not be handled",
	})
	statsRateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gochat",
		Subsystem: "hub",
		Name:      "rate_limited_total",
		Help:      "The total number of frames discarded by the rate limiter",
	})
	statsSendBufferFull = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gochat",
		Subsystem: "hub",
		Name:      "send_buffer_full_total",
		Help:      "The total number of connections closed because their send buffer was full",
	})
	statsMessagesRelayed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gochat",
		Subsystem: "hub",
		Name:      "messages_relayed_total",
		Help:      "The total number of chat messages relayed to conversations",
	})

	hubStats = []prometheus.Collector{
		statsConnections,
		statsEvents,
		statsInvalidFrames,
		statsRateLimited,
		statsSendBufferFull,
		statsMessagesRelayed,
	}
)

// RegisterStats registers the collectors of the hub and all its components.
func RegisterStats() {
	metrics.RegisterAll(hubStats...)
	presence.RegisterStats()
	receipts.RegisterStats()
	calls.RegisterStats()
	groupcall.RegisterStats()
	calllog.RegisterStats()
}
