// Package metrics holds helpers shared by the per-package Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterAll registers collectors with the default registerer, ignoring
// collectors that are already registered.
func RegisterAll(cs ...prometheus.Collector) {
	for _, c := range cs {
		if err := prometheus.DefaultRegisterer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
}

// UnregisterAll removes collectors from the default registerer.
func UnregisterAll(cs ...prometheus.Collector) {
	for _, c := range cs {
		prometheus.Unregister(c)
	}
}
