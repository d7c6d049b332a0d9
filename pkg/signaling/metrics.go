package signaling

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	peersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "meshrelay",
		Name:      "peers_connected",
		Help:      "Number of open signaling connections.",
	})
	roomsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "meshrelay",
		Name:      "rooms",
		Help:      "Number of non-empty rooms.",
	})
	messagesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meshrelay",
		Name:      "messages_total",
		Help:      "Inbound messages handled, by type.",
	}, []string{"type"})
	errorsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meshrelay",
		Name:      "errors_total",
		Help:      "Errors reported to clients, by code.",
	}, []string{"code"})
	droppedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "meshrelay",
		Name:      "send_failures_total",
		Help:      "Outbound messages that could not be queued to a client.",
	})
)
