// Package metrics exposes the server's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectedClients is the number of open websocket connections.
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gigchat_connected_clients",
		Help: "Number of open websocket connections.",
	})

	// OnlineUsers is the number of distinct users with at least one open
	// connection.
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gigchat_online_users",
		Help: "Number of distinct users currently online.",
	})

	// MessagesRelayed counts messages fanned out over the realtime channel.
	MessagesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gigchat_messages_relayed_total",
		Help: "Total messages relayed over websocket connections.",
	})

	// MessagesPersisted counts messages written to the store through the REST
	// API.
	MessagesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gigchat_messages_persisted_total",
		Help: "Total messages persisted through the REST API.",
	})
)
