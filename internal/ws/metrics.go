package ws

import "github.com/prometheus/client_golang/prometheus"

var (
	connectionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vow_ws_connections_open",
			Help: "Number of open realtime connections",
		},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vow_ws_sessions_active",
			Help: "Number of sessions with at least one open connection",
		},
	)

	handshakeRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vow_ws_handshake_rejections_total",
			Help: "Realtime handshakes refused, by reason",
		},
		[]string{"reason"},
	)

	messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vow_ws_messages_received_total",
			Help: "Valid messages received from clients, by type",
		},
		[]string{"type"},
	)

	messagesBroadcast = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vow_ws_messages_broadcast_total",
			Help: "Messages fanned out to a session, by type",
		},
		[]string{"type"},
	)

	messagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vow_ws_messages_dropped_total",
			Help: "Inbound messages dropped, by reason",
		},
		[]string{"reason"},
	)

	storeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vow_ws_store_errors_total",
			Help: "Store failures while handling realtime messages, by operation",
		},
		[]string{"op"},
	)

	heartbeatTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vow_ws_heartbeat_timeouts_total",
			Help: "Connections terminated for missing heartbeats",
		},
	)

	clientsEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vow_ws_slow_clients_evicted_total",
			Help: "Clients closed because their send buffer was full",
		},
	)
)

func init() {
	prometheus.MustRegister(connectionsOpen)
	prometheus.MustRegister(activeSessions)
	prometheus.MustRegister(handshakeRejections)
	prometheus.MustRegister(messagesReceived)
	prometheus.MustRegister(messagesBroadcast)
	prometheus.MustRegister(messagesDropped)
	prometheus.MustRegister(storeErrors)
	prometheus.MustRegister(heartbeatTimeouts)
	prometheus.MustRegister(clientsEvicted)
}
