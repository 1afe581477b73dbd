package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server side.
var (
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wevote",
		Name:      "rooms_active",
		Help:      "Rooms currently held in memory.",
	})
	SocketsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wevote",
		Name:      "push_sockets_connected",
		Help:      "Open push channel websockets across all rooms.",
	})
	Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wevote",
		Name:      "broadcasts_total",
		Help:      "Actions fanned out to room subscribers.",
	}, []string{"action"})
	Votes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wevote",
		Name:      "votes_total",
		Help:      "Vote mutations accepted by the directory.",
	}, []string{"kind"})
)

// Client side.
var (
	ChannelConnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wevote",
		Subsystem: "client",
		Name:      "channel_connects_total",
		Help:      "Successful push channel connections.",
	})
	ChannelReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wevote",
		Subsystem: "client",
		Name:      "channel_reconnects_scheduled_total",
		Help:      "Reconnect attempts scheduled after an unexpected close.",
	})
	StateFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wevote",
		Subsystem: "client",
		Name:      "state_fetches_total",
		Help:      "Authoritative state fetches by trigger and outcome.",
	}, []string{"trigger", "outcome"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
