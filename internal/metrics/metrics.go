// Package metrics provides Prometheus instrumentation for the realtime
// coordination server. It exposes gauges for connections, online users and
// live voice/typing state, counters for dispatched events, and a histogram
// for dispatch latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "whisper_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the number of distinct users with at least one
	// connection.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "whisper_online_users",
		Help: "Current number of distinct online users",
	})

	// EventsTotal counts inbound client events, labeled by message type.
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "whisper_events_total",
		Help: "Total number of inbound client events dispatched",
	}, []string{"type"})

	// SignalsRelayed counts relayed WebRTC signaling messages by kind.
	SignalsRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "whisper_signals_relayed_total",
		Help: "Total number of WebRTC signaling messages relayed",
	}, []string{"kind"}) // kind = "offer", "answer", "ice_candidate"

	// TypingActive tracks the number of live typing indicators.
	TypingActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "whisper_typing_active",
		Help: "Current number of active typing indicators",
	})

	// VoiceParticipants tracks the number of connections in voice channels.
	VoiceParticipants = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "whisper_voice_participants",
		Help: "Current number of connections joined to voice channels",
	})

	// StatusPersistFailures counts failed writes to the preferred-status store.
	StatusPersistFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "whisper_status_persist_failures_total",
		Help: "Total number of failed preferred-status persistence calls",
	}, []string{"op"}) // op = "load", "save", "clear"

	// DispatchLatency records the time spent handling one inbound event.
	DispatchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "whisper_dispatch_latency_seconds",
		Help:    "Inbound event dispatch latency in seconds",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// RateLimited counts calls dropped by a rate limit rule.
	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "whisper_rate_limited_total",
		Help: "Total number of events dropped by rate limiting",
	}, []string{"rule"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		EventsTotal,
		SignalsRelayed,
		TypingActive,
		VoiceParticipants,
		StatusPersistFailures,
		DispatchLatency,
		RateLimited,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
