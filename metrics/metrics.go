// Package metrics exposes chat server counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	KindGlobal  = "global"
	KindPrivate = "private"
	KindSystem  = "system"

	OutcomeSent     = "sent"
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
)

// Recorder is what the router and the registry report to. Collector is the
// Prometheus implementation, Nop discards everything.
type Recorder interface {
	MessageSent(kind string)
	SendError(code string)
	FriendRequest(outcome string)
	StoreLatency(op string, d time.Duration)
	OnlineSessions(n int)
	DroppedEvent(eventType string)
}

type Collector struct {
	messages       *prometheus.CounterVec
	sendErrors     *prometheus.CounterVec
	online         prometheus.Gauge
	friendRequests *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	storeLatency   *prometheus.HistogramVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chathub_messages_total",
			Help: "Messages accepted by the router, by kind.",
		}, []string{"kind"}),
		sendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chathub_send_errors_total",
			Help: "Send intents answered with an error, by code.",
		}, []string{"code"}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chathub_online_sessions",
			Help: "Sessions currently registered.",
		}),
		friendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chathub_friend_requests_total",
			Help: "Friend request transitions, by outcome.",
		}, []string{"outcome"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chathub_dropped_events_total",
			Help: "Events dropped because a connection outbox was full.",
		}, []string{"type"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chathub_store_latency_seconds",
			Help:    "Latency of directory, message log and friend store calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}

	reg.MustRegister(
		c.messages,
		c.sendErrors,
		c.online,
		c.friendRequests,
		c.dropped,
		c.storeLatency,
	)

	return c
}

func (c *Collector) MessageSent(kind string) {
	c.messages.WithLabelValues(kind).Inc()
}

func (c *Collector) SendError(code string) {
	c.sendErrors.WithLabelValues(code).Inc()
}

func (c *Collector) FriendRequest(outcome string) {
	c.friendRequests.WithLabelValues(outcome).Inc()
}

func (c *Collector) StoreLatency(op string, d time.Duration) {
	c.storeLatency.WithLabelValues(op).Observe(d.Seconds())
}

func (c *Collector) OnlineSessions(n int) {
	c.online.Set(float64(n))
}

func (c *Collector) DroppedEvent(eventType string) {
	c.dropped.WithLabelValues(eventType).Inc()
}

// Handler serves the Prometheus scrape endpoint for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

type Nop struct{}

func (Nop) MessageSent(string)                 {}
func (Nop) SendError(string)                   {}
func (Nop) FriendRequest(string)               {}
func (Nop) StoreLatency(string, time.Duration) {}
func (Nop) OnlineSessions(int)                 {}
func (Nop) DroppedEvent(string)                {}
