// Package metrics exposes Prometheus counters for the mail session clients.
//
// A nil *Collector is valid and records nothing, so clients built without
// metrics need no special casing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Protocol labels.
const (
	ProtocolIMAP = "imap"
	ProtocolSMTP = "smtp"
)

// Collector groups the counters recorded by the session clients.
type Collector struct {
	commandsSent    *prometheus.CounterVec
	linesRead       *prometheus.CounterVec
	sessionErrors   *prometheus.CounterVec
	messagesFetched prometheus.Counter
	messagesSent    prometheus.Counter
}

// New creates a Collector and registers its counters with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		commandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailclient",
			Name:      "commands_sent_total",
			Help:      "Protocol commands written to mail servers.",
		}, []string{"protocol", "command"}),
		linesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailclient",
			Name:      "lines_read_total",
			Help:      "Response lines read from mail servers.",
		}, []string{"protocol"}),
		sessionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailclient",
			Name:      "session_errors_total",
			Help:      "Failed session operations by error kind.",
		}, []string{"protocol", "kind"}),
		messagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mailclient",
			Name:      "messages_fetched_total",
			Help:      "Raw messages returned by IMAP fetches.",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mailclient",
			Name:      "messages_sent_total",
			Help:      "Messages accepted for submission over SMTP.",
		}),
	}

	reg.MustRegister(
		c.commandsSent,
		c.linesRead,
		c.sessionErrors,
		c.messagesFetched,
		c.messagesSent,
	)
	return c
}

// CommandSent records one outbound command verb.
func (c *Collector) CommandSent(protocol, command string) {
	if c == nil {
		return
	}
	c.commandsSent.WithLabelValues(protocol, command).Inc()
}

// LineRead records one inbound response line.
func (c *Collector) LineRead(protocol string) {
	if c == nil {
		return
	}
	c.linesRead.WithLabelValues(protocol).Inc()
}

// SessionError records a failed operation. kind is one of the
// mailproto.Kind labels.
func (c *Collector) SessionError(protocol, kind string) {
	if c == nil || kind == "" {
		return
	}
	c.sessionErrors.WithLabelValues(protocol, kind).Inc()
}

// MessagesFetched adds n fetched messages.
func (c *Collector) MessagesFetched(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.messagesFetched.Add(float64(n))
}

// MessageSent records one submitted message.
func (c *Collector) MessageSent() {
	if c == nil {
		return
	}
	c.messagesSent.Inc()
}
