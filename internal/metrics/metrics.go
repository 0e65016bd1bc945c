package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. Each instance owns its
// registry so tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	InboundMessages *prometheus.CounterVec
	ToolCalls       *prometheus.CounterVec
	AIDuration      *prometheus.HistogramVec
	MessagesSent    *prometheus.CounterVec
	SlotOperations  *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		InboundMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_inbound_messages_total",
				Help: "Inbound messages by processing outcome",
			},
			[]string{"outcome"}, // sent, duplicate, handoff_active, ai_disabled, empty_reply, error
		),
		ToolCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_tool_calls_total",
				Help: "Tool calls executed by tool and result status",
			},
			[]string{"tool", "status"},
		),
		AIDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "intake_ai_request_duration_seconds",
				Help:    "AI engine round trip latency in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 45},
			},
			[]string{"operation"},
		),
		MessagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_messages_sent_total",
				Help: "Outbound messages by result",
			},
			[]string{"result"}, // ok, error
		),
		SlotOperations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_slot_operations_total",
				Help: "Slot booking operations by kind and result",
			},
			[]string{"operation", "result"},
		),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// The Record helpers accept a nil receiver so components can run without
// metrics wired in.

func (m *Metrics) RecordInbound(outcome string) {
	if m == nil {
		return
	}
	m.InboundMessages.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordTool(tool, status string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
}

func (m *Metrics) RecordAI(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.AIDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) RecordSend(ok bool) {
	if m == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	m.MessagesSent.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordSlot(operation, result string) {
	if m == nil {
		return
	}
	m.SlotOperations.WithLabelValues(operation, result).Inc()
}
