package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the inbox Prometheus collectors. A nil *Metrics is valid and
// records nothing, so components can be built without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	requests          *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	errors            *prometheus.CounterVec
	messagesSent      *prometheus.CounterVec
	deliveryDuration  prometheus.Histogram
	retries           *prometheus.CounterVec
	sweeps            prometheus.Counter
	autoClosed        prometheus.Counter
	woken             prometheus.Counter
	triageIntents     *prometheus.CounterVec
	inboundMessages   *prometheus.CounterVec
	openConversations prometheus.Gauge
}

// NewMetrics registers collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inbox_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "path"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_http_errors_total",
			Help: "HTTP requests that ended in a domain error",
		}, []string{"method", "path", "code"}),
		messagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_messages_sent_total",
			Help: "Outbound delivery attempts by channel and outcome",
		}, []string{"channel", "outcome"}),
		deliveryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "inbox_delivery_seconds",
			Help:    "Time from dispatch to transport acknowledgment",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
		}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_retries_total",
			Help: "Retry requests by outcome",
		}, []string{"outcome"}),
		sweeps: f.NewCounter(prometheus.CounterOpts{
			Name: "inbox_auto_close_sweeps_total",
			Help: "Auto-close scheduler ticks",
		}),
		autoClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "inbox_conversations_auto_closed_total",
			Help: "Conversations closed for inactivity",
		}),
		woken: f.NewCounter(prometheus.CounterOpts{
			Name: "inbox_conversations_woken_total",
			Help: "Snoozed conversations reopened by the scheduler",
		}),
		triageIntents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_triage_intents_total",
			Help: "Classified inbound messages by intent and urgency",
		}, []string{"intent", "urgency"}),
		inboundMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_inbound_messages_total",
			Help: "Inbound patient messages by channel",
		}, []string{"channel"}),
		openConversations: f.NewGauge(prometheus.GaugeOpts{
			Name: "inbox_open_conversations",
			Help: "Open conversations observed by the last sweep",
		}),
	}
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest counts a finished HTTP request.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordError counts a request that failed with a domain error code.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(method, path, code).Inc()
}

// RecordDelivery counts one resolved delivery attempt.
func (m *Metrics) RecordDelivery(channel, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(channel, outcome).Inc()
	m.deliveryDuration.Observe(duration.Seconds())
}

// RecordRetry counts a retry request by outcome (accepted, rejected, in_flight).
func (m *Metrics) RecordRetry(outcome string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(outcome).Inc()
}

// RecordSweep counts one scheduler tick and its effects.
func (m *Metrics) RecordSweep(open, closed, woken int) {
	if m == nil {
		return
	}
	m.sweeps.Inc()
	m.autoClosed.Add(float64(closed))
	m.woken.Add(float64(woken))
	m.openConversations.Set(float64(open))
}

// RecordTriage counts one classified inbound message.
func (m *Metrics) RecordTriage(intent, urgency string) {
	if m == nil {
		return
	}
	m.triageIntents.WithLabelValues(intent, urgency).Inc()
}

// RecordInbound counts one inbound patient message.
func (m *Metrics) RecordInbound(channel string) {
	if m == nil {
		return
	}
	m.inboundMessages.WithLabelValues(channel).Inc()
}
