package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opd-ai/sealrelay/relay"
)

const namespace = "sealrelay"

// Recorder is a relay.Observer backed by Prometheus collectors.
type Recorder struct {
	gatherer prometheus.Gatherer

	admissions    *prometheus.CounterVec
	admitDuration prometheus.Histogram
	delivered     prometheus.Counter
	connections   prometheus.Gauge
	closed        *prometheus.CounterVec
	subscriptions prometheus.Gauge
	notices       *prometheus.CounterVec
}

var _ relay.Observer = (*Recorder)(nil)

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	r := &Recorder{
		gatherer: reg,
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Inbound events by outcome.",
		}, []string{"outcome", "kind"}),
		admitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admission_duration_seconds",
			Help:      "Time spent admitting one event.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Events queued to matching subscriptions.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open client connections.",
		}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "Closed client connections by reason.",
		}, []string{"reason"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions",
			Help:      "Live subscriptions across all connections.",
		}),
		notices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notices_total",
			Help:      "NOTICE messages sent by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(r.admissions, r.admitDuration, r.delivered, r.connections,
		r.closed, r.subscriptions, r.notices)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// Admission implements relay.Observer.
func (r *Recorder) Admission(res relay.Result, elapsed time.Duration) {
	r.admissions.WithLabelValues(Outcome(res), kindLabel(res.Kind)).Inc()
	r.admitDuration.Observe(elapsed.Seconds())
	if res.Delivered > 0 {
		r.delivered.Add(float64(res.Delivered))
	}
}

// ConnectionOpened implements relay.Observer.
func (r *Recorder) ConnectionOpened() {
	r.connections.Inc()
}

// ConnectionClosed implements relay.Observer.
func (r *Recorder) ConnectionClosed(slow bool) {
	r.connections.Dec()
	reason := "client"
	if slow {
		reason = "slow_consumer"
	}
	r.closed.WithLabelValues(reason).Inc()
}

// SubscriptionsChanged implements relay.Observer.
func (r *Recorder) SubscriptionsChanged(total int) {
	r.subscriptions.Set(float64(total))
}

// Notice implements relay.Observer. The label is the notice text up to the
// first colon so that free-form suffixes do not create new series.
func (r *Recorder) Notice(reason string) {
	label, _, _ := strings.Cut(reason, ":")
	if strings.HasPrefix(reason, "error:") {
		label = reason
	}
	r.notices.WithLabelValues(label).Inc()
}

// Outcome is the admissions label for res: "accepted", "duplicate" or the
// rejection code.
func Outcome(res relay.Result) string {
	switch {
	case res.Duplicate:
		return "duplicate"
	case res.Accepted:
		return "accepted"
	case res.Reason != nil:
		return res.Reason.Code
	}
	return "rejected"
}

// kindLabel groups kinds so the label set stays bounded.
func kindLabel(kind int) string {
	switch {
	case kind < 0:
		return "unknown"
	case kind <= 14 || kind == 1059:
		return strconv.Itoa(kind)
	}
	return "other"
}
