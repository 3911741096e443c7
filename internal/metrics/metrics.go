package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hazard-alert-service/internal/models"
)

const namespace = "hazard_alert"

// Recorder implements the engine and dispatcher observers on a private
// Prometheus registry.
type Recorder struct {
	registry *prometheus.Registry

	signalsDropped  *prometheus.CounterVec
	alertsCreated   *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	attempts        *prometheus.CounterVec
	attemptLatency  *prometheus.HistogramVec
	configVersion   prometheus.Gauge
	pendingTimers   prometheus.GaugeFunc
	liveSubscribers prometheus.GaugeFunc
}

// New registers the collectors. pendingTimers and liveSubscribers may be nil.
func New(pendingTimers, liveSubscribers func() float64) *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	r := &Recorder{
		registry: reg,
		signalsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_dropped_total",
			Help:      "Signals discarded before evaluation, by reason.",
		}, []string{"reason"}),
		alertsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_created_total",
			Help:      "Alerts raised, by severity.",
		}, []string{"severity"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_transitions_total",
			Help:      "Committed alert status transitions.",
		}, []string{"from", "to"}),
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "Delivery attempts, by channel and outcome.",
		}, []string{"channel", "outcome", "permanent"}),
		attemptLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_attempt_duration_seconds",
			Help:      "Provider call latency per delivery attempt.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"channel"}),
		configVersion: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "config_version",
			Help:      "Version of the active configuration snapshot.",
		}),
	}
	if pendingTimers != nil {
		r.pendingTimers = f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "timers_pending",
			Help:      "Escalation deadlines, held re-checks and backoffs waiting in the timer queue.",
		}, pendingTimers)
	}
	if liveSubscribers != nil {
		r.liveSubscribers = f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_feed_subscribers",
			Help:      "Open websocket subscriptions to the live alert feed.",
		}, liveSubscribers)
	}
	return r
}

func (r *Recorder) SignalDropped(reason string) {
	r.signalsDropped.WithLabelValues(reason).Inc()
}

func (r *Recorder) AlertCreated(severity models.Severity) {
	r.alertsCreated.WithLabelValues(severity.String()).Inc()
}

func (r *Recorder) Transition(from, to models.AlertStatus) {
	r.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (r *Recorder) ObserveAttempt(channel models.ChannelKind, outcome models.DeliveryOutcome, permanent bool, took time.Duration) {
	r.attempts.WithLabelValues(string(channel), string(outcome), strconv.FormatBool(permanent)).Inc()
	r.attemptLatency.WithLabelValues(string(channel)).Observe(took.Seconds())
}

// ConfigSwapped records the active snapshot version.
func (r *Recorder) ConfigSwapped(version uint64) {
	r.configVersion.Set(float64(version))
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
