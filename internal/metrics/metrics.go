package metrics

import (
	"errors"
	"time"

	"github.com/KevinKickass/OdinBridge/internal/attributes"
	"github.com/KevinKickass/OdinBridge/internal/controller"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "odin_bridge"

// Metrics records poll, write and discovery outcomes. It implements
// attributes.Observer.
type Metrics struct {
	polls          *prometheus.CounterVec
	pollLatency    prometheus.Histogram
	puts           *prometheus.CounterVec
	discoveries    *prometheus.CounterVec
	attributeCount prometheus.Gauge
	failedAdapters prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Attribute polls by result.",
		}, []string{"result"}),
		pollLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Round trip time of one attribute poll.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		puts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "puts_total",
			Help:      "Attribute writes by result.",
		}, []string{"result"}),
		discoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discoveries_total",
			Help:      "Discovery runs by result.",
		}, []string{"result"}),
		attributeCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "attributes",
			Help:      "Attributes bound by the last successful discovery.",
		}),
		failedAdapters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "adapters_failed",
			Help:      "Adapters that failed to load in the last discovery.",
		}),
	}

	reg.MustRegister(m.polls, m.pollLatency, m.puts, m.discoveries, m.attributeCount, m.failedAdapters)
	return m
}

func (m *Metrics) ObservePoll(_ string, err error, elapsed time.Duration) {
	m.polls.WithLabelValues(result(err)).Inc()
	m.pollLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) ObservePut(_ string, err error) {
	switch {
	case err == nil:
		m.puts.WithLabelValues("accepted").Inc()
	case errors.Is(err, attributes.ErrWriteRejected):
		m.puts.WithLabelValues("rejected").Inc()
	default:
		m.puts.WithLabelValues("error").Inc()
	}
}

// ObserveDiscovery records the outcome of one discovery run.
func (m *Metrics) ObserveDiscovery(root *controller.Controller, report *controller.DiscoveryReport, err error) {
	m.discoveries.WithLabelValues(result(err)).Inc()
	if report != nil {
		m.failedAdapters.Set(float64(len(report.Failed())))
	}
	if err == nil && root != nil {
		m.attributeCount.Set(float64(root.AttributeCount()))
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
