package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultOK    = "ok"
	ResultError = "error"
)

// CartMetrics records engine activity. A nil *CartMetrics, or one built
// without a registerer, is a valid no-op recorder.
type CartMetrics struct {
	mutations *prometheus.CounterVec
	rollbacks *prometheus.CounterVec
	resyncs   *prometheus.CounterVec
	merges    *prometheus.CounterVec
	remote    *prometheus.HistogramVec
	inflight  prometheus.Gauge
}

// NewCartMetrics registers the cart metrics on the provided registerer.
func NewCartMetrics(reg prometheus.Registerer) *CartMetrics {
	if reg == nil {
		return &CartMetrics{}
	}
	m := &CartMetrics{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cart_mutations_total",
			Help: "Optimistic cart mutations applied locally.",
		}, []string{"op"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cart_rollbacks_total",
			Help: "Optimistic mutations reverted after a remote failure.",
		}, []string{"op"}),
		resyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cart_resyncs_total",
			Help: "Read-through refreshes from the remote cart service.",
		}, []string{"result"}),
		merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cart_merges_total",
			Help: "Merge passes pushing local lines into an empty server cart.",
		}, []string{"result"}),
		remote: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cart_remote_call_duration_seconds",
			Help:    "Latency of background calls to the remote cart service.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "result"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cart_remote_inflight",
			Help: "Background remote tasks currently running.",
		}),
	}
	reg.MustRegister(m.mutations, m.rollbacks, m.resyncs, m.merges, m.remote, m.inflight)
	return m
}

func (m *CartMetrics) IncMutation(op string) {
	if m == nil || m.mutations == nil {
		return
	}
	m.mutations.WithLabelValues(normalizeLabel(op)).Inc()
}

func (m *CartMetrics) IncRollback(op string) {
	if m == nil || m.rollbacks == nil {
		return
	}
	m.rollbacks.WithLabelValues(normalizeLabel(op)).Inc()
}

func (m *CartMetrics) IncResync(err error) {
	if m == nil || m.resyncs == nil {
		return
	}
	m.resyncs.WithLabelValues(resultLabel(err)).Inc()
}

func (m *CartMetrics) IncMerge(err error) {
	if m == nil || m.merges == nil {
		return
	}
	m.merges.WithLabelValues(resultLabel(err)).Inc()
}

// ObserveRemote records one remote call outcome.
func (m *CartMetrics) ObserveRemote(op string, duration time.Duration, err error) {
	if m == nil || m.remote == nil {
		return
	}
	m.remote.WithLabelValues(normalizeLabel(op), resultLabel(err)).Observe(duration.Seconds())
}

// TrackInflight bumps the in-flight gauge and returns the matching decrement.
func (m *CartMetrics) TrackInflight() func() {
	if m == nil || m.inflight == nil {
		return func() {}
	}
	m.inflight.Inc()
	return m.inflight.Dec
}

func resultLabel(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
