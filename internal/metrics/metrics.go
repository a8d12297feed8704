package metrics

import (
	"net/http"
	"time"

	"github.com/BearBump/TrackSync/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tracksync"

// Metrics holds the sync worker's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal      *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	ShipmentsTotal *prometheus.CounterVec
	FetchDuration  *prometheus.HistogramVec
	LastRunPending prometheus.Gauge
	LastRunFailed  prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	m.RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Sync passes by result (ok, partial, aborted).",
	}, []string{"result"})

	m.RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of one sync pass.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	m.ShipmentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "shipments_total",
		Help:      "Per-shipment outcomes by outcome and error kind.",
	}, []string{"outcome", "kind"})

	m.FetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "carrier_fetch_duration_seconds",
		Help:      "Latency of a single carrier lookup attempt.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"result"})

	m.LastRunPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_pending",
		Help:      "Pending shipments listed by the last pass.",
	})
	m.LastRunFailed = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_failed",
		Help:      "Failed shipments in the last pass.",
	})

	registry.MustRegister(m.RunsTotal, m.RunDuration, m.ShipmentsTotal, m.FetchDuration, m.LastRunPending, m.LastRunFailed)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveShipment(res models.ShipmentResult) {
	m.ShipmentsTotal.WithLabelValues(string(res.Outcome), string(res.Kind)).Inc()
}

func (m *Metrics) ObserveFetch(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.FetchDuration.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) ObserveRun(r *models.RunReport, err error) {
	result := "ok"
	switch {
	case err != nil:
		result = "aborted"
	case r != nil && r.Partial:
		result = "partial"
	}
	m.RunsTotal.WithLabelValues(result).Inc()
	if r == nil {
		return
	}
	if !r.FinishedAt.IsZero() {
		m.RunDuration.Observe(r.FinishedAt.Sub(r.StartedAt).Seconds())
	}
	m.LastRunPending.Set(float64(r.Pending))
	m.LastRunFailed.Set(float64(len(r.Failed)))
}
