// Package metrics holds the prometheus collectors for chunk transfers.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chunkvault"

// Transfer collects per-operation counts, bulk-call latency and volume.
type Transfer struct {
	registry *prometheus.Registry

	Operations *prometheus.CounterVec
	BulkCall   *prometheus.HistogramVec
	Chunks     *prometheus.CounterVec
	Bytes      *prometheus.CounterVec
	Reconciled *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Transfer {
	reg := prometheus.NewRegistry()
	m := &Transfer{
		registry: reg,
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Upload, read and delete operations by result.",
		}, []string{"op", "result"}),
		BulkCall: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bulk_call_seconds",
			Help:      "Duration of bulk get/put calls against a container.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"op"}),
		Chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Chunks written, read or deleted.",
		}, []string{"op"}),
		Bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Payload bytes uploaded or read.",
		}, []string{"op"}),
		Reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciled_total",
			Help:      "Repairs made by reconciliation sweeps.",
		}, []string{"action"}),
	}
	reg.MustRegister(m.Operations, m.BulkCall, m.Chunks, m.Bytes, m.Reconciled)
	return m
}

func (m *Transfer) Registry() *prometheus.Registry { return m.registry }

func (m *Transfer) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// The helpers below accept a nil receiver so callers can run without metrics.

func (m *Transfer) Op(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Operations.WithLabelValues(op, result).Inc()
}

func (m *Transfer) Bulk(op string, d time.Duration, chunks int, bytes int64) {
	if m == nil {
		return
	}
	m.BulkCall.WithLabelValues(op).Observe(d.Seconds())
	m.Chunks.WithLabelValues(op).Add(float64(chunks))
	if bytes > 0 {
		m.Bytes.WithLabelValues(op).Add(float64(bytes))
	}
}

func (m *Transfer) Count(op string, chunks int) {
	if m == nil {
		return
	}
	m.Chunks.WithLabelValues(op).Add(float64(chunks))
}

func (m *Transfer) Repair(action string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Reconciled.WithLabelValues(action).Add(float64(n))
}
