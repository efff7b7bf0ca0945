package ratelimit

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	decisions *prometheus.CounterVec
	buckets   prometheus.GaugeFunc
}

func newMetrics(table *BucketTable) *metrics {
	return &metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reqnest",
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Admission decisions by tier and result.",
		}, []string{"tier", "result"}),
		buckets: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "reqnest",
			Subsystem: "ratelimit",
			Name:      "buckets",
			Help:      "Token buckets currently held, one per API key.",
		}, func() float64 { return float64(table.Len()) }),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.decisions, m.buckets}
}
