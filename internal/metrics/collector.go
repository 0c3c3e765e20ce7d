// Package metrics exposes sync activity as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bft-labs/casesync/internal/app"
	"github.com/bft-labs/casesync/internal/domain"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "casesync"

// BacklogSource reports ledger record counts. *sqlite.Ledger satisfies it.
type BacklogSource interface {
	Counts(ctx context.Context, maxAttempts int) (map[domain.Kind]domain.StatusCounts, error)
}

// Collector holds the sync metrics in a registry of its own, so several
// instances can live in one process. It implements app.Observer.
type Collector struct {
	namespace string
	registry  *prometheus.Registry

	passes       *prometheus.CounterVec
	passDuration prometheus.Histogram
	records      *prometheus.CounterVec
	requeued     prometheus.Counter
	online       prometheus.Gauge
	reconnects   prometheus.Counter
	lastPass     prometheus.Gauge
}

// NewCollector creates a collector. An empty namespace uses DefaultNamespace.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	c := &Collector{
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
		passes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_passes_total",
				Help:      "Sync passes run, by result (complete or aborted).",
			},
			[]string{"result"},
		),
		passDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_pass_duration_seconds",
				Help:      "Duration of sync passes.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_records_total",
				Help:      "Records handled by sync passes, by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		requeued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_requeued_total",
				Help:      "Failed records moved back to pending for retry.",
			},
		),
		online: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "remote_reachable",
				Help:      "1 when the remote store is reachable.",
			},
		),
		reconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconnects_total",
				Help:      "Offline to online transitions.",
			},
		),
		lastPass: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_pass_timestamp_seconds",
				Help:      "Unix time the last sync pass started.",
			},
		),
	}

	c.registry.MustRegister(
		c.passes,
		c.passDuration,
		c.records,
		c.requeued,
		c.online,
		c.reconnects,
		c.lastPass,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// WatchBacklog adds per-kind, per-status record gauges read from source at
// scrape time. maxAttempts supplies the current retry cap.
func (c *Collector) WatchBacklog(source BacklogSource, maxAttempts func() int) error {
	return c.registry.Register(&backlogCollector{
		source:      source,
		maxAttempts: maxAttempts,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(c.namespace, "", "ledger_records"),
			"Ledger records by kind and sync status.",
			[]string{"kind", "status"}, nil,
		),
	})
}

// OnPassComplete implements app.Observer.
func (c *Collector) OnPassComplete(res app.PassResult, err error) {
	result := "complete"
	if err != nil {
		result = "aborted"
	}
	c.passes.WithLabelValues(result).Inc()
	c.passDuration.Observe(res.Duration.Seconds())
	c.requeued.Add(float64(res.Requeued))
	c.lastPass.Set(float64(res.StartedAt.Unix()))
}

// OnRecordOutcome implements app.Observer.
func (c *Collector) OnRecordOutcome(kind domain.Kind, outcome app.Outcome) {
	c.records.WithLabelValues(string(kind), string(outcome)).Inc()
}

// OnConnectivityChange implements app.Observer.
func (c *Collector) OnConnectivityChange(online, wasOffline bool) {
	if online {
		c.online.Set(1)
		if wasOffline {
			c.reconnects.Inc()
		}
		return
	}
	c.online.Set(0)
}

type backlogCollector struct {
	source      BacklogSource
	maxAttempts func() int
	desc        *prometheus.Desc
}

func (b *backlogCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- b.desc
}

func (b *backlogCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	limit := 0
	if b.maxAttempts != nil {
		limit = b.maxAttempts()
	}
	counts, err := b.source.Counts(ctx, limit)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(b.desc, err)
		return
	}
	for kind, n := range counts {
		for status, v := range map[string]int{
			string(domain.StatusPending): n.Pending,
			string(domain.StatusSynced):  n.Synced,
			string(domain.StatusFailed):  n.Failed,
			"exhausted":                  n.Exhausted,
		} {
			ch <- prometheus.MustNewConstMetric(b.desc, prometheus.GaugeValue, float64(v), string(kind), status)
		}
	}
}
