/*
metrics.go - Prometheus collectors for caches and jobs

PURPOSE:
  Implements generic.CacheObserver and generic.JobObserver on top of
  client_golang so the engine can report cache hit rates, refresh
  latency and rebuild outcomes without importing Prometheus itself.

METRICS:
  trade_ledger_cache_requests_total{cache,result}      result = hit|miss
  trade_ledger_cache_refresh_duration_seconds{cache}
  trade_ledger_cache_refresh_errors_total{cache}
  trade_ledger_cache_pruned_entries_total{cache}
  trade_ledger_job_runs_total{job,outcome}             outcome = ok|aborted|failed
  trade_ledger_job_records_processed_total{job}

SEE ALSO:
  - generic/cache.go: CacheObserver
  - generic/job.go: JobObserver
*/
package metrics

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/trade-ledger/generic"
	"github.com/warp/trade-ledger/ledger"
)

const (
	ResultHit  = "hit"
	ResultMiss = "miss"

	OutcomeOK      = "ok"
	OutcomeAborted = "aborted"
	OutcomeFailed  = "failed"
)

// Config labels every series.
type Config struct {
	ServiceName string
	Environment string
}

// Collector owns the registry and the engine-facing observers.
type Collector struct {
	registry *prometheus.Registry

	cacheRequests    *prometheus.CounterVec
	refreshDuration  *prometheus.HistogramVec
	refreshErrors    *prometheus.CounterVec
	prunedEntries    *prometheus.CounterVec
	jobRuns          *prometheus.CounterVec
	recordsProcessed *prometheus.CounterVec
}

var (
	_ generic.CacheObserver = (*Collector)(nil)
	_ generic.JobObserver   = (*Collector)(nil)
)

// New registers all collectors on a fresh registry.
func New(cfg Config) *Collector {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "trade-ledger"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "trade_ledger_cache_requests_total",
			Help:        "Cache reads by cache name and hit or miss.",
			ConstLabels: constLabels,
		}, []string{"cache", "result"}),
		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "trade_ledger_cache_refresh_duration_seconds",
			Help:        "Time spent recomputing a cache entry.",
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			ConstLabels: constLabels,
		}, []string{"cache"}),
		refreshErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "trade_ledger_cache_refresh_errors_total",
			Help:        "Cache refreshes that failed to compute or persist.",
			ConstLabels: constLabels,
		}, []string{"cache"}),
		prunedEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "trade_ledger_cache_pruned_entries_total",
			Help:        "Expired entries removed from a cache.",
			ConstLabels: constLabels,
		}, []string{"cache"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "trade_ledger_job_runs_total",
			Help:        "Batch job runs by outcome.",
			ConstLabels: constLabels,
		}, []string{"job", "outcome"}),
		recordsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "trade_ledger_job_records_processed_total",
			Help:        "Ledger records written by batch jobs.",
			ConstLabels: constLabels,
		}, []string{"job"}),
	}

	c.registry.MustRegister(
		c.cacheRequests,
		c.refreshDuration,
		c.refreshErrors,
		c.prunedEntries,
		c.jobRuns,
		c.recordsProcessed,
	)
	return c
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// =============================================================================
// OBSERVERS
// =============================================================================

func (c *Collector) CacheHit(cache string) {
	c.cacheRequests.WithLabelValues(cache, ResultHit).Inc()
}

func (c *Collector) CacheMiss(cache string) {
	c.cacheRequests.WithLabelValues(cache, ResultMiss).Inc()
}

func (c *Collector) CacheRefreshed(cache string, took time.Duration, err error) {
	c.refreshDuration.WithLabelValues(cache).Observe(took.Seconds())
	if err != nil {
		c.refreshErrors.WithLabelValues(cache).Inc()
	}
}

func (c *Collector) CachePruned(cache string, removed int) {
	if removed > 0 {
		c.prunedEntries.WithLabelValues(cache).Add(float64(removed))
	}
}

func (c *Collector) JobFinished(job string, processed int, err error) {
	c.jobRuns.WithLabelValues(job, ClassifyJobOutcome(err)).Inc()
	if processed > 0 {
		c.recordsProcessed.WithLabelValues(job).Add(float64(processed))
	}
}

// ClassifyJobOutcome maps a run error to a low-cardinality label.
func ClassifyJobOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ledger.ErrRebuildAborted):
		return OutcomeAborted
	default:
		return OutcomeFailed
	}
}
