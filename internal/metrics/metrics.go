package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	CyclesRun     *prometheus.CounterVec // trigger label: manual|automatic
	CyclesSkipped *prometheus.CounterVec // reason label: non_office_day|outside_window|coalesced
	CycleErrors   prometheus.Counter

	MeteredCalls   prometheus.Counter
	MeteredDenied  prometheus.Counter
	MeteredErrors  prometheus.Counter
	FallbackServed prometheus.Counter
	BusUnavailable prometheus.Counter

	CacheStale prometheus.Counter

	QuotaUsedManual prometheus.Gauge
	QuotaUsedAuto   prometheus.Gauge
	QuotaRemaining  prometheus.Gauge

	TrafficDelayMinutes prometheus.Gauge
	NextBusMinutes      prometheus.Gauge
	IssueDetected       prometheus.Gauge

	FetchDuration *prometheus.HistogramVec // source label: traffic|metered|fallback|calendar

	NotifyPublished   prometheus.Counter
	NotifyPublishErrs prometheus.Counter
	NATSConnected     prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		CyclesRun: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "briefing_cycles_total",
			Help: "Total refresh cycles run, by trigger class.",
		}, []string{"trigger"}),
		CyclesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "briefing_cycles_skipped_total",
			Help: "Cycles skipped before running, by reason.",
		}, []string{"reason"}),
		CycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "briefing_cycle_errors_total",
			Help: "Cycles aborted with a configuration error.",
		}),
		MeteredCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "briefing_metered_calls_total",
			Help: "Metered TransportAPI calls charged against quota.",
		}),
		MeteredDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "briefing_metered_denied_total",
			Help: "Metered calls denied by the quota ledger.",
		}),
		MeteredErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "briefing_metered_errors_total",
			Help: "Metered calls that were charged but failed.",
		}),
		FallbackServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "briefing_fallback_served_total",
			Help: "Cycles whose bus data came from the scraped fallback.",
		}),
		BusUnavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "briefing_bus_unavailable_total",
			Help: "Cycles that ended with no bus data from any source.",
		}),
		CacheStale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "briefing_cache_stale_served_total",
			Help: "Fallback results served from an expired cache entry.",
		}),
		QuotaUsedManual: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "briefing_quota_used_manual",
			Help: "Manual metered calls used today.",
		}),
		QuotaUsedAuto: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "briefing_quota_used_auto",
			Help: "Automatic metered calls used today.",
		}),
		QuotaRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "briefing_quota_remaining",
			Help: "Metered calls still allowed today.",
		}),
		TrafficDelayMinutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "briefing_traffic_delay_minutes",
			Help: "Delay over the commute baseline in the latest snapshot.",
		}),
		NextBusMinutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "briefing_next_bus_minutes",
			Help: "Minutes until the next bus in the latest snapshot.",
		}),
		IssueDetected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "briefing_issue_detected",
			Help: "1 if the latest snapshot flagged a commute issue.",
		}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "briefing_fetch_duration_seconds",
			Help:    "Duration of collaborator fetches, by source.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"source"}),
		NotifyPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "briefing_notify_published_total",
			Help: "Total snapshot notifications published.",
		}),
		NotifyPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "briefing_notify_publish_errors_total",
			Help: "Total snapshot notification publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "briefing_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
	}

	// Register
	reg.MustRegister(
		c.CyclesRun, c.CyclesSkipped, c.CycleErrors,
		c.MeteredCalls, c.MeteredDenied, c.MeteredErrors,
		c.FallbackServed, c.BusUnavailable, c.CacheStale,
		c.QuotaUsedManual, c.QuotaUsedAuto, c.QuotaRemaining,
		c.TrafficDelayMinutes, c.NextBusMinutes, c.IssueDetected,
		c.FetchDuration,
		c.NotifyPublished, c.NotifyPublishErrs, c.NATSConnected,
	)

	return c
}

// ObserveFetch records the duration of one collaborator fetch.
func (c *Collector) ObserveFetch(source string, d time.Duration) {
	c.FetchDuration.WithLabelValues(source).Observe(d.Seconds())
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
