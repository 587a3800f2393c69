package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/sitemap-crawler/internal/progress"
)

// PrometheusSink exports crawl progress as Prometheus collectors.
type PrometheusSink struct {
	crawlsStarted   prometheus.Counter
	crawlsCompleted *prometheus.CounterVec
	crawlsRunning   prometheus.Gauge
	crawlDuration   *prometheus.HistogramVec

	sitemapURLs   *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	purged        prometheus.Counter
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		crawlsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitemap_crawler_runs_started_total",
			Help: "Crawl runs started.",
		}),
		crawlsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitemap_crawler_runs_completed_total",
			Help: "Crawl runs completed partitioned by result.",
		}, []string{"result"}),
		crawlsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sitemap_crawler_runs_running",
			Help: "Crawl runs in progress.",
		}),
		crawlDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitemap_crawler_run_duration_seconds",
			Help:    "Wall time per completed crawl run.",
			Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"result"}),
		sitemapURLs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitemap_crawler_sitemap_urls_total",
			Help: "URLs read from sitemaps partitioned by accepted or filtered.",
		}, []string{"result"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitemap_crawler_fetches_total",
			Help: "Page fetch outcomes partitioned by site and outcome.",
		}, []string{"site", "outcome"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitemap_crawler_fetch_bytes_total",
			Help: "Bytes downloaded per site.",
		}, []string{"site"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitemap_crawler_fetch_duration_seconds",
			Help:    "Page fetch duration partitioned by site and status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"site", "status_class"}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitemap_crawler_purged_records_total",
			Help: "Stale index records removed by the retention purge.",
		}),
	}
	for _, c := range []prometheus.Collector{
		s.crawlsStarted,
		s.crawlsCompleted,
		s.crawlsRunning,
		s.crawlDuration,
		s.sitemapURLs,
		s.fetches,
		s.fetchBytes,
		s.fetchDuration,
		s.purged,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageCrawlStart:
			s.crawlsStarted.Inc()
			s.crawlsRunning.Inc()
		case progress.StageCrawlDone:
			s.finish(evt, "success")
		case progress.StageCrawlError:
			s.finish(evt, "error")
		case progress.StageSitemapDone:
			s.sitemapURLs.WithLabelValues("accepted").Add(float64(evt.Count))
			s.sitemapURLs.WithLabelValues("filtered").Add(float64(evt.Filtered))
		case progress.StagePurgeDone:
			s.purged.Add(float64(evt.Count))
		case progress.StageFetchDone:
			s.fetch(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.crawlsCompleted.WithLabelValues(result).Inc()
	s.crawlsRunning.Dec()
	if evt.Dur > 0 {
		s.crawlDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) fetch(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	class := string(evt.StatusClass)
	if class == "" {
		class = string(progress.StatusOther)
	}
	s.fetches.WithLabelValues(site, evt.Outcome).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(site, class).Observe(evt.Dur.Seconds())
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
