package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors shared by the crawler, analyzer
// and task runner. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	CrawlItems     *prometheus.CounterVec
	DetailFetches  prometheus.Counter
	CrawlPages     *prometheus.CounterVec
	FetchAttempts  *prometheus.CounterVec
	AnalysisItems  *prometheus.CounterVec
	JobRuns        *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
	IndexConflicts prometheus.Counter
}

// New registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CrawlItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsindexer_crawl_items_total",
			Help: "Listing items processed by the crawler, by result.",
		}, []string{"result"}),
		DetailFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsindexer_detail_fetches_total",
			Help: "Detail pages requested for new or upgraded URLs.",
		}),
		CrawlPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsindexer_crawl_pages_total",
			Help: "Listing pages processed, by result.",
		}, []string{"result"}),
		FetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsindexer_fetch_attempts_total",
			Help: "HTTP fetch attempts, by outcome.",
		}, []string{"outcome"}),
		AnalysisItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsindexer_analysis_items_total",
			Help: "Articles handled by the analysis pipeline, by result.",
		}, []string{"result"}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsindexer_job_runs_total",
			Help: "Scheduled job executions, by job and status.",
		}, []string{"job", "status"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "newsindexer_job_duration_seconds",
			Help:    "Duration of scheduled job executions.",
			Buckets: []float64{0.1, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"job"}),
		IndexConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsindexer_index_conflicts_total",
			Help: "Index commits rejected because the file changed underneath.",
		}),
	}

	m.registry.MustRegister(
		m.CrawlItems,
		m.DetailFetches,
		m.CrawlPages,
		m.FetchAttempts,
		m.AnalysisItems,
		m.JobRuns,
		m.JobDuration,
		m.IndexConflicts,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncCrawlItem(result string) {
	if m != nil {
		m.CrawlItems.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncDetailFetch() {
	if m != nil {
		m.DetailFetches.Inc()
	}
}

func (m *Metrics) IncCrawlPage(result string) {
	if m != nil {
		m.CrawlPages.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncFetchAttempt(outcome string) {
	if m != nil {
		m.FetchAttempts.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncAnalysisItem(result string) {
	if m != nil {
		m.AnalysisItems.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ObserveJob(job, status string, seconds float64) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(job, status).Inc()
	m.JobDuration.WithLabelValues(job).Observe(seconds)
}

func (m *Metrics) IncIndexConflict() {
	if m != nil {
		m.IndexConflicts.Inc()
	}
}
