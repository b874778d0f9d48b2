// Package metrics holds the Prometheus collectors for the archiver.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "archiver"

// Metrics is the set of collectors. A nil *Metrics is valid and records
// nothing, so services can be built without a registry in tests.
type Metrics struct {
	gatherer prometheus.Gatherer

	Transitions      *prometheus.CounterVec
	VideosRecorded   prometheus.Counter
	FetchRetries     *prometheus.CounterVec
	CrawlPasses      prometheus.Counter
	ChannelDuration  prometheus.Histogram
	BacklogSize      prometheus.Gauge
	Recrawled        prometheus.Counter
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
}

// New creates the collectors and registers them on reg. When pool is
// non-nil, connection pool gauges are registered too.
func New(reg *prometheus.Registry, pool *pgxpool.Pool) *Metrics {
	m := &Metrics{
		gatherer: reg,
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_transitions_total",
				Help:      "Channel state transitions, by source and destination state.",
			},
			[]string{"from", "to"},
		),
		VideosRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "videos_recorded_total",
			Help:      "Videos recorded for the first time.",
		}),
		FetchRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_retries_total",
				Help:      "Transient fetch failures that were retried, by operation.",
			},
			[]string{"op"},
		),
		CrawlPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crawl_passes_total",
			Help:      "Completed crawl passes.",
		}),
		ChannelDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "channel_crawl_duration_seconds",
			Help:      "Time spent exploring one accepted channel.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		}),
		BacklogSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backlog_size",
			Help:      "Queued channels currently ranked in the backlog.",
		}),
		Recrawled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recrawled_channels_total",
			Help:      "Parsed channels refreshed by the re-crawl scheduler.",
		}),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds, by route, method and status.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method", "status"},
		),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served.",
		}),
	}

	reg.MustRegister(
		m.Transitions,
		m.VideosRecorded,
		m.FetchRetries,
		m.CrawlPasses,
		m.ChannelDuration,
		m.BacklogSize,
		m.Recrawled,
		m.RequestDuration,
		m.RequestsInFlight,
	)

	if pool != nil {
		reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_pool_acquired_connections",
				Help:      "Database connections currently in use.",
			}, func() float64 { return float64(pool.Stat().AcquiredConns()) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_pool_idle_connections",
				Help:      "Idle database connections.",
			}, func() float64 { return float64(pool.Stat().IdleConns()) }),
		)
	}

	return m
}

// Transition counts a state change.
func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

// VideoRecorded counts a newly stored video.
func (m *Metrics) VideoRecorded() {
	if m == nil {
		return
	}
	m.VideosRecorded.Inc()
}

// Retry counts a retried fetch.
func (m *Metrics) Retry(op string) {
	if m == nil {
		return
	}
	m.FetchRetries.WithLabelValues(op).Inc()
}

// PassCompleted counts a finished crawl pass.
func (m *Metrics) PassCompleted() {
	if m == nil {
		return
	}
	m.CrawlPasses.Inc()
}

// ObserveChannel records how long a channel took to explore.
func (m *Metrics) ObserveChannel(d time.Duration) {
	if m == nil {
		return
	}
	m.ChannelDuration.Observe(d.Seconds())
}

// SetBacklog records the current backlog length.
func (m *Metrics) SetBacklog(n int) {
	if m == nil {
		return
	}
	m.BacklogSize.Set(float64(n))
}

// ChannelRecrawled counts a refreshed channel.
func (m *Metrics) ChannelRecrawled() {
	if m == nil {
		return
	}
	m.Recrawled.Inc()
}

// Middleware records request duration and in-flight count. Routes are
// labelled by their registered pattern to keep cardinality bounded.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil || c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		m.RequestsInFlight.Inc()
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestDuration.
			WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
		m.RequestsInFlight.Dec()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
}
