// Prometheus metrics exporter
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter provides Prometheus metrics for safe-mode observability
type Exporter struct {
	port   int
	path   string
	server *http.Server

	// Metrics
	SafeModeLevel  prometheus.Gauge
	ForksTracked   prometheus.Gauge
	ChecksTotal    prometheus.Counter
	WebhookPosts   prometheus.Counter
	CheckDuration  prometheus.Histogram
	HeadersIndexed prometheus.Counter
}

// NewExporter creates a new Prometheus exporter
func NewExporter(port int, path string) *Exporter {
	e := &Exporter{
		port: port,
		path: path,
		SafeModeLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "svnode_safemode_level",
			Help: "Current safe-mode level (0=none, 1=valid, 2=invalid, 3=unknown)",
		}),
		ForksTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "svnode_safemode_forks",
			Help: "Number of fork tips currently tracked by the safe-mode monitor",
		}),
		ChecksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "svnode_safemode_checks_total",
			Help: "Total safe-mode parameter checks run",
		}),
		WebhookPosts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "svnode_safemode_webhook_posts_total",
			Help: "Total safe-mode status documents submitted to the webhook",
		}),
		CheckDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "svnode_safemode_check_duration_seconds",
			Help:    "Safe-mode check duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		HeadersIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "svnode_headers_indexed_total",
			Help: "Total block headers added to the index",
		}),
	}

	prometheus.MustRegister(
		e.SafeModeLevel, e.ForksTracked, e.ChecksTotal, e.WebhookPosts,
		e.CheckDuration, e.HeadersIndexed,
	)

	return e
}

// Start starts the metrics HTTP server (blocking)
func (e *Exporter) Start() error {
	mux := http.NewServeMux()
	mux.Handle(e.path, promhttp.Handler())

	e.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", e.port),
		Handler: mux,
	}
	return e.server.ListenAndServe()
}

// Shutdown gracefully stops the metrics server
func (e *Exporter) Shutdown(ctx context.Context) error {
	if e.server != nil {
		return e.server.Shutdown(ctx)
	}
	return nil
}
