package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/savecodenow/internal/savecode"
)

// Counter is the slice of the request store the collector reads.
type Counter interface {
	CountRequests(ctx context.Context) ([]savecode.Count, error)
}

// RequestCollector exposes save request counts from the store on each scrape.
type RequestCollector struct {
	counts  Counter
	timeout time.Duration
	logger  *zap.Logger

	submitted *prometheus.Desc
	accepted  *prometheus.Desc
}

// NewRequestCollector builds a collector. timeout bounds each store query.
func NewRequestCollector(counts Counter, timeout time.Duration, logger *zap.Logger) *RequestCollector {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestCollector{
		counts:  counts,
		timeout: timeout,
		logger:  logger,
		submitted: prometheus.NewDesc(
			"swh_web_submitted_save_requests",
			"Number of submitted save requests, labeled by request status and visit type.",
			[]string{"status", "visit_type"}, nil,
		),
		accepted: prometheus.NewDesc(
			"swh_web_accepted_save_requests",
			"Number of accepted save requests, labeled by loading task status and visit type.",
			[]string{"load_task_status", "visit_type"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *RequestCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.submitted
	ch <- c.accepted
}

// Collect implements prometheus.Collector.
func (c *RequestCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	rows, err := c.counts.CountRequests(ctx)
	if err != nil {
		c.logger.Warn("count save requests failed", zap.Error(err))
		ch <- prometheus.NewInvalidMetric(c.submitted, err)
		return
	}

	type key struct{ a, b string }
	submitted := make(map[key]int64)
	accepted := make(map[key]int64)
	for _, row := range rows {
		submitted[key{string(row.Status), row.VisitType}] += row.Total
		if row.Status == savecode.RequestAccepted {
			accepted[key{string(row.LoadingTaskStatus), row.VisitType}] += row.Total
		}
	}
	for k, v := range submitted {
		ch <- prometheus.MustNewConstMetric(c.submitted, prometheus.GaugeValue, float64(v), k.a, k.b)
	}
	for k, v := range accepted {
		ch <- prometheus.MustNewConstMetric(c.accepted, prometheus.GaugeValue, float64(v), k.a, k.b)
	}
}
