package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/savecodenow/internal/events"
	"github.com/JakeFAU/savecodenow/internal/savecode"
)

// PrometheusSink counts lifecycle events and records how long successful
// requests waited for their visit.
type PrometheusSink struct {
	events *prometheus.CounterVec
	delay  *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "savecodenow_lifecycle_events_total",
			Help: "Save request lifecycle events partitioned by kind and visit type.",
		}, []string{"kind", "visit_type"}),
		delay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "swh_web_save_requests_delay_seconds",
			Help:    "Delay between a save request and the visit that satisfied it.",
			Buckets: []float64{60, 300, 900, 1800, 3600, 3 * 3600, 6 * 3600, 12 * 3600, 24 * 3600, 7 * 24 * 3600},
		}, []string{"visit_type"}),
	}
	for _, collector := range []prometheus.Collector{s.events, s.delay} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register lifecycle collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors; safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.events.WithLabelValues(string(evt.Kind), evt.VisitType).Inc()
		if evt.Kind != events.KindStatusChanged ||
			evt.LoadingTaskStatus != savecode.TaskSucceeded ||
			evt.PreviousTaskStatus == savecode.TaskSucceeded {
			continue
		}
		if evt.VisitDate == nil || evt.RequestDate.IsZero() {
			continue
		}
		if d := evt.VisitDate.Sub(evt.RequestDate); d >= 0 {
			s.delay.WithLabelValues(evt.VisitType).Observe(d.Seconds())
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
