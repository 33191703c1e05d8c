package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/anshm02/docuagent-sub001/internal/docs"
)

// PrometheusSink exports progress metrics: message volume by kind and
// screens captured.
type PrometheusSink struct {
	messages *prometheus.CounterVec
	screens  prometheus.Counter
	errors   prometheus.Counter
}

// NewPrometheusSink registers the collectors against the provided
// registry (or the default registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docuagent_progress_messages_total",
			Help: "Progress messages emitted, partitioned by kind.",
		}, []string{"kind"}),
		screens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docuagent_screens_captured_total",
			Help: "Screens captured across all jobs.",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docuagent_crawl_errors_total",
			Help: "Step-level crawl errors across all jobs.",
		}),
	}
	for _, collector := range []prometheus.Collector{s.messages, s.screens, s.errors} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent
// use.
func (s *PrometheusSink) Consume(_ context.Context, batch []docs.ProgressMessage) error {
	for _, msg := range batch {
		s.messages.WithLabelValues(string(msg.Kind)).Inc()
		switch msg.Kind {
		case docs.MessageScreenshot:
			s.screens.Inc()
		case docs.MessageError:
			s.errors.Inc()
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
