// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "leaguebot"

var (
	once     sync.Once
	registry = prometheus.NewRegistry()

	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "events_published_total", Help: "Events published on the bus",
	}, []string{"event"})
	EventHandlerFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "event_handler_failures_total", Help: "Bus handlers that returned an error or panicked",
	}, []string{"event"})

	TriggersFired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "scheduler_triggers_total", Help: "Scheduled triggers fired",
	}, []string{"kind"})
	TriggersSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "scheduler_triggers_skipped_total", Help: "Triggers skipped by the executor",
	}, []string{"reason"})
	ScheduledTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "scheduler_tasks", Help: "Registered schedule entries",
	})

	JobRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "job_runs_total", Help: "Database job runs by final status",
	}, []string{"kind", "status"})

	Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "deliveries_total", Help: "Delivery outcomes",
	}, []string{"op", "outcome"})
	DeliveryAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "delivery_attempts_total", Help: "Platform send attempts including retries",
	})
	DeliveryLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "delivery_duration_seconds", Help: "End-to-end delivery time including limiter waits",
		Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
	}, []string{"op"})
	RateLimiterWaits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "rate_limiter_waits_total", Help: "Acquisitions that had to wait for the window",
	})

	QueuePosted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "content_queue_posted_total", Help: "Content items posted",
	})
	QueueSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "content_queue_skipped_total", Help: "Content items skipped",
	})
)

func register() {
	once.Do(func() {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			EventsPublished,
			EventHandlerFailures,
			TriggersFired,
			TriggersSkipped,
			ScheduledTasks,
			JobRuns,
			Deliveries,
			DeliveryAttempts,
			DeliveryLatency,
			RateLimiterWaits,
			QueuePosted,
			QueueSkipped,
		)
	})
}

// Handler exposes the registry for /metrics.
func Handler() http.Handler {
	register()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Registry returns the registry with every collector registered.
func Registry() *prometheus.Registry {
	register()
	return registry
}
