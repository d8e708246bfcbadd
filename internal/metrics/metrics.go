// Package metrics registers the Prometheus instruments exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pigeonhole_jobs_started_total",
		Help: "Categorization jobs started.",
	})

	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pigeonhole_jobs_finished_total",
		Help: "Categorization jobs finished, by terminal status.",
	}, []string{"status"})

	BatchesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pigeonhole_batches_processed_total",
		Help: "Classifier batches processed to completion.",
	})

	ClassifierErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pigeonhole_classifier_errors_total",
		Help: "Classifier call failures, by error code.",
	}, []string{"code"})

	SuggestionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pigeonhole_suggestions_created_total",
		Help: "Suggestions written from classifier groupings.",
	})

	SuggestionsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pigeonhole_suggestions_resolved_total",
		Help: "Suggestions resolved by review, by outcome.",
	}, []string{"outcome"})

	ClassifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pigeonhole_classify_duration_seconds",
		Help:    "Wall time of a single classifier batch call.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pigeonhole_http_requests_total",
		Help: "HTTP requests served, by method, route and status class.",
	}, []string{"method", "route", "status"})
)
