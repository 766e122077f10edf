package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// pipelineRequests counts finished requests.
	// Labels: mode (analyze, search, compare, unknown), error_code ("" on success)
	pipelineRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nycquery",
		Subsystem: "pipeline",
		Name:      "requests_total",
		Help:      "Query pipeline requests by mode and outcome",
	}, []string{"mode", "error_code"})

	// stageDuration measures each external or compute stage.
	// Labels: stage (classify, plan, fetch, rank_fetch, winner_fetch, explain)
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nycquery",
		Subsystem: "pipeline",
		Name:      "stage_seconds",
		Help:      "Duration of query pipeline stages in seconds",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"stage"})

	// filtersDropped counts plan filters removed by the validator.
	// Labels: reason (malformed, operator, no_match, column, value)
	filtersDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nycquery",
		Subsystem: "pipeline",
		Name:      "dropped_filters_total",
		Help:      "Plan filters dropped during validation",
	}, []string{"reason"})
)
