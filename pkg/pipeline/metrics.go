package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geo_stage_duration_seconds",
		Help:    "Wall time of a pipeline stage",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"stage"})

	stageKeysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geo_stage_keys_total",
		Help: "Keys dispatched per stage after deduplication",
	}, []string{"stage"})

	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geo_failures_total",
		Help: "Failure records produced per stage",
	}, []string{"stage"})

	rowsEmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geo_rows_emitted_total",
		Help: "Joined rows produced",
	})

	belowThresholdTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geo_below_threshold_total",
		Help: "Runs whose row count ended below the minimum",
	})
)
