// Package metrics registers the gateway's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts HTTP requests by route and status class.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inferd",
		Name:      "http_requests_total",
		Help:      "HTTP requests served, by route and status code.",
	}, []string{"route", "status"})

	// RequestDuration observes end-to-end request latency by route.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "inferd",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency, by route.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"route"})

	// InflightGenerations tracks generations currently holding a
	// concurrency slot.
	InflightGenerations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "inferd",
		Name:      "inflight_generations",
		Help:      "Generations currently holding a concurrency slot.",
	})

	// GeneratedTokensTotal counts completion tokens produced, by model.
	GeneratedTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inferd",
		Name:      "generated_tokens_total",
		Help:      "Completion tokens produced, by model.",
	}, []string{"model"})

	// GenerationDuration observes generation wall time by model.
	GenerationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "inferd",
		Name:      "generation_duration_seconds",
		Help:      "Generation wall time, by model.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"model"})

	// ModelLoadsTotal counts model loads by outcome.
	ModelLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inferd",
		Name:      "model_loads_total",
		Help:      "Model load attempts, by outcome.",
	}, []string{"outcome"})

	// CacheEvictionsTotal counts models evicted to reclaim device memory.
	CacheEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inferd",
		Name:      "cache_evictions_total",
		Help:      "Models evicted from the cache to reclaim device memory.",
	})

	// ResidentModels tracks the number of models currently in device memory.
	ResidentModels = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "inferd",
		Name:      "resident_models",
		Help:      "Models currently resident in device memory.",
	})

	// DeviceFaultsTotal counts device faults detected during generation.
	DeviceFaultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inferd",
		Name:      "device_faults_total",
		Help:      "Device faults detected during generation.",
	})
)
