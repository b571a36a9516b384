package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	limiterRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_ratelimit_rejections_total",
			Help: "Requests rejected locally because the window was full",
		},
		[]string{"key"},
	)

	retryAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pos_ratelimit_retries_total",
			Help: "Backoff retries after rate-limit-class failures",
		},
	)

	inFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pos_outbound_in_flight",
			Help: "Outbound calls currently holding a concurrency slot",
		},
		[]string{"key"},
	)
)
