package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_sync_cycles_total",
			Help: "Sync cycles run, by domain and result",
		},
		[]string{"domain", "result"},
	)

	itemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_sync_items_total",
			Help: "Queue items processed, by domain and outcome",
		},
		[]string{"domain", "outcome"},
	)

	cycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pos_sync_cycle_duration_seconds",
			Help:    "Duration of one sync cycle",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"domain"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pos_sync_queue_items",
			Help: "Queue items by domain and status after the last cycle",
		},
		[]string{"domain", "status"},
	)
)
