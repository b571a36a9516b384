package mode

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Kellyhimself/POS-sub002/internal/domain"
)

var (
	onlineGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pos_mode_online",
		Help: "1 while the device is online, 0 while offline",
	})

	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_mode_transitions_total",
			Help: "Mode transitions, by the mode entered",
		},
		[]string{"mode"},
	)
)

func recordMode(mode domain.Mode) {
	if mode == domain.ModeOnline {
		onlineGauge.Set(1)
		return
	}
	onlineGauge.Set(0)
}
