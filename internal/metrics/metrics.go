package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postulaciones_transitions_total",
		Help: "Committed status transitions by target status.",
	}, []string{"status"})

	TransitionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postulaciones_transition_failures_total",
		Help: "Status transition commits that failed at the store.",
	})

	SnapshotsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postulaciones_snapshots_applied_total",
		Help: "Live subscription snapshots applied to a view.",
	})

	RefreshErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postulaciones_refresh_errors_total",
		Help: "One-shot refresh fetches that failed.",
	})

	WsClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "postulaciones_ws_clients",
		Help: "Currently connected websocket clients.",
	})
)
