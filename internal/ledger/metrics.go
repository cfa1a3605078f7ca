package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// txDuration tracks send-to-receipt latency of contract writes
	txDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "faceballot_ledger_tx_duration_seconds",
		Help:    "Time from sending a contract transaction to its receipt",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2min
	}, []string{"method"})
)
