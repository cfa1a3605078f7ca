package voting

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// votesTotal counts vote attempts by outcome code
	votesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceballot_votes_total",
		Help: "Vote attempts by result",
	}, []string{"result"})

	// proposalsTotal counts proposal submissions by outcome code
	proposalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceballot_proposals_added_total",
		Help: "Proposal submissions by result",
	}, []string{"result"})

	// extractDuration tracks face descriptor extraction latency
	extractDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "faceballot_face_extract_duration_seconds",
		Help:    "Face descriptor extraction duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
	})

	// guardHits counts duplicate-face guard matches by entry state
	guardHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceballot_guard_matches_total",
		Help: "Duplicate-face guard matches by entry state",
	}, []string{"state"})
)

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	return Code(err)
}
