package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesDecodedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradestream",
		Subsystem: "stream",
		Name:      "frames_decoded_total",
		Help:      "Total frames decoded, by kind.",
	}, []string{"kind"})

	orphanResultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tradestream",
		Subsystem: "stream",
		Name:      "orphan_tool_results_total",
		Help:      "Tool results dropped because no matching call was recorded.",
	})

	panelTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradestream",
		Subsystem: "view",
		Name:      "transitions_total",
		Help:      "View state changes, by active panel after the change.",
	}, []string{"panel"})

	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradestream",
		Subsystem: "stream",
		Name:      "turns_total",
		Help:      "Completed turns, by outcome (done, failed or aborted).",
	}, []string{"outcome"})

	turnDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tradestream",
		Subsystem: "stream",
		Name:      "turn_duration_seconds",
		Help:      "Time from the first chunk request to the terminal event.",
		Buckets:   prometheus.DefBuckets,
	})
)
