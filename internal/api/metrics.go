package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradestream",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests served, by method, route and status.",
	}, []string{"method", "route", "status"})

	chatStreamsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradestream",
		Subsystem: "backend",
		Name:      "chat_streams_total",
		Help:      "Chat responses served, by source (replay or relay) and outcome.",
	}, []string{"source", "outcome"})
)
