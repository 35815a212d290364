package invoker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// invokeTotal counts target calls by target and outcome
	invokeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rulecheck_target_invocations_total",
		Help: "Total target invocations by target and outcome",
	}, []string{"target", "outcome"})

	// invokeDuration tracks target call latency
	invokeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rulecheck_target_invocation_duration_seconds",
		Help:    "Target invocation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
	}, []string{"target"})
)
