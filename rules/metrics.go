package rules

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ruleResultsTotal counts rule outcomes by scoring kind and status
	ruleResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rulecheck_rule_results_total",
		Help: "Total rule evaluations by scoring kind and status",
	}, []string{"scoring", "status"})

	// runsTotal counts pack executions by outcome (completed or fatal)
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rulecheck_runs_total",
		Help: "Total pack executions by outcome",
	}, []string{"outcome"})

	// runDuration tracks wall time of a whole pack execution
	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rulecheck_run_duration_seconds",
		Help:    "Pack execution duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
	})
)
