package blend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	previewsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waypoint_blend_previews_total",
		Help: "Total number of drag previews",
	})

	commitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waypoint_blend_commits_total",
		Help: "Total number of commits by outcome",
	}, []string{"outcome"})

	commitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "waypoint_blend_commit_duration_seconds",
		Help:    "Wall-clock duration of commits",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 180, 600},
	})

	solverCallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waypoint_blend_solver_calls_total",
		Help: "Total number of IK solves issued by commits",
	})

	solverIterationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waypoint_blend_solver_iterations_total",
		Help: "Total solver iterations reported by IK solves",
	})
)
