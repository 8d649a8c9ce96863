package api

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"fireroute/pkg/alloc"
)

var (
	// passesTotal counts optimization passes by kind and outcome.
	// kind: "allocate", "hazards", "edits", "reseed"; result: "ok" or an error code.
	passesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fireroute_passes_total",
		Help: "Optimization passes by kind and result",
	}, []string{"kind", "result"})

	passDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fireroute_pass_duration_seconds",
		Help:    "Wall time of one optimization pass",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"kind"})

	passIterations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fireroute_pass_iterations",
		Help:    "Annealing iterations of the winning run",
		Buckets: []float64{100, 500, 1000, 5000, 10000, 25000, 50000},
	}, []string{"kind"})

	objectiveMeters = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fireroute_objective_meters",
		Help:    "Longest route length after a pass",
		Buckets: prometheus.ExponentialBuckets(250, 2, 10),
	})

	unassignedBuildings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fireroute_unassigned_buildings_total",
		Help: "Buildings left out because no start point can reach them",
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fireroute_http_requests_total",
		Help: "HTTP requests by route pattern and status code",
	}, []string{"route", "code"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fireroute_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	sessionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fireroute_sessions",
		Help: "Allocation sessions held in memory",
	})
)

func observePass(kind string, res *alloc.Result, elapsed time.Duration) {
	passesTotal.WithLabelValues(kind, "ok").Inc()
	passDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	passIterations.WithLabelValues(kind).Observe(float64(res.Stats.Iterations))
	objectiveMeters.Observe(res.Solution.Objective())
	unassignedBuildings.Add(float64(len(res.Unassigned)))
}

func observeFailure(kind, code string) {
	passesTotal.WithLabelValues(kind, code).Inc()
}
