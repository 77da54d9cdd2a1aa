// Package metrics holds the Prometheus collectors of the engine. They are
// registered on the default registry and served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChallengesIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sca_challenges_issued_total",
		Help: "Challenges issued, labeled by delivery channel",
	}, []string{"kind"})

	ChallengeValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sca_challenge_validations_total",
		Help: "Challenge validation outcomes, labeled by result",
	}, []string{"result"})

	ChallengesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sca_challenges_expired_total",
		Help: "Pending challenges flipped to expired by the retention job",
	})

	Transfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sca_transfers_total",
		Help: "Transfer lifecycle events, labeled by kind and outcome",
	}, []string{"kind", "outcome"})

	MutationRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sca_mutation_retries_total",
		Help: "Retries of the atomic balance mutation after transient storage errors",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sca_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sca_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "route"})
)
