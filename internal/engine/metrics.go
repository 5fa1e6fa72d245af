package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "easel_jobs_total",
			Help: "Total number of jobs processed, by outcome.",
		},
		[]string{"status"},
	)

	pollIterations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "easel_poll_iterations_total",
			Help: "Total number of completion-poll passes performed.",
		},
	)

	artifactsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "easel_artifacts_delivered_total",
			Help: "Total number of artifact delivery attempts, by outcome.",
		},
		[]string{"status"},
	)

	webhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "easel_webhook_deliveries_total",
			Help: "Total number of webhook notification attempts, by outcome.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(jobsTotal)
	prometheus.MustRegister(pollIterations)
	prometheus.MustRegister(artifactsDelivered)
	prometheus.MustRegister(webhookDeliveries)
}
