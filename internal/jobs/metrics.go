package jobs

import "github.com/prometheus/client_golang/prometheus"

var (
	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ctfiling",
			Name:      "job_runs_total",
			Help:      "Total background job runs",
		},
		[]string{"job"},
	)

	jobErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ctfiling",
			Name:      "job_errors_total",
			Help:      "Total background job errors",
		},
		[]string{"job"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ctfiling",
			Name:      "job_duration_seconds",
			Help:      "Background job duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	periodsMarkedOverdue = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ctfiling",
		Name:      "periods_marked_overdue_total",
		Help:      "Filing periods moved to overdue by the sweep",
	})
)

func init() {
	prometheus.MustRegister(jobRuns, jobErrors, jobDuration, periodsMarkedOverdue)
}
