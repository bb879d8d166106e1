package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Spok95/ct-filing/internal/apperr"
)

var (
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ctfiling", Name: "http_requests_total", Help: "Processed HTTP requests",
	}, []string{"route", "method", "code"})
	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ctfiling", Name: "http_request_duration_seconds", Help: "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})
	Operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ctfiling", Name: "operations_total", Help: "Engine operations by outcome",
	}, []string{"op", "result"})
	StepUpserts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ctfiling", Name: "step_upserts_total", Help: "Workflow step upserts by resulting status",
	}, []string{"status"})
	DBPing = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ctfiling", Name: "db_ping_seconds", Help: "DB ping latency",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(HTTPRequests, HTTPDuration, Operations, StepUpserts, DBPing)
}

func Handler() http.Handler { return promhttp.Handler() }

func ObserveDBPing(d time.Duration) { DBPing.Observe(d.Seconds()) }

// ObserveOp считает операцию ядра: ok | validation | not_found | conflict | error.
func ObserveOp(op string, err error) {
	Operations.WithLabelValues(op, Result(err)).Inc()
}

func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrValidation):
		return "validation"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
