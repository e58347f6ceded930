// Package metrics provides Prometheus instrumentation for the admin console.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LoginAttemptsTotal counts login submissions by outcome.
	LoginAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "isp_console",
			Name:      "login_attempts_total",
			Help:      "Login submissions by result (accepted, rejected, locked).",
		},
		[]string{"result"},
	)

	// FieldSavesTotal counts finished field writes by result.
	FieldSavesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "isp_console",
			Name:      "field_saves_total",
			Help:      "Finished field and package writes by result.",
		},
		[]string{"result"},
	)

	RemoteRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "isp_console",
			Name:      "remote_requests_total",
			Help:      "Requests to the site API by method and status class.",
		},
		[]string{"method", "status"},
	)

	RemoteRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "isp_console",
			Name:      "remote_request_duration_seconds",
			Help:      "Site API request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Locked is 1 while the login gate is locked.
	Locked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "isp_console",
			Name:      "login_locked",
			Help:      "1 while the login gate is locked, 0 otherwise.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		LoginAttemptsTotal,
		FieldSavesTotal,
		RemoteRequestsTotal,
		RemoteRequestDuration,
		Locked,
	)
}

// ObserveLogin records one login outcome ("accepted", "rejected", "locked").
func ObserveLogin(result string) {
	LoginAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveSave records one finished write.
func ObserveSave(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	FieldSavesTotal.WithLabelValues(result).Inc()
}

// ObserveRemote records one site API request. A status of 0 means the
// request never got a response.
func ObserveRemote(method string, status int, d time.Duration) {
	RemoteRequestsTotal.WithLabelValues(method, statusBucket(status)).Inc()
	RemoteRequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

func SetLocked(locked bool) {
	if locked {
		Locked.Set(1)
		return
	}
	Locked.Set(0)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusBucket groups HTTP status codes into 2xx, 3xx, 4xx, 5xx.
func statusBucket(code int) string {
	if code <= 0 {
		return "error"
	}
	if code < 100 || code > 599 {
		return strconv.Itoa(code)
	}
	return strconv.Itoa(code/100) + "xx"
}
