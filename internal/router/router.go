package router

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/unnet/isp-console/internal/console"
	"github.com/unnet/isp-console/internal/metrics"
)

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware logs requests at debug level.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("ops request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Cache-Control", "no-store")
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none';")
			}
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// StatusSource is what /status reports on.
type StatusSource interface {
	Snapshot() console.Snapshot
}

// opsStatus leaves setting values and packages out; the endpoint is for
// monitoring, not for reading site content.
type opsStatus struct {
	State             console.State     `json:"state"`
	AttemptsRemaining int               `json:"attempts_remaining"`
	LockRemaining     int               `json:"lock_remaining_seconds"`
	FieldStatuses     map[string]string `json:"field_statuses,omitempty"`
	Packages          int               `json:"packages"`
}

// RegisterRoutes mounts the ops endpoints on a standard library ServeMux.
func RegisterRoutes(logger *zap.SugaredLogger, src StatusSource) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		snap := src.Snapshot()
		out := opsStatus{
			State:             snap.State,
			AttemptsRemaining: snap.AttemptsRemaining,
			LockRemaining:     snap.LockRemaining,
			Packages:          len(snap.Packages),
		}
		if len(snap.Statuses) > 0 {
			out.FieldStatuses = make(map[string]string, len(snap.Statuses))
			for k, v := range snap.Statuses {
				out.FieldStatuses[k] = v.String()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(out); err != nil {
			logger.Warnw("encode status", "error", err)
		}
	})

	return LoggingMiddleware(logger)(SecurityHeadersMiddleware()(mux))
}
