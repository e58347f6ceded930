package apiclient

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/unnet/isp-console/internal/metrics"
	"github.com/unnet/isp-console/pkg/utilities"
)

const RequestIDHeader = "X-Request-ID"

// loggingTransport tags each request with an id and logs it at debug level.
type loggingTransport struct {
	next   http.RoundTripper
	logger *zap.SugaredLogger
	ids    *utilities.RequestIDs
}

func (t *loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	id := r.Header.Get(RequestIDHeader)
	if id == "" {
		id = t.ids.Next()
		r = r.Clone(r.Context())
		r.Header.Set(RequestIDHeader, id)
	}

	start := time.Now()
	resp, err := t.next.RoundTrip(r)
	dur := time.Since(start)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	metrics.ObserveRemote(r.Method, status, dur)
	if err != nil {
		t.logger.Debugw("http request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", id,
			"duration_ms", float64(dur.Microseconds())/1000.0,
			"error", err,
		)
		return nil, err
	}
	t.logger.Debugw("http request",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", id,
		"status", status,
		"duration_ms", float64(dur.Microseconds())/1000.0,
	)
	return resp, nil
}
