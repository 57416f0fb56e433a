package middleware

import (
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/adverant/nexus-memory/internal/metrics"
)

// MetricsCollector feeds both the Prometheus request counters and the
// in-process atomics behind /metrics/runtime.
type MetricsCollector struct {
	requestCount *atomic.Int64
	errorCount   *atomic.Int64
}

func NewMetricsCollector(requestCount, errorCount *atomic.Int64) *MetricsCollector {
	return &MetricsCollector{
		requestCount: requestCount,
		errorCount:   errorCount,
	}
}

// Middleware counts every served request by method and status class and
// tracks the error total for the runtime stats endpoint.
func (mc *MetricsCollector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mc.requestCount.Add(1)

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)

		if rw.statusCode >= 400 {
			mc.errorCount.Add(1)
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, statusClass(rw.statusCode)).Inc()
	})
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return fmt.Sprintf("%dxx", code/100)
}
