package middleware

import (
	"net/http"
	"sync/atomic"
)

// MetricsCollector feeds the request and error counters surfaced by the
// metrics endpoint.
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

// Middleware counts every request, and any response with a 4xx or 5xx
// status as an error.
func (mc *MetricsCollector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mc.requestCount.Add(1)

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)

		if rw.statusCode >= 400 {
			mc.errorCount.Add(1)
		}
	})
}
