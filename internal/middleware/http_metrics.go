// Package middleware provides HTTP middleware components for the gramfront server.
package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// staticRoutes are recorded as-is.
var staticRoutes = map[string]bool{
	"/":                     true,
	"/health":               true,
	"/ready":                true,
	"/metrics":              true,
	"/notifications":        true,
	"/notifications/unread": true,
	"/notifications/read":   true,
	"/notifications/ws":     true,
}

// editSubroutes are the fixed tails under /edit/{sid}.
var editSubroutes = map[string]bool{
	"files":          true,
	"commit":         true,
	"originals/swap": true,
	"files/swap":     true,
}

// normalizePath maps request paths with dynamic segments to their route
// pattern so metric label cardinality stays bounded, e.g. /edit/abc/files/2
// becomes /edit/{sid}/files/{index}.
func normalizePath(path string) string {
	if staticRoutes[path] {
		return path
	}

	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) < 2 || parts[1] == "" {
		return path
	}

	switch parts[0] {
	case "followings":
		if len(parts) == 2 {
			return "/followings/{userId}"
		}
	case "previews":
		if len(parts) == 2 {
			return "/previews/{id}"
		}
	case "posts":
		if len(parts) == 3 && parts[2] == "edit" {
			return "/posts/{postId}/edit"
		}
	case "edit":
		switch len(parts) {
		case 2:
			return "/edit/{sid}"
		case 3, 4:
			tail := strings.Join(parts[2:], "/")
			if editSubroutes[tail] {
				return "/edit/{sid}/" + tail
			}
			if len(parts) == 4 && (parts[2] == "files" || parts[2] == "originals") {
				return "/edit/{sid}/" + parts[2] + "/{index}"
			}
		}
	}

	return path
}

// routeLabel prefers the pattern the ServeMux matched and falls back to
// normalizePath when the request has not been routed yet.
func routeLabel(r *http.Request) string {
	if p := r.Pattern; p != "" {
		if i := strings.IndexByte(p, ' '); i >= 0 {
			p = p[i+1:]
		}
		return p
	}
	return normalizePath(r.URL.Path)
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code and response size.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

// WriteHeader captures the status code before writing it.
func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size and writes the data.
func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	mrw.wroteHeader = true
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

func (mrw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return mrw.ResponseWriter
}

func (mrw *metricsResponseWriter) Flush() {
	if f, ok := mrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (mrw *metricsResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := mrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	mrw.statusCode = http.StatusSwitchingProtocols
	mrw.wroteHeader = true
	return h.Hijack()
}

// newMetricsResponseWriter creates a new metricsResponseWriter with default 200 status.
func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// HTTPMetrics is a middleware that records HTTP request metrics.
// It captures duration, request/response sizes, and request counts.
// Health check endpoints (/health, /ready) are excluded.
//
// Place it directly around the ServeMux so the matched route pattern is
// visible once the handler returns.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			mrw := newMetricsResponseWriter(w)

			requestSize := int64(0)
			if r.ContentLength > 0 {
				requestSize = r.ContentLength
			}

			next.ServeHTTP(mrw, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				routeLabel(r),
				strconv.Itoa(mrw.statusCode),
				time.Since(start).Seconds(),
				requestSize,
				mrw.size,
			)
		})
	}
}
