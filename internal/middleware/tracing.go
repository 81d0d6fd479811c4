package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var untracedPaths = map[string]bool{"/health": true, "/ready": true, "/metrics": true}

// Tracing opens a server span per request through otelhttp, joining any
// traceparent the browser sent.
//
// Spans are named "METHOD route" with dynamic segments collapsed, so
// /edit/abc/files/2 becomes "DELETE /edit/{sid}/files/{index}". Health and
// scrape endpoints are not traced. The request id, when RequestID runs
// first, is attached to the span.
func Tracing(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		annotated := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := GetRequestID(r.Context()); id != "" {
				trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("request.id", id))
			}
			next.ServeHTTP(w, r)
		})
		return otelhttp.NewHandler(annotated, serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + normalizePath(r.URL.Path)
			}),
			otelhttp.WithFilter(func(r *http.Request) bool { return !untracedPaths[r.URL.Path] }),
		)
	}
}

// GetTraceID returns the hex trace id of the request's span, or "".
func GetTraceID(r *http.Request) string {
	if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}

// GetSpanID returns the hex span id of the request's span, or "".
func GetSpanID(r *http.Request) string {
	if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
		return sc.SpanID().String()
	}
	return ""
}
