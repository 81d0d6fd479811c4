package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return recorder
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestTracing_SpanNamesUseRoutes(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   string
	}{
		{http.MethodGet, "/followings/42", "GET /followings/{userId}"},
		{http.MethodPost, "/posts/42/edit", "POST /posts/{postId}/edit"},
		{http.MethodPatch, "/edit/3f2a", "PATCH /edit/{sid}"},
		{http.MethodPost, "/edit/3f2a/files", "POST /edit/{sid}/files"},
		{http.MethodDelete, "/edit/3f2a/files/2", "DELETE /edit/{sid}/files/{index}"},
		{http.MethodDelete, "/edit/3f2a/originals/0", "DELETE /edit/{sid}/originals/{index}"},
		{http.MethodPost, "/edit/3f2a/originals/swap", "POST /edit/{sid}/originals/swap"},
		{http.MethodPost, "/edit/3f2a/commit", "POST /edit/{sid}/commit"},
		{http.MethodGet, "/previews/9c1e", "GET /previews/{id}"},
		{http.MethodPost, "/notifications/read", "POST /notifications/read"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			recorder := installRecorder(t)
			Tracing("gramfront")(okHandler()).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, nil))

			spans := recorder.Ended()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			if spans[0].Name() != tt.want {
				t.Errorf("expected span %q, got %q", tt.want, spans[0].Name())
			}
		})
	}
}

func TestTracing_SkipsHealthAndMetrics(t *testing.T) {
	recorder := installRecorder(t)
	handler := Tracing("gramfront")(okHandler())

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Errorf("%s: expected handler to still run, got %d", path, rr.Code)
		}
	}
	if n := len(recorder.Ended()); n != 0 {
		t.Errorf("expected no spans for health and metrics endpoints, got %d", n)
	}
}

func TestTracing_RequestIDAndIdentifiers(t *testing.T) {
	recorder := installRecorder(t)

	var traceID, spanID string
	handler := RequestID(Tracing("gramfront")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID, spanID = GetTraceID(r), GetSpanID(r)
		w.WriteHeader(http.StatusNoContent)
	})))

	req := httptest.NewRequest(http.MethodDelete, "/edit/3f2a", nil)
	req.Header.Set(RequestIDHeader, "cancel-7")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.SpanContext().TraceID().String() != traceID || span.SpanContext().SpanID().String() != spanID {
		t.Errorf("expected handler ids %s/%s to match the span", traceID, spanID)
	}

	found := false
	for _, attr := range span.Attributes() {
		if attr.Key == "request.id" && attr.Value.AsString() == "cancel-7" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected request.id attribute, got %v", span.Attributes())
	}
}

func TestTracing_JoinsBrowserTrace(t *testing.T) {
	recorder := installRecorder(t)

	req := httptest.NewRequest(http.MethodPost, "/edit/3f2a/commit", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	Tracing("gramfront")(okHandler()).ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if got := spans[0].SpanContext().TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("expected the propagated trace id, got %s", got)
	}
	if got := spans[0].Parent().SpanID().String(); got != "00f067aa0ba902b7" {
		t.Errorf("expected the browser span as parent, got %s", got)
	}
}

func TestGetTraceID_WithoutSpan(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/followings/1", nil)
	if GetTraceID(req) != "" || GetSpanID(req) != "" {
		t.Error("expected empty ids without an active span")
	}
}
