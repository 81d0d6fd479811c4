package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return recorder
}

func attrMap(attrs []attribute.KeyValue) map[attribute.Key]string {
	m := make(map[attribute.Key]string, len(attrs))
	for _, a := range attrs {
		m[a.Key] = a.Value.Emit()
	}
	return m
}

func TestStartEditSpan(t *testing.T) {
	tests := []struct {
		name      string
		sessionID string
		operation EditOperation
	}{
		{"open without session", "", EditOperationOpen},
		{"attach", "sess-1", EditOperationAttach},
		{"commit", "sess-1", EditOperationCommit},
		{"upload", "sess-2", EditOperationUpload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := newRecorder(t)

			_, endSpan := StartEditSpan(context.Background(), tt.sessionID, tt.operation)
			endSpan(nil)

			spans := recorder.Ended()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			span := spans[0]

			if want := "edit." + string(tt.operation); span.Name() != want {
				t.Errorf("expected span name %q, got %q", want, span.Name())
			}

			attrs := attrMap(span.Attributes())
			if attrs["edit.operation"] != string(tt.operation) {
				t.Errorf("expected edit.operation=%s, got %q", tt.operation, attrs["edit.operation"])
			}
			sid, ok := attrs["edit.session_id"]
			if tt.sessionID == "" && ok {
				t.Error("unexpected edit.session_id attribute")
			}
			if tt.sessionID != "" && sid != tt.sessionID {
				t.Errorf("expected edit.session_id=%s, got %q", tt.sessionID, sid)
			}
		})
	}
}

func TestStartEditSpan_WithError(t *testing.T) {
	recorder := newRecorder(t)
	testErr := errors.New("upload rejected with status 403")

	_, endSpan := StartEditSpan(context.Background(), "sess-1", EditOperationCommit)
	endSpan(testErr)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]

	if span.Status().Code.String() != "Error" {
		t.Errorf("expected error status, got %s", span.Status().Code.String())
	}
	if span.Status().Description != testErr.Error() {
		t.Errorf("expected error description %q, got %q", testErr.Error(), span.Status().Description)
	}
	if len(span.Events()) == 0 {
		t.Error("expected the error to be recorded as an event")
	}
}

func TestStartSpan(t *testing.T) {
	recorder := newRecorder(t)

	_, endSpan := StartSpan(context.Background(), "followings.search")
	endSpan(nil)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "followings.search" {
		t.Errorf("expected span name %q, got %q", "followings.search", span.Name())
	}
	if code := span.Status().Code.String(); code != "Unset" && code != "Ok" {
		t.Errorf("expected Unset or Ok status, got %s", code)
	}
}

func TestStartSpan_NestsUnderParent(t *testing.T) {
	recorder := newRecorder(t)

	ctx, endParent := StartEditSpan(context.Background(), "sess-1", EditOperationCommit)
	_, endChild := StartSpan(ctx, "child")
	endChild(nil)
	endParent(nil)

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	child, parent := spans[0], spans[1]
	if child.Parent().SpanID() != parent.SpanContext().SpanID() {
		t.Error("expected child span to have the commit span as parent")
	}
	if child.SpanContext().TraceID() != parent.SpanContext().TraceID() {
		t.Error("expected both spans to share a trace")
	}
}

func TestAddEvent(t *testing.T) {
	recorder := newRecorder(t)

	ctx, span := otel.Tracer("test").Start(context.Background(), "test-span")
	AddEvent(ctx, "preview_released",
		attribute.String("locator", "abc"),
		attribute.Int("remaining", 2),
	)
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	events := spans[0].Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Name != "preview_released" {
		t.Errorf("expected event name %q, got %q", "preview_released", events[0].Name)
	}
	if len(events[0].Attributes) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(events[0].Attributes))
	}
}

func TestSetAttributes(t *testing.T) {
	recorder := newRecorder(t)

	ctx, span := otel.Tracer("test").Start(context.Background(), "test-span")
	SetAttributes(ctx,
		attribute.String("user_id", "42"),
		attribute.Int("files", 3),
	)
	span.End()

	attrs := attrMap(recorder.Ended()[0].Attributes())
	if attrs["user_id"] != "42" {
		t.Errorf("expected user_id=42, got %q", attrs["user_id"])
	}
	if attrs["files"] != "3" {
		t.Errorf("expected files=3, got %q", attrs["files"])
	}
}
