package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/onnwee/gramfront"

// EditOperation names a traced step of a post-edit session. Spans are called
// "edit.<operation>".
type EditOperation string

const (
	EditOperationOpen   EditOperation = "open"
	EditOperationAttach EditOperation = "attach"
	EditOperationCommit EditOperation = "commit"
	EditOperationUpload EditOperation = "upload" // one concurrent upload batch inside a commit
)

// StartEditSpan starts a span for one step of session sessionID. Call the
// returned func with the step's error, if any, to end it.
func StartEditSpan(ctx context.Context, sessionID string, operation EditOperation) (context.Context, func(error)) {
	attrs := []attribute.KeyValue{attribute.String("edit.operation", string(operation))}
	if sessionID != "" {
		attrs = append(attrs, attribute.String("edit.session_id", sessionID))
	}
	ctx, span := otel.Tracer(instrumentationName+"/editor").Start(ctx, "edit."+string(operation), trace.WithAttributes(attrs...))
	return ctx, endFunc(span)
}

// StartSpan is StartEditSpan for work outside an edit session.
func StartSpan(ctx context.Context, name string) (context.Context, func(error)) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, name)
	return ctx, endFunc(span)
}

func endFunc(span trace.Span) func(error) {
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// AddEvent records an event on the span in ctx. Without one it does nothing.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
