// Package middleware provides HTTP middleware components for the gramfront server.
package middleware

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"
)

type (
	userIDKey     struct{}
	errorCodeKey  struct{}
	userHolderKey struct{}
)

// SetUserID stores the authenticated viewer's id.
func SetUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey{}, id)
}

// GetUserID returns the viewer id set by Auth, or "" for anonymous requests.
func GetUserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// SetErrorCode attaches an envelope error code for the access log.
func SetErrorCode(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, errorCodeKey{}, code)
}

func GetErrorCode(ctx context.Context) string {
	code, _ := ctx.Value(errorCodeKey{}).(string)
	return code
}

// errorCodeRecorder is implemented by response writers that carry the error
// code back out to the logging middleware.
type errorCodeRecorder interface {
	setErrorCode(code string)
}

// UpdateResponseContext hands the error code stored in ctx to the logging
// middleware wrapping w. Handlers derive a new context when they set an
// error code, so the outer middleware cannot see it through the request.
func UpdateResponseContext(w http.ResponseWriter, ctx context.Context) {
	code := GetErrorCode(ctx)
	if code == "" {
		return
	}
	for w != nil {
		if rec, ok := w.(errorCodeRecorder); ok {
			rec.setErrorCode(code)
			return
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return
		}
		w = u.Unwrap()
	}
}

// responseWriter records what the access log needs: status, body size and
// the error code a handler reported through UpdateResponseContext.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int
	wroteHeader bool
	errorCode   string
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode, rw.wroteHeader = code, true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

func (rw *responseWriter) setErrorCode(code string) { rw.errorCode = code }

func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets /notifications/ws upgrade through the access log. The request
// is logged as 101.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode, rw.wroteHeader = http.StatusSwitchingProtocols, true
	return h.Hijack()
}

// NewLogger logs JSON at info level in production and text at debug level
// everywhere else.
func NewLogger(env string) *slog.Logger {
	if env == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// Logging writes one "request completed" line per request, at error level
// for 5xx and warn for 4xx. Auth runs inside it, so the viewer id comes back
// through a holder Logging puts on the context.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newResponseWriter(w)
			holder := &userHolder{}
			next.ServeHTTP(rw, r.WithContext(context.WithValue(r.Context(), userHolderKey{}, holder)))

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rw.statusCode),
				slog.Int64("latency_ms", time.Since(start).Milliseconds()),
				slog.Int("size", rw.size),
			}
			attrs = appendNonEmpty(attrs, "request_id", GetRequestID(r.Context()))
			attrs = appendNonEmpty(attrs, "user_id", firstNonEmpty(GetUserID(r.Context()), holder.id))
			if rw.statusCode >= http.StatusBadRequest {
				attrs = appendNonEmpty(attrs, "error_code", firstNonEmpty(rw.errorCode, GetErrorCode(r.Context())))
			}
			logger.LogAttrs(r.Context(), levelForStatus(rw.statusCode), "request completed", attrs...)
		})
	}
}

func levelForStatus(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

func appendNonEmpty(attrs []slog.Attr, key, value string) []slog.Attr {
	if value == "" {
		return attrs
	}
	return append(attrs, slog.String(key, value))
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

type userHolder struct {
	id string
}

// recordUserID stores id in the holder installed by Logging, if any.
func recordUserID(ctx context.Context, id string) {
	if h, ok := ctx.Value(userHolderKey{}).(*userHolder); ok {
		h.id = id
	}
}
