package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/onnwee/gramfront/internal/idempotency"
)

// IdempotencyKeyHeader is the HTTP header name for idempotency keys.
const IdempotencyKeyHeader = "Idempotency-Key"

// IdempotencyReplayedHeader marks a response served from the store.
const IdempotencyReplayedHeader = "Idempotency-Replayed"

// anonymousOwner scopes keys sent without an authenticated user.
const anonymousOwner = "anonymous"

// idempotencyResponseWriter tees the response so it can be stored.
type idempotencyResponseWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
	written    bool
}

func (w *idempotencyResponseWriter) WriteHeader(statusCode int) {
	if !w.written {
		w.statusCode = statusCode
		w.written = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *idempotencyResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.statusCode = http.StatusOK
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.body.Write(b[:n])
	return n, err
}

func (w *idempotencyResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func writeIdempotencyError(w http.ResponseWriter, r *http.Request, code, message string) {
	UpdateResponseContext(w, SetErrorCode(r.Context(), code))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

// Idempotency replays the stored response when a request carries an
// Idempotency-Key its owner already used successfully. Requests without
// the header run normally. Only 2xx responses are stored, so a failed
// attempt can be retried with the same key.
func Idempotency(repo idempotency.Repository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if err := idempotency.ValidateKey(key); err != nil {
				if errors.Is(err, idempotency.ErrKeyTooLong) {
					writeIdempotencyError(w, r, "idempotency_key_too_long", "Idempotency-Key exceeds maximum length of 64 characters")
				} else {
					writeIdempotencyError(w, r, "invalid_idempotency_key", "Invalid Idempotency-Key format")
				}
				return
			}

			ctx := r.Context()
			owner := GetUserID(ctx)
			if owner == "" {
				owner = anonymousOwner
			}

			existing, err := repo.Get(ctx, owner, key)
			switch {
			case err == nil && existing.Verify():
				slog.InfoContext(ctx, "replaying stored response", "key", key, "status", existing.StatusCode)
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set(IdempotencyReplayedHeader, "true")
				w.WriteHeader(existing.StatusCode)
				_, _ = io.WriteString(w, existing.Body)
				return
			case err == nil:
				slog.WarnContext(ctx, "stored response failed integrity check, running request", "key", key)
			case !errors.Is(err, idempotency.ErrKeyNotFound):
				slog.ErrorContext(ctx, "failed to check idempotency key", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			capture := &idempotencyResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)

			if capture.statusCode < 200 || capture.statusCode >= 300 {
				return
			}
			body := capture.body.String()
			record := &idempotency.Record{
				Key:        key,
				Owner:      owner,
				Method:     r.Method,
				Route:      routeLabel(r),
				StatusCode: capture.statusCode,
				Body:       body,
				BodyHash:   idempotency.ComputeResponseHash(body),
			}
			if err := repo.Store(ctx, record); err != nil && !errors.Is(err, idempotency.ErrKeyExists) {
				slog.ErrorContext(ctx, "failed to store idempotency key", "key", key, "error", err)
			}
		})
	}
}
