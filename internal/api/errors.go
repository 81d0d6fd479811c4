// Package api provides the gramfront HTTP handlers, the router and the
// standard JSON error envelope.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/onnwee/gramfront/internal/middleware"
)

// Error codes carried in the envelope's "code" field.
const (
	ErrCodeValidation  = "validation_error"
	ErrCodeAuthFailed  = "auth_failed"
	ErrCodeNotFound    = "not_found"
	ErrCodeRateLimited = "rate_limited"
	ErrCodeInternal    = "internal_error"
	ErrCodeForbidden   = "forbidden"
	ErrCodeConflict    = "conflict"
	ErrCodeBadRequest  = "bad_request"

	// Attachment checks.
	ErrCodeUnsupportedType = "unsupported_type"
	ErrCodeFileTooLarge    = "file_too_large"
	ErrCodeTooManyFiles    = "too_many_files"

	// Edit sessions.
	ErrCodeIndexOutOfRange  = "index_out_of_range"
	ErrCodeSessionClosed    = "session_closed"
	ErrCodeCommitInProgress = "commit_in_progress"
	ErrCodeCommitFailed     = "commit_failed"

	// ErrCodeUpstreamError means the social API failed or could not be reached.
	ErrCodeUpstreamError = "upstream_error"
)

var codeStatus = map[string]int{
	ErrCodeValidation:       http.StatusBadRequest,
	ErrCodeBadRequest:       http.StatusBadRequest,
	ErrCodeTooManyFiles:     http.StatusBadRequest,
	ErrCodeIndexOutOfRange:  http.StatusBadRequest,
	ErrCodeAuthFailed:       http.StatusUnauthorized,
	ErrCodeForbidden:        http.StatusForbidden,
	ErrCodeNotFound:         http.StatusNotFound,
	ErrCodeConflict:         http.StatusConflict,
	ErrCodeCommitInProgress: http.StatusConflict,
	ErrCodeSessionClosed:    http.StatusGone,
	ErrCodeFileTooLarge:     http.StatusRequestEntityTooLarge,
	ErrCodeUnsupportedType:  http.StatusUnsupportedMediaType,
	ErrCodeRateLimited:      http.StatusTooManyRequests,
	ErrCodeInternal:         http.StatusInternalServerError,
	ErrCodeCommitFailed:     http.StatusBadGateway,
	ErrCodeUpstreamError:    http.StatusBadGateway,
}

// ErrorResponse is the body of every failed request:
// {"error": {"code": "...", "message": "..."}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes the error envelope with status. ctx should carry the code
// from middleware.SetErrorCode so the access log records it.
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	middleware.UpdateResponseContext(w, ctx)

	body, err := json.Marshal(ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

// StatusCodeMapping returns the HTTP status for code, 500 when unknown.
func StatusCodeMapping(code string) int {
	if status, ok := codeStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeCodedError(w http.ResponseWriter, r *http.Request, code, message string) {
	ctx := middleware.SetErrorCode(r.Context(), code)
	WriteError(w, ctx, StatusCodeMapping(code), code, message)
}

func writeJSON(w http.ResponseWriter, ctx context.Context, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
