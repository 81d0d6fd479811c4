package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/gramfront/internal/auth"
)

// TokenValidator resolves an access token to a user id.
type TokenValidator interface {
	ValidateAccessToken(token string) (string, error)
}

// Auth reads the access token cookie and stores the viewer's user id in
// the request context. Requests without the cookie continue anonymously; a
// cookie that fails validation is answered with 401 so the client can sign
// in again. A nil validator disables the check entirely. metrics may be nil.
func Auth(validator TokenValidator, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if validator == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(auth.AccessCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			userID, err := validator.ValidateAccessToken(cookie.Value)
			if err != nil {
				reason := "invalid"
				if errors.Is(err, auth.ErrExpiredToken) {
					reason = "expired"
				}
				if metrics != nil {
					metrics.IncAuthFailures(reason)
				}
				slog.DebugContext(r.Context(), "access token rejected", "reason", reason, "error", err)

				ctx := SetErrorCode(r.Context(), "auth_failed")
				UpdateResponseContext(w, ctx)
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]string{
						"code":    "auth_failed",
						"message": "Session expired, please sign in again",
					},
				})
				return
			}

			recordUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(SetUserID(r.Context(), userID)))
		})
	}
}
