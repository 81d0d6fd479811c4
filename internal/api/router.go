package api

import (
	"net/http"

	"github.com/onnwee/gramfront/internal/idempotency"
	"github.com/onnwee/gramfront/internal/middleware"
)

// RouterConfig holds the handlers and per-route middleware dependencies.
// Nil handler groups leave their routes unregistered.
type RouterConfig struct {
	Health        *HealthHandlers
	Follow        *FollowHandlers
	Edit          *EditHandlers
	Previews      *PreviewHandlers
	Notifications *NotificationHandlers

	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler

	// RateLimitStore enables rate limiting when set.
	RateLimitStore middleware.RateLimitStore
	Metrics        *middleware.Metrics

	// Idempotency makes commit retries with the same Idempotency-Key replay
	// the first successful response.
	Idempotency idempotency.Repository

	Version string
}

// ServiceInfo is returned from GET /.
type ServiceInfo struct {
	Service string `json:"service"`
	Version string `json:"version"`
}

// NewRouter registers every gramfront route on a new ServeMux.
func NewRouter(cfg RouterConfig) *http.ServeMux {
	mux := http.NewServeMux()

	limit := func(scope string, rl middleware.RateLimitConfig, keyFunc middleware.KeyFunc) func(http.Handler) http.Handler {
		if cfg.RateLimitStore == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return middleware.RateLimiter(cfg.RateLimitStore, rl, scopedKey(scope, keyFunc), cfg.Metrics)
	}
	global := limit("global", middleware.DefaultGlobalLimit(), middleware.UserKeyFunc())
	uploads := limit("upload", middleware.DefaultUploadLimit(), middleware.UserKeyFunc())
	search := limit("search", middleware.DefaultSearchLimit(), middleware.UserKeyFunc())

	idem := func(next http.Handler) http.Handler { return next }
	if cfg.Idempotency != nil {
		idem = middleware.Idempotency(cfg.Idempotency)
	}

	handle := func(pattern string, h http.HandlerFunc, wrap ...func(http.Handler) http.Handler) {
		var handler http.Handler = h
		for i := len(wrap) - 1; i >= 0; i-- {
			handler = wrap[i](handler)
		}
		mux.Handle(pattern, handler)
	}

	if cfg.Health != nil {
		handle("GET /health", cfg.Health.Health)
		handle("GET /ready", cfg.Health.Ready)
	}
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	if cfg.Follow != nil {
		handle("GET /followings/{userId}", cfg.Follow.GetFollowings, search)
	}

	if e := cfg.Edit; e != nil {
		handle("POST /posts/{postId}/edit", e.Open, global)
		handle("GET /edit/{sid}", e.Get, global)
		handle("PATCH /edit/{sid}", e.UpdateText, global)
		handle("DELETE /edit/{sid}", e.Cancel, global)
		handle("POST /edit/{sid}/files", e.AttachFiles, uploads)
		handle("DELETE /edit/{sid}/files/{index}", e.RemoveFile, global)
		handle("DELETE /edit/{sid}/originals/{index}", e.RemoveOriginal, global)
		handle("POST /edit/{sid}/files/swap", e.SwapFiles, global)
		handle("POST /edit/{sid}/originals/swap", e.SwapOriginals, global)
		handle("POST /edit/{sid}/commit", e.Commit, uploads, idem)
	}

	if cfg.Previews != nil {
		handle("GET /previews/{id}", cfg.Previews.Get)
	}

	if n := cfg.Notifications; n != nil {
		handle("GET /notifications", n.Enter, global)
		handle("GET /notifications/unread", n.Unread, global)
		handle("POST /notifications/read", n.MarkRead, global)
		handle("GET /notifications/ws", n.Subscribe, global)
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r.Context(), http.StatusOK, ServiceInfo{Service: "gramfront", Version: version})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeCodedError(w, r, ErrCodeNotFound, "The requested resource was not found")
	})

	return mux
}

// scopedKey keeps the buckets of different limits apart in a shared store.
func scopedKey(scope string, keyFunc middleware.KeyFunc) middleware.KeyFunc {
	return func(r *http.Request) string {
		return keyFunc(r) + ":" + scope
	}
}
