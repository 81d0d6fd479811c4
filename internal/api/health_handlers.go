package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/gramfront/internal/middleware"
)

// HealthChecker is a dependency that /ready reports on.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

const readyTimeout = 5 * time.Second

// HealthHandlers serves /health and /ready.
type HealthHandlers struct {
	checks []namedChecker
}

type namedChecker struct {
	name    string
	checker HealthChecker
}

// HealthHandlersConfig lists the checked dependencies. A nil checker means the
// dependency is not configured and always reports "ok".
type HealthHandlersConfig struct {
	RedisChecker     HealthChecker
	SocialAPIChecker HealthChecker
}

func NewHealthHandlers(config HealthHandlersConfig) *HealthHandlers {
	return &HealthHandlers{
		checks: []namedChecker{
			{name: "redis", checker: config.RedisChecker},
			{name: "social_api", checker: config.SocialAPIChecker},
		},
	}
}

// HealthResponse is the body of both endpoints.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Health handles GET /health. It only proves the process serves requests.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, HealthResponse{
		Status:    "healthy",
		Checks:    map[string]string{"runtime": "ok"},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready. Configured dependencies are checked in parallel
// and any failure turns the answer into 503.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	results := make([]error, len(h.checks))
	var g errgroup.Group
	for i, c := range h.checks {
		if c.checker == nil {
			continue
		}
		g.Go(func() error {
			results[i] = c.checker.HealthCheck(ctx)
			return nil
		})
	}
	_ = g.Wait()

	resp := HealthResponse{
		Status:    "healthy",
		Checks:    map[string]string{"metrics": "ok"},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	for i, c := range h.checks {
		if err := results[i]; err != nil {
			slog.WarnContext(ctx, "health check failed", "check", c.name, "error", err)
			resp.Checks[c.name] = "error"
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[c.name] = "ok"
	}
	writeJSON(w, r.Context(), code, resp)
}

func writeMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
	WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
}
