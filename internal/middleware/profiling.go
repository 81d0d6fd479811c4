package middleware

import (
	"log/slog"
	"net/http"
	"net/http/pprof"
	"strings"
)

// ProfilingConfig configures the profiling middleware.
type ProfilingConfig struct {
	// Enabled exposes /debug/pprof/*. Never honoured in production.
	Enabled     bool
	Environment string
}

// Profiling serves the pprof endpoints under /debug/pprof/ when enabled
// outside production, and passes every other request to next.
func Profiling(config ProfilingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !config.Enabled {
			return next
		}
		if config.Environment == "production" || config.Environment == "prod" {
			slog.Error("profiling cannot be enabled in production", "environment", config.Environment)
			return next
		}

		slog.Warn("profiling endpoints enabled", "environment", config.Environment, "endpoints", "/debug/pprof/*")

		debug := http.NewServeMux()
		debug.HandleFunc("/debug/pprof/", pprof.Index)
		debug.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		debug.HandleFunc("/debug/pprof/profile", pprof.Profile)
		debug.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		debug.HandleFunc("/debug/pprof/trace", pprof.Trace)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/debug/pprof/") {
				debug.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
