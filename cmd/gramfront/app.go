package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/gramfront/internal/api"
	"github.com/onnwee/gramfront/internal/apiclient"
	"github.com/onnwee/gramfront/internal/auth"
	"github.com/onnwee/gramfront/internal/config"
	"github.com/onnwee/gramfront/internal/follow"
	"github.com/onnwee/gramfront/internal/health"
	"github.com/onnwee/gramfront/internal/idempotency"
	"github.com/onnwee/gramfront/internal/image"
	"github.com/onnwee/gramfront/internal/middleware"
	"github.com/onnwee/gramfront/internal/notify"
	"github.com/onnwee/gramfront/internal/preview"
	"github.com/onnwee/gramfront/internal/session"
	"github.com/onnwee/gramfront/internal/upload"
)

const (
	sessionCleanupInterval     = time.Minute
	rateLimitCleanupInterval   = 5 * time.Minute
	idempotencyCleanupInterval = time.Hour
)

// app is the wired server: the HTTP handler plus the state that outlives
// single requests.
type app struct {
	handler http.Handler

	redis         *redis.Client
	sessions      *session.Registry
	followCache   *follow.ListCache
	notifications *notify.Service

	// set only when Redis is not configured
	memRateLimit   *middleware.InMemoryRateLimitStore
	memIdempotency *idempotency.InMemoryRepository
	idempotencyTTL time.Duration
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{idempotencyTTL: time.Duration(cfg.IdempotencyTTLHours) * time.Hour}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	httpMetrics := middleware.NewMetrics()
	uploadMetrics := upload.NewMetrics()
	previewMetrics := preview.NewMetrics()
	for _, register := range []func(prometheus.Registerer) error{
		httpMetrics.Register, uploadMetrics.Register, previewMetrics.Register,
	} {
		if err := register(reg); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		a.redis = redis.NewClient(opts)
	}

	client := apiclient.New(cfg.APIBaseURL, nil)
	processor := image.NewProcessor(image.ProcessorConfig{ThumbnailMaxDimension: cfg.PreviewMaxDimension})
	previews := preview.NewStore(processor, previewMetrics)

	var authorizer upload.Authorizer = client
	if cfg.R2Enabled() {
		s3, err := upload.NewS3Authorizer(upload.S3Config{
			BucketName:      cfg.R2BucketName,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			Endpoint:        cfg.R2Endpoint,
			PublicBaseURL:   cfg.R2PublicBaseURL,
			MaxSizeMB:       cfg.MaxUploadSizeMB,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure object storage: %w", err)
		}
		authorizer = s3
		logger.Info("uploads presigned locally", "bucket", cfg.R2BucketName)
	}
	pipeline := upload.NewPipeline(authorizer, upload.NewHTTPPutter(nil),
		upload.WithSanitizer(processor),
		upload.WithMetrics(uploadMetrics))

	a.sessions = session.NewRegistry(time.Duration(cfg.SessionIdleMinutes) * time.Minute)
	a.followCache = follow.NewListCache(time.Duration(cfg.FollowingsCacheSeconds)*time.Second, follow.NewSearcher(cfg.SearchTag()))

	var notifyStore notify.Store = notify.NewMemoryStore()
	var rateStore middleware.RateLimitStore
	var idemRepo idempotency.Repository
	healthCfg := api.HealthHandlersConfig{
		SocialAPIChecker: health.NewUpstreamChecker("social api", client, 0),
	}
	if a.redis != nil {
		notifyStore = notify.NewRedisStore(a.redis)
		rateStore = middleware.NewRedisRateLimitStore(a.redis).WithMetrics(httpMetrics)
		idemRepo = idempotency.NewRedisRepository(a.redis, a.idempotencyTTL)
		healthCfg.RedisChecker = health.NewRedisChecker(a.redis)
	} else {
		a.memRateLimit = middleware.NewInMemoryRateLimitStore()
		a.memIdempotency = idempotency.NewInMemoryRepository()
		rateStore = a.memRateLimit
		idemRepo = a.memIdempotency
	}
	a.notifications = notify.NewService(notifyStore, notify.NewBroadcaster(), cfg.NotificationsWSURL)

	origins := middleware.Origins(cfg.CORSAllowedOrigins)
	mux := api.NewRouter(api.RouterConfig{
		Health: api.NewHealthHandlers(healthCfg),
		Follow: api.NewFollowHandlers(client, a.followCache),
		Edit: api.NewEditHandlers(client, pipeline, a.sessions, previews, api.EditConfig{
			MaxFiles:     cfg.MaxPendingFiles,
			MaxFileBytes: int64(cfg.MaxUploadSizeMB) << 20,
		}),
		Previews:       api.NewPreviewHandlers(previews),
		Notifications:  api.NewNotificationHandlers(a.notifications, origins),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		RateLimitStore: rateStore,
		Metrics:        httpMetrics,
		Idempotency:    idemRepo,
		Version:        version,
	})

	var validator middleware.TokenValidator
	if cfg.AuthEnabled() {
		validator = auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTSecretPrevious)
	} else {
		logger.Warn("JWT_SECRET not set, every request is anonymous")
	}

	// Outermost first: RequestID -> Logging -> Tracing -> CORS -> Auth -> HTTPMetrics -> routes
	var handler http.Handler = mux
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.Auth(validator, httpMetrics)(handler)
	handler = middleware.CORS(middleware.DefaultCORSConfig(origins))(handler)
	if cfg.TracingEnabled {
		handler = middleware.Tracing("gramfront")(handler)
	}
	handler = middleware.Logging(logger)(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Profiling(middleware.ProfilingConfig{
		Enabled:     cfg.ProfilingEnabled,
		Environment: cfg.Env,
	})(handler)
	a.handler = handler

	return a, nil
}

// startBackground runs the cleanup loops until stop is closed.
func (a *app) startBackground(stop <-chan struct{}) {
	go a.sessions.RunPeriodicCleanup(sessionCleanupInterval, stop)
	go func() {
		ticker := time.NewTicker(sessionCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.followCache.Cleanup()
			case <-stop:
				return
			}
		}
	}()
	if a.memRateLimit != nil {
		go a.memRateLimit.RunPeriodicCleanup(rateLimitCleanupInterval, stop)
	}
	if a.memIdempotency != nil {
		go a.memIdempotency.RunPeriodicCleanup(idempotencyCleanupInterval, a.idempotencyTTL, stop)
	}
}

// close tears down open sessions and upstream listeners.
func (a *app) close() {
	a.sessions.CloseAll()
	a.notifications.Close()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Error("failed to close redis client", "error", err)
		}
	}
}
