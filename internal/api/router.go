// Package api wires together all HTTP routes for the photo intake service.
//
// Route grouping:
//   - /api/auth/validate-pin is public and guarded by the pin-attempt budget.
//   - /api/photos/* require a session bearer token issued by validate-pin.
//   - /api/auth/create-session and /api/admin/* require an admin credential
//     (OIDC ID token or X-Admin-Token).
//   - /image/:id and /api/photos/:id/image are authorised by the URL signature
//     alone so that <img> tags and CDNs can fetch them.
package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/aspr-photos/intake/internal/api/admin"
	"github.com/aspr-photos/intake/internal/api/field"
	"github.com/aspr-photos/intake/internal/api/images"
	"github.com/aspr-photos/intake/internal/audit"
	"github.com/aspr-photos/intake/internal/auth/oidc"
	"github.com/aspr-photos/intake/internal/config"
	"github.com/aspr-photos/intake/internal/db/repositories"
	"github.com/aspr-photos/intake/internal/middleware"
	"github.com/aspr-photos/intake/internal/ratelimit"
	"github.com/aspr-photos/intake/internal/renditions"
	"github.com/aspr-photos/intake/internal/sessions"
	"github.com/aspr-photos/intake/internal/signedurl"
	"github.com/aspr-photos/intake/internal/storage"
	"github.com/aspr-photos/intake/internal/validation"

	// Import storage backends to register them
	_ "github.com/aspr-photos/intake/internal/storage/azure"
	_ "github.com/aspr-photos/intake/internal/storage/gcs"
	_ "github.com/aspr-photos/intake/internal/storage/local"
	_ "github.com/aspr-photos/intake/internal/storage/minio"
	_ "github.com/aspr-photos/intake/internal/storage/s3"
)

// Version is reported by /version. Overridden at build time with -ldflags.
var Version = "0.1.0"

// Services holds the long-lived dependencies shared by the handlers. The
// caller (cmd/server) is responsible for calling Shutdown once the HTTP server
// has drained.
type Services struct {
	DB        *sql.DB
	Storage   storage.Storage
	Audit     *audit.Writer
	Limiter   *ratelimit.Limiter
	Throttle  middleware.Throttle
	Sessions  *sessions.Authority
	Signer    *signedurl.Signer
	Pipeline  *renditions.Pipeline
	Verifier  middleware.IDTokenVerifier
	Photos    *repositories.PhotoRepository
	Tags      *repositories.TagRepository
	AuditLogs *repositories.AuditRepository

	closers []func() error
}

// BuildServices constructs every dependency from cfg. ctx bounds startup work
// such as OIDC discovery and container creation.
func BuildServices(ctx context.Context, cfg *config.Config, db *sql.DB) (*Services, error) {
	svc := &Services{DB: db}
	sqlxDB := sqlx.NewDb(db, "postgres")

	svc.Photos = repositories.NewPhotoRepository(sqlxDB)
	svc.Tags = repositories.NewTagRepository(sqlxDB)
	svc.AuditLogs = repositories.NewAuditRepository(sqlxDB)
	sessionRepo := repositories.NewSessionRepository(sqlxDB)

	blobs, err := storage.NewStorage(cfg)
	if err != nil {
		return nil, err
	}
	if err := blobs.EnsureContainer(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare storage container: %w", err)
	}
	svc.Storage = blobs
	slog.Info("initialized storage backend", "backend", cfg.Storage.DefaultBackend)

	var shipper audit.Shipper
	if len(cfg.Audit.Shippers) > 0 {
		ms, err := audit.NewMultiShipper(cfg.Audit.Shippers)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize audit shippers: %w", err)
		}
		if ms.Len() > 0 {
			shipper = ms
			slog.Info("audit shippers enabled", "count", ms.Len())
		}
	}
	svc.Audit = audit.NewWriter(svc.AuditLogs, shipper)
	svc.closers = append(svc.closers, svc.Audit.Close)

	throttleCfg := middleware.DefaultRateLimitConfig()
	if cfg.Security.RateLimiting.RequestsPerMinute > 0 {
		throttleCfg.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
	}
	if cfg.Security.RateLimiting.Burst > 0 {
		throttleCfg.BurstSize = cfg.Security.RateLimiting.Burst
	}

	var store ratelimit.Store
	switch cfg.RateLimits.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		svc.closers = append(svc.closers, client.Close)
		store = ratelimit.NewRedisStore(client, "intake:attempts:")
		if cfg.Security.RateLimiting.Enabled {
			svc.Throttle = middleware.NewRedisThrottle(redis_rate.NewLimiter(client), throttleCfg, "intake:throttle:")
		}
		slog.Info("rate limits shared through redis", "addr", cfg.Redis.Addr)
	default:
		mem := ratelimit.NewMemoryStore(time.Minute)
		svc.closers = append(svc.closers, func() error { mem.Stop(); return nil })
		store = mem
		if cfg.Security.RateLimiting.Enabled {
			local := middleware.NewLocalThrottle(throttleCfg)
			svc.closers = append(svc.closers, func() error { local.Stop(); return nil })
			svc.Throttle = local
		}
	}
	svc.Limiter = ratelimit.New(store, ratelimit.PoliciesFromConfig(cfg.RateLimits))

	svc.Sessions = sessions.NewAuthority(sessionRepo, sessions.Options{
		BcryptCost: cfg.Auth.BcryptCost,
		SessionTTL: cfg.Auth.SessionTTL,
		TokenTTL:   cfg.Auth.TokenTTL,
	})

	svc.Signer, err = signedurl.New(cfg.SignedURL.Secret, cfg.SignedURL.DefaultTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize URL signer: %w", err)
	}

	svc.Pipeline = renditions.New(svc.Photos, blobs, svc.Audit, renditions.Options{
		MaxFileSize:      cfg.Upload.MaxFileSize,
		BatchConcurrency: cfg.Upload.BatchConcurrency,
	})

	if cfg.Auth.OIDC.Enabled {
		verifier, err := oidc.NewAdminVerifier(ctx, &cfg.Auth.OIDC)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OIDC verifier: %w", err)
		}
		svc.Verifier = verifier
		slog.Info("admin OIDC enabled", "issuer", cfg.Auth.OIDC.IssuerURL)
	}

	return svc, nil
}

// Shutdown flushes the audit writer and releases background resources. It should
// be called after the HTTP server has been shut down so that in-flight requests
// are drained first.
func (s *Services) Shutdown() error {
	slog.Info("stopping background services")
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	slog.Info("all background services stopped")
	return errors.Join(errs...)
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, svc *Services) (*gin.Engine, error) {
	if err := validation.RegisterBindings(); err != nil {
		return nil, fmt.Errorf("failed to register request validators: %w", err)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))

	router.GET("/health", healthCheckHandler(svc.DB))
	router.GET("/ready", readinessHandler(svc.DB, svc.Storage))
	router.GET("/version", versionHandler())

	imageHandler := images.NewHandler(svc.Signer, svc.Storage)
	imageRoutes := router.Group("")
	imageRoutes.Use(middleware.SecurityHeadersMiddleware(middleware.ImageSecurityHeadersConfig()))
	if svc.Throttle != nil {
		imageRoutes.Use(middleware.RateLimitMiddleware(svc.Throttle))
	}
	{
		imageRoutes.GET("/image/:id", imageHandler.Serve)
		imageRoutes.HEAD("/image/:id", imageHandler.Serve)
		imageRoutes.GET("/api/photos/:id/image", imageHandler.Serve)
		imageRoutes.HEAD("/api/photos/:id/image", imageHandler.Serve)
	}

	apiGroup := router.Group("/api")
	apiGroup.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))
	if svc.Throttle != nil {
		apiGroup.Use(middleware.RateLimitMiddleware(svc.Throttle))
	}

	adminAuth := middleware.AdminAuthMiddleware(middleware.AdminAuthConfig{
		Token:    cfg.Auth.AdminToken,
		Verifier: svc.Verifier,
		Limiter:  svc.Limiter,
		Auditor:  svc.Audit,
	})

	pinHandler := field.NewAuthHandler(svc.Sessions, svc.Limiter, svc.Audit)
	sessionsHandler := admin.NewSessionsHandler(svc.Sessions, svc.Audit)

	// Session issue and PIN exchange
	authGroup := apiGroup.Group("/auth")
	{
		authGroup.POST("/validate-pin", pinHandler.ValidatePIN)
		authGroup.POST("/create-session",
			adminAuth,
			middleware.AttemptLimit(svc.Limiter, ratelimit.ActionPINCreation,
				"Too many sessions created. Try again later.", sessionsHandler.PINCreationDenied),
			sessionsHandler.CreateSession)
	}

	// Field team routes
	fieldPhotos := field.NewPhotosHandler(svc.Photos, svc.Pipeline, svc.Sessions, svc.Storage,
		svc.Signer, svc.Audit, cfg.Upload.MaxFileSize)
	fieldGroup := apiGroup.Group("/photos")
	fieldGroup.Use(middleware.SessionAuthMiddleware(svc.Sessions))
	{
		fieldGroup.POST("/upload",
			middleware.AttemptLimit(svc.Limiter, ratelimit.ActionUpload,
				"Too many uploads. Try again later.", fieldPhotos.UploadDenied),
			fieldPhotos.Upload)
		fieldGroup.GET("", fieldPhotos.List)
		fieldGroup.DELETE("/:id", fieldPhotos.Delete)
	}

	// Admin routes
	adminPhotos := admin.NewPhotosHandler(svc.Photos, svc.Tags, svc.Pipeline, svc.Storage, svc.Signer, svc.Audit,
		admin.PhotosConfig{
			MaxFileSize:    cfg.Upload.MaxFileSize,
			MaxBatchFiles:  cfg.Upload.MaxBatchFiles,
			MaxBulkIDs:     cfg.Upload.MaxBulkIDs,
			MaxDownloadIDs: cfg.Upload.MaxDownloadIDs,
			DownloadTTL:    cfg.SignedURL.DownloadTTL,
			PublicURL:      cfg.Server.GetPublicURL(),
		})
	tagsHandler := admin.NewTagsHandler(svc.Tags, svc.Audit)
	statsHandler := admin.NewStatsHandler(svc.Photos, svc.AuditLogs)

	adminGroup := apiGroup.Group("/admin")
	adminGroup.Use(adminAuth)
	{
		adminGroup.GET("/sessions", sessionsHandler.ListSessions)
		adminGroup.PATCH("/sessions/:id", sessionsHandler.UpdateSession)

		// Static segments are registered before /photos/:id
		adminGroup.GET("/photos/stats", statsHandler.GetDashboardStats)
		adminGroup.POST("/photos/upload", adminPhotos.UploadBatch)
		adminGroup.POST("/photos/bulk", adminPhotos.Bulk)
		adminGroup.POST("/photos/bulk-download", adminPhotos.BulkDownload)
		adminGroup.GET("/photos/:id", adminPhotos.GetPhoto)
		adminGroup.DELETE("/photos/:id", adminPhotos.DeletePhoto)
		adminGroup.POST("/photos/:id/edit", adminPhotos.EditPhoto)

		adminGroup.GET("/tags", tagsHandler.ListTags)
		adminGroup.POST("/tags", tagsHandler.CreateTag)

		adminGroup.GET("/audit-logs", statsHandler.ListAuditLogs)
	}

	return router, nil
}

func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func readinessHandler(db *sql.DB, storageBackend storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if _, err := storageBackend.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
			checks["storage"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "storage backend not ready",
			})
			return
		}
		checks["storage"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logRequest(c, time.Since(start), path, redactQuery(query))
	}
}

// redactQuery drops the signature from signed image URLs before logging.
func redactQuery(query string) string {
	if !strings.Contains(query, "sig=") {
		return query
	}
	parts := strings.Split(query, "&")
	for i, p := range parts {
		if strings.HasPrefix(p, "sig=") {
			parts[i] = "sig=REDACTED"
		}
	}
	return strings.Join(parts, "&")
}

// logRequest emits one slog record per request. The output format follows the
// global handler configured by telemetry.SetupLogger.
func logRequest(c *gin.Context, latency time.Duration, path, query string) {
	requestID, _ := c.Get(middleware.RequestIDKey)
	level := slog.LevelInfo
	if c.Writer.Status() >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.LogAttrs(
		c.Request.Context(),
		level,
		"http request",
		slog.String("method", c.Request.Method),
		slog.String("path", path),
		slog.String("query", query),
		slog.Int("status", c.Writer.Status()),
		slog.Int("size", c.Writer.Size()),
		slog.Duration("latency", latency),
		slog.String("ip", c.ClientIP()),
		slog.String("request_id", fmt.Sprintf("%v", requestID)),
		slog.String("auth_method", c.GetString(middleware.AuthMethodKey)),
		slog.String("user_agent", c.Request.UserAgent()),
	)
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	methods := "GET, HEAD, POST, PATCH, DELETE, OPTIONS"
	if len(cfg.Security.CORS.AllowedMethods) > 0 {
		methods = strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Check if origin is allowed
		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers",
				"Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Admin-Token, X-Request-ID, If-Match")
			c.Header("Access-Control-Expose-Headers", "ETag, Retry-After, X-Request-ID")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
