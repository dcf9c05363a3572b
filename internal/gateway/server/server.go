// Package server wires the gateway's HTTP surface: the OpenAI-compatible
// inference endpoints, health and metrics, and the admin cache-management
// API.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/inferd-ai/inferd/internal/gateway/apierror"
	"github.com/inferd-ai/inferd/internal/gateway/auth"
	"github.com/inferd-ai/inferd/internal/gateway/config"
	"github.com/inferd-ai/inferd/internal/gateway/metrics"
	"github.com/inferd-ai/inferd/internal/gateway/modelcache"
	"github.com/inferd-ai/inferd/internal/gateway/modelver"
	"github.com/inferd-ai/inferd/internal/gateway/runtime"
	"github.com/inferd-ai/inferd/pkg/logging"
	"github.com/inferd-ai/inferd/pkg/logging/ginlog"
	"github.com/inferd-ai/inferd/pkg/openai"
)

// Generator executes completions. Implemented by the engine.
type Generator interface {
	Chat(ctx context.Context, req *openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error)
	ChatStream(ctx context.Context, req *openai.ChatCompletionRequest, send func(openai.ChatCompletionChunk) error) error
	Complete(ctx context.Context, req *openai.CompletionRequest) (*openai.CompletionResponse, error)
	CompleteStream(ctx context.Context, req *openai.CompletionRequest, send func(openai.CompletionChunk) error) error
}

// ModelCache is the resident-model cache surface the HTTP layer uses.
type ModelCache interface {
	GetModel(ctx context.Context, name string) (*modelcache.Handle, error)
	Unload(name string) bool
	IsResident(name string) bool
	List() []string
	Stats() []modelcache.EntryStats
}

// VersionCache is the version-resolver cache surface of the admin API.
type VersionCache interface {
	Invalidate(name string) bool
	ClearAll() int
	Stats() modelver.Stats
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	cfg       *config.Config
	generator Generator
	cache     ModelCache
	versions  VersionCache
	auth      *auth.Authenticator
	rt        runtime.Runtime
	device    runtime.Device
	logger    logging.Interface
	zap       *zap.Logger
	now       func() time.Time
}

// New builds the server. zapLogger feeds the request-access log; logger is
// used for application events.
func New(cfg *config.Config, generator Generator, cache ModelCache, versions VersionCache, authn *auth.Authenticator, rt runtime.Runtime, logger logging.Interface, zapLogger *zap.Logger) *Server {
	return &Server{
		cfg:       cfg,
		generator: generator,
		cache:     cache,
		versions:  versions,
		auth:      authn,
		rt:        rt,
		device:    rt.Device(),
		logger:    logger,
		zap:       zapLogger,
		now:       time.Now,
	}
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ginlog.RequestLogger(s.zap, ginlog.WithLevelByPath(map[string]zapcore.Level{
		"/health":  zapcore.DebugLevel,
		"/metrics": zapcore.DebugLevel,
	})))
	r.Use(observe)

	r.GET("/", s.root)
	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.GET("/models", s.listModels)

	protected := v1.Group("", auth.Middleware(s.auth))
	protected.POST("/chat/completions", s.chatCompletions)
	protected.POST("/completions", s.completions)
	// Model-in-path variants used by clients that cannot set the body
	// model field; the path segment overrides the body.
	protected.POST("/:model/chat/completions", s.chatCompletions)
	protected.POST("/:model/completions", s.completions)

	admin := r.Group("/admin", auth.Middleware(s.auth), s.requireAdmin)
	admin.GET("/stats", s.adminModelStats)
	admin.POST("/unload/:model", s.adminUnload)
	admin.POST("/prewarm", s.adminPrewarm)
	admin.POST("/invalidate-cache/:model", s.adminInvalidateCache)
	admin.POST("/clear-all-version-cache", s.adminClearVersionCache)
	admin.GET("/version-cache-stats", s.adminVersionCacheStats)

	return r
}

// Run serves until ctx is canceled, then drains with a shutdown grace
// period.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(s.cfg.Port),
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.WithField("port", s.cfg.Port).Info("HTTP server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// observe records per-route request counts and latency.
func observe(c *gin.Context) {
	start := time.Now()
	c.Next()

	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
}

// requireAdmin restricts admin routes to all-access principals.
func (s *Server) requireAdmin(c *gin.Context) {
	p, ok := auth.PrincipalFrom(c)
	if !ok || p.ModelScope != auth.ScopeAll {
		renderError(c, apierror.New("admin", "", apierror.ErrScopeDenied))
		c.Abort()
		return
	}
	c.Next()
}

// renderError writes an error in the OpenAI error envelope.
func renderError(c *gin.Context, err error) {
	status := apierror.HTTPStatus(err)
	c.JSON(status, gin.H{
		"error": gin.H{
			"message": apierror.Message(err),
			"type":    errorType(status),
		},
	})
}

func errorType(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusForbidden:
		return "permission_error"
	case http.StatusBadRequest:
		return "invalid_request_error"
	default:
		return "server_error"
	}
}

// requestedBy identifies the caller in admin responses.
func requestedBy(c *gin.Context) string {
	if p, ok := auth.PrincipalFrom(c); ok {
		if p.UserID != "" {
			return p.UserID
		}
		return p.Type
	}
	return "unknown"
}
