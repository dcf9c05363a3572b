package ginlog

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/inferd-ai/inferd/pkg/logging"
)

const (
	RequestIDKey     = logging.RequestIDKey
	RequestIDHeader  = logging.RequestIDHeader
	RequestLoggerKey = logging.RequestLoggerKey
)

// GetRequestLogger returns a logger for the current request context. By
// default, this only includes the request ID.
func GetRequestLogger(ctx *gin.Context) *zap.Logger {
	return ctx.MustGet(RequestLoggerKey).(*zap.Logger)
}

type requestLogger struct {
	logger      *zap.Logger
	levelByPath map[string]zapcore.Level
}

func (rl *requestLogger) HandlerFunc(ctx *gin.Context) {
	start := logging.TimeNowFunc()

	// extract these in case other middleware modify them
	path := ctx.Request.URL.Path
	query := ctx.Request.URL.RawQuery

	requestID := GetOrCreateRequestID(ctx)

	// set up a context-specific logger
	log := rl.logger.With(zap.String(RequestIDKey, requestID))
	ctx.Set(RequestLoggerKey, log)

	ctx.Next()

	end := logging.TimeNowFunc()
	latency := end.Sub(start)

	if len(ctx.Errors) > 0 {
		for _, err := range ctx.Errors.Errors() {
			log.Error(err)
		}
		return
	}

	lvl := zapcore.InfoLevel
	if custom, ok := rl.levelByPath[path]; ok {
		lvl = custom
	}

	if ce := log.Check(lvl, path); ce != nil {
		ce.Write(
			zap.String("method", ctx.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("ip", ctx.ClientIP()),
			zap.Int("status", ctx.Writer.Status()),
			zap.Duration("latency", latency),
		)
	}
}

// RequestLoggerOption is a functional option applied to the request logger.
type RequestLoggerOption func(*requestLogger)

// WithLevelByPath sets a custom logging level for specific paths, e.g. to
// demote health probes to debug.
func WithLevelByPath(levelByPath map[string]zapcore.Level) RequestLoggerOption {
	return func(rl *requestLogger) {
		rl.levelByPath = levelByPath
	}
}

// RequestLogger returns a Gin middleware for logging using zap.
func RequestLogger(logger *zap.Logger, opts ...RequestLoggerOption) gin.HandlerFunc {
	rl := &requestLogger{logger: logger}
	for _, opt := range opts {
		opt(rl)
	}

	return rl.HandlerFunc
}
