package logger

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/notifier/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

const HeaderRequestID = "X-Request-Id"

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug           bool
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware logs each ops request with its correlation id.
func GinMiddleware(base *zap.Logger, cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		ctx := correlation.ContextWithCorrelationID(c.Request.Context(), c.GetHeader(HeaderRequestID))
		ctx, requestID := correlation.EnsureCorrelationID(ctx)
		c.Header(HeaderRequestID, requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		fields := append(requestFields(c, route, start), errorFields(c, cfg)...)

		log := WithContext(c.Request.Context(), base)
		if log == nil {
			return
		}
		switch {
		case status >= http.StatusInternalServerError:
			log.Error("http_request", fields...)
		case probeRoutes[route]:
			log.Debug("http_request", fields...)
		default:
			log.Info("http_request", fields...)
		}
	}
}

// probeRoutes are polled by infrastructure and logged at debug.
var probeRoutes = map[string]bool{
	"/metrics": true,
	"/healthz": true,
}

func requestFields(c *gin.Context, route string, start time.Time) []zap.Field {
	return []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("route", route),
		zap.Int("status", c.Writer.Status()),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		zap.Int("bytes_out", max(c.Writer.Size(), 0)),
	}
}

func errorFields(c *gin.Context, cfg MiddlewareConfig) []zap.Field {
	last := c.Errors.Last()
	if last == nil {
		return nil
	}
	var errorType, errorCode string
	if cfg.ErrorClassifier != nil {
		errorType, errorCode = cfg.ErrorClassifier(last.Err)
	}
	fields := []zap.Field{
		zap.String("error_type", errorType),
		zap.String("error_code", errorCode),
	}
	if cfg.Debug {
		fields = append(fields, zap.Stack("stack"))
	}
	return fields
}
