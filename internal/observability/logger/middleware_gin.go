package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/splitledger/internal/observability/context"
	"github.com/smallbiznis/splitledger/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	requestIDHeader = "X-Request-Id"
	OutcomeKey      = obscontext.OutcomeKey
	outcomeRetry    = "retry"
)

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug           bool
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware tags the request context with request, correlation and
// provider ids and writes one log line per request.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(requestIDHeader, requestID)

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		ctx, cid := correlation.FromHeaders(ctx, c.Request.Header)
		c.Header(correlation.HeaderName, cid)
		ctx = obscontext.WithProvider(ctx, c.Param("provider"))
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		outcome := c.GetString(OutcomeKey)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		if outcome != "" {
			fields = append(fields, zap.String(OutcomeKey, outcome))
		}
		if last := c.Errors.Last(); last != nil && cfg.ErrorClassifier != nil {
			errType, errCode := cfg.ErrorClassifier(last.Err)
			fields = append(fields, zap.String("error_type", errType), zap.String("error_code", errCode))
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		if log := FromContext(c.Request.Context()); log != nil {
			log.Log(requestLevel(route, status, outcome), "http_request", fields...)
		}
	}
}

// requestLevel keeps probes quiet. A webhook the ledger deliberately asked
// the gateway to redeliver is a warning, not a server error.
func requestLevel(route string, status int, outcome string) zapcore.Level {
	switch {
	case route == "/metrics" || route == "/health":
		return zapcore.DebugLevel
	case outcome == outcomeRetry:
		return zapcore.WarnLevel
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
