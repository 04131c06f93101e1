package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerMiddleware writes one line per request. Server errors log at warn.
func LoggerMiddleware(log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}

		level := zapcore.InfoLevel
		if status >= fiber.StatusInternalServerError {
			level = zapcore.WarnLevel
		}

		reqID, _ := c.Locals(CtxRequestID).(string)
		fields := []zap.Field{
			zap.String("request_id", reqID),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.IP()),
		}
		if id := GetIdentity(c); id != "" {
			fields = append(fields, zap.String("identity", id.String()))
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		if ce := log.Check(level, "request"); ce != nil {
			ce.Write(fields...)
		}

		return err
	}
}
