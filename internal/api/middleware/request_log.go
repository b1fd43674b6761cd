package middleware

import (
	"strconv"
	"time"

	"log/slog"

	"askhub/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// RequestLogger 记录请求元数据并上报请求计数与耗时。
//
// 指标按路由模板（c.FullPath）聚合，未匹配的路由记为 "unmatched"。
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		path := c.Request.URL.Path
		method := c.Request.Method
		clientIP := c.ClientIP()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, route).Observe(latency.Seconds())

		if logger != nil {
			attrs := []any{
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", status),
				slog.String("client_ip", clientIP),
				slog.String("latency", latency.String()),
			}
			if u := CurrentUser(c); u != nil {
				attrs = append(attrs, slog.Uint64("user_id", uint64(u.ID)))
			}
			if len(c.Errors) > 0 {
				attrs = append(attrs, slog.String("errors", c.Errors.String()))
			}
			if status >= 500 {
				logger.Error("http request", attrs...)
				return
			}
			logger.Info("http request", attrs...)
		}
	}
}
