package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/brgyportal/announce/pkg/httpclient"
	"github.com/brgyportal/announce/pkg/logx"
	"github.com/brgyportal/announce/pkg/metrics"
)

// RequestLogger はリクエストIDの付与、アクセスログ出力、HTTPメトリクスの記録を行うGinミドルウェアを返す。
// 受信したX-Request-IDがあればそれを引き継ぎ、無ければ新たに採番する。
// リクエストIDはリクエストのコンテキストにも設定され、サービス間通信で伝播される。
func RequestLogger(log logx.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		id := c.GetHeader(httpclient.HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(httpclient.HeaderRequestID, id)
		c.Request = c.Request.WithContext(httpclient.WithRequestID(c.Request.Context(), id))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		m.ObserveHTTP(c.Request.Method, route, status)

		fields := []logx.Field{
			logx.String("request_id", id),
			logx.String("method", c.Request.Method),
			logx.String("route", route),
			logx.Int("status", status),
			logx.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, logx.String("errors", c.Errors.String()))
		}
		switch {
		case status >= 500:
			log.Error("http request", fields...)
		case status >= 400:
			log.Warn("http request", fields...)
		default:
			log.Debug("http request", fields...)
		}
	}
}
