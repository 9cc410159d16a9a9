package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimit はトークンバケットでリクエスト数を制限するGinミドルウェアを返す。
// 制限はルート全体で共有され、超過時は429を返す。perSecが0以下の場合は制限しない。
func RateLimit(perSec float64, burst int) gin.HandlerFunc {
	if perSec <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst < 1 {
		burst = int(math.Ceil(perSec))
	}
	limiter := rate.NewLimiter(rate.Limit(perSec), burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			retry := int(math.Ceil(1 / perSec))
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "リクエストが多すぎます",
			})
			return
		}
		c.Next()
	}
}
