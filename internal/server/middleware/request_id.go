package middleware

import (
	"github.com/gin-gonic/gin"

	"fable/internal/pkg/id"
)

// RequestIDHeader 请求ID的 header 名
const RequestIDHeader = "X-Request-ID"

// RequestID 请求ID中间件
// 调用方带来的 X-Request-ID 原样透传，否则生成一个新的
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = id.New()
		}

		c.Set("request_id", requestID)
		c.Writer.Header().Set(RequestIDHeader, requestID)

		c.Next()
	}
}
