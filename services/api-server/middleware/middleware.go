package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/freedkr/shebao/internal/logger"
)

// RequestIDKey 请求ID在gin上下文中的键
const RequestIDKey = "RequestID"

// CORS 跨域中间件
func CORS() gin.HandlerFunc {
	return gin.HandlerFunc(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept, Cache-Control, X-File-Name, X-Request-ID")
			c.Header("Access-Control-Expose-Headers", "Content-Length, Content-Disposition, Content-Type, X-Request-ID")
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})
}

// RequestID 请求ID中间件
func RequestID() gin.HandlerFunc {
	return gin.HandlerFunc(func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(RequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()
	})
}

// Logger 使用logrus记录访问日志
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		}
		if id, ok := c.Get(RequestIDKey); ok {
			fields["request_id"] = id
		}

		entry := logger.WithComponent("http").WithFields(fields)
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("请求完成")
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Warn("请求完成")
		default:
			entry.Info("请求完成")
		}
	}
}

// Recovery 捕获panic并返回500
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		entry := logger.WithComponent("http").WithField("panic", recovered)
		if id, ok := c.Get(RequestIDKey); ok {
			entry = entry.WithField("request_id", id)
		}
		entry.Error("请求处理发生panic")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
	})
}
