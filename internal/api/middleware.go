// internal/api/middleware.go
package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Corphon/EvalSheet/internal/utils"
)

const (
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-ID"
)

// requestIDMiddleware 为每个请求分配ID，客户端传入的 X-Request-ID 优先
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

// loggingMiddleware 记录请求摘要，不记录请求体
func loggingMiddleware(logger *utils.Logger, metrics *utils.MetricsCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if metrics != nil {
			metrics.RecordAPIRequest(c.Writer.Status(), time.Since(start))
		}

		fields := map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"request_id": c.GetString(requestIDKey),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("请求处理失败", fields)
			return
		}
		logger.Debug("请求完成", fields)
	}
}

// corsMiddleware 实现跨域资源共享
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RateLimiter 固定窗口限流器，按客户端地址计数
type RateLimiter struct {
	limit    int
	window   time.Duration
	visitors map[string]*visitor
	now      func() time.Time
	mu       sync.Mutex
}

type visitor struct {
	remaining int
	reset     time.Time
}

// NewRateLimiter 每个窗口内最多 limit 个请求
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:    limit,
		window:   window,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// Allow 检查是否放行，并返回剩余次数与窗口重置时间
func (rl *RateLimiter) Allow(key string) (bool, int, time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, exists := rl.visitors[key]
	if !exists || now.After(v.reset) {
		// 新窗口开始时顺带清理过期记录
		rl.pruneLocked(now)
		v = &visitor{remaining: rl.limit, reset: now.Add(rl.window)}
		rl.visitors[key] = v
	}

	if v.remaining <= 0 {
		return false, 0, v.reset
	}
	v.remaining--
	return true, v.remaining, v.reset
}

func (rl *RateLimiter) pruneLocked(now time.Time) {
	for key, v := range rl.visitors {
		if now.After(v.reset) {
			delete(rl.visitors, key)
		}
	}
}

// Middleware 超过限制时返回 429
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, remaining, reset := rl.Allow(c.ClientIP())

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		c.Next()
	}
}
