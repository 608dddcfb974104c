package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"tz-api/internal/logger"
	"tz-api/internal/metrics"
	"tz-api/internal/utils"
)

// 文档注释：令牌桶限流（每秒）
// 背景：流量峰值时对入口限速，保护批量查询与 Redis/Postgres；按环境变量开关与速率配置。
// 约束：不排队，超限直接返回 429；每秒整体补满，不做平滑。
type TokenBucket struct {
	capacity int
	tokens   int
	lastSec  int64
	mu       sync.Mutex
	now      func() time.Time
}

func NewTokenBucket(qps int) *TokenBucket {
	tb := &TokenBucket{capacity: qps, tokens: qps, now: time.Now}
	tb.lastSec = tb.now().Unix()
	return tb
}

// Allow 取 n 个令牌；n 超过容量时按容量计
func (tb *TokenBucket) Allow(n int) bool {
	if n < 1 {
		n = 1
	}
	if n > tb.capacity {
		n = tb.capacity
	}
	tb.mu.Lock()
	defer tb.mu.Unlock()
	nowSec := tb.now().Unix()
	if tb.lastSec != nowSec {
		tb.lastSec = nowSec
		tb.tokens = tb.capacity
	}
	if tb.tokens >= n {
		tb.tokens -= n
		return true
	}
	return false
}

// Wrap 按 RATE_LIMIT_ENABLED / RATE_LIMIT_QPS 包装处理器；未开启时原样返回
func Wrap(next http.Handler) http.Handler {
	if !utils.EnvBool("RATE_LIMIT_ENABLED", false) {
		return next
	}
	qps := utils.EnvInt("RATE_LIMIT_QPS", 200)
	if qps <= 0 {
		qps = 200
	}
	logger.L().Info("rate_limit_enabled", "qps", qps)
	return Limit(NewTokenBucket(qps), next)
}

type bucketKey struct{}

// Limit 用给定令牌桶限流：入口每个请求取 1 个令牌，令牌桶随请求上下文传给处理器，
// 批量接口解析出点数后再用 Charge 补扣其余点数
func Limit(tb *TokenBucket, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !tb.Allow(1) {
			Reject(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), bucketKey{}, tb)))
	})
}

// Charge 从请求所带的令牌桶再取 n 个令牌；未启用限流或 n<=0 时直接放行
func Charge(ctx context.Context, n int) bool {
	tb, ok := ctx.Value(bucketKey{}).(*TokenBucket)
	if !ok || n <= 0 {
		return true
	}
	return tb.Allow(n)
}

// Reject 写 429 并计数
func Reject(w http.ResponseWriter) {
	metrics.RateLimitedTotal.Inc()
	w.Header().Set("retry-after", "1")
	w.WriteHeader(http.StatusTooManyRequests)
}
