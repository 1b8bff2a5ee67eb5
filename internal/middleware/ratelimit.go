package middleware

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"delivery-zone/internal/logger"
)

// 文档注释：令牌桶限流（每秒）
// 背景：报价请求会触发外部地理编码调用，峰值时在入口限速以保护配额。
// 约束：不排队，超出即返回 429。
type TokenBucket struct {
	lim *rate.Limiter
	now func() time.Time
}

// NewTokenBucket：每秒补充 qps 个令牌，桶容量 qps
func NewTokenBucket(qps int) *TokenBucket {
	return &TokenBucket{lim: rate.NewLimiter(rate.Limit(qps), qps), now: time.Now}
}

func (tb *TokenBucket) allow() bool {
	return tb.lim.AllowN(tb.now(), 1)
}

// Limit：用给定令牌桶包装 handler
func Limit(tb *TokenBucket, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !tb.allow() {
			logger.L().Debug("rate_limited", "path", r.URL.Path)
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Wrap：RATE_LIMIT_ENABLED=true 时按 RATE_LIMIT_QPS（默认 200）限流，否则原样返回
func Wrap(next http.Handler) http.Handler {
	if os.Getenv("RATE_LIMIT_ENABLED") != "true" {
		return next
	}
	qps := 200
	if s := os.Getenv("RATE_LIMIT_QPS"); s != "" {
		if n, e := strconv.Atoi(s); e == nil && n > 0 {
			qps = n
		}
	}
	logger.L().Info("rate_limit_enabled", "qps", qps)
	return Limit(NewTokenBucket(qps), next)
}
