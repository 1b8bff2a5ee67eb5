package geocode

import (
	"context"
	"time"

	"delivery-zone/internal/logger"
)

// 文档注释：统一的重试策略
// 约束：MaxAttempts 含首次请求；第 i 次重试前等待 Backoff[i-1]（超出部分沿用最后一项）；
// 等待期间 ctx 取消时立即返回 Transient；仅 Retryable 为真的结果会重试。
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
	Retryable   func(Outcome) bool
}

// DefaultRetryPolicy：瞬时错误重试两次，间隔 200ms、800ms；配额与拒绝不重试
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     []time.Duration{200 * time.Millisecond, 800 * time.Millisecond},
		Retryable:   func(o Outcome) bool { return o.Kind == Transient },
	}
}

func (p RetryPolicy) delay(retry int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	if retry > len(p.Backoff) {
		retry = len(p.Backoff)
	}
	return p.Backoff[retry-1]
}

// Do：按策略执行 fn，返回最后一次结果（Attempts 记录实际次数）
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) Outcome) Outcome {
	limit := p.MaxAttempts
	if limit < 1 {
		limit = 1
	}
	var out Outcome
	for attempt := 1; ; attempt++ {
		out = fn(ctx)
		out.Attempts = attempt
		if attempt >= limit || p.Retryable == nil || !p.Retryable(out) {
			return out
		}
		d := p.delay(attempt)
		logger.L().Debug("geocode_retry", "attempt", attempt, "kind", out.Kind.String(), "backoff_ms", d.Milliseconds())
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return Outcome{Kind: Transient, Cause: ctx.Err(), Attempts: attempt}
		case <-t.C:
		}
	}
}
