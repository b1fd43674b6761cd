// Package ratelimit 提供基于 Redis 的分布式令牌桶。
//
// 多个 askhub 实例共用同一个 key，因此 SMTP 发送速率在整个部署内受限，
// 而不是每个进程各算各的。
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"askhub/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

// DefaultSMTPKey 邮件发送令牌桶使用的 Redis key。
const DefaultSMTPKey = "askhub:ratelimit:smtp"

// ErrWaitTimeout 在拿到令牌之前 ctx 已结束。
var ErrWaitTimeout = errors.New("ratelimit: wait timeout")

// 返回 {是否放行, 需等待毫秒数, 剩余令牌}
const tokenBucketLua = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

if rate <= 0 or burst <= 0 then
  return {1, 0, burst}
end

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1]) or burst
local ts = tonumber(data[2]) or now

local elapsed = math.max(0, now - ts)
tokens = math.min(burst, tokens + (elapsed * rate) / 1000.0)

local allowed = tokens >= requested
local wait_ms = 0
if allowed then
  tokens = tokens - requested
else
  wait_ms = math.ceil((requested - tokens) * 1000.0 / rate)
end

redis.call("HSET", key, "tokens", tokens, "ts", now)
redis.call("PEXPIRE", key, math.ceil((burst / rate) * 2000.0))

return {allowed and 1 or 0, wait_ms, tostring(tokens)}
`

// Limiter 分布式令牌桶。rate 为每秒补充的令牌数，burst 为桶容量。
type Limiter struct {
	rdb    *redis.Client
	key    string
	rate   float64
	burst  float64
	logger *slog.Logger
	script *redis.Script

	jitter time.Duration
}

// New 创建令牌桶；rate 或 burst <= 0 时 Acquire 总是立即返回。
//
// 参数:
//
//	rdb: Redis 客户端
//	logger: 可为 nil
//	key: 为空时使用 DefaultSMTPKey
//	rate: 每秒令牌数
//	burst: 桶容量
func New(rdb *redis.Client, logger *slog.Logger, key string, rate, burst float64) *Limiter {
	if key == "" {
		key = DefaultSMTPKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		rdb:    rdb,
		key:    key,
		rate:   rate,
		burst:  burst,
		logger: logger,
		script: redis.NewScript(tokenBucketLua),
		jitter: 10 * time.Millisecond,
	}
}

// Enabled 报告限流是否生效。
func (l *Limiter) Enabled() bool {
	return l != nil && l.rdb != nil && l.rate > 0 && l.burst > 0
}

// Acquire 阻塞直到拿到一个令牌。
//
// 返回值:
//
//	error: ctx 结束时返回 ErrWaitTimeout；Redis 出错时返回包装后的错误
func (l *Limiter) Acquire(ctx context.Context) error {
	if !l.Enabled() {
		return nil
	}

	start := time.Now()
	for {
		allowed, waitMs, err := l.tryAcquire(ctx)
		if err != nil {
			return err
		}
		if allowed {
			metrics.MailThrottleWait.Observe(time.Since(start).Seconds())
			return nil
		}

		wait := time.Duration(waitMs) * time.Millisecond
		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		// 错开同时醒来的 worker
		if l.jitter > 0 {
			wait += time.Duration(rand.Int63n(int64(l.jitter)))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			metrics.MailThrottleWait.Observe(time.Since(start).Seconds())
			metrics.MailThrottleTimeoutTotal.Inc()
			l.logger.Warn("smtp token wait timed out",
				slog.String("key", l.key),
				slog.Duration("waited", time.Since(start)))
			return ErrWaitTimeout
		case <-timer.C:
		}
	}
}

func (l *Limiter) tryAcquire(ctx context.Context) (bool, int64, error) {
	now := time.Now().UnixMilli()
	res, err := l.script.Run(ctx, l.rdb, []string{l.key}, l.rate, l.burst, now, 1).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit eval: %w", err)
	}
	values, ok := res.([]interface{})
	if !ok || len(values) < 2 {
		return false, 0, errors.New("ratelimit: invalid script result")
	}
	return toInt64(values[0]) == 1, toInt64(values[1]), nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if parsed, err := strconv.ParseInt(t, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
