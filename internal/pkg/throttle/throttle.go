package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "askhub:throttle:"

// Throttle 限制同一动作在冷却期内只执行一次（如重发确认邮件）。
//
// 基于 Redis SETNX + TTL，多实例部署时共享状态。
type Throttle struct {
	rdb    *redis.Client
	window time.Duration
}

func New(rdb *redis.Client, window time.Duration) *Throttle {
	if window <= 0 {
		window = time.Minute
	}
	return &Throttle{
		rdb:    rdb,
		window: window,
	}
}

// Allow 返回本次动作是否放行；放行后冷却期内的同 key 调用返回 false。
//
// 未配置 Redis 时总是放行。
func (t *Throttle) Allow(ctx context.Context, action, key string) (bool, error) {
	if t == nil || t.rdb == nil || key == "" {
		return true, nil
	}
	ok, err := t.rdb.SetNX(ctx, buildKey(action, key), "1", t.window).Result()
	if err != nil {
		return false, fmt.Errorf("throttle setnx: %w", err)
	}
	return ok, nil
}

// Remaining 返回冷却期剩余时间，未受限时为 0。
func (t *Throttle) Remaining(ctx context.Context, action, key string) (time.Duration, error) {
	if t == nil || t.rdb == nil || key == "" {
		return 0, nil
	}
	ttl, err := t.rdb.TTL(ctx, buildKey(action, key)).Result()
	if err != nil {
		return 0, fmt.Errorf("throttle ttl: %w", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Reset 清除冷却状态。
func (t *Throttle) Reset(ctx context.Context, action, key string) error {
	if t == nil || t.rdb == nil || key == "" {
		return nil
	}
	if err := t.rdb.Del(ctx, buildKey(action, key)).Err(); err != nil {
		return fmt.Errorf("throttle del: %w", err)
	}
	return nil
}

func buildKey(action, key string) string {
	return keyPrefix + action + ":" + key
}
