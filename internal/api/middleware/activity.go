package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const activeKeyPrefix = "askhub:active:"

// Pinger 刷新用户的最近访问时间。
type Pinger interface {
	Ping(ctx context.Context, id uint) error
}

// LastSeen 在每次请求后刷新当前用户的 last_seen。
//
// interval > 0 且 rdb 不为空时，同一用户在 interval 内只写一次数据库。
func LastSeen(users Pinger, rdb *redis.Client, interval time.Duration, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		u := CurrentUser(c)
		if u == nil {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if rdb != nil && interval > 0 {
			key := fmt.Sprintf("%s%d", activeKeyPrefix, u.ID)
			fresh, err := rdb.SetNX(ctx, key, "1", interval).Result()
			if err == nil && !fresh {
				c.Next()
				return
			}
			if err != nil && logger != nil {
				logger.Warn("activity marker failed", slog.Uint64("user_id", uint64(u.ID)), slog.String("error", err.Error()))
			}
		}

		if err := users.Ping(ctx, u.ID); err != nil && logger != nil {
			logger.Warn("update last seen failed", slog.Uint64("user_id", uint64(u.ID)), slog.String("error", err.Error()))
		}
		c.Next()
	}
}
