package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"askhub/internal/model"
	"askhub/internal/pkg/session"
	"askhub/internal/store"

	"github.com/gin-gonic/gin"
)

const currentUserKey = "askhub.currentUser"

// UserLoader 按 ID 加载用户。
type UserLoader interface {
	GetUser(ctx context.Context, id uint) (*model.User, error)
}

// SetCurrentUser 将已认证用户写入上下文。
func SetCurrentUser(c *gin.Context, u *model.User) {
	c.Set(currentUserKey, u)
}

// CurrentUser 返回当前用户，匿名时为 nil。
func CurrentUser(c *gin.Context) *model.User {
	if v, ok := c.Get(currentUserKey); ok {
		if u, ok := v.(*model.User); ok {
			return u
		}
	}
	return nil
}

// IsAPI 请求是否属于 JSON API。
func IsAPI(c *gin.Context) bool {
	return strings.HasPrefix(c.Request.URL.Path, "/api/")
}

// LoadUser 根据会话加载当前用户。
//
// 会话指向的用户已不存在时清除会话。
func LoadUser(users UserLoader, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := session.From(c)
		uid := sess.UserID()
		if uid == 0 {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		u, err := users.GetUser(ctx, uid)
		switch {
		case errors.Is(err, store.ErrNotFound):
			_ = sess.Logout(c)
		case err != nil:
			logger.Error("load current user failed", slog.Uint64("user_id", uint64(uid)), slog.String("error", err.Error()))
			AbortStatus(c, http.StatusInternalServerError)
			return
		default:
			SetCurrentUser(c, u)
		}
		c.Next()
	}
}

// RequireConfirmed 未确认邮箱的用户只能访问 /auth/ 与 /static/ 下的页面。
func RequireConfirmed() gin.HandlerFunc {
	return func(c *gin.Context) {
		u := CurrentUser(c)
		path := c.Request.URL.Path
		if u != nil && !u.Confirmed &&
			!strings.HasPrefix(path, "/auth/") &&
			!strings.HasPrefix(path, "/static/") {
			c.Redirect(http.StatusFound, "/auth/unconfirmed")
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireLogin 要求已登录，页面请求跳转到登录页并带上 next 参数。
func RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentUser(c) != nil {
			c.Next()
			return
		}
		if IsAPI(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		session.From(c).AddFlash(c, "info", "请先登录。")
		c.Redirect(http.StatusFound, "/auth/login?next="+url.QueryEscape(c.Request.URL.RequestURI()))
		c.Abort()
	}
}

// RequirePermission 要求当前用户拥有 p 中的全部权限，否则返回 403。
func RequirePermission(p model.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !CurrentUser(c).Can(p) {
			if IsAPI(c) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "insufficient permissions"})
				return
			}
			AbortStatus(c, http.StatusForbidden)
			return
		}
		c.Next()
	}
}

// RequireAdmin 要求管理员权限。
func RequireAdmin() gin.HandlerFunc {
	return RequirePermission(model.PermAdminister)
}

// SafeNext 只接受站内相对路径作为跳转目标。
func SafeNext(next, fallback string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return fallback
	}
	return next
}

// AbortStatus 设置状态码并中止处理链，不写响应体。
//
// 页面请求的错误页由外层的错误页中间件统一渲染。
func AbortStatus(c *gin.Context, status int) {
	c.Status(status)
	c.Abort()
}
