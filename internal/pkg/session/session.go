package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "askhub:session:"
	contextKey = "askhub.session"
)

// Flash 一次性提示消息，读取后即删除。
type Flash struct {
	Category string `json:"category"` // info / warning / danger
	Message  string `json:"message"`
}

// State 会话中保存的数据。
type State struct {
	UserID   uint    `json:"uid,omitempty"`
	Remember bool    `json:"remember,omitempty"`
	Flashes  []Flash `json:"flashes,omitempty"`
}

// Options 会话参数。
type Options struct {
	CookieName string
	Lifetime   time.Duration // 普通会话有效期
	Remember   time.Duration // 勾选 "保持登录" 时的有效期
	Secure     bool
}

// Manager 管理保存在 Redis 中的服务端会话。
//
// 浏览器只持有随机的会话 ID（uuid），会话内容在每次修改后立即写回 Redis。
type Manager struct {
	rdb    *redis.Client
	opts   Options
	logger *slog.Logger
}

// NewManager 创建会话管理器。
func NewManager(rdb *redis.Client, opts Options, logger *slog.Logger) *Manager {
	if opts.CookieName == "" {
		opts.CookieName = "session_id"
	}
	if opts.Lifetime <= 0 {
		opts.Lifetime = 24 * time.Hour
	}
	if opts.Remember <= 0 {
		opts.Remember = 30 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{rdb: rdb, opts: opts, logger: logger}
}

// Session 当前请求的会话。
type Session struct {
	ID    string
	State State
	m     *Manager
}

// Middleware 从 Cookie 加载会话并放入 gin 上下文。
//
// Redis 不可用或会话不存在时使用空会话，不中断请求。
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := &Session{m: m}
		if id, err := c.Cookie(m.opts.CookieName); err == nil && id != "" {
			state, err := m.load(c.Request.Context(), id)
			switch {
			case err == nil:
				s.ID = id
				s.State = *state
			case errors.Is(err, redis.Nil):
				m.clearCookie(c)
			default:
				m.logger.Warn("load session failed", slog.String("error", err.Error()))
			}
		}
		c.Set(contextKey, s)
		c.Next()
	}
}

// From 返回当前请求的会话，未经过 Middleware 时返回一个不会持久化的空会话。
func From(c *gin.Context) *Session {
	if v, ok := c.Get(contextKey); ok {
		if s, ok := v.(*Session); ok {
			return s
		}
	}
	s := &Session{}
	c.Set(contextKey, s)
	return s
}

// UserID 返回已登录用户 ID，匿名为 0。
func (s *Session) UserID() uint {
	return s.State.UserID
}

// Login 以新的会话 ID 保存登录状态，保留尚未展示的提示消息。
func (s *Session) Login(c *gin.Context, userID uint, remember bool) error {
	if s.m == nil {
		return errors.New("session manager not configured")
	}
	if s.ID != "" {
		if err := s.m.rdb.Del(c.Request.Context(), keyPrefix+s.ID).Err(); err != nil {
			s.m.logger.Warn("drop old session failed", slog.String("error", err.Error()))
		}
	}
	s.ID = uuid.NewString()
	s.State.UserID = userID
	s.State.Remember = remember
	return s.save(c)
}

// Logout 删除服务端会话并清除 Cookie。
func (s *Session) Logout(c *gin.Context) error {
	if s.m == nil {
		return nil
	}
	if s.ID != "" {
		if err := s.m.rdb.Del(c.Request.Context(), keyPrefix+s.ID).Err(); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
	}
	s.ID = ""
	s.State = State{}
	s.m.clearCookie(c)
	return nil
}

// AddFlash 追加一条提示消息，必要时为匿名用户创建会话。
func (s *Session) AddFlash(c *gin.Context, category, message string) {
	s.State.Flashes = append(s.State.Flashes, Flash{Category: category, Message: message})
	if s.m == nil {
		return
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if err := s.save(c); err != nil {
		s.m.logger.Warn("save flash failed", slog.String("error", err.Error()))
	}
}

// PopFlashes 取出并清空提示消息。
func (s *Session) PopFlashes(c *gin.Context) []Flash {
	flashes := s.State.Flashes
	if len(flashes) == 0 {
		return nil
	}
	s.State.Flashes = nil
	if s.m != nil && s.ID != "" {
		if err := s.save(c); err != nil {
			s.m.logger.Warn("save session failed", slog.String("error", err.Error()))
		}
	}
	return flashes
}

func (s *Session) save(c *gin.Context) error {
	ttl := s.m.opts.Lifetime
	if s.State.Remember {
		ttl = s.m.opts.Remember
	}
	data, err := json.Marshal(s.State)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.m.rdb.Set(c.Request.Context(), keyPrefix+s.ID, data, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	maxAge := 0 // 浏览器会话 Cookie
	if s.State.Remember {
		maxAge = int(ttl.Seconds())
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.m.opts.CookieName, s.ID, maxAge, "/", "", s.m.opts.Secure, true)
	return nil
}

func (m *Manager) load(ctx context.Context, id string) (*State, error) {
	data, err := m.rdb.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &state, nil
}

func (m *Manager) clearCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(m.opts.CookieName, "", -1, "/", "", m.opts.Secure, true)
}
