package api

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"askhub/internal/api/auth"
	"askhub/internal/api/form"
	"askhub/internal/api/middleware"
	"askhub/internal/api/view"
	"askhub/internal/config"
	"askhub/internal/model"
	"askhub/internal/pkg/logger"
	"askhub/internal/pkg/metrics"
	"askhub/internal/pkg/notify"
	"askhub/internal/pkg/queue"
	"askhub/internal/pkg/ratelimit"
	"askhub/internal/pkg/session"
	"askhub/internal/pkg/throttle"
	"askhub/internal/pkg/token"
	"askhub/internal/store"
	"askhub/web"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// lastSeenInterval 同一用户两次刷新 last_seen 的最小间隔。
const lastSeenInterval = time.Minute

// Server 封装了 Web 服务所需的依赖和路由处理。
//
// 它是整个应用的上下文：持有存储层、Redis 客户端、会话管理器、令牌签名器、
// 邮件投递器与 Gin 路由引擎，并把它们显式传给各个处理函数。
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	rdb       *redis.Client
	router    *gin.Engine
	views     *view.Renderer
	sessions  *session.Manager
	signer    *token.Signer
	mailer    notify.Dispatcher
	mailQueue *queue.Queue
	throttle  *throttle.Throttle
	limiter   *middleware.WriteLimiter
	auth      *auth.Handler
}

// Deps 外部资源，由 NewServer 创建，测试中可直接注入。
type Deps struct {
	Store     *store.Store
	Redis     *redis.Client
	Mailer    notify.Dispatcher
	MailQueue *queue.Queue // 可选，Close 时排空
	Templates fs.FS        // 为空时使用内嵌模板
}

// NewServer 初始化 Web 服务器。
//
// 它负责：
// 1. 连接数据库并执行自动迁移、写入预置角色
// 2. 连接 Redis
// 3. 启动邮件发送队列
// 4. 初始化 Gin 路由引擎
//
// 参数:
//
//	ctx: 上下文，同时控制邮件 worker 的生命周期
//	cfg: 配置对象
//	logger: 日志记录器
//
// 返回值:
//
//	*Server: 初始化完成的服务器实例
//	error: 初始化失败返回错误
func NewServer(ctx context.Context, cfg *config.Config, appLogger *slog.Logger) (*Server, error) {
	db, err := store.Open(cfg.Database, logger.NewGormLogger(appLogger, cfg.App.SlowQueryThreshold))
	if err != nil {
		return nil, err
	}
	st := store.New(db, cfg.Email.AdminEmail)
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	if err := st.InsertRoles(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	metrics.InitMetrics()

	mailQueue := queue.New(appLogger, queue.Options{
		Workers:  cfg.App.MailWorkers,
		Capacity: cfg.App.MailQueueCapacity,
		Timeout:  30 * time.Second,
		Depth:    metrics.MailQueueDepth,
	})
	mailQueue.SetErrorHandler(func(err error, task queue.Task) {
		appLogger.Error("mail delivery failed",
			slog.String("task", task.Name),
			slog.String("error", err.Error()))
	})
	mailQueue.Start(ctx)
	emailNotifier := notify.NewEmailNotifier(&cfg.Email, appLogger)
	if !emailNotifier.Enabled() {
		appLogger.Warn("smtp not configured, outgoing mail will be skipped")
	}

	smtpLimiter := ratelimit.New(rdb, appLogger, ratelimit.DefaultSMTPKey, cfg.Email.SendRate, cfg.Email.SendBurst)

	return New(cfg, appLogger, Deps{
		Store:     st,
		Redis:     rdb,
		Mailer:    notify.NewAsyncMailer(emailNotifier, mailQueue, appLogger).WithLimiter(smtpLimiter),
		MailQueue: mailQueue,
	})
}

// New 使用已经建立好的资源组装服务器并注册路由。
func New(cfg *config.Config, appLogger *slog.Logger, deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Redis == nil {
		return nil, errors.New("store and redis are required")
	}
	templates := deps.Templates
	if templates == nil {
		templates = web.Templates()
	}
	views, err := view.New(templates)
	if err != nil {
		return nil, err
	}
	form.Setup()

	sec := cfg.Security
	signer := token.NewSigner(sec.SecretKey)
	th := throttle.New(deps.Redis, sec.ResendCooldown)

	if gin.Mode() != gin.TestMode {
		if cfg.App.Env == "local" {
			gin.SetMode(gin.DebugMode)
		} else {
			gin.SetMode(gin.ReleaseMode)
		}
	}
	r := gin.New()
	r.HTMLRender = views

	s := &Server{
		cfg:       cfg,
		logger:    appLogger,
		store:     deps.Store,
		rdb:       deps.Redis,
		router:    r,
		views:     views,
		signer:    signer,
		mailer:    deps.Mailer,
		mailQueue: deps.MailQueue,
		throttle:  th,
		limiter:   middleware.NewWriteLimiter(cfg.App.WriteRateLimit, cfg.App.WriteRateBurst),
		sessions: session.NewManager(deps.Redis, session.Options{
			Lifetime: sec.SessionLifetime,
			Remember: sec.RememberLifetime,
			Secure:   sec.CookieSecure,
		}, appLogger),
		auth: auth.NewHandler(deps.Store, signer, deps.Mailer, th, auth.Options{
			BaseURL:     cfg.App.BaseURL,
			TokenTTL:    sec.ConfirmTokenTTL,
			APITokenTTL: sec.APITokenTTL,
		}, appLogger),
	}

	r.Use(middleware.RequestLogger(appLogger))
	r.Use(s.errorPages())
	r.Use(gin.CustomRecovery(s.recover))
	r.Use(middleware.SecureHeaders())
	s.registerRoutes()
	return s, nil
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 排空邮件队列并关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.mailQueue != nil {
		if err := s.mailQueue.Shutdown(10 * time.Second); err != nil && !errors.Is(err, queue.ErrClosed) {
			firstErr = err
		}
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// registerRoutes 注册所有路由。
func (s *Server) registerRoutes() {
	r := s.router
	r.NoRoute(func(c *gin.Context) { middleware.AbortStatus(c, http.StatusNotFound) })

	r.StaticFS("/static", http.FS(web.Static()))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.handleHealthz)

	// 页面路由：服务端会话 + 邮箱确认检查
	site := r.Group("/")
	site.Use(s.sessions.Middleware())
	site.Use(middleware.LoadUser(s.store, s.logger))
	site.Use(middleware.LastSeen(s.store, s.rdb, lastSeenInterval, s.logger))
	site.Use(middleware.RequireConfirmed())
	site.Use(s.limiter.Middleware())

	login := middleware.RequireLogin()
	perm := middleware.RequirePermission

	site.GET("/", s.handleIndex)
	site.GET("/square", s.handleSquare)
	site.GET("/user/:username", s.handleUser)
	site.GET("/edit-profile", login, s.handleEditProfilePage)
	site.POST("/edit-profile", login, s.handleEditProfile)
	site.GET("/edit-profile/:id", login, middleware.RequireAdmin(), s.handleEditProfileAdminPage)
	site.POST("/edit-profile/:id", login, middleware.RequireAdmin(), s.handleEditProfileAdmin)

	site.GET("/question/:id", s.handleQuestion)
	site.POST("/question/:id", login, s.handlePostAnswer)
	site.GET("/post-question", login, perm(model.PermWriteArticles), s.handlePostQuestionPage)
	site.POST("/post-question", login, perm(model.PermWriteArticles), s.handlePostQuestion)
	site.GET("/edit-question/:id", login, s.handleEditQuestionPage)
	site.POST("/edit-question/:id", login, s.handleEditQuestion)

	site.GET("/answer/:id", s.handleAnswer)
	site.GET("/edit-answer/:id", login, s.handleEditAnswerPage)
	site.POST("/edit-answer/:id", login, s.handleEditAnswer)
	site.POST("/answer/:id/comment", login, perm(model.PermComment), s.handlePostComment)
	site.POST("/vote/:id", login, s.handleVote)

	site.POST("/follow/:username", login, perm(model.PermFollow), s.handleFollow)
	site.POST("/unfollow/:username", login, perm(model.PermFollow), s.handleUnfollow)
	site.GET("/followers/:username", s.handleFollowers)
	site.GET("/followed-by/:username", s.handleFollowedBy)

	site.GET("/moderate", login, perm(model.PermModerateComments), s.handleModerate)
	site.POST("/moderate/enable/:id", login, perm(model.PermModerateComments), s.handleModerateEnable)
	site.POST("/moderate/disable/:id", login, perm(model.PermModerateComments), s.handleModerateDisable)

	a := site.Group("/auth")
	a.GET("/login", s.auth.LoginPage)
	a.POST("/login", s.auth.Login)
	a.POST("/logout", login, s.auth.Logout)
	a.GET("/register", s.auth.RegisterPage)
	a.POST("/register", s.auth.Register)
	a.GET("/confirm/:token", login, s.auth.Confirm)
	a.GET("/confirm", login, s.auth.ResendConfirmation)
	a.GET("/unconfirmed", s.auth.Unconfirmed)
	a.GET("/change-password", login, s.auth.ChangePasswordPage)
	a.POST("/change-password", login, s.auth.ChangePassword)
	a.GET("/reset", s.auth.ResetRequestPage)
	a.POST("/reset", s.auth.ResetRequest)
	a.GET("/reset/:token", s.auth.ResetPage)
	a.POST("/reset/:token", s.auth.Reset)
	a.GET("/change-email", login, s.auth.ChangeEmailPage)
	a.POST("/change-email", login, s.auth.ChangeEmailRequest)
	a.GET("/change-email/:token", login, s.auth.ChangeEmail)

	s.registerAPIRoutes()
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.store == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.store.PingDB(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	resp := gin.H{"status": "ok"}
	if s.mailQueue != nil {
		st := s.mailQueue.Stats()
		resp["mail_queue"] = gin.H{
			"pending":   s.mailQueue.Len(),
			"processed": st.Processed,
			"failed":    st.Failed,
			"dropped":   st.Dropped,
		}
	}
	c.JSON(http.StatusOK, resp)
}

// errorPages 为没有写出响应体的 4xx / 5xx 响应渲染错误页（API 为 JSON）。
func (s *Server) errorPages() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		status := c.Writer.Status()
		if c.Writer.Written() || status < http.StatusBadRequest {
			return
		}
		if middleware.IsAPI(c) {
			c.JSON(status, gin.H{"error": strings.ToLower(http.StatusText(status))})
			return
		}
		view.Error(c, status)
	}
}

func (s *Server) recover(c *gin.Context, err any) {
	s.logger.Error("panic recovered",
		slog.String("path", c.Request.URL.Path),
		slog.Any("panic", err),
	)
	middleware.AbortStatus(c, http.StatusInternalServerError)
}

// fail 记录错误并返回 500。
func (s *Server) fail(c *gin.Context, msg string, err error) {
	s.logger.Error(msg, slog.String("path", c.Request.URL.Path), slog.String("error", err.Error()))
	_ = c.Error(err)
	middleware.AbortStatus(c, http.StatusInternalServerError)
}

// failLookup 将 store.ErrNotFound 映射为 404，其余错误为 500。
func (s *Server) failLookup(c *gin.Context, msg string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		middleware.AbortStatus(c, http.StatusNotFound)
		return
	}
	s.fail(c, msg, err)
}

// parseQueryInt 从查询参数中解析整数。
//
// 参数:
//
//	c: Gin 上下文
//	key: 参数名
//	def: 默认值
//
// 返回值:
//
//	int: 解析后的整数或默认值
func parseQueryInt(c *gin.Context, key string, def int) int {
	val := c.Query(key)
	if val == "" {
		return def
	}
	iv, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return iv
}

// paramID 解析路径中的 :id，非法时返回 404。
func paramID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		middleware.AbortStatus(c, http.StatusNotFound)
		return 0, false
	}
	return uint(id), true
}

// canEdit 作者本人或管理员可以编辑内容。
func canEdit(u *model.User, authorID uint) bool {
	return u != nil && (u.ID == authorID || u.IsAdministrator())
}
