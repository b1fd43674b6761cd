package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"askhub/internal/api/form"
	"askhub/internal/api/middleware"
	"askhub/internal/api/view"
	"askhub/internal/model"
	"askhub/internal/pkg/metrics"
	"askhub/internal/pkg/notify"
	"askhub/internal/pkg/session"
	"askhub/internal/pkg/throttle"
	"askhub/internal/pkg/token"
	"askhub/internal/store"

	"github.com/gin-gonic/gin"
)

const (
	msgInvalidLogin  = "无效的用户名或密码！"
	msgLoggedOut     = "你现在已经登出。"
	msgConfirmed     = "您已经确认您的账户，谢谢！"
	msgInvalidToken  = "这个链接错误或令牌已经失效！"
	msgConfirmSent   = "一封确认邮件已经发送到您的邮箱。"
	msgResendTooSoon = "确认邮件刚刚发送过，请稍后再试。"
	msgResendWait    = "确认邮件刚刚发送过，请 %d 秒后再试。"
	msgPasswordDone  = "您的密码已经更新。"
	msgInvalidOld    = "旧密码错误！"
	msgResetSent     = "一封重置密码的邮件已经发送到您的邮箱。"
	msgEmailSent     = "一封确认新邮箱的邮件已经发送到您的新邮箱。"
	msgEmailChanged  = "您的邮箱已经更新。"
	msgEmailTaken    = "邮件地址已经被使用！"
	msgUsernameTaken = "昵称已经被占用！"
	msgInvalidPasswd = "密码错误。"
)

// Options 认证相关参数。
type Options struct {
	BaseURL     string        // 邮件链接前缀
	TokenTTL    time.Duration // 确认 / 重置 / 修改邮箱令牌有效期
	APITokenTTL time.Duration // API 令牌有效期
}

// Handler 提供注册、登录、邮箱确认、密码与邮箱修改以及 API 令牌接口。
type Handler struct {
	store    *store.Store
	signer   *token.Signer
	mailer   notify.Dispatcher
	throttle *throttle.Throttle
	opts     Options
	logger   *slog.Logger
}

// NewHandler 创建 Auth Handler。
func NewHandler(st *store.Store, signer *token.Signer, mailer notify.Dispatcher, th *throttle.Throttle, opts Options, logger *slog.Logger) *Handler {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Hour
	}
	if opts.APITokenTTL <= 0 {
		opts.APITokenTTL = time.Hour
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Handler{
		store:    st,
		signer:   signer,
		mailer:   mailer,
		throttle: th,
		opts:     opts,
		logger:   logger,
	}
}

type loginForm struct {
	Email    string `form:"email" binding:"required,min=3,max=64,email"`
	Password string `form:"password" binding:"required"`
	Remember bool   `form:"remember_me"`
	Next     string `form:"next"`
}

type registerForm struct {
	Email     string `form:"email" binding:"required,max=64,email"`
	Username  string `form:"username" binding:"required,min=4,max=64,username"`
	Password  string `form:"password" binding:"required"`
	Password2 string `form:"password2" binding:"required,eqfield=Password"`
}

type changePasswordForm struct {
	OldPassword string `form:"old_password" binding:"required"`
	Password    string `form:"password" binding:"required"`
	Password2   string `form:"password2" binding:"required,eqfield=Password"`
}

type resetRequestForm struct {
	Email string `form:"email" binding:"required,max=64,email"`
}

type resetForm struct {
	Password  string `form:"password" binding:"required"`
	Password2 string `form:"password2" binding:"required,eqfield=Password"`
}

type changeEmailForm struct {
	Email    string `form:"email" binding:"required,max=64,email"`
	Password string `form:"password" binding:"required"`
}

// LoginPage 展示登录表单。
func (h *Handler) LoginPage(c *gin.Context) {
	view.HTML(c, http.StatusOK, "auth/login", gin.H{
		"Title": "登录",
		"Next":  c.Query("next"),
	})
}

// Login 校验邮箱与密码并写入会话。
func (h *Handler) Login(c *gin.Context) {
	var req loginForm
	errs := form.Bind(c, &req)
	next := c.PostForm("next")
	if next == "" {
		next = c.Query("next")
	}
	if errs.Any() {
		h.renderLogin(c, http.StatusBadRequest, next, errs)
		return
	}
	email := normalizeEmail(req.Email)

	user, err := h.store.Authenticate(c.Request.Context(), email, req.Password)
	if errors.Is(err, store.ErrInvalidCredentials) {
		metrics.AuthEventsTotal.WithLabelValues("login_failed").Inc()
		session.From(c).AddFlash(c, "danger", msgInvalidLogin)
		h.renderLogin(c, http.StatusUnauthorized, next, nil)
		return
	}
	if err != nil {
		h.internalError(c, "authenticate failed", err)
		return
	}

	if err := session.From(c).Login(c, user.ID, req.Remember); err != nil {
		h.internalError(c, "save session failed", err)
		return
	}
	metrics.AuthEventsTotal.WithLabelValues("login").Inc()
	if h.logger != nil {
		h.logger.Info("user logged in", slog.Uint64("user_id", uint64(user.ID)), slog.Bool("remember", req.Remember))
	}
	c.Redirect(http.StatusFound, middleware.SafeNext(next, "/"))
}

func (h *Handler) renderLogin(c *gin.Context, status int, next string, errs form.Errors) {
	view.HTML(c, status, "auth/login", gin.H{
		"Title":  "登录",
		"Next":   next,
		"Form":   form.Values(c, "email"),
		"Errors": errs,
	})
}

// Logout 清除会话。
func (h *Handler) Logout(c *gin.Context) {
	sess := session.From(c)
	if err := sess.Logout(c); err != nil && h.logger != nil {
		h.logger.Warn("logout failed", slog.String("error", err.Error()))
	}
	sess.AddFlash(c, "info", msgLoggedOut)
	c.Redirect(http.StatusFound, "/")
}

// RegisterPage 展示注册表单。
func (h *Handler) RegisterPage(c *gin.Context) {
	view.HTML(c, http.StatusOK, "auth/register", gin.H{"Title": "注册"})
}

// Register 创建新用户并发送确认邮件。
func (h *Handler) Register(c *gin.Context) {
	var req registerForm
	errs := form.Bind(c, &req)
	if !errs.Any() {
		user := &model.User{
			Email:    normalizeEmail(req.Email),
			Username: strings.TrimSpace(req.Username),
		}
		if err := user.SetPassword(req.Password); err != nil {
			h.internalError(c, "hash password failed", err)
			return
		}
		err := h.store.CreateUser(c.Request.Context(), user)
		switch {
		case errors.Is(err, store.ErrEmailTaken):
			errs.Add("email", msgEmailTaken)
		case errors.Is(err, store.ErrUsernameTaken):
			errs.Add("username", msgUsernameTaken)
		case err != nil:
			h.internalError(c, "create user failed", err)
			return
		default:
			metrics.AuthEventsTotal.WithLabelValues("register").Inc()
			if h.logger != nil {
				h.logger.Info("user registered", slog.Uint64("user_id", uint64(user.ID)), slog.String("username", user.Username))
			}
			h.sendConfirmation(user)
			session.From(c).AddFlash(c, "info", msgConfirmSent)
			c.Redirect(http.StatusFound, "/auth/login")
			return
		}
	}
	view.HTML(c, http.StatusBadRequest, "auth/register", gin.H{
		"Title":  "注册",
		"Form":   form.Values(c, "email", "username"),
		"Errors": errs,
	})
}

// Confirm 校验确认令牌。令牌必须属于当前登录用户。
func (h *Handler) Confirm(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user.Confirmed {
		c.Redirect(http.StatusFound, "/")
		return
	}
	sess := session.From(c)
	claims, ok := h.signer.Verify(c.Param("token"), token.PurposeConfirm)
	if !ok || claims.UserID() != user.ID {
		metrics.AuthEventsTotal.WithLabelValues("confirm_failed").Inc()
		sess.AddFlash(c, "danger", msgInvalidToken)
		c.Redirect(http.StatusFound, "/")
		return
	}
	if err := h.store.ConfirmUser(c.Request.Context(), user.ID); err != nil {
		h.internalError(c, "confirm user failed", err)
		return
	}
	metrics.AuthEventsTotal.WithLabelValues("confirm").Inc()
	sess.AddFlash(c, "success", msgConfirmed)
	c.Redirect(http.StatusFound, "/")
}

// Unconfirmed 提示未确认的用户去查收邮件。
func (h *Handler) Unconfirmed(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user == nil || user.Confirmed {
		c.Redirect(http.StatusFound, "/")
		return
	}
	view.HTML(c, http.StatusOK, "auth/unconfirmed", gin.H{"Title": "确认账户"})
}

// ResendConfirmation 重新发送确认邮件，同一用户在冷却时间内只发送一次。
func (h *Handler) ResendConfirmation(c *gin.Context) {
	user := middleware.CurrentUser(c)
	sess := session.From(c)
	if user.Confirmed {
		c.Redirect(http.StatusFound, "/")
		return
	}
	ctx := c.Request.Context()
	key := strconv.FormatUint(uint64(user.ID), 10)
	ok, err := h.throttle.Allow(ctx, "confirm", key)
	if err != nil && h.logger != nil {
		h.logger.Warn("resend throttle failed", slog.String("error", err.Error()))
	}
	if err == nil && !ok {
		msg := msgResendTooSoon
		if wait, terr := h.throttle.Remaining(ctx, "confirm", key); terr == nil && wait > 0 {
			msg = fmt.Sprintf(msgResendWait, int(math.Ceil(wait.Seconds())))
		}
		sess.AddFlash(c, "warning", msg)
		c.Redirect(http.StatusFound, "/auth/unconfirmed")
		return
	}
	h.sendConfirmation(user)
	sess.AddFlash(c, "info", msgConfirmSent)
	c.Redirect(http.StatusFound, middleware.SafeNext(c.Query("next"), "/"))
}

// ChangePasswordPage 展示修改密码表单。
func (h *Handler) ChangePasswordPage(c *gin.Context) {
	view.HTML(c, http.StatusOK, "auth/change_password", gin.H{"Title": "修改密码"})
}

// ChangePassword 校验旧密码后保存新密码。
func (h *Handler) ChangePassword(c *gin.Context) {
	user := middleware.CurrentUser(c)
	var req changePasswordForm
	errs := form.Bind(c, &req)
	if !errs.Any() && !user.VerifyPassword(req.OldPassword) {
		errs.Add("old_password", msgInvalidOld)
	}
	if errs.Any() {
		view.HTML(c, http.StatusBadRequest, "auth/change_password", gin.H{"Title": "修改密码", "Errors": errs})
		return
	}
	if err := user.SetPassword(req.Password); err != nil {
		h.internalError(c, "hash password failed", err)
		return
	}
	if err := h.store.UpdatePassword(c.Request.Context(), user); err != nil {
		h.internalError(c, "update password failed", err)
		return
	}
	session.From(c).AddFlash(c, "success", msgPasswordDone)
	c.Redirect(http.StatusFound, "/")
}

// ResetRequestPage 展示找回密码表单。
func (h *Handler) ResetRequestPage(c *gin.Context) {
	if middleware.CurrentUser(c) != nil {
		c.Redirect(http.StatusFound, "/")
		return
	}
	view.HTML(c, http.StatusOK, "auth/reset_request", gin.H{"Title": "重置密码"})
}

// ResetRequest 向该邮箱发送重置链接。
//
// 邮箱不存在时同样提示已发送，不暴露账号是否存在。
func (h *Handler) ResetRequest(c *gin.Context) {
	if middleware.CurrentUser(c) != nil {
		c.Redirect(http.StatusFound, "/")
		return
	}
	var req resetRequestForm
	if errs := form.Bind(c, &req); errs.Any() {
		view.HTML(c, http.StatusBadRequest, "auth/reset_request", gin.H{
			"Title":  "重置密码",
			"Form":   form.Values(c, "email"),
			"Errors": errs,
		})
		return
	}
	ctx := c.Request.Context()
	email := normalizeEmail(req.Email)
	user, err := h.store.GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if h.logger != nil {
			h.logger.Info("password reset for unknown email")
		}
	case err != nil:
		h.internalError(c, "lookup user failed", err)
		return
	default:
		allowed, terr := h.throttle.Allow(ctx, "reset", strconv.FormatUint(uint64(user.ID), 10))
		if terr != nil && h.logger != nil {
			h.logger.Warn("reset throttle failed", slog.String("error", terr.Error()))
		}
		if terr != nil || allowed {
			h.sendTokenMail(user, token.PurposeReset, "", func(link, ttl string) notify.Message {
				return notify.ResetPassword(user.Email, user.Username, link, ttl)
			}, "/auth/reset/")
		}
	}
	session.From(c).AddFlash(c, "info", msgResetSent)
	c.Redirect(http.StatusFound, "/auth/login")
}

// ResetPage 展示设置新密码表单。
func (h *Handler) ResetPage(c *gin.Context) {
	if middleware.CurrentUser(c) != nil {
		c.Redirect(http.StatusFound, "/")
		return
	}
	view.HTML(c, http.StatusOK, "auth/reset_password", gin.H{"Title": "设置新密码"})
}

// Reset 校验重置令牌并保存新密码。
func (h *Handler) Reset(c *gin.Context) {
	if middleware.CurrentUser(c) != nil {
		c.Redirect(http.StatusFound, "/")
		return
	}
	var req resetForm
	if errs := form.Bind(c, &req); errs.Any() {
		view.HTML(c, http.StatusBadRequest, "auth/reset_password", gin.H{"Title": "设置新密码", "Errors": errs})
		return
	}
	sess := session.From(c)
	claims, ok := h.signer.Verify(c.Param("token"), token.PurposeReset)
	if !ok {
		sess.AddFlash(c, "danger", msgInvalidToken)
		c.Redirect(http.StatusFound, "/")
		return
	}
	ctx := c.Request.Context()
	user, err := h.store.GetUser(ctx, claims.UserID())
	if errors.Is(err, store.ErrNotFound) {
		sess.AddFlash(c, "danger", msgInvalidToken)
		c.Redirect(http.StatusFound, "/")
		return
	}
	if err != nil {
		h.internalError(c, "lookup user failed", err)
		return
	}
	if err := user.SetPassword(req.Password); err != nil {
		h.internalError(c, "hash password failed", err)
		return
	}
	if err := h.store.UpdatePassword(ctx, user); err != nil {
		h.internalError(c, "update password failed", err)
		return
	}
	// 密码已重置，允许立即再次申请
	if err := h.throttle.Reset(ctx, "reset", strconv.FormatUint(uint64(user.ID), 10)); err != nil && h.logger != nil {
		h.logger.Warn("clear reset throttle failed", slog.String("error", err.Error()))
	}
	metrics.AuthEventsTotal.WithLabelValues("reset").Inc()
	sess.AddFlash(c, "success", msgPasswordDone)
	c.Redirect(http.StatusFound, "/auth/login")
}

// ChangeEmailPage 展示修改邮箱表单。
func (h *Handler) ChangeEmailPage(c *gin.Context) {
	view.HTML(c, http.StatusOK, "auth/change_email", gin.H{"Title": "修改邮箱"})
}

// ChangeEmailRequest 校验密码后向新邮箱发送确认链接。
func (h *Handler) ChangeEmailRequest(c *gin.Context) {
	user := middleware.CurrentUser(c)
	var req changeEmailForm
	errs := form.Bind(c, &req)
	newEmail := normalizeEmail(req.Email)
	if !errs.Any() {
		if !user.VerifyPassword(req.Password) {
			errs.Add("password", msgInvalidPasswd)
		} else if _, err := h.store.GetUserByEmail(c.Request.Context(), newEmail); err == nil {
			errs.Add("email", msgEmailTaken)
		} else if !errors.Is(err, store.ErrNotFound) {
			h.internalError(c, "lookup email failed", err)
			return
		}
	}
	if errs.Any() {
		view.HTML(c, http.StatusBadRequest, "auth/change_email", gin.H{
			"Title":  "修改邮箱",
			"Form":   form.Values(c, "email"),
			"Errors": errs,
		})
		return
	}
	h.sendTokenMail(user, token.PurposeChangeEmail, newEmail, func(link, ttl string) notify.Message {
		return notify.ChangeEmail(newEmail, user.Username, link, ttl)
	}, "/auth/change-email/")
	session.From(c).AddFlash(c, "info", msgEmailSent)
	c.Redirect(http.StatusFound, "/")
}

// ChangeEmail 校验令牌并更新邮箱。
func (h *Handler) ChangeEmail(c *gin.Context) {
	user := middleware.CurrentUser(c)
	sess := session.From(c)
	claims, ok := h.signer.Verify(c.Param("token"), token.PurposeChangeEmail)
	if !ok || claims.UserID() != user.ID || claims.Email == "" {
		sess.AddFlash(c, "danger", msgInvalidToken)
		c.Redirect(http.StatusFound, "/")
		return
	}
	err := h.store.ChangeEmail(c.Request.Context(), user.ID, claims.Email)
	if errors.Is(err, store.ErrEmailTaken) {
		sess.AddFlash(c, "danger", msgEmailTaken)
		c.Redirect(http.StatusFound, "/")
		return
	}
	if err != nil {
		h.internalError(c, "change email failed", err)
		return
	}
	sess.AddFlash(c, "success", msgEmailChanged)
	c.Redirect(http.StatusFound, "/")
}

type tokenResponse struct {
	Token      string `json:"token"`
	Expiration int64  `json:"expiration"`
}

// IssueAPIToken 为 HTTP Basic 认证的用户签发 API 令牌。
//
// 已经使用令牌认证的请求不能再换取新令牌。
func (h *Handler) IssueAPIToken(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user == nil || middleware.AuthenticatedByToken(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	raw, err := h.signer.Generate(token.PurposeAuth, user.ID, h.opts.APITokenTTL, "")
	if err != nil {
		if h.logger != nil {
			h.logger.Error("sign token failed", slog.Uint64("user_id", uint64(user.ID)), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}
	c.JSON(http.StatusOK, tokenResponse{Token: raw, Expiration: int64(h.opts.APITokenTTL.Seconds())})
}

func (h *Handler) sendConfirmation(user *model.User) {
	h.sendTokenMail(user, token.PurposeConfirm, "", func(link, ttl string) notify.Message {
		return notify.ConfirmAccount(user.Email, user.Username, link, ttl)
	}, "/auth/confirm/")
}

// sendTokenMail 签发令牌并异步发送邮件，失败只记录日志。
func (h *Handler) sendTokenMail(user *model.User, purpose token.Purpose, email string, build func(link, ttl string) notify.Message, path string) {
	raw, err := h.signer.Generate(purpose, user.ID, h.opts.TokenTTL, email)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("sign token failed", slog.String("purpose", string(purpose)), slog.String("error", err.Error()))
		}
		return
	}
	if h.mailer == nil {
		return
	}
	msg := build(h.opts.BaseURL+path+raw, humanDuration(h.opts.TokenTTL))
	if !h.mailer.Dispatch(msg) && h.logger != nil {
		h.logger.Warn("mail dropped", slog.String("kind", msg.Kind), slog.Uint64("user_id", uint64(user.ID)))
	}
}

func (h *Handler) internalError(c *gin.Context, msg string, err error) {
	if h.logger != nil {
		h.logger.Error(msg, slog.String("error", err.Error()))
	}
	_ = c.Error(err)
	middleware.AbortStatus(c, http.StatusInternalServerError)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func humanDuration(d time.Duration) string {
	switch {
	case d%time.Hour == 0 && d >= time.Hour:
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	case d%time.Minute == 0 && d >= time.Minute:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	default:
		return d.String()
	}
}
