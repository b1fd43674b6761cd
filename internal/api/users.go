package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"askhub/internal/api/form"
	"askhub/internal/api/middleware"
	"askhub/internal/api/view"
	"askhub/internal/model"
	"askhub/internal/pkg/session"
	"askhub/internal/store"

	"github.com/gin-gonic/gin"
)

type profileForm struct {
	Name     string `form:"name" binding:"max=64"`
	Location string `form:"location" binding:"max=64"`
	AboutMe  string `form:"about_me"`
}

type adminProfileForm struct {
	Email     string `form:"email" binding:"required,max=64,email"`
	Username  string `form:"username" binding:"required,min=4,max=64,username"`
	Confirmed bool   `form:"confirmed"`
	Role      uint   `form:"role" binding:"required"`
	Name      string `form:"name" binding:"max=64"`
	Location  string `form:"location" binding:"max=64"`
	AboutMe   string `form:"about_me"`
}

// followEntry 关注列表中的一行。
type followEntry struct {
	User      *model.User
	Timestamp time.Time
}

// handleUser 用户主页：资料、关注数、提问与回答。
func (s *Server) handleUser(c *gin.Context) {
	ctx := c.Request.Context()
	user, err := s.store.GetUserByUsername(ctx, c.Param("username"))
	if err != nil {
		s.failLookup(c, "get user failed", err)
		return
	}

	questions, err := s.store.UserQuestions(ctx, user.ID, parseQueryInt(c, "page", 1), s.cfg.Pagination.Feed)
	if err != nil {
		s.fail(c, "list user questions failed", err)
		return
	}
	answers, err := s.store.UserAnswers(ctx, user.ID, 1, s.cfg.Pagination.Answers)
	if err != nil {
		s.fail(c, "list user answers failed", err)
		return
	}
	answerCounts, err := s.store.CountAnswers(ctx, questionIDs(questions.Items))
	if err != nil {
		s.fail(c, "count answers failed", err)
		return
	}
	ids := answerIDs(answers.Items)
	voteCounts, err := s.store.CountVotes(ctx, ids)
	if err != nil {
		s.fail(c, "count votes failed", err)
		return
	}
	commentCounts, err := s.store.CountComments(ctx, ids)
	if err != nil {
		s.fail(c, "count comments failed", err)
		return
	}
	followers, following, err := s.store.FollowCounts(ctx, user.ID)
	if err != nil {
		s.fail(c, "count follows failed", err)
		return
	}

	var isFollowing, isFollowedBy bool
	if me := middleware.CurrentUser(c); me != nil {
		if isFollowing, err = s.store.IsFollowing(ctx, me.ID, user.ID); err != nil {
			s.fail(c, "check following failed", err)
			return
		}
		if isFollowedBy, err = s.store.IsFollowedBy(ctx, me.ID, user.ID); err != nil {
			s.fail(c, "check followed by failed", err)
			return
		}
	}

	view.HTML(c, http.StatusOK, "user", gin.H{
		"Title":         user.Username,
		"User":          user,
		"Questions":     questions,
		"Answers":       answers,
		"AnswerCounts":  answerCounts,
		"VoteCounts":    voteCounts,
		"CommentCounts": commentCounts,
		"Followers":     int(followers),
		"Following":     int(following),
		"IsFollowing":   isFollowing,
		"IsFollowedBy":  isFollowedBy,
		"Base":          "/user/" + url.PathEscape(user.Username),
	})
}

// handleEditProfilePage 展示当前用户的资料表单。
func (s *Server) handleEditProfilePage(c *gin.Context) {
	u := middleware.CurrentUser(c)
	view.HTML(c, http.StatusOK, "edit_profile", gin.H{
		"Title": "编辑资料",
		"Form": map[string]string{
			"name":     u.Name,
			"location": u.Location,
			"about_me": u.AboutMe,
		},
	})
}

// handleEditProfile 保存当前用户的资料。
func (s *Server) handleEditProfile(c *gin.Context) {
	u := middleware.CurrentUser(c)
	var req profileForm
	if errs := form.Bind(c, &req); errs.Any() {
		view.HTML(c, http.StatusBadRequest, "edit_profile", gin.H{
			"Title":  "编辑资料",
			"Form":   form.Values(c, "name", "location", "about_me"),
			"Errors": errs,
		})
		return
	}
	if err := s.store.UpdateProfile(c.Request.Context(), u.ID, strings.TrimSpace(req.Name), strings.TrimSpace(req.Location), req.AboutMe); err != nil {
		s.fail(c, "update profile failed", err)
		return
	}
	session.From(c).AddFlash(c, "success", "您的资料已经更新。")
	c.Redirect(http.StatusFound, "/user/"+url.PathEscape(u.Username))
}

// handleEditProfileAdminPage 管理员编辑任意用户的资料。
func (s *Server) handleEditProfileAdminPage(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	user, err := s.store.GetUser(c.Request.Context(), id)
	if err != nil {
		s.failLookup(c, "get user failed", err)
		return
	}
	values := map[string]string{
		"email":    user.Email,
		"username": user.Username,
		"name":     user.Name,
		"location": user.Location,
		"about_me": user.AboutMe,
	}
	if user.Confirmed {
		values["confirmed"] = "1"
	}
	if user.RoleID != nil {
		values["role"] = strconv.FormatUint(uint64(*user.RoleID), 10)
	}
	s.renderAdminProfile(c, http.StatusOK, user, values, nil)
}

func (s *Server) renderAdminProfile(c *gin.Context, status int, user *model.User, values map[string]string, errs form.Errors) {
	roles, err := s.store.Roles(c.Request.Context())
	if err != nil {
		s.fail(c, "list roles failed", err)
		return
	}
	view.HTML(c, status, "edit_profile", gin.H{
		"Title":  "编辑资料 - " + user.Username,
		"Admin":  true,
		"Roles":  roles,
		"Form":   values,
		"Errors": errs,
	})
}

// handleEditProfileAdmin 保存管理员对账号的修改，邮箱与昵称需保持唯一。
func (s *Server) handleEditProfileAdmin(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		s.failLookup(c, "get user failed", err)
		return
	}

	var req adminProfileForm
	errs := form.Bind(c, &req)
	if !errs.Any() {
		role, err := s.store.GetRole(ctx, req.Role)
		switch {
		case errors.Is(err, store.ErrNotFound):
			errs.Add("role", "角色不存在。")
		case err != nil:
			s.fail(c, "get role failed", err)
			return
		default:
			user.Email = strings.ToLower(strings.TrimSpace(req.Email))
			user.Username = strings.TrimSpace(req.Username)
			user.Confirmed = req.Confirmed
			user.RoleID = &role.ID
			user.Role = role
			user.Name = strings.TrimSpace(req.Name)
			user.Location = strings.TrimSpace(req.Location)
			user.AboutMe = req.AboutMe

			err := s.store.UpdateAccount(ctx, user)
			switch {
			case errors.Is(err, store.ErrEmailTaken):
				errs.Add("email", "邮件地址已经被使用！")
			case errors.Is(err, store.ErrUsernameTaken):
				errs.Add("username", "昵称已经被占用！")
			case err != nil:
				s.fail(c, "update account failed", err)
				return
			}
		}
	}
	if errs.Any() {
		values := form.Values(c, "email", "username", "confirmed", "role", "name", "location", "about_me")
		s.renderAdminProfile(c, http.StatusBadRequest, user, values, errs)
		return
	}

	s.logger.Info("account updated by admin",
		slog.Uint64("user_id", uint64(user.ID)),
		slog.Uint64("admin_id", uint64(middleware.CurrentUser(c).ID)),
	)
	session.From(c).AddFlash(c, "success", "该用户的资料已经更新。")
	c.Redirect(http.StatusFound, "/user/"+url.PathEscape(user.Username))
}

// handleFollow 关注用户。
func (s *Server) handleFollow(c *gin.Context) {
	me := middleware.CurrentUser(c)
	sess := session.From(c)
	ctx := c.Request.Context()
	username := c.Param("username")
	target, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		sess.AddFlash(c, "danger", "用户不存在！")
		c.Redirect(http.StatusFound, "/")
		return
	}
	if err != nil {
		s.fail(c, "get user failed", err)
		return
	}
	following, err := s.store.IsFollowing(ctx, me.ID, target.ID)
	if err != nil {
		s.fail(c, "check following failed", err)
		return
	}
	if following {
		sess.AddFlash(c, "info", "你已经关注了该用户。")
	} else {
		if err := s.store.Follow(ctx, me.ID, target.ID); err != nil {
			s.fail(c, "follow failed", err)
			return
		}
		sess.AddFlash(c, "success", fmt.Sprintf("你关注了 %s。", target.Username))
	}
	c.Redirect(http.StatusFound, "/user/"+url.PathEscape(target.Username))
}

// handleUnfollow 取消关注。取消对自己的关注不被阻止，只记录告警。
func (s *Server) handleUnfollow(c *gin.Context) {
	me := middleware.CurrentUser(c)
	sess := session.From(c)
	ctx := c.Request.Context()
	target, err := s.store.GetUserByUsername(ctx, c.Param("username"))
	if errors.Is(err, store.ErrNotFound) {
		sess.AddFlash(c, "danger", "用户不存在！")
		c.Redirect(http.StatusFound, "/")
		return
	}
	if err != nil {
		s.fail(c, "get user failed", err)
		return
	}
	following, err := s.store.IsFollowing(ctx, me.ID, target.ID)
	if err != nil {
		s.fail(c, "check following failed", err)
		return
	}
	if !following {
		sess.AddFlash(c, "info", "你没有关注该用户。")
		c.Redirect(http.StatusFound, "/user/"+url.PathEscape(target.Username))
		return
	}
	if me.ID == target.ID {
		s.logger.Warn("user removed self follow", slog.Uint64("user_id", uint64(me.ID)))
	}
	if err := s.store.Unfollow(ctx, me.ID, target.ID); err != nil {
		s.fail(c, "unfollow failed", err)
		return
	}
	sess.AddFlash(c, "success", fmt.Sprintf("你取消了对 %s 的关注。", target.Username))
	c.Redirect(http.StatusFound, "/user/"+url.PathEscape(target.Username))
}

// handleFollowers 关注该用户的人。
func (s *Server) handleFollowers(c *gin.Context) {
	s.renderFollows(c, true)
}

// handleFollowedBy 该用户关注的人。
func (s *Server) handleFollowedBy(c *gin.Context) {
	s.renderFollows(c, false)
}

func (s *Server) renderFollows(c *gin.Context, followers bool) {
	ctx := c.Request.Context()
	user, err := s.store.GetUserByUsername(ctx, c.Param("username"))
	if errors.Is(err, store.ErrNotFound) {
		session.From(c).AddFlash(c, "danger", "用户不存在！")
		c.Redirect(http.StatusFound, "/")
		return
	}
	if err != nil {
		s.fail(c, "get user failed", err)
		return
	}

	page := parseQueryInt(c, "page", 1)
	perPage := s.cfg.Pagination.Followers
	var (
		result  store.Page[model.Follow]
		heading string
		base    string
	)
	if followers {
		result, err = s.store.Followers(ctx, user.ID, page, perPage)
		heading = user.Username + " 的关注者"
		base = "/followers/" + url.PathEscape(user.Username)
	} else {
		result, err = s.store.Followed(ctx, user.ID, page, perPage)
		heading = user.Username + " 关注的人"
		base = "/followed-by/" + url.PathEscape(user.Username)
	}
	if err != nil {
		s.fail(c, "list follows failed", err)
		return
	}

	entries := make([]followEntry, 0, len(result.Items))
	for _, f := range result.Items {
		u := f.Followed
		if followers {
			u = f.Follower
		}
		if u == nil {
			continue
		}
		entries = append(entries, followEntry{User: u, Timestamp: f.Timestamp})
	}
	view.HTML(c, http.StatusOK, "followers", gin.H{
		"Title":   heading,
		"Heading": heading,
		"User":    user,
		"Follows": entries,
		"Page":    result,
		"Base":    base,
	})
}

// handleModerate 评论管理面板，包含已屏蔽的评论。
func (s *Server) handleModerate(c *gin.Context) {
	comments, err := s.store.ModerationComments(c.Request.Context(), parseQueryInt(c, "page", 1), s.cfg.Pagination.Comments)
	if err != nil {
		s.fail(c, "list comments failed", err)
		return
	}
	view.HTML(c, http.StatusOK, "moderate", gin.H{
		"Title":    "评论管理",
		"Comments": comments,
		"Base":     "/moderate",
	})
}

func (s *Server) handleModerateEnable(c *gin.Context) {
	s.setCommentDisabled(c, false)
}

func (s *Server) handleModerateDisable(c *gin.Context) {
	s.setCommentDisabled(c, true)
}

func (s *Server) setCommentDisabled(c *gin.Context, disabled bool) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	cm, err := s.store.GetComment(ctx, id)
	if err != nil {
		s.failLookup(c, "get comment failed", err)
		return
	}
	if cm.Disabled != disabled {
		if err := s.store.SetCommentDisabled(ctx, id, disabled); err != nil {
			s.failLookup(c, "moderate comment failed", err)
			return
		}
	}
	s.logger.Info("comment moderated",
		slog.Uint64("comment_id", uint64(id)),
		slog.Uint64("author_id", uint64(cm.AuthorID)),
		slog.Uint64("answer_id", uint64(cm.AnswerID)),
		slog.Bool("disabled", disabled),
		slog.Uint64("moderator_id", uint64(middleware.CurrentUser(c).ID)),
	)
	c.Redirect(http.StatusFound, fmt.Sprintf("/moderate?page=%d", parseQueryInt(c, "page", 1)))
}
