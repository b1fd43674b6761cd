package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"askhub/internal/api/form"
	"askhub/internal/api/middleware"
	"askhub/internal/api/view"
	"askhub/internal/model"
	"askhub/internal/pkg/metrics"
	"askhub/internal/pkg/session"
	"askhub/internal/store"

	"github.com/gin-gonic/gin"
)

type commentForm struct {
	Body string `form:"body" binding:"required"`
}

// handleAnswer 回答详情：展示未被屏蔽的评论。
func (s *Server) handleAnswer(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	a, err := s.store.GetAnswer(c.Request.Context(), id)
	if err != nil {
		s.failLookup(c, "get answer failed", err)
		return
	}
	s.renderAnswer(c, http.StatusOK, a, nil, nil)
}

func (s *Server) renderAnswer(c *gin.Context, status int, a *model.Answer, formValues map[string]string, errs form.Errors) {
	ctx := c.Request.Context()
	comments, err := s.store.AnswerComments(ctx, a.ID, false, parseQueryInt(c, "page", 1), s.cfg.Pagination.Comments)
	if err != nil {
		s.fail(c, "list comments failed", err)
		return
	}
	votes, err := s.store.CountVotes(ctx, []uint{a.ID})
	if err != nil {
		s.fail(c, "count votes failed", err)
		return
	}
	if formValues == nil {
		formValues = map[string]string{}
	}
	title := "回答"
	if a.Question != nil {
		title = a.Question.Title
	}
	view.HTML(c, status, "answer", gin.H{
		"Title":    title,
		"Answer":   a,
		"Votes":    votes[a.ID],
		"Comments": comments,
		"CanEdit":  canEdit(middleware.CurrentUser(c), a.AuthorID),
		"Base":     fmt.Sprintf("/answer/%d", a.ID),
		"Form":     formValues,
		"Errors":   errs,
	})
}

// handlePostComment 发表评论。
func (s *Server) handlePostComment(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	a, err := s.store.GetAnswer(ctx, id)
	if err != nil {
		s.failLookup(c, "get answer failed", err)
		return
	}

	var req commentForm
	errs := form.Bind(c, &req)
	var cm *model.Comment
	if !errs.Any() {
		if cm, err = model.NewComment(middleware.CurrentUser(c).ID, a.ID, req.Body); errors.Is(err, model.ErrEmptyBody) {
			errs.Add("body", "此项为必填项。")
		}
	}
	if errs.Any() {
		s.renderAnswer(c, http.StatusBadRequest, a, form.Values(c, "body"), errs)
		return
	}
	if err := s.store.CreateComment(ctx, cm); err != nil {
		s.failLookup(c, "create comment failed", err)
		return
	}
	metrics.ContentCreatedTotal.WithLabelValues("comment").Inc()
	session.From(c).AddFlash(c, "success", "您的评论已提交。")
	c.Redirect(http.StatusFound, fmt.Sprintf("/answer/%d?page=%d#comments", a.ID, store.LastPage))
}

func (s *Server) loadEditableAnswer(c *gin.Context) (*model.Answer, bool) {
	id, ok := paramID(c)
	if !ok {
		return nil, false
	}
	a, err := s.store.GetAnswer(c.Request.Context(), id)
	if err != nil {
		s.failLookup(c, "get answer failed", err)
		return nil, false
	}
	if !canEdit(middleware.CurrentUser(c), a.AuthorID) {
		middleware.AbortStatus(c, http.StatusForbidden)
		return nil, false
	}
	return a, true
}

// handleEditAnswerPage 展示编辑回答表单。
func (s *Server) handleEditAnswerPage(c *gin.Context) {
	a, ok := s.loadEditableAnswer(c)
	if !ok {
		return
	}
	view.HTML(c, http.StatusOK, "answer_form", gin.H{
		"Title": "编辑回答",
		"Form":  map[string]string{"body": a.Body},
	})
}

// handleEditAnswer 保存回答修改。
func (s *Server) handleEditAnswer(c *gin.Context) {
	a, ok := s.loadEditableAnswer(c)
	if !ok {
		return
	}
	var req answerForm
	errs := form.Bind(c, &req)
	if !errs.Any() && strings.TrimSpace(req.Body) == "" {
		errs.Add("body", "此项为必填项。")
	}
	if errs.Any() {
		view.HTML(c, http.StatusBadRequest, "answer_form", gin.H{
			"Title":  "编辑回答",
			"Form":   form.Values(c, "body"),
			"Errors": errs,
		})
		return
	}
	a.SetBody(req.Body)
	if err := s.store.UpdateAnswer(c.Request.Context(), a); err != nil {
		s.fail(c, "update answer failed", err)
		return
	}
	session.From(c).AddFlash(c, "success", "这个回答已经被更新。")
	c.Redirect(http.StatusFound, fmt.Sprintf("/answer/%d", a.ID))
}

// handleVote 为回答投一票，然后跳回 next（默认首页）。
func (s *Server) handleVote(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if _, err := s.store.CreateVote(c.Request.Context(), middleware.CurrentUser(c).ID, id); err != nil {
		s.failLookup(c, "create vote failed", err)
		return
	}
	metrics.ContentCreatedTotal.WithLabelValues("vote").Inc()
	next := c.PostForm("next")
	if next == "" {
		next = c.Query("next")
	}
	c.Redirect(http.StatusFound, middleware.SafeNext(next, "/"))
}
