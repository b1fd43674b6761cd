package api

import (
	"errors"
	"fmt"
	"log/slog"
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

type questionForm struct {
	Title string `form:"title" binding:"required,max=128"`
	Body  string `form:"body" binding:"required"`
}

type answerForm struct {
	Body string `form:"body" binding:"required"`
}

// topAnswer 问题页顶部展示的最高票回答。
type topAnswer struct {
	Answer *model.Answer
	Votes  int64
}

// handleIndex 首页：有关注关系时展示关注的人的问题，否则展示全部问题。
func (s *Server) handleIndex(c *gin.Context) {
	ctx := c.Request.Context()
	page := parseQueryInt(c, "page", 1)
	perPage := s.cfg.Pagination.Feed

	u := middleware.CurrentUser(c)
	followed := false
	if u != nil {
		var err error
		if followed, err = s.store.HasFollowers(ctx, u.ID); err != nil {
			s.fail(c, "check followers failed", err)
			return
		}
	}

	var (
		questions store.Page[model.Question]
		err       error
	)
	if followed {
		questions, err = s.store.FollowedQuestions(ctx, u.ID, page, perPage)
	} else {
		questions, err = s.store.ListQuestions(ctx, page, perPage)
	}
	if err != nil {
		s.fail(c, "list questions failed", err)
		return
	}
	s.renderQuestions(c, questions, gin.H{"ShowFollowed": followed, "Base": "/"})
}

// handleSquare 广场：全部问题，最新在前。
func (s *Server) handleSquare(c *gin.Context) {
	questions, err := s.store.ListQuestions(c.Request.Context(), parseQueryInt(c, "page", 1), s.cfg.Pagination.Feed)
	if err != nil {
		s.fail(c, "list questions failed", err)
		return
	}
	s.renderQuestions(c, questions, gin.H{"ShowAll": true, "Base": "/square", "Title": "广场"})
}

func (s *Server) renderQuestions(c *gin.Context, questions store.Page[model.Question], data gin.H) {
	counts, err := s.store.CountAnswers(c.Request.Context(), questionIDs(questions.Items))
	if err != nil {
		s.fail(c, "count answers failed", err)
		return
	}
	data["Questions"] = questions
	data["AnswerCounts"] = counts
	view.HTML(c, http.StatusOK, "index", data)
}

// handleQuestion 问题详情：分页展示回答，page=-1 表示最后一页。
func (s *Server) handleQuestion(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	q, err := s.store.GetQuestion(c.Request.Context(), id)
	if err != nil {
		s.failLookup(c, "get question failed", err)
		return
	}
	s.renderQuestion(c, http.StatusOK, q, nil, nil)
}

func (s *Server) renderQuestion(c *gin.Context, status int, q *model.Question, formValues map[string]string, errs form.Errors) {
	ctx := c.Request.Context()
	answers, err := s.store.QuestionAnswers(ctx, q.ID, parseQueryInt(c, "page", 1), s.cfg.Pagination.Answers)
	if err != nil {
		s.fail(c, "list answers failed", err)
		return
	}
	ids := answerIDs(answers.Items)
	votes, err := s.store.CountVotes(ctx, ids)
	if err != nil {
		s.fail(c, "count votes failed", err)
		return
	}
	comments, err := s.store.CountComments(ctx, ids)
	if err != nil {
		s.fail(c, "count comments failed", err)
		return
	}

	var top *topAnswer
	ranked, err := s.store.TopAnswers(ctx, q.ID, 1)
	if err != nil {
		s.fail(c, "top answers failed", err)
		return
	}
	if len(ranked) > 0 {
		a, err := s.store.GetAnswer(ctx, ranked[0].AnswerID)
		if err != nil {
			s.fail(c, "load top answer failed", err)
			return
		}
		top = &topAnswer{Answer: a, Votes: ranked[0].Votes}
	}

	if formValues == nil {
		formValues = map[string]string{}
	}
	view.HTML(c, status, "question", gin.H{
		"Title":         q.Title,
		"Question":      q,
		"Answers":       answers,
		"VoteCounts":    votes,
		"CommentCounts": comments,
		"Top":           top,
		"CanEdit":       canEdit(middleware.CurrentUser(c), q.AuthorID),
		"Base":          fmt.Sprintf("/question/%d", q.ID),
		"Form":          formValues,
		"Errors":        errs,
	})
}

// handlePostAnswer 在问题下发表回答，成功后跳转到最后一页。
func (s *Server) handlePostAnswer(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	q, err := s.store.GetQuestion(ctx, id)
	if err != nil {
		s.failLookup(c, "get question failed", err)
		return
	}

	var req answerForm
	errs := form.Bind(c, &req)
	var a *model.Answer
	if !errs.Any() {
		if a, err = model.NewAnswer(middleware.CurrentUser(c).ID, q.ID, req.Body); errors.Is(err, model.ErrEmptyBody) {
			errs.Add("body", "此项为必填项。")
		}
	}
	if errs.Any() {
		s.renderQuestion(c, http.StatusBadRequest, q, form.Values(c, "body"), errs)
		return
	}
	if err := s.store.CreateAnswer(ctx, a); err != nil {
		s.failLookup(c, "create answer failed", err)
		return
	}
	metrics.ContentCreatedTotal.WithLabelValues("answer").Inc()
	session.From(c).AddFlash(c, "success", "您的回答已提交。")
	c.Redirect(http.StatusFound, fmt.Sprintf("/question/%d?page=%d#answers", q.ID, store.LastPage))
}

// handlePostQuestionPage 展示提问表单。
func (s *Server) handlePostQuestionPage(c *gin.Context) {
	view.HTML(c, http.StatusOK, "question_form", gin.H{"Title": "提问"})
}

// handlePostQuestion 发布新问题。
func (s *Server) handlePostQuestion(c *gin.Context) {
	var req questionForm
	errs := form.Bind(c, &req)
	var q *model.Question
	if !errs.Any() {
		var err error
		if q, err = model.NewQuestion(middleware.CurrentUser(c).ID, strings.TrimSpace(req.Title), req.Body); errors.Is(err, model.ErrEmptyBody) {
			errs.Add("body", "此项为必填项。")
		}
	}
	if errs.Any() {
		view.HTML(c, http.StatusBadRequest, "question_form", gin.H{
			"Title":  "提问",
			"Form":   form.Values(c, "title", "body"),
			"Errors": errs,
		})
		return
	}
	if err := s.store.CreateQuestion(c.Request.Context(), q); err != nil {
		s.fail(c, "create question failed", err)
		return
	}
	metrics.ContentCreatedTotal.WithLabelValues("question").Inc()
	s.logger.Info("question created", slog.Uint64("question_id", uint64(q.ID)), slog.Uint64("author_id", uint64(q.AuthorID)))
	c.Redirect(http.StatusFound, fmt.Sprintf("/question/%d", q.ID))
}

// loadEditableQuestion 加载问题并检查当前用户是否为作者或管理员。
func (s *Server) loadEditableQuestion(c *gin.Context) (*model.Question, bool) {
	id, ok := paramID(c)
	if !ok {
		return nil, false
	}
	q, err := s.store.GetQuestion(c.Request.Context(), id)
	if err != nil {
		s.failLookup(c, "get question failed", err)
		return nil, false
	}
	if !canEdit(middleware.CurrentUser(c), q.AuthorID) {
		middleware.AbortStatus(c, http.StatusForbidden)
		return nil, false
	}
	return q, true
}

// handleEditQuestionPage 展示编辑问题表单。
func (s *Server) handleEditQuestionPage(c *gin.Context) {
	q, ok := s.loadEditableQuestion(c)
	if !ok {
		return
	}
	view.HTML(c, http.StatusOK, "question_form", gin.H{
		"Title": "编辑问题",
		"Form":  map[string]string{"title": q.Title, "body": q.Body},
	})
}

// handleEditQuestion 保存问题修改，正文的 HTML 随之重新生成。
func (s *Server) handleEditQuestion(c *gin.Context) {
	q, ok := s.loadEditableQuestion(c)
	if !ok {
		return
	}
	var req questionForm
	errs := form.Bind(c, &req)
	if !errs.Any() && strings.TrimSpace(req.Body) == "" {
		errs.Add("body", "此项为必填项。")
	}
	if errs.Any() {
		view.HTML(c, http.StatusBadRequest, "question_form", gin.H{
			"Title":  "编辑问题",
			"Form":   form.Values(c, "title", "body"),
			"Errors": errs,
		})
		return
	}
	q.Title = strings.TrimSpace(req.Title)
	q.SetBody(req.Body)
	if err := s.store.UpdateQuestion(c.Request.Context(), q); err != nil {
		s.fail(c, "update question failed", err)
		return
	}
	session.From(c).AddFlash(c, "success", "这个问题已经被更新。")
	c.Redirect(http.StatusFound, fmt.Sprintf("/question/%d", q.ID))
}

func questionIDs(qs []model.Question) []uint {
	ids := make([]uint, len(qs))
	for i := range qs {
		ids[i] = qs[i].ID
	}
	return ids
}

func answerIDs(as []model.Answer) []uint {
	ids := make([]uint, len(as))
	for i := range as {
		ids[i] = as[i].ID
	}
	return ids
}
