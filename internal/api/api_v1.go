package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"askhub/internal/api/form"
	"askhub/internal/api/middleware"
	"askhub/internal/model"
	"askhub/internal/pkg/metrics"
	"askhub/internal/store"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type apiQuestionRequest struct {
	Title string `json:"title" form:"title" binding:"required,max=128"`
	Body  string `json:"body" form:"body"`
}

type questionJSON struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	BodyHTML    string    `json:"body_html"`
	Timestamp   time.Time `json:"timestamp"`
	AuthorURL   string    `json:"author_url"`
	AnswersURL  string    `json:"answers_url"`
	AnswerCount int64     `json:"answer_count"`
}

type answerJSON struct {
	URL          string    `json:"url"`
	Body         string    `json:"body"`
	BodyHTML     string    `json:"body_html"`
	Timestamp    time.Time `json:"timestamp"`
	AuthorURL    string    `json:"author_url"`
	QuestionURL  string    `json:"question_url"`
	CommentsURL  string    `json:"comments_url"`
	VoteCount    int64     `json:"vote_count"`
	CommentCount int64     `json:"comment_count"`
}

type commentJSON struct {
	Body      string    `json:"body"`
	BodyHTML  string    `json:"body_html"`
	Timestamp time.Time `json:"timestamp"`
	AuthorURL string    `json:"author_url"`
	AnswerURL string    `json:"answer_url"`
}

type userJSON struct {
	URL                  string    `json:"url"`
	Username             string    `json:"username"`
	MemberSince          time.Time `json:"member_since"`
	LastSeen             time.Time `json:"last_seen"`
	QuestionsURL         string    `json:"questions_url"`
	FollowedQuestionsURL string    `json:"followed_questions_url"`
	QuestionCount        int64     `json:"question_count"`
}

// registerAPIRoutes 注册 /api/v1 下的 JSON 接口。
//
// 认证使用 Bearer 令牌或 HTTP Basic，所有接口都要求已登录且邮箱已确认。
func (s *Server) registerAPIRoutes() {
	v1 := s.router.Group("/api/v1")
	v1.Use(cors.New(cors.Config{
		AllowOrigins:  []string{s.cfg.App.CORSOrigin},
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length", "Location"},
	}))
	v1.Use(middleware.BearerAuth(s.signer, s.store, s.store, s.logger))
	v1.Use(middleware.RequireLogin())
	v1.Use(requireConfirmedAPI())
	v1.Use(s.limiter.Middleware())

	write := middleware.RequirePermission(model.PermWriteArticles)

	// 预检请求由 cors 中间件直接应答
	v1.OPTIONS("/*path", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	v1.POST("/tokens", s.auth.IssueAPIToken)
	v1.GET("/questions", s.apiQuestions)
	v1.POST("/questions", write, s.apiCreateQuestion)
	v1.GET("/questions/:id", s.apiQuestion)
	v1.PUT("/questions/:id", write, s.apiEditQuestion)
	v1.GET("/questions/:id/answers", s.apiQuestionAnswers)
	v1.GET("/answers/:id", s.apiAnswer)
	v1.GET("/answers/:id/comments", s.apiAnswerComments)
	v1.GET("/users/:id", s.apiUser)
	v1.GET("/users/:id/questions", s.apiUserQuestions)
	v1.GET("/users/:id/followed-questions", s.apiFollowedQuestions)
}

// requireConfirmedAPI 未确认邮箱的账号不能使用 API。
func requireConfirmedAPI() gin.HandlerFunc {
	return func(c *gin.Context) {
		if u := middleware.CurrentUser(c); u != nil && !u.Confirmed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "unconfirmed account"})
			return
		}
		c.Next()
	}
}

// absURL 拼接对外可访问的绝对地址。
func (s *Server) absURL(format string, args ...any) string {
	return strings.TrimRight(s.cfg.App.BaseURL, "/") + fmt.Sprintf(format, args...)
}

// pageLinks 计算分页结果的上一页、下一页地址，不存在时为 nil。
func (s *Server) pageLinks(c *gin.Context, page, pages int) (prev, next *string) {
	if page > 1 {
		u := s.absURL("%s?page=%d", c.Request.URL.Path, page-1)
		prev = &u
	}
	if page < pages {
		u := s.absURL("%s?page=%d", c.Request.URL.Path, page+1)
		next = &u
	}
	return prev, next
}

func (s *Server) apiFail(c *gin.Context, msg string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	s.logger.Error(msg, slog.String("path", c.Request.URL.Path), slog.String("error", err.Error()))
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

func (s *Server) questionJSON(q *model.Question, answers int64) questionJSON {
	return questionJSON{
		URL:         s.absURL("/api/v1/questions/%d", q.ID),
		Title:       q.Title,
		Body:        q.Body,
		BodyHTML:    q.BodyHTML,
		Timestamp:   q.Timestamp,
		AuthorURL:   s.absURL("/api/v1/users/%d", q.AuthorID),
		AnswersURL:  s.absURL("/api/v1/questions/%d/answers", q.ID),
		AnswerCount: answers,
	}
}

func (s *Server) answerJSON(a *model.Answer, votes, comments int64) answerJSON {
	return answerJSON{
		URL:          s.absURL("/api/v1/answers/%d", a.ID),
		Body:         a.Body,
		BodyHTML:     a.BodyHTML,
		Timestamp:    a.Timestamp,
		AuthorURL:    s.absURL("/api/v1/users/%d", a.AuthorID),
		QuestionURL:  s.absURL("/api/v1/questions/%d", a.QuestionID),
		CommentsURL:  s.absURL("/api/v1/answers/%d/comments", a.ID),
		VoteCount:    votes,
		CommentCount: comments,
	}
}

// writeQuestionPage 输出问题列表：questions / prev / next / count。
func (s *Server) writeQuestionPage(c *gin.Context, page store.Page[model.Question]) {
	counts, err := s.store.CountAnswers(c.Request.Context(), questionIDs(page.Items))
	if err != nil {
		s.apiFail(c, "count answers failed", err)
		return
	}
	items := make([]questionJSON, 0, len(page.Items))
	for i := range page.Items {
		q := &page.Items[i]
		items = append(items, s.questionJSON(q, counts[q.ID]))
	}
	prev, next := s.pageLinks(c, page.Page, page.Pages())
	c.JSON(http.StatusOK, gin.H{
		"questions": items,
		"prev":      prev,
		"next":      next,
		"count":     page.Total,
	})
}

func (s *Server) apiQuestions(c *gin.Context) {
	page, err := s.store.ListQuestions(c.Request.Context(), parseQueryInt(c, "page", 1), s.cfg.Pagination.APIQuestions)
	if err != nil {
		s.apiFail(c, "list questions failed", err)
		return
	}
	s.writeQuestionPage(c, page)
}

func (s *Server) apiQuestion(c *gin.Context) {
	id, ok := apiParamID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	q, err := s.store.GetQuestion(ctx, id)
	if err != nil {
		s.apiFail(c, "get question failed", err)
		return
	}
	counts, err := s.store.CountAnswers(ctx, []uint{q.ID})
	if err != nil {
		s.apiFail(c, "count answers failed", err)
		return
	}
	c.JSON(http.StatusOK, s.questionJSON(q, counts[q.ID]))
}

// apiCreateQuestion 发布问题，返回 201 与 Location。
func (s *Server) apiCreateQuestion(c *gin.Context) {
	var req apiQuestionRequest
	if errs := form.BindJSON(c, &req); errs.Any() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": errs})
		return
	}
	q, err := model.NewQuestion(middleware.CurrentUser(c).ID, strings.TrimSpace(req.Title), req.Body)
	if errors.Is(err, model.ErrEmptyBody) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question does not have a body"})
		return
	}
	if err != nil {
		s.apiFail(c, "new question failed", err)
		return
	}
	if err := s.store.CreateQuestion(c.Request.Context(), q); err != nil {
		s.apiFail(c, "create question failed", err)
		return
	}
	metrics.ContentCreatedTotal.WithLabelValues("question").Inc()
	body := s.questionJSON(q, 0)
	c.Header("Location", body.URL)
	c.JSON(http.StatusCreated, body)
}

// apiEditQuestion 修改问题，仅作者或管理员。
func (s *Server) apiEditQuestion(c *gin.Context) {
	id, ok := apiParamID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	q, err := s.store.GetQuestion(ctx, id)
	if err != nil {
		s.apiFail(c, "get question failed", err)
		return
	}
	if !canEdit(middleware.CurrentUser(c), q.AuthorID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
		return
	}
	var req apiQuestionRequest
	if errs := form.BindJSON(c, &req); errs.Any() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": errs})
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question does not have a body"})
		return
	}
	q.Title = strings.TrimSpace(req.Title)
	q.SetBody(req.Body)
	if err := s.store.UpdateQuestion(ctx, q); err != nil {
		s.apiFail(c, "update question failed", err)
		return
	}
	counts, err := s.store.CountAnswers(ctx, []uint{q.ID})
	if err != nil {
		s.apiFail(c, "count answers failed", err)
		return
	}
	c.JSON(http.StatusOK, s.questionJSON(q, counts[q.ID]))
}

func (s *Server) apiQuestionAnswers(c *gin.Context) {
	id, ok := apiParamID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := s.store.GetQuestion(ctx, id); err != nil {
		s.apiFail(c, "get question failed", err)
		return
	}
	page, err := s.store.QuestionAnswers(ctx, id, parseQueryInt(c, "page", 1), s.cfg.Pagination.Answers)
	if err != nil {
		s.apiFail(c, "list answers failed", err)
		return
	}
	ids := answerIDs(page.Items)
	votes, err := s.store.CountVotes(ctx, ids)
	if err != nil {
		s.apiFail(c, "count votes failed", err)
		return
	}
	comments, err := s.store.CountComments(ctx, ids)
	if err != nil {
		s.apiFail(c, "count comments failed", err)
		return
	}
	items := make([]answerJSON, 0, len(page.Items))
	for i := range page.Items {
		a := &page.Items[i]
		items = append(items, s.answerJSON(a, votes[a.ID], comments[a.ID]))
	}
	prev, next := s.pageLinks(c, page.Page, page.Pages())
	c.JSON(http.StatusOK, gin.H{
		"answers": items,
		"prev":    prev,
		"next":    next,
		"count":   page.Total,
	})
}

func (s *Server) apiAnswer(c *gin.Context) {
	id, ok := apiParamID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	a, err := s.store.GetAnswer(ctx, id)
	if err != nil {
		s.apiFail(c, "get answer failed", err)
		return
	}
	votes, err := s.store.CountVotes(ctx, []uint{a.ID})
	if err != nil {
		s.apiFail(c, "count votes failed", err)
		return
	}
	comments, err := s.store.CountComments(ctx, []uint{a.ID})
	if err != nil {
		s.apiFail(c, "count comments failed", err)
		return
	}
	c.JSON(http.StatusOK, s.answerJSON(a, votes[a.ID], comments[a.ID]))
}

// apiAnswerComments 回答下未被屏蔽的评论。
func (s *Server) apiAnswerComments(c *gin.Context) {
	id, ok := apiParamID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := s.store.GetAnswer(ctx, id); err != nil {
		s.apiFail(c, "get answer failed", err)
		return
	}
	page, err := s.store.AnswerComments(ctx, id, false, parseQueryInt(c, "page", 1), s.cfg.Pagination.Comments)
	if err != nil {
		s.apiFail(c, "list comments failed", err)
		return
	}
	items := make([]commentJSON, 0, len(page.Items))
	for _, cm := range page.Items {
		items = append(items, commentJSON{
			Body:      cm.Body,
			BodyHTML:  cm.BodyHTML,
			Timestamp: cm.Timestamp,
			AuthorURL: s.absURL("/api/v1/users/%d", cm.AuthorID),
			AnswerURL: s.absURL("/api/v1/answers/%d", cm.AnswerID),
		})
	}
	prev, next := s.pageLinks(c, page.Page, page.Pages())
	c.JSON(http.StatusOK, gin.H{
		"comments": items,
		"prev":     prev,
		"next":     next,
		"count":    page.Total,
	})
}

func (s *Server) apiUser(c *gin.Context) {
	id, ok := apiParamID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		s.apiFail(c, "get user failed", err)
		return
	}
	questions, err := s.store.UserQuestions(ctx, u.ID, 1, 1)
	if err != nil {
		s.apiFail(c, "count questions failed", err)
		return
	}
	c.JSON(http.StatusOK, userJSON{
		URL:                  s.absURL("/api/v1/users/%d", u.ID),
		Username:             u.Username,
		MemberSince:          u.MemberSince,
		LastSeen:             u.LastSeen,
		QuestionsURL:         s.absURL("/api/v1/users/%d/questions", u.ID),
		FollowedQuestionsURL: s.absURL("/api/v1/users/%d/followed-questions", u.ID),
		QuestionCount:        questions.Total,
	})
}

func (s *Server) apiUserQuestions(c *gin.Context) {
	id, ok := apiParamID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := s.store.GetUser(ctx, id); err != nil {
		s.apiFail(c, "get user failed", err)
		return
	}
	page, err := s.store.UserQuestions(ctx, id, parseQueryInt(c, "page", 1), s.cfg.Pagination.APIQuestions)
	if err != nil {
		s.apiFail(c, "list user questions failed", err)
		return
	}
	s.writeQuestionPage(c, page)
}

func (s *Server) apiFollowedQuestions(c *gin.Context) {
	id, ok := apiParamID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := s.store.GetUser(ctx, id); err != nil {
		s.apiFail(c, "get user failed", err)
		return
	}
	page, err := s.store.FollowedQuestions(ctx, id, parseQueryInt(c, "page", 1), s.cfg.Pagination.APIQuestions)
	if err != nil {
		s.apiFail(c, "list followed questions failed", err)
		return
	}
	s.writeQuestionPage(c, page)
}

// apiParamID 解析 :id，非法时返回 JSON 404。
func apiParamID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return 0, false
	}
	return uint(id), true
}
