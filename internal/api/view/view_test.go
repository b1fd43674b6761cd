package view

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"askhub/internal/model"
	"askhub/internal/store"
	"askhub/web"

	"github.com/gin-gonic/gin"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r, err := New(web.Templates())
	if err != nil {
		t.Fatalf("parse templates: %v", err)
	}
	for _, name := range []string{"index", "question", "answer", "user", "followers", "moderate", "error", "auth/login", "auth/register"} {
		if !r.Has(name) {
			t.Fatalf("template %q not loaded", name)
		}
	}
	e := gin.New()
	e.HTMLRender = r
	return e
}

func TestRender_IndexWithPagination(t *testing.T) {
	e := newRouter(t)
	author := &model.User{ID: 1, Username: "john"}
	questions := store.Page[model.Question]{
		Items: []model.Question{
			{ID: 3, Title: "Why <b>Go</b>?", BodyHTML: "<p>because</p>", Timestamp: time.Now(), Author: author, AuthorID: 1},
		},
		Page:    2,
		PerPage: 1,
		Total:   3,
	}
	e.GET("/square", func(c *gin.Context) {
		HTML(c, http.StatusOK, "index", gin.H{
			"Questions":    questions,
			"AnswerCounts": map[uint]int64{3: 4},
			"Base":         "/square",
		})
	})

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/square", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	for _, want := range []string{"Why &lt;b&gt;Go&lt;/b&gt;?", "<p>because</p>", "4 个回答", "/square?page=1", "/square?page=3"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestRender_ErrorPage(t *testing.T) {
	e := newRouter(t)
	e.GET("/boom", func(c *gin.Context) { Error(c, http.StatusForbidden) })

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "403") {
		t.Fatalf("error page should show status, got %s", w.Body.String())
	}
}

func TestPageURL(t *testing.T) {
	if got := PageURL("/square", 2); got != "/square?page=2" {
		t.Fatalf("unexpected %q", got)
	}
	if got := PageURL("/moderate?x=1", 3); got != "/moderate?x=1&page=3" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestFromNow(t *testing.T) {
	cases := []struct {
		ago  time.Duration
		want string
	}{
		{10 * time.Second, "刚刚"},
		{5 * time.Minute, "5 分钟前"},
		{3 * time.Hour, "3 小时前"},
		{48 * time.Hour, "2 天前"},
	}
	for _, tc := range cases {
		if got := fromNow(time.Now().Add(-tc.ago)); got != tc.want {
			t.Errorf("fromNow(-%s) = %q, want %q", tc.ago, got, tc.want)
		}
	}
	if fromNow(time.Time{}) != "" {
		t.Error("zero time should render empty")
	}
}
