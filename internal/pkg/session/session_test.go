package session

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func newTestRouter(t *testing.T) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	m := NewManager(rdb, Options{Lifetime: time.Hour}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	r := gin.New()
	r.Use(m.Middleware())
	r.POST("/login", func(c *gin.Context) {
		if err := From(c).Login(c, 7, c.Query("remember") == "1"); err != nil {
			c.String(http.StatusInternalServerError, err.Error())
			return
		}
		c.Status(http.StatusNoContent)
	})
	r.POST("/logout", func(c *gin.Context) {
		_ = From(c).Logout(c)
		c.Status(http.StatusNoContent)
	})
	r.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, strconv.FormatUint(uint64(From(c).UserID()), 10))
	})
	r.POST("/flash", func(c *gin.Context) {
		From(c).AddFlash(c, "info", c.Query("msg"))
		c.Status(http.StatusNoContent)
	})
	r.GET("/flashes", func(c *gin.Context) {
		var parts []string
		for _, f := range From(c).PopFlashes(c) {
			parts = append(parts, f.Message)
		}
		c.String(http.StatusOK, strings.Join(parts, ","))
	})
	return r, s
}

func do(r *gin.Engine, method, path string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, ck := range w.Result().Cookies() {
		if ck.Name == "session_id" {
			return ck
		}
	}
	t.Fatalf("no session cookie in response")
	return nil
}

func TestSession_LoginPersistsUser(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/login", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	ck := sessionCookie(t, w)
	if !ck.HttpOnly {
		t.Fatalf("session cookie must be HttpOnly")
	}

	w = do(r, http.MethodGet, "/whoami", []*http.Cookie{ck})
	if w.Body.String() != "7" {
		t.Fatalf("expected user 7, got %q", w.Body.String())
	}

	w = do(r, http.MethodPost, "/logout", []*http.Cookie{ck})
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	w = do(r, http.MethodGet, "/whoami", []*http.Cookie{ck})
	if w.Body.String() != "0" {
		t.Fatalf("expected anonymous after logout, got %q", w.Body.String())
	}
}

func TestSession_RememberSetsMaxAge(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/login?remember=1", nil)
	ck := sessionCookie(t, w)
	if ck.MaxAge <= 0 {
		t.Fatalf("expected persistent cookie, got max-age %d", ck.MaxAge)
	}
}

func TestSession_FlashesAreReadOnce(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/flash?msg=hello", nil)
	ck := sessionCookie(t, w)

	w = do(r, http.MethodGet, "/flashes", []*http.Cookie{ck})
	if w.Body.String() != "hello" {
		t.Fatalf("expected flash, got %q", w.Body.String())
	}
	w = do(r, http.MethodGet, "/flashes", []*http.Cookie{ck})
	if w.Body.String() != "" {
		t.Fatalf("expected flashes to be consumed, got %q", w.Body.String())
	}
}

func TestSession_LoginRotatesID(t *testing.T) {
	r, s := newTestRouter(t)

	w := do(r, http.MethodPost, "/flash?msg=welcome", nil)
	anon := sessionCookie(t, w)

	w = do(r, http.MethodPost, "/login", []*http.Cookie{anon})
	authed := sessionCookie(t, w)
	if authed.Value == anon.Value {
		t.Fatalf("login must issue a new session id")
	}
	if s.Exists(keyPrefix + anon.Value) {
		t.Fatalf("old session must be deleted")
	}

	w = do(r, http.MethodGet, "/flashes", []*http.Cookie{authed})
	if w.Body.String() != "welcome" {
		t.Fatalf("flashes should survive login, got %q", w.Body.String())
	}
}

func TestSession_ExpiredSessionIsAnonymous(t *testing.T) {
	r, s := newTestRouter(t)

	ck := sessionCookie(t, do(r, http.MethodPost, "/login", nil))
	s.FastForward(2 * time.Hour)

	w := do(r, http.MethodGet, "/whoami", []*http.Cookie{ck})
	if w.Body.String() != "0" {
		t.Fatalf("expected anonymous after expiry, got %q", w.Body.String())
	}
}
