package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"askhub/internal/model"
	"askhub/internal/store/storetest"
)

type apiClient struct {
	t    *testing.T
	h    http.Handler
	auth func(*http.Request)
}

func (e *testEnv) basicClient(t *testing.T, email, password string) *apiClient {
	return &apiClient{t: t, h: e.srv.Router(), auth: func(r *http.Request) { r.SetBasicAuth(email, password) }}
}

func (e *testEnv) tokenClient(t *testing.T, token string) *apiClient {
	return &apiClient{t: t, h: e.srv.Router(), auth: func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }}
}

func (c *apiClient) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			c.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		c.auth(req)
	}
	w := httptest.NewRecorder()
	c.h.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestAPI_RequiresAuthentication(t *testing.T) {
	env := newTestEnv(t)
	c := &apiClient{t: t, h: env.srv.Router()}

	w := c.do(http.MethodGet, "/api/v1/questions", nil)
	expectStatus(t, w, http.StatusUnauthorized)
	if !strings.Contains(w.Header().Get("Content-Type"), "application/json") {
		t.Fatalf("expected json error, got %q", w.Header().Get("Content-Type"))
	}
}

func TestAPI_BadCredentials(t *testing.T) {
	env := newTestEnv(t)
	storetest.CreateUser(t, env.store, "john", "john@example.com")

	expectStatus(t, env.basicClient(t, "john@example.com", "dog").do(http.MethodGet, "/api/v1/questions", nil), http.StatusUnauthorized)
	expectStatus(t, env.tokenClient(t, "bad-token").do(http.MethodGet, "/api/v1/questions", nil), http.StatusUnauthorized)
}

func TestAPI_UnconfirmedAccount(t *testing.T) {
	env := newTestEnv(t)
	u := &model.User{Username: "john", Email: "john@example.com"}
	if err := u.SetPassword("cat"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	if err := env.store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}

	w := env.basicClient(t, "john@example.com", "cat").do(http.MethodGet, "/api/v1/questions", nil)
	expectStatus(t, w, http.StatusForbidden)
	if decodeJSON(t, w)["error"] != "unconfirmed account" {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestAPI_TokenRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	storetest.CreateUser(t, env.store, "john", "john@example.com")

	w := env.basicClient(t, "john@example.com", "cat").do(http.MethodPost, "/api/v1/tokens", nil)
	expectStatus(t, w, http.StatusOK)
	resp := decodeJSON(t, w)
	token, _ := resp["token"].(string)
	if token == "" {
		t.Fatalf("missing token in %v", resp)
	}
	if resp["expiration"].(float64) != 3600 {
		t.Fatalf("unexpected expiration %v", resp["expiration"])
	}

	tc := env.tokenClient(t, token)
	expectStatus(t, tc.do(http.MethodGet, "/api/v1/questions", nil), http.StatusOK)
	// 令牌不能用来换取新令牌
	expectStatus(t, tc.do(http.MethodPost, "/api/v1/tokens", nil), http.StatusUnauthorized)
}

func TestAPI_QuestionsLifecycle(t *testing.T) {
	env := newTestEnv(t)
	storetest.CreateUser(t, env.store, "john", "john@example.com")
	storetest.CreateUser(t, env.store, "susan", "susan@example.com")
	john := env.basicClient(t, "john@example.com", "cat")

	w := john.do(http.MethodPost, "/api/v1/questions", map[string]string{"title": "empty", "body": ""})
	expectStatus(t, w, http.StatusBadRequest)

	w = john.do(http.MethodPost, "/api/v1/questions", map[string]string{"title": "first", "body": "body of the *question*"})
	expectStatus(t, w, http.StatusCreated)
	created := decodeJSON(t, w)
	loc := w.Header().Get("Location")
	if loc == "" || loc != created["url"] {
		t.Fatalf("location %q does not match url %v", loc, created["url"])
	}
	if !strings.Contains(created["body_html"].(string), "<em>question</em>") {
		t.Fatalf("unexpected body_html %v", created["body_html"])
	}
	path := strings.TrimPrefix(loc, "http://askhub.test")

	w = john.do(http.MethodGet, path, nil)
	expectStatus(t, w, http.StatusOK)
	if decodeJSON(t, w)["title"] != "first" {
		t.Fatalf("unexpected question %s", w.Body.String())
	}

	susan := env.basicClient(t, "susan@example.com", "cat")
	expectStatus(t, susan.do(http.MethodPut, path, map[string]string{"title": "hijack", "body": "x"}), http.StatusForbidden)

	w = john.do(http.MethodPut, path, map[string]string{"title": "edited", "body": "new body"})
	expectStatus(t, w, http.StatusOK)
	if decodeJSON(t, w)["title"] != "edited" {
		t.Fatalf("question not edited: %s", w.Body.String())
	}

	expectStatus(t, john.do(http.MethodGet, "/api/v1/questions/9999", nil), http.StatusNotFound)
}

func TestAPI_QuestionsPagination(t *testing.T) {
	env := newTestEnv(t)
	storetest.CreateUser(t, env.store, "john", "john@example.com")
	c := env.basicClient(t, "john@example.com", "cat")

	for _, title := range []string{"one", "two", "three"} {
		expectStatus(t, c.do(http.MethodPost, "/api/v1/questions", map[string]string{"title": title, "body": title}), http.StatusCreated)
	}

	w := c.do(http.MethodGet, "/api/v1/questions", nil)
	expectStatus(t, w, http.StatusOK)
	page := decodeJSON(t, w)
	if page["count"].(float64) != 3 {
		t.Fatalf("expected count 3, got %v", page["count"])
	}
	if got := len(page["questions"].([]any)); got != 2 {
		t.Fatalf("expected 2 questions per page, got %d", got)
	}
	if page["prev"] != nil {
		t.Fatalf("first page must not have prev, got %v", page["prev"])
	}
	if page["next"] != "http://askhub.test/api/v1/questions?page=2" {
		t.Fatalf("unexpected next %v", page["next"])
	}

	w = c.do(http.MethodGet, "/api/v1/questions?page=2", nil)
	page = decodeJSON(t, w)
	if got := len(page["questions"].([]any)); got != 1 || page["next"] != nil {
		t.Fatalf("unexpected last page %v", page)
	}
}

func TestAPI_UserAndAnswers(t *testing.T) {
	env := newTestEnv(t)
	john := storetest.CreateUser(t, env.store, "john", "john@example.com")
	ctx := context.Background()
	q, _ := model.NewQuestion(john.ID, "title", "body")
	if err := env.store.CreateQuestion(ctx, q); err != nil {
		t.Fatalf("create question: %v", err)
	}
	a, _ := model.NewAnswer(john.ID, q.ID, "answer")
	if err := env.store.CreateAnswer(ctx, a); err != nil {
		t.Fatalf("create answer: %v", err)
	}
	if _, err := env.store.CreateVote(ctx, john.ID, a.ID); err != nil {
		t.Fatalf("vote: %v", err)
	}
	c := env.basicClient(t, "john@example.com", "cat")

	w := c.do(http.MethodGet, "/api/v1/users/"+itoa(john.ID), nil)
	expectStatus(t, w, http.StatusOK)
	u := decodeJSON(t, w)
	if u["username"] != "john" || u["question_count"].(float64) != 1 {
		t.Fatalf("unexpected user %v", u)
	}

	w = c.do(http.MethodGet, "/api/v1/users/"+itoa(john.ID)+"/followed-questions", nil)
	expectStatus(t, w, http.StatusOK)
	if decodeJSON(t, w)["count"].(float64) != 1 {
		t.Fatalf("self follow should include own question: %s", w.Body.String())
	}

	w = c.do(http.MethodGet, "/api/v1/questions/"+itoa(q.ID)+"/answers", nil)
	expectStatus(t, w, http.StatusOK)
	answers := decodeJSON(t, w)["answers"].([]any)
	if len(answers) != 1 || answers[0].(map[string]any)["vote_count"].(float64) != 1 {
		t.Fatalf("unexpected answers %v", answers)
	}

	expectStatus(t, c.do(http.MethodGet, "/api/v1/answers/"+itoa(a.ID)+"/comments", nil), http.StatusOK)
	expectStatus(t, c.do(http.MethodGet, "/api/v1/users/9999", nil), http.StatusNotFound)
}
