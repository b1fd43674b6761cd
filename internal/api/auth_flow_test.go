package api

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"askhub/internal/model"
	"askhub/internal/store/storetest"
)

var (
	resetLink       = regexp.MustCompile(`/auth/reset/([A-Za-z0-9_\-.]+)`)
	changeEmailLink = regexp.MustCompile(`/auth/change-email/([A-Za-z0-9_\-.]+)`)
)

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

func createUnconfirmed(t *testing.T, env *testEnv, username, email string) *model.User {
	t.Helper()
	u := &model.User{Username: username, Email: email}
	if err := u.SetPassword("cat"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	if err := env.store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestResendConfirmation_Throttled(t *testing.T) {
	env := newTestEnv(t)
	createUnconfirmed(t, env, "john", "john@example.com")
	b := env.browser(t)
	b.login("john@example.com", "cat")

	expectStatus(t, b.get("/auth/unconfirmed"), http.StatusOK)
	expectRedirect(t, b.get("/auth/confirm"), "/")
	if env.mailer.count() != 1 {
		t.Fatalf("expected one confirmation mail, got %d", env.mailer.count())
	}

	expectRedirect(t, b.get("/auth/confirm"), "/auth/unconfirmed")
	if env.mailer.count() != 1 {
		t.Fatalf("resend within cooldown must not send mail, got %d", env.mailer.count())
	}
	if body := b.get("/auth/unconfirmed").Body.String(); !strings.Contains(body, "秒后再试") {
		t.Fatalf("expected remaining cooldown in flash, got %q", body)
	}
}

func TestConfirm_TokenOfAnotherUser(t *testing.T) {
	env := newTestEnv(t)
	john := createUnconfirmed(t, env, "john", "john@example.com")
	createUnconfirmed(t, env, "susan", "susan@example.com")

	susan := env.browser(t)
	susan.login("susan@example.com", "cat")
	expectRedirect(t, susan.get("/auth/confirm"), "/")
	m := confirmLink.FindStringSubmatch(env.mailer.last(t).Text)
	if m == nil {
		t.Fatal("confirm link not found")
	}

	b := env.browser(t)
	b.login("john@example.com", "cat")
	expectRedirect(t, b.get("/auth/confirm/"+m[1]), "/")

	u, err := env.store.GetUser(context.Background(), john.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Confirmed {
		t.Fatal("john must not be confirmed with susan's token")
	}
}

func TestPasswordReset(t *testing.T) {
	env := newTestEnv(t)
	storetest.CreateUser(t, env.store, "john", "john@example.com")
	b := env.browser(t)

	expectRedirect(t, b.post("/auth/reset", url.Values{"email": {"nobody@example.com"}}), "/auth/login")
	if env.mailer.count() != 0 {
		t.Fatal("unknown email must not receive mail")
	}

	expectRedirect(t, b.post("/auth/reset", url.Values{"email": {"John@example.com"}}), "/auth/login")
	msg := env.mailer.last(t)
	if msg.To != "john@example.com" || msg.Kind != "reset" {
		t.Fatalf("unexpected mail %+v", msg)
	}
	m := resetLink.FindStringSubmatch(msg.Text)
	if m == nil {
		t.Fatalf("reset link not found in %q", msg.Text)
	}

	expectRedirect(t, b.post("/auth/reset", url.Values{"email": {"john@example.com"}}), "/auth/login")
	if env.mailer.count() != 1 {
		t.Fatalf("second reset within cooldown must be throttled, got %d mails", env.mailer.count())
	}

	expectRedirect(t, b.post("/auth/reset/not-a-token", url.Values{"password": {"dog"}, "password2": {"dog"}}), "/")
	expectRedirect(t, b.post("/auth/reset/"+m[1], url.Values{"password": {"dog"}, "password2": {"dog"}}), "/auth/login")

	expectStatus(t, b.post("/auth/login", url.Values{"email": {"john@example.com"}, "password": {"cat"}}), http.StatusUnauthorized)

	// 重置成功后冷却被清除
	expectRedirect(t, b.post("/auth/reset", url.Values{"email": {"john@example.com"}}), "/auth/login")
	if env.mailer.count() != 2 {
		t.Fatalf("reset after a completed reset must send mail, got %d mails", env.mailer.count())
	}
	b.login("john@example.com", "dog")
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	storetest.CreateUser(t, env.store, "john", "john@example.com")
	b := env.browser(t)
	b.login("john@example.com", "cat")

	w := b.post("/auth/change-password", url.Values{"old_password": {"wrong"}, "password": {"dog"}, "password2": {"dog"}})
	expectStatus(t, w, http.StatusBadRequest)

	expectRedirect(t, b.post("/auth/change-password", url.Values{"old_password": {"cat"}, "password": {"dog"}, "password2": {"dog"}}), "/")
	if _, err := env.store.Authenticate(context.Background(), "john@example.com", "dog"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

func TestChangeEmail(t *testing.T) {
	env := newTestEnv(t)
	john := storetest.CreateUser(t, env.store, "john", "john@example.com")
	storetest.CreateUser(t, env.store, "susan", "susan@example.com")
	b := env.browser(t)
	b.login("john@example.com", "cat")

	expectStatus(t, b.post("/auth/change-email", url.Values{"email": {"new@example.com"}, "password": {"dog"}}), http.StatusBadRequest)
	expectStatus(t, b.post("/auth/change-email", url.Values{"email": {"susan@example.com"}, "password": {"cat"}}), http.StatusBadRequest)
	if env.mailer.count() != 0 {
		t.Fatal("rejected requests must not send mail")
	}

	expectRedirect(t, b.post("/auth/change-email", url.Values{"email": {"New@Example.com"}, "password": {"cat"}}), "/")
	msg := env.mailer.last(t)
	if msg.To != "new@example.com" {
		t.Fatalf("mail must go to the new address, got %q", msg.To)
	}
	m := changeEmailLink.FindStringSubmatch(msg.Text)
	if m == nil {
		t.Fatalf("change email link not found in %q", msg.Text)
	}

	expectRedirect(t, b.get("/auth/change-email/"+m[1]), "/")
	u, err := env.store.GetUser(context.Background(), john.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Email != "new@example.com" {
		t.Fatalf("email not changed: %q", u.Email)
	}
}
