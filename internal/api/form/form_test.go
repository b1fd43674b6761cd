package form

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

type signupForm struct {
	Email     string `form:"email" binding:"required,max=64,email"`
	Username  string `form:"username" binding:"required,min=4,max=64,username"`
	Password  string `form:"password" binding:"required"`
	Password2 string `form:"password2" binding:"required,eqfield=Password"`
}

func bindForm(t *testing.T, values url.Values, dst any) Errors {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.Request = req
	return Bind(c, dst)
}

func TestBind_Valid(t *testing.T) {
	var f signupForm
	errs := bindForm(t, url.Values{
		"email":     {"john@example.com"},
		"username":  {"john.doe_1"},
		"password":  {"cat"},
		"password2": {"cat"},
	}, &f)
	if errs.Any() {
		t.Fatalf("unexpected errors %v", errs)
	}
	if f.Username != "john.doe_1" {
		t.Fatalf("unexpected bind result %+v", f)
	}
}

func TestBind_FieldErrorsUseFormNames(t *testing.T) {
	cases := []struct {
		name   string
		values url.Values
		field  string
		msg    string
	}{
		{"missing email", url.Values{"username": {"john"}, "password": {"a"}, "password2": {"a"}}, "email", "此项为必填项。"},
		{"bad email", url.Values{"email": {"nope"}, "username": {"john"}, "password": {"a"}, "password2": {"a"}}, "email", "邮箱格式不正确。"},
		{"short username", url.Values{"email": {"a@b.com"}, "username": {"jo"}, "password": {"a"}, "password2": {"a"}}, "username", "长度不能少于 4 个字符。"},
		{"username starts with digit", url.Values{"email": {"a@b.com"}, "username": {"1john"}, "password": {"a"}, "password2": {"a"}}, "username", "用户名只能包含字母、数字、点或下划线，且必须以字母开头。"},
		{"password mismatch", url.Values{"email": {"a@b.com"}, "username": {"john"}, "password": {"a"}, "password2": {"b"}}, "password2", "两次输入的密码必须相同。"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var f signupForm
			errs := bindForm(t, tc.values, &f)
			if got := errs[tc.field]; got != tc.msg {
				t.Fatalf("errs[%q] = %q, want %q (all: %v)", tc.field, got, tc.msg, errs)
			}
		})
	}
}

func TestErrors_AddKeepsFirst(t *testing.T) {
	errs := Errors{}
	if errs.Any() {
		t.Fatal("empty errors should report none")
	}
	errs.Add("email", "first")
	errs.Add("email", "second")
	if errs["email"] != "first" || !errs.Any() {
		t.Fatalf("unexpected errors %v", errs)
	}
}

func TestBindJSON_Malformed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
	c.Request.Header.Set("Content-Type", "application/json")

	var dst struct {
		Title string `json:"title" binding:"required"`
	}
	errs := BindJSON(c, &dst)
	if _, ok := errs["_"]; !ok {
		t.Fatalf("expected request level error, got %v", errs)
	}
}
