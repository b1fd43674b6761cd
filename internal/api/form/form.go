// Package form 处理 HTML 表单的绑定与校验错误。
//
// 校验基于 gin 的 binding 标签（go-playground/validator），错误按表单字段名
// 转成可直接展示的中文提示。
package form

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// 用户名只能以字母开头，由字母、数字、下划线或点组成。
var usernamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.]*$`)

var registerOnce sync.Once

// Errors 字段名 → 错误提示。
type Errors map[string]string

// Add 记录字段错误，已有错误时保留第一条。
func (e Errors) Add(field, msg string) {
	if _, ok := e[field]; !ok {
		e[field] = msg
	}
}

// Any 是否存在错误。
func (e Errors) Any() bool { return len(e) > 0 }

// Setup 注册自定义校验规则并让错误使用 form 标签中的字段名，可重复调用。
func Setup() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("form"), ",", 2)[0]
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
			return usernamePattern.MatchString(fl.Field().String())
		})
	})
}

// Bind 绑定表单并返回校验错误；非校验类错误归到 "_" 字段。
func Bind(c *gin.Context, dst any) Errors {
	return bindWith(c, dst, binding.Form)
}

// BindJSON 与 Bind 相同，但读取 JSON 请求体（API 使用）。
func BindJSON(c *gin.Context, dst any) Errors {
	return bindWith(c, dst, binding.JSON)
}

func bindWith(c *gin.Context, dst any, b binding.Binding) Errors {
	Setup()
	errs := Errors{}
	if err := c.ShouldBindWith(dst, b); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			errs.Add("_", "请求格式错误。")
			return errs
		}
		for _, fe := range verrs {
			errs.Add(fe.Field(), message(fe))
		}
	}
	return errs
}

// Values 回填表单时使用的字段值（不含密码类字段）。
func Values(c *gin.Context, keys ...string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = c.PostForm(k)
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "此项为必填项。"
	case "email":
		return "邮箱格式不正确。"
	case "min":
		return fmt.Sprintf("长度不能少于 %s 个字符。", fe.Param())
	case "max":
		return fmt.Sprintf("长度不能超过 %s 个字符。", fe.Param())
	case "eqfield":
		return "两次输入的密码必须相同。"
	case "username":
		return "用户名只能包含字母、数字、点或下划线，且必须以字母开头。"
	default:
		return "输入无效。"
	}
}
