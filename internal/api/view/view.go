// Package view 负责 HTML 页面渲染。
//
// 每个页面模板与 templates/layout 下的公共模板一起解析为独立的 *template.Template，
// 入口统一为 "layout"。Renderer 实现 gin 的 render.HTMLRender，通过 c.HTML 使用。
package view

import (
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"

	"askhub/internal/api/middleware"
	"askhub/internal/model"
	"askhub/internal/pkg/session"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
)

const (
	layoutGlob = "templates/layout/*.html"
	pagesRoot  = "templates/pages"
)

// Renderer 按页面名保存已解析的模板。
type Renderer struct {
	templates map[string]*template.Template
}

// New 从 fsys 解析全部页面模板。
//
// 页面名为相对 templates/pages 的路径去掉扩展名，如 "index"、"auth/login"。
func New(fsys fs.FS) (*Renderer, error) {
	layouts, err := fs.Glob(fsys, layoutGlob)
	if err != nil {
		return nil, fmt.Errorf("glob layouts: %w", err)
	}
	if len(layouts) == 0 {
		return nil, fmt.Errorf("no layout templates under %s", layoutGlob)
	}

	r := &Renderer{templates: make(map[string]*template.Template)}
	err = fs.WalkDir(fsys, pagesRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".html" {
			return nil
		}
		name := strings.TrimSuffix(strings.TrimPrefix(p, pagesRoot+"/"), ".html")
		files := append(append([]string{}, layouts...), p)
		t, err := template.New(path.Base(layouts[0])).Funcs(Funcs()).ParseFS(fsys, files...)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		r.templates[name] = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Instance 实现 render.HTMLRender。
func (r *Renderer) Instance(name string, data any) render.Render {
	t, ok := r.templates[name]
	if !ok {
		panic(fmt.Sprintf("view: unknown template %q", name))
	}
	return render.HTML{Template: t, Name: "layout", Data: data}
}

// Has 模板是否存在。
func (r *Renderer) Has(name string) bool {
	_, ok := r.templates[name]
	return ok
}

// HTML 渲染页面，并注入当前用户、提示消息与权限常量。
func HTML(c *gin.Context, status int, name string, data gin.H) {
	if data == nil {
		data = gin.H{}
	}
	if _, ok := data["Form"]; !ok {
		data["Form"] = map[string]string{}
	}
	data["CurrentUser"] = middleware.CurrentUser(c)
	data["Flashes"] = session.From(c).PopFlashes(c)
	data["Perm"] = Permissions
	data["Path"] = c.Request.URL.Path
	c.HTML(status, name, data)
}

// Error 渲染错误页面。
func Error(c *gin.Context, status int) {
	HTML(c, status, "error", gin.H{
		"Title":  http.StatusText(status),
		"Status": status,
	})
}

// Permissions 模板中可用的权限常量，如 {{if can .CurrentUser .Perm.Comment}}。
var Permissions = struct {
	Follow, Comment, Write, Moderate, Admin model.Permission
}{
	Follow:   model.PermFollow,
	Comment:  model.PermComment,
	Write:    model.PermWriteArticles,
	Moderate: model.PermModerateComments,
	Admin:    model.PermAdminister,
}

// Pager 分页结果在模板中需要的方法，store.Page[T] 满足此接口。
type Pager interface {
	Pages() int
	HasPrev() bool
	HasNext() bool
	PrevNum() int
	NextNum() int
	IterPages() []int
}

// PagerView 分页导航的模板数据。
type PagerView struct {
	Pager
	Current int
	Base    string
}

// Funcs 模板函数。
func Funcs() template.FuncMap {
	return template.FuncMap{
		// 已经过 bluemonday 过滤的 HTML
		"safe": func(s string) template.HTML { return template.HTML(s) },
		"can": func(u *model.User, p model.Permission) bool {
			return u.Can(p)
		},
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.UTC().Format("2006-01-02 15:04")
		},
		"fromNow": fromNow,
		"add":     func(a, b int) int { return a + b },
		"sub":     func(a, b int) int { return a - b },
		"pager": func(p Pager, current int, base string) PagerView {
			return PagerView{Pager: p, Current: current, Base: base}
		},
		"pageURL": PageURL,
		"count": func(m map[uint]int64, id uint) int64 {
			return m[id]
		},
	}
}

// PageURL 为 base 追加 page 查询参数。
func PageURL(base string, page int) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%spage=%d", base, sep, page)
}

func fromNow(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "刚刚"
	case d < time.Hour:
		return fmt.Sprintf("%d 分钟前", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d 小时前", int(d.Hours()))
	case d < 30*24*time.Hour:
		return fmt.Sprintf("%d 天前", int(d.Hours()/24))
	default:
		return t.UTC().Format("2006-01-02")
	}
}
