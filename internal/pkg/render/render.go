package render

import (
	"bytes"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// Policy 标签白名单。
type Policy int

const (
	// Block 问题正文：允许段落、列表、标题、引用与代码块。
	Block Policy = iota
	// Inline 回答与评论：只允许行内标签。
	Inline
)

var (
	markdown = goldmark.New(
		goldmark.WithExtensions(extension.Linkify),
		goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
	)

	blockPolicy  = newPolicy("a", "abbr", "acronym", "b", "blockquote", "code", "em", "i", "li", "ol", "pre", "strong", "ul", "h1", "h2", "h3", "p")
	inlinePolicy = newPolicy("a", "abbr", "acronym", "b", "code", "em", "i", "strong")
)

func newPolicy(tags ...string) *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(tags...)
	p.AllowAttrs("href", "title").OnElements("a")
	p.AllowAttrs("title").OnElements("abbr", "acronym")
	p.AllowStandardURLs()
	p.RequireNoFollowOnLinks(true)
	return p
}

// Render 将 Markdown 正文转换为经过白名单过滤的 HTML。
//
// 纯函数：相同输入总是得到相同输出。裸 URL 会被转换为链接。
func Render(body string, policy Policy) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(body), &buf); err != nil {
		// goldmark 只在写入失败时返回错误，bytes.Buffer 不会失败
		buf.Reset()
		buf.WriteString(body)
	}

	p := inlinePolicy
	if policy == Block {
		p = blockPolicy
	}
	return strings.TrimSpace(p.Sanitize(buf.String()))
}
