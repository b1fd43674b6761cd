package model

import (
	"errors"
	"strings"
	"time"

	"askhub/internal/pkg/render"
)

// ErrEmptyBody 正文为空。
var ErrEmptyBody = errors.New("body is empty")

// Follow 表示关注关系（follower 关注 followed）。
//
// 用户创建时会关注自己，以便首页动态包含本人的内容。
type Follow struct {
	FollowerID uint      `gorm:"primaryKey;autoIncrement:false"` // 关注者
	FollowedID uint      `gorm:"primaryKey;autoIncrement:false"` // 被关注者
	Timestamp  time.Time // 关注时间

	Follower *User `gorm:"foreignKey:FollowerID"`
	Followed *User `gorm:"foreignKey:FollowedID"`
}

// Question 表示一个问题。
type Question struct {
	ID        uint      `gorm:"primaryKey"`
	Title     string    `gorm:"type:varchar(300)"`
	Body      string    `gorm:"type:text"`
	BodyHTML  string    `gorm:"column:body_html;type:text"` // 由 Body 渲染，只能经 SetBody 修改
	Timestamp time.Time `gorm:"index"`
	AuthorID  uint      `gorm:"index;not null"`

	Author *User `gorm:"foreignKey:AuthorID"`
}

// NewQuestion 创建问题，正文为空时返回 ErrEmptyBody。
func NewQuestion(authorID uint, title, body string) (*Question, error) {
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyBody
	}
	q := &Question{Title: title, AuthorID: authorID, Timestamp: time.Now().UTC()}
	q.SetBody(body)
	return q, nil
}

// SetBody 同时更新原文与渲染后的 HTML。
func (q *Question) SetBody(body string) {
	q.Body = body
	q.BodyHTML = render.Render(body, render.Block)
}

// Answer 表示对问题的回答。
type Answer struct {
	ID         uint      `gorm:"primaryKey"`
	Body       string    `gorm:"type:text"`
	BodyHTML   string    `gorm:"column:body_html;type:text"`
	Timestamp  time.Time `gorm:"index"`
	QuestionID uint      `gorm:"index;not null"`
	AuthorID   uint      `gorm:"index;not null"`

	Question *Question `gorm:"foreignKey:QuestionID"`
	Author   *User     `gorm:"foreignKey:AuthorID"`
}

// NewAnswer 创建回答。
func NewAnswer(authorID, questionID uint, body string) (*Answer, error) {
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyBody
	}
	a := &Answer{AuthorID: authorID, QuestionID: questionID, Timestamp: time.Now().UTC()}
	a.SetBody(body)
	return a, nil
}

// SetBody 同时更新原文与渲染后的 HTML（行内白名单）。
func (a *Answer) SetBody(body string) {
	a.Body = body
	a.BodyHTML = render.Render(body, render.Inline)
}

// Comment 表示回答下的评论。被屏蔽的评论不在公开列表中展示。
type Comment struct {
	ID        uint      `gorm:"primaryKey"`
	Body      string    `gorm:"type:text"`
	BodyHTML  string    `gorm:"column:body_html;type:text"`
	Timestamp time.Time `gorm:"index"`
	Disabled  bool      `gorm:"default:false"`
	AuthorID  uint      `gorm:"index;not null"`
	AnswerID  uint      `gorm:"index;not null"`

	Author *User   `gorm:"foreignKey:AuthorID"`
	Answer *Answer `gorm:"foreignKey:AnswerID"`
}

// NewComment 创建评论。
func NewComment(authorID, answerID uint, body string) (*Comment, error) {
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyBody
	}
	c := &Comment{AuthorID: authorID, AnswerID: answerID, Timestamp: time.Now().UTC()}
	c.SetBody(body)
	return c, nil
}

// SetBody 同时更新原文与渲染后的 HTML（行内白名单）。
func (c *Comment) SetBody(body string) {
	c.Body = body
	c.BodyHTML = render.Render(body, render.Inline)
}

// Vote 表示用户对回答的一次投票。
//
// (AuthorID, AnswerID) 没有唯一约束，同一用户可以多次投票。
type Vote struct {
	ID        uint `gorm:"primaryKey"`
	Timestamp time.Time
	AnswerID  uint `gorm:"index;not null"`
	AuthorID  uint `gorm:"index;not null"`
}

// All 返回需要迁移的全部模型。
func All() []interface{} {
	return []interface{}{
		&Role{},
		&User{},
		&Follow{},
		&Question{},
		&Answer{},
		&Comment{},
		&Vote{},
	}
}
