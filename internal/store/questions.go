package store

import (
	"context"
	"fmt"

	"askhub/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// newestFirst / oldestFirst 按 timestamp 列排序，列名由驱动负责转义。
func newestFirst(table string) clause.OrderByColumn {
	return clause.OrderByColumn{Column: clause.Column{Table: table, Name: "timestamp"}, Desc: true}
}

func oldestFirst(table string) clause.OrderByColumn {
	return clause.OrderByColumn{Column: clause.Column{Table: table, Name: "timestamp"}}
}

// CreateQuestion 保存新问题。
func (s *Store) CreateQuestion(ctx context.Context, q *model.Question) error {
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(q).Error; err != nil {
		return fmt.Errorf("create question: %w", err)
	}
	return nil
}

// GetQuestion 按 ID 获取问题，Author 已加载。
func (s *Store) GetQuestion(ctx context.Context, id uint) (*model.Question, error) {
	var q model.Question
	if err := s.db.WithContext(ctx).Preload("Author").First(&q, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &q, nil
}

// UpdateQuestion 保存标题与正文（含渲染结果）。
func (s *Store) UpdateQuestion(ctx context.Context, q *model.Question) error {
	return s.db.WithContext(ctx).Model(&model.Question{}).Where("id = ?", q.ID).Updates(map[string]interface{}{
		"title":     q.Title,
		"body":      q.Body,
		"body_html": q.BodyHTML,
	}).Error
}

// ListQuestions 全部问题，最新在前。
func (s *Store) ListQuestions(ctx context.Context, page, perPage int) (Page[model.Question], error) {
	q := s.db.WithContext(ctx).Model(&model.Question{}).Order(newestFirst(""))
	return Paginate[model.Question](q, page, perPage, "Author")
}

// FollowedQuestions userID 关注的用户（含自己）发布的问题，最新在前。
func (s *Store) FollowedQuestions(ctx context.Context, userID uint, page, perPage int) (Page[model.Question], error) {
	followed := s.db.WithContext(ctx).Model(&model.Follow{}).Select("followed_id").Where("follower_id = ?", userID)
	q := s.db.WithContext(ctx).Model(&model.Question{}).
		Where("author_id IN (?)", followed).
		Order(newestFirst(""))
	return Paginate[model.Question](q, page, perPage, "Author")
}

// UserQuestions 指定用户发布的问题，最新在前。
func (s *Store) UserQuestions(ctx context.Context, userID uint, page, perPage int) (Page[model.Question], error) {
	q := s.db.WithContext(ctx).Model(&model.Question{}).
		Where("author_id = ?", userID).
		Order(newestFirst(""))
	return Paginate[model.Question](q, page, perPage, "Author")
}

// HasFollowers 是否存在关注 userID 的记录（包含自关注）。
func (s *Store) HasFollowers(ctx context.Context, userID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Follow{}).Where("followed_id = ?", userID).Count(&count).Error
	return count > 0, err
}

// CountAnswers 统计每个问题的回答数。
func (s *Store) CountAnswers(ctx context.Context, questionIDs []uint) (map[uint]int64, error) {
	return countBy(s.db.WithContext(ctx).Model(&model.Answer{}), "question_id", questionIDs)
}

// countBy 对 column IN ids 分组计数。
func countBy(db *gorm.DB, column string, ids []uint) (map[uint]int64, error) {
	out := make(map[uint]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []struct {
		ID    uint
		Total int64
	}
	err := db.Select(column+" AS id, COUNT(*) AS total").
		Where(column+" IN ?", ids).
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ID] = r.Total
	}
	return out, nil
}
