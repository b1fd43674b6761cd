package store

import (
	"context"
	"fmt"

	"askhub/internal/model"

	"gorm.io/gorm/clause"
)

// CreateComment 保存新评论，回答不存在时返回 ErrNotFound。
func (s *Store) CreateComment(ctx context.Context, c *model.Comment) error {
	if err := s.exists(ctx, &model.Answer{}, c.AnswerID); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(c).Error; err != nil {
		return fmt.Errorf("create comment: %w", err)
	}
	return nil
}

// GetComment 按 ID 获取评论。
func (s *Store) GetComment(ctx context.Context, id uint) (*model.Comment, error) {
	var c model.Comment
	if err := s.db.WithContext(ctx).Preload("Author").First(&c, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// AnswerComments 回答下的评论，按时间正序。
//
// includeDisabled 为 false 时不返回被屏蔽的评论。
func (s *Store) AnswerComments(ctx context.Context, answerID uint, includeDisabled bool, page, perPage int) (Page[model.Comment], error) {
	q := s.db.WithContext(ctx).Model(&model.Comment{}).Where("answer_id = ?", answerID)
	if !includeDisabled {
		q = q.Where("disabled = ?", false)
	}
	q = q.Order(oldestFirst(""))
	return Paginate[model.Comment](q, page, perPage, "Author")
}

// ModerationComments 管理面板使用的全部评论（含已屏蔽），最新在前。
func (s *Store) ModerationComments(ctx context.Context, page, perPage int) (Page[model.Comment], error) {
	q := s.db.WithContext(ctx).Model(&model.Comment{}).Order(newestFirst(""))
	return Paginate[model.Comment](q, page, perPage, "Author", "Answer")
}

// SetCommentDisabled 屏蔽或恢复评论。
func (s *Store) SetCommentDisabled(ctx context.Context, id uint, disabled bool) error {
	res := s.db.WithContext(ctx).Model(&model.Comment{}).Where("id = ?", id).Update("disabled", disabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// 值未变化时部分驱动返回 0，需再确认记录是否存在
		return s.exists(ctx, &model.Comment{}, id)
	}
	return nil
}

// CountComments 统计每个回答下未屏蔽的评论数。
func (s *Store) CountComments(ctx context.Context, answerIDs []uint) (map[uint]int64, error) {
	return countBy(s.db.WithContext(ctx).Model(&model.Comment{}).Where("disabled = ?", false), "answer_id", answerIDs)
}
