package store

import (
	"context"
	"fmt"
	"time"

	"askhub/internal/model"

	"gorm.io/gorm/clause"
)

// AnswerVotes 排名查询结果。
type AnswerVotes struct {
	AnswerID uint  `gorm:"column:answer_id"`
	Votes    int64 `gorm:"column:vote_count"`
}

// CreateAnswer 保存新回答，问题不存在时返回 ErrNotFound。
func (s *Store) CreateAnswer(ctx context.Context, a *model.Answer) error {
	if err := s.exists(ctx, &model.Question{}, a.QuestionID); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(a).Error; err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	return nil
}

// GetAnswer 按 ID 获取回答，Author 与 Question 已加载。
func (s *Store) GetAnswer(ctx context.Context, id uint) (*model.Answer, error) {
	var a model.Answer
	if err := s.db.WithContext(ctx).Preload("Author").Preload("Question").First(&a, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// UpdateAnswer 保存正文（含渲染结果）。
func (s *Store) UpdateAnswer(ctx context.Context, a *model.Answer) error {
	return s.db.WithContext(ctx).Model(&model.Answer{}).Where("id = ?", a.ID).Updates(map[string]interface{}{
		"body":      a.Body,
		"body_html": a.BodyHTML,
	}).Error
}

// QuestionAnswers 问题下的回答，按时间正序。
func (s *Store) QuestionAnswers(ctx context.Context, questionID uint, page, perPage int) (Page[model.Answer], error) {
	q := s.db.WithContext(ctx).Model(&model.Answer{}).
		Where("question_id = ?", questionID).
		Order(oldestFirst(""))
	return Paginate[model.Answer](q, page, perPage, "Author")
}

// UserAnswers 用户的回答，最新在前，Question 已加载。
func (s *Store) UserAnswers(ctx context.Context, userID uint, page, perPage int) (Page[model.Answer], error) {
	q := s.db.WithContext(ctx).Model(&model.Answer{}).
		Where("author_id = ?", userID).
		Order(newestFirst(""))
	return Paginate[model.Answer](q, page, perPage, "Author", "Question")
}

// TopAnswers 返回问题下得票最多的 limit 个回答。
//
// 只统计至少有一票的回答；票数相同时按回答 ID 升序。
func (s *Store) TopAnswers(ctx context.Context, questionID uint, limit int) ([]AnswerVotes, error) {
	if limit <= 0 {
		limit = 1
	}
	var rows []AnswerVotes
	err := s.db.WithContext(ctx).Model(&model.Answer{}).
		Select("answers.id AS answer_id, COUNT(votes.id) AS vote_count").
		Joins("JOIN votes ON votes.answer_id = answers.id").
		Where("answers.question_id = ?", questionID).
		Group("answers.id").
		Order("COUNT(votes.id) DESC").
		Order("answers.id ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("top answers: %w", err)
	}
	return rows, nil
}

// CreateVote 记录一次投票。同一用户可对同一回答重复投票。
func (s *Store) CreateVote(ctx context.Context, userID, answerID uint) (*model.Vote, error) {
	if err := s.exists(ctx, &model.Answer{}, answerID); err != nil {
		return nil, err
	}
	v := &model.Vote{AuthorID: userID, AnswerID: answerID, Timestamp: time.Now().UTC()}
	if err := s.db.WithContext(ctx).Create(v).Error; err != nil {
		return nil, fmt.Errorf("create vote: %w", err)
	}
	return v, nil
}

// CountVotes 统计每个回答的票数。
func (s *Store) CountVotes(ctx context.Context, answerIDs []uint) (map[uint]int64, error) {
	return countBy(s.db.WithContext(ctx).Model(&model.Vote{}), "answer_id", answerIDs)
}

// exists 检查主键为 id 的记录是否存在。
func (s *Store) exists(ctx context.Context, m interface{}, id uint) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(m).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}
