package store

import (
	"context"
	"fmt"
	"time"

	"askhub/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func follow(tx *gorm.DB, followerID, followedID uint) error {
	f := model.Follow{FollowerID: followerID, FollowedID: followedID, Timestamp: time.Now().UTC()}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Omit(clause.Associations).Create(&f).Error
}

// Follow 关注用户，已关注时不做任何事。
func (s *Store) Follow(ctx context.Context, followerID, followedID uint) error {
	if err := follow(s.db.WithContext(ctx), followerID, followedID); err != nil {
		return fmt.Errorf("follow: %w", err)
	}
	return nil
}

// Unfollow 取消关注，不存在时不做任何事。
//
// 不阻止用户取消对自己的关注。
func (s *Store) Unfollow(ctx context.Context, followerID, followedID uint) error {
	err := s.db.WithContext(ctx).
		Where("follower_id = ? AND followed_id = ?", followerID, followedID).
		Delete(&model.Follow{}).Error
	if err != nil {
		return fmt.Errorf("unfollow: %w", err)
	}
	return nil
}

// IsFollowing a 是否关注了 b。
func (s *Store) IsFollowing(ctx context.Context, a, b uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Follow{}).
		Where("follower_id = ? AND followed_id = ?", a, b).
		Count(&count).Error
	return count > 0, err
}

// IsFollowedBy a 是否被 b 关注。
func (s *Store) IsFollowedBy(ctx context.Context, a, b uint) (bool, error) {
	return s.IsFollowing(ctx, b, a)
}

// Followers 关注 userID 的用户，按关注时间倒序，Follower 已加载。
func (s *Store) Followers(ctx context.Context, userID uint, page, perPage int) (Page[model.Follow], error) {
	q := s.db.WithContext(ctx).Model(&model.Follow{}).
		Where("followed_id = ?", userID).
		Order(newestFirst(""))
	return Paginate[model.Follow](q, page, perPage, "Follower")
}

// Followed userID 关注的用户，按关注时间倒序，Followed 已加载。
func (s *Store) Followed(ctx context.Context, userID uint, page, perPage int) (Page[model.Follow], error) {
	q := s.db.WithContext(ctx).Model(&model.Follow{}).
		Where("follower_id = ?", userID).
		Order(newestFirst(""))
	return Paginate[model.Follow](q, page, perPage, "Followed")
}

// FollowCounts 返回粉丝数与关注数，均包含自关注。
func (s *Store) FollowCounts(ctx context.Context, userID uint) (followers, following int64, err error) {
	db := s.db.WithContext(ctx).Model(&model.Follow{})
	if err = db.Session(&gorm.Session{}).Where("followed_id = ?", userID).Count(&followers).Error; err != nil {
		return 0, 0, err
	}
	if err = db.Session(&gorm.Session{}).Where("follower_id = ?", userID).Count(&following).Error; err != nil {
		return 0, 0, err
	}
	return followers, following, nil
}

// AddSelfFollows 为缺少自关注的用户补齐关系，返回修复数量。
func (s *Store) AddSelfFollows(ctx context.Context) (int, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&model.User{}).
		Where("NOT EXISTS (SELECT 1 FROM follows WHERE follows.follower_id = users.id AND follows.followed_id = users.id)").
		Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("find users without self follow: %w", err)
	}
	for _, id := range ids {
		if err := s.Follow(ctx, id, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}
