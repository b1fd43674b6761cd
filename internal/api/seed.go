package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"askhub/internal/store"
)

// SeedDemoData 启动时的数据整理。
//
// 先为缺少自关注记录的用户补齐关注关系；本地环境且数据库中没有任何用户时，
// 再生成一批演示用的假数据。
func (s *Server) SeedDemoData(ctx context.Context) error {
	repaired, err := s.store.AddSelfFollows(ctx)
	if err != nil {
		return fmt.Errorf("add self follows: %w", err)
	}
	if repaired > 0 {
		s.logger.Info("self follows repaired", slog.Int("users", repaired))
	}

	if s.cfg.App.Env != "local" {
		return nil
	}
	users, err := s.store.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if users > 0 {
		return nil
	}

	res, err := s.store.GenerateFake(ctx, store.FakeOptions{
		Users:      20,
		Questions:  60,
		MaxPerItem: 5,
		Seed:       uint64(time.Now().UnixNano()),
	})
	if err != nil {
		return fmt.Errorf("generate demo data: %w", err)
	}
	s.logger.Info("demo data generated",
		slog.Int("users", res.Users),
		slog.Int("questions", res.Questions),
		slog.Int("answers", res.Answers),
		slog.Int("comments", res.Comments),
		slog.Int("votes", res.Votes),
	)
	return nil
}
