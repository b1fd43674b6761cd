package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"askhub/internal/model"

	"github.com/brianvoe/gofakeit/v7"
	"gorm.io/gorm/clause"
)

// FakeOptions 假数据数量。
type FakeOptions struct {
	Users     int
	Questions int
	// 每个问题 / 回答随机生成 1..MaxPerItem 条回答、评论与投票
	MaxPerItem int
	Seed       uint64
}

// FakeResult 实际生成的数量（昵称或邮箱冲突的用户会被跳过）。
type FakeResult struct {
	Users, Questions, Answers, Comments, Votes int
}

// GenerateFake 生成开发用的假数据。
func (s *Store) GenerateFake(ctx context.Context, opts FakeOptions) (FakeResult, error) {
	if opts.MaxPerItem <= 0 {
		opts.MaxPerItem = 10
	}
	faker := gofakeit.New(opts.Seed)
	var res FakeResult

	for i := 0; i < opts.Users; i++ {
		u := &model.User{
			Email:       faker.Email(),
			Username:    fakeUsername(faker),
			Confirmed:   true,
			Name:        faker.Name(),
			Location:    faker.City(),
			AboutMe:     faker.Sentence(12),
			MemberSince: faker.DateRange(time.Now().AddDate(-2, 0, 0), time.Now()).UTC(),
		}
		if err := u.SetPassword(faker.Word()); err != nil {
			return res, err
		}
		err := s.CreateUser(ctx, u)
		if errors.Is(err, ErrEmailTaken) || errors.Is(err, ErrUsernameTaken) {
			continue
		}
		if err != nil {
			return res, err
		}
		res.Users++
	}

	var userIDs []uint
	if err := s.db.WithContext(ctx).Model(&model.User{}).Pluck("id", &userIDs).Error; err != nil {
		return res, fmt.Errorf("list users: %w", err)
	}
	if len(userIDs) == 0 {
		return res, nil
	}
	pick := func() uint { return userIDs[faker.IntN(len(userIDs))] }
	past := func() time.Time { return faker.DateRange(time.Now().AddDate(-1, 0, 0), time.Now()).UTC() }

	for i := 0; i < opts.Questions; i++ {
		q, err := model.NewQuestion(pick(), faker.Sentence(8), faker.Paragraph(2, 3, 12, " "))
		if err != nil {
			return res, err
		}
		q.Timestamp = past()
		if err := s.CreateQuestion(ctx, q); err != nil {
			return res, err
		}
		res.Questions++

		for j := 0; j < 1+faker.IntN(opts.MaxPerItem); j++ {
			a, err := model.NewAnswer(pick(), q.ID, faker.Sentence(20))
			if err != nil {
				return res, err
			}
			a.Timestamp = past()
			if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(a).Error; err != nil {
				return res, fmt.Errorf("create answer: %w", err)
			}
			res.Answers++

			for k := 0; k < faker.IntN(opts.MaxPerItem); k++ {
				c, err := model.NewComment(pick(), a.ID, faker.Sentence(10))
				if err != nil {
					return res, err
				}
				c.Timestamp = past()
				if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(c).Error; err != nil {
					return res, fmt.Errorf("create comment: %w", err)
				}
				res.Comments++
			}
			for k := 0; k < faker.IntN(opts.MaxPerItem); k++ {
				v := &model.Vote{AuthorID: pick(), AnswerID: a.ID, Timestamp: past()}
				if err := s.db.WithContext(ctx).Create(v).Error; err != nil {
					return res, fmt.Errorf("create vote: %w", err)
				}
				res.Votes++
			}
		}
	}
	return res, nil
}

// fakeUsername 生成符合昵称规则的用户名：字母开头，4-64 位。
func fakeUsername(faker *gofakeit.Faker) string {
	name := faker.Username()
	clean := make([]rune, 0, len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '.' {
			clean = append(clean, r)
		}
	}
	if len(clean) == 0 || !((clean[0] >= 'a' && clean[0] <= 'z') || (clean[0] >= 'A' && clean[0] <= 'Z')) {
		clean = append([]rune("u"), clean...)
	}
	for len(clean) < 4 {
		clean = append(clean, rune('0'+faker.IntN(10)))
	}
	if len(clean) > 64 {
		clean = clean[:64]
	}
	return string(clean)
}
