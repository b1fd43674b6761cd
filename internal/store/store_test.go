package store_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"askhub/internal/model"
	"askhub/internal/store"
	"askhub/internal/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUser_DefaultRoleAndSelfFollow(t *testing.T) {
	s := storetest.New(t, "admin@example.com")
	ctx := context.Background()

	u := storetest.CreateUser(t, s, "john", "john@example.com")

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Role)
	assert.Equal(t, model.RoleUser, got.Role.Name)
	assert.True(t, got.Can(model.PermComment))
	assert.False(t, got.Can(model.PermModerateComments))

	following, err := s.IsFollowing(ctx, u.ID, u.ID)
	require.NoError(t, err)
	assert.True(t, following, "new user must follow itself")
}

func TestCreateUser_AdminEmailGetsAdministrator(t *testing.T) {
	s := storetest.New(t, "admin@example.com")

	u := storetest.CreateUser(t, s, "boss", "admin@example.com")
	got, err := s.GetUser(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdministrator, got.Role.Name)
	assert.True(t, got.IsAdministrator())
}

func TestCreateUser_AdminEmailIsCaseInsensitive(t *testing.T) {
	s := storetest.New(t, " Admin@Example.COM ")

	u := storetest.CreateUser(t, s, "boss", "admin@example.com")
	got, err := s.GetUser(context.Background(), u.ID)
	require.NoError(t, err)
	assert.True(t, got.IsAdministrator())
}

func TestCreateUser_Duplicates(t *testing.T) {
	s := storetest.New(t, "")
	ctx := context.Background()
	storetest.CreateUser(t, s, "john", "john@example.com")

	err := s.CreateUser(ctx, &model.User{Username: "other", Email: "john@example.com"})
	assert.ErrorIs(t, err, store.ErrEmailTaken)

	err = s.CreateUser(ctx, &model.User{Username: "john", Email: "other@example.com"})
	assert.ErrorIs(t, err, store.ErrUsernameTaken)
}

func TestInsertRoles_Idempotent(t *testing.T) {
	s := storetest.New(t, "")
	ctx := context.Background()
	require.NoError(t, s.InsertRoles(ctx))

	roles, err := s.Roles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 3)

	def, err := s.DefaultRole(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.RoleUser, def.Name)
	assert.Equal(t, model.Permission(0x07), def.Permissions)
}

func TestAuthenticate(t *testing.T) {
	s := storetest.New(t, "")
	ctx := context.Background()
	storetest.CreateUser(t, s, "john", "john@example.com")

	u, err := s.Authenticate(ctx, "john@example.com", "cat")
	require.NoError(t, err)
	assert.Equal(t, "john", u.Username)

	_, err = s.Authenticate(ctx, "john@example.com", "dog")
	assert.ErrorIs(t, err, store.ErrInvalidCredentials)

	_, err = s.Authenticate(ctx, "nobody@example.com", "cat")
	assert.ErrorIs(t, err, store.ErrInvalidCredentials)
}

func TestFollow_IdempotentAndUnfollow(t *testing.T) {
	s := storetest.New(t, "")
	ctx := context.Background()
	a := storetest.CreateUser(t, s, "alice", "a@example.com")
	b := storetest.CreateUser(t, s, "bobby", "b@example.com")

	require.NoError(t, s.Follow(ctx, a.ID, b.ID))
	require.NoError(t, s.Follow(ctx, a.ID, b.ID))

	followers, err := s.Followers(ctx, b.ID, 1, 20)
	require.NoError(t, err)
	// b 自己 + a
	assert.EqualValues(t, 2, followers.Total)

	ok, err := s.IsFollowedBy(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Unfollow(ctx, a.ID, b.ID))
	require.NoError(t, s.Unfollow(ctx, a.ID, b.ID))
	ok, err = s.IsFollowing(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFollowers_PreloadsUsers(t *testing.T) {
	s := storetest.New(t, "")
	ctx := context.Background()
	a := storetest.CreateUser(t, s, "alice", "a@example.com")
	b := storetest.CreateUser(t, s, "bobby", "b@example.com")
	require.NoError(t, s.Follow(ctx, a.ID, b.ID))

	page, err := s.Followed(ctx, a.ID, 1, 20)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	for _, f := range page.Items {
		require.NotNil(t, f.Followed)
	}
}

func TestAddSelfFollows_RepairsMissingEdges(t *testing.T) {
	s := storetest.New(t, "")
	ctx := context.Background()
	a := storetest.CreateUser(t, s, "alice", "a@example.com")

	// 自关注没有保护，可以被取消
	require.NoError(t, s.Unfollow(ctx, a.ID, a.ID))

	n, err := s.AddSelfFollows(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, err := s.IsFollowing(ctx, a.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeleteUser_CascadesFollows(t *testing.T) {
	s := storetest.New(t, "")
	ctx := context.Background()
	a := storetest.CreateUser(t, s, "alice", "a@example.com")
	b := storetest.CreateUser(t, s, "bobby", "b@example.com")
	require.NoError(t, s.Follow(ctx, a.ID, b.ID))
	require.NoError(t, s.Follow(ctx, b.ID, a.ID))

	require.NoError(t, s.DeleteUser(ctx, a.ID))

	_, err := s.GetUser(ctx, a.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	followers, following, err := s.FollowCounts(ctx, b.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, followers)
	assert.EqualValues(t, 1, following)

	assert.ErrorIs(t, s.DeleteUser(ctx, a.ID), store.ErrNotFound)
}

func TestChangeEmailAndUpdateAccount(t *testing.T) {
	s := storetest.New(t, "")
	ctx := context.Background()
	a := storetest.CreateUser(t, s, "alice", "a@example.com")
	storetest.CreateUser(t, s, "bobby", "b@example.com")

	assert.ErrorIs(t, s.ChangeEmail(ctx, a.ID, "b@example.com"), store.ErrEmailTaken)
	require.NoError(t, s.ChangeEmail(ctx, a.ID, "new@example.com"))

	got, err := s.GetUser(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", got.Email)

	got.Username = "bobby"
	assert.ErrorIs(t, s.UpdateAccount(ctx, got), store.ErrUsernameTaken)

	// 保持原值不算冲突
	got.Username = "alice"
	got.Location = "Paris"
	require.NoError(t, s.UpdateAccount(ctx, got))
}

func TestFeeds(t *testing.T) {
	s := storetest.New(t, "")
	ctx := context.Background()
	a := storetest.CreateUser(t, s, "alice", "a@example.com")
	b := storetest.CreateUser(t, s, "bobby", "b@example.com")
	c := storetest.CreateUser(t, s, "carol", "c@example.com")

	for _, author := range []*model.User{a, b, c} {
		q, err := model.NewQuestion(author.ID, "from "+author.Username, "body")
		require.NoError(t, err)
		require.NoError(t, s.CreateQuestion(ctx, q))
	}
	require.NoError(t, s.Follow(ctx, a.ID, b.ID))

	feed, err := s.FollowedQuestions(ctx, a.ID, 1, 20)
	require.NoError(t, err)
	require.Len(t, feed.Items, 2)
	for _, q := range feed.Items {
		assert.NotEqual(t, c.ID, q.AuthorID)
		require.NotNil(t, q.Author)
	}

	all, err := s.ListQuestions(ctx, 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 3, all.Total)
}

func TestPaginate(t *testing.T) {
	s := storetest.New(t, "")
	ctx := context.Background()
	a := storetest.CreateUser(t, s, "alice", "a@example.com")
	for i := 0; i < 5; i++ {
		q, err := model.NewQuestion(a.ID, "q", "body")
		require.NoError(t, err)
		require.NoError(t, s.CreateQuestion(ctx, q))
	}

	p, err := s.ListQuestions(ctx, 1, 2)
	require.NoError(t, err)
	assert.Len(t, p.Items, 2)
	assert.Equal(t, 3, p.Pages())
	assert.False(t, p.HasPrev())
	assert.True(t, p.HasNext())

	p, err = s.ListQuestions(ctx, store.LastPage, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Page)
	assert.Len(t, p.Items, 1)
	assert.False(t, p.HasNext())

	p, err = s.ListQuestions(ctx, 10, 2)
	require.NoError(t, err, "out of range page must not fail")
	assert.Empty(t, p.Items)
	assert.EqualValues(t, 5, p.Total)

	// 偏移量会溢出的页码
	p, err = s.ListQuestions(ctx, math.MaxInt, 20)
	require.NoError(t, err)
	assert.Empty(t, p.Items)
	assert.False(t, p.HasNext())

	p, err = s.ListQuestions(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Page)
}

func TestPage_IterPages(t *testing.T) {
	p := store.Page[int]{Page: 10, PerPage: 1, Total: 20}
	assert.Equal(t, []int{1, 2, 0, 8, 9, 10, 11, 12, 13, 14, 0, 19, 20}, p.IterPages())

	small := store.Page[int]{Page: 1, PerPage: 10, Total: 25}
	assert.Equal(t, []int{1, 2, 3}, small.IterPages())
}

func TestTopAnswers(t *testing.T) {
	s := storetest.New(t, "")
	ctx := context.Background()
	a := storetest.CreateUser(t, s, "alice", "a@example.com")
	b := storetest.CreateUser(t, s, "bobby", "b@example.com")

	q, err := model.NewQuestion(a.ID, "q", "body")
	require.NoError(t, err)
	require.NoError(t, s.CreateQuestion(ctx, q))

	answers := make([]*model.Answer, 3)
	for i := range answers {
		answers[i], err = model.NewAnswer(b.ID, q.ID, "answer")
		require.NoError(t, err)
		require.NoError(t, s.CreateAnswer(ctx, answers[i]))
	}

	// answers[1] 两票（同一用户重复投票）, answers[2] 两票, answers[0] 无票
	for _, id := range []uint{answers[1].ID, answers[1].ID, answers[2].ID, answers[2].ID} {
		_, err := s.CreateVote(ctx, a.ID, id)
		require.NoError(t, err)
	}

	top, err := s.TopAnswers(ctx, q.ID, 5)
	require.NoError(t, err)
	require.Len(t, top, 2, "answers without votes are excluded")
	assert.Equal(t, answers[1].ID, top[0].AnswerID, "ties broken by answer id")
	assert.EqualValues(t, 2, top[0].Votes)
	assert.Equal(t, answers[2].ID, top[1].AnswerID)

	top, err = s.TopAnswers(ctx, q.ID, 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)

	counts, err := s.CountVotes(ctx, []uint{answers[0].ID, answers[1].ID})
	require.NoError(t, err)
	assert.EqualValues(t, 0, counts[answers[0].ID])
	assert.EqualValues(t, 2, counts[answers[1].ID])
}

func TestCreateVote_MissingAnswer(t *testing.T) {
	s := storetest.New(t, "")
	a := storetest.CreateUser(t, s, "alice", "a@example.com")
	_, err := s.CreateVote(context.Background(), a.ID, 999)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestComments_ModerationVisibility(t *testing.T) {
	s := storetest.New(t, "")
	ctx := context.Background()
	a := storetest.CreateUser(t, s, "alice", "a@example.com")

	q, _ := model.NewQuestion(a.ID, "q", "body")
	require.NoError(t, s.CreateQuestion(ctx, q))
	ans, _ := model.NewAnswer(a.ID, q.ID, "answer")
	require.NoError(t, s.CreateAnswer(ctx, ans))

	c1, _ := model.NewComment(a.ID, ans.ID, "first")
	c2, _ := model.NewComment(a.ID, ans.ID, "second")
	require.NoError(t, s.CreateComment(ctx, c1))
	require.NoError(t, s.CreateComment(ctx, c2))

	require.NoError(t, s.SetCommentDisabled(ctx, c1.ID, true))
	// 重复设置同一个值也不应报错
	require.NoError(t, s.SetCommentDisabled(ctx, c1.ID, true))
	assert.ErrorIs(t, s.SetCommentDisabled(ctx, 999, true), store.ErrNotFound)

	public, err := s.AnswerComments(ctx, ans.ID, false, 1, 20)
	require.NoError(t, err)
	require.Len(t, public.Items, 1)
	assert.Equal(t, c2.ID, public.Items[0].ID)

	mod, err := s.ModerationComments(ctx, 1, 20)
	require.NoError(t, err)
	assert.Len(t, mod.Items, 2)

	counts, err := s.CountComments(ctx, []uint{ans.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[ans.ID])
}

func TestUpdateQuestion_RerendersBody(t *testing.T) {
	s := storetest.New(t, "")
	ctx := context.Background()
	a := storetest.CreateUser(t, s, "alice", "a@example.com")

	q, _ := model.NewQuestion(a.ID, "q", "old")
	require.NoError(t, s.CreateQuestion(ctx, q))

	q.SetBody("*new*")
	require.NoError(t, s.UpdateQuestion(ctx, q))

	got, err := s.GetQuestion(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, "*new*", got.Body)
	assert.Contains(t, got.BodyHTML, "<em>new</em>")
	require.NotNil(t, got.Author)
	assert.Equal(t, "alice", got.Author.Username)
}

func TestGenerateFake(t *testing.T) {
	s := storetest.New(t, "")
	res, err := s.GenerateFake(context.Background(), store.FakeOptions{Users: 3, Questions: 2, MaxPerItem: 2, Seed: 42})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Questions)
	assert.GreaterOrEqual(t, res.Answers, 2)

	n, err := s.AddSelfFollows(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "generated users already follow themselves")
}
