// Package storetest 为测试提供内存 SQLite 数据库。
package storetest

import (
	"context"
	"testing"

	"askhub/internal/config"
	"askhub/internal/model"
	"askhub/internal/store"
)

// New 创建已迁移并写入预置角色的内存数据库。
func New(t testing.TB, adminEmail string) *store.Store {
	t.Helper()
	db, err := store.Open(config.DatabaseConfig{DSN: "sqlite://:memory:"}, nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	s := store.New(db, adminEmail)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := s.InsertRoles(ctx); err != nil {
		t.Fatalf("insert roles: %v", err)
	}
	return s
}

// CreateUser 创建一个已确认的用户，密码为 "cat"。
func CreateUser(t testing.TB, s *store.Store, username, email string) *model.User {
	t.Helper()
	u := &model.User{Username: username, Email: email, Confirmed: true}
	if err := u.SetPassword("cat"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}
