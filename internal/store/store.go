package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"askhub/internal/config"
	"askhub/internal/model"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// 业务层可识别的错误。
var (
	ErrNotFound           = errors.New("record not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already in use")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// Store 封装全部数据库访问。
//
// 所有关联数据都由具体的查询函数显式加载，级联删除也在对应函数中写明。
type Store struct {
	db         *gorm.DB
	adminEmail string
}

// New 使用已打开的连接创建 Store。
//
// adminEmail 注册时使用该邮箱的用户自动获得管理员角色。
func New(db *gorm.DB, adminEmail string) *Store {
	return &Store{db: db, adminEmail: strings.ToLower(strings.TrimSpace(adminEmail))}
}

// Open 按 DSN 前缀选择驱动并打开数据库连接。
//
// 支持 mysql:// / postgres:// (postgresql://) / sqlite://。
// logger 为 nil 时关闭 gorm 日志。
func Open(cfg config.DatabaseConfig, logger gormLogger.Interface) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg.DSN)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = gormLogger.Default.LogMode(gormLogger.Silent)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger,
		// 用户删除时只级联关注关系，内容保留，外键约束交给查询函数维护
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	if strings.HasPrefix(cfg.DSN, "sqlite://") {
		// SQLite 只允许单写者
		sqlDB.SetMaxOpenConns(1)
	} else {
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
	}
	return db, nil
}

func dialectorFor(dsn string) (gorm.Dialector, error) {
	switch {
	case strings.HasPrefix(dsn, "mysql://"):
		return mysql.Open(strings.TrimPrefix(dsn, "mysql://")), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return postgres.Open(dsn), nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return sqlite.Open(strings.TrimPrefix(dsn, "sqlite://")), nil
	default:
		return nil, fmt.Errorf("unsupported database dsn %q: must start with mysql://, postgres:// or sqlite://", dsn)
	}
}

// Migrate 创建或更新全部数据表。
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(model.All()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// PingDB 检查数据库连通性。
func (s *Store) PingDB(ctx context.Context) error {
	return s.db.WithContext(ctx).Exec("SELECT 1").Error
}

// Close 关闭底层连接池。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// notFound 将 gorm 的 ErrRecordNotFound 转换为 ErrNotFound。
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
