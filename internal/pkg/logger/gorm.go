package logger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"askhub/internal/pkg/metrics"

	gormLogger "gorm.io/gorm/logger"
)

// GormLogger 将 gorm 的日志转发到 slog，并记录慢查询。
type GormLogger struct {
	logger        *slog.Logger
	level         gormLogger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger 创建 gorm 日志适配器。
//
// 执行时间超过 slowThreshold 的语句以 WARN 级别输出（0 表示不检测慢查询）。
func NewGormLogger(logger *slog.Logger, slowThreshold time.Duration) *GormLogger {
	return &GormLogger{
		logger:        logger,
		level:         gormLogger.Warn,
		slowThreshold: slowThreshold,
	}
}

// LogMode 实现 gormLogger.Interface。
func (l *GormLogger) LogMode(level gormLogger.LogLevel) gormLogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *GormLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormLogger.Info {
		l.logger.InfoContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormLogger.Warn {
		l.logger.WarnContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormLogger.Error {
		l.logger.ErrorContext(ctx, fmt.Sprintf(msg, args...))
	}
}

// Trace 在每条语句执行后调用。
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormLogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	switch {
	case err != nil && l.level >= gormLogger.Error && !errors.Is(err, gormLogger.ErrRecordNotFound):
		sql, rows := fc()
		l.logger.ErrorContext(ctx, "query failed",
			slog.String("sql", sql),
			slog.Int64("rows", rows),
			slog.String("duration", elapsed.String()),
			slog.String("error", err.Error()))
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= gormLogger.Warn:
		sql, rows := fc()
		metrics.SlowQueriesTotal.Inc()
		l.logger.WarnContext(ctx, "slow query",
			slog.String("sql", sql),
			slog.Int64("rows", rows),
			slog.String("duration", elapsed.String()),
			slog.String("threshold", l.slowThreshold.String()))
	case l.level >= gormLogger.Info:
		sql, rows := fc()
		l.logger.DebugContext(ctx, "query",
			slog.String("sql", sql),
			slog.Int64("rows", rows),
			slog.String("duration", elapsed.String()))
	}
}
