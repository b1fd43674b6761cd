package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"askhub/internal/pkg/metrics"
	"askhub/internal/pkg/queue"
)

// AsyncMailer 将邮件交给后台 worker 发送。
//
// 请求处理函数调用 Dispatch 后立即返回，发送结果只体现在日志与指标中。
type AsyncMailer struct {
	mailer  Mailer
	queue   *queue.Queue
	logger  *slog.Logger
	limiter Limiter
}

// Limiter 控制 SMTP 发送速率，Acquire 阻塞到允许发送为止。
type Limiter interface {
	Acquire(ctx context.Context) error
}

// NewAsyncMailer 创建异步邮件投递器，q 需由调用方 Start。
func NewAsyncMailer(mailer Mailer, q *queue.Queue, logger *slog.Logger) *AsyncMailer {
	return &AsyncMailer{mailer: mailer, queue: q, logger: logger}
}

// WithLimiter 设置发送前的限流器，nil 表示不限流。
func (a *AsyncMailer) WithLimiter(l Limiter) *AsyncMailer {
	a.limiter = l
	return a
}

// Dispatch 实现 Dispatcher。
func (a *AsyncMailer) Dispatch(msg Message) bool {
	ok := a.queue.Enqueue(queue.Task{
		Name: "mail:" + msg.Kind,
		Run: func(ctx context.Context) error {
			if a.limiter != nil {
				if err := a.limiter.Acquire(ctx); err != nil {
					metrics.MailJobsTotal.WithLabelValues("throttled").Inc()
					return fmt.Errorf("wait smtp token: %w", err)
				}
			}
			err := a.mailer.Send(ctx, msg)
			switch {
			case errors.Is(err, ErrMailDisabled):
				metrics.MailJobsTotal.WithLabelValues("skipped").Inc()
				a.logger.Warn("email config missing, skip mail",
					slog.String("kind", msg.Kind), slog.String("to", msg.To))
				return nil
			case err != nil:
				metrics.MailJobsTotal.WithLabelValues("failed").Inc()
				return err
			}
			metrics.MailJobsTotal.WithLabelValues("sent").Inc()
			return nil
		},
	})
	if !ok {
		metrics.MailJobsTotal.WithLabelValues("dropped").Inc()
	}
	return ok
}
