package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrClosed 队列已关闭。
var ErrClosed = errors.New("queue is closed")

// Task 表示一个可执行的后台任务。
//
// Name 仅用于日志，Run 在 worker 中执行。
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// ErrorHandler 任务失败时的回调函数。
type ErrorHandler func(err error, task Task)

// Options 队列参数。
type Options struct {
	Workers  int           // worker 数量（至少为 1）
	Capacity int           // 队列容量（至少为 1）
	Timeout  time.Duration // 单个任务的超时时间，0 表示不限制
	Depth    prometheus.Gauge
}

// Queue 是一个带固定 worker 池的内存任务队列。
//
// 入队永不阻塞调用方：队列满时任务被丢弃并计数。
// 任务执行失败不会重试，交给 ErrorHandler 或记录告警日志。
type Queue struct {
	logger       *slog.Logger
	opts         Options
	tasks        chan Task
	errorHandler ErrorHandler

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed atomic.Bool

	stats queueStats
}

type queueStats struct {
	enqueued  atomic.Int64
	processed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64
}

// Stats 队列统计信息快照。
type Stats struct {
	Enqueued  int64 // 总入队任务数
	Processed int64 // 总处理完成数
	Succeeded int64 // 成功任务数
	Failed    int64 // 失败任务数
	Dropped   int64 // 丢弃任务数（队列满或已关闭）
	Panics    int64 // Panic 次数
}

// New 创建一个新的任务队列。
//
// 参数:
//   - logger: 日志记录器
//   - opts: worker 数、容量、超时与深度指标
//
// 返回值:
//   - *Queue: 队列实例，调用 Start 后开始消费
func New(logger *slog.Logger, opts Options) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Capacity <= 0 {
		opts.Capacity = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		logger: logger,
		opts:   opts,
		tasks:  make(chan Task, opts.Capacity),
	}
}

// SetErrorHandler 设置错误处理回调函数，设置后由它代替默认的告警日志。
func (q *Queue) SetErrorHandler(handler ErrorHandler) {
	q.errorHandler = handler
}

// Start 启动 worker 池，直到 ctx 被取消或调用 Shutdown。
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			q.logger.Debug("worker stopped", slog.Int("worker_id", id))
			return
		case task, ok := <-q.tasks:
			if !ok {
				return
			}
			q.observeDepth()
			q.execute(ctx, task, id)
		}
	}
}

func (q *Queue) execute(ctx context.Context, task Task, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			q.stats.panics.Add(1)
			q.stats.processed.Add(1)
			q.logger.Error("task panic recovered",
				slog.String("task", task.Name),
				slog.Int("worker_id", workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	runCtx := ctx
	if q.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, q.opts.Timeout)
		defer cancel()
	}

	err := task.Run(runCtx)
	q.stats.processed.Add(1)
	if err == nil {
		q.stats.succeeded.Add(1)
		return
	}

	q.stats.failed.Add(1)
	if q.errorHandler != nil {
		q.errorHandler(err, task)
		return
	}
	q.logger.Warn("task failed",
		slog.String("task", task.Name),
		slog.Int("worker_id", workerID),
		slog.String("error", err.Error()))
}

// Enqueue 将任务放入队列（非阻塞）。
//
// 返回 false 表示任务被丢弃：队列已满、已关闭或任务为空。
func (q *Queue) Enqueue(task Task) bool {
	if task.Run == nil {
		return false
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed.Load() {
		q.stats.dropped.Add(1)
		q.logger.Warn("queue is closed, reject task", slog.String("task", task.Name))
		return false
	}

	select {
	case q.tasks <- task:
		q.stats.enqueued.Add(1)
		q.observeDepth()
		return true
	default:
		q.stats.dropped.Add(1)
		q.logger.Warn("queue full, drop task",
			slog.String("task", task.Name),
			slog.Int("capacity", cap(q.tasks)))
		return false
	}
}

// Shutdown 优雅关闭队列：拒绝新任务，处理完已入队任务后返回。
//
// 超过 timeout 仍未处理完时返回错误，剩余任务留给 worker 的 ctx 取消。
func (q *Queue) Shutdown(timeout time.Duration) error {
	q.mu.Lock()
	if !q.closed.CompareAndSwap(false, true) {
		q.mu.Unlock()
		return ErrClosed
	}
	close(q.tasks)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("queue drained", slog.Int64("processed", q.stats.processed.Load()))
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("queue shutdown timeout after %s", timeout)
	}
}

// Stats 获取队列统计信息的快照。
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:  q.stats.enqueued.Load(),
		Processed: q.stats.processed.Load(),
		Succeeded: q.stats.succeeded.Load(),
		Failed:    q.stats.failed.Load(),
		Dropped:   q.stats.dropped.Load(),
		Panics:    q.stats.panics.Load(),
	}
}

// Len 返回当前队列中待处理的任务数量。
func (q *Queue) Len() int {
	return len(q.tasks)
}

func (q *Queue) observeDepth() {
	if q.opts.Depth != nil {
		q.opts.Depth.Set(float64(len(q.tasks)))
	}
}
