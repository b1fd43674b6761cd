package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal 按路由与状态码统计的请求数。
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "askhub_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration 请求耗时分布。
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "askhub_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// MailJobsTotal 邮件任务结果: sent / failed / dropped / skipped / throttled。
	MailJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "askhub_mail_jobs_total",
		Help: "Outbound mail jobs by result.",
	}, []string{"result"})

	// MailQueueDepth 邮件队列中待发送的任务数。
	MailQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "askhub_mail_queue_depth",
		Help: "Mail jobs waiting in the queue.",
	})

	// SlowQueriesTotal 超过阈值的 SQL 语句数。
	SlowQueriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "askhub_slow_queries_total",
		Help: "SQL statements slower than the configured threshold.",
	})

	// ContentCreatedTotal 新建内容计数: question / answer / comment / vote。
	ContentCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "askhub_content_created_total",
		Help: "Content entities created by kind.",
	}, []string{"kind"})

	// AuthEventsTotal 认证事件: register / login / login_failed / confirm / confirm_failed / reset。
	AuthEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "askhub_auth_events_total",
		Help: "Authentication events by kind.",
	}, []string{"event"})

	// RateLimitedTotal 被限流拒绝的写请求数。
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "askhub_rate_limited_total",
		Help: "Write requests rejected by the per-IP limiter.",
	})

	// MailThrottleWait 邮件发送前等待 SMTP 令牌的耗时。
	MailThrottleWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "askhub_mail_throttle_wait_seconds",
		Help:    "Time mail workers waited for an SMTP send token.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	// MailThrottleTimeoutTotal 等待 SMTP 令牌超时的次数。
	MailThrottleTimeoutTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "askhub_mail_throttle_timeout_total",
		Help: "Mail jobs that gave up waiting for an SMTP send token.",
	})

	initOnce sync.Once
)

// InitMetrics 将所有指标注册到默认注册表，可重复调用。
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			MailJobsTotal,
			MailQueueDepth,
			SlowQueriesTotal,
			ContentCreatedTotal,
			AuthEventsTotal,
			RateLimitedTotal,
			MailThrottleWait,
			MailThrottleTimeoutTotal,
		)
	})
}
