package notify

import (
	"context"
)

// Message 一封待发送的邮件。
type Message struct {
	To      string
	Subject string // 不含前缀，发送时由 Mailer 添加
	Kind    string // confirm / reset / change_email，仅用于日志与指标
	HTML    string
	Text    string
}

// Mailer 定义同步发送接口。
type Mailer interface {
	// Send 立即发送邮件。
	//
	// 参数:
	//   ctx: 上下文
	//   msg: 邮件内容
	Send(ctx context.Context, msg Message) error
}

// Dispatcher 定义异步投递接口。
//
// Dispatch 只负责入队，不等待发送结果；返回 false 表示邮件被丢弃。
type Dispatcher interface {
	Dispatch(msg Message) bool
}
