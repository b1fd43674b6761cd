package notify

import (
	"fmt"
	"html"
)

const htmlLayout = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <p>Dear %s,</p>
    %s
    <p><a href="%s">%s</a></p>
    <p>This link expires in %s.</p>
    <p>Sincerely,<br/>The askhub Team</p>
    <p style="font-size: 12px; color: #6b7280;">Note: replies to this email address are not monitored.</p>
  </div>
</body>
</html>`

const textLayout = `Dear %s,

%s

%s

This link expires in %s.

Sincerely,
The askhub Team

Note: replies to this email address are not monitored.
`

// ConfirmAccount 账号确认邮件。
func ConfirmAccount(to, username, link, ttl string) Message {
	return build(to, "Confirm Your Account", "confirm", username,
		"Welcome to askhub! To confirm your account please click on the following link:", link, ttl)
}

// ResetPassword 重置密码邮件。
func ResetPassword(to, username, link, ttl string) Message {
	return build(to, "Reset Your Password", "reset", username,
		"To reset your password click on the following link:", link, ttl)
}

// ChangeEmail 修改邮箱确认邮件，发往新地址。
func ChangeEmail(to, username, link, ttl string) Message {
	return build(to, "Confirm your email address", "change_email", username,
		"To confirm your new email address click on the following link:", link, ttl)
}

func build(to, subject, kind, username, intro, link, ttl string) Message {
	return Message{
		To:      to,
		Subject: subject,
		Kind:    kind,
		HTML: fmt.Sprintf(htmlLayout,
			html.EscapeString(username),
			"<p>"+html.EscapeString(intro)+"</p>",
			html.EscapeString(link),
			html.EscapeString(link),
			ttl),
		Text: fmt.Sprintf(textLayout, username, intro, link, ttl),
	}
}
