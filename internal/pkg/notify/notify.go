package notify

import "context"

// Mailer 定义账户相关邮件的发送接口。
type Mailer interface {
	// SendActivationLink 向 toEmail 发送账户激活链接。
	SendActivationLink(ctx context.Context, toEmail string, link string) error
}
