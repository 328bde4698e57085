package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"paperscape/internal/config"

	"gopkg.in/gomail.v2"
)

const activationSubject = "Please use the link to activate your account"

// EmailNotifier 通过 SMTP 发送邮件。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
	send   func(m *gomail.Message) error
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	n := &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
	n.send = func(m *gomail.Message) error {
		d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
		return d.DialAndSend(m)
	}
	return n
}

// SendActivationLink 发送账户激活链接。
func (n *EmailNotifier) SendActivationLink(ctx context.Context, toEmail string, link string) error {
	if n.cfg == nil || n.cfg.SMTPHost == "" || n.cfg.FromEmail == "" {
		return fmt.Errorf("email config missing")
	}
	if strings.TrimSpace(toEmail) == "" {
		return fmt.Errorf("empty recipient")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", activationSubject)
	m.SetBody("text/plain", link)
	m.AddAlternative("text/html", buildActivationHTML(link))

	if err := n.send(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	if n.logger != nil {
		n.logger.Info("activation email sent", slog.String("to", toEmail))
	}
	return nil
}

func buildActivationHTML(link string) string {
	escaped := html.EscapeString(link)
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>Welcome to Paperscape</h2>
    <p>Click the link below to activate your account:</p>
    <p><a href="%s">%s</a></p>
  </div>
</body>
</html>`, escaped, escaped)
}
