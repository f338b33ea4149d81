package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lireddit/lireddit/pkg/config"
	"github.com/lireddit/lireddit/pkg/logging"
)

// Sender delivers an HTML email
type Sender interface {
	Send(ctx context.Context, to, subject, html string) error
}

// New returns an SMTP sender when a host is configured and a logging sender otherwise
func New(cfg *config.MailConfig) Sender {
	if cfg.Host == "" {
		logging.GetLogger().Warn("SMTP host not configured, emails will only be logged")
		return &LogSender{logger: logging.WithComponent("mail")}
	}
	return &SMTPSender{cfg: *cfg}
}

// LogSender writes emails to the log instead of delivering them
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a sender that logs through logger
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the message
func (s *LogSender) Send(_ context.Context, to, subject, html string) error {
	s.logger.Info("Email not delivered, no SMTP host",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("body", html),
	)
	return nil
}

// SMTPSender delivers email over SMTP, upgrading with STARTTLS when enabled
type SMTPSender struct {
	cfg config.MailConfig
}

// Send delivers one message to a single recipient
func (s *SMTPSender) Send(ctx context.Context, to, subject, html string) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	msg := buildMessage(s.cfg.From, to, subject, html)

	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to dial smtp server: %w", err)
	}
	deadline := time.Now().Add(15 * time.Second)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to start smtp session: %w", err)
	}
	defer c.Close()

	if s.cfg.TLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
				return fmt.Errorf("starttls failed: %w", err)
			}
		}
	}
	if s.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}
	if err := c.Mail(s.cfg.From); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	wc, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := wc.Write([]byte(msg)); err != nil {
		wc.Close()
		return err
	}
	if err := wc.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func buildMessage(from, to, subject, html string) string {
	var b strings.Builder
	headers := [][2]string{
		{"From", from},
		{"To", to},
		{"Subject", mime.QEncoding.Encode("utf-8", subject)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/html; charset=UTF-8"},
	}
	for _, h := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h[0], h[1])
	}
	b.WriteString("\r\n")
	b.WriteString(html)
	return b.String()
}
