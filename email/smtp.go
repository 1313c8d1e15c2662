package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/turtlesoup0/itnews-sender/pkg/newsletter"
)

// SMTPProvider sends mail over SMTPS (implicit TLS, port 465). The
// original deployment used Gmail's SMTP endpoint with an app password.
type SMTPProvider struct {
	logger   *slog.Logger
	host     string
	port     int
	username string
	password string
	from     string
}

// NewSMTPProvider creates an SMTPS provider.
func NewSMTPProvider(host string, port int, username, password, from string, logger *slog.Logger) *SMTPProvider {
	return &SMTPProvider{
		logger:   logger,
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
	}
}

// Send delivers msg to a single recipient.
func (p *SMTPProvider) Send(ctx context.Context, to string, msg *newsletter.Message) error {
	raw, err := buildMIME(p.from, to, msg)
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	return retry.Do(
		func() error {
			startTime := time.Now()
			err := p.deliver(ctx, to, raw)
			duration := time.Since(startTime)

			if err != nil {
				p.logger.Warn("SMTP send failed, will retry",
					"to", to,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}

			p.logger.Info("SMTP send completed",
				"to", to,
				"subject", msg.Subject,
				"duration_ms", duration.Milliseconds())
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Info("Retrying SMTP send after error", "attempt", n, "error", err)
		}),
	)
}

func (p *SMTPProvider) deliver(ctx context.Context, to string, raw []byte) error {
	addr := net.JoinHostPort(p.host, fmt.Sprint(p.port))

	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	tlsConn := tls.Client(conn, &tls.Config{ServerName: p.host, MinVersion: tls.VersionTLS12})
	client, err := smtp.NewClient(tlsConn, p.host)
	if err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			p.logger.Warn("Failed to close SMTP connection", "error", closeErr)
		}
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			p.logger.Debug("SMTP close after session", "error", closeErr)
		}
	}()

	if err := client.Auth(smtp.PlainAuth("", p.username, p.password, p.host)); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := client.Mail(p.from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish message: %w", err)
	}
	return client.Quit()
}
