package mailer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"credential-service/pkg/utils"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// ErrDeliveryFailed wraps every failure to hand a message to the relay.
var ErrDeliveryFailed = errors.New("mail delivery failed")

// Mailer delivers a single HTML message. Send makes one attempt and never retries.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// sender is the part of gomail.Dialer the mailer depends on.
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type SMTPMailer struct {
	dialer  sender
	from    string
	timeout time.Duration
	log     *zap.Logger
}

func NewSMTPMailer(config utils.EmailConfig, timeout time.Duration, log *zap.Logger) *SMTPMailer {
	dialer := gomail.NewDialer(config.Host, config.Port, config.User, config.Password)

	return newSMTPMailer(dialer, config.From, timeout, log)
}

func newSMTPMailer(dialer sender, from string, timeout time.Duration, log *zap.Logger) *SMTPMailer {
	return &SMTPMailer{
		dialer:  dialer,
		from:    from,
		timeout: timeout,
		log:     log.With(zap.String("component", "mailer")),
	}
}

// Send dials the relay and delivers the message, giving up once the
// configured timeout or ctx expires.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	if to == "" {
		return fmt.Errorf("%w: no recipient", ErrDeliveryFailed)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", htmlBody)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	// gomail has no context support; buffered so the goroutine can always finish
	done := make(chan error, 1)
	go func() {
		done <- m.dialer.DialAndSend(msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			m.log.Error("Failed to send email",
				zap.Error(err),
				zap.String("to", to),
				zap.String("subject", subject),
			)
			return fmt.Errorf("%w: send to %s: %w", ErrDeliveryFailed, to, err)
		}
	case <-ctx.Done():
		m.log.Error("Email send timed out",
			zap.Error(ctx.Err()),
			zap.String("to", to),
			zap.Duration("timeout", m.timeout),
		)
		return fmt.Errorf("%w: send to %s: %w", ErrDeliveryFailed, to, ctx.Err())
	}

	m.log.Debug("Email sent", zap.String("to", to), zap.String("subject", subject))
	return nil
}
